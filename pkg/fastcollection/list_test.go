package fastcollection_test

import (
	"errors"
	"testing"
	"time"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

func Test_List_Keeps_Positions_When_Adding_At_Both_Ends_And_Inserting(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for _, step := range []func() error{
		func() error { return l.Add(b("b"), fastcollection.NoExpiry) },
		func() error { return l.AddFirst(b("a"), fastcollection.NoExpiry) },
		func() error { return l.Add(b("d"), fastcollection.NoExpiry) },
		func() error { return l.Insert(2, b("c"), fastcollection.NoExpiry) },
		func() error { return l.Insert(4, b("e"), fastcollection.NoExpiry) },
		func() error { return l.Insert(0, b("_"), fastcollection.NoExpiry) },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}

	mustValues(t, l.Values, bs("_", "a", "b", "c", "d", "e"))
	mustLen(t, l, 6)

	for i, want := range []string{"_", "a", "b", "c", "d", "e"} {
		got, err := l.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}

		if string(got) != want {
			t.Fatalf("Get(%d)=%q, want %q", i, got, want)
		}
	}
}

func Test_List_Returns_ErrIndexOutOfRange_When_Index_Is_Outside_Bounds(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	if err := l.Add(b("only"), fastcollection.NoExpiry); err != nil {
		t.Fatal(err)
	}

	checks := map[string]error{}

	_, checks["Get(1)"] = l.Get(1)
	_, checks["Get(-1)"] = l.Get(-1)
	_, checks["Remove(1)"] = l.Remove(1)
	checks["Set(1)"] = l.Set(1, b("x"), fastcollection.NoExpiry)
	checks["Insert(2)"] = l.Insert(2, b("x"), fastcollection.NoExpiry)
	checks["SetTTL(3)"] = l.SetTTL(3, time.Second)
	_, checks["GetTTL(3)"] = l.GetTTL(3)

	for name, err := range checks {
		if !errors.Is(err, fastcollection.ErrIndexOutOfRange) {
			t.Errorf("%s: err=%v, want %v", name, err, fastcollection.ErrIndexOutOfRange)
		}
	}

	mustValues(t, l.Values, bs("only"))
}

func Test_List_Set_And_Remove_Replace_And_Return_The_Element_At_Index(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for _, v := range []string{"a", "b", "c"} {
		if err := l.Add(b(v), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	if err := l.Set(1, b("B"), fastcollection.NoExpiry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := l.Remove(0)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if string(got) != "a" {
		t.Fatalf("Remove(0)=%q, want %q", got, "a")
	}

	mustValues(t, l.Values, bs("B", "c"))
}

func Test_List_End_Accessors_Report_Not_Found_When_List_Is_Empty(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for name, fn := range map[string]func() ([]byte, bool, error){
		"GetFirst":    l.GetFirst,
		"GetLast":     l.GetLast,
		"RemoveFirst": l.RemoveFirst,
		"RemoveLast":  l.RemoveLast,
	} {
		v, ok, err := fn()
		if err != nil || ok || v != nil {
			t.Errorf("%s on empty list = (%q, %v, %v), want (nil, false, nil)", name, v, ok, err)
		}
	}

	empty, err := l.IsEmpty()
	if err != nil || !empty {
		t.Fatalf("IsEmpty=(%v, %v), want (true, nil)", empty, err)
	}
}

func Test_List_End_Accessors_Take_Head_And_Tail(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for _, v := range []string{"a", "b", "c"} {
		if err := l.Add(b(v), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	first, ok, err := l.GetFirst()
	if err != nil || !ok || string(first) != "a" {
		t.Fatalf("GetFirst=(%q, %v, %v)", first, ok, err)
	}

	last, ok, err := l.RemoveLast()
	if err != nil || !ok || string(last) != "c" {
		t.Fatalf("RemoveLast=(%q, %v, %v)", last, ok, err)
	}

	first, ok, err = l.RemoveFirst()
	if err != nil || !ok || string(first) != "a" {
		t.Fatalf("RemoveFirst=(%q, %v, %v)", first, ok, err)
	}

	mustValues(t, l.Values, bs("b"))
}

func Test_List_Finds_First_And_Last_Duplicate_When_Searching_By_Value(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for _, v := range []string{"x", "dup", "y", "dup", "z"} {
		if err := l.Add(b(v), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	first, err := l.IndexOf(b("dup"))
	if err != nil || first != 1 {
		t.Fatalf("IndexOf=(%d, %v), want (1, nil)", first, err)
	}

	last, err := l.LastIndexOf(b("dup"))
	if err != nil || last != 3 {
		t.Fatalf("LastIndexOf=(%d, %v), want (3, nil)", last, err)
	}

	missing, err := l.IndexOf(b("nope"))
	if err != nil || missing != -1 {
		t.Fatalf("IndexOf(missing)=(%d, %v), want (-1, nil)", missing, err)
	}

	removed, err := l.RemoveValue(b("dup"))
	if err != nil || !removed {
		t.Fatalf("RemoveValue=(%v, %v)", removed, err)
	}

	mustValues(t, l.Values, bs("x", "y", "dup", "z"))

	ok, err := l.Contains(b("dup"))
	if err != nil || !ok {
		t.Fatalf("Contains=(%v, %v), want (true, nil)", ok, err)
	}
}

func Test_List_Skips_Expired_Elements_When_Addressing_By_Index(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := openList(t, newTestOptions(t, "list.fcl", clock))

	adds := []struct {
		v   string
		ttl time.Duration
	}{
		{"a", time.Second},
		{"b", fastcollection.NoExpiry},
		{"c", time.Second},
		{"d", time.Hour},
	}

	for _, a := range adds {
		if err := l.Add(b(a.v), a.ttl); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(2 * time.Second)

	got, err := l.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}

	if string(got) != "d" {
		t.Fatalf("Get(1)=%q, want %q", got, "d")
	}

	mustLen(t, l, 2)
	mustValues(t, l.Values, bs("b", "d"))

	ttl, err := l.GetTTL(1)
	if err != nil {
		t.Fatal(err)
	}

	if want := time.Hour - 2*time.Second; ttl != want {
		t.Fatalf("GetTTL(1)=%s, want %s", ttl, want)
	}

	ttl, err = l.GetTTL(0)
	if err != nil || ttl != fastcollection.NoExpiry {
		t.Fatalf("GetTTL(0)=(%s, %v), want NoExpiry", ttl, err)
	}
}

func Test_List_SetTTL_Expires_Element_When_TTL_Is_Zero(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := openList(t, newTestOptions(t, "list.fcl", clock))

	for _, v := range []string{"a", "b", "c"} {
		if err := l.Add(b(v), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	if err := l.SetTTL(1, 0); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}

	removed, err := l.RemoveExpired()
	if err != nil || removed != 1 {
		t.Fatalf("RemoveExpired=(%d, %v), want (1, nil)", removed, err)
	}

	removed, err = l.RemoveExpired()
	if err != nil || removed != 0 {
		t.Fatalf("second RemoveExpired=(%d, %v), want (0, nil)", removed, err)
	}

	mustValues(t, l.Values, bs("a", "c"))
}

func Test_List_ForEach_Stops_When_Callback_Returns_False(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for _, v := range []string{"a", "b", "c"} {
		if err := l.Add(b(v), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	var seen []string

	err := l.ForEach(func(v []byte) bool {
		seen = append(seen, string(v))

		return len(seen) < 2
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("ForEach saw %q, want [a b]", seen)
	}
}

func Test_List_Stores_Empty_Values_When_Added(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	if err := l.Add(nil, fastcollection.NoExpiry); err != nil {
		t.Fatalf("Add(nil): %v", err)
	}

	v, ok, err := l.GetFirst()
	if err != nil || !ok {
		t.Fatalf("GetFirst=(%q, %v, %v), want an empty value", v, ok, err)
	}

	if v == nil || len(v) != 0 {
		t.Fatalf("GetFirst value=%#v, want non-nil empty slice", v)
	}
}

func Test_List_Clear_Removes_Everything_And_Reuses_Space(t *testing.T) {
	t.Parallel()

	l := openList(t, newTestOptions(t, "list.fcl", nil))

	for i := range 100 {
		if err := l.Add(key(i), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	before, err := l.Stats()
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	mustLen(t, l, 0)

	after, err := l.Stats()
	if err != nil {
		t.Fatal(err)
	}

	if after.UsedBytes != 0 {
		t.Fatalf("UsedBytes=%d after Clear, want 0", after.UsedBytes)
	}

	if after.Highwater >= before.Highwater {
		t.Fatalf("Highwater=%d after Clear, want below %d", after.Highwater, before.Highwater)
	}
}

func Test_List_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	l, err := fastcollection.OpenList(newTestOptions(t, "list.fcl", nil))
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := l.Add(b("x"), fastcollection.NoExpiry); !errors.Is(err, fastcollection.ErrClosed) {
		t.Fatalf("Add after Close: err=%v, want %v", err, fastcollection.ErrClosed)
	}

	if _, err := l.Len(); !errors.Is(err, fastcollection.ErrClosed) {
		t.Fatalf("Len after Close: err=%v, want %v", err, fastcollection.ErrClosed)
	}
}
