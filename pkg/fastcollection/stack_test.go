package fastcollection_test

import (
	"testing"
	"time"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

func Test_Stack_Pops_In_LIFO_Order(t *testing.T) {
	t.Parallel()

	s := openStack(t, newTestOptions(t, "stack.fcl", nil))

	for _, v := range []string{"1", "2", "3"} {
		if err := s.Push(b(v), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	top, ok, err := s.Peek()
	if err != nil || !ok || string(top) != "3" {
		t.Fatalf("Peek=(%q, %v, %v), want 3", top, ok, err)
	}

	mustValues(t, s.Values, bs("3", "2", "1"))

	for _, want := range []string{"3", "2", "1"} {
		v, ok, err := s.Pop()
		if err != nil || !ok || string(v) != want {
			t.Fatalf("Pop=(%q, %v, %v), want %q", v, ok, err, want)
		}
	}

	v, ok, err := s.Pop()
	if err != nil || ok || v != nil {
		t.Fatalf("Pop on empty=(%q, %v, %v), want (nil, false, nil)", v, ok, err)
	}
}

func Test_Stack_PushAll_Puts_Last_Value_On_Top(t *testing.T) {
	t.Parallel()

	s := openStack(t, newTestOptions(t, "stack.fcl", nil))

	if err := s.Push(b("base"), fastcollection.NoExpiry); err != nil {
		t.Fatal(err)
	}

	if err := s.PushAll(bs("a", "b", "c"), fastcollection.NoExpiry); err != nil {
		t.Fatalf("PushAll: %v", err)
	}

	mustValues(t, s.Values, bs("c", "b", "a", "base"))
	mustLen(t, s, 4)

	got, err := s.PopAll(2)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || string(got[0]) != "c" || string(got[1]) != "b" {
		t.Fatalf("PopAll(2)=%q, want [c b]", got)
	}
}

func Test_Stack_Search_Returns_One_Based_Distance_From_Top(t *testing.T) {
	t.Parallel()

	s := openStack(t, newTestOptions(t, "stack.fcl", nil))

	if err := s.PushAll(bs("x", "y", "x", "z"), fastcollection.NoExpiry); err != nil {
		t.Fatal(err)
	}

	for v, want := range map[string]int{"z": 1, "x": 2, "y": 3, "nope": -1} {
		got, err := s.Search(b(v))
		if err != nil || got != want {
			t.Fatalf("Search(%q)=(%d, %v), want %d", v, got, err, want)
		}
	}

	removed, err := s.RemoveValue(b("x"))
	if err != nil || !removed {
		t.Fatalf("RemoveValue=(%v, %v)", removed, err)
	}

	mustValues(t, s.Values, bs("z", "y", "x"))

	ok, err := s.Contains(b("x"))
	if err != nil || !ok {
		t.Fatalf("Contains(x)=(%v, %v), want true", ok, err)
	}
}

func Test_Stack_Pop_Discards_Expired_Elements_On_Top(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openStack(t, newTestOptions(t, "stack.fcl", clock))

	if err := s.Push(b("keep"), fastcollection.NoExpiry); err != nil {
		t.Fatal(err)
	}

	if err := s.PushAll(bs("old-1", "old-2"), time.Second); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)

	ttl, ok, err := s.PeekTTL()
	if err != nil || !ok || ttl != fastcollection.NoExpiry {
		t.Fatalf("PeekTTL=(%s, %v, %v), want NoExpiry", ttl, ok, err)
	}

	v, ok, err := s.Pop()
	if err != nil || !ok || string(v) != "keep" {
		t.Fatalf("Pop=(%q, %v, %v), want keep", v, ok, err)
	}

	mustLen(t, s, 0)
}

func Test_Stack_RemoveExpired_Keeps_Order_Of_Live_Elements(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openStack(t, newTestOptions(t, "stack.fcl", clock))

	pushes := []struct {
		v   string
		ttl time.Duration
	}{
		{"a", fastcollection.NoExpiry},
		{"b", time.Second},
		{"c", time.Hour},
		{"d", time.Second},
		{"e", fastcollection.NoExpiry},
	}

	for _, p := range pushes {
		if err := s.Push(b(p.v), p.ttl); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.RemoveExpired()
	if err != nil || removed != 0 {
		t.Fatalf("RemoveExpired before expiry=(%d, %v), want 0", removed, err)
	}

	clock.Advance(2 * time.Second)

	removed, err = s.RemoveExpired()
	if err != nil || removed != 2 {
		t.Fatalf("RemoveExpired=(%d, %v), want 2", removed, err)
	}

	removed, err = s.RemoveExpired()
	if err != nil || removed != 0 {
		t.Fatalf("second RemoveExpired=(%d, %v), want 0", removed, err)
	}

	mustValues(t, s.Values, bs("e", "c", "a"))
	mustLen(t, s, 3)
}

func Test_Stack_Clear_Empties_Stack_And_Accepts_New_Pushes(t *testing.T) {
	t.Parallel()

	s := openStack(t, newTestOptions(t, "stack.fcl", nil))

	for i := range 50 {
		if err := s.Push(key(i), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	mustLen(t, s, 0)

	if err := s.Push(b("after"), fastcollection.NoExpiry); err != nil {
		t.Fatal(err)
	}

	mustValues(t, s.Values, bs("after"))
}
