package fastcollection_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
	"github.com/calvinalkan/fastcollection/pkg/fastcollection/model"
)

const modelSteps = 3000

var modelTTLs = []time.Duration{fastcollection.NoExpiry, fastcollection.NoExpiry, 0, time.Second, 3 * time.Second}

func randValue(rng *rand.Rand) []byte { return fmt.Appendf(nil, "v%d", rng.IntN(12)) }

func randTTL(rng *rand.Rand) time.Duration { return modelTTLs[rng.IntN(len(modelTTLs))] }

func Test_List_Matches_Model_When_Random_Operations_Are_Applied(t *testing.T) {
	t.Parallel()

	for _, seed := range []uint64{1, 2, 3} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			l := openList(t, newTestOptions(t, "list.fcl", clock))
			ref := model.NewSeq(clock.Now)
			rng := rand.New(rand.NewPCG(seed, seed))

			for step := range modelSteps {
				op := rng.IntN(14)
				n := ref.Len()

				// Indexes slightly past the end hit the out-of-range paths.
				idx := rng.IntN(n + 2)

				where := fmt.Sprintf("step %d op %d idx %d", step, op, idx)

				switch op {
				case 0, 1:
					v, ttl := randValue(rng), randTTL(rng)
					ref.PushBack(v, ttl)
					requireNoErr(t, where, l.Add(v, ttl))
				case 2:
					v, ttl := randValue(rng), randTTL(rng)
					ref.PushFront(v, ttl)
					requireNoErr(t, where, l.AddFirst(v, ttl))
				case 3:
					v, ttl := randValue(rng), randTTL(rng)
					ok := ref.Insert(idx, v, ttl)
					requireIndexErr(t, where, ok, l.Insert(idx, v, ttl))
				case 4:
					want, ok := ref.Get(idx)
					got, err := l.Get(idx)
					requireIndexErr(t, where, ok, err)
					requireBytes(t, where, want, got)
				case 5:
					v, ttl := randValue(rng), randTTL(rng)
					ok := ref.Set(idx, v, ttl)
					requireIndexErr(t, where, ok, l.Set(idx, v, ttl))
				case 6:
					want, ok := ref.Remove(idx)
					got, err := l.Remove(idx)
					requireIndexErr(t, where, ok, err)
					requireBytes(t, where, want, got)
				case 7:
					want, wantOK := ref.PopFront()
					got, ok, err := l.RemoveFirst()
					requireNoErr(t, where, err)
					requireFound(t, where, wantOK, ok)
					requireBytes(t, where, want, got)
				case 8:
					want, wantOK := ref.Back()
					got, ok, err := l.GetLast()
					requireNoErr(t, where, err)
					requireFound(t, where, wantOK, ok)
					requireBytes(t, where, want, got)
				case 9:
					v := randValue(rng)

					got, err := l.IndexOf(v)
					requireNoErr(t, where, err)

					if want := ref.IndexOf(v); got != want {
						t.Fatalf("%s: IndexOf(%s)=%d, want %d", where, v, got, want)
					}

					got, err = l.LastIndexOf(v)
					requireNoErr(t, where, err)

					if want := ref.LastIndexOf(v); got != want {
						t.Fatalf("%s: LastIndexOf(%s)=%d, want %d", where, v, got, want)
					}
				case 10:
					v := randValue(rng)
					got, err := l.RemoveValue(v)
					requireNoErr(t, where, err)
					requireFound(t, where, ref.RemoveValue(v), got)
				case 11:
					ttl := randTTL(rng)
					ok := ref.SetTTL(idx, ttl)
					requireIndexErr(t, where, ok, l.SetTTL(idx, ttl))
				case 12:
					want, ok := ref.TTL(idx)
					got, err := l.GetTTL(idx)
					requireIndexErr(t, where, ok, err)

					if ok && got != want {
						t.Fatalf("%s: GetTTL=%s, want %s", where, got, want)
					}
				case 13:
					clock.Advance(time.Duration(rng.IntN(1500)) * time.Millisecond)
				}

				if step%100 == 99 {
					compareSeq(t, where, ref, l)
				}
			}

			ref.RemoveExpired()

			if _, err := l.RemoveExpired(); err != nil {
				t.Fatal(err)
			}

			compareSeq(t, "final", ref, l)
			mustLen(t, l, ref.Len())
		})
	}
}

func Test_Map_Matches_Model_When_Random_Operations_Are_Applied(t *testing.T) {
	t.Parallel()

	for _, seed := range []uint64{1, 2, 3} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()

			opts := newTestOptions(t, "map.fcl", clock)
			opts.BucketCount = 8

			m := openMap(t, opts)
			ref := model.NewKeyed(clock.Now)
			rng := rand.New(rand.NewPCG(seed, seed^0xfc))

			for step := range modelSteps {
				op := rng.IntN(10)
				k := fmt.Appendf(nil, "k%d", rng.IntN(40))
				v, ttl := randValue(rng), randTTL(rng)

				where := fmt.Sprintf("step %d op %d key %s", step, op, k)

				switch op {
				case 0, 1:
					ref.Put(k, v, ttl)
					requireNoErr(t, where, m.Put(k, v, ttl))
				case 2:
					got, err := m.PutIfAbsent(k, v, ttl)
					requireNoErr(t, where, err)
					requireFound(t, where, ref.PutIfAbsent(k, v, ttl), got)
				case 3:
					old := randValue(rng)
					got, err := m.ReplaceIfEquals(k, old, v, ttl)
					requireNoErr(t, where, err)
					requireFound(t, where, ref.ReplaceIfEquals(k, old, v, ttl), got)
				case 4:
					want, wantOK := ref.Get(k)
					got, ok, err := m.Get(k)
					requireNoErr(t, where, err)
					requireFound(t, where, wantOK, ok)
					requireBytes(t, where, want, got)
				case 5:
					got, err := m.Remove(k)
					requireNoErr(t, where, err)
					requireFound(t, where, ref.Remove(k), got)
				case 6:
					got, err := m.SetTTL(k, ttl)
					requireNoErr(t, where, err)
					requireFound(t, where, ref.SetTTL(k, ttl), got)
				case 7:
					want, wantOK := ref.TTL(k)
					got, ok, err := m.GetTTL(k)
					requireNoErr(t, where, err)
					requireFound(t, where, wantOK, ok)

					if ok && got != want {
						t.Fatalf("%s: GetTTL=%s, want %s", where, got, want)
					}
				case 8:
					clock.Advance(time.Duration(rng.IntN(1500)) * time.Millisecond)
				case 9:
					if rng.IntN(20) == 0 {
						ref.Clear()
						requireNoErr(t, where, m.Clear())
					}
				}

				if step%100 == 99 {
					compareKeyed(t, where, ref, m)
				}
			}

			ref.RemoveExpired()

			if _, err := m.RemoveExpired(); err != nil {
				t.Fatal(err)
			}

			compareKeyed(t, "final", ref, m)
			mustLen(t, m, ref.Len())
		})
	}
}

func compareSeq(t *testing.T, where string, ref *model.Seq, l *fastcollection.List) {
	t.Helper()

	got, err := l.Values()
	if err != nil {
		t.Fatalf("%s: Values: %v", where, err)
	}

	if diff := cmp.Diff(ref.Values(), got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("%s: values mismatch (-model +list):\n%s", where, diff)
	}
}

func compareKeyed(t *testing.T, where string, ref *model.Keyed, m *fastcollection.Map) {
	t.Helper()

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("%s: Entries: %v", where, err)
	}

	var got [][2][]byte
	for _, e := range entries {
		got = append(got, [2][]byte{e.Key, e.Value})
	}

	slices.SortFunc(got, func(a, b [2][]byte) int { return bytes.Compare(a[0], b[0]) })

	if diff := cmp.Diff(ref.Entries(), got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("%s: entries mismatch (-model +map):\n%s", where, diff)
	}
}

func requireNoErr(t *testing.T, where string, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("%s: %v", where, err)
	}
}

// requireIndexErr checks that err is nil when the model accepted the index
// and ErrIndexOutOfRange when it did not.
func requireIndexErr(t *testing.T, where string, ok bool, err error) {
	t.Helper()

	if ok && err != nil {
		t.Fatalf("%s: unexpected error %v", where, err)
	}

	if !ok && !errors.Is(err, fastcollection.ErrIndexOutOfRange) {
		t.Fatalf("%s: err=%v, want %v", where, err, fastcollection.ErrIndexOutOfRange)
	}
}

func requireFound(t *testing.T, where string, want, got bool) {
	t.Helper()

	if want != got {
		t.Fatalf("%s: got %v, model says %v", where, got, want)
	}
}

func requireBytes(t *testing.T, where string, want, got []byte) {
	t.Helper()

	if !bytes.Equal(want, got) {
		t.Fatalf("%s: got %q, model says %q", where, got, want)
	}
}
