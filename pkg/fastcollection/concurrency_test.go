package fastcollection_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

const (
	concurrentWorkers = 8
	perWorker         = 250
)

func workerValue(w, i int) []byte { return fmt.Appendf(nil, "w%02d-%05d", w, i) }

func Test_Stack_Pops_Every_Pushed_Value_Exactly_Once_When_Used_Concurrently(t *testing.T) {
	t.Parallel()

	opts := newTestOptions(t, "stack.fcl", nil)
	s := openStack(t, opts)

	// Half of the workers go through a second handle on the same file.
	other := openStack(t, opts)

	var pushed atomic.Int64

	var g errgroup.Group

	for w := range concurrentWorkers {
		h := s
		if w%2 == 1 {
			h = other
		}

		g.Go(func() error {
			for i := range perWorker {
				if err := h.Push(workerValue(w, i), fastcollection.NoExpiry); err != nil {
					return fmt.Errorf("push %d/%d: %w", w, i, err)
				}

				pushed.Add(1)
			}

			return nil
		})
	}

	seen := make([]map[string]bool, concurrentWorkers)

	for w := range concurrentWorkers {
		seen[w] = map[string]bool{}
		h := s
		if w%2 == 0 {
			h = other
		}

		g.Go(func() error {
			for pushed.Load() < concurrentWorkers*perWorker || !empty(h) {
				v, ok, err := h.Pop()
				if err != nil {
					return fmt.Errorf("pop: %w", err)
				}

				if ok {
					seen[w][string(v)] = true
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	all := map[string]int{}

	for _, m := range seen {
		for v := range m {
			all[v]++
		}
	}

	if len(all) != concurrentWorkers*perWorker {
		t.Fatalf("popped %d distinct values, want %d", len(all), concurrentWorkers*perWorker)
	}

	for v, n := range all {
		if n != 1 {
			t.Fatalf("value %s popped by %d workers", v, n)
		}
	}

	mustLen(t, s, 0)

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}

	if st.UsedBytes != 0 {
		t.Fatalf("UsedBytes=%d after popping everything, want 0", st.UsedBytes)
	}
}

func empty(s *fastcollection.Stack) bool {
	ok, err := s.IsEmpty()

	return err != nil || ok
}

func Test_Stack_Keeps_Live_Values_When_RemoveExpired_Races_With_Pushes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openStack(t, newTestOptions(t, "stack.fcl", clock))

	for i := range 100 {
		if err := s.Push(workerValue(99, i), time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(time.Second)

	var g errgroup.Group

	for w := range 4 {
		g.Go(func() error {
			for i := range perWorker {
				if err := s.Push(workerValue(w, i), fastcollection.NoExpiry); err != nil {
					return err
				}
			}

			return nil
		})
	}

	var removed atomic.Int64

	for range 2 {
		g.Go(func() error {
			for range 20 {
				n, err := s.RemoveExpired()
				if err != nil {
					return err
				}

				removed.Add(int64(n))
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Whatever the sweeps missed is still expired and goes now.
	n, err := s.RemoveExpired()
	if err != nil {
		t.Fatal(err)
	}

	if got := removed.Load() + int64(n); got != 100 {
		t.Fatalf("removed %d expired values in total, want 100", got)
	}

	mustLen(t, s, 4*perWorker)

	values, err := s.Values()
	if err != nil {
		t.Fatal(err)
	}

	// Each worker's pushes keep their relative order, newest first.
	last := map[byte]string{}

	for _, v := range values {
		w := v[2]
		if prev, ok := last[w]; ok && prev < string(v) {
			t.Fatalf("value %s found below %s from the same worker", v, prev)
		}

		last[w] = string(v)
	}
}

func Test_List_Counts_Every_Append_When_Writers_Run_Concurrently(t *testing.T) {
	t.Parallel()

	opts := newTestOptions(t, "list.fcl", nil)
	l := openList(t, opts)
	other := openList(t, opts)

	var g errgroup.Group

	for w := range concurrentWorkers {
		h := l
		if w%2 == 1 {
			h = other
		}

		g.Go(func() error {
			for i := range perWorker {
				if err := h.Add(workerValue(w, i), fastcollection.NoExpiry); err != nil {
					return err
				}
			}

			return nil
		})
	}

	// Readers walk the list while it grows.
	g.Go(func() error {
		for range 50 {
			if _, err := l.Values(); err != nil {
				return err
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	mustLen(t, l, concurrentWorkers*perWorker)

	values, err := other.Values()
	if err != nil {
		t.Fatal(err)
	}

	next := map[byte]int{}

	for _, v := range values {
		w := v[2]

		var gotW, gotI int
		if _, err := fmt.Sscanf(string(v), "w%02d-%05d", &gotW, &gotI); err != nil {
			t.Fatalf("bad value %q: %v", v, err)
		}

		if gotI != next[w] {
			t.Fatalf("worker %d: value %d appears where %d was expected", gotW, gotI, next[w])
		}

		next[w]++
	}
}

func Test_Map_Holds_Every_Key_When_Writers_And_Readers_Run_Concurrently(t *testing.T) {
	t.Parallel()

	opts := newTestOptions(t, "map.fcl", nil)
	opts.BucketCount = 32

	m := openMap(t, opts)

	var g errgroup.Group

	for w := range concurrentWorkers {
		g.Go(func() error {
			for i := range perWorker {
				k := workerValue(w, i)

				if err := m.Put(k, k, fastcollection.NoExpiry); err != nil {
					return err
				}

				// Overwrite every other key so replacement frees race with reads.
				if i%2 == 0 {
					if err := m.Put(k, append(k, '!'), fastcollection.NoExpiry); err != nil {
						return err
					}
				}
			}

			return nil
		})

		g.Go(func() error {
			for i := range perWorker {
				v, ok, err := m.Get(workerValue(w, i))
				if err != nil {
					return err
				}

				if ok && len(v) == 0 {
					return fmt.Errorf("Get returned an empty value for %d/%d", w, i)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	mustLen(t, m, concurrentWorkers*perWorker)

	for w := range concurrentWorkers {
		for i := range perWorker {
			k := workerValue(w, i)

			want := string(k)
			if i%2 == 0 {
				want += "!"
			}

			v, ok, err := m.Get(k)
			if err != nil || !ok || string(v) != want {
				t.Fatalf("Get(%s)=(%q, %v, %v), want %q", k, v, ok, err, want)
			}
		}
	}
}

func Test_Queue_Delivers_Each_Value_Once_When_Consumers_Compete(t *testing.T) {
	t.Parallel()

	q := openQueue(t, newTestOptions(t, "queue.fcl", nil))

	for i := range concurrentWorkers * perWorker {
		if err := q.Offer(workerValue(0, i), fastcollection.NoExpiry); err != nil {
			t.Fatal(err)
		}
	}

	var (
		g     errgroup.Group
		total atomic.Int64
	)

	for range concurrentWorkers {
		g.Go(func() error {
			prev := -1

			for {
				v, ok, err := q.Poll()
				if err != nil {
					return err
				}

				if !ok {
					return nil
				}

				var w, i int
				if _, err := fmt.Sscanf(string(v), "w%02d-%05d", &w, &i); err != nil {
					return err
				}

				// One consumer sees values in FIFO order.
				if i <= prev {
					return fmt.Errorf("polled %d after %d", i, prev)
				}

				prev = i

				total.Add(1)
			}
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if total.Load() != concurrentWorkers*perWorker {
		t.Fatalf("polled %d values, want %d", total.Load(), concurrentWorkers*perWorker)
	}
}
