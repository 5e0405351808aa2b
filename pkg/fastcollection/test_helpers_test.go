package fastcollection_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// fakeClock is a manually advanced clock shared by a collection and its
// model.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// newTestOptions returns small-file options for a collection named name in
// a fresh temp dir.
func newTestOptions(tb testing.TB, name string, clock *fakeClock) fastcollection.Options {
	tb.Helper()

	opts := fastcollection.Options{
		Path:        filepath.Join(tb.TempDir(), name),
		InitialSize: 64 << 10,
		MaxSize:     64 << 20,
		BucketCount: 64,
	}

	if clock != nil {
		opts.Now = clock.Now
	}

	return opts
}

func openList(tb testing.TB, opts fastcollection.Options) *fastcollection.List {
	tb.Helper()

	l, err := fastcollection.OpenList(opts)
	if err != nil {
		tb.Fatalf("OpenList(%s): %v", opts.Path, err)
	}

	tb.Cleanup(func() { _ = l.Close() })

	return l
}

func openQueue(tb testing.TB, opts fastcollection.Options) *fastcollection.Queue {
	tb.Helper()

	q, err := fastcollection.OpenQueue(opts)
	if err != nil {
		tb.Fatalf("OpenQueue(%s): %v", opts.Path, err)
	}

	tb.Cleanup(func() { _ = q.Close() })

	return q
}

func openStack(tb testing.TB, opts fastcollection.Options) *fastcollection.Stack {
	tb.Helper()

	s, err := fastcollection.OpenStack(opts)
	if err != nil {
		tb.Fatalf("OpenStack(%s): %v", opts.Path, err)
	}

	tb.Cleanup(func() { _ = s.Close() })

	return s
}

func openSet(tb testing.TB, opts fastcollection.Options) *fastcollection.Set {
	tb.Helper()

	s, err := fastcollection.OpenSet(opts)
	if err != nil {
		tb.Fatalf("OpenSet(%s): %v", opts.Path, err)
	}

	tb.Cleanup(func() { _ = s.Close() })

	return s
}

func openMap(tb testing.TB, opts fastcollection.Options) *fastcollection.Map {
	tb.Helper()

	m, err := fastcollection.OpenMap(opts)
	if err != nil {
		tb.Fatalf("OpenMap(%s): %v", opts.Path, err)
	}

	tb.Cleanup(func() { _ = m.Close() })

	return m
}

func b(s string) []byte { return []byte(s) }

func bs(ss ...string) [][]byte {
	if len(ss) == 0 {
		return nil
	}

	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}

	return out
}

func key(i int) []byte { return fmt.Appendf(nil, "key-%05d", i) }

// mustLen fails the test unless c holds want elements.
func mustLen(tb testing.TB, c interface{ Len() (int, error) }, want int) {
	tb.Helper()

	got, err := c.Len()
	if err != nil {
		tb.Fatalf("Len: %v", err)
	}

	if got != want {
		tb.Fatalf("Len=%d, want %d", got, want)
	}
}

// mustValues fails the test unless values returns want.
func mustValues(tb testing.TB, values func() ([][]byte, error), want [][]byte) {
	tb.Helper()

	got, err := values()
	if err != nil {
		tb.Fatalf("Values: %v", err)
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		tb.Fatalf("Values mismatch (-want +got):\n%s", diff)
	}
}

// mutateFile rewrites bytes of a closed collection file.
func mutateFile(tb testing.TB, path string, mutate func([]byte)) {
	tb.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read file: %v", err)
	}

	mutate(data)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write file: %v", err)
	}
}
