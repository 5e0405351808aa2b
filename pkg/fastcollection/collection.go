package fastcollection

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// collection is the state shared by every kind: the handle's lifecycle, its
// mapping and its counters. The kind types embed it.
type collection struct {
	mu     sync.RWMutex
	closed bool

	kind    Kind
	path    string
	buckets uint64
	m       *mapping
	log     *slog.Logger
	now     func() time.Time

	sweepEvery time.Duration
	sweeper    *sweeper

	stats counters
}

// counters are per-handle operation counts reported by Stats.
type counters struct {
	reads     atomic.Uint64
	writes    atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// lookup records the outcome of a read.
func (s *counters) lookup(found bool) {
	s.reads.Add(1)

	if found {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
}

// op is the context of one attempt at an operation. d is the mapping as it
// was when the attempt started; it stays valid until the attempt returns.
type op struct {
	m   *mapping
	d   []byte
	now int64
	st  *counters

	// Blocks unlinked by the attempt, freed once every lock is dropped.
	freed []uint64

	// Set by runExclusive: the attempt holds m.mu for writing and remaps in
	// place instead of retrying.
	exclusive bool
}

// run executes fn against the current mapping, retrying after a remap or a
// file growth. fn runs with the mapping read-locked and must be safe to
// repeat from scratch when it returns errRemap or a *growError.
func (c *collection) run(fn func(o *op) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	m := c.m
	o := op{m: m, st: &c.stats}

	for {
		m.mu.RLock()

		if m.stale() {
			m.mu.RUnlock()

			if err := m.remap(); err != nil {
				return err
			}

			continue
		}

		o.d = m.data
		o.now = c.now().UnixNano()
		o.freed = o.freed[:0]

		err := fn(&o)

		m.mu.RUnlock()

		if len(o.freed) > 0 {
			if freeErr := m.freeBlocks(o.freed); freeErr != nil {
				return freeErr
			}
		}

		var grow *growError

		switch {
		case errors.Is(err, errRemap):
			if err := m.remap(); err != nil {
				return err
			}
		case errors.As(err, &grow):
			if err := m.grow(grow.need); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// runExclusive executes fn with the mapping write-locked, which keeps every
// other operation of this process out. Used by whole-stack operations.
func (c *collection) runExclusive(fn func(o *op) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	m := c.m
	o := op{m: m, st: &c.stats, exclusive: true}

	m.mu.Lock()

	err := m.remapLocked()
	if err == nil {
		o.d = m.data
		o.now = c.now().UnixNano()
		err = fn(&o)
	}

	m.mu.Unlock()

	if len(o.freed) > 0 {
		err = errors.Join(err, m.freeBlocks(o.freed))
	}

	return err
}

// refresh remaps in place during an exclusive attempt.
func (o *op) refresh() error {
	if err := o.m.remapLocked(); err != nil {
		return err
	}

	o.d = o.m.data

	return nil
}

// lock takes the collection lock word. It fails with errRemap if the file
// grew while we waited, so that every link reachable under the lock lies
// inside the mapping.
func (o *op) lock() error {
	if err := lockWord(o.d, offCollLock); err != nil {
		return err
	}

	if !o.m.stale() {
		return nil
	}

	if o.exclusive {
		if err := o.refresh(); err != nil {
			unlockWord(o.d, offCollLock)

			return err
		}

		return nil
	}

	unlockWord(o.d, offCollLock)

	return errRemap
}

// lockWith is lock for operations that allocated nodes beforehand. On
// failure the nodes are handed back for freeing.
func (o *op) lockWith(nodes ...uint64) error {
	if err := o.lock(); err != nil {
		o.freed = append(o.freed, nodes...)

		return err
	}

	return nil
}

func (o *op) unlock() {
	unlockWord(o.d, offCollLock)
}

// modified stamps the header modification time.
func (o *op) modified() {
	storeI64(o.d, offModifiedAt, o.now)
}

// drop accounts for a node unlinked by an explicit removal.
func (o *op) drop(off uint64) {
	o.freed = append(o.freed, off)
	addI64(o.d, offCount, -1)
}

// evict accounts for an expired node unlinked by a read or a sweep.
func (o *op) evict(off uint64) {
	o.drop(off)
	o.st.evictions.Add(1)
}

func (o *op) count() int {
	return int(max(loadI64(o.d, offCount), 0))
}

// Len returns the number of stored elements. Expired elements not yet
// evicted are included.
func (c *collection) Len() (int, error) {
	var n int

	err := c.run(func(o *op) error {
		n = o.count()

		return nil
	})

	return n, err
}

// IsEmpty reports whether Len is zero.
func (c *collection) IsEmpty() (bool, error) {
	n, err := c.Len()

	return n == 0, err
}

// Path returns the file the handle was opened on.
func (c *collection) Path() string {
	return c.path
}

// Kind returns the collection kind stored in the file.
func (c *collection) Kind() Kind {
	return c.kind
}

// Flush writes modified pages back to the file.
func (c *collection) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	return c.m.flush()
}

// Close stops the sweeper, flushes and releases the mapping. The file is
// unmapped once the last handle on it in this process is closed.
//
// Close is idempotent.
func (c *collection) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	sw := c.sweeper
	c.mu.Unlock()

	if sw != nil {
		sw.stop()
	}

	flushErr := c.m.flush()
	releaseErr := releaseMapping(c.m)

	c.log.Debug("closed")

	return errors.Join(flushErr, releaseErr)
}

// startSweeper runs sweep every c.sweepEvery until Close.
func (c *collection) startSweeper(sweep func() (int, error)) {
	if c.sweepEvery <= 0 {
		return
	}

	c.sweeper = newSweeper(c.sweepEvery, sweep, c.log)
	c.sweeper.start()
}
