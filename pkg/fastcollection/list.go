package fastcollection

import "time"

// List is a persistent doubly linked list of byte values addressed by
// position.
//
// Positions count live elements only: position-addressed methods first
// evict expired elements when any may have expired, then walk from the
// nearer end.
type List struct {
	collection
}

// OpenList opens or creates the list file described by opts.
func OpenList(opts Options) (*List, error) {
	l := &List{}

	if err := l.open(KindList, opts); err != nil {
		return nil, err
	}

	l.startSweeper(l.RemoveExpired)

	return l, nil
}

// Add appends value at the tail.
func (l *List) Add(value []byte, ttl time.Duration) error {
	return l.insert(value, ttl, func(o *op, n uint64) error {
		o.linkTail(n)

		return nil
	})
}

// AddFirst prepends value at the head.
func (l *List) AddFirst(value []byte, ttl time.Duration) error {
	return l.insert(value, ttl, func(o *op, n uint64) error {
		o.linkHead(n)

		return nil
	})
}

// Insert places value at index, shifting later elements back. index may
// equal Len to append.
func (l *List) Insert(index int, value []byte, ttl time.Duration) error {
	return l.insert(value, ttl, func(o *op, n uint64) error {
		if _, err := o.sweepChainIfDue(); err != nil {
			return err
		}

		if index == o.count() {
			o.linkTail(n)

			return nil
		}

		at, err := o.nodeAt(index)
		if err != nil {
			return err
		}

		o.linkBefore(at, n)

		return nil
	})
}

// insert allocates a node for value and links it with link under the
// collection lock. link must not modify the chain when it fails.
func (l *List) insert(value []byte, ttl time.Duration, link func(o *op, n uint64) error) error {
	if err := checkPayload("value", value); err != nil {
		return err
	}

	l.stats.writes.Add(1)

	return l.run(func(o *op) error {
		n, err := o.newNode(nil, value, 0, expiryFor(o.now, ttl))
		if err != nil {
			return err
		}

		if err := o.lockWith(n); err != nil {
			return err
		}
		defer o.unlock()

		if err := link(o, n); err != nil {
			o.freed = append(o.freed, n)

			return err
		}

		o.modified()

		return nil
	})
}

// at runs fn on the node at index under the collection lock.
func (l *List) at(index int, fn func(o *op, n uint64) error) error {
	return l.run(func(o *op) error {
		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		if _, err := o.sweepChainIfDue(); err != nil {
			return err
		}

		n, err := o.nodeAt(index)
		if err != nil {
			return err
		}

		return fn(o, n)
	})
}

// Get returns the value at index.
//
// Returns [ErrIndexOutOfRange] if index is not in [0, Len).
func (l *List) Get(index int) ([]byte, error) {
	var out []byte

	err := l.at(index, func(o *op, n uint64) error {
		out = o.valueCopy(n)

		return nil
	})

	l.stats.lookup(err == nil)

	return out, err
}

// Set replaces the value and TTL at index.
func (l *List) Set(index int, value []byte, ttl time.Duration) error {
	return l.insert(value, ttl, func(o *op, n uint64) error {
		if _, err := o.sweepChainIfDue(); err != nil {
			return err
		}

		old, err := o.nodeAt(index)
		if err != nil {
			return err
		}

		o.replaceNode(old, n)

		return nil
	})
}

// Remove deletes the element at index and returns its value.
func (l *List) Remove(index int) ([]byte, error) {
	var out []byte

	l.stats.writes.Add(1)

	err := l.at(index, func(o *op, n uint64) error {
		out = o.valueCopy(n)
		o.unlink(n)
		o.drop(n)
		o.modified()

		return nil
	})

	return out, err
}

// GetFirst returns the head value. ok is false if the list has no live
// elements.
func (l *List) GetFirst() (value []byte, ok bool, err error) {
	return l.end(false, false)
}

// GetLast returns the tail value.
func (l *List) GetLast() (value []byte, ok bool, err error) {
	return l.end(true, false)
}

// RemoveFirst removes and returns the head value.
func (l *List) RemoveFirst() (value []byte, ok bool, err error) {
	return l.end(false, true)
}

// RemoveLast removes and returns the tail value.
func (l *List) RemoveLast() (value []byte, ok bool, err error) {
	return l.end(true, true)
}

func (l *List) end(last, remove bool) ([]byte, bool, error) {
	var out []byte

	if remove {
		l.stats.writes.Add(1)
	}

	err := l.run(func(o *op) error {
		out = nil

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		return o.takeEnd(last, remove, &out)
	})

	if !remove {
		l.stats.lookup(out != nil)
	}

	return out, out != nil && err == nil, err
}

// takeEnd copies the first (or last) live value into *out, unlinking it
// when remove is set. *out stays nil if the chain is empty.
func (o *op) takeEnd(last, remove bool, out *[]byte) error {
	live := o.firstLive
	if last {
		live = o.lastLive
	}

	n, err := live()
	if err != nil || n == 0 {
		return err
	}

	*out = o.valueCopy(n)

	if remove {
		o.unlink(n)
		o.drop(n)
		o.modified()
	}

	return nil
}

// RemoveValue deletes the first element equal to value.
func (l *List) RemoveValue(value []byte) (bool, error) {
	l.stats.writes.Add(1)

	return removeChainValue(&l.collection, value)
}

// Contains reports whether a live element equals value.
func (l *List) Contains(value []byte) (bool, error) {
	i, err := l.IndexOf(value)

	return i >= 0, err
}

// IndexOf returns the position of the first element equal to value, or -1.
func (l *List) IndexOf(value []byte) (int, error) {
	return l.indexOf(value, false)
}

// LastIndexOf returns the position of the last element equal to value, or
// -1.
func (l *List) LastIndexOf(value []byte) (int, error) {
	return l.indexOf(value, true)
}

func (l *List) indexOf(value []byte, backward bool) (int, error) {
	found := -1

	err := l.run(func(o *op) error {
		found = -1

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		if _, err := o.sweepChainIfDue(); err != nil {
			return err
		}

		i := 0

		return o.scanChain(backward, func(n uint64) bool {
			if o.valueEquals(n, value) {
				found = i
				if backward {
					found = o.count() - 1 - i
				}

				return false
			}

			i++

			return true
		})
	})

	l.stats.lookup(found >= 0)

	return found, err
}

// GetTTL returns the remaining TTL of the element at index, or [NoExpiry].
func (l *List) GetTTL(index int) (time.Duration, error) {
	var ttl time.Duration

	err := l.at(index, func(o *op, n uint64) error {
		ttl = remaining(o.expiresAt(n), o.now)

		return nil
	})

	return ttl, err
}

// SetTTL replaces the TTL of the element at index.
func (l *List) SetTTL(index int, ttl time.Duration) error {
	l.stats.writes.Add(1)

	return l.at(index, func(o *op, n uint64) error {
		o.setExpiry(n, expiryFor(o.now, ttl))

		return nil
	})
}

// Values returns a copy of every live value, head first.
func (l *List) Values() ([][]byte, error) {
	return chainValues(&l.collection)
}

// ForEach calls fn with each live value, head first, until fn returns
// false. It iterates over a snapshot taken before the first call, so fn may
// use the list.
func (l *List) ForEach(fn func(value []byte) bool) error {
	return forEachValue(l.Values, fn)
}

// Clear removes every element.
func (l *List) Clear() error {
	return clearLinked(&l.collection)
}

// RemoveExpired evicts every expired element and returns how many it
// removed.
func (l *List) RemoveExpired() (int, error) {
	return sweepLinked(&l.collection)
}

// setExpiry updates a linked node's expiry in place.
func (o *op) setExpiry(n uint64, exp int64) {
	storeI64(o.d, n+nodeExpires, exp)
	noteExpiry(o.d, exp)
	o.modified()
}

// Chain operations shared by List and Queue.

func removeChainValue(c *collection, value []byte) (bool, error) {
	var removed bool

	err := c.run(func(o *op) error {
		removed = false

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		var hit uint64

		err := o.scanChain(false, func(n uint64) bool {
			if o.valueEquals(n, value) {
				hit = n

				return false
			}

			return true
		})
		if err != nil || hit == 0 {
			return err
		}

		o.unlink(hit)
		o.drop(hit)
		o.modified()

		removed = true

		return nil
	})

	return removed, err
}

func chainContains(c *collection, value []byte) (bool, error) {
	var found bool

	err := c.run(func(o *op) error {
		found = false

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		return o.scanChain(false, func(n uint64) bool {
			found = o.valueEquals(n, value)

			return !found
		})
	})

	c.stats.lookup(found)

	return found, err
}

func chainValues(c *collection) ([][]byte, error) {
	var out [][]byte

	err := c.run(func(o *op) error {
		out = out[:0]

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		return o.scanChain(false, func(n uint64) bool {
			out = append(out, o.valueCopy(n))

			return true
		})
	})

	return out, err
}

func clearLinked(c *collection) error {
	c.stats.writes.Add(1)

	return c.run(func(o *op) error {
		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		if err := o.clearChain(); err != nil {
			return err
		}

		o.modified()

		return nil
	})
}

func sweepLinked(c *collection) (int, error) {
	var removed int

	err := c.run(func(o *op) error {
		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		n, err := o.sweepChainIfDue()
		removed = n

		if n > 0 {
			o.modified()
		}

		return err
	})

	if removed > 0 {
		c.log.Debug("removed expired elements", "removed", removed)
	}

	return removed, err
}

func forEachValue(snapshot func() ([][]byte, error), fn func(value []byte) bool) error {
	values, err := snapshot()
	if err != nil {
		return err
	}

	for _, v := range values {
		if !fn(v) {
			return nil
		}
	}

	return nil
}
