package fastcollection

import (
	"errors"
	"runtime"
	"time"
)

// Stack is a persistent LIFO stack of byte values.
//
// Push, Pop and Peek are lock-free: they swap the top-of-stack word with a
// compare-and-swap and retry on contention. The top word carries an ABA tag
// that changes on every swap, so a node popped, freed and pushed again in
// between a read and a swap cannot be mistaken for the one that was read.
//
// Operations over the whole stack (RemoveExpired, Clear, RemoveValue,
// Contains, Search, Values) take the collection lock, raise the stack gate,
// swap the chain out of the top word and work on it privately. Push and Pop
// wait while the gate is up. Elements pushed by a push that was already
// past the gate end up above the chain when it is put back.
type Stack struct {
	collection
}

// OpenStack opens or creates the stack file described by opts.
func OpenStack(opts Options) (*Stack, error) {
	s := &Stack{}

	if err := s.open(KindStack, opts); err != nil {
		return nil, err
	}

	s.startSweeper(s.RemoveExpired)

	return s, nil
}

// Push puts value on top of the stack.
func (s *Stack) Push(value []byte, ttl time.Duration) error {
	return s.PushAll([][]byte{value}, ttl)
}

// PushAll pushes values in order with one swap, so values[len-1] ends up on
// top and no other push interleaves.
func (s *Stack) PushAll(values [][]byte, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}

	for _, v := range values {
		if err := checkPayload("value", v); err != nil {
			return err
		}
	}

	s.stats.writes.Add(uint64(len(values)))

	return s.run(func(o *op) error {
		exp := expiryFor(o.now, ttl)

		// Build the chain top first: the last value is the new top.
		var first, last uint64

		for i := len(values) - 1; i >= 0; i-- {
			n, err := o.newNode(nil, values[i], 0, exp)
			if err != nil {
				o.freeChain(first)

				return err
			}

			if first == 0 {
				first = n
			} else {
				o.setNext(last, n)
			}

			last = n
		}

		if err := o.pushChain(first, last, int64(len(values)), exp); err != nil {
			o.freeChain(first)

			return err
		}

		o.modified()

		return nil
	})
}

// freeChain hands a private, never published chain back for freeing.
func (o *op) freeChain(first uint64) {
	for n := first; n != 0; n = o.next(n) {
		o.freed = append(o.freed, n)
	}
}

// pushChain publishes the private chain first..last on top of the stack.
func (o *op) pushChain(first, last uint64, count int64, exp int64) error {
	// Counted before the swap so a racing pop never drives Len negative.
	addI64(o.d, offCount, count)

	for attempt := 0; ; attempt++ {
		if err := waitWordClear(o.d, offStackGate); err != nil {
			addI64(o.d, offCount, -count)
			o.setNext(last, 0)

			return err
		}

		top := loadU64(o.d, offHead)
		o.setNext(last, tagOffset(top))

		if casU64(o.d, offHead, top, packTag(first, tagCount(top)+1)) {
			noteExpiry(o.d, exp)

			return nil
		}

		if attempt >= spinYields {
			runtime.Gosched()
		}
	}
}

// Pop removes and returns the top value. ok is false if the stack has no
// live elements. Expired elements on top are discarded.
func (s *Stack) Pop() (value []byte, ok bool, err error) {
	err = s.run(func(o *op) error {
		value = nil

		hit, err := o.takeTop(true, func(n uint64) {
			value = o.valueCopy(n)
		})

		ok = hit

		return err
	})

	s.stats.lookup(ok)

	if ok {
		s.stats.writes.Add(1)
	}

	return value, ok && err == nil, err
}

// PopAll pops up to limit values, top first. limit <= 0 pops until the
// stack is empty. Each value is popped on its own.
func (s *Stack) PopAll(limit int) ([][]byte, error) {
	var out [][]byte

	for limit <= 0 || len(out) < limit {
		v, ok, err := s.Pop()
		if err != nil {
			return out, err
		}

		if !ok {
			break
		}

		out = append(out, v)
	}

	return out, nil
}

// Peek returns the top value without removing it.
func (s *Stack) Peek() (value []byte, ok bool, err error) {
	err = s.run(func(o *op) error {
		value = nil

		hit, err := o.takeTop(false, func(n uint64) {
			value = o.racyValue(n)
		})

		ok = hit && value != nil

		return err
	})

	s.stats.lookup(ok)

	return value, ok && err == nil, err
}

// PeekTTL returns the remaining TTL of the top element, or [NoExpiry]. ok
// is false if the stack has no live elements.
func (s *Stack) PeekTTL() (ttl time.Duration, ok bool, err error) {
	err = s.run(func(o *op) error {
		// Under the collection lock no whole-stack operation can run, so
		// only pops race with the read.
		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		hit, err := o.takeTop(false, func(n uint64) {
			ttl = remaining(o.expiresAt(n), o.now)
		})

		ok = hit

		return err
	})

	return ttl, ok && err == nil, err
}

// takeTop finds the top live node and passes it to read. With remove set it
// pops the node first; read then owns it until the operation ends. Without
// remove, read races with pops and must tolerate garbage: its result only
// counts if the top did not move while it ran. Expired tops are popped and
// discarded either way.
func (o *op) takeTop(remove bool, read func(n uint64)) (bool, error) {
	for attempt := 0; ; attempt++ {
		if attempt >= spinYields {
			runtime.Gosched()
		}

		if err := waitWordClear(o.d, offStackGate); err != nil {
			return false, err
		}

		top := loadU64(o.d, offHead)
		n := tagOffset(top)

		if n == 0 {
			// A whole-stack operation may have swapped the chain out after
			// we passed the gate.
			if loadU32(o.d, offStackGate) != 0 {
				continue
			}

			return false, nil
		}

		if err := o.checkNode(n); err != nil {
			if errors.Is(err, errRemap) || loadU64(o.d, offHead) == top {
				return false, err
			}

			// The node was popped and freed under us.
			continue
		}

		next := o.next(n)
		expired := o.expired(n)

		if !remove && !expired {
			read(n)

			if loadU64(o.d, offHead) == top {
				return true, nil
			}

			continue
		}

		if !casU64(o.d, offHead, top, packTag(next, tagCount(top)+1)) {
			continue
		}

		addI64(o.d, offCount, -1)
		o.freed = append(o.freed, n)

		if expired {
			o.st.evictions.Add(1)

			continue
		}

		read(n)

		return true, nil
	}
}

// racyValue copies a node's value that may be freed and reused while we
// read it. It returns nil if the lengths no longer fit the mapping.
func (o *op) racyValue(n uint64) []byte {
	start := n + nodeData + uint64(loadU32(o.d, n+nodeKeyLen))
	end := start + uint64(loadU32(o.d, n+nodeValLen))

	if end > uint64(len(o.d)) || start > end {
		return nil
	}

	return append([]byte{}, o.d[start:end]...)
}

// Whole-stack operations.

// rewrite detaches the stack and calls drop for every live node, top first.
// Nodes for which drop returns true are removed; expired nodes are evicted
// and counted. The remaining chain is put back under anything pushed
// meanwhile. With onlyIfDue set, nothing happens unless the expiry
// watermark has passed.
func (s *Stack) rewrite(onlyIfDue bool, begin func(), drop func(o *op, n uint64) bool) (int, error) {
	var evicted int

	err := s.runExclusive(func(o *op) error {
		evicted = 0

		if begin != nil {
			begin()
		}

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		if onlyIfDue && !sweepDue(o.d, o.now) {
			return nil
		}

		storeU32(o.d, offStackGate, selfPID)
		defer func() { storeU32(o.d, offStackGate, 0) }()

		observed := loadI64(o.d, offNextExpiry)
		head := o.detachStack()

		nodes, err := o.collectStack(head)
		if err != nil {
			if reErr := o.reattachStack(head, nil); reErr != nil {
				return errors.Join(err, reErr)
			}

			return err
		}

		var (
			kept    []uint64
			soonest int64
			changed bool
		)

		for _, n := range nodes {
			switch {
			case o.expired(n):
				o.evict(n)

				evicted++
				changed = true
			case drop(o, n):
				o.drop(n)

				changed = true
			default:
				kept = append(kept, n)
				soonest = minExpiry(soonest, o.expiresAt(n))
			}
		}

		for i, n := range kept {
			var next uint64
			if i+1 < len(kept) {
				next = kept[i+1]
			}

			o.setNext(n, next)
		}

		var newHead uint64
		if len(kept) > 0 {
			newHead = kept[0]
		}

		if err := o.reattachStack(newHead, &soonest); err != nil {
			return err
		}

		settleExpiry(o.d, observed, soonest)

		if changed {
			o.modified()
		}

		return nil
	})

	return evicted, err
}

// detachStack swaps the whole chain out of the top word.
func (o *op) detachStack() uint64 {
	for {
		top := loadU64(o.d, offHead)
		if casU64(o.d, offHead, top, packTag(0, tagCount(top)+1)) {
			return tagOffset(top)
		}
	}
}

// collectStack validates a detached chain and returns its nodes, top first.
func (o *op) collectStack(head uint64) ([]uint64, error) {
	var nodes []uint64

	limit := o.stepLimit()

	for n := head; n != 0; n = o.next(n) {
		if len(nodes) > limit {
			return nil, errCycle(head)
		}

		if err := o.checkNodeExclusive(n); err != nil {
			return nil, err
		}

		nodes = append(nodes, n)
	}

	return nodes, nil
}

// checkNodeExclusive is checkNode that remaps in place when a node lies
// beyond the mapping.
func (o *op) checkNodeExclusive(n uint64) error {
	err := o.checkNode(n)
	if !errors.Is(err, errRemap) {
		return err
	}

	if err := o.refresh(); err != nil {
		return err
	}

	return o.checkNode(n)
}

// reattachStack publishes head as the stack. Chains pushed while the stack
// was detached are swapped out in turn and stacked on top of it; their
// expiries are folded into soonest when it is set.
func (o *op) reattachStack(head uint64, soonest *int64) error {
	for {
		top := loadU64(o.d, offHead)

		if tagOffset(top) == 0 {
			if casU64(o.d, offHead, top, packTag(head, tagCount(top)+1)) {
				return nil
			}

			continue
		}

		if !casU64(o.d, offHead, top, packTag(0, tagCount(top)+1)) {
			continue
		}

		newer, err := o.collectStack(tagOffset(top))
		if err != nil {
			// Keep what we have; the newer chain is unreadable.
			storeU64(o.d, offHead, packTag(head, tagCount(top)+2))

			return err
		}

		for _, n := range newer {
			if soonest != nil {
				*soonest = minExpiry(*soonest, o.expiresAt(n))
			}
		}

		o.setNext(newer[len(newer)-1], head)
		head = newer[0]
	}
}

// RemoveExpired evicts every expired element and returns how many it
// removed.
func (s *Stack) RemoveExpired() (int, error) {
	removed, err := s.rewrite(true, nil, func(*op, uint64) bool { return false })

	if removed > 0 {
		s.log.Debug("removed expired elements", "removed", removed)
	}

	return removed, err
}

// Clear removes every element.
func (s *Stack) Clear() error {
	s.stats.writes.Add(1)

	_, err := s.rewrite(false, nil, func(*op, uint64) bool { return true })

	return err
}

// RemoveValue deletes the element nearest the top that equals value.
func (s *Stack) RemoveValue(value []byte) (bool, error) {
	var removed bool

	s.stats.writes.Add(1)

	_, err := s.rewrite(false, func() { removed = false }, func(o *op, n uint64) bool {
		if removed || !o.valueEquals(n, value) {
			return false
		}

		removed = true

		return true
	})

	return removed && err == nil, err
}

// Search returns the 1-based distance from the top of the element nearest
// the top that equals value, or -1.
func (s *Stack) Search(value []byte) (int, error) {
	pos, found := 0, -1

	_, err := s.rewrite(false, func() { pos, found = 0, -1 }, func(o *op, n uint64) bool {
		pos++

		if found < 0 && o.valueEquals(n, value) {
			found = pos
		}

		return false
	})

	s.stats.lookup(found > 0)

	return found, err
}

// Contains reports whether a live element equals value.
func (s *Stack) Contains(value []byte) (bool, error) {
	pos, err := s.Search(value)

	return pos > 0, err
}

// Values returns a copy of every live value, top first.
func (s *Stack) Values() ([][]byte, error) {
	var out [][]byte

	_, err := s.rewrite(false, func() { out = out[:0] }, func(o *op, n uint64) bool {
		out = append(out, o.valueCopy(n))

		return false
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ForEach calls fn with each live value, top first, until fn returns
// false. It iterates over a snapshot.
func (s *Stack) ForEach(fn func(value []byte) bool) error {
	return forEachValue(s.Values, fn)
}
