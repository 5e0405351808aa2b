package fastcollection

import "time"

// Set is a persistent hash set of byte strings.
type Set struct {
	collection
}

// OpenSet opens or creates the set file described by opts.
func OpenSet(opts Options) (*Set, error) {
	s := &Set{}

	if err := s.open(KindSet, opts); err != nil {
		return nil, err
	}

	s.startSweeper(s.RemoveExpired)

	return s, nil
}

// Add inserts elem. It returns false, leaving the set unchanged, if a live
// equal element is already present.
func (s *Set) Add(elem []byte, ttl time.Duration) (bool, error) {
	if err := checkKey("element", elem); err != nil {
		return false, err
	}

	var added bool

	err := s.keyedWrite(elem, nil, ttl, func(o *op, bucket, prev, cur, n uint64) bool {
		added = cur == 0
		if added {
			o.appendAfter(bucket, prev, n)
		}

		return added
	})

	return added && err == nil, err
}

// AddAll adds every element with the same TTL and returns how many were new.
// Each element is added on its own; a failure leaves earlier ones in place.
func (s *Set) AddAll(elems [][]byte, ttl time.Duration) (int, error) {
	added := 0

	for _, e := range elems {
		ok, err := s.Add(e, ttl)
		if err != nil {
			return added, err
		}

		if ok {
			added++
		}
	}

	return added, nil
}

// Remove deletes elem and reports whether it was present.
func (s *Set) Remove(elem []byte) (bool, error) {
	if err := checkKey("element", elem); err != nil {
		return false, err
	}

	return s.removeKey(elem, nil)
}

// RemoveAll deletes every listed element and returns how many were present.
func (s *Set) RemoveAll(elems [][]byte) (int, error) {
	removed := 0

	for _, e := range elems {
		ok, err := s.Remove(e)
		if err != nil {
			return removed, err
		}

		if ok {
			removed++
		}
	}

	return removed, nil
}

// RetainIf removes every element for which keep returns false and returns
// how many it removed. keep runs without any lock held, over a snapshot;
// elements added meanwhile are kept.
func (s *Set) RetainIf(keep func(elem []byte) bool) (int, error) {
	elems, err := s.Values()
	if err != nil {
		return 0, err
	}

	var drop [][]byte

	for _, e := range elems {
		if !keep(e) {
			drop = append(drop, e)
		}
	}

	return s.RemoveAll(drop)
}

// Contains reports whether elem is present and live.
func (s *Set) Contains(elem []byte) (bool, error) {
	if err := checkKey("element", elem); err != nil {
		return false, err
	}

	var found bool

	err := s.keyed(elem, true, func(_ *op, _, _, n uint64) error {
		found = n != 0

		return nil
	})

	s.stats.lookup(found)

	return found && err == nil, err
}

// GetTTL returns the remaining TTL of elem, or [NoExpiry]. ok is false if
// elem is absent or expired.
func (s *Set) GetTTL(elem []byte) (ttl time.Duration, ok bool, err error) {
	if err := checkKey("element", elem); err != nil {
		return 0, false, err
	}

	return s.keyTTL(elem)
}

// SetTTL replaces the TTL of elem. It returns false if elem is absent.
func (s *Set) SetTTL(elem []byte, ttl time.Duration) (bool, error) {
	if err := checkKey("element", elem); err != nil {
		return false, err
	}

	return s.setKeyTTL(elem, ttl)
}

// Values returns a copy of every live element in bucket order.
func (s *Set) Values() ([][]byte, error) {
	var out [][]byte

	err := s.scanKeyed(func() { out = out[:0] }, func(o *op, n uint64) bool {
		out = append(out, o.keyCopy(n))

		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ForEach calls fn with each live element until fn returns false. It
// iterates over a snapshot.
func (s *Set) ForEach(fn func(elem []byte) bool) error {
	return forEachValue(s.Values, fn)
}

// Clear removes every element.
func (s *Set) Clear() error {
	return s.clearKeyed()
}

// RemoveExpired evicts every expired element and returns how many it
// removed.
func (s *Set) RemoveExpired() (int, error) {
	return s.sweepKeyed()
}
