package fastcollection

import (
	"bytes"
	"time"
)

// Map is a persistent hash map from byte-string keys to byte values.
type Map struct {
	collection
}

// OpenMap opens or creates the map file described by opts.
func OpenMap(opts Options) (*Map, error) {
	m := &Map{}

	if err := m.open(KindMap, opts); err != nil {
		return nil, err
	}

	m.startSweeper(m.RemoveExpired)

	return m, nil
}

func checkEntry(key, value []byte) error {
	if err := checkKey("key", key); err != nil {
		return err
	}

	return checkPayload("value", value)
}

// Put stores value under key, replacing any live entry.
func (m *Map) Put(key, value []byte, ttl time.Duration) error {
	if err := checkEntry(key, value); err != nil {
		return err
	}

	return m.keyedWrite(key, value, ttl, func(o *op, bucket, prev, cur, n uint64) bool {
		if cur != 0 {
			o.replaceAfter(bucket, prev, cur, n)
		} else {
			o.appendAfter(bucket, prev, n)
		}

		return true
	})
}

// PutIfAbsent stores value only if key has no live entry and reports
// whether it did.
func (m *Map) PutIfAbsent(key, value []byte, ttl time.Duration) (bool, error) {
	if err := checkEntry(key, value); err != nil {
		return false, err
	}

	var stored bool

	err := m.keyedWrite(key, value, ttl, func(o *op, bucket, prev, cur, n uint64) bool {
		stored = cur == 0
		if stored {
			o.appendAfter(bucket, prev, n)
		}

		return stored
	})

	return stored && err == nil, err
}

// Replace stores value only if key has a live entry and reports whether it
// did.
func (m *Map) Replace(key, value []byte, ttl time.Duration) (bool, error) {
	return m.ReplaceIfEquals(key, nil, value, ttl)
}

// ReplaceIfEquals stores value only if key's live entry currently holds
// old. A nil old matches any value.
func (m *Map) ReplaceIfEquals(key, old, value []byte, ttl time.Duration) (bool, error) {
	if err := checkEntry(key, value); err != nil {
		return false, err
	}

	var replaced bool

	err := m.keyedWrite(key, value, ttl, func(o *op, bucket, prev, cur, n uint64) bool {
		replaced = cur != 0 && (old == nil || o.valueEquals(cur, old))
		if replaced {
			o.replaceAfter(bucket, prev, cur, n)
		}

		return replaced
	})

	return replaced && err == nil, err
}

// Get returns the value stored under key. ok is false if key is absent or
// expired.
func (m *Map) Get(key []byte) (value []byte, ok bool, err error) {
	if err := checkKey("key", key); err != nil {
		return nil, false, err
	}

	err = m.keyed(key, true, func(o *op, _, _, n uint64) error {
		value = nil
		if n != 0 {
			value = o.valueCopy(n)
		}

		return nil
	})

	ok = value != nil && err == nil
	m.stats.lookup(ok)

	return value, ok, err
}

// GetOrDefault returns the value under key, or def if there is none.
func (m *Map) GetOrDefault(key, def []byte) ([]byte, error) {
	v, ok, err := m.Get(key)
	if err != nil || !ok {
		return def, err
	}

	return v, nil
}

// ContainsKey reports whether key has a live entry.
func (m *Map) ContainsKey(key []byte) (bool, error) {
	if err := checkKey("key", key); err != nil {
		return false, err
	}

	var found bool

	err := m.keyed(key, true, func(_ *op, _, _, n uint64) error {
		found = n != 0

		return nil
	})

	m.stats.lookup(found)

	return found && err == nil, err
}

// ContainsValue reports whether any live entry holds value. It scans the
// whole map.
func (m *Map) ContainsValue(value []byte) (bool, error) {
	var found bool

	err := m.scanKeyed(nil, func(o *op, n uint64) bool {
		found = o.valueEquals(n, value)

		return !found
	})

	m.stats.lookup(found)

	return found && err == nil, err
}

// Remove deletes key and reports whether it had a live entry.
func (m *Map) Remove(key []byte) (bool, error) {
	if err := checkKey("key", key); err != nil {
		return false, err
	}

	return m.removeKey(key, nil)
}

// RemoveIfEquals deletes key only if its live entry holds value.
func (m *Map) RemoveIfEquals(key, value []byte) (bool, error) {
	if err := checkKey("key", key); err != nil {
		return false, err
	}

	return m.removeKey(key, func(o *op, n uint64) bool {
		return bytes.Equal(o.value(n), value)
	})
}

// GetTTL returns the remaining TTL of key, or [NoExpiry]. ok is false if
// key is absent or expired.
func (m *Map) GetTTL(key []byte) (ttl time.Duration, ok bool, err error) {
	if err := checkKey("key", key); err != nil {
		return 0, false, err
	}

	return m.keyTTL(key)
}

// SetTTL replaces the TTL of key in place. It returns false if key is
// absent.
func (m *Map) SetTTL(key []byte, ttl time.Duration) (bool, error) {
	if err := checkKey("key", key); err != nil {
		return false, err
	}

	return m.setKeyTTL(key, ttl)
}

// Entry is a key and value copied out of a map.
type Entry struct {
	Key   []byte
	Value []byte
}

// Entries returns a copy of every live entry in bucket order.
func (m *Map) Entries() ([]Entry, error) {
	var out []Entry

	err := m.scanKeyed(func() { out = out[:0] }, func(o *op, n uint64) bool {
		out = append(out, Entry{Key: o.keyCopy(n), Value: o.valueCopy(n)})

		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Keys returns a copy of every live key in bucket order.
func (m *Map) Keys() ([][]byte, error) {
	var out [][]byte

	err := m.scanKeyed(func() { out = out[:0] }, func(o *op, n uint64) bool {
		out = append(out, o.keyCopy(n))

		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Values returns a copy of every live value in bucket order.
func (m *Map) Values() ([][]byte, error) {
	var out [][]byte

	err := m.scanKeyed(func() { out = out[:0] }, func(o *op, n uint64) bool {
		out = append(out, o.valueCopy(n))

		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ForEach calls fn with each live entry until fn returns false. It iterates
// over a snapshot, so fn may use the map.
func (m *Map) ForEach(fn func(key, value []byte) bool) error {
	entries, err := m.Entries()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !fn(e.Key, e.Value) {
			return nil
		}
	}

	return nil
}

// Clear removes every entry.
func (m *Map) Clear() error {
	return m.clearKeyed()
}

// RemoveExpired evicts every expired entry and returns how many it removed.
func (m *Map) RemoveExpired() (int, error) {
	return m.sweepKeyed()
}
