// Package model is a simple in-memory reference for the collection kinds
// in fastcollection.
//
// It trades all efficiency for obviousness: elements live in plain slices
// and maps, and expired elements are dropped before every operation. Tests
// run the same operations against a file-backed collection and a model
// and compare what they observe.
//
// Unordered results (set elements, map keys) are returned sorted.
package model

import (
	"bytes"
	"slices"
	"time"
)

type item struct {
	value []byte
	exp   time.Time // zero = never
}

func newItem(value []byte, now time.Time, ttl time.Duration) item {
	it := item{value: bytes.Clone(value)}
	if it.value == nil {
		it.value = []byte{}
	}

	if ttl >= 0 {
		it.exp = now.Add(ttl)
	}

	return it
}

func (it item) expired(now time.Time) bool {
	return !it.exp.IsZero() && !now.Before(it.exp)
}

func (it item) ttl(now time.Time) time.Duration {
	if it.exp.IsZero() {
		return -1
	}

	return it.exp.Sub(now)
}

// Seq is an ordered sequence with element TTLs. It models List, Queue and
// Stack: index 0 is the list head, the queue head and the stack top.
type Seq struct {
	Now   func() time.Time
	items []item
}

// NewSeq returns an empty sequence using now as its clock.
func NewSeq(now func() time.Time) *Seq {
	return &Seq{Now: now}
}

// expire drops expired items and returns how many it dropped.
func (s *Seq) expire() int {
	now := s.Now()
	before := len(s.items)

	s.items = slices.DeleteFunc(s.items, func(it item) bool { return it.expired(now) })

	return before - len(s.items)
}

func (s *Seq) Len() int {
	s.expire()

	return len(s.items)
}

// Insert places value at index. It reports false if index is not in
// [0, Len].
func (s *Seq) Insert(index int, value []byte, ttl time.Duration) bool {
	s.expire()

	if index < 0 || index > len(s.items) {
		return false
	}

	s.items = slices.Insert(s.items, index, newItem(value, s.Now(), ttl))

	return true
}

func (s *Seq) PushFront(value []byte, ttl time.Duration) { s.Insert(0, value, ttl) }

func (s *Seq) PushBack(value []byte, ttl time.Duration) { s.Insert(s.Len(), value, ttl) }

// Get returns the value at index.
func (s *Seq) Get(index int) ([]byte, bool) {
	s.expire()

	if index < 0 || index >= len(s.items) {
		return nil, false
	}

	return s.items[index].value, true
}

// Set replaces the value and TTL at index.
func (s *Seq) Set(index int, value []byte, ttl time.Duration) bool {
	s.expire()

	if index < 0 || index >= len(s.items) {
		return false
	}

	s.items[index] = newItem(value, s.Now(), ttl)

	return true
}

// Remove deletes and returns the value at index.
func (s *Seq) Remove(index int) ([]byte, bool) {
	v, ok := s.Get(index)
	if ok {
		s.items = slices.Delete(s.items, index, index+1)
	}

	return v, ok
}

func (s *Seq) PopFront() ([]byte, bool) { return s.Remove(0) }

func (s *Seq) PopBack() ([]byte, bool) { return s.Remove(s.Len() - 1) }

func (s *Seq) Front() ([]byte, bool) { return s.Get(0) }

func (s *Seq) Back() ([]byte, bool) { return s.Get(s.Len() - 1) }

// IndexOf returns the first index holding value, or -1.
func (s *Seq) IndexOf(value []byte) int {
	s.expire()

	return slices.IndexFunc(s.items, func(it item) bool { return bytes.Equal(it.value, value) })
}

// LastIndexOf returns the last index holding value, or -1.
func (s *Seq) LastIndexOf(value []byte) int {
	s.expire()

	for i := len(s.items) - 1; i >= 0; i-- {
		if bytes.Equal(s.items[i].value, value) {
			return i
		}
	}

	return -1
}

// RemoveValue deletes the first element equal to value.
func (s *Seq) RemoveValue(value []byte) bool {
	i := s.IndexOf(value)
	if i < 0 {
		return false
	}

	s.items = slices.Delete(s.items, i, i+1)

	return true
}

// TTL returns the remaining TTL at index, -1 for none.
func (s *Seq) TTL(index int) (time.Duration, bool) {
	s.expire()

	if index < 0 || index >= len(s.items) {
		return 0, false
	}

	return s.items[index].ttl(s.Now()), true
}

// SetTTL replaces the TTL at index.
func (s *Seq) SetTTL(index int, ttl time.Duration) bool {
	s.expire()

	if index < 0 || index >= len(s.items) {
		return false
	}

	s.items[index] = newItem(s.items[index].value, s.Now(), ttl)

	return true
}

// Values returns every live value in order. An empty sequence returns nil.
func (s *Seq) Values() [][]byte {
	s.expire()

	var out [][]byte
	for _, it := range s.items {
		out = append(out, it.value)
	}

	return out
}

func (s *Seq) Clear() { s.items = nil }

// RemoveExpired drops expired elements and returns how many.
func (s *Seq) RemoveExpired() int { return s.expire() }

// Keyed is a key-value store with entry TTLs. It models Map, and Set with
// nil values.
type Keyed struct {
	Now     func() time.Time
	entries map[string]item
}

// NewKeyed returns an empty store using now as its clock.
func NewKeyed(now func() time.Time) *Keyed {
	return &Keyed{Now: now, entries: make(map[string]item)}
}

func (k *Keyed) expire() int {
	now := k.Now()
	n := 0

	for key, it := range k.entries {
		if it.expired(now) {
			delete(k.entries, key)

			n++
		}
	}

	return n
}

func (k *Keyed) Len() int {
	k.expire()

	return len(k.entries)
}

// Get returns the value under key.
func (k *Keyed) Get(key []byte) ([]byte, bool) {
	k.expire()

	it, ok := k.entries[string(key)]

	return it.value, ok
}

// Put stores value under key and reports whether key was new.
func (k *Keyed) Put(key, value []byte, ttl time.Duration) bool {
	k.expire()

	_, existed := k.entries[string(key)]
	k.entries[string(key)] = newItem(value, k.Now(), ttl)

	return !existed
}

// PutIfAbsent stores value only if key is absent.
func (k *Keyed) PutIfAbsent(key, value []byte, ttl time.Duration) bool {
	if _, ok := k.Get(key); ok {
		return false
	}

	return k.Put(key, value, ttl)
}

// ReplaceIfEquals stores value only if key holds old; nil old matches any.
func (k *Keyed) ReplaceIfEquals(key, old, value []byte, ttl time.Duration) bool {
	cur, ok := k.Get(key)
	if !ok || (old != nil && !bytes.Equal(cur, old)) {
		return false
	}

	k.Put(key, value, ttl)

	return true
}

// Remove deletes key and reports whether it was present.
func (k *Keyed) Remove(key []byte) bool {
	_, ok := k.Get(key)
	delete(k.entries, string(key))

	return ok
}

// TTL returns the remaining TTL of key, -1 for none.
func (k *Keyed) TTL(key []byte) (time.Duration, bool) {
	k.expire()

	it, ok := k.entries[string(key)]
	if !ok {
		return 0, false
	}

	return it.ttl(k.Now()), true
}

// SetTTL replaces the TTL of key.
func (k *Keyed) SetTTL(key []byte, ttl time.Duration) bool {
	k.expire()

	it, ok := k.entries[string(key)]
	if ok {
		k.entries[string(key)] = newItem(it.value, k.Now(), ttl)
	}

	return ok
}

// Keys returns every live key, sorted. An empty store returns nil.
func (k *Keyed) Keys() [][]byte {
	k.expire()

	var out [][]byte
	for key := range k.entries {
		out = append(out, []byte(key))
	}

	slices.SortFunc(out, bytes.Compare)

	return out
}

// Entries returns every live key and value, sorted by key.
func (k *Keyed) Entries() [][2][]byte {
	var out [][2][]byte
	for _, key := range k.Keys() {
		out = append(out, [2][]byte{key, k.entries[string(key)].value})
	}

	return out
}

func (k *Keyed) Clear() { clear(k.entries) }

// RemoveExpired drops expired entries and returns how many.
func (k *Keyed) RemoveExpired() int { return k.expire() }
