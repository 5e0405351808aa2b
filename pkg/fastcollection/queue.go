package fastcollection

import (
	"context"
	"fmt"
	"time"
)

// Queue is a persistent double-ended FIFO queue of byte values.
type Queue struct {
	collection
}

// OpenQueue opens or creates the queue file described by opts.
func OpenQueue(opts Options) (*Queue, error) {
	q := &Queue{}

	if err := q.open(KindQueue, opts); err != nil {
		return nil, err
	}

	q.startSweeper(q.RemoveExpired)

	return q, nil
}

// Offer appends value at the tail.
func (q *Queue) Offer(value []byte, ttl time.Duration) error {
	return q.offer(value, ttl, false)
}

// OfferFirst puts value at the head, ahead of everything queued.
func (q *Queue) OfferFirst(value []byte, ttl time.Duration) error {
	return q.offer(value, ttl, true)
}

func (q *Queue) offer(value []byte, ttl time.Duration, first bool) error {
	if err := checkPayload("value", value); err != nil {
		return err
	}

	q.stats.writes.Add(1)

	return q.run(func(o *op) error {
		n, err := o.newNode(nil, value, 0, expiryFor(o.now, ttl))
		if err != nil {
			return err
		}

		if err := o.lockWith(n); err != nil {
			return err
		}
		defer o.unlock()

		if first {
			o.linkHead(n)
		} else {
			o.linkTail(n)
		}

		o.modified()

		return nil
	})
}

// Poll removes and returns the head value. ok is false if the queue has no
// live elements.
func (q *Queue) Poll() (value []byte, ok bool, err error) {
	return q.end(false, true)
}

// PollLast removes and returns the tail value.
func (q *Queue) PollLast() (value []byte, ok bool, err error) {
	return q.end(true, true)
}

// Peek returns the head value without removing it.
func (q *Queue) Peek() (value []byte, ok bool, err error) {
	return q.end(false, false)
}

// PeekLast returns the tail value without removing it.
func (q *Queue) PeekLast() (value []byte, ok bool, err error) {
	return q.end(true, false)
}

func (q *Queue) end(last, remove bool) ([]byte, bool, error) {
	var out []byte

	err := q.run(func(o *op) error {
		out = nil

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		return o.takeEnd(last, remove, &out)
	})

	q.stats.lookup(out != nil)

	if remove && out != nil {
		q.stats.writes.Add(1)
	}

	return out, out != nil && err == nil, err
}

// PeekTTL returns the remaining TTL of the head element, or [NoExpiry]. ok
// is false if the queue has no live elements.
func (q *Queue) PeekTTL() (ttl time.Duration, ok bool, err error) {
	err = q.run(func(o *op) error {
		ok = false

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		n, err := o.firstLive()
		if err != nil || n == 0 {
			return err
		}

		ttl, ok = remaining(o.expiresAt(n), o.now), true

		return nil
	})

	return ttl, ok && err == nil, err
}

// Polling backoff for PollWait.
const (
	pollWaitMin = time.Millisecond
	pollWaitMax = 25 * time.Millisecond
)

// PollWait is Poll that waits for an element to arrive. It polls with
// exponential backoff and returns ctx.Err() once ctx is done.
func (q *Queue) PollWait(ctx context.Context) ([]byte, error) {
	backoff := pollWaitMin

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		value, ok, err := q.Poll()
		if err != nil || ok {
			return value, err
		}

		timer.Reset(backoff)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("poll wait: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, pollWaitMax)
	}
}

// Drain removes and returns up to limit values from the head in one locked
// pass. limit <= 0 drains everything.
func (q *Queue) Drain(limit int) ([][]byte, error) {
	var out [][]byte

	err := q.run(func(o *op) error {
		out = out[:0]

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		for limit <= 0 || len(out) < limit {
			var v []byte
			if err := o.takeEnd(false, true, &v); err != nil {
				return err
			}

			if v == nil {
				break
			}

			out = append(out, v)
		}

		return nil
	})

	q.stats.writes.Add(uint64(len(out)))

	return out, err
}

// Contains reports whether a live element equals value.
func (q *Queue) Contains(value []byte) (bool, error) {
	return chainContains(&q.collection, value)
}

// RemoveValue deletes the element nearest the head that equals value.
func (q *Queue) RemoveValue(value []byte) (bool, error) {
	q.stats.writes.Add(1)

	return removeChainValue(&q.collection, value)
}

// Values returns a copy of every live value, head first.
func (q *Queue) Values() ([][]byte, error) {
	return chainValues(&q.collection)
}

// ForEach calls fn with each live value, head first, until fn returns
// false. It iterates over a snapshot.
func (q *Queue) ForEach(fn func(value []byte) bool) error {
	return forEachValue(q.Values, fn)
}

// Clear removes every element.
func (q *Queue) Clear() error {
	return clearLinked(&q.collection)
}

// RemoveExpired evicts every expired element and returns how many it
// removed.
func (q *Queue) RemoveExpired() (int, error) {
	return sweepLinked(&q.collection)
}
