package fastcollection

import "time"

// Bucket chains shared by sets and maps.
//
// The bucket array follows the header page: bucket i holds the offset of
// the first node of chain i. Chains are singly linked through node.next and
// new keys are appended at the chain tail. Everything here runs under the
// collection lock.

// bucketFor returns the offset of key's bucket slot and the hash stored in
// its node.
func (c *collection) bucketFor(key []byte) (uint64, uint32) {
	h := fnv1a64(key)

	return fclHeaderSize + 8*(h%c.buckets), uint32(h)
}

// findKey walks the chain at bucket and returns the live node holding key
// with its predecessor. When key is absent, n is 0 and prev is the last
// node of the chain (0 for an empty chain).
//
// With evict set, expired nodes passed on the way are unlinked. Otherwise
// they are skipped and left linked.
func (o *op) findKey(bucket uint64, key []byte, hash uint32, evict bool) (prev, n uint64, err error) {
	limit := o.stepLimit()
	n = loadU64(o.d, bucket)

	for i := 0; n != 0; i++ {
		if i > limit {
			return 0, 0, errCycle(n)
		}

		if err := o.checkNode(n); err != nil {
			return 0, 0, err
		}

		next := o.next(n)

		switch {
		case o.expired(n) && evict:
			o.unlinkAfter(bucket, prev, n)
			o.evict(n)
		case o.expired(n):
			prev = n
		case o.keyMatches(n, key, hash):
			return prev, n, nil
		default:
			prev = n
		}

		n = next
	}

	return prev, 0, nil
}

// unlinkAfter removes n, whose predecessor in the chain is prev.
func (o *op) unlinkAfter(bucket, prev, n uint64) {
	next := o.next(n)

	if prev == 0 {
		storeU64(o.d, bucket, next)
	} else {
		o.setNext(prev, next)
	}
}

// appendAfter links n at the end of the chain, after prev.
func (o *op) appendAfter(bucket, prev, n uint64) {
	o.setNext(n, 0)

	if prev == 0 {
		storeU64(o.d, bucket, n)
	} else {
		o.setNext(prev, n)
	}

	addI64(o.d, offCount, 1)
	noteExpiry(o.d, o.expiresAt(n))
}

// replaceAfter puts n where old is and hands old back for freeing.
func (o *op) replaceAfter(bucket, prev, old, n uint64) {
	o.setNext(n, o.next(old))

	if prev == 0 {
		storeU64(o.d, bucket, n)
	} else {
		o.setNext(prev, n)
	}

	o.freed = append(o.freed, old)
	noteExpiry(o.d, o.expiresAt(n))
}

// scanBuckets calls fn for every live node, bucket by bucket, evicting
// expired nodes it passes. fn returns false to stop. A scan that covers
// every bucket recomputes the expiry watermark.
func (o *op) scanBuckets(buckets uint64, fn func(n uint64) bool) error {
	observed := loadI64(o.d, offNextExpiry)
	limit := o.stepLimit()
	steps := 0

	var soonest int64

	for b := range buckets {
		bucket := fclHeaderSize + 8*b

		var prev uint64

		n := loadU64(o.d, bucket)
		for n != 0 {
			if steps++; steps > limit {
				return errCycle(n)
			}

			if err := o.checkNode(n); err != nil {
				return err
			}

			next := o.next(n)

			if o.expired(n) {
				o.unlinkAfter(bucket, prev, n)
				o.evict(n)
			} else {
				soonest = minExpiry(soonest, o.expiresAt(n))

				if !fn(n) {
					return nil
				}

				prev = n
			}

			n = next
		}
	}

	settleExpiry(o.d, observed, soonest)

	return nil
}

// clearBuckets unlinks every node from every bucket.
func (o *op) clearBuckets(buckets uint64) error {
	limit := o.stepLimit()
	steps := 0

	for b := range buckets {
		bucket := fclHeaderSize + 8*b

		n := loadU64(o.d, bucket)
		for n != 0 {
			if steps++; steps > limit {
				return errCycle(n)
			}

			if err := o.checkNode(n); err != nil {
				return err
			}

			o.freed = append(o.freed, n)
			n = o.next(n)
		}

		storeU64(o.d, bucket, 0)
	}

	storeI64(o.d, offCount, 0)
	storeI64(o.d, offNextExpiry, 0)

	return nil
}

// keyed runs fn under the collection lock with the live node holding key
// (0 if absent) and its predecessor. evict is passed to findKey.
func (c *collection) keyed(key []byte, evict bool, fn func(o *op, bucket, prev, n uint64) error) error {
	bucket, hash := c.bucketFor(key)

	return c.run(func(o *op) error {
		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		prev, n, err := o.findKey(bucket, key, hash, evict)
		if err != nil {
			return err
		}

		return fn(o, bucket, prev, n)
	})
}

// keyedWrite is keyed for writes that may link a new node holding key and
// val. The node is allocated before the lock is taken; fn links it or
// returns false, in which case it is freed.
func (c *collection) keyedWrite(key, val []byte, ttl time.Duration, fn func(o *op, bucket, prev, cur, n uint64) bool) error {
	bucket, hash := c.bucketFor(key)

	c.stats.writes.Add(1)

	return c.run(func(o *op) error {
		n, err := o.newNode(key, val, hash, expiryFor(o.now, ttl))
		if err != nil {
			return err
		}

		if err := o.lockWith(n); err != nil {
			return err
		}
		defer o.unlock()

		prev, cur, err := o.findKey(bucket, key, hash, true)
		if err != nil {
			o.freed = append(o.freed, n)

			return err
		}

		if !fn(o, bucket, prev, cur, n) {
			o.freed = append(o.freed, n)

			return nil
		}

		o.modified()

		return nil
	})
}

// removeKey unlinks key's node if pred accepts it.
func (c *collection) removeKey(key []byte, pred func(o *op, n uint64) bool) (bool, error) {
	var removed bool

	c.stats.writes.Add(1)

	err := c.keyed(key, true, func(o *op, bucket, prev, n uint64) error {
		removed = n != 0 && (pred == nil || pred(o, n))
		if removed {
			o.unlinkAfter(bucket, prev, n)
			o.drop(n)
			o.modified()
		}

		return nil
	})

	return removed && err == nil, err
}

// keyTTL returns the remaining TTL of key. It touches only the key's node;
// expired neighbours stay linked for the next sweep.
func (c *collection) keyTTL(key []byte) (time.Duration, bool, error) {
	var (
		ttl time.Duration
		ok  bool
	)

	err := c.keyed(key, false, func(o *op, _, _, n uint64) error {
		ok = n != 0
		if ok {
			ttl = remaining(o.expiresAt(n), o.now)
		}

		return nil
	})

	return ttl, ok && err == nil, err
}

// setKeyTTL replaces the TTL of key in place, leaving every link alone.
func (c *collection) setKeyTTL(key []byte, ttl time.Duration) (bool, error) {
	var ok bool

	c.stats.writes.Add(1)

	err := c.keyed(key, false, func(o *op, _, _, n uint64) error {
		ok = n != 0
		if ok {
			o.setExpiry(n, expiryFor(o.now, ttl))
		}

		return nil
	})

	return ok && err == nil, err
}

// scanKeyed runs scanBuckets under the collection lock. begin, if set, is
// called at the start of every attempt so results can be reset on retry.
func (c *collection) scanKeyed(begin func(), fn func(o *op, n uint64) bool) error {
	return c.run(func(o *op) error {
		if begin != nil {
			begin()
		}

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		return o.scanBuckets(c.buckets, func(n uint64) bool {
			return fn(o, n)
		})
	})
}

func (c *collection) clearKeyed() error {
	c.stats.writes.Add(1)

	return c.run(func(o *op) error {
		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		if err := o.clearBuckets(c.buckets); err != nil {
			return err
		}

		o.modified()

		return nil
	})
}

func (c *collection) sweepKeyed() (int, error) {
	var removed int

	err := c.run(func(o *op) error {
		removed = 0

		if err := o.lock(); err != nil {
			return err
		}
		defer o.unlock()

		if !sweepDue(o.d, o.now) {
			return nil
		}

		err := o.scanBuckets(c.buckets, func(uint64) bool { return true })
		removed = len(o.freed)

		if removed > 0 {
			o.modified()
		}

		return err
	})

	if removed > 0 {
		c.log.Debug("removed expired elements", "removed", removed)
	}

	return removed, err
}
