package fastcollection

// Doubly linked chain rooted at the header's head and tail, shared by lists
// and queues. Every function here runs under the collection lock.

func (o *op) head() uint64 { return loadU64(o.d, offHead) }

func (o *op) tail() uint64 { return loadU64(o.d, offTail) }

// linkTail appends n to the chain.
func (o *op) linkTail(n uint64) {
	t := o.tail()

	o.setNext(n, 0)
	o.setPrev(n, t)

	if t == 0 {
		storeU64(o.d, offHead, n)
	} else {
		o.setNext(t, n)
	}

	storeU64(o.d, offTail, n)
	addI64(o.d, offCount, 1)
	noteExpiry(o.d, o.expiresAt(n))
}

// linkHead prepends n to the chain.
func (o *op) linkHead(n uint64) {
	h := o.head()

	o.setPrev(n, 0)
	o.setNext(n, h)

	if h == 0 {
		storeU64(o.d, offTail, n)
	} else {
		o.setPrev(h, n)
	}

	storeU64(o.d, offHead, n)
	addI64(o.d, offCount, 1)
	noteExpiry(o.d, o.expiresAt(n))
}

// linkBefore inserts n in front of at, which is in the chain.
func (o *op) linkBefore(at, n uint64) {
	p := o.prev(at)
	if p == 0 {
		o.linkHead(n)

		return
	}

	o.setPrev(n, p)
	o.setNext(n, at)
	o.setNext(p, n)
	o.setPrev(at, n)
	addI64(o.d, offCount, 1)
	noteExpiry(o.d, o.expiresAt(n))
}

// unlink removes n from the chain. The caller accounts for the node with
// drop or evict.
func (o *op) unlink(n uint64) {
	p, nx := o.prev(n), o.next(n)

	if p == 0 {
		storeU64(o.d, offHead, nx)
	} else {
		o.setNext(p, nx)
	}

	if nx == 0 {
		storeU64(o.d, offTail, p)
	} else {
		o.setPrev(nx, p)
	}
}

// replaceNode puts n where old is and hands old back for freeing.
func (o *op) replaceNode(old, n uint64) {
	p, nx := o.prev(old), o.next(old)

	o.setPrev(n, p)
	o.setNext(n, nx)

	if p == 0 {
		storeU64(o.d, offHead, n)
	} else {
		o.setNext(p, n)
	}

	if nx == 0 {
		storeU64(o.d, offTail, n)
	} else {
		o.setPrev(nx, n)
	}

	o.freed = append(o.freed, old)
	noteExpiry(o.d, o.expiresAt(n))
}

// firstLive returns the first unexpired node from the head, or 0, evicting
// expired nodes on the way.
func (o *op) firstLive() (uint64, error) {
	return o.endLive(o.head)
}

// lastLive is firstLive from the tail.
func (o *op) lastLive() (uint64, error) {
	return o.endLive(o.tail)
}

func (o *op) endLive(end func() uint64) (uint64, error) {
	limit := o.stepLimit()

	for i := 0; ; i++ {
		n := end()
		if n == 0 {
			return 0, nil
		}

		if i > limit {
			return 0, errCycle(n)
		}

		if err := o.checkNode(n); err != nil {
			return 0, err
		}

		if !o.expired(n) {
			return n, nil
		}

		o.unlink(n)
		o.evict(n)
	}
}

// scanChain calls fn for every live node from the head (or from the tail
// when backward is set), evicting expired nodes it passes. fn returns false
// to stop. A scan that reaches the end recomputes the expiry watermark.
func (o *op) scanChain(backward bool, fn func(n uint64) bool) error {
	observed := loadI64(o.d, offNextExpiry)
	limit := o.stepLimit()

	var soonest int64

	n := o.head()
	if backward {
		n = o.tail()
	}

	for i := 0; n != 0; i++ {
		if i > limit {
			return errCycle(n)
		}

		if err := o.checkNode(n); err != nil {
			return err
		}

		step := o.next(n)
		if backward {
			step = o.prev(n)
		}

		if o.expired(n) {
			o.unlink(n)
			o.evict(n)
		} else {
			soonest = minExpiry(soonest, o.expiresAt(n))

			if !fn(n) {
				return nil
			}
		}

		n = step
	}

	settleExpiry(o.d, observed, soonest)

	return nil
}

// sweepChain evicts every expired node and returns how many it removed.
func (o *op) sweepChain() (int, error) {
	before := len(o.freed)

	err := o.scanChain(false, func(uint64) bool { return true })

	return len(o.freed) - before, err
}

// sweepChainIfDue runs sweepChain when the watermark says something may
// have expired.
func (o *op) sweepChainIfDue() (int, error) {
	if !sweepDue(o.d, o.now) {
		return 0, nil
	}

	return o.sweepChain()
}

// clearChain unlinks every node.
func (o *op) clearChain() error {
	limit := o.stepLimit()
	n := o.head()

	for i := 0; n != 0; i++ {
		if i > limit {
			return errCycle(n)
		}

		if err := o.checkNode(n); err != nil {
			return err
		}

		o.freed = append(o.freed, n)
		n = o.next(n)
	}

	storeU64(o.d, offHead, 0)
	storeU64(o.d, offTail, 0)
	storeI64(o.d, offCount, 0)
	storeI64(o.d, offNextExpiry, 0)

	return nil
}

// nodeAt returns the node at index among live nodes, walking from the
// nearer end. Callers sweep first so that the count is exact.
func (o *op) nodeAt(index int) (uint64, error) {
	count := o.count()
	if index < 0 || index >= count {
		return 0, errIndex(index, count)
	}

	backward := index >= count/2
	steps := index
	n := o.head()

	if backward {
		steps = count - 1 - index
		n = o.tail()
	}

	for range steps {
		if n == 0 {
			break
		}

		if err := o.checkNode(n); err != nil {
			return 0, err
		}

		if backward {
			n = o.prev(n)
		} else {
			n = o.next(n)
		}
	}

	if n == 0 {
		return 0, errCountMismatch(count)
	}

	if err := o.checkNode(n); err != nil {
		return 0, err
	}

	return n, nil
}
