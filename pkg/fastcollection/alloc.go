package fastcollection

import (
	"fmt"
	"math/bits"
)

// Block layout inside the record area:
//
//	[0, 8)            header: size | blockFree | blockPrevFree
//	[8, size)         payload (a node) when allocated
//
// A free block reuses its payload for free-list links and a size footer:
//
//	[8, 16)           next free block in the same size class
//	[16, 24)          previous free block in the same size class
//	[size-8, size)    size, so the following block can find this one
//
// Invariants, kept under the arena lock:
//   - no two adjacent blocks are both free (free coalesces both sides)
//   - blockPrevFree on a block is set iff the block before it is free
//   - the block ending at the highwater mark is never free; freeing it
//     lowers the highwater mark instead
const (
	blockHeaderSize = 8
	minBlockSize    = 32

	blockFree     uint64 = 1 << 0
	blockPrevFree uint64 = 1 << 1
	blockFlagMask uint64 = 7

	// Candidates examined for a best fit in the request's own size class.
	// The rest of the class is searched first fit.
	bestFitScan = 8
)

// blockSizeFor returns the block size needed to hold payload bytes.
func blockSizeFor(payload uint64) uint64 {
	return max(align8U64(payload+blockHeaderSize), minBlockSize)
}

// sizeClass maps a block size to its free-list index.
func sizeClass(size uint64) int {
	c := bits.Len64(size>>5) - 1

	return min(max(c, 0), numSizeClasses-1)
}

func freeHeadOff(class int) uint64 {
	return uint64(offFreeHeads + 8*class)
}

// alloc returns the offset of a block whose payload holds at least payload
// bytes.
//
// Returns a *growError when neither a free block nor the space between the
// highwater mark and the end of the file fits the request; the operation
// loop grows the file and retries. Returns errRemap when the file already
// grew elsewhere. Callers hold m.mu for reading.
func (m *mapping) alloc(payload uint64) (uint64, error) {
	size := blockSizeFor(payload)

	if err := lockWord(m.data, offArenaLock); err != nil {
		return 0, err
	}

	if m.stale() {
		unlockWord(m.data, offArenaLock)

		return 0, errRemap
	}

	off, err := m.allocLocked(size)

	unlockWord(m.data, offArenaLock)

	return off, err
}

func (m *mapping) allocLocked(size uint64) (uint64, error) {
	d := m.data

	off, err := m.takeFree(size)
	if err != nil || off != 0 {
		return off, err
	}

	hw := loadU64(d, offHighwater)
	end := hw + size

	if end > loadU64(d, offTotalSize) {
		return 0, &growError{need: end}
	}

	// The block ending at the highwater mark is never free, so the new
	// block's prev-free bit is clear.
	storeU64(d, hw, size)
	storeU64(d, offHighwater, end)
	addU64(d, offUsedBytes, int64(size))

	return hw, nil
}

// takeFree removes a fitting block from the free lists, splitting off the
// remainder when it is large enough to stand alone. Returns 0 if nothing
// fits.
func (m *mapping) takeFree(size uint64) (uint64, error) {
	d := m.data
	class := sizeClass(size)

	var best, bestSize uint64

	cur := loadU64(d, freeHeadOff(class))
	for i := 0; cur != 0 && i < bestFitScan; i++ {
		s, err := m.freeBlockSize(cur)
		if err != nil {
			return 0, err
		}

		if s >= size && (best == 0 || s < bestSize) {
			best, bestSize = cur, s
			if s == size {
				break
			}
		}

		cur = loadU64(d, cur+8)
	}

	// Past the best-fit window, take the first block of the class that fits.
	limit := loadU64(d, offTotalSize) / minBlockSize
	for steps := uint64(0); best == 0 && cur != 0; steps++ {
		if steps > limit {
			return 0, fmt.Errorf("free list of class %d does not terminate: %w", class, ErrCorrupt)
		}

		s, err := m.freeBlockSize(cur)
		if err != nil {
			return 0, err
		}

		if s >= size {
			best, bestSize = cur, s
		}

		cur = loadU64(d, cur+8)
	}

	// Every block in a larger class is big enough.
	for c := class + 1; best == 0 && c < numSizeClasses; c++ {
		head := loadU64(d, freeHeadOff(c))
		if head == 0 {
			continue
		}

		s, err := m.freeBlockSize(head)
		if err != nil {
			return 0, err
		}

		best, bestSize = head, s
	}

	if best == 0 {
		return 0, nil
	}

	m.unlinkFree(best, bestSize)

	if rest := bestSize - size; rest >= minBlockSize {
		storeU64(d, best, size)
		m.insertFree(best+size, rest)
	} else {
		size = bestSize
		storeU64(d, best, size)

		next := best + size
		storeU64(d, next, loadU64(d, next)&^blockPrevFree)
	}

	addU64(d, offUsedBytes, int64(size))

	return best, nil
}

// insertFree turns [off, off+size) into a free block at the head of its
// size class list.
func (m *mapping) insertFree(off, size uint64) {
	d := m.data
	headOff := freeHeadOff(sizeClass(size))
	head := loadU64(d, headOff)

	storeU64(d, off, size|blockFree)
	storeU64(d, off+8, head)
	storeU64(d, off+16, 0)
	storeU64(d, off+size-8, size)

	if head != 0 {
		storeU64(d, head+16, off)
	}

	storeU64(d, headOff, off)

	next := off + size
	storeU64(d, next, loadU64(d, next)|blockPrevFree)

	addU64(d, offFreeBytes, int64(size))
}

// unlinkFree removes a free block from its size class list.
func (m *mapping) unlinkFree(off, size uint64) {
	d := m.data
	next := loadU64(d, off+8)
	prev := loadU64(d, off+16)

	if prev != 0 {
		storeU64(d, prev+8, next)
	} else {
		storeU64(d, freeHeadOff(sizeClass(size)), next)
	}

	if next != 0 {
		storeU64(d, next+16, prev)
	}

	addU64(d, offFreeBytes, -int64(size))
}

// freeLocked returns the block at off to the allocator, coalescing with
// free neighbours. Callers hold the arena lock.
func (m *mapping) freeLocked(off uint64) error {
	d := m.data

	hdr, err := m.blockHeader(off)
	if err != nil {
		return err
	}

	if hdr&blockFree != 0 {
		return fmt.Errorf("double free of block %d: %w", off, ErrCorrupt)
	}

	size := hdr &^ blockFlagMask

	// Kill the node tag so racing lock-free readers see a dead node.
	storeU64(d, off+blockHeaderSize, 0)
	addU64(d, offUsedBytes, -int64(size))

	start, total := off, size

	if hdr&blockPrevFree != 0 {
		prevSize := loadU64(d, off-8)
		prev := off - prevSize

		ps, err := m.freeBlockSize(prev)
		if err != nil || ps != prevSize {
			return fmt.Errorf("block %d: previous free block at %d is inconsistent: %w", off, prev, ErrCorrupt)
		}

		m.unlinkFree(prev, prevSize)

		start = prev
		total += prevSize
	}

	hw := loadU64(d, offHighwater)

	if next := off + size; next < hw {
		if nh := loadU64(d, next); nh&blockFree != 0 {
			ns, err := m.freeBlockSize(next)
			if err != nil {
				return err
			}

			m.unlinkFree(next, ns)

			total += ns
		}
	}

	if start+total == hw {
		storeU64(d, offHighwater, start)

		return nil
	}

	m.insertFree(start, total)

	return nil
}

// blockHeader reads and bounds-checks the header of the block at off.
func (m *mapping) blockHeader(off uint64) (uint64, error) {
	d := m.data
	dataStart := loadU64(d, offDataStart)
	hw := loadU64(d, offHighwater)

	if off < dataStart || off >= hw || off%8 != 0 {
		return 0, fmt.Errorf("block offset %d outside record area [%d, %d): %w", off, dataStart, hw, ErrCorrupt)
	}

	hdr := loadU64(d, off)
	size := hdr &^ blockFlagMask

	if size < minBlockSize || off+size > hw {
		return 0, fmt.Errorf("block %d has size %d past highwater %d: %w", off, size, hw, ErrCorrupt)
	}

	return hdr, nil
}

// freeBlockSize validates that off is a free block and returns its size.
func (m *mapping) freeBlockSize(off uint64) (uint64, error) {
	hdr, err := m.blockHeader(off)
	if err != nil {
		return 0, err
	}

	if hdr&blockFree == 0 {
		return 0, fmt.Errorf("free list links to allocated block %d: %w", off, ErrCorrupt)
	}

	return hdr &^ blockFlagMask, nil
}

// freeBlocks returns every block in offs to the allocator. Callers must not
// hold m.mu; the file may have grown since the blocks were unlinked, so
// this takes its own read lock and remaps when needed.
func (m *mapping) freeBlocks(offs []uint64) error {
	for {
		m.mu.RLock()

		if err := lockWord(m.data, offArenaLock); err != nil {
			m.mu.RUnlock()

			return err
		}

		if m.stale() {
			unlockWord(m.data, offArenaLock)
			m.mu.RUnlock()

			if err := m.remap(); err != nil {
				return err
			}

			continue
		}

		var err error

		for _, off := range offs {
			if err = m.freeLocked(off); err != nil {
				break
			}
		}

		unlockWord(m.data, offArenaLock)
		m.mu.RUnlock()

		return err
	}
}
