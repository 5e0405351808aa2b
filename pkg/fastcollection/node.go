package fastcollection

import (
	"bytes"
	"fmt"
)

// Node layout, relative to the offset of the block holding it:
//
//	+0x08  tag      uint32  nodeTagLive while the node is allocated
//	+0x0C  keyLen   uint32
//	+0x10  valLen   uint32
//	+0x14  hash     uint32  low 32 bits of the key hash (set/map)
//	+0x18  expires  int64   unix nanoseconds, 0 = never
//	+0x20  next     uint64
//	+0x28  prev     uint64  list/queue only
//	+0x30  key bytes, then value bytes
//
// Nodes are referenced by block offset. Lists, queues and stacks store only
// a value, sets only a key, maps both.
const (
	nodeTag     = blockHeaderSize + 0x00
	nodeKeyLen  = blockHeaderSize + 0x04
	nodeValLen  = blockHeaderSize + 0x08
	nodeHash    = blockHeaderSize + 0x0C
	nodeExpires = blockHeaderSize + 0x10
	nodeNext    = blockHeaderSize + 0x18
	nodePrev    = blockHeaderSize + 0x20
	nodeData    = blockHeaderSize + 0x28

	nodeFixedSize = nodeData - blockHeaderSize

	nodeTagLive uint32 = 0x45444F4E // "NODE"
)

// checkPayload rejects payloads the node format cannot hold.
func checkPayload(what string, b []byte) error {
	if len(b) > MaxPayloadSize {
		return fmt.Errorf("%s is %d bytes, max %d: %w", what, len(b), MaxPayloadSize, ErrInvalidInput)
	}

	return nil
}

// checkKey rejects empty or oversized map keys and set elements.
func checkKey(what string, b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%s is empty: %w", what, ErrInvalidInput)
	}

	return checkPayload(what, b)
}

// newNode allocates a node and fills it in. The node is not linked anywhere
// yet, so no collection lock is needed.
func (o *op) newNode(key, val []byte, hash uint32, exp int64) (uint64, error) {
	off, err := o.m.alloc(uint64(nodeFixedSize + len(key) + len(val)))
	if err != nil {
		return 0, err
	}

	d := o.d
	data := off + nodeData

	copy(d[data:], key)
	copy(d[data+uint64(len(key)):], val)

	storeU32(d, off+nodeKeyLen, uint32(len(key)))
	storeU32(d, off+nodeValLen, uint32(len(val)))
	storeU32(d, off+nodeHash, hash)
	storeI64(d, off+nodeExpires, exp)
	storeU64(d, off+nodeNext, 0)
	storeU64(d, off+nodePrev, 0)
	storeU32(d, off+nodeTag, nodeTagLive)

	return off, nil
}

// checkNode verifies that off refers to a live node inside the record area.
//
// Returns errRemap if the node lies beyond the current mapping but inside
// the file, which happens when another process grew the file and linked a
// node there.
func (o *op) checkNode(off uint64) error {
	d := o.d

	if off+nodeData > uint64(len(d)) {
		if off+nodeData <= loadU64(d, offTotalSize) {
			return errRemap
		}

		return fmt.Errorf("node %d beyond end of file: %w", off, ErrCorrupt)
	}

	dataStart := loadU64(d, offDataStart)
	hw := loadU64(d, offHighwater)

	if off < dataStart || off+minBlockSize > hw || off%8 != 0 {
		return fmt.Errorf("link to %d outside record area [%d, %d): %w", off, dataStart, hw, ErrCorrupt)
	}

	hdr := loadU64(d, off)
	size := hdr &^ blockFlagMask

	if hdr&blockFree != 0 || off+size > hw {
		return fmt.Errorf("link to %d does not name an allocated block: %w", off, ErrCorrupt)
	}

	if tag := loadU32(d, off+nodeTag); tag != nodeTagLive {
		return fmt.Errorf("node %d has tag %#x: %w", off, tag, ErrCorrupt)
	}

	kl := uint64(loadU32(d, off+nodeKeyLen))
	vl := uint64(loadU32(d, off+nodeValLen))

	if nodeData+kl+vl > size {
		return fmt.Errorf("node %d holds %d payload bytes in a %d byte block: %w", off, kl+vl, size, ErrCorrupt)
	}

	return nil
}

// stepLimit bounds chain walks: a chain longer than the number of blocks
// the record area can hold must contain a cycle.
func (o *op) stepLimit() int {
	d := o.d

	return int((loadU64(d, offHighwater)-loadU64(d, offDataStart))/minBlockSize) + 1
}

func errCycle(start uint64) error {
	return fmt.Errorf("chain from %d does not terminate: %w", start, ErrCorrupt)
}

func (o *op) next(off uint64) uint64 { return loadU64(o.d, off+nodeNext) }

func (o *op) prev(off uint64) uint64 { return loadU64(o.d, off+nodePrev) }

func (o *op) setNext(off, next uint64) { storeU64(o.d, off+nodeNext, next) }

func (o *op) setPrev(off, prev uint64) { storeU64(o.d, off+nodePrev, prev) }

func (o *op) expiresAt(off uint64) int64 { return loadI64(o.d, off+nodeExpires) }

func (o *op) expired(off uint64) bool { return isExpired(o.expiresAt(off), o.now) }

// key returns the node's key bytes inside the mapping. The slice must not
// escape the operation.
func (o *op) key(off uint64) []byte {
	start := off + nodeData
	kl := uint64(loadU32(o.d, off+nodeKeyLen))

	return o.d[start : start+kl]
}

// value returns the node's value bytes inside the mapping. The slice must
// not escape the operation.
func (o *op) value(off uint64) []byte {
	start := off + nodeData + uint64(loadU32(o.d, off+nodeKeyLen))
	vl := uint64(loadU32(o.d, off+nodeValLen))

	return o.d[start : start+vl]
}

// valueCopy returns a caller-owned copy of the node's value. Empty values
// come back as a non-nil empty slice.
func (o *op) valueCopy(off uint64) []byte {
	return append([]byte{}, o.value(off)...)
}

func (o *op) keyCopy(off uint64) []byte {
	return append([]byte{}, o.key(off)...)
}

// keyMatches compares a node's key against key, checking the stored hash
// first.
func (o *op) keyMatches(off uint64, key []byte, hash uint32) bool {
	return loadU32(o.d, off+nodeHash) == hash && bytes.Equal(o.key(off), key)
}

func (o *op) valueEquals(off uint64, val []byte) bool {
	return bytes.Equal(o.value(off), val)
}
