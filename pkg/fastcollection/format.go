package fastcollection

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// isLittleEndian is true if the CPU uses little-endian byte order.
// Computed once at package init time.
var isLittleEndian = func() bool {
	var x uint32 = 0x04030201

	return *(*byte)(unsafe.Pointer(&x)) == 0x01
}()

// is64Bit is true if the architecture has 64-bit pointers.
// Required for atomic 64-bit operations across processes.
var is64Bit = unsafe.Sizeof(uintptr(0)) >= 8

// FCL1 file format constants.
const (
	fclVersion    = 1
	fclHeaderSize = 4096

	// Free-list size classes: class c holds blocks in [32<<c, 32<<(c+1)),
	// the last class is unbounded.
	numSizeClasses = 16
)

var fclMagic = [4]byte{'F', 'C', 'L', '1'}

// Kind identifies which collection a file holds. It is fixed at creation.
type Kind uint32

// Collection kinds, as stored in the header.
const (
	KindList  Kind = 1
	KindSet   Kind = 2
	KindMap   Kind = 3
	KindQueue Kind = 4
	KindStack Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	case KindQueue:
		return "queue"
	case KindStack:
		return "stack"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// ParseKind maps a kind name ("list", "set", "map", "queue", "stack") to
// its Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindList; k <= KindStack; k++ {
		if k.String() == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown collection kind %q: %w", s, ErrInvalidInput)
}

func (k Kind) valid() bool {
	return k >= KindList && k <= KindStack
}

// hashed reports whether the kind uses the bucket array.
func (k Kind) hashed() bool {
	return k == KindSet || k == KindMap
}

// Header field offsets (bytes from file start).
//
// Everything before offHeaderCRC is written once at creation and covered
// by the CRC. Everything from offTotalSize on is mutated while the file is
// in use and is only ever touched through the atomic helpers below.
const (
	offMagic       = 0x000 // [4]byte
	offVersion     = 0x004 // uint32
	offHeaderSize  = 0x008 // uint32
	offKind        = 0x00C // uint32
	offBucketCount = 0x010 // uint64
	offInitialSize = 0x018 // uint64
	offMaxSize     = 0x020 // uint64
	offCreatedAt   = 0x028 // int64, unix nanoseconds
	offDataStart   = 0x030 // uint64
	offHeaderCRC   = 0x038 // uint32, CRC32-C over [0x000, 0x038)

	offTotalSize  = 0x040 // uint64, bytes addressable by offsets
	offHighwater  = 0x048 // uint64, end of the last block
	offFreeBytes  = 0x050 // uint64, bytes held by free-list blocks
	offUsedBytes  = 0x058 // uint64, bytes held by allocated blocks
	offArenaLock  = 0x060 // uint32, owner PID or 0
	offCollLock   = 0x064 // uint32, owner PID or 0
	offStackGate  = 0x068 // uint32, owner PID or 0
	offCount      = 0x070 // int64, element count
	offHead       = 0x078 // uint64, list/queue head, stack top (tagged)
	offTail       = 0x080 // uint64, list/queue tail
	offNextExpiry = 0x088 // int64, lower bound of pending expiries, 0 = none
	offModifiedAt = 0x090 // int64, unix nanoseconds
	offFreeHeads  = 0x0A0 // [numSizeClasses]uint64

	offReservedStart = offFreeHeads + 8*numSizeClasses
)

// fclHeader is the decoded immutable part of the header plus a snapshot of
// the allocator fields, used for creation and validation.
type fclHeader struct {
	Magic       [4]byte
	Version     uint32
	HeaderSize  uint32
	Kind        Kind
	BucketCount uint64
	InitialSize uint64
	MaxSize     uint64
	CreatedAt   int64
	DataStart   uint64
	HeaderCRC   uint32

	TotalSize uint64
	Highwater uint64
	FreeBytes uint64
	UsedBytes uint64
	Count     int64
	Head      uint64
	Tail      uint64
	FreeHeads [numSizeClasses]uint64
}

// newHeader builds the header of an empty file.
func newHeader(kind Kind, bucketCount, initialSize, maxSize uint64, createdAt int64) fclHeader {
	dataStart := dataStartFor(bucketCount)

	return fclHeader{
		Magic:       fclMagic,
		Version:     fclVersion,
		HeaderSize:  fclHeaderSize,
		Kind:        kind,
		BucketCount: bucketCount,
		InitialSize: initialSize,
		MaxSize:     maxSize,
		CreatedAt:   createdAt,
		DataStart:   dataStart,
		TotalSize:   initialSize,
		Highwater:   dataStart,
	}
}

// dataStartFor returns the first allocator-managed offset: the header page
// followed by the bucket array.
func dataStartFor(bucketCount uint64) uint64 {
	return align8U64(fclHeaderSize + 8*bucketCount)
}

// encodeHeader serializes the header into a full header page.
func encodeHeader(h *fclHeader) []byte {
	buf := make([]byte, fclHeaderSize)

	copy(buf[offMagic:], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[offKind:], uint32(h.Kind))
	binary.LittleEndian.PutUint64(buf[offBucketCount:], h.BucketCount)
	binary.LittleEndian.PutUint64(buf[offInitialSize:], h.InitialSize)
	binary.LittleEndian.PutUint64(buf[offMaxSize:], h.MaxSize)
	putInt64LE(buf[offCreatedAt:], h.CreatedAt)
	binary.LittleEndian.PutUint64(buf[offDataStart:], h.DataStart)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC:], computeHeaderCRC(buf))

	binary.LittleEndian.PutUint64(buf[offTotalSize:], h.TotalSize)
	binary.LittleEndian.PutUint64(buf[offHighwater:], h.Highwater)
	binary.LittleEndian.PutUint64(buf[offFreeBytes:], h.FreeBytes)
	binary.LittleEndian.PutUint64(buf[offUsedBytes:], h.UsedBytes)
	putInt64LE(buf[offCount:], h.Count)
	binary.LittleEndian.PutUint64(buf[offHead:], h.Head)
	binary.LittleEndian.PutUint64(buf[offTail:], h.Tail)
	putInt64LE(buf[offModifiedAt:], h.CreatedAt)

	for i, head := range h.FreeHeads {
		binary.LittleEndian.PutUint64(buf[offFreeHeads+8*i:], head)
	}

	return buf
}

// decodeHeader parses a header page. It does not validate.
func decodeHeader(buf []byte) fclHeader {
	var h fclHeader

	copy(h.Magic[:], buf[offMagic:offMagic+4])
	h.Version = binary.LittleEndian.Uint32(buf[offVersion:])
	h.HeaderSize = binary.LittleEndian.Uint32(buf[offHeaderSize:])
	h.Kind = Kind(binary.LittleEndian.Uint32(buf[offKind:]))
	h.BucketCount = binary.LittleEndian.Uint64(buf[offBucketCount:])
	h.InitialSize = binary.LittleEndian.Uint64(buf[offInitialSize:])
	h.MaxSize = binary.LittleEndian.Uint64(buf[offMaxSize:])
	h.CreatedAt = getInt64LE(buf[offCreatedAt:])
	h.DataStart = binary.LittleEndian.Uint64(buf[offDataStart:])
	h.HeaderCRC = binary.LittleEndian.Uint32(buf[offHeaderCRC:])

	h.TotalSize = binary.LittleEndian.Uint64(buf[offTotalSize:])
	h.Highwater = binary.LittleEndian.Uint64(buf[offHighwater:])
	h.FreeBytes = binary.LittleEndian.Uint64(buf[offFreeBytes:])
	h.UsedBytes = binary.LittleEndian.Uint64(buf[offUsedBytes:])
	h.Count = getInt64LE(buf[offCount:])
	h.Head = binary.LittleEndian.Uint64(buf[offHead:])
	h.Tail = binary.LittleEndian.Uint64(buf[offTail:])

	for i := range h.FreeHeads {
		h.FreeHeads[i] = binary.LittleEndian.Uint64(buf[offFreeHeads+8*i:])
	}

	return h
}

// computeHeaderCRC computes CRC32-C over the immutable header block.
func computeHeaderCRC(buf []byte) uint32 {
	return crc32.Checksum(buf[:offHeaderCRC], crc32.MakeTable(crc32.Castagnoli))
}

// validateHeader checks a header page against the file it was read from.
//
// want is the kind the caller asked for; zero accepts any kind. fileSize is
// the current length of the file.
//
// Identity, checksum and layout problems are ErrCorrupt. A valid file of a
// different kind is ErrIncompatible.
func validateHeader(buf []byte, want Kind, fileSize int64) (fclHeader, error) {
	if len(buf) < fclHeaderSize || fileSize < fclHeaderSize {
		return fclHeader{}, fmt.Errorf("file is %d bytes, shorter than the header: %w", fileSize, ErrCorrupt)
	}

	h := decodeHeader(buf)

	if h.Magic != fclMagic {
		return fclHeader{}, fmt.Errorf("bad magic %q: %w", h.Magic[:], ErrCorrupt)
	}

	if h.Version != fclVersion {
		return fclHeader{}, fmt.Errorf("unsupported version %d: %w", h.Version, ErrCorrupt)
	}

	if h.HeaderSize != fclHeaderSize {
		return fclHeader{}, fmt.Errorf("header size %d, want %d: %w", h.HeaderSize, fclHeaderSize, ErrCorrupt)
	}

	if crc := computeHeaderCRC(buf); crc != h.HeaderCRC {
		return fclHeader{}, fmt.Errorf("header crc %08x, computed %08x: %w", h.HeaderCRC, crc, ErrCorrupt)
	}

	if !h.Kind.valid() {
		return fclHeader{}, fmt.Errorf("unknown kind %d: %w", uint32(h.Kind), ErrCorrupt)
	}

	if want != 0 && h.Kind != want {
		return fclHeader{}, fmt.Errorf("file holds a %s, not a %s: %w", h.Kind, want, ErrIncompatible)
	}

	if h.Kind.hashed() != (h.BucketCount > 0) || h.BucketCount > maxBucketCount {
		return fclHeader{}, fmt.Errorf("bucket count %d invalid for %s: %w", h.BucketCount, h.Kind, ErrCorrupt)
	}

	if h.DataStart != dataStartFor(h.BucketCount) {
		return fclHeader{}, fmt.Errorf("data start %d, want %d: %w", h.DataStart, dataStartFor(h.BucketCount), ErrCorrupt)
	}

	if h.MaxSize > maxFileSize || h.TotalSize > h.MaxSize || h.TotalSize < h.DataStart {
		return fclHeader{}, fmt.Errorf("total size %d outside [%d, %d]: %w", h.TotalSize, h.DataStart, h.MaxSize, ErrCorrupt)
	}

	if uint64(fileSize) < h.TotalSize {
		return fclHeader{}, fmt.Errorf("file is %d bytes, header says %d (truncated): %w", fileSize, h.TotalSize, ErrCorrupt)
	}

	if h.Highwater < h.DataStart || h.Highwater > h.TotalSize || h.Highwater%8 != 0 {
		return fclHeader{}, fmt.Errorf("highwater %d outside [%d, %d]: %w", h.Highwater, h.DataStart, h.TotalSize, ErrCorrupt)
	}

	if h.Count < 0 {
		return fclHeader{}, fmt.Errorf("negative count %d: %w", h.Count, ErrCorrupt)
	}

	if h.FreeBytes+h.UsedBytes > h.Highwater-h.DataStart {
		return fclHeader{}, fmt.Errorf("allocator accounts for %d bytes in a %d byte area: %w",
			h.FreeBytes+h.UsedBytes, h.Highwater-h.DataStart, ErrCorrupt)
	}

	head := h.Head
	if h.Kind == KindStack {
		head = tagOffset(head)
	}

	for _, ref := range append([]uint64{head, h.Tail}, h.FreeHeads[:]...) {
		if ref != 0 && (ref < h.DataStart || ref >= h.Highwater || ref%8 != 0) {
			return fclHeader{}, fmt.Errorf("root offset %d outside record area: %w", ref, ErrCorrupt)
		}
	}

	return h, nil
}

// FNV-1a 64-bit hash constants.
const (
	fnv1aOffsetBasis uint64 = 14695981039346656037
	fnv1aPrime       uint64 = 1099511628211
)

// fnv1a64 computes the FNV-1a 64-bit hash over key bytes.
func fnv1a64(key []byte) uint64 {
	hash := fnv1aOffsetBasis
	for _, b := range key {
		hash ^= uint64(b)
		hash *= fnv1aPrime
	}

	return hash
}

// align8U64 rounds x up to the next multiple of 8.
func align8U64(x uint64) uint64 {
	return (x + 7) &^ 7
}

// alignPage rounds x up to the next multiple of the system page size.
func alignPage(x uint64) uint64 {
	ps := uint64(pageSize)

	return (x + ps - 1) / ps * ps
}

// putInt64LE writes an int64 to buf in little-endian byte order.
func putInt64LE(buf []byte, value int64) {
	binary.LittleEndian.PutUint64(buf, uint64(value))
}

// getInt64LE reads an int64 from buf in little-endian byte order.
func getInt64LE(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// Atomic accessors for 8- and 4-byte fields inside the mapping.
//
// Every mutable header field and every node link is read and written
// through these, because other processes touch the same bytes without going
// through Go's memory model. Callers guarantee off is in bounds and
// naturally aligned (the format keeps every such field aligned; the mapping
// itself is page aligned). Go's sync/atomic operations are sequentially
// consistent, which is stronger than the acquire/release pairs we need.

func loadU64(data []byte, off uint64) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&data[off])))
}

func storeU64(data []byte, off uint64, val uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&data[off])), val)
}

func casU64(data []byte, off uint64, old, val uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(&data[off])), old, val)
}

func addU64(data []byte, off uint64, delta int64) uint64 {
	return atomic.AddUint64((*uint64)(unsafe.Pointer(&data[off])), uint64(delta))
}

func loadI64(data []byte, off uint64) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&data[off])))
}

func storeI64(data []byte, off uint64, val int64) {
	atomic.StoreInt64((*int64)(unsafe.Pointer(&data[off])), val)
}

func casI64(data []byte, off uint64, old, val int64) bool {
	return atomic.CompareAndSwapInt64((*int64)(unsafe.Pointer(&data[off])), old, val)
}

func addI64(data []byte, off uint64, delta int64) int64 {
	return atomic.AddInt64((*int64)(unsafe.Pointer(&data[off])), delta)
}

func loadU32(data []byte, off uint64) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&data[off])))
}

func storeU32(data []byte, off uint64, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&data[off])), val)
}

func casU32(data []byte, off uint64, old, val uint32) bool {
	return atomic.CompareAndSwapUint32((*uint32)(unsafe.Pointer(&data[off])), old, val)
}

// Stack tops pack the node offset with an ABA tag that changes on every
// successful swap.
const (
	tagShift  = 48
	tagOffMax = uint64(1)<<tagShift - 1
)

func tagOffset(word uint64) uint64 { return word & tagOffMax }

func tagCount(word uint64) uint64 { return word >> tagShift }

func packTag(off, tag uint64) uint64 {
	return (tag&0xFFFF)<<tagShift | off&tagOffMax
}

// pageSize is the system page size, used for aligning sizes and msync ranges.
var pageSize = unix.Getpagesize()

// msyncRange performs a synchronous msync on the given byte range.
// The range is page-aligned, as msync requires on some platforms.
func msyncRange(data []byte, offset, length int) error {
	if length <= 0 {
		return fmt.Errorf("msyncRange: length %d <= 0: %w", length, ErrInvalidInput)
	}

	if offset < 0 || offset >= len(data) {
		return fmt.Errorf("msyncRange: offset %d outside [0, %d): %w", offset, len(data), ErrInvalidInput)
	}

	if offset+length > len(data) {
		length = len(data) - offset
	}

	alignedStart := (offset / pageSize) * pageSize
	alignedEnd := min(((offset+length+pageSize-1)/pageSize)*pageSize, len(data))

	err := unix.Msync(data[alignedStart:alignedEnd], unix.MS_SYNC)
	if err != nil {
		return fmt.Errorf("msync: %w", err)
	}

	return nil
}
