package fastcollection

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/fastcollection/internal/fs"
)

// Locking architecture
//
//  1. collection.mu: per-handle closed flag. Read-held for the whole of
//     every operation so Close cannot unmap underneath one.
//
//  2. mapping.mu: per-file in-process guard, shared by every handle on the
//     same inode. Read-held while an operation touches mapped bytes,
//     write-held to remap or grow. Whole-stack operations write-hold it too,
//     which keeps every in-process push and pop out while the stack is
//     detached.
//
//  3. collection lock word: header spin lock serializing structural edits
//     across processes. Never held while allocating or freeing.
//
//  4. arena lock word: header spin lock around the allocator.
//
//  5. open lock: flock on Path+".lock", held only inside Open while the
//     file is created or validated.
//
// Lock ordering: collection.mu → mapping.mu → collection word → arena word.
// Stack push and pop take no lock word; they wait while the stack gate word
// is set.

// registry maps file identities to their shared mapping.
var registry = xsync.NewMapOf[fileIdentity, *mapping]()

// fsys is the filesystem used for creating, inspecting and removing files.
var fsys fs.FS = fs.NewReal()

// locker serializes Open across goroutines and processes.
var locker = fs.NewLocker(fsys)

// fileIdentity uniquely identifies a file by device and inode.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// mapping is the shared mmap of one collection file.
//
// Multiple handles opened on the same file in one process share a mapping,
// so a remap triggered by one of them is seen by all.
type mapping struct {
	mu   sync.RWMutex
	id   fileIdentity
	path string
	fd   int
	data []byte
	log  *slog.Logger

	// refs counts open handles. Only touched inside registry.Compute.
	refs int
}

// getFileIdentity returns the device and inode for a file.
func getFileIdentity(fd int) (fileIdentity, error) {
	var stat unix.Stat_t

	err := unix.Fstat(fd, &stat)
	if err != nil {
		return fileIdentity{}, fmt.Errorf("stat: %w", err)
	}

	return fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino}, nil
}

// acquireMapping returns the registered mapping for id with its reference
// count incremented, or nil if the file is not mapped in this process.
func acquireMapping(id fileIdentity) *mapping {
	var got *mapping

	registry.Compute(id, func(cur *mapping, loaded bool) (*mapping, bool) {
		if !loaded {
			return nil, true
		}

		cur.refs++
		got = cur

		return cur, false
	})

	return got
}

// registerMapping publishes a freshly created mapping with one reference.
// Callers hold the open lock, so no other goroutine registers the same id.
func registerMapping(m *mapping) {
	m.refs = 1
	registry.Store(m.id, m)
}

// releaseMapping drops one reference and tears the mapping down when it was
// the last one.
func releaseMapping(m *mapping) error {
	last := false

	registry.Compute(m.id, func(cur *mapping, loaded bool) (*mapping, bool) {
		if !loaded || cur != m {
			return cur, !loaded
		}

		cur.refs--
		if cur.refs > 0 {
			return cur, false
		}

		last = true

		return nil, true
	})

	if !last {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var unmapErr error
	if m.data != nil {
		unmapErr = unix.Munmap(m.data)
		m.data = nil
	}

	closeErr := unix.Close(m.fd)

	if unmapErr != nil {
		unmapErr = fmt.Errorf("munmap: %w", unmapErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close: %w", closeErr)
	}

	return errors.Join(unmapErr, closeErr)
}

// mapFile maps size bytes of fd read-write and shared.
func mapFile(fd int, size uint64) ([]byte, error) {
	if size > uint64(maxInt) {
		return nil, fmt.Errorf("mapping of %d bytes exceeds address space: %w", size, ErrInvalidInput)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	// Chain walks jump around the file; readahead only wastes page cache.
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil && !errors.Is(err, unix.EINVAL) {
		_ = unix.Munmap(data)

		return nil, fmt.Errorf("madvise: %w", err)
	}

	return data, nil
}

const maxInt = int(^uint(0) >> 1)

// stale reports whether another handle or process grew the file past the
// current mapping. Callers hold m.mu in either mode.
func (m *mapping) stale() bool {
	return loadU64(m.data, offTotalSize) > uint64(len(m.data))
}

// remap brings the mapping up to the header's total size.
func (m *mapping) remap() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.remapLocked()
}

// remapLocked is remap with m.mu already write-held.
func (m *mapping) remapLocked() error {
	total := loadU64(m.data, offTotalSize)
	if total <= uint64(len(m.data)) {
		return nil
	}

	var stat unix.Stat_t
	if err := unix.Fstat(m.fd, &stat); err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	if uint64(stat.Size) < total {
		return fmt.Errorf("header says %d bytes but file has %d: %w", total, stat.Size, ErrCorrupt)
	}

	data, err := mapFile(m.fd, total)
	if err != nil {
		return err
	}

	old := m.data
	m.data = data

	if err := unix.Munmap(old); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	m.log.Debug("remapped", "path", m.path, "size", total)

	return nil
}

// grow extends the file so that need bytes are addressable, doubling the
// total size and capping it at the header's max size, then remaps.
//
// Returns ErrCapacityExceeded if need is beyond the max size.
func (m *mapping) grow(need uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.remapLocked(); err != nil {
		return err
	}

	if need <= uint64(len(m.data)) {
		return nil
	}

	if err := lockWord(m.data, offArenaLock); err != nil {
		return err
	}

	total := loadU64(m.data, offTotalSize)
	if need > total {
		maxSize := binary.LittleEndian.Uint64(m.data[offMaxSize:])
		if need > maxSize {
			unlockWord(m.data, offArenaLock)

			return fmt.Errorf("need %d bytes, max size is %d: %w", need, maxSize, ErrCapacityExceeded)
		}

		newSize := total
		for newSize < need {
			newSize *= 2
		}

		newSize = min(newSize, maxSize)

		if err := unix.Ftruncate(m.fd, int64(newSize)); err != nil {
			unlockWord(m.data, offArenaLock)

			return fmt.Errorf("grow file to %d bytes: %w", newSize, err)
		}

		storeU64(m.data, offTotalSize, newSize)
		m.log.Info("grew collection file", "path", m.path, "from", total, "to", newSize)
	}

	unlockWord(m.data, offArenaLock)

	return m.remapLocked()
}

// flush writes dirty pages of the whole mapping back to the file.
func (m *mapping) flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.data) == 0 {
		return nil
	}

	return msyncRange(m.data, 0, len(m.data))
}
