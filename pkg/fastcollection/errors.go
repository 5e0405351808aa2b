package fastcollection

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by fastcollection operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, fastcollection.ErrCorrupt) {
//	    fastcollection.Remove(path)
//	    // recreate the collection
//	}
//
// A missing or expired element is not an error. Lookups report it through
// their boolean result.
var (
	// ErrCorrupt indicates the collection file is damaged.
	//
	// Returned by [OpenList] and friends when the header magic, version or
	// checksum do not match or the file is truncated, and by any operation
	// that finds a link pointing outside the record area.
	//
	// Recovery: delete and recreate the collection.
	ErrCorrupt = errors.New("fastcollection: corrupt")

	// ErrIncompatible indicates the file holds a different collection kind,
	// or was created with a different [Options.BucketCount].
	//
	// Recovery: open it with the matching kind, or pass a zero BucketCount
	// to accept the file's value.
	ErrIncompatible = errors.New("fastcollection: incompatible")

	// ErrIndexOutOfRange indicates a list position outside [0, Len).
	//
	// The collection is left unchanged.
	ErrIndexOutOfRange = errors.New("fastcollection: index out of range")

	// ErrCapacityExceeded indicates the file would have to grow beyond
	// [Options.MaxSize] to satisfy a write.
	//
	// The write has no effect.
	//
	// Recovery: remove elements (or call RemoveExpired) and retry, or
	// recreate the collection with a larger MaxSize.
	ErrCapacityExceeded = errors.New("fastcollection: capacity exceeded")

	// ErrClosed indicates the handle has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("fastcollection: closed")

	// ErrInvalidInput indicates invalid arguments or options.
	//
	// Common causes: empty path, payload larger than [MaxPayloadSize],
	// empty map key or set element, negative sizes.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("fastcollection: invalid input")

	// ErrLockAbandoned indicates a process died while holding one of the
	// locks stored in the file header.
	//
	// The structure guarded by the lock may be half-modified.
	//
	// Recovery: close all handles and reopen. Open clears locks held by dead
	// processes. Run RemoveExpired or Clear if the contents look wrong.
	ErrLockAbandoned = errors.New("fastcollection: lock abandoned")

	// ErrBusy indicates another process kept the open lock past the timeout.
	//
	// Recovery: retry after a short delay with backoff.
	ErrBusy = errors.New("fastcollection: busy")
)

// errRemap signals that the file grew in another handle or process and the
// current operation must be retried on a fresh mapping. Never returned to
// callers.
var errRemap = errors.New("fastcollection: mapping is stale")

// growError asks the operation loop to grow the file so that need bytes
// are addressable, then retry. Never returned to callers.
type growError struct {
	need uint64
}

func (e *growError) Error() string {
	return "fastcollection: arena needs to grow"
}

func errIndex(index, count int) error {
	return fmt.Errorf("index %d, length %d: %w", index, count, ErrIndexOutOfRange)
}

func errCountMismatch(count int) error {
	return fmt.Errorf("chain shorter than its count %d: %w", count, ErrCorrupt)
}
