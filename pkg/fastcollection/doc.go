// Package fastcollection provides persistent, mmap-backed collections with
// per-element expiry.
//
// Each collection (list, set, map, queue or stack) lives in a single file.
// The file starts with a fixed header page followed by an allocator-managed
// record area. Every internal reference is a file offset, so a file can be
// remapped after growth, or mapped by several processes at different
// addresses, without rewriting links.
//
// Payloads are opaque byte slices. They are copied into the file on write
// and copied out on read; callers never see mapped memory.
//
// # Basic Usage
//
//	m, err := fastcollection.OpenMap(fastcollection.Options{
//	    Path:        "/tmp/sessions.fcm",
//	    BucketCount: 4096,
//	})
//	if err != nil {
//	    // handle [ErrCorrupt]/[ErrIncompatible] by deleting and recreating
//	}
//	defer m.Close()
//
//	err = m.Put([]byte("user:1"), []byte("token"), 30*time.Minute)
//	token, ok, err := m.Get([]byte("user:1"))
//
// # Expiry
//
// Every write takes a TTL: [NoExpiry] (or any negative duration) keeps the
// element forever, zero expires it immediately and a positive duration
// expires it that long after the call. Expired elements are never returned.
// Reads unlink the expired elements they walk over; RemoveExpired reclaims
// all of them in one pass, and [Options.SweepInterval] runs it periodically.
//
// # Concurrency
//
// All handles are safe for concurrent use by multiple goroutines, and a
// file may be opened by several processes at once. Structural changes are
// serialized by a lock stored in the file header. Stack push and pop are
// lock-free.
//
// # Error Handling
//
// Rebuild errors ([ErrCorrupt]): delete the file and recreate it.
//
// Caller errors ([ErrInvalidInput], [ErrIndexOutOfRange], [ErrIncompatible],
// [ErrClosed]): fix the call.
//
// Capacity errors ([ErrCapacityExceeded]): free space or raise MaxSize.
//
// Lock errors ([ErrBusy], [ErrLockAbandoned]): retry, or reopen after a
// crashed process.
package fastcollection
