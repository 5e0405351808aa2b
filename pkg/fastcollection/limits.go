package fastcollection

import "time"

// Defaults applied when the corresponding [Options] field is zero.
const (
	// DefaultInitialSize is the size of a newly created file.
	DefaultInitialSize = 64 << 20 // 64 MiB

	// DefaultMaxSize caps file growth.
	DefaultMaxSize = 16 << 30 // 16 GiB

	// DefaultBucketCount is the hash table width for sets and maps.
	DefaultBucketCount = 16384

	// DefaultSweepInterval is the interval used by the CLI when it enables the
	// background sweeper. The library leaves the sweeper off unless
	// [Options.SweepInterval] is set.
	DefaultSweepInterval = time.Second
)

// MaxPayloadSize is the largest key or value a single element may carry.
const MaxPayloadSize = 16 << 20 // 16 MiB

// Hardcoded implementation limits.
//
// All limit violations are configuration errors and return ErrInvalidInput.
const (
	// Smallest file we create. Smaller InitialSize values are rounded up.
	minInitialSize = 64 << 10

	// Stack tops pack a 48-bit offset with a 16-bit ABA tag, so no offset
	// may reach 2^48.
	maxFileSize = uint64(1)<<48 - 1

	// Bucket arrays larger than this are almost certainly a typo.
	maxBucketCount = 1 << 26

	// How long Open waits for another process holding the open lock.
	openLockTimeout = 5 * time.Second
)
