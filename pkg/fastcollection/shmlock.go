package fastcollection

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// Header lock words.
//
// A lock word holds the PID of the process that owns it, or 0. Goroutines
// of one process share a PID, so the word is an ordinary (non-reentrant)
// mutex inside a process and a process-shared one across processes.
//
// A holder that dies leaves its PID behind. Waiters notice after a while
// and fail with ErrLockAbandoned instead of spinning forever. Open clears
// such words while it holds the open lock.

// selfPID is this process's PID, as stored in lock words.
var selfPID = uint32(os.Getpid())

const (
	// Attempts spent yielding before backoff starts sleeping.
	spinYields = 64

	// Longest sleep between attempts.
	maxSpinSleep = time.Millisecond

	// Owner liveness is checked every this many attempts.
	livenessEvery = 256
)

// spinBackoff waits before the next attempt on a contended word.
func spinBackoff(attempt int) {
	if attempt < spinYields {
		runtime.Gosched()

		return
	}

	shift := min(attempt-spinYields, 10)

	time.Sleep(min(time.Microsecond<<shift, maxSpinSleep))
}

// lockWord acquires the lock word at off.
func lockWord(data []byte, off uint64) error {
	for attempt := 0; ; attempt++ {
		if casU32(data, off, 0, selfPID) {
			return nil
		}

		if attempt > 0 && attempt%livenessEvery == 0 {
			if err := checkOwner(data, off); err != nil {
				return err
			}
		}

		spinBackoff(attempt)
	}
}

// unlockWord releases a word taken with lockWord.
func unlockWord(data []byte, off uint64) {
	storeU32(data, off, 0)
}

// waitWordClear blocks until the word at off is 0. Used by stack push and
// pop to wait out a whole-stack operation.
func waitWordClear(data []byte, off uint64) error {
	for attempt := 0; loadU32(data, off) != 0; attempt++ {
		if attempt > 0 && attempt%livenessEvery == 0 {
			if err := checkOwner(data, off); err != nil {
				return err
			}
		}

		spinBackoff(attempt)
	}

	return nil
}

// checkOwner returns ErrLockAbandoned if the word is held by a process that
// no longer exists.
func checkOwner(data []byte, off uint64) error {
	owner := loadU32(data, off)
	if owner == 0 || owner == selfPID || processAlive(owner) {
		return nil
	}

	return fmt.Errorf("lock at header offset %#x held by dead pid %d: %w", off, owner, ErrLockAbandoned)
}

// processAlive reports whether pid names a running process. EPERM means it
// exists but belongs to someone else.
func processAlive(pid uint32) bool {
	err := unix.Kill(int(pid), 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

// recoverLockWords clears header lock words owned by dead processes and
// returns the offsets it cleared. Callers hold the open lock, so no other
// process is inside Open; live holders are left alone.
func recoverLockWords(data []byte) []uint64 {
	var cleared []uint64

	for _, off := range []uint64{offArenaLock, offCollLock, offStackGate} {
		owner := loadU32(data, off)
		if owner == 0 || owner == selfPID || processAlive(owner) {
			continue
		}

		if casU32(data, off, owner, 0) {
			cleared = append(cleared, off)
		}
	}

	return cleared
}

func lockWordName(off uint64) string {
	switch off {
	case offArenaLock:
		return "arena"
	case offCollLock:
		return "collection"
	case offStackGate:
		return "stack-gate"
	default:
		return fmt.Sprintf("%#x", off)
	}
}
