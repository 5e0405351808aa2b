package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrWouldBlock is returned by [Locker.TryLock] when another descriptor
	// holds the lock, and by [Locker.LockWithTimeout] when the timeout
	// expires.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned for a timeout <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errReplaced means the lock file at path is no longer the inode that
	// was locked. Callers retry with a fresh open.
	errReplaced = errors.New("lock file replaced")
)

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755

	pollMin = time.Millisecond
	pollMax = 25 * time.Millisecond
)

// Locker takes exclusive flock(2) locks on lock files.
//
// flock applies to an inode, so after locking the Locker checks that path
// still names the locked inode and retries otherwise. A lock file may only
// be removed by the holder of its lock; lockers queued on the removed inode
// then retry on a fresh file.
//
// Locks are per open file description: two Locks on one path in the same
// process exclude each other just like two processes do.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker returns a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs, flock: syscall.Flock}
}

// Lock is a held lock. Close releases it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close unlocks and closes the lock file. Later calls return nil.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := flockEINTR(lk.flock, int(lk.file.Fd()), syscall.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close lock file: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// Lock blocks until it holds the lock at path, creating the file and its
// parent directories when missing.
func (l *Locker) Lock(path string) (*Lock, error) {
	for {
		lk, err := l.attempt(path, true)
		if errors.Is(err, errReplaced) {
			continue
		}

		return lk, err
	}
}

// TryLock takes the lock at path or fails with [ErrWouldBlock] at once.
func (l *Locker) TryLock(path string) (*Lock, error) {
	lk, err := l.attempt(path, false)
	if errors.Is(err, errReplaced) {
		return nil, fmt.Errorf("%w: lock file was replaced", ErrWouldBlock)
	}

	return lk, err
}

// LockWithTimeout polls for the lock at path, backing off from 1ms to
// 25ms, until timeout has passed. The error wraps [ErrWouldBlock] on
// timeout.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	deadline := time.Now().Add(timeout)
	wait := pollMin

	for {
		lk, err := l.attempt(path, false)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errReplaced) {
			return nil, err
		}

		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		time.Sleep(min(wait, left))

		wait = min(2*wait, pollMax)
	}
}

// attempt opens the lock file and locks it once. On failure the file is
// closed.
func (l *Locker) attempt(path string, block bool) (*Lock, error) {
	f, err := l.openLockFile(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := syscall.LOCK_EX
	if !block {
		how |= syscall.LOCK_NB
	}

	fd := int(f.Fd())

	if err := flockEINTR(l.flock, fd, how); err != nil {
		_ = f.Close()

		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock: %w", err)
	}

	same, err := l.sameInode(path, f)
	if err != nil || !same {
		_ = flockEINTR(l.flock, fd, syscall.LOCK_UN)
		_ = f.Close()

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("check lock file: %w", err)
		}

		return nil, errReplaced
	}

	return &Lock{file: f, flock: l.flock}, nil
}

func (l *Locker) openLockFile(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// sameInode reports whether path still names the file f has open.
func (l *Locker) sameInode(path string, f File) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}

	cur, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	a, okA := held.Sys().(*syscall.Stat_t)
	b, okB := cur.Sys().(*syscall.Stat_t)

	if !okA || !okB {
		return false, fmt.Errorf("stat has no inode (%T, %T)", held.Sys(), cur.Sys())
	}

	return a.Dev == b.Dev && a.Ino == b.Ino, nil
}

// flockEINTR retries flock while a signal interrupts it, up to a bound.
func flockEINTR(flock func(fd int, how int) error, fd int, how int) error {
	var err error

	for range 10000 {
		err = flock(fd, how)
		if !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}
