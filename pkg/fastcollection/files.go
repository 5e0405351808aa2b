package fastcollection

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/calvinalkan/fastcollection/internal/fs"
)

// FileInfo describes a collection file as stored in its header.
type FileInfo struct {
	Path        string
	Kind        Kind
	Version     uint32
	BucketCount int
	InitialSize uint64
	MaxSize     uint64
	TotalSize   uint64
	Highwater   uint64
	UsedBytes   uint64
	FreeBytes   uint64
	Len         int
	CreatedAt   time.Time
	FileSize    int64
}

// Inspect reads and validates the header of the file at path without
// attaching to it. Counters may be stale if another process is writing.
//
// Returns [ErrCorrupt] if the header fails validation.
func Inspect(path string) (FileInfo, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("inspect: %w", err)
	}

	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return FileInfo{}, fmt.Errorf("inspect: %w", err)
	}

	buf := make([]byte, fclHeaderSize)

	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FileInfo{}, fmt.Errorf("inspect: read header: %w", err)
	}

	h, err := validateHeader(buf[:n], 0, st.Size())
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Path:        path,
		Kind:        h.Kind,
		Version:     h.Version,
		BucketCount: int(h.BucketCount),
		InitialSize: h.InitialSize,
		MaxSize:     h.MaxSize,
		TotalSize:   h.TotalSize,
		Highwater:   h.Highwater,
		UsedBytes:   h.UsedBytes,
		FreeBytes:   h.FreeBytes,
		Len:         int(h.Count),
		CreatedAt:   time.Unix(0, h.CreatedAt),
		FileSize:    st.Size(),
	}, nil
}

// IsValidFile reports whether path holds a collection file with a valid
// header.
func IsValidFile(path string) bool {
	_, err := Inspect(path)

	return err == nil
}

// Remove deletes a collection file and its lock file. It holds the lock
// that Open takes, so it never runs in the middle of another Open; an Open
// that was waiting on the unlinked lock file retries on a fresh one and
// creates a new collection. Handles still open on the file keep working on
// the unlinked inode. A missing file is not an error.
func Remove(path string) error {
	lockPath := path + ".lock"

	fileExists, err := fsys.Exists(path)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	lockExists, err := fsys.Exists(lockPath)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	if !fileExists && !lockExists {
		return nil
	}

	lock, err := locker.LockWithTimeout(lockPath, openLockTimeout)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return fmt.Errorf("remove %s: %w", path, ErrBusy)
		}

		return fmt.Errorf("remove %s: lock: %w", path, err)
	}

	fileErr := fsys.Remove(path)
	if errors.Is(fileErr, os.ErrNotExist) {
		fileErr = nil
	}

	// Unlinked while held: lockers queued on this inode see it replaced
	// and retry.
	lockErr := fsys.Remove(lockPath)
	if errors.Is(lockErr, os.ErrNotExist) {
		lockErr = nil
	}

	return errors.Join(fileErr, lockErr, lock.Close())
}
