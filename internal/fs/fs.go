// Package fs is the filesystem seam used by collection files and the fcol
// tool.
//
// The main types are:
//   - [FS]: the operations collection code performs on paths
//   - [File]: an open file, satisfied by [os.File]
//   - [Real]: the [os] backed implementation
//   - [Faulty]: wraps an [FS] and fails chosen operations, for tests
//   - [Locker]: flock based exclusive locks on lock files
//
// Mapping and msync go straight to the kernel through a file descriptor;
// only path level work (create, rename, remove, lock files, history files)
// goes through [FS].
package fs

import (
	"io"
	"os"
)

// File is an open file.
//
// Collection files are sized with Truncate and written with WriteAt before
// they are mapped, so both are part of the interface.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	// Fd returns the descriptor, used for flock.
	Fd() uintptr

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// FS is the set of path operations collection code needs. All methods
// mirror their [os] equivalents, including error values, so
// errors.Is(err, os.ErrNotExist) works through any implementation.
type FS interface {
	// Open opens path read-only. Directories may be opened to Sync them.
	Open(path string) (File, error)

	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with data through a temp file and a
	// rename, so readers see either the old or the new contents.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	MkdirAll(path string, perm os.FileMode) error

	Stat(path string) (os.FileInfo, error)

	// Exists returns (false, nil) when path does not exist and (false, err)
	// on any other failure.
	Exists(path string) (bool, error)

	Remove(path string) error

	// Rename is atomic within one filesystem.
	Rename(oldpath, newpath string) error
}

var _ File = (*os.File)(nil)
