package fs

import (
	"errors"
	"os"
	"sync"
)

// Op names an operation [Faulty] can fail.
type Op string

// Operations [Faulty] can fail. File level operations apply to files
// opened through the wrapper.
const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpMkdirAll        Op = "mkdirall"
	OpStat            Op = "stat"
	OpRemove          Op = "remove"
	OpRename          Op = "rename"

	OpFileWrite    Op = "file.write"
	OpFileSync     Op = "file.sync"
	OpFileTruncate Op = "file.truncate"
)

// InjectedError marks an error returned by [Faulty]. It wraps the
// configured error so errors.Is keeps working.
type InjectedError struct {
	Op  Op
	Err error
}

func (e *InjectedError) Error() string {
	return "injected " + string(e.Op) + ": " + e.Err.Error()
}

func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err came from [Faulty].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Faulty wraps an [FS] and fails the operations it is told to fail. It is
// safe for concurrent use.
//
// Example:
//
//	ffs := fs.NewFaulty(fs.NewReal())
//	ffs.Fail(fs.OpRename, syscall.EXDEV)
//	err := ffs.Rename(a, b) // *fs.InjectedError wrapping EXDEV
type Faulty struct {
	inner FS

	mu     sync.Mutex
	faults map[Op]error
	calls  map[Op]int
}

// NewFaulty returns a wrapper around inner that initially fails nothing.
func NewFaulty(inner FS) *Faulty {
	return &Faulty{
		inner:  inner,
		faults: make(map[Op]error),
		calls:  make(map[Op]int),
	}
}

// Fail makes every later call of op return err.
func (f *Faulty) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults[op] = err
}

// Heal stops failing op.
func (f *Faulty) Heal(op Op) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.faults, op)
}

// Calls returns how many times op was attempted, failed or not.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	err, ok := f.faults[op]
	if !ok {
		return nil
	}

	return &os.PathError{Op: string(op), Path: path, Err: &InjectedError{Op: op, Err: err}}
}

func (f *Faulty) Open(path string) (File, error) {
	if err := f.check(OpOpen, path); err != nil {
		return nil, err
	}

	file, err := f.inner.Open(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f, path: path}, nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	file, err := f.inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f, path: path}, nil
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.inner.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.inner.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.inner.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.inner.Stat(path)
}

// Exists shares the [OpStat] fault.
func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.inner.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.inner.Remove(path)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, oldpath); err != nil {
		return err
	}

	return f.inner.Rename(oldpath, newpath)
}

type faultyFile struct {
	File

	fs   *Faulty
	path string
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if err := ff.fs.check(OpFileWrite, ff.path); err != nil {
		return 0, err
	}

	return ff.File.Write(p)
}

// WriteAt shares the [OpFileWrite] fault.
func (ff *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	if err := ff.fs.check(OpFileWrite, ff.path); err != nil {
		return 0, err
	}

	return ff.File.WriteAt(p, off)
}

func (ff *faultyFile) Sync() error {
	if err := ff.fs.check(OpFileSync, ff.path); err != nil {
		return err
	}

	return ff.File.Sync()
}

func (ff *faultyFile) Truncate(size int64) error {
	if err := ff.fs.check(OpFileTruncate, ff.path); err != nil {
		return err
	}

	return ff.File.Truncate(size)
}

var _ FS = (*Faulty)(nil)
