package fastcollection

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/fastcollection/internal/fs"
)

// Options configures opening a collection file.
//
// Only Path is required. Size and bucket fields apply when a file is
// created; on reopen the values stored in the header win, except that a
// non-zero BucketCount must match the file.
type Options struct {
	// Path is the collection file. A lock file named Path+".lock" is created
	// next to it.
	Path string

	// InitialSize is the size of a newly created file in bytes.
	// Zero means [DefaultInitialSize]. Rounded up to the page size, at least
	// 64 KiB.
	InitialSize int64

	// MaxSize caps file growth. Writes that would grow the file past it fail
	// with [ErrCapacityExceeded]. Zero means [DefaultMaxSize].
	MaxSize int64

	// BucketCount is the hash table width of a set or map, fixed at
	// creation. Zero means [DefaultBucketCount] when creating and "whatever
	// the file has" when reopening. Ignored by the other kinds.
	BucketCount int

	// CreateNew replaces any existing file with an empty collection.
	CreateNew bool

	// SweepInterval runs RemoveExpired in the background at this interval.
	// Zero disables the sweeper.
	SweepInterval time.Duration

	// Logger receives lifecycle events. Nil discards them.
	Logger *slog.Logger

	// Now is the clock used for expiry. Nil means [time.Now].
	Now func() time.Time
}

// normalize validates opts and fills in defaults.
func (o Options) normalize(kind Kind) (Options, error) {
	if o.Path == "" {
		return o, fmt.Errorf("path is empty: %w", ErrInvalidInput)
	}

	if o.InitialSize < 0 || o.MaxSize < 0 || o.BucketCount < 0 || o.SweepInterval < 0 {
		return o, fmt.Errorf("sizes, bucket count and sweep interval must not be negative: %w", ErrInvalidInput)
	}

	if o.InitialSize == 0 {
		o.InitialSize = DefaultInitialSize
	}

	if o.MaxSize == 0 {
		o.MaxSize = max(DefaultMaxSize, o.InitialSize)
	}

	o.InitialSize = int64(alignPage(uint64(max(o.InitialSize, minInitialSize))))
	o.MaxSize = int64(alignPage(uint64(o.MaxSize)))

	if uint64(o.MaxSize) > maxFileSize {
		return o, fmt.Errorf("max size %d exceeds %d: %w", o.MaxSize, maxFileSize, ErrInvalidInput)
	}

	if o.InitialSize > o.MaxSize {
		return o, fmt.Errorf("initial size %d exceeds max size %d: %w", o.InitialSize, o.MaxSize, ErrInvalidInput)
	}

	if !kind.hashed() {
		o.BucketCount = 0
	} else if o.BucketCount > maxBucketCount {
		return o, fmt.Errorf("bucket count %d exceeds %d: %w", o.BucketCount, maxBucketCount, ErrInvalidInput)
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	return o, nil
}

// createBuckets returns the bucket count to create a file of kind with.
func (o Options) createBuckets(kind Kind) uint64 {
	switch {
	case !kind.hashed():
		return 0
	case o.BucketCount == 0:
		return DefaultBucketCount
	default:
		return uint64(o.BucketCount)
	}
}

// open attaches c to the file named by opts, creating it if needed.
func (c *collection) open(kind Kind, opts Options) error {
	if !isLittleEndian || !is64Bit {
		return fmt.Errorf("collection files need a 64-bit little-endian platform: %w", ErrIncompatible)
	}

	opts, err := opts.normalize(kind)
	if err != nil {
		return err
	}

	log := opts.Logger.With("path", opts.Path, "kind", kind.String())

	lock, err := locker.LockWithTimeout(opts.Path+".lock", openLockTimeout)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return fmt.Errorf("open %s: %w", opts.Path, ErrBusy)
		}

		return fmt.Errorf("open lock: %w", err)
	}

	defer func() { _ = lock.Close() }()

	exists, err := fsys.Exists(opts.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.Path, err)
	}

	if opts.CreateNew || !exists {
		buckets := opts.createBuckets(kind)
		if dataStartFor(buckets)+minBlockSize > uint64(opts.InitialSize) {
			return fmt.Errorf("initial size %d too small for %d buckets: %w", opts.InitialSize, buckets, ErrInvalidInput)
		}

		h := newHeader(kind, buckets, uint64(opts.InitialSize), uint64(opts.MaxSize), opts.Now().UnixNano())
		if err := createFile(opts.Path, &h); err != nil {
			return err
		}

		log.Info("created collection file", "size", opts.InitialSize, "buckets", buckets)
	}

	m, err := attach(opts.Path, kind, log)
	if err != nil {
		return err
	}

	if want := uint64(opts.BucketCount); want != 0 && kind.hashed() {
		if got := loadU64(m.data, offBucketCount); got != want {
			_ = releaseMapping(m)

			return fmt.Errorf("file has %d buckets, asked for %d: %w", got, want, ErrIncompatible)
		}
	}

	c.kind = kind
	c.path = opts.Path
	c.buckets = loadU64(m.data, offBucketCount)
	c.m = m
	c.log = log
	c.now = opts.Now
	c.sweepEvery = opts.SweepInterval

	log.Debug("opened", "size", loadU64(m.data, offTotalSize), "len", loadI64(m.data, offCount))

	return nil
}

// attach returns the mapping for path, sharing an existing one if this
// process already has the file open. Callers hold the open lock.
func attach(path string, kind Kind, log *slog.Logger) (*mapping, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	id, err := getFileIdentity(fd)
	if err != nil {
		_ = unix.Close(fd)

		return nil, err
	}

	if m := acquireMapping(id); m != nil {
		_ = unix.Close(fd)

		if got := Kind(loadU32(m.data, offKind)); got != kind {
			_ = releaseMapping(m)

			return nil, fmt.Errorf("file holds a %s, not a %s: %w", got, kind, ErrIncompatible)
		}

		return m, nil
	}

	m, err := mapNew(fd, path, kind, log)
	if err != nil {
		_ = unix.Close(fd)

		return nil, err
	}

	m.id = id
	registerMapping(m)

	return m, nil
}

// mapNew validates the header on fd and maps the file.
func mapNew(fd int, path string, kind Kind, log *slog.Logger) (*mapping, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	buf := make([]byte, fclHeaderSize)

	n, err := unix.Pread(fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	h, err := validateHeader(buf[:n], kind, stat.Size)
	if err != nil {
		return nil, err
	}

	data, err := mapFile(fd, h.TotalSize)
	if err != nil {
		return nil, err
	}

	for _, off := range recoverLockWords(data) {
		log.Warn("cleared lock held by a dead process", "lock", lockWordName(off))

		if off == offStackGate {
			log.Warn("stack elements detached by the dead process are lost")
		}
	}

	return &mapping{path: path, fd: fd, data: data, log: log}, nil
}

// createFile writes an empty collection file atomically: the header goes
// into a temp file next to path, which is synced and renamed into place.
func createFile(path string, h *fclHeader) (err error) {
	dir := filepath.Dir(path)
	tmp := fmt.Sprintf("%s.tmp-%d-%d", path, selfPID, time.Now().UnixNano())

	f, err := fsys.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = fsys.Remove(tmp)
		}
	}()

	if err := f.Truncate(int64(h.TotalSize)); err != nil {
		return fmt.Errorf("size new file: %w", err)
	}

	if _, err := f.WriteAt(encodeHeader(h), 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync new file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close new file: %w", err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	return syncDir(dir)
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := fsys.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}

	syncErr := d.Sync()
	closeErr := d.Close()

	if syncErr != nil {
		return fmt.Errorf("sync dir: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir: %w", closeErr)
	}

	return nil
}
