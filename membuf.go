// Package membuf implements a prebuffering in-memory stream cache: a
// filter that wraps a seekable byte Source and serves blocking Read, Peek
// and Seek while a background worker continuously pulls bytes ahead of the
// consumer into a block-addressed memory buffer.
//
// It is grounded on rclone's backend/cache (a chunked, worker-pooled
// prebuffering reader over a remote object) generalized from "many workers
// fetching disjoint chunks into an expiring map" to "one worker racing a
// monotonic frontier into a never-evicted block array", per SPEC_FULL.md.
package membuf

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Size and pacing constants (spec §3).
const (
	// DefaultBlockSize is the fixed block capacity for every block but
	// the last.
	DefaultBlockSize = int64(4 * 1024 * 1024)
	// DefaultReadChunk is the maximum number of bytes pulled from the
	// source in one inner fill step.
	DefaultReadChunk = int64(16 * 1024)
	// DefaultShortSeekWindow is the forward-seek distance still served by
	// waiting instead of reseeking the source.
	DefaultShortSeekWindow = int64(64 * 1024)
)

// Options configures a Cache. MembufEnable mirrors the host's
// "membuf-enable" boolean config flag (spec §6): Open fails unless it is
// explicitly set, exactly like the teacher's per-backend Options struct
// decoded from `config:"..."` tags (backend/cache/cache.go:289).
type Options struct {
	MembufEnable    bool    `config:"membuf-enable"`
	BlockSize       int64   `config:"block_size"`
	ReadChunk       int64   `config:"read_chunk"`
	ShortSeekWindow int64   `config:"short_seek_window"`
	// SourceReadRate caps source reads in bytes/second; zero disables
	// pacing. Generalizes the teacher's Rps/rateLimiter option.
	SourceReadRate float64 `config:"source_read_rate"`
}

// DefaultOptions returns the spec's §3 constants with MembufEnable left
// false, matching the documented default.
func DefaultOptions() Options {
	return Options{
		BlockSize:       DefaultBlockSize,
		ReadChunk:       DefaultReadChunk,
		ShortSeekWindow: DefaultShortSeekWindow,
	}
}

func (o *Options) fillDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.ReadChunk <= 0 {
		o.ReadChunk = DefaultReadChunk
	}
	if o.ShortSeekWindow <= 0 {
		o.ShortSeekWindow = DefaultShortSeekWindow
	}
}

// Source is the capability set the cache needs from an upstream
// byte-addressable stream (spec §1 External collaborators): a trait/
// interface passed by reference to Open rather than the function-pointer
// table the original uses (spec §9, "Polymorphism").
type Source interface {
	// Read pulls up to len(buf) bytes at the source's current position.
	// A non-positive return with a nil error is treated the same as an
	// error: the spec requires the cache to treat it as fatal.
	Read(buf []byte) (int, error)
	// Seek repositions the source to an absolute byte offset.
	Seek(pos int64) error
	// Tell reports the source's current absolute byte offset.
	Tell() (int64, error)
	// Size reports the total size of the source in bytes.
	Size() (int64, error)
	// CanSeek reports whether Seek is supported at all.
	CanSeek() bool
	// CanFastSeek reports whether seeking is cheap (no re-buffering cost
	// beyond the usual rewind).
	CanFastSeek() bool
}

// Cache is the reader-facing filter: Open/Close bound its lifetime: Open
// spawns the prebuffer worker, Close tears it down (spec §4.5).
type Cache struct {
	log *logrus.Entry
	src Source
	opt Options

	fr   *frontierState
	peek peekScratch

	// srcMu is the source_lock of spec §3: it serializes every call into
	// Source so that Tell() is meaningful immediately after a Read/Seek.
	srcMu sync.Mutex

	canSeek     bool
	canFastSeek bool

	limiter *rate.Limiter

	group     *errgroup.Group
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// peekScratch is the grow-only cross-block peek buffer of spec §4.1 (C3).
type peekScratch struct {
	mu  sync.Mutex
	buf []byte
}

func (s *peekScratch) ensure(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	} else {
		s.buf = s.buf[:n]
	}
	return s.buf
}

// Open binds the cache to src for its lifetime. It fails if the cache
// would be layered on itself, if opt.MembufEnable is false, or if the
// source reports a non-positive size (spec §4.5, §9 "empty-stream
// handling" — the strict reading is adopted: unknown or zero size fails).
func Open(ctx context.Context, src Source, opt Options, logger *logrus.Entry) (*Cache, error) {
	if _, ok := src.(*Cache); ok {
		return nil, newError(KindUnsupported, nil, "membuf: refusing to layer a cache on itself")
	}
	if !opt.MembufEnable {
		return nil, newError(KindUnsupported, nil, "membuf: membuf-enable is false")
	}
	opt.fillDefaults()

	size, err := src.Size()
	if err != nil {
		return nil, newError(KindAllocFailure, err, "membuf: source size query failed")
	}
	if size <= 0 {
		return nil, newError(KindAllocFailure, nil, "membuf: source reports non-positive size %d", size)
	}

	c := &Cache{
		log:         newLogger(logger, "cache"),
		src:         src,
		opt:         opt,
		fr:          newFrontierState(opt.BlockSize, size),
		canSeek:     src.CanSeek(),
		canFastSeek: src.CanFastSeek(),
	}
	c.limiter = newLimiter(opt.SourceReadRate, int(opt.ReadChunk))

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(workerCtx)
	c.group = g
	g.Go(func() error { return c.runWorker(gctx) })

	c.log.Debugf("opened cache for %d bytes, block size %d", size, opt.BlockSize)
	return c, nil
}

// Close signals the worker (unblocking a park-on-EOS wait), cancels it,
// joins it, and releases every block and the peek scratch (spec §4.5).
// Safe to call more than once; only the first call does any work.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		fr := c.fr
		fr.mu.Lock()
		fr.closing = true
		fr.mu.Unlock()
		fr.fillCond.Broadcast()
		fr.rewindCond.Broadcast()

		c.cancel()
		c.closeErr = c.group.Wait()

		fr.mu.Lock()
		fr.arr.items = nil
		fr.mu.Unlock()

		c.peek.mu.Lock()
		c.peek.buf = nil
		c.peek.mu.Unlock()

		c.log.Debugf("cache closed at stream offset %d", fr.streamOffset.Load())
	})
	return c.closeErr
}

// Size returns the source size captured at Open.
func (c *Cache) Size() int64 {
	return c.fr.size
}
