package membuf

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// deterministicBytes fills buf starting at absolute position pos with the
// byte(p) = p mod 251 sequence used throughout the test scenarios, so any
// slice of the source can be checked without keeping the whole thing in
// memory twice.
func deterministicBytes(pos int64, buf []byte) {
	for i := range buf {
		buf[i] = byte((pos + int64(i)) % 251)
	}
}

// memSource is an in-memory Source over the deterministic byte sequence,
// used as the test double in place of the teacher's remote object.
type memSource struct {
	mu  sync.Mutex
	pos int64
	size int64

	seekErrAt   int64 // if >=0, Seek to this position fails once
	readErrAt   int64 // if >=0, a Read whose span covers this position fails once
	seekCalls   int
	readCalls   int
	canSeek     bool
	canFastSeek bool

	// readDelay, when non-zero, sleeps before each Read to widen the
	// window for concurrency tests.
	readDelay time.Duration
}

func newMemSource(size int64) *memSource {
	return &memSource{
		size:        size,
		seekErrAt:   -1,
		readErrAt:   -1,
		canSeek:     true,
		canFastSeek: true,
	}
}

func (s *memSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	if s.readDelay > 0 {
		s.mu.Unlock()
		time.Sleep(s.readDelay)
		s.mu.Lock()
	}
	if s.pos >= s.size {
		return 0, io.EOF
	}
	n := int64(len(buf))
	if s.pos+n > s.size {
		n = s.size - s.pos
	}
	if s.readErrAt >= 0 && s.pos <= s.readErrAt && s.readErrAt < s.pos+n {
		s.readErrAt = -1
		return 0, io.ErrUnexpectedEOF
	}
	deterministicBytes(s.pos, buf[:n])
	s.pos += n
	return int(n), nil
}

func (s *memSource) Seek(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekCalls++
	if s.seekErrAt >= 0 && pos == s.seekErrAt {
		s.seekErrAt = -1
		return io.ErrClosedPipe
	}
	s.pos = pos
	return nil
}

func (s *memSource) Tell() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

func (s *memSource) Size() (int64, error) {
	return s.size, nil
}

func (s *memSource) CanSeek() bool     { return s.canSeek }
func (s *memSource) CanFastSeek() bool { return s.canFastSeek }

func (s *memSource) seekCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekCalls
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(l)
}

func openTestCache(src Source, opt Options) (*Cache, error) {
	opt.MembufEnable = true
	return Open(context.Background(), src, opt, testLogger())
}

func smallOptions() Options {
	opt := DefaultOptions()
	opt.BlockSize = 64
	opt.ReadChunk = 16
	opt.ShortSeekWindow = 32
	return opt
}

func TestOpenRejectsDisabledOption(t *testing.T) {
	src := newMemSource(256)
	_, err := Open(context.Background(), src, smallOptions(), testLogger())
	require.Error(t, err)
	var cerr *CacheError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindUnsupported, cerr.Kind)
}

func TestOpenRejectsZeroSize(t *testing.T) {
	src := newMemSource(0)
	_, err := openTestCache(src, smallOptions())
	require.Error(t, err)
}

func TestOpenRejectsSelfLayering(t *testing.T) {
	src := newMemSource(256)
	c, err := openTestCache(src, smallOptions())
	require.NoError(t, err)
	defer c.Close()

	_, err = openTestCache(c, smallOptions())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	src := newMemSource(256)
	c, err := openTestCache(src, smallOptions())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestReadDrainsWholeSourceSequentially(t *testing.T) {
	const size = 1000
	src := newMemSource(size)
	c, err := openTestCache(src, smallOptions())
	require.NoError(t, err)
	defer c.Close()

	got := make([]byte, 0, size)
	buf := make([]byte, 37)
	for {
		n, rerr := c.Read(buf)
		got = append(got, buf[:n]...)
		if rerr == io.EOF {
			break
		}
		require.NoError(t, rerr)
	}

	want := make([]byte, size)
	deterministicBytes(0, want)
	require.Equal(t, want, got)
}

func TestReadZeroIsNoop(t *testing.T) {
	src := newMemSource(256)
	c, err := openTestCache(src, smallOptions())
	require.NoError(t, err)
	defer c.Close()

	n, err := c.Read(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	pos, _ := c.Control(QueryGetPosition)
	require.Equal(t, int64(0), pos)
}
