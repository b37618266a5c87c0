package membuf

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSourceReadErrorPoisonsCacheAndUnblocksReaders(t *testing.T) {
	src := newMemSource(1000)
	src.readErrAt = 100

	c, err := openTestCache(src, smallOptions())
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 500)
	var lastErr error
	var total int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for fatal error to surface")
		default:
		}
		n, rerr := c.Read(buf[total:])
		total += n
		if rerr != nil {
			lastErr = rerr
			break
		}
		if total == len(buf) {
			break
		}
	}
	require.Error(t, lastErr)
	require.NotEqual(t, io.EOF, lastErr)

	var cerr *CacheError
	require.ErrorAs(t, lastErr, &cerr)
	require.Equal(t, KindSourceRead, cerr.Kind)

	// a second call observes the same latched error rather than hanging.
	_, err = c.Read(buf)
	require.Error(t, err)
}

func TestConcurrentReadProgressesCachedSize(t *testing.T) {
	const size = 200_000
	src := newMemSource(size)
	opt := DefaultOptions()
	opt.BlockSize = 4096
	opt.ReadChunk = 1024
	c, err := openTestCache(src, opt)
	require.NoError(t, err)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4000)
		for {
			_, rerr := c.Read(buf)
			if rerr == io.EOF {
				return
			}
		}
	}()

	seenProgress := false
	for i := 0; i < 50; i++ {
		cached, _ := c.Control(QueryGetCachedSize)
		if cached > 0 {
			seenProgress = true
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, seenProgress)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader goroutine did not finish draining")
	}

	finished, err := c.Control(QueryGetPrebufferFinished)
	require.NoError(t, err)
	require.Equal(t, int64(1), finished)
}

func TestCloseUnblocksPendingRead(t *testing.T) {
	src := newMemSource(1_000_000)
	src.readDelay = 5 * time.Millisecond
	opt := DefaultOptions()
	opt.BlockSize = 1024
	opt.ReadChunk = 64
	c, err := openTestCache(src, opt)
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 999_999)
		_, err := c.Read(buf)
		readErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}
