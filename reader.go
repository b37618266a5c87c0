package membuf

import "io"

// Query identifies a Control request. It replaces the original's generic
// (query-id, varargs) dispatch with a typed enum plus a single int64
// result, since every query the cache answers is a scalar (spec §4.4).
type Query int

const (
	// QueryCanSeek reports whether the underlying source supports Seek at
	// all.
	QueryCanSeek Query = iota
	// QueryCanFastSeek reports whether seeking is cheap.
	QueryCanFastSeek
	// QueryGetSize reports the total source size captured at Open.
	QueryGetSize
	// QueryGetPosition reports the current stream_offset.
	QueryGetPosition
	// QueryGetCachedSize reports the current prebuffer_offset, read
	// unlocked as a best-effort snapshot.
	QueryGetCachedSize
	// QueryGetPrebufferFinished reports whether buffered_eos is latched.
	QueryGetPrebufferFinished
)

// boolInt64 renders a bool as the 0/1 the original's Control convention
// expects.
func boolInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Control answers a scalar query about the cache's state (spec §4.4). An
// unrecognised query returns ErrUnsupported, matching the original's
// handling of queries the filter does not implement.
func (c *Cache) Control(q Query) (int64, error) {
	switch q {
	case QueryCanSeek:
		return boolInt64(c.canSeek), nil
	case QueryCanFastSeek:
		return boolInt64(c.canFastSeek), nil
	case QueryGetSize:
		return c.fr.size, nil
	case QueryGetPosition:
		return c.fr.streamOffset.Load(), nil
	case QueryGetCachedSize:
		return c.fr.prebufferOffset.Load(), nil
	case QueryGetPrebufferFinished:
		c.fr.mu.Lock()
		eos := c.fr.bufferedEOS
		c.fr.mu.Unlock()
		return boolInt64(eos), nil
	default:
		return 0, ErrUnsupported
	}
}

// fetchInto copies already-buffered bytes starting at streamOffset into
// dst, stopping at the first gap. It never blocks: the caller must have
// already established via waitForData that the requested span is
// reachable.
func (c *Cache) fetchInto(streamOffset int64, dst []byte) (int, error) {
	fr := c.fr
	remaining := dst
	pos := streamOffset
	total := 0

	for len(remaining) > 0 {
		index := pos / fr.blockSize
		offsetInBlock := int(pos % fr.blockSize)

		fr.mu.Lock()
		blk := fr.arr.at(int(index))
		fr.mu.Unlock()
		if blk == nil {
			break
		}

		blk.mu.Lock()
		begin, end := blk.begin, blk.end
		if offsetInBlock < begin || offsetInBlock >= end {
			blk.mu.Unlock()
			break
		}
		n := end - offsetInBlock
		if n > len(remaining) {
			n = len(remaining)
		}
		copy(remaining[:n], blk.buf[offsetInBlock:offsetInBlock+n])
		blk.mu.Unlock()

		total += n
		remaining = remaining[n:]
		pos += int64(n)
	}
	return total, nil
}

// Read blocks until len(p) bytes are prebuffered past stream_offset, the
// worker has latched end of stream (then it returns what remains, or
// io.EOF when nothing does), or the cache is poisoned or closing (spec
// §4.4). Read(p) with len(p)==0 always returns (0, nil) without touching
// any latch or advancing stream_offset.
func (c *Cache) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	fr := c.fr
	so := fr.streamOffset.Load()

	n, err := fr.waitForData(so, int64(len(p)))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}

	got, _ := c.fetchInto(so, p[:n])
	fr.streamOffset.Add(int64(got))
	return got, nil
}

// Discard advances stream_offset by n bytes without copying them out,
// used by callers that only need to skip forward (spec §4.4's "null
// buffer" read).
func (c *Cache) Discard(n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	fr := c.fr
	so := fr.streamOffset.Load()

	got, err := fr.waitForData(so, n)
	if err != nil {
		return 0, err
	}
	if got == 0 {
		return 0, io.EOF
	}
	fr.streamOffset.Add(got)
	return got, nil
}

// Peek returns up to n already-or-soon-buffered bytes starting at the
// current stream_offset without advancing it. When the span lies inside
// a single block it is returned without copying; a span crossing a block
// boundary is assembled into the cache's grow-only scratch buffer (spec
// §4.1, C3).
func (c *Cache) Peek(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	fr := c.fr
	so := fr.streamOffset.Load()

	got, err := fr.waitForData(so, int64(n))
	if err != nil {
		return nil, err
	}
	if got == 0 {
		return nil, io.EOF
	}

	index := so / fr.blockSize
	offsetInBlock := int(so % fr.blockSize)

	fr.mu.Lock()
	blk := fr.arr.at(int(index))
	fr.mu.Unlock()

	if blk != nil {
		blk.mu.Lock()
		begin, end := blk.begin, blk.end
		if offsetInBlock >= begin && int64(offsetInBlock)+got <= int64(end) {
			out := blk.buf[offsetInBlock : offsetInBlock+int(got)]
			blk.mu.Unlock()
			return out, nil
		}
		blk.mu.Unlock()
	}

	scratch := c.peek.ensure(int(got))
	copied, _ := c.fetchInto(so, scratch)
	return scratch[:copied], nil
}

// Seek repositions stream_offset to p (spec §4.4). In order: reject a
// non-seekable source; a no-op when p is already the current position; a
// short forward wait when p lies within ShortSeekWindow ahead of the
// prebuffer frontier (spec §9's EOS clamp applies here too); an in-buffer
// jump when FindContiguousEnd shows p is already valid data, touching
// neither the source nor the worker; and otherwise a real source Seek to
// rewind_target, whose outcome is verified via Tell rather than assumed.
// A failed or imprecise source seek is reported to the caller but never
// poisons the cache (spec §7: SourceSeek is not fatal).
func (c *Cache) Seek(p int64) (int64, error) {
	fr := c.fr
	if p < 0 {
		return 0, newError(KindSourceSeek, nil, "negative seek target %d", p)
	}

	fr.mu.Lock()
	if fr.err != nil {
		err := fr.err
		fr.mu.Unlock()
		return 0, err
	}
	if fr.closing {
		fr.mu.Unlock()
		return 0, ErrCancelled
	}
	if !c.canSeek {
		fr.mu.Unlock()
		return 0, ErrUnsupported
	}

	so := fr.streamOffset.Load()
	if p == so {
		fr.mu.Unlock()
		return p, nil
	}

	pbo := fr.prebufferOffset.Load()
	if p > pbo && p < pbo+c.opt.ShortSeekWindow {
		for fr.prebufferOffset.Load() < p {
			if fr.err != nil {
				err := fr.err
				fr.mu.Unlock()
				return 0, err
			}
			if fr.closing {
				fr.mu.Unlock()
				return 0, ErrCancelled
			}
			if fr.bufferedEOS {
				// EOS latched below p: treat the wait as satisfied
				// instead of spinning on fillCond forever (spec §9 open
				// question, preserved as specified).
				break
			}
			fr.fillCond.Wait()
		}
		fr.streamOffset.Store(p)
		fr.mu.Unlock()
		return p, nil
	}

	rewindTarget := fr.findContiguousEndLocked(p)
	if p <= fr.prebufferOffset.Load() && p < rewindTarget {
		fr.streamOffset.Store(p)
		fr.mu.Unlock()
		return p, nil
	}
	fr.mu.Unlock()

	c.srcMu.Lock()
	serr := c.src.Seek(rewindTarget)
	var actual int64
	if serr == nil {
		actual, serr = c.src.Tell()
	}
	c.srcMu.Unlock()
	if serr != nil {
		return 0, newError(KindSourceSeek, serr, "source seek to %d failed", rewindTarget)
	}

	fr.mu.Lock()
	fr.bufferedEOS = false
	fr.prebufferOffset.Store(actual)

	var result int64
	var resultErr error
	switch {
	case p <= actual:
		fr.streamOffset.Store(p)
		result = p
	case so > actual:
		fr.streamOffset.Store(actual)
		result = actual
		resultErr = newError(KindSourceSeek, nil, "seek to %d landed at %d", p, actual)
	default:
		result = fr.streamOffset.Load()
		resultErr = newError(KindSourceSeek, nil, "seek to %d landed at %d", p, actual)
	}
	fr.mu.Unlock()

	fr.rewindCond.Broadcast()
	fr.fillCond.Broadcast()

	return result, resultErr
}
