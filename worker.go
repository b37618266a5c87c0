package membuf

import (
	"context"

	"golang.org/x/time/rate"
)

// runWorker is the prebuffer worker's single loop (spec §4.3): park on
// EOS, prepare the target block, fill it in READ_CHUNK-sized steps, and
// restart whenever a concurrent seek invalidates the frontier. It never
// retries a source error (spec §1 Non-goals) and holds no lock across
// source I/O except srcMu, mirroring the teacher's rate-limited, single
// in-flight open in backend/cache/handle.go's worker.download.
func (c *Cache) runWorker(ctx context.Context) error {
	fr := c.fr
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		fr.mu.Lock()
		if fr.err != nil || fr.closing {
			fr.mu.Unlock()
			return nil
		}
		if fr.prebufferOffset.Load() >= fr.size {
			fr.bufferedEOS = true
			fr.fillCond.Broadcast()
			for fr.prebufferOffset.Load() >= fr.size && fr.err == nil && !fr.closing && ctx.Err() == nil {
				fr.rewindCond.Wait()
			}
			done := fr.err != nil || fr.closing
			fr.mu.Unlock()
			if done || ctx.Err() != nil {
				return nil
			}
			continue
		}
		fr.mu.Unlock()

		rewind, err := c.prepareAndFill(ctx)
		if err != nil {
			fr.mu.Lock()
			fr.setFatalLocked(err)
			fr.mu.Unlock()
			fr.fillCond.Broadcast()
			fr.rewindCond.Broadcast()
			return err
		}
		if rewind {
			continue
		}
	}
}

// prepareAndFill implements phases (b) and (c) of spec §4.3 for the block
// currently at prebuffer_offset: it allocates/reconciles the block, then
// pulls READ_CHUNK-sized reads from the source until the block is full or
// a concurrent seek is detected (returning rewind=true without advancing
// the frontier).
func (c *Cache) prepareAndFill(ctx context.Context) (rewind bool, err error) {
	fr := c.fr

	pbo := fr.prebufferOffset.Load()
	index := pbo / fr.blockSize
	offsetInBlock := int(pbo % fr.blockSize)

	fr.mu.Lock()
	fr.arr.growTo(int(index))
	blk := fr.arr.at(int(index))
	if blk == nil {
		blkCap := blockCapacity(index, fr.blockSize, fr.size)
		blk = newBlock(blkCap)
		fr.arr.set(int(index), blk)
	}
	fr.mu.Unlock()

	blk.mu.Lock()
	switch {
	case offsetInBlock < blk.begin:
		blk.begin = offsetInBlock
		blk.end = offsetInBlock
	case offsetInBlock > blk.end:
		blk.end = offsetInBlock
	}
	fillFrom := blk.end
	capacity := blk.capacity()
	blk.mu.Unlock()

	offset := fillFrom
	for offset < capacity {
		if ctx.Err() != nil {
			return false, nil
		}

		toRead := capacity - offset
		if toRead > int(c.opt.ReadChunk) {
			toRead = int(c.opt.ReadChunk)
		}

		if c.limiter != nil {
			if werr := c.limiter.WaitN(ctx, toRead); werr != nil {
				return false, nil
			}
		}

		f0 := fr.prebufferOffset.Load()
		if f0 != pbo+int64(offset-fillFrom) {
			return true, nil
		}

		c.srcMu.Lock()
		tellPos, terr := c.src.Tell()
		if terr != nil {
			c.srcMu.Unlock()
			return false, newError(KindSourceRead, terr, "tell failed")
		}
		if tellPos != f0 {
			c.srcMu.Unlock()
			return true, nil
		}
		n, rerr := c.src.Read(blk.buf[offset : offset+toRead])
		c.srcMu.Unlock()

		if n <= 0 {
			return false, newError(KindSourceRead, rerr, "source read returned %d bytes at %d", n, f0)
		}

		fr.mu.Lock()
		if fr.prebufferOffset.Load() != f0 {
			fr.mu.Unlock()
			return true, nil
		}
		blk.mu.Lock()
		blk.end += n
		blk.mu.Unlock()
		fr.prebufferOffset.Store(f0 + int64(n))
		fr.fillCond.Broadcast()
		fr.mu.Unlock()

		offset += n
	}
	return false, nil
}

// newLimiter builds the rate limiter that paces READ_CHUNK-sized pulls from
// the source, generalizing the teacher's f.rateLimiter.Wait(ctx) around
// Object.Open (backend/cache/cache.go:openRateLimited).
func newLimiter(bytesPerSecond float64, burst int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}
