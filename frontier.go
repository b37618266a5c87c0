package membuf

import (
	"sync"
	"sync/atomic"
)

// frontierState holds the shared cursors described in spec §3/§4.2:
// stream_offset (consumer, single-writer on the reader goroutine),
// prebuffer_offset (producer frontier, mutated only by the worker except
// that a seek resets it), buffered_eos, and the block array shape. All
// three of prebuffer_offset, buffered_eos and the block array are mutated
// only while mu (the "offset lock") is held; mu also backs fillCond and
// rewindCond, the two suspension points of the whole design.
type frontierState struct {
	mu         sync.Mutex
	fillCond   *sync.Cond
	rewindCond *sync.Cond

	blockSize int64
	size      int64

	// streamOffset is written only by Read/Peek/Seek on the reader
	// goroutine; it is stored atomically so the worker can read it as an
	// unlocked hint without taking mu (see design note on volatile
	// cursors in spec §9 and SPEC_FULL.md).
	streamOffset atomic.Int64
	// prebufferOffset is the authoritative frontier; reads that need the
	// full invariant (§3) take mu, GET_CACHED_SIZE reads it unlocked as a
	// best-effort snapshot per spec §4.4.
	prebufferOffset atomic.Int64

	bufferedEOS bool
	err         error
	closing     bool

	arr blockArray
}

func newFrontierState(blockSize, size int64) *frontierState {
	fr := &frontierState{blockSize: blockSize, size: size}
	fr.fillCond = sync.NewCond(&fr.mu)
	fr.rewindCond = sync.NewCond(&fr.mu)
	return fr
}

// waitForData implements safe_WaitFillData (spec §4.4): it clamps n to
// whatever is actually reachable once buffered_eos is set, and otherwise
// blocks on fillCond until enough bytes are prebuffered, the cache is
// poisoned, or Close is in progress. Called with n==0 already special-cased
// by the caller (Read(0) must not block or report EOF).
func (fr *frontierState) waitForData(streamOffset, n int64) (int64, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.bufferedEOS {
		max := fr.prebufferOffset.Load() - streamOffset
		if max < 0 {
			max = 0
		}
		if n > max {
			n = max
		}
	}
	if n <= 0 {
		return 0, nil
	}

	for streamOffset+n > fr.prebufferOffset.Load() {
		if fr.err != nil {
			return 0, fr.err
		}
		if fr.closing {
			return 0, ErrCancelled
		}
		if fr.bufferedEOS {
			n = fr.prebufferOffset.Load() - streamOffset
			if n < 0 {
				n = 0
			}
			break
		}
		fr.fillCond.Wait()
	}
	return n, nil
}

// findContiguousEndLocked walks forward from p through however many blocks
// are contiguously valid, hopping to the next block only when the current
// one is filled all the way to its full block size (see spec §4.4,
// FindContiguousEnd). Must be called with mu held.
func (fr *frontierState) findContiguousEndLocked(p int64) int64 {
	pos := p
	for {
		if pos < 0 {
			return p
		}
		index := pos / fr.blockSize
		offsetInBlock := pos % fr.blockSize
		blk := fr.arr.at(int(index))
		if blk == nil {
			return pos
		}
		begin, end := blk.rangeLocked()
		if offsetInBlock < int64(begin) || offsetInBlock >= int64(end) {
			return pos
		}
		if end == int(fr.blockSize) {
			pos = (index + 1) * fr.blockSize
			continue
		}
		return pos + int64(end) - offsetInBlock
	}
}

// setFatalLocked latches the first fatal error. Must be called with mu
// held; it does not signal fillCond or rewindCond, so the caller wakes the
// waiters once mu is released.
func (fr *frontierState) setFatalLocked(err error) {
	if fr.err == nil {
		fr.err = err
	}
}
