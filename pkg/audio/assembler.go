// ABOUTME: FrameAssembler reassembles network audio chunks into playback buffers
// ABOUTME: Blocking pull with condition-variable wake, FIFO order, no reordering
package audio

import (
	"fmt"
	"sync"
	"time"
)

// Pull timeout sentinels. Any positive duration bounds the wait.
const (
	// NoWait makes Pull return immediately when not enough samples
	// are buffered.
	NoWait time.Duration = 0

	// Block makes Pull wait until enough samples arrive or the
	// assembler is closed. Never use Block from a callback with a
	// real-time deadline; that is a caller error, not an assembler
	// defect.
	Block time.Duration = -1
)

// FrameAssembler buffers audio chunks of arbitrary size as they arrive
// from the network and hands them out in exactly the granularity the
// playback callback asks for. Chunks are consumed strictly FIFO; a
// partially consumed head chunk is truncated in place and its remainder
// stays at the head, so samples are never reordered or duplicated.
//
// One producer (the session receive loop) and one consumer (the
// playback callback) may run concurrently. Pull waits on a condition
// variable and is woken by Push or Close, not by polling.
type FrameAssembler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	size     int         // samples returned per Pull
	queue    [][]float32 // FIFO of pending chunks
	offset   int         // consumed samples of queue[0]
	buffered int         // total unconsumed samples across queue
	closed   bool
}

// NewFrameAssembler creates an assembler that returns size samples per
// Pull. A non-positive size is a programmer error and panics.
func NewFrameAssembler(size int) *FrameAssembler {
	if size <= 0 {
		panic(fmt.Sprintf("audio: invalid output buffer size %d", size))
	}
	a := &FrameAssembler{size: size}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Size returns the configured output granularity.
func (a *FrameAssembler) Size() int {
	return a.size
}

// Push appends a chunk of any length and wakes a waiting Pull. The
// chunk is copied; the caller's slice may be reused. Pushing to a
// closed assembler drops the chunk silently, since the stream is over.
func (a *FrameAssembler) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	chunk := make([]float32, len(samples))
	copy(chunk, samples)
	a.queue = append(a.queue, chunk)
	a.buffered += len(chunk)
	a.cond.Broadcast()
}

// Pull assembles exactly the configured number of samples from the
// buffered chunks. If enough samples are already buffered it returns
// immediately regardless of timeout. Otherwise it waits up to timeout
// (NoWait returns nil at once, Block waits indefinitely). It returns
// nil on timeout and on stream end; it never returns a short buffer.
func (a *FrameAssembler) Pull(timeout time.Duration) []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buffered < a.size && timeout == NoWait {
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for a.buffered < a.size {
		if a.closed {
			return nil
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			// Cond has no timed wait; arm a one-shot broadcast at
			// the deadline so the wait cannot overshoot it.
			timer := time.AfterFunc(remaining, a.cond.Broadcast)
			a.cond.Wait()
			timer.Stop()
		} else {
			a.cond.Wait()
		}
	}

	return a.assemble()
}

// assemble removes exactly a.size samples from the queue head.
// Caller holds a.mu and has verified a.buffered >= a.size.
func (a *FrameAssembler) assemble() []float32 {
	out := make([]float32, a.size)
	filled := 0

	for filled < a.size {
		head := a.queue[0][a.offset:]
		n := copy(out[filled:], head)
		filled += n

		if n == len(head) {
			a.queue[0] = nil
			a.queue = a.queue[1:]
			a.offset = 0
		} else {
			a.offset += n
		}
	}

	a.buffered -= a.size
	return out
}

// Buffered returns the number of unconsumed samples currently held.
func (a *FrameAssembler) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffered
}

// Close marks the stream as ended and unblocks any waiting Pull, which
// then returns nil. Idempotent. Samples already buffered are discarded;
// a closed stream has nothing left worth playing.
func (a *FrameAssembler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	a.queue = nil
	a.offset = 0
	a.buffered = 0
	a.cond.Broadcast()
}

// Reset clears all buffered audio and reopens the assembler for a new
// session.
func (a *FrameAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = false
	a.queue = nil
	a.offset = 0
	a.buffered = 0
}
