// ABOUTME: FrameAccumulator re-chunks arbitrary-length input into protocol frames
// ABOUTME: Retains the sub-frame remainder across calls without per-call growth
package audio

import (
	"fmt"
	"sync"
)

// FrameAccumulator ingests microphone samples in whatever chunk sizes
// the capture layer delivers and slices them into fixed-size frames
// for transmission. The tail that does not yet fill a frame is retained
// for the next Push, so no sample is ever dropped or duplicated.
//
// Push is safe to call from a real-time capture callback: it takes one
// uncontended mutex and allocates only the emitted frames themselves.
// The retained buffer is reused and never exceeds one frame.
type FrameAccumulator struct {
	mu        sync.Mutex
	frameSize int
	rest      []float32 // leftover samples, len < frameSize, cap == frameSize
	pushed    uint64    // total samples ever pushed
	emitted   uint64    // total frames ever emitted
}

// NewFrameAccumulator creates an accumulator emitting frames of
// frameSize samples. A non-positive frameSize is a programmer error
// and panics.
func NewFrameAccumulator(frameSize int) *FrameAccumulator {
	if frameSize <= 0 {
		panic(fmt.Sprintf("audio: invalid frame size %d", frameSize))
	}
	return &FrameAccumulator{
		frameSize: frameSize,
		rest:      make([]float32, 0, frameSize),
	}
}

// Push appends samples and returns every complete frame now available,
// in arrival order. Returned frames are freshly allocated copies; the
// caller's slice may be reused immediately. A nil or empty input is
// valid and returns no frames.
func (a *FrameAccumulator) Push(samples []float32) []Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pushed += uint64(len(samples))

	total := len(a.rest) + len(samples)
	if total < a.frameSize {
		a.rest = append(a.rest, samples...)
		return nil
	}

	frames := make([]Frame, 0, total/a.frameSize)

	// First frame spans the retained tail and the head of the new input.
	frame := make([]float32, a.frameSize)
	n := copy(frame, a.rest)
	copy(frame[n:], samples[:a.frameSize-n])
	frames = append(frames, frame)
	samples = samples[a.frameSize-n:]

	for len(samples) >= a.frameSize {
		frame := make([]float32, a.frameSize)
		copy(frame, samples[:a.frameSize])
		frames = append(frames, frame)
		samples = samples[a.frameSize:]
	}

	a.rest = append(a.rest[:0], samples...)
	a.emitted += uint64(len(frames))
	return frames
}

// Buffered returns the number of retained samples, always in
// [0, frameSize).
func (a *FrameAccumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rest)
}

// Stats returns total samples pushed and total frames emitted.
func (a *FrameAccumulator) Stats() (pushed, emitted uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pushed, a.emitted
}

// Reset discards the retained tail. Called between sessions so a new
// connection never starts with stale microphone audio.
func (a *FrameAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rest = a.rest[:0]
	a.pushed = 0
	a.emitted = 0
}
