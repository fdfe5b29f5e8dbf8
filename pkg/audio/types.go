// ABOUTME: Audio type definitions and protocol constants
// ABOUTME: Defines the fixed frame geometry the Moshi protocol requires
package audio

import "time"

const (
	// SampleRate is the only sample rate the Moshi protocol speaks.
	SampleRate = 24000

	// Channels is fixed at mono; multi-channel input must be mixed
	// down before it reaches this package.
	Channels = 1

	// FrameSize is the number of samples in one protocol frame
	// (80ms at 24kHz). The server accepts and emits audio only in
	// this granularity.
	FrameSize = 1920

	// FrameDuration is the wall-clock length of one protocol frame.
	FrameDuration = 80 * time.Millisecond
)

// Sample is a single mono PCM value, nominally in [-1.0, 1.0].
type Sample = float32

// Frame is exactly FrameSize samples.
type Frame = []float32

// FrameCount returns how many complete frames n samples contain.
func FrameCount(n int) int {
	return n / FrameSize
}

// Remainder returns how many samples are left over after slicing
// n samples into complete frames.
func Remainder(n int) int {
	return n % FrameSize
}
