// ABOUTME: Audio buffering package documentation
// ABOUTME: Describes the reframing primitives and their threading contract
// Package audio provides the reframing core of the Moshi client: lossless
// conversion between the arbitrary chunk sizes audio hardware produces or
// consumes and the fixed 1920-sample frames the Moshi protocol requires.
//
// FrameAccumulator covers the input path (microphone -> protocol frames),
// FrameAssembler the output path (network chunks -> playback buffers).
// Each supports one producer and one consumer running on independent
// real-time threads.
//
// Example:
//
//	acc := audio.NewFrameAccumulator(audio.FrameSize)
//	frames := acc.Push(micSamples) // zero or more complete frames
//
//	asm := audio.NewFrameAssembler(960)
//	asm.Push(networkChunk)
//	buf := asm.Pull(5 * time.Second) // exactly 960 samples, or nil
package audio
