// ABOUTME: Device package documentation
// ABOUTME: Physical audio I/O backends driving the client callbacks
// Package device supplies the physical audio layer: a full-duplex
// malgo device for microphone and speaker, and a playback-only oto
// output for listen-only use. Both invoke caller-supplied callbacks at
// the driver's cadence and substitute silence when no audio is ready.
package device
