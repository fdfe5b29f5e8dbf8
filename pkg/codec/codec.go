// ABOUTME: Transcoder interface for protocol frame compression
// ABOUTME: The session treats the codec as an opaque byte transcoder
package codec

// Transcoder converts between PCM sample frames and the codec payload
// carried in audio wire messages. Implementations keep independent
// encoder and decoder state: Encode and Decode may run concurrently on
// different threads, but each direction must have a single caller.
type Transcoder interface {
	// Encode compresses one frame of mono float32 PCM into a wire
	// payload.
	Encode(pcm []float32) ([]byte, error)

	// Decode decompresses a wire payload back into mono float32 PCM.
	// The returned length depends on the payload, not on any fixed
	// frame size.
	Decode(data []byte) ([]float32, error)

	// Close releases codec resources.
	Close() error
}
