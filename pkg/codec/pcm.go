// ABOUTME: Raw PCM transcoder implementation
// ABOUTME: Lossless little-endian float32 passthrough, no compression
package codec

import (
	"fmt"
	"math"
)

// PCM carries frames as raw little-endian float32 bytes. Lossless and
// dependency-free, it serves uncompressed transports and acts as the
// identity transcoder in tests.
type PCM struct{}

// NewPCM creates a raw PCM transcoder.
func NewPCM() *PCM {
	return &PCM{}
}

// Encode packs samples as little-endian float32.
func (p *PCM) Encode(pcm []float32) ([]byte, error) {
	out := make([]byte, len(pcm)*4)
	for i, s := range pcm {
		bits := math.Float32bits(s)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out, nil
}

// Decode unpacks little-endian float32 bytes.
func (p *PCM) Decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("pcm decode: %d bytes is not a multiple of 4", len(data))
	}

	pcm := make([]float32, len(data)/4)
	for i := range pcm {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		pcm[i] = math.Float32frombits(bits)
	}
	return pcm, nil
}

// Close is a no-op.
func (p *PCM) Close() error {
	return nil
}
