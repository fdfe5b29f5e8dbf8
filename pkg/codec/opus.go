// ABOUTME: Opus transcoder implementation
// ABOUTME: Carries one protocol frame as length-prefixed 20ms opus packets
package codec

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	// opusPacketSamples is the opus packet duration used on the wire:
	// 20ms at 24kHz. An 80ms protocol frame is carried as four packets
	// so libopus frame-size limits never constrain the protocol frame.
	opusPacketSamples = 480

	// maxOpusPacketBytes bounds a single encoded packet.
	maxOpusPacketBytes = 4000
)

// Opus compresses protocol frames with the opus codec. The payload
// format is a sequence of packets, each preceded by a big-endian
// uint16 byte length.
type Opus struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

// NewOpus creates an opus transcoder for the given sample rate and
// mono audio, tuned for speech.
func NewOpus(sampleRate int) (*Opus, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	return &Opus{enc: enc, dec: dec}, nil
}

// Encode compresses pcm, which must be a whole number of 20ms packets.
func (o *Opus) Encode(pcm []float32) ([]byte, error) {
	if len(pcm)%opusPacketSamples != 0 {
		return nil, fmt.Errorf("opus encode: %d samples is not a multiple of %d", len(pcm), opusPacketSamples)
	}

	out := make([]byte, 0, len(pcm)/4)
	buf := make([]byte, maxOpusPacketBytes)

	for off := 0; off < len(pcm); off += opusPacketSamples {
		n, err := o.enc.EncodeFloat32(pcm[off:off+opusPacketSamples], buf)
		if err != nil {
			return nil, fmt.Errorf("opus encode: %w", err)
		}
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], uint16(n))
		out = append(out, prefix[:]...)
		out = append(out, buf[:n]...)
	}

	return out, nil
}

// Decode decompresses a sequence of length-prefixed opus packets.
func (o *Opus) Decode(data []byte) ([]float32, error) {
	var pcm []float32
	buf := make([]float32, maxOpusFrameSamples)

	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("opus decode: truncated packet length")
		}
		size := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if size == 0 || size > len(data) {
			return nil, fmt.Errorf("opus decode: packet length %d exceeds remaining %d bytes", size, len(data))
		}

		n, err := o.dec.DecodeFloat32(data[:size], buf)
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		pcm = append(pcm, buf[:n]...)
		data = data[size:]
	}

	return pcm, nil
}

// maxOpusFrameSamples is the largest decoded packet opus allows
// (120ms at 48kHz, mono).
const maxOpusFrameSamples = 5760

// Close releases codec resources. The bindings free state with the
// garbage collector, so there is nothing to do.
func (o *Opus) Close() error {
	return nil
}
