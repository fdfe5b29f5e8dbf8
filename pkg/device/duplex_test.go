// ABOUTME: Tests for the duplex device data callback
// ABOUTME: Capture unpacking and playback fill without device I/O
package device

import (
	"math"
	"testing"
)

func packFloat32(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func TestDuplexOnDataDeliversCapture(t *testing.T) {
	var got []float32
	d := &Duplex{config: DuplexConfig{
		OnInput: func(samples []float32) {
			got = append(got[:0], samples...)
		},
	}}

	in := []float32{0.25, -0.5, 1.0, 0}
	d.onData(make([]byte, len(in)*4), packFloat32(in), uint32(len(in)))

	if len(got) != len(in) {
		t.Fatalf("expected %d captured samples, got %d", len(in), len(got))
	}
	for i, want := range in {
		if got[i] != want {
			t.Errorf("sample %d: expected %v, got %v", i, want, got[i])
		}
	}
}

func TestDuplexOnDataSilenceOnNilSource(t *testing.T) {
	d := &Duplex{config: DuplexConfig{
		Source: func(n int) []float32 { return nil },
	}}

	out := make([]byte, 32)
	for i := range out {
		out[i] = 0xAA
	}
	d.onData(out, nil, 8)

	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d not silenced: 0x%02x", i, b)
		}
	}
}

func TestDuplexOnDataZeroesShortSourceTail(t *testing.T) {
	// A source returning fewer samples than the block must not leave
	// stale driver bytes playing as noise after the written samples.
	d := &Duplex{config: DuplexConfig{
		Source: func(n int) []float32 { return []float32{1.0, 1.0} },
	}}

	out := make([]byte, 32)
	for i := range out {
		out[i] = 0xAA
	}
	d.onData(out, nil, 8)

	for i, want := range []float32{1.0, 1.0} {
		bits := uint32(out[i*4]) |
			uint32(out[i*4+1])<<8 |
			uint32(out[i*4+2])<<16 |
			uint32(out[i*4+3])<<24
		if got := math.Float32frombits(bits); got != want {
			t.Errorf("sample %d: expected %v, got %v", i, want, got)
		}
	}
	for i := 8; i < 32; i++ {
		if out[i] != 0 {
			t.Errorf("tail byte %d not zeroed: 0x%02x", i, out[i])
		}
	}
}
