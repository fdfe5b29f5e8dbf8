// ABOUTME: Playback-only audio output via oto
// ABOUTME: Pull-based speaker path for environments without capture
package device

import (
	"fmt"
	"log"
	"math"

	"github.com/ebitengine/oto/v3"
	"github.com/fujielab/fujielab-moshi-client/pkg/audio"
)

// Output plays received audio through the default speaker using oto.
// It pulls samples from a Source func on oto's reader goroutine, so it
// suits listen-only tools that have no microphone to manage.
type Output struct {
	otoCtx *oto.Context
	player *oto.Player
}

// OutputConfig configures the playback-only output.
type OutputConfig struct {
	// SampleRate of playback (default: protocol rate).
	SampleRate int

	// Source supplies the next samples to play; nil means silence.
	Source func(n int) []float32
}

// NewOutput creates and starts the playback output.
func NewOutput(config OutputConfig) (*Output, error) {
	if config.SampleRate == 0 {
		config.SampleRate = audio.SampleRate
	}
	if config.Source == nil {
		return nil, fmt.Errorf("output requires a sample source")
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatFloat32LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o := &Output{otoCtx: ctx}
	o.player = ctx.NewPlayer(&sourceReader{source: config.Source})
	o.player.Play()

	log.Printf("Audio output initialized: %dHz mono", config.SampleRate)
	return o, nil
}

// Close stops playback.
func (o *Output) Close() error {
	return o.player.Close()
}

// sourceReader adapts a sample source to the io.Reader oto pulls from.
type sourceReader struct {
	source func(n int) []float32
}

// Read fills p with little-endian float32 samples, substituting
// silence when the source has nothing ready.
func (r *sourceReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}

	samples := r.source(n)
	if samples == nil {
		for i := range p[:n*4] {
			p[i] = 0
		}
		return n * 4, nil
	}

	for i := 0; i < n; i++ {
		var bits uint32
		if i < len(samples) {
			bits = math.Float32bits(samples[i])
		}
		p[i*4] = byte(bits)
		p[i*4+1] = byte(bits >> 8)
		p[i*4+2] = byte(bits >> 16)
		p[i*4+3] = byte(bits >> 24)
	}
	return n * 4, nil
}
