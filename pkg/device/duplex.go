// ABOUTME: Full-duplex audio device via malgo/miniaudio
// ABOUTME: Drives the client from real capture and playback callbacks
package device

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/fujielab/fujielab-moshi-client/pkg/audio"
	"github.com/gen2brain/malgo"
)

// DuplexConfig configures the full-duplex device.
type DuplexConfig struct {
	// SampleRate of capture and playback (default: protocol rate).
	SampleRate int

	// PeriodFrames is the callback block size in samples
	// (default: one protocol frame).
	PeriodFrames int

	// OnInput receives each captured block of mono samples. Called on
	// the device thread; it must not block. The slice is reused
	// between callbacks.
	OnInput func([]float32)

	// Source supplies playback samples for each block. Returning nil
	// plays silence; the device never stalls on a missing buffer.
	Source func(n int) []float32
}

// Duplex is one full-duplex mono float32 device: microphone in,
// speaker out, both on the OS audio driver's cadence.
type Duplex struct {
	config   DuplexConfig
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu      sync.Mutex
	running bool
	inBuf   []float32
}

// NewDuplex creates the device without starting it.
func NewDuplex(config DuplexConfig) (*Duplex, error) {
	if config.SampleRate == 0 {
		config.SampleRate = audio.SampleRate
	}
	if config.PeriodFrames == 0 {
		config.PeriodFrames = audio.FrameSize
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	d := &Duplex{config: config, malgoCtx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(config.PeriodFrames)

	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to init duplex device: %w", err)
	}
	d.device = device

	log.Printf("Duplex audio device ready: %dHz mono, %d-sample periods",
		config.SampleRate, config.PeriodFrames)

	return d, nil
}

// onData is the device callback: unpack captured samples, hand them to
// OnInput, and fill the output block from Source or silence.
func (d *Duplex) onData(out, in []byte, frameCount uint32) {
	n := int(frameCount)

	if d.config.OnInput != nil && len(in) >= n*4 {
		if cap(d.inBuf) < n {
			d.inBuf = make([]float32, n)
		}
		buf := d.inBuf[:n]
		for i := 0; i < n; i++ {
			bits := uint32(in[i*4]) |
				uint32(in[i*4+1])<<8 |
				uint32(in[i*4+2])<<16 |
				uint32(in[i*4+3])<<24
			buf[i] = math.Float32frombits(bits)
		}
		d.config.OnInput(buf)
	}

	if len(out) < n*4 {
		return
	}

	var samples []float32
	if d.config.Source != nil {
		samples = d.config.Source(n)
	}
	if samples == nil {
		for i := range out[:n*4] {
			out[i] = 0
		}
		return
	}

	filled := n
	if len(samples) < filled {
		filled = len(samples)
	}
	for i := 0; i < filled; i++ {
		bits := math.Float32bits(samples[i])
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	// A short source must not leave stale driver bytes after it.
	for i := filled * 4; i < n*4; i++ {
		out[i] = 0
	}
}

// Start begins capture and playback.
func (d *Duplex) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	d.running = true
	return nil
}

// Stop pauses capture and playback.
func (d *Duplex) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	if err := d.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	d.running = false
	return nil
}

// Close releases the device and audio context.
func (d *Duplex) Close() {
	d.Stop()
	d.device.Uninit()
	d.malgoCtx.Uninit()
	d.malgoCtx.Free()
}
