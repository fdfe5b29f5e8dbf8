// ABOUTME: High-level Moshi client facade
// ABOUTME: Composes reframing buffers, codec, session, and text queue
package moshi

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fujielab/fujielab-moshi-client/pkg/audio"
	"github.com/fujielab/fujielab-moshi-client/pkg/codec"
	"github.com/fujielab/fujielab-moshi-client/pkg/protocol"
)

// Config holds client configuration. The zero value is usable; every
// field has a documented default applied by NewClient.
type Config struct {
	// OutputBufferSize is the number of samples GetAudioOutput
	// returns per call (default: one protocol frame, 1920).
	OutputBufferSize int

	// Model tuning parameters, forwarded opaquely to the server as
	// query values and otherwise untouched.
	TextTemperature          float64 // default 0.7
	TextTopK                 int     // default 25
	AudioTemperature         float64 // default 0.8
	AudioTopK                int     // default 250
	PadMult                  float64 // default 0
	RepetitionPenalty        float64 // default 1.0
	RepetitionPenaltyContext int     // default 64

	// SendQueueFrames bounds the outbound frame queue (default 32).
	SendQueueFrames int

	// TextQueueCap bounds the text token queue (default 1024).
	TextQueueCap int

	// Transcoder overrides the frame codec. Defaults to opus at the
	// protocol sample rate.
	Transcoder codec.Transcoder
}

// withDefaults returns the config with defaults applied.
func (c Config) withDefaults() Config {
	if c.OutputBufferSize == 0 {
		c.OutputBufferSize = audio.FrameSize
	}
	if c.TextTemperature == 0 {
		c.TextTemperature = 0.7
	}
	if c.TextTopK == 0 {
		c.TextTopK = 25
	}
	if c.AudioTemperature == 0 {
		c.AudioTemperature = 0.8
	}
	if c.AudioTopK == 0 {
		c.AudioTopK = 250
	}
	if c.RepetitionPenalty == 0 {
		c.RepetitionPenalty = 1.0
	}
	if c.RepetitionPenaltyContext == 0 {
		c.RepetitionPenaltyContext = 64
	}
	return c
}

// Client connects a microphone/speaker pair to a Moshi server. The
// audio-input callback feeds AddAudioInput, the audio-output callback
// drains GetAudioOutput, and the application loop polls GetTextOutput;
// the three may run on independent real-time threads.
//
// The client outlives individual connections: Connect after Disconnect
// starts a fresh session with cleared audio buffers, while undrained
// text tokens persist.
type Client struct {
	config Config
	acc    *audio.FrameAccumulator
	asm    *audio.FrameAssembler
	texts  *TextQueue
	tc     codec.Transcoder

	mu      sync.Mutex
	session *protocol.Session
	pumpWG  sync.WaitGroup
}

// NewClient creates a client. It returns an error only when the
// default opus transcoder cannot be constructed.
func NewClient(config Config) (*Client, error) {
	config = config.withDefaults()

	tc := config.Transcoder
	if tc == nil {
		var err error
		tc, err = codec.NewOpus(audio.SampleRate)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		config: config,
		acc:    audio.NewFrameAccumulator(audio.FrameSize),
		asm:    audio.NewFrameAssembler(config.OutputBufferSize),
		texts:  NewTextQueue(config.TextQueueCap),
		tc:     tc,
	}, nil
}

// tuningQuery renders the model tuning parameters as query values.
func (c *Client) tuningQuery() url.Values {
	q := url.Values{}
	q.Set("text_temperature", strconv.FormatFloat(c.config.TextTemperature, 'g', -1, 64))
	q.Set("text_topk", strconv.Itoa(c.config.TextTopK))
	q.Set("audio_temperature", strconv.FormatFloat(c.config.AudioTemperature, 'g', -1, 64))
	q.Set("audio_topk", strconv.Itoa(c.config.AudioTopK))
	q.Set("pad_mult", strconv.FormatFloat(c.config.PadMult, 'g', -1, 64))
	q.Set("repetition_penalty", strconv.FormatFloat(c.config.RepetitionPenalty, 'g', -1, 64))
	q.Set("repetition_penalty_context", strconv.Itoa(c.config.RepetitionPenaltyContext))
	return q
}

// Connect establishes a session with the server at serverURL
// (e.g. ws://localhost:8998/api/chat). Connection errors are returned
// synchronously; retrying with another Connect call is valid.
func (c *Client) Connect(serverURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.IsConnected() {
		return protocol.ErrAlreadyConnected
	}

	// A fresh session must not start with stale audio from the
	// previous one. Text tokens persist until drained.
	c.pumpWG.Wait()
	c.acc.Reset()
	c.asm.Reset()

	sess := protocol.NewSession(protocol.Config{
		ServerURL:       serverURL,
		Query:           c.tuningQuery(),
		SendQueueFrames: c.config.SendQueueFrames,
	})

	if err := sess.Connect(context.Background()); err != nil {
		return err
	}

	c.session = sess
	c.pumpWG.Add(3)
	go c.pumpAudio(sess)
	go c.pumpText(sess)
	go c.pumpControl(sess)

	return nil
}

// pumpAudio decodes inbound audio messages into the assembler until
// the session ends, then closes the assembler so any in-flight
// GetAudioOutput returns nil instead of waiting past the connection's
// lifetime.
func (c *Client) pumpAudio(sess *protocol.Session) {
	defer c.pumpWG.Done()
	defer c.asm.Close()

	for data := range sess.Audio {
		pcm, err := c.tc.Decode(data)
		if err != nil {
			log.Printf("Dropping undecodable audio frame: %v", err)
			continue
		}
		c.asm.Push(pcm)
	}
}

// pumpText queues inbound text tokens until the session ends. Ranging
// over the channel drains every token buffered at teardown; the
// model's final utterance often lands just before the server closes.
func (c *Client) pumpText(sess *protocol.Session) {
	defer c.pumpWG.Done()

	for token := range sess.Text {
		c.texts.Push(token)
	}
}

// pumpControl consumes server control ops until the session ends.
func (c *Client) pumpControl(sess *protocol.Session) {
	defer c.pumpWG.Done()

	for op := range sess.Control {
		log.Printf("Server control op 0x%02x", byte(op))
	}
}

// AddAudioInput accepts microphone samples in any chunk size, slices
// out complete protocol frames, and transmits them. Safe to call from
// the capture callback: it never blocks on the network. Samples
// arriving while disconnected are discarded.
func (c *Client) AddAudioInput(samples []float32) {
	sess := c.currentSession()
	if sess == nil || !sess.IsConnected() {
		return
	}

	for _, frame := range c.acc.Push(samples) {
		data, err := c.tc.Encode(frame)
		if err != nil {
			log.Printf("Dropping unencodable frame: %v", err)
			continue
		}
		if err := sess.SendAudio(data); err != nil {
			// Session ended between the check and the send.
			return
		}
	}
}

// GetAudioOutput assembles exactly OutputBufferSize samples of
// received audio. It waits up to timeout for enough samples
// (audio.NoWait polls, audio.Block waits indefinitely) and returns nil
// on timeout or stream end; the playback callback should substitute
// silence for nil.
func (c *Client) GetAudioOutput(timeout time.Duration) []float32 {
	return c.asm.Pull(timeout)
}

// GetTextOutput returns the oldest undrained text token. The second
// return value is false when none is pending. Never blocks.
func (c *Client) GetTextOutput() (string, bool) {
	return c.texts.Poll()
}

// Disconnect ends the current session and waits until no background
// activity remains. Idempotent, and a no-op before the first Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	c.session.Disconnect()
	c.pumpWG.Wait()
}

// IsConnected reports whether a session is currently connected.
func (c *Client) IsConnected() bool {
	sess := c.currentSession()
	return sess != nil && sess.IsConnected()
}

// State returns the current connection state.
func (c *Client) State() protocol.State {
	sess := c.currentSession()
	if sess == nil {
		return protocol.StateDisconnected
	}
	return sess.State()
}

// Dropped returns the number of outbound frames discarded under
// send-queue saturation during the current session.
func (c *Client) Dropped() uint64 {
	sess := c.currentSession()
	if sess == nil {
		return 0
	}
	return sess.Dropped()
}

// Close disconnects and releases codec resources. The client is
// unusable afterwards.
func (c *Client) Close() error {
	c.Disconnect()
	return c.tc.Close()
}

func (c *Client) currentSession() *protocol.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
