// ABOUTME: Duplex WebSocket session for the Moshi protocol
// ABOUTME: Owns the connection lifecycle, receive loop, and drop-oldest send queue
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is a snapshot of the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotConnected reports a send attempted outside the Connected
	// state.
	ErrNotConnected = errors.New("protocol: session not connected")

	// ErrAlreadyConnected reports a connect attempt while a session
	// is still up.
	ErrAlreadyConnected = errors.New("protocol: already connected")
)

// Config holds session configuration.
type Config struct {
	// ServerURL is the full WebSocket URL, e.g. ws://localhost:8998/api/chat.
	ServerURL string

	// SessionID identifies this connection to the server. A random
	// UUID is generated when empty.
	SessionID string

	// Query carries extra query values forwarded opaquely to the
	// server (model tuning parameters).
	Query url.Values

	// SendQueueFrames bounds the outbound queue. When full, the
	// oldest unsent frame is dropped rather than blocking the audio
	// input thread (default 32 frames, about 2.5s of audio).
	SendQueueFrames int

	// HandshakeTimeout bounds the wait for the server handshake
	// message (default 5s).
	HandshakeTimeout time.Duration
}

// Session is one duplex Moshi connection. Inbound messages are
// demultiplexed onto the Audio, Text, and Control channels; all three
// are closed when the receive loop exits, which is the end-of-stream
// signal for consumers. Outbound frames go through SendAudio.
//
// A Session is single-use: once disconnected or failed it cannot be
// reconnected. Create a new Session per connection attempt.
type Session struct {
	config Config
	conn   *websocket.Conn
	state  atomic.Int32

	// Inbound channels, closed on receive-loop exit.
	Audio   chan []byte
	Text    chan string
	Control chan ControlOp

	sendQ   chan []byte
	dropped atomic.Uint64

	mu       sync.Mutex // serializes Connect/Disconnect
	started  bool
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// NewSession creates a session in the Disconnected state.
func NewSession(config Config) *Session {
	if config.SessionID == "" {
		config.SessionID = uuid.New().String()
	}
	if config.SendQueueFrames <= 0 {
		config.SendQueueFrames = 32
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}

	return &Session{
		config:  config,
		Audio:   make(chan []byte, 100),
		Text:    make(chan string, 100),
		Control: make(chan ControlOp, 10),
		sendQ:   make(chan []byte, config.SendQueueFrames),
		quit:    make(chan struct{}),
	}
}

// Connect dials the server, waits for its handshake message, and
// starts the receive and send loops. Errors are returned synchronously
// and leave the session in the Failed state.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("protocol: session is single-use, already connected once")
	}
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("protocol: connect in state %s", s.State())
	}
	s.started = true

	u, err := url.Parse(s.config.ServerURL)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("invalid server url: %w", err)
	}

	q := u.Query()
	q.Set("session_id", s.config.SessionID)
	for key, vals := range s.config.Query {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	log.Printf("Connecting to %s", u.Host)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("dial failed: %w", err)
	}
	s.conn = conn

	if err := s.awaitHandshake(); err != nil {
		conn.Close()
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("handshake failed: %w", err)
	}

	s.state.Store(int32(StateConnected))
	log.Printf("Session %s connected", s.config.SessionID)

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	return nil
}

// awaitHandshake reads the first server message, which must be the
// handshake tag.
func (s *Session) awaitHandshake() error {
	s.conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading server handshake: %w", err)
	}

	msg, err := Decode(data)
	if err != nil {
		return err
	}
	if msg.Kind != KindHandshake {
		return fmt.Errorf("expected handshake, got tag 0x%02x", byte(msg.Kind))
	}

	return nil
}

// readLoop reads wire messages and routes them until the connection
// ends, then closes the inbound channels.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.teardown()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.quit:
				// Local disconnect in progress.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("Connection closed by server")
				} else {
					// Unrecoverable transport error, not a clean
					// termination from either side.
					log.Printf("Read error: %v", err)
					s.state.Store(int32(StateFailed))
				}
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			// A single corrupt message must not end a live
			// conversation.
			log.Printf("Dropping malformed message: %v", err)
			continue
		}

		switch msg.Kind {
		case KindAudio:
			payload := make([]byte, len(msg.Payload))
			copy(payload, msg.Payload)
			select {
			case s.Audio <- payload:
			case <-s.quit:
				return
			}

		case KindText:
			select {
			case s.Text <- string(msg.Payload):
			case <-s.quit:
				return
			}

		case KindControl:
			if len(msg.Payload) < 1 {
				log.Printf("Dropping control message with empty payload")
				continue
			}
			select {
			case s.Control <- ControlOp(msg.Payload[0]):
			case <-s.quit:
				return
			}

		case KindError:
			log.Printf("Server error, closing session: %s", string(msg.Payload))
			return

		case KindHandshake, KindMetadata, KindPing:
			// Keepalives and metadata need no routing.

		default:
			log.Printf("Dropping message with tag 0x%02x", byte(msg.Kind))
		}
	}
}

// writeLoop transmits queued frames until the session ends.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.sendQ:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				if s.State() != StateClosing {
					log.Printf("Write error: %v", err)
				}
				// The read loop owns teardown; closing the conn
				// makes its blocking read return.
				s.conn.Close()
				return
			}
		}
	}
}

// SendAudio queues one codec-encoded frame for transmission without
// blocking. If the queue is saturated the oldest unsent frame is
// dropped: in a live conversation stale audio is worse than a gap.
func (s *Session) SendAudio(data []byte) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}

	msg := EncodeAudio(data)
	for {
		select {
		case s.sendQ <- msg:
			return nil
		default:
		}

		select {
		case <-s.sendQ:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Printf("Send queue saturated, dropped %d frames total", n)
			}
		default:
		}
	}
}

// SendControl queues a control op for transmission.
func (s *Session) SendControl(op ControlOp) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}

	select {
	case s.sendQ <- EncodeControl(op):
		return nil
	default:
		return fmt.Errorf("protocol: send queue full")
	}
}

// teardown runs once when the receive loop exits, from either side.
func (s *Session) teardown() {
	// Remote termination passes through Closing on its way down.
	s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing))

	s.quitOnce.Do(func() { close(s.quit) })
	s.conn.Close()

	close(s.Audio)
	close(s.Text)
	close(s.Control)

	s.state.CompareAndSwap(int32(StateClosing), int32(StateDisconnected))
	log.Printf("Session %s closed", s.config.SessionID)
}

// Disconnect stops the loops, closes the connection, and waits until
// no background activity remains. Idempotent; calling it on a session
// that never connected or already ended is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateDisconnected {
		return
	}

	s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing))
	s.quitOnce.Do(func() { close(s.quit) })
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()

	s.state.CompareAndSwap(int32(StateClosing), int32(StateDisconnected))
}

// State returns a snapshot of the connection state. Callable from any
// thread without blocking.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Dropped returns the number of outbound frames discarded under
// send-queue saturation.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// SessionID returns the id sent to the server at connect time.
func (s *Session) SessionID() string {
	return s.config.SessionID
}
