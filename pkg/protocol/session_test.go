// ABOUTME: Tests for the duplex session
// ABOUTME: Handshake, state machine, message routing, disconnect semantics
package protocol

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// startServer runs an in-process WebSocket server that completes the
// protocol handshake and then hands the connection to fn.
func startServer(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.BinaryMessage, Encode(KindHandshake, []byte("test"))); err != nil {
			return
		}
		if fn != nil {
			fn(conn)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// hold keeps the server side open until the test finishes.
func hold(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestSessionConnect(t *testing.T) {
	url := startServer(t, hold)

	sess := NewSession(Config{ServerURL: url})
	if sess.State() != StateDisconnected {
		t.Errorf("expected disconnected before connect, got %s", sess.State())
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	if !sess.IsConnected() {
		t.Error("expected connected state after connect")
	}
	if sess.State() != StateConnected {
		t.Errorf("expected connected, got %s", sess.State())
	}
}

func TestSessionDialFailure(t *testing.T) {
	sess := NewSession(Config{ServerURL: "ws://127.0.0.1:1/api/chat"})

	err := sess.Connect(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if sess.State() != StateFailed {
		t.Errorf("expected failed state, got %s", sess.State())
	}

	// Disconnect on a failed session must not panic or block.
	sess.Disconnect()
	if sess.State() != StateFailed {
		t.Errorf("expected failed state to be terminal, got %s", sess.State())
	}
}

func TestSessionHandshakeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Audio before handshake violates the protocol.
		conn.WriteMessage(websocket.BinaryMessage, EncodeAudio([]byte{1}))
		hold(conn)
	}))
	defer srv.Close()

	sess := NewSession(Config{ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err := sess.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake error")
	}
	if sess.State() != StateFailed {
		t.Errorf("expected failed state, got %s", sess.State())
	}
}

func TestSessionRoutesInbound(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, EncodeAudio([]byte{10, 20, 30}))
		conn.WriteMessage(websocket.BinaryMessage, EncodeText("bonjour"))
		conn.WriteMessage(websocket.BinaryMessage, EncodeControl(ControlEndTurn))
		hold(conn)
	})

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	select {
	case data := <-sess.Audio:
		if !bytes.Equal(data, []byte{10, 20, 30}) {
			t.Errorf("unexpected audio payload: %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no audio routed")
	}

	select {
	case token := <-sess.Text:
		if token != "bonjour" {
			t.Errorf("unexpected text token: %q", token)
		}
	case <-time.After(time.Second):
		t.Fatal("no text routed")
	}

	select {
	case op := <-sess.Control:
		if op != ControlEndTurn {
			t.Errorf("unexpected control op: %d", op)
		}
	case <-time.After(time.Second):
		t.Fatal("no control routed")
	}
}

func TestSessionSurvivesMalformedMessage(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		// An unknown tag must be dropped, not end the conversation.
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 1, 2})
		conn.WriteMessage(websocket.BinaryMessage, []byte{})
		conn.WriteMessage(websocket.BinaryMessage, EncodeText("still here"))
		hold(conn)
	})

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	select {
	case token := <-sess.Text:
		if token != "still here" {
			t.Errorf("unexpected token: %q", token)
		}
	case <-time.After(time.Second):
		t.Fatal("receive loop did not survive malformed input")
	}
}

func TestSessionSendAudio(t *testing.T) {
	received := make(chan []byte, 1)
	url := startServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		hold(conn)
	})

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case data := <-received:
		msg, err := Decode(data)
		if err != nil {
			t.Fatalf("server could not decode: %v", err)
		}
		if msg.Kind != KindAudio {
			t.Errorf("expected audio tag, got %d", msg.Kind)
		}
		if !bytes.Equal(msg.Payload, []byte{1, 2, 3, 4}) {
			t.Errorf("unexpected payload: %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never reached the server")
	}
}

func TestSessionSendWhenDisconnected(t *testing.T) {
	sess := NewSession(Config{ServerURL: "ws://localhost:1/api/chat"})

	if err := sess.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSessionRemoteTermination(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, Encode(KindError, []byte("server shutting down")))
		hold(conn)
	})

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// The error message ends the receive loop, which closes the
	// inbound channels and lands the session in Disconnected.
	select {
	case _, ok := <-sess.Audio:
		if ok {
			t.Error("expected audio channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("audio channel never closed")
	}

	deadline := time.Now().Add(time.Second)
	for sess.State() != StateDisconnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sess.State() != StateDisconnected {
		t.Errorf("expected disconnected after remote termination, got %s", sess.State())
	}
}

func TestSessionTransportFailure(t *testing.T) {
	// Dropping the TCP connection without a close frame is an
	// unrecoverable transport error, distinct from a clean termination.
	url := startServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	select {
	case _, ok := <-sess.Audio:
		if ok {
			t.Error("expected audio channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("audio channel never closed")
	}

	deadline := time.Now().Add(time.Second)
	for sess.State() != StateFailed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sess.State() != StateFailed {
		t.Errorf("expected failed after transport loss, got %s", sess.State())
	}

	// Disconnect reaps the loops without masking the failure.
	sess.Disconnect()
	if sess.State() != StateFailed {
		t.Errorf("expected failed to be terminal, got %s", sess.State())
	}
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	url := startServer(t, hold)

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	sess.Disconnect()
	if sess.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", sess.State())
	}

	sess.Disconnect()
	if sess.State() != StateDisconnected {
		t.Errorf("expected disconnected after second disconnect, got %s", sess.State())
	}
}

func TestSessionDisconnectBeforeConnect(t *testing.T) {
	sess := NewSession(Config{ServerURL: "ws://localhost:1/api/chat"})

	sess.Disconnect()
	if sess.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", sess.State())
	}
}

func TestSessionSingleUse(t *testing.T) {
	url := startServer(t, hold)

	sess := NewSession(Config{ServerURL: url})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sess.Disconnect()

	if err := sess.Connect(context.Background()); err == nil {
		t.Error("expected error reconnecting a used session")
	}
}

func TestSessionDropOldestUnderSaturation(t *testing.T) {
	// The server never reads past the handshake, so TCP buffers fill
	// and the write loop stalls; SendAudio must keep returning without
	// blocking and shed the oldest queued frames.
	url := startServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})

	sess := NewSession(Config{ServerURL: url, SendQueueFrames: 2})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	frame := make([]byte, 4096)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			sess.SendAudio(frame)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SendAudio blocked under transport saturation")
	}

	if sess.Dropped() == 0 {
		t.Error("expected dropped frames under saturation")
	}
}

func TestSessionForwardsQuery(t *testing.T) {
	gotQuery := make(chan map[string][]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, Encode(KindHandshake, nil))
		hold(conn)
	}))
	defer srv.Close()

	sess := NewSession(Config{
		ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Query:     map[string][]string{"text_temperature": {"0.3"}},
	})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	q := <-gotQuery
	if got := q["text_temperature"]; len(got) != 1 || got[0] != "0.3" {
		t.Errorf("tuning parameter not forwarded: %v", q)
	}
	if len(q["session_id"]) != 1 || q["session_id"][0] == "" {
		t.Errorf("session id not sent: %v", q)
	}
}
