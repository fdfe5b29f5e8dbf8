// ABOUTME: Moshi wire message model
// ABOUTME: Tagged binary framing shared by encode, decode, and routing
package protocol

import (
	"errors"
	"fmt"
)

// Kind is the tag byte that opens every wire message.
type Kind byte

const (
	// KindHandshake is sent once by the server after the WebSocket
	// upgrade; its payload is opaque version information.
	KindHandshake Kind = 0x00

	// KindAudio carries one codec-encoded audio frame.
	KindAudio Kind = 0x01

	// KindText carries one UTF-8 text token.
	KindText Kind = 0x02

	// KindControl carries a single control op byte.
	KindControl Kind = 0x03

	// KindMetadata carries opaque server metadata.
	KindMetadata Kind = 0x04

	// KindError carries a server-side error description; the server
	// terminates the session after sending it.
	KindError Kind = 0x05

	// KindPing is a keepalive with an empty payload.
	KindPing Kind = 0x06
)

// ControlOp is the payload of a control message.
type ControlOp byte

const (
	ControlStart   ControlOp = 0x00
	ControlEndTurn ControlOp = 0x01
	ControlPause   ControlOp = 0x02
	ControlRestart ControlOp = 0x03
)

// Message is one decoded wire message.
type Message struct {
	Kind    Kind
	Payload []byte
}

var (
	// ErrEmptyMessage reports a wire message with no tag byte.
	ErrEmptyMessage = errors.New("protocol: empty message")

	// ErrUnknownTag reports a tag byte outside the protocol.
	ErrUnknownTag = errors.New("protocol: unknown message tag")
)

// Encode prepends the tag byte to payload, producing one wire message.
func Encode(kind Kind, payload []byte) []byte {
	msg := make([]byte, 1+len(payload))
	msg[0] = byte(kind)
	copy(msg[1:], payload)
	return msg
}

// EncodeAudio frames a codec payload as an audio message.
func EncodeAudio(data []byte) []byte {
	return Encode(KindAudio, data)
}

// EncodeText frames a text token.
func EncodeText(token string) []byte {
	return Encode(KindText, []byte(token))
}

// EncodeControl frames a control op.
func EncodeControl(op ControlOp) []byte {
	return Encode(KindControl, []byte{byte(op)})
}

// Decode parses one wire message. The payload aliases data; callers
// that retain it past the read must copy.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyMessage
	}

	kind := Kind(data[0])
	switch kind {
	case KindHandshake, KindAudio, KindText, KindControl, KindMetadata, KindError, KindPing:
		return Message{Kind: kind, Payload: data[1:]}, nil
	default:
		return Message{}, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, data[0])
	}
}
