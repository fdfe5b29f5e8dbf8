// ABOUTME: Moshi wire protocol package
// ABOUTME: Tagged binary messages and the duplex WebSocket session
// Package protocol implements the Moshi wire protocol: tagged binary
// WebSocket messages and the duplex session that carries them.
//
// Every wire message is a tag byte followed by a payload. Audio frames
// and text tokens flow in both directions over one connection; the
// Session demultiplexes inbound messages onto channels and serializes
// outbound frames through a bounded drop-oldest queue.
//
// Example:
//
//	sess := protocol.NewSession(protocol.Config{
//	    ServerURL: "ws://localhost:8998/api/chat",
//	})
//	err := sess.Connect(context.Background())
//	for data := range sess.Audio {
//	    // decode and play
//	}
package protocol
