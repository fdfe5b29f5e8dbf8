// ABOUTME: High-level Moshi client API
// ABOUTME: Entry point composing buffers, codec, and session
// Package moshi provides the high-level client for full-duplex spoken
// conversation with a Moshi server.
//
// The Client accepts microphone audio in arbitrary chunk sizes,
// re-frames it for the protocol, and reassembles received audio into
// whatever buffer size the playback callback requests, alongside a
// non-blocking text token stream.
//
// Example:
//
//	client, err := moshi.NewClient(moshi.Config{OutputBufferSize: 1920})
//	err = client.Connect("ws://localhost:8998/api/chat")
//
//	// capture callback
//	client.AddAudioInput(micSamples)
//
//	// playback callback
//	buf := client.GetAudioOutput(5 * time.Second)
//	if buf == nil {
//	    // substitute silence
//	}
//
//	// application loop
//	if token, ok := client.GetTextOutput(); ok {
//	    fmt.Print(token)
//	}
package moshi
