// ABOUTME: Entry point for the Moshi chat CLI
// ABOUTME: Parses flags, wires the duplex device to the client, prints text
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fujielab/fujielab-moshi-client/pkg/audio"
	"github.com/fujielab/fujielab-moshi-client/pkg/device"
	"github.com/fujielab/fujielab-moshi-client/pkg/discovery"
	"github.com/fujielab/fujielab-moshi-client/pkg/moshi"
)

var (
	serverURL    = flag.String("server", "ws://localhost:8998/api/chat", "Moshi server WebSocket URL")
	discover     = flag.Bool("discover", false, "Discover a server via mDNS instead of -server")
	outputBuffer = flag.Int("output-buffer", audio.FrameSize, "Playback buffer size in samples")
	pullTimeout  = flag.Duration("pull-timeout", 5*time.Second, "Max wait for received audio per playback block")
	textTemp     = flag.Float64("text-temperature", 0.7, "Text sampling temperature")
	audioTemp    = flag.Float64("audio-temperature", 0.8, "Audio sampling temperature")
	logFile      = flag.String("log-file", "", "Log file path (default: stderr)")
)

func main() {
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer func() { _ = f.Close() }()
		log.SetOutput(f)
	}

	url := *serverURL
	if *discover {
		found, err := discoverServer()
		if err != nil {
			log.Fatalf("discovery failed: %v", err)
		}
		url = found
	}

	client, err := moshi.NewClient(moshi.Config{
		OutputBufferSize: *outputBuffer,
		TextTemperature:  *textTemp,
		AudioTemperature: *audioTemp,
	})
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	fmt.Printf("Connecting to %s...\n", url)
	if err := client.Connect(url); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	fmt.Println("Connected. Speak into the microphone; Ctrl+C to stop.")

	dev, err := device.NewDuplex(device.DuplexConfig{
		PeriodFrames: *outputBuffer,
		OnInput:      client.AddAudioInput,
		Source: func(n int) []float32 {
			// nil plays silence, keeping the stream alive through
			// gaps and after stream end.
			return client.GetAudioOutput(*pullTimeout)
		},
	})
	if err != nil {
		log.Fatalf("failed to open audio device: %v", err)
	}
	defer dev.Close()

	if err := dev.Start(); err != nil {
		log.Fatalf("failed to start audio device: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping...")
			client.Disconnect()
			return
		case <-ticker.C:
			for {
				token, ok := client.GetTextOutput()
				if !ok {
					break
				}
				fmt.Print(token)
				os.Stdout.Sync()
			}
			if !client.IsConnected() {
				fmt.Println("\nServer closed the session.")
				return
			}
		}
	}
}

// discoverServer browses mDNS and returns the first server found.
func discoverServer() (string, error) {
	mgr := discovery.NewManager()
	defer mgr.Stop()

	fmt.Println("Browsing for Moshi servers...")
	mgr.Browse()

	select {
	case server := <-mgr.Servers():
		fmt.Printf("Found %s at %s:%d\n", server.Name, server.Host, server.Port)
		return server.URL(), nil
	case <-time.After(10 * time.Second):
		return "", fmt.Errorf("no server found within 10s")
	}
}
