// ABOUTME: FIFO queue of decoded text tokens
// ABOUTME: Non-blocking poll, capped with drop-oldest on overflow
package moshi

import (
	"log"
	"sync"
)

// TextQueue holds decoded text tokens in arrival order until the
// application drains them. Text volume is orders of magnitude below
// audio, but the queue is still capped so a session left running for
// hours cannot grow without bound; on overflow the oldest token is
// dropped.
type TextQueue struct {
	mu     sync.Mutex
	tokens []string
	cap    int
}

// NewTextQueue creates a queue holding at most capacity tokens.
func NewTextQueue(capacity int) *TextQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &TextQueue{cap: capacity}
}

// Push appends a token, dropping the oldest one when full.
func (q *TextQueue) Push(token string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tokens) >= q.cap {
		q.tokens = q.tokens[1:]
		log.Printf("Text queue full, dropped oldest token")
	}
	q.tokens = append(q.tokens, token)
}

// Poll removes and returns the oldest token. The second return value
// is false when the queue is empty. Never blocks.
func (q *TextQueue) Poll() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tokens) == 0 {
		return "", false
	}
	token := q.tokens[0]
	q.tokens = q.tokens[1:]
	return token, true
}

// Len returns the number of queued tokens.
func (q *TextQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tokens)
}
