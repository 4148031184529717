// Package queue consumes booking events from a Redis list.
package queue

import (
	"context"
	"time"
)

// Message is one queued event body.
type Message struct {
	// ID identifies the message within the consumer's lifetime.
	ID   string
	Body []byte
}

// DeadLetter is the entry stored for a message that can never succeed.
type DeadLetter struct {
	Body     string    `json:"body"`
	Error    string    `json:"error"`
	Code     string    `json:"code,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// Source is a queue the consumer pulls from.
type Source interface {
	// Fetch blocks up to timeout for the first message and returns at most
	// max messages. An empty slice means the timeout elapsed.
	Fetch(ctx context.Context, max int, timeout time.Duration) ([]Message, error)
	// Requeue puts messages back at the tail for another attempt.
	Requeue(ctx context.Context, msgs []Message) error
	// DeadLetter parks messages that failed on their own content.
	DeadLetter(ctx context.Context, entries []DeadLetter) error
}
