// Package pipeline runs the validate, convert, merge and upload steps for
// one incoming booking message.
package pipeline

import (
	"context"
	"time"
)

// DefaultMaxConflictRetries bounds how often a lost conditional write is
// re-merged before the conflict is surfaced.
const DefaultMaxConflictRetries = 5

// DefaultConflictBackoff is the base wait before re-merging after a lost
// conditional write.
const DefaultConflictBackoff = 20 * time.Millisecond

// Config holds pipeline settings.
type Config struct {
	// MaxConflictRetries is how many times a WRITE_CONFLICT re-runs the
	// merge. Zero surfaces the first conflict.
	MaxConflictRetries int
	// ConflictBackoff is the base of the jittered wait between conflict
	// retries. It doubles per attempt. Zero means DefaultConflictBackoff,
	// negative disables the wait.
	ConflictBackoff time.Duration
	// ScratchDir is the parent of per-invocation scratch directories.
	// Empty means the system temp dir.
	ScratchDir string
	// Unconditional disables conditional publishes. Concurrent writers can
	// then drop each other's rows; only useful to reproduce that behaviour.
	Unconditional bool
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{MaxConflictRetries: DefaultMaxConflictRetries}
}

// Result describes a successful write.
type Result struct {
	// Key is the object the row was written to
	Key string `json:"partition"`
	// Rows is the row count of the object after the write
	Rows int64 `json:"rows"`
	// ETag is the ETag of the written object
	ETag string `json:"-"`
	// Attempts is the number of merge-publish rounds (1 without conflicts)
	Attempts int `json:"-"`
}

// Processor handles one message body end to end.
type Processor interface {
	Process(ctx context.Context, body []byte) (*Result, error)
}
