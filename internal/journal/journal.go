// Package journal records confirmed auto-switch events for post-show review.
//
// Two backends are provided: [MemStore], an in-memory ring suitable for
// single-process setups and tests, and [PostgresStore], which persists events
// to PostgreSQL. Writes from the engine are best-effort; a failing journal
// never interferes with switching.
package journal

import (
	"context"
	"time"
)

// Entry is one confirmed speaker switch.
type Entry struct {
	// RunID identifies the auto-switch run the event belongs to.
	RunID string

	// At is when the switch was confirmed.
	At time.Time

	// FromChannel is the previously confirmed speaker; zero when the run had
	// no speaker yet.
	FromChannel int

	// ToChannel is the newly confirmed speaker.
	ToChannel int

	// Mode is the output mode the run was configured with.
	Mode string

	// Level is the challenger's instantaneous loudness at confirmation, in
	// hundredths of a unit.
	Level float64
}

// Recorder persists switch events and serves recent history.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Record appends one switch event.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit events for runID, newest first. An empty
	// runID matches all runs.
	Recent(ctx context.Context, runID string, limit int) ([]Entry, error)
}
