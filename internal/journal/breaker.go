package journal

import (
	"context"

	"github.com/stagecast/switchpilot/internal/resilience"
)

// BreakerRecorder wraps a [Recorder] in a circuit breaker. When the backend
// keeps failing, writes and reads are rejected immediately with
// [resilience.ErrOpen] instead of each call waiting out its timeout.
// Switch dispatching never depends on the journal, so dropped entries are an
// acceptable degradation.
type BreakerRecorder struct {
	inner   Recorder
	breaker *resilience.Breaker
}

var _ Recorder = (*BreakerRecorder)(nil)

// NewBreakerRecorder wraps inner in a breaker named "journal".
func NewBreakerRecorder(inner Recorder) *BreakerRecorder {
	return &BreakerRecorder{
		inner:   inner,
		breaker: resilience.New("journal"),
	}
}

// Record implements [Recorder].
func (b *BreakerRecorder) Record(ctx context.Context, e Entry) error {
	return b.breaker.Do(func() error {
		return b.inner.Record(ctx, e)
	})
}

// Recent implements [Recorder].
func (b *BreakerRecorder) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	var entries []Entry
	err := b.breaker.Do(func() error {
		var innerErr error
		entries, innerErr = b.inner.Recent(ctx, runID, limit)
		return innerErr
	})
	return entries, err
}
