package journal

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Recorder interface.
var _ Recorder = (*MemStore)(nil)

// defaultMemCapacity bounds the in-memory ring so a long show cannot grow
// memory without limit.
const defaultMemCapacity = 1024

// MemStore is a thread-safe, in-memory implementation of [Recorder] that
// keeps the most recent events in a bounded ring. Suitable for single-process
// use and testing.
type MemStore struct {
	mu      sync.RWMutex
	cap     int
	entries []Entry
}

// NewMemStore returns an initialised [MemStore]. A capacity of zero or less
// selects the default.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = defaultMemCapacity
	}
	return &MemStore{cap: capacity}
}

// Record implements [Recorder.Record].
func (s *MemStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
	return nil
}

// Recent implements [Recorder.Recent].
func (s *MemStore) Recent(_ context.Context, runID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = len(s.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if runID != "" && e.RunID != runID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len returns the number of retained events.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
