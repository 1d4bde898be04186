package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stagecast/switchpilot/internal/resilience"
)

func entry(runID string, to int) Entry {
	return Entry{
		RunID:     runID,
		At:        time.Now(),
		ToChannel: to,
		Mode:      "program",
	}
}

func TestMemStore_RecentNewestFirst(t *testing.T) {
	t.Parallel()
	s := NewMemStore(0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := s.Record(ctx, entry("run-1", i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int{3, 2, 1} {
		if got[i].ToChannel != want {
			t.Errorf("entry[%d].ToChannel = %d, want %d", i, got[i].ToChannel, want)
		}
	}
}

func TestMemStore_RecentFiltersByRun(t *testing.T) {
	t.Parallel()
	s := NewMemStore(0)
	ctx := context.Background()

	_ = s.Record(ctx, entry("run-1", 1))
	_ = s.Record(ctx, entry("run-2", 2))
	_ = s.Record(ctx, entry("run-1", 3))

	got, err := s.Recent(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, e := range got {
		if e.RunID != "run-1" {
			t.Errorf("entry from run %q leaked into the filter", e.RunID)
		}
	}
}

func TestMemStore_RecentHonoursLimit(t *testing.T) {
	t.Parallel()
	s := NewMemStore(0)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_ = s.Record(ctx, entry("run-1", i))
	}

	got, err := s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ToChannel != 5 || got[1].ToChannel != 4 {
		t.Errorf("limit should keep the newest entries, got %v", got)
	}
}

func TestMemStore_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewMemStore(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_ = s.Record(ctx, entry("run-1", i))
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	got, _ := s.Recent(ctx, "", 0)
	for _, e := range got {
		if e.ToChannel <= 2 {
			t.Errorf("entry %d should have been evicted", e.ToChannel)
		}
	}
}

// failingRecorder always errors, for breaker tests.
type failingRecorder struct{}

func (failingRecorder) Record(context.Context, Entry) error { return errFail }
func (failingRecorder) Recent(context.Context, string, int) ([]Entry, error) {
	return nil, errFail
}

var errFail = fmt.Errorf("backend down")

func TestBreakerRecorder_PassesThrough(t *testing.T) {
	t.Parallel()
	b := NewBreakerRecorder(NewMemStore(0))
	ctx := context.Background()

	if err := b.Record(ctx, entry("run-1", 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := b.Recent(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestBreakerRecorder_OpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	b := NewBreakerRecorder(failingRecorder{})
	ctx := context.Background()

	// Default breaker trips after five consecutive failures.
	for i := 0; i < 5; i++ {
		if err := b.Record(ctx, entry("run-1", 1)); !errors.Is(err, errFail) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}

	if err := b.Record(ctx, entry("run-1", 1)); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen once tripped", err)
	}
	if _, err := b.Recent(ctx, "", 0); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("Recent err = %v, want ErrOpen once tripped", err)
	}
}
