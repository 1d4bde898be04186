package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

func trip(t *testing.T, b *Breaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		_ = b.Do(func() error { return errBackend })
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New("journal")
	if b.maxFailures != defaultMaxFailures {
		t.Errorf("maxFailures = %d, want %d", b.maxFailures, defaultMaxFailures)
	}
	if b.resetTimeout != defaultResetTimeout {
		t.Errorf("resetTimeout = %v, want %v", b.resetTimeout, defaultResetTimeout)
	}
	if b.probeBudget != defaultProbeBudget {
		t.Errorf("probeBudget = %d, want %d", b.probeBudget, defaultProbeBudget)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
}

func TestDo_ForwardsWhileClosed(t *testing.T) {
	t.Parallel()

	b := New("journal")
	called := false
	if err := b.Do(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestDo_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := New("journal", WithMaxFailures(3), WithResetTimeout(time.Hour))
	trip(t, b, 3)

	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	err := b.Do(func() error {
		t.Error("fn must not run while open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestDo_SuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()

	b := New("journal", WithMaxFailures(3))
	trip(t, b, 2)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}

	// The streak restarted, so two more failures must not trip it.
	trip(t, b, 2)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestState_ReportsHalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	b := New("journal", WithMaxFailures(2), WithResetTimeout(10*time.Millisecond))
	trip(t, b, 2)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(15 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", got)
	}
}

func TestDo_ClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	b := New("journal",
		WithMaxFailures(2),
		WithResetTimeout(10*time.Millisecond),
		WithProbeBudget(2))
	trip(t, b, 2)
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestDo_ReopensOnProbeFailure(t *testing.T) {
	t.Parallel()

	b := New("journal", WithMaxFailures(2), WithResetTimeout(10*time.Millisecond))
	trip(t, b, 2)
	time.Sleep(15 * time.Millisecond)

	if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want errBackend", err)
	}

	b.mu.Lock()
	got := b.state
	b.mu.Unlock()
	if got != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", got)
	}
}

func TestReset_ClosesAnOpenBreaker(t *testing.T) {
	t.Parallel()

	b := New("journal", WithMaxFailures(2), WithResetTimeout(time.Hour))
	trip(t, b, 2)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after reset", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
