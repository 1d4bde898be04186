// Package resilience provides a three-state circuit breaker for guarding
// flaky backends.
//
// The switch event journal wraps its database backend in a [Breaker] so a
// dead database degrades to dropped journal entries instead of every switch
// waiting out a connection timeout. A breaker moves closed → open after a
// run of consecutive failures, rejects calls while open, and probes the
// backend through a half-open state once the reset timeout elapses.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// reset timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultProbeBudget  = 3
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Option configures a [Breaker].
type Option func(*Breaker)

// WithMaxFailures sets how many consecutive failures trip the breaker.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before probing.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithProbeBudget sets how many half-open probe calls are allowed.
func WithProbeBudget(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probeBudget = n
		}
	}
}

// WithLogger sets the logger for state transition messages.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeBudget  int
	logger       *slog.Logger

	mu          sync.Mutex
	state       State
	failStreak  int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// New creates a closed [Breaker]. The name labels log messages; tuning not
// set through options uses the defaults (5 failures, 30s reset, 3 probes).
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		maxFailures:  defaultMaxFailures,
		resetTimeout: defaultResetTimeout,
		probeBudget:  defaultProbeBudget,
		logger:       slog.Default(),
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn if the breaker allows it. While open it returns [ErrOpen]
// without calling fn; in half-open only the probe budget gets through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		b.logger.Info("circuit half-open, probing backend", "breaker", b.name)

	case StateHalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		b.state = StateOpen
		b.failStreak = b.maxFailures
		b.logger.Warn("circuit re-opened, probe failed", "breaker", b.name)
		return
	}

	b.failStreak++
	if b.failStreak >= b.maxFailures {
		b.state = StateOpen
		b.logger.Warn("circuit opened",
			"breaker", b.name,
			"consecutive_failures", b.failStreak)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.failStreak = 0
		return
	}
	if b.probes-b.probeFails >= b.probeBudget {
		b.state = StateClosed
		b.failStreak = 0
		b.probes = 0
		b.probeFails = 0
		b.logger.Info("circuit closed, backend recovered", "breaker", b.name)
	}
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored transition happens
// on the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failStreak = 0
	b.probes = 0
	b.probeFails = 0
	b.logger.Info("circuit reset", "breaker", b.name)
}
