package autoswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stagecast/switchpilot/internal/device"
	"github.com/stagecast/switchpilot/internal/journal"
	"github.com/stagecast/switchpilot/internal/observe"
)

// Errors reported synchronously by [Engine.Start] and [Engine.Stop].
var (
	// ErrRunActive is returned by Start while another run is active.
	ErrRunActive = errors.New("autoswitch: a run is already active")

	// ErrNotConnected is returned by Start when the switcher link is down.
	ErrNotConnected = errors.New("autoswitch: switcher is not connected")

	// ErrNoLevelFeed is returned by Start when the switcher has not been
	// delivering audio-level samples.
	ErrNoLevelFeed = errors.New("autoswitch: audio level feed is not active")

	// ErrNotRunning is returned by Stop when no run is active.
	ErrNotRunning = errors.New("autoswitch: no active run")
)

// journalTimeout bounds best-effort journal writes so a slow backend cannot
// pile up goroutines.
const journalTimeout = 5 * time.Second

// runSeq disambiguates run IDs created within the same second.
var runSeq atomic.Int64

// Summary reports the outcome of a finished run.
type Summary struct {
	// Duration is the elapsed wall-clock time of the run.
	Duration time.Duration

	// SwitchCount is the number of confirmed speaker switches.
	SwitchCount int
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	// Running reports whether a run is active. When false all other fields
	// are zero.
	Running bool

	// RunID identifies the active run.
	RunID string

	// Mode is the configured output mode.
	Mode Mode

	// Candidates is the configured candidate channel set.
	Candidates []int

	// HoldMs and CooldownMs echo the run's hysteresis tuning.
	HoldMs     int64
	CooldownMs int64

	// ConfirmedSpeaker is the channel currently on air; zero while the run
	// has not confirmed anybody yet.
	ConfirmedSpeaker int

	// PendingSpeaker is the channel accumulating hold time; zero when none.
	PendingSpeaker int

	// SwitchCount is the number of confirmed switches so far.
	SwitchCount int

	// RunningFor is the elapsed time since the run started.
	RunningFor time.Duration
}

// run is the mutable state of one active auto-switch run. All fields other
// than tracker (which carries its own lock) are guarded by the engine mutex.
type run struct {
	id       string
	cfg      Config
	tracker  *LevelTracker
	selector *Selector
	exec     *executor

	confirmed    int // 0 = none
	pending      int // 0 = none
	pendingSince time.Time
	lastSwitch   time.Time
	switchCount  int
	startedAt    time.Time

	done       chan struct{}
	wg         sync.WaitGroup
	unsubLevel func()
}

// Engine owns the auto-switch control loop for one switcher link.
//
// An Engine is an explicit handle: create one per connected device with [New],
// then drive it with [Engine.Start], [Engine.Stop], and [Engine.Status].
// At most one run is active per engine at a time; starting a second run fails
// without disturbing the active one. All exported methods are safe for
// concurrent use.
type Engine struct {
	link    device.Link
	logger  *slog.Logger
	metrics *observe.Metrics
	journal journal.Recorder
	onError func(error)
	nowFn   func() time.Time

	mu          sync.Mutex
	run         *run
	unsubStatus func()
	closed      bool
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics wires metric instruments into the engine. Without it the
// engine records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithJournal records confirmed switches to rec. Journal writes are
// best-effort and never affect loop semantics.
func WithJournal(rec journal.Recorder) Option {
	return func(e *Engine) { e.journal = rec }
}

// WithErrorHandler registers fn to receive device command failures, so a host
// application can decide whether to surface them. fn may be called from the
// poll goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

// New creates an Engine bound to link. The engine immediately subscribes to
// link status so that a device disconnect force-stops any active run.
func New(link device.Link, opts ...Option) *Engine {
	e := &Engine{
		link:   link,
		logger: slog.Default(),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.unsubStatus = link.SubscribeStatus(func(s device.Status) {
		if !s.Connected {
			e.handleDisconnect()
		}
	})
	return e
}

// Start begins a new run with cfg. It fails with [ErrRunActive],
// [ErrNotConnected], or [ErrNoLevelFeed] without mutating any state; any
// other error indicates an invalid configuration.
func (e *Engine) Start(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return ErrRunActive
	}
	if !e.link.Status().Connected {
		return ErrNotConnected
	}
	if !e.link.LevelFeedActive() {
		return ErrNoLevelFeed
	}

	now := e.nowFn()
	r := &run{
		id:        fmt.Sprintf("run-%s-%d", now.UTC().Format("20060102T150405Z"), runSeq.Add(1)),
		cfg:       cfg,
		tracker:   NewLevelTracker(cfg.Smoothing, cfg.StaleAfter),
		startedAt: now,
		done:      make(chan struct{}),
	}
	r.selector = &Selector{Tracker: r.tracker, SilenceThreshold: cfg.SilenceThreshold}
	r.exec = &executor{
		link:    e.link,
		cfg:     cfg,
		logger:  e.logger,
		metrics: e.metrics,
		onError: e.onError,
	}

	// Ingestion path: the link delivers samples on its own goroutine,
	// concurrently with poll ticks. The tracker's mutex keeps each record
	// update atomic with respect to tick evaluation.
	r.unsubLevel = e.link.SubscribeLevels(func(s device.LevelSample) {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = e.nowFn()
		}
		r.tracker.Record(s.Channel, float64(s.Level), ts)
		e.metrics.RecordLevelSample(context.Background())
	})

	e.run = r
	e.metrics.AddActiveRuns(context.Background(), 1)

	r.wg.Add(1)
	go e.loop(r)

	e.logger.Info("auto-switch started",
		"run_id", r.id,
		"mode", cfg.Mode,
		"candidates", cfg.Candidates,
		"host", cfg.Host,
		"poll_ms", cfg.PollInterval.Milliseconds(),
		"hold_ms", cfg.Hold.Milliseconds(),
		"cooldown_ms", cfg.Cooldown.Milliseconds(),
	)
	return nil
}

// Stop ends the active run. It guarantees that no further ticks execute and
// no further command dispatches from this run occur after it returns.
func (e *Engine) Stop() (Summary, error) {
	e.mu.Lock()
	r := e.run
	if r == nil {
		e.mu.Unlock()
		return Summary{}, ErrNotRunning
	}
	e.run = nil
	close(r.done)
	r.unsubLevel()
	e.mu.Unlock()

	// Wait out any tick in progress before reporting.
	r.wg.Wait()

	sum := Summary{
		Duration:    e.nowFn().Sub(r.startedAt),
		SwitchCount: r.switchCount,
	}
	e.metrics.AddActiveRuns(context.Background(), -1)
	e.logger.Info("auto-switch stopped",
		"run_id", r.id,
		"duration_s", sum.Duration.Seconds(),
		"switches", sum.SwitchCount,
	)
	return sum, nil
}

// Status returns a snapshot of the engine, distinguishing "not running" from
// "running but no confirmed speaker yet".
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.run
	if r == nil {
		return Status{}
	}
	return Status{
		Running:          true,
		RunID:            r.id,
		Mode:             r.cfg.Mode,
		Candidates:       append([]int(nil), r.cfg.Candidates...),
		HoldMs:           r.cfg.Hold.Milliseconds(),
		CooldownMs:       r.cfg.Cooldown.Milliseconds(),
		ConfirmedSpeaker: r.confirmed,
		PendingSpeaker:   r.pending,
		SwitchCount:      r.switchCount,
		RunningFor:       e.nowFn().Sub(r.startedAt),
	}
}

// Close stops any active run and detaches the engine from the link's status
// feed. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	unsub := e.unsubStatus
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if _, err := e.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// handleDisconnect force-stops the active run when the device link drops.
// Levels from a dead connection are meaningless, so the tracker is cleared
// along with the run.
func (e *Engine) handleDisconnect() {
	e.mu.Lock()
	r := e.run
	if r != nil {
		e.run = nil
		close(r.done)
		r.unsubLevel()
	}
	e.mu.Unlock()

	if r == nil {
		return
	}
	r.wg.Wait()
	r.tracker.Clear()
	e.metrics.AddActiveRuns(context.Background(), -1)
	e.logger.Warn("auto-switch force-stopped: switcher disconnected",
		"run_id", r.id,
		"switches", r.switchCount,
	)
}

// loop is the poll scheduler for one run. It exits when the run's done
// channel closes.
func (e *Engine) loop(r *run) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			e.tick(r)
		}
	}
}

// tick evaluates the decision policy once and, on a confirmed switch,
// dispatches the device commands. Dispatch happens outside the engine mutex
// but inside the run's WaitGroup, so Stop still fences it.
func (e *Engine) tick(r *run) {
	start := e.nowFn()

	e.mu.Lock()
	if e.run != r {
		// The run was stopped while this tick waited for the lock.
		e.mu.Unlock()
		return
	}
	ev, confirmed := e.evaluate(r, e.nowFn())
	e.mu.Unlock()

	ctx := context.Background()
	if confirmed {
		e.logger.Info("speaker changed",
			"run_id", r.id,
			"from", ev.From,
			"to", ev.To,
			"level", ev.Level,
		)
		r.exec.speakerChanged(ctx, ev)
		e.metrics.RecordSwitch(ctx, string(r.cfg.Mode))
		e.recordJournal(r, ev)
	}
	e.metrics.RecordTick(ctx, e.nowFn().Sub(start).Seconds())
}

// evaluate applies the hysteresis policy for one tick at time now and
// mutates the run state accordingly. The caller must hold e.mu.
//
// The policy, in order: cooldown guard; loudest candidate by instantaneous
// level; already-correct check; stickiness margin against the confirmed
// speaker's smoothed level; pending-candidate bookkeeping; hold confirmation.
func (e *Engine) evaluate(r *run, now time.Time) (SwitchEvent, bool) {
	cfg := r.cfg

	// Cooldown guard: nothing may happen too soon after a confirmed switch.
	if !r.lastSwitch.IsZero() && now.Sub(r.lastSwitch) < cfg.Cooldown {
		return SwitchEvent{}, false
	}

	// Fast detection: rank candidates by instantaneous level.
	ranked := r.selector.Rank(cfg.Candidates, now, false, false)
	if len(ranked) == 0 {
		// Nobody speaking.
		r.clearPending()
		return SwitchEvent{}, false
	}
	loudest := ranked[0]

	// Already on air.
	if loudest.Channel == r.confirmed {
		r.clearPending()
		return SwitchEvent{}, false
	}

	// Stickiness: while the confirmed speaker's smoothed level is still above
	// the silence threshold, a challenger needs a clear loudness advantage.
	// This keeps a brief pause between words from tearing the shot away.
	if r.confirmed != 0 {
		cur := r.tracker.Read(r.confirmed, now)
		if cur.Live && cur.Smoothed > cfg.SilenceThreshold {
			if loudest.Level-cur.Smoothed < cfg.StickinessMargin {
				r.clearPending()
				return SwitchEvent{}, false
			}
		}
	}

	// A new challenger restarts the confirmation timer.
	if loudest.Channel != r.pending {
		r.pending = loudest.Channel
		r.pendingSince = now
		return SwitchEvent{}, false
	}

	// Same challenger: confirm once it has been loudest for the hold time.
	if now.Sub(r.pendingSince) < cfg.Hold {
		return SwitchEvent{}, false
	}

	ev := SwitchEvent{
		RunID: r.id,
		From:  r.confirmed,
		To:    loudest.Channel,
		Level: loudest.Level,
	}
	r.confirmed = loudest.Channel
	r.clearPending()
	r.lastSwitch = now
	r.switchCount++
	return ev, true
}

// clearPending resets the pending-candidate state.
func (r *run) clearPending() {
	r.pending = 0
	r.pendingSince = time.Time{}
}

// recordJournal writes ev to the journal on a separate goroutine so a slow
// backend cannot stall the poll loop.
func (e *Engine) recordJournal(r *run, ev SwitchEvent) {
	if e.journal == nil {
		return
	}
	entry := journal.Entry{
		RunID:       ev.RunID,
		At:          e.nowFn(),
		FromChannel: ev.From,
		ToChannel:   ev.To,
		Mode:        string(r.cfg.Mode),
		Level:       ev.Level,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := e.journal.Record(ctx, entry); err != nil {
			e.logger.Warn("journal write failed", "run_id", ev.RunID, "err", err)
		}
	}()
}
