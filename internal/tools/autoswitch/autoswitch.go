// Package autoswitch exposes the auto-switch engine as callable tools:
// starting and stopping runs and inspecting the active run's state.
package autoswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	engine "github.com/stagecast/switchpilot/internal/autoswitch"
	"github.com/stagecast/switchpilot/internal/config"
	"github.com/stagecast/switchpilot/internal/device"
	"github.com/stagecast/switchpilot/internal/journal"
	"github.com/stagecast/switchpilot/internal/observe"
	"github.com/stagecast/switchpilot/internal/tools"
)

// recentLimit bounds how many journal entries get_auto_switch_status reports.
const recentLimit = 10

// Tools exposes one [engine.Engine] as a tool set.
type Tools struct {
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *observe.Metrics
	journal journal.Recorder

	mu       sync.Mutex
	defaults config.AutoSwitchConfig
}

// Option configures [Tools].
type Option func(*Tools)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Tools) { t.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to none.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tools) { t.metrics = m }
}

// WithJournal lets get_auto_switch_status report recent confirmed switches.
func WithJournal(rec journal.Recorder) Option {
	return func(t *Tools) { t.journal = rec }
}

// WithDefaults seeds the server-side run defaults, typically from the config
// file. Arguments a caller omits on start_auto_switch fall back to these.
func WithDefaults(d config.AutoSwitchConfig) Option {
	return func(t *Tools) { t.defaults = d }
}

// New creates the auto-switch tool set around eng.
func New(eng *engine.Engine, opts ...Option) *Tools {
	t := &Tools{
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetDefaults replaces the server-side run defaults. Safe to call while runs
// are active; an active run keeps the tuning it started with.
func (t *Tools) SetDefaults(d config.AutoSwitchConfig) {
	t.mu.Lock()
	t.defaults = d
	t.mu.Unlock()
}

// Register adds the auto-switch tools to s.
func (t *Tools) Register(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: "start_auto_switch",
		Description: "Start automatic speaker following: the loudest candidate " +
			"channel is put on air after a confirmation hold, with a cooldown " +
			"between switches. Only one run can be active at a time.",
	}, tools.Instrument(t.metrics, "start_auto_switch", t.start))

	mcp.AddTool(s, &mcp.Tool{
		Name:        "stop_auto_switch",
		Description: "Stop the active auto-switch run and report its duration and switch count.",
	}, tools.Instrument(t.metrics, "stop_auto_switch", t.stop))

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_auto_switch_status",
		Description: "Report whether an auto-switch run is active, its tuning, the confirmed and pending speakers, and recent switches.",
	}, tools.Instrument(t.metrics, "get_auto_switch_status", t.status))
}

// ── start_auto_switch ─────────────────────────────────────────────────────────

// StartArgs are the arguments for start_auto_switch. Zero-valued tuning
// fields fall back to the server defaults, then to the built-in defaults.
type StartArgs struct {
	// Candidates are the audio channels to follow. Channel numbers double as
	// the video source put on air for that speaker.
	Candidates []int `json:"candidates" validate:"required,min=1,dive,min=1"`

	// Mode selects the output style: "program" (default), "compositeBox",
	// or "hostHybrid".
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=program compositeBox hostHybrid"`

	// Transition selects "cut" (default) or "dissolve" for program switches.
	Transition string `json:"transition,omitempty" validate:"omitempty,oneof=cut dissolve"`

	// Host is the host's channel, required for hostHybrid mode.
	Host int `json:"host,omitempty" validate:"min=0"`

	// Box is the composite layout slot updated in compositeBox and
	// hostHybrid modes.
	Box int `json:"box,omitempty" validate:"min=0"`

	// CompositeSource is the source id of the composite layout itself,
	// required for hostHybrid mode.
	CompositeSource int `json:"compositeSource,omitempty" validate:"min=0"`

	// PollIntervalMs, HoldMs, and CooldownMs tune the hysteresis timing.
	PollIntervalMs int `json:"pollIntervalMs,omitempty" validate:"min=0"`
	HoldMs         int `json:"holdMs,omitempty" validate:"min=0"`
	CooldownMs     int `json:"cooldownMs,omitempty" validate:"min=0"`

	// SilenceThreshold is the level at or below which a channel counts as
	// silent, in hundredths of dB (negative).
	SilenceThreshold float64 `json:"silenceThreshold,omitempty" validate:"max=0"`

	// StickinessMargin is the loudness advantage a challenger needs over the
	// confirmed speaker, in hundredths of dB.
	StickinessMargin float64 `json:"stickinessMargin,omitempty" validate:"min=0"`

	// Smoothing is the exponential moving average coefficient in (0, 1].
	Smoothing float64 `json:"smoothing,omitempty" validate:"min=0,max=1"`
}

// StartResult is the structured result of start_auto_switch.
type StartResult struct {
	RunID string `json:"runId"`
}

func (t *Tools) start(_ context.Context, _ *mcp.CallToolRequest, args StartArgs) (*mcp.CallToolResult, StartResult, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), StartResult{}, nil
	}

	cfg := t.buildConfig(args)
	if err := t.engine.Start(cfg); err != nil {
		switch {
		case errors.Is(err, engine.ErrRunActive):
			return tools.Error("an auto-switch run is already active; stop it first"), StartResult{}, nil
		case errors.Is(err, engine.ErrNotConnected):
			return tools.Error("cannot start: switcher is not connected"), StartResult{}, nil
		case errors.Is(err, engine.ErrNoLevelFeed):
			return tools.Error("cannot start: no audio level feed from the switcher"), StartResult{}, nil
		default:
			return tools.Error("cannot start: %v", err), StartResult{}, nil
		}
	}

	st := t.engine.Status()
	return tools.Text("auto-switch started (run %s, mode %s, candidates %v)",
		st.RunID, st.Mode, st.Candidates), StartResult{RunID: st.RunID}, nil
}

// buildConfig folds caller arguments over the server defaults into an engine
// config. Fields neither side sets stay zero and pick up the engine's own
// built-in defaults.
func (t *Tools) buildConfig(args StartArgs) engine.Config {
	t.mu.Lock()
	d := t.defaults
	t.mu.Unlock()

	cfg := engine.Config{
		Candidates:       args.Candidates,
		Host:             args.Host,
		Box:              args.Box,
		CompositeSource:  args.CompositeSource,
		Mode:             engine.Mode(args.Mode),
		Transition:       device.TransitionKind(args.Transition),
		PollInterval:     msOverride(args.PollIntervalMs, d.PollIntervalMs),
		Hold:             msOverride(args.HoldMs, d.HoldMs),
		Cooldown:         msOverride(args.CooldownMs, d.CooldownMs),
		StaleAfter:       time.Duration(d.StaleAfterMs) * time.Millisecond,
		SilenceThreshold: floatOverride(args.SilenceThreshold, d.SilenceThreshold),
		StickinessMargin: floatOverride(args.StickinessMargin, d.StickinessMargin),
		Smoothing:        floatOverride(args.Smoothing, d.Smoothing),
	}
	return cfg
}

// msOverride picks the first non-zero value, converted to a duration.
func msOverride(callerMs, defaultMs int) time.Duration {
	if callerMs > 0 {
		return time.Duration(callerMs) * time.Millisecond
	}
	return time.Duration(defaultMs) * time.Millisecond
}

// floatOverride picks the caller's value when set, else the default.
func floatOverride(caller, def float64) float64 {
	if caller != 0 {
		return caller
	}
	return def
}

// ── stop_auto_switch ──────────────────────────────────────────────────────────

// StopResult is the structured result of stop_auto_switch.
type StopResult struct {
	DurationMs  int64 `json:"durationMs"`
	SwitchCount int   `json:"switchCount"`
}

func (t *Tools) stop(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StopResult, error) {
	sum, err := t.engine.Stop()
	if err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return tools.Error("no auto-switch run is active"), StopResult{}, nil
		}
		return tools.Error("stop failed: %v", err), StopResult{}, nil
	}

	res := StopResult{
		DurationMs:  sum.Duration.Milliseconds(),
		SwitchCount: sum.SwitchCount,
	}
	return tools.Text("auto-switch stopped after %s with %d switches",
		sum.Duration.Round(time.Second), sum.SwitchCount), res, nil
}

// ── get_auto_switch_status ────────────────────────────────────────────────────

// RecentSwitch is one confirmed switch in the status report.
type RecentSwitch struct {
	At          time.Time `json:"at"`
	FromChannel int       `json:"fromChannel"`
	ToChannel   int       `json:"toChannel"`
	Level       float64   `json:"level"`
}

// StatusResult is the structured result of get_auto_switch_status.
type StatusResult struct {
	Running          bool           `json:"running"`
	RunID            string         `json:"runId,omitempty"`
	Mode             string         `json:"mode,omitempty"`
	Candidates       []int          `json:"candidates,omitempty"`
	HoldMs           int64          `json:"holdMs,omitempty"`
	CooldownMs       int64          `json:"cooldownMs,omitempty"`
	ConfirmedSpeaker int            `json:"confirmedSpeaker,omitempty"`
	PendingSpeaker   int            `json:"pendingSpeaker,omitempty"`
	SwitchCount      int            `json:"switchCount,omitempty"`
	RunningForMs     int64          `json:"runningForMs,omitempty"`
	RecentSwitches   []RecentSwitch `json:"recentSwitches,omitempty"`
}

func (t *Tools) status(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatusResult, error) {
	st := t.engine.Status()
	if !st.Running {
		return tools.Text("no auto-switch run is active"), StatusResult{}, nil
	}

	res := StatusResult{
		Running:          true,
		RunID:            st.RunID,
		Mode:             string(st.Mode),
		Candidates:       st.Candidates,
		HoldMs:           st.HoldMs,
		CooldownMs:       st.CooldownMs,
		ConfirmedSpeaker: st.ConfirmedSpeaker,
		PendingSpeaker:   st.PendingSpeaker,
		SwitchCount:      st.SwitchCount,
		RunningForMs:     st.RunningFor.Milliseconds(),
	}
	if t.journal != nil {
		entries, err := t.journal.Recent(ctx, st.RunID, recentLimit)
		if err != nil {
			t.logger.Warn("journal read failed", "run_id", st.RunID, "err", err)
		}
		for _, e := range entries {
			res.RecentSwitches = append(res.RecentSwitches, RecentSwitch{
				At:          e.At,
				FromChannel: e.FromChannel,
				ToChannel:   e.ToChannel,
				Level:       e.Level,
			})
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s active for %s, mode %s, candidates %v\n",
		st.RunID, st.RunningFor.Round(time.Second), st.Mode, st.Candidates)
	if st.ConfirmedSpeaker != 0 {
		fmt.Fprintf(&sb, "on air: channel %d\n", st.ConfirmedSpeaker)
	} else {
		sb.WriteString("on air: nobody confirmed yet\n")
	}
	if st.PendingSpeaker != 0 {
		fmt.Fprintf(&sb, "pending: channel %d\n", st.PendingSpeaker)
	}
	fmt.Fprintf(&sb, "switches so far: %d\n", st.SwitchCount)
	return tools.Text("%s", sb.String()), res, nil
}
