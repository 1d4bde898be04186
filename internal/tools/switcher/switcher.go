// Package switcher exposes the direct switcher control tools: program and
// preview routing, transitions, composite layout boxes, keyers, aux outputs,
// record/stream toggles, and read-only queries for inputs, status, and audio
// levels.
package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stagecast/switchpilot/internal/device"
	"github.com/stagecast/switchpilot/internal/observe"
	"github.com/stagecast/switchpilot/internal/tools"
)

// levelWindow is how far back a cached audio level still counts as current
// when answering get_audio_levels.
const levelWindow = 4 * time.Second

// Tools exposes direct switcher control over a [device.Link].
//
// Create instances with [New] and register them on a server with
// [Tools.Register]. Call [Tools.Close] when done to release the level
// subscription.
type Tools struct {
	link    device.Link
	logger  *slog.Logger
	metrics *observe.Metrics

	mu     sync.Mutex
	levels map[int]device.LevelSample
	unsub  func()
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

// New creates the switcher tool set. It subscribes to the link's audio-level
// feed immediately so get_audio_levels can answer from a warm cache.
func New(link device.Link, opts ...Option) *Tools {
	t := &Tools{
		link:   link,
		logger: slog.Default(),
		levels: make(map[int]device.LevelSample),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.unsub = link.SubscribeLevels(func(s device.LevelSample) {
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		t.mu.Lock()
		t.levels[s.Channel] = s
		t.mu.Unlock()
	})

	return t
}

// Close releases the audio-level subscription.
func (t *Tools) Close() {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}

// Register adds every switcher control tool to s.
func (t *Tools) Register(s *mcp.Server) {
	add(s, t.metrics, "set_program",
		"Route a video source to the program (live) output.",
		t.setProgram)
	add(s, t.metrics, "set_preview",
		"Stage a video source on the preview bus.",
		t.setPreview)
	add(s, t.metrics, "perform_transition",
		"Run a transition between preview and program. Kind is \"cut\" for an instant swap or \"auto\" for the configured timed transition; defaults to auto.",
		t.performTransition)
	add(s, t.metrics, "set_transition_rate",
		"Set the duration of the auto transition in frames.",
		t.setTransitionRate)
	add(s, t.metrics, "set_box_source",
		"Assign a video source to one box of the composite (multi-view) layout.",
		t.setBoxSource)
	add(s, t.metrics, "set_box_enabled",
		"Show or hide one box of the composite layout.",
		t.setBoxEnabled)
	add(s, t.metrics, "set_key_on_air",
		"Put an upstream keyer on or off air.",
		t.setKeyOnAir)
	add(s, t.metrics, "set_aux_source",
		"Route a video source to an auxiliary output.",
		t.setAuxSource)
	add(s, t.metrics, "start_stop_record",
		"Start or stop the switcher's recorder.",
		t.startStopRecord)
	add(s, t.metrics, "start_stop_stream",
		"Start or stop the switcher's stream output.",
		t.startStopStream)
	add(s, t.metrics, "list_inputs",
		"List the switcher's selectable video inputs with their source identifiers.",
		t.listInputs)
	add(s, t.metrics, "get_switcher_status",
		"Report whether the switcher control link is connected and which model is attached.",
		t.getStatus)
	add(s, t.metrics, "get_audio_levels",
		"Report the most recent audio level per channel, loudest first.",
		t.getAudioLevels)
}

// add registers one instrumented tool.
func add[In, Out any](s *mcp.Server, m *observe.Metrics, name, description string, h mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s, &mcp.Tool{Name: name, Description: description}, tools.Instrument(m, name, h))
}

// command runs one link command and converts the outcome into a tool result.
func (t *Tools) command(op string, ok string, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		t.logger.Warn("switcher command failed", "op", op, "err", err)
		return tools.Error("%s failed: %v", op, err), nil, nil
	}
	return tools.Text("%s", ok), nil, nil
}

// ── Routing and transitions ───────────────────────────────────────────────────

// SetProgramArgs are the arguments for set_program.
type SetProgramArgs struct {
	// Source is the video source identifier to put on program.
	Source int `json:"source" validate:"min=1"`
}

func (t *Tools) setProgram(ctx context.Context, _ *mcp.CallToolRequest, args SetProgramArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	return t.command("set_program",
		fmt.Sprintf("program output set to source %d", args.Source),
		t.link.SetProgram(ctx, args.Source))
}

// SetPreviewArgs are the arguments for set_preview.
type SetPreviewArgs struct {
	// Source is the video source identifier to stage on preview.
	Source int `json:"source" validate:"min=1"`
}

func (t *Tools) setPreview(ctx context.Context, _ *mcp.CallToolRequest, args SetPreviewArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	return t.command("set_preview",
		fmt.Sprintf("preview set to source %d", args.Source),
		t.link.SetPreview(ctx, args.Source))
}

// PerformTransitionArgs are the arguments for perform_transition.
type PerformTransitionArgs struct {
	// Kind selects the transition: "cut" or "auto". Empty means auto.
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=cut auto"`
}

func (t *Tools) performTransition(ctx context.Context, _ *mcp.CallToolRequest, args PerformTransitionArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	if args.Kind == "cut" {
		return t.command("perform_transition", "cut performed", t.link.Cut(ctx))
	}
	return t.command("perform_transition", "auto transition started", t.link.PerformAuto(ctx))
}

// SetTransitionRateArgs are the arguments for set_transition_rate.
type SetTransitionRateArgs struct {
	// Frames is the auto-transition duration in frames.
	Frames int `json:"frames" validate:"min=1,max=250"`
}

func (t *Tools) setTransitionRate(ctx context.Context, _ *mcp.CallToolRequest, args SetTransitionRateArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	return t.command("set_transition_rate",
		fmt.Sprintf("transition rate set to %d frames", args.Frames),
		t.link.SetTransitionRate(ctx, args.Frames))
}

// ── Composite layout, keyers, aux ─────────────────────────────────────────────

// SetBoxSourceArgs are the arguments for set_box_source.
type SetBoxSourceArgs struct {
	// Box is the composite layout slot, starting at 1.
	Box int `json:"box" validate:"min=1,max=4"`

	// Source is the video source identifier to show in the box.
	Source int `json:"source" validate:"min=1"`
}

func (t *Tools) setBoxSource(ctx context.Context, _ *mcp.CallToolRequest, args SetBoxSourceArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	return t.command("set_box_source",
		fmt.Sprintf("box %d set to source %d", args.Box, args.Source),
		t.link.SetBoxSource(ctx, args.Box, args.Source))
}

// SetBoxEnabledArgs are the arguments for set_box_enabled.
type SetBoxEnabledArgs struct {
	// Box is the composite layout slot, starting at 1.
	Box int `json:"box" validate:"min=1,max=4"`

	// Enabled shows the box when true and hides it when false.
	Enabled bool `json:"enabled"`
}

func (t *Tools) setBoxEnabled(ctx context.Context, _ *mcp.CallToolRequest, args SetBoxEnabledArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	verb := "hidden"
	if args.Enabled {
		verb = "shown"
	}
	return t.command("set_box_enabled",
		fmt.Sprintf("box %d %s", args.Box, verb),
		t.link.SetBoxEnabled(ctx, args.Box, args.Enabled))
}

// SetKeyOnAirArgs are the arguments for set_key_on_air.
type SetKeyOnAirArgs struct {
	// Keyer is the upstream keyer index, starting at 0.
	Keyer int `json:"keyer" validate:"min=0,max=3"`

	// OnAir puts the keyer on air when true.
	OnAir bool `json:"onAir"`
}

func (t *Tools) setKeyOnAir(ctx context.Context, _ *mcp.CallToolRequest, args SetKeyOnAirArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	state := "off air"
	if args.OnAir {
		state = "on air"
	}
	return t.command("set_key_on_air",
		fmt.Sprintf("keyer %d %s", args.Keyer, state),
		t.link.SetKeyOnAir(ctx, args.Keyer, args.OnAir))
}

// SetAuxSourceArgs are the arguments for set_aux_source.
type SetAuxSourceArgs struct {
	// Aux is the auxiliary output index, starting at 1.
	Aux int `json:"aux" validate:"min=1"`

	// Source is the video source identifier to route.
	Source int `json:"source" validate:"min=1"`
}

func (t *Tools) setAuxSource(ctx context.Context, _ *mcp.CallToolRequest, args SetAuxSourceArgs) (*mcp.CallToolResult, any, error) {
	if err := tools.ValidateArgs(args); err != nil {
		return tools.Error("%v", err), nil, nil
	}
	return t.command("set_aux_source",
		fmt.Sprintf("aux %d set to source %d", args.Aux, args.Source),
		t.link.SetAuxSource(ctx, args.Aux, args.Source))
}

// ── Record and stream ─────────────────────────────────────────────────────────

// StartStopArgs toggle a long-running switcher function on or off.
type StartStopArgs struct {
	// Start begins the function when true and stops it when false.
	Start bool `json:"start"`
}

func (t *Tools) startStopRecord(ctx context.Context, _ *mcp.CallToolRequest, args StartStopArgs) (*mcp.CallToolResult, any, error) {
	verb := "stopped"
	if args.Start {
		verb = "started"
	}
	return t.command("start_stop_record",
		"recording "+verb,
		t.link.SetRecording(ctx, args.Start))
}

func (t *Tools) startStopStream(ctx context.Context, _ *mcp.CallToolRequest, args StartStopArgs) (*mcp.CallToolResult, any, error) {
	verb := "stopped"
	if args.Start {
		verb = "started"
	}
	return t.command("start_stop_stream",
		"streaming "+verb,
		t.link.SetStreaming(ctx, args.Start))
}

// ── Queries ───────────────────────────────────────────────────────────────────

// InputsResult is the structured result of list_inputs.
type InputsResult struct {
	Inputs []device.Input `json:"inputs"`
}

func (t *Tools) listInputs(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, InputsResult, error) {
	inputs, err := t.link.Inputs(ctx)
	if err != nil {
		t.logger.Warn("input listing failed", "err", err)
		return tools.Error("list_inputs failed: %v", err), InputsResult{}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d inputs:\n", len(inputs))
	for _, in := range inputs {
		fmt.Fprintf(&sb, "  %d: %s\n", in.Source, in.Name)
	}
	return tools.Text("%s", sb.String()), InputsResult{Inputs: inputs}, nil
}

// StatusResult is the structured result of get_switcher_status.
type StatusResult struct {
	Connected       bool   `json:"connected"`
	Model           string `json:"model,omitempty"`
	LevelFeedActive bool   `json:"levelFeedActive"`
}

func (t *Tools) getStatus(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatusResult, error) {
	st := t.link.Status()
	res := StatusResult{
		Connected:       st.Connected,
		Model:           st.Model,
		LevelFeedActive: t.link.LevelFeedActive(),
	}

	if !res.Connected {
		return tools.Text("switcher is disconnected"), res, nil
	}
	feed := "no audio level feed"
	if res.LevelFeedActive {
		feed = "audio level feed active"
	}
	return tools.Text("connected to %s; %s", st.Model, feed), res, nil
}

// AudioLevel is one channel's entry in the get_audio_levels result.
type AudioLevel struct {
	Channel int   `json:"channel"`
	Level   int   `json:"level"`
	AgeMs   int64 `json:"ageMs"`
}

// AudioLevelsResult is the structured result of get_audio_levels.
type AudioLevelsResult struct {
	Levels []AudioLevel `json:"levels"`
}

func (t *Tools) getAudioLevels(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, AudioLevelsResult, error) {
	now := time.Now()

	t.mu.Lock()
	var levels []AudioLevel
	for ch, s := range t.levels {
		age := now.Sub(s.Timestamp)
		if age > levelWindow {
			continue
		}
		levels = append(levels, AudioLevel{Channel: ch, Level: s.Level, AgeMs: age.Milliseconds()})
	}
	t.mu.Unlock()

	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Level != levels[j].Level {
			return levels[i].Level > levels[j].Level
		}
		return levels[i].Channel < levels[j].Channel
	})

	if len(levels) == 0 {
		return tools.Text("no recent audio levels"), AudioLevelsResult{}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d channels, loudest first:\n", len(levels))
	for _, l := range levels {
		fmt.Fprintf(&sb, "  channel %d: %d\n", l.Channel, l.Level)
	}
	return tools.Text("%s", sb.String()), AudioLevelsResult{Levels: levels}, nil
}
