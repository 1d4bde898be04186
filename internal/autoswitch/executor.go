package autoswitch

import (
	"context"
	"log/slog"

	"github.com/stagecast/switchpilot/internal/device"
	"github.com/stagecast/switchpilot/internal/observe"
)

// SwitchEvent describes one confirmed speaker change.
type SwitchEvent struct {
	// RunID identifies the run that produced the event.
	RunID string

	// From is the previously confirmed speaker; zero when none.
	From int

	// To is the newly confirmed speaker.
	To int

	// Level is the new speaker's instantaneous loudness at confirmation.
	Level float64
}

// executor translates confirmed speaker changes into device commands
// according to the run's output mode.
//
// Dispatch is fire and forget: command failures are logged, counted, and
// reported through the engine's error callback, but never retried or rolled
// back. By the time a command fails the decision state has already advanced,
// and re-issuing a stale switch is not meaningful.
type executor struct {
	link    device.Link
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics
	onError func(error)
}

// speakerChanged issues the device commands for ev under the configured mode.
func (x *executor) speakerChanged(ctx context.Context, ev SwitchEvent) {
	switch x.cfg.Mode {
	case ModeProgram:
		if x.cfg.Transition == device.TransitionDissolve {
			// Stage the speaker as the next source, then run the timed
			// transition.
			x.dispatch(ctx, "SetPreview", func() error { return x.link.SetPreview(ctx, ev.To) })
			x.dispatch(ctx, "PerformAuto", func() error { return x.link.PerformAuto(ctx) })
		} else {
			x.dispatch(ctx, "SetProgram", func() error { return x.link.SetProgram(ctx, ev.To) })
		}

	case ModeCompositeBox:
		x.dispatch(ctx, "SetBoxSource", func() error { return x.link.SetBoxSource(ctx, x.cfg.Box, ev.To) })

	case ModeHostHybrid:
		if ev.To == x.cfg.Host {
			x.dispatch(ctx, "SetProgram", func() error { return x.link.SetProgram(ctx, ev.To) })
			return
		}
		// Guest: fill the composite slot first, then route the composite
		// layout to program, in that order.
		x.dispatch(ctx, "SetBoxSource", func() error { return x.link.SetBoxSource(ctx, x.cfg.Box, ev.To) })
		x.dispatch(ctx, "SetProgram", func() error { return x.link.SetProgram(ctx, x.cfg.CompositeSource) })
	}
}

// dispatch runs one command, recording its outcome. Errors are non-fatal.
func (x *executor) dispatch(ctx context.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		x.metrics.RecordCommand(ctx, op, "error")
		x.logger.Warn("device command failed", "op", op, "err", err)
		if x.onError != nil {
			x.onError(err)
		}
		return
	}
	x.metrics.RecordCommand(ctx, op, "ok")
}
