// Package device defines the boundary to the video-production switcher.
//
// A [Link] maintains the control connection to one switcher: it issues
// routing, transition, and layout commands, exposes the switcher's input
// catalogue, and delivers asynchronous audio-level and connection-status
// events to subscribers.
//
// The package contains only the boundary types; concrete implementations live
// in sub-packages (atemws for the WebSocket control protocol, mock for tests).
package device

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by command methods when the control link to the
// switcher is not established.
var ErrNotConnected = errors.New("device: not connected")

// LevelSample is one loudness report for a single audio channel.
//
// Level is expressed in hundredths of a decibel-like unit; the usable range is
// roughly -10000 (silence floor) to 0 (full scale). Higher means louder.
type LevelSample struct {
	// Channel is the switcher's audio input index the sample belongs to.
	Channel int

	// Level is the raw loudness value in hundredths of a unit.
	Level int

	// Timestamp is when the switcher reported the sample. Zero means "now".
	Timestamp time.Time
}

// Status describes the state of the control link.
type Status struct {
	// Connected reports whether the control connection is established.
	Connected bool

	// Model is the switcher's self-reported model name, if known.
	Model string
}

// Input describes one selectable video source on the switcher.
type Input struct {
	// Source is the protocol-level source identifier.
	Source int

	// Name is the operator-facing label (e.g. "CAM 1").
	Name string
}

// TransitionKind selects how a program change is performed.
type TransitionKind string

const (
	// TransitionCut switches the program output instantly.
	TransitionCut TransitionKind = "cut"

	// TransitionDissolve stages the source as preview and runs a timed
	// auto transition.
	TransitionDissolve TransitionKind = "dissolve"
)

// IsValid reports whether k is a recognised transition kind.
func (k TransitionKind) IsValid() bool {
	return k == TransitionCut || k == TransitionDissolve
}

// LevelHandler receives audio-level samples from the switcher's mixer.
// Handlers are invoked from the link's own delivery goroutine and must not
// block.
type LevelHandler func(LevelSample)

// StatusHandler receives connection-status changes.
type StatusHandler func(Status)

// Link is the control connection to one switcher.
//
// Command methods are fire-and-forget at the protocol level: a nil return
// means the command was handed to the transport, not that the switcher
// acknowledged it. All methods are safe for concurrent use.
type Link interface {
	// SetProgram routes source to the primary (program) output.
	SetProgram(ctx context.Context, source int) error

	// SetPreview stages source as the next (preview) source.
	SetPreview(ctx context.Context, source int) error

	// PerformAuto runs the configured timed transition between preview and
	// program.
	PerformAuto(ctx context.Context) error

	// Cut swaps preview and program instantly.
	Cut(ctx context.Context) error

	// SetTransitionRate sets the auto-transition duration in frames.
	SetTransitionRate(ctx context.Context, frames int) error

	// SetBoxSource assigns source to box slot of the composite layout.
	SetBoxSource(ctx context.Context, box, source int) error

	// SetBoxEnabled toggles visibility of a composite layout box.
	SetBoxEnabled(ctx context.Context, box int, enabled bool) error

	// SetKeyOnAir sets an upstream keyer on or off air.
	SetKeyOnAir(ctx context.Context, keyer int, onAir bool) error

	// SetAuxSource routes source to an auxiliary output.
	SetAuxSource(ctx context.Context, aux, source int) error

	// SetRecording starts or stops the switcher's recorder.
	SetRecording(ctx context.Context, recording bool) error

	// SetStreaming starts or stops the switcher's stream output.
	SetStreaming(ctx context.Context, streaming bool) error

	// Inputs returns the switcher's input catalogue.
	Inputs(ctx context.Context) ([]Input, error)

	// Status returns the current link status.
	Status() Status

	// LevelFeedActive reports whether mixer level samples have been received
	// recently enough to be considered a live feed.
	LevelFeedActive() bool

	// SubscribeLevels registers h for audio-level samples and returns a
	// function that removes the subscription.
	SubscribeLevels(h LevelHandler) (unsubscribe func())

	// SubscribeStatus registers h for connection-status changes and returns a
	// function that removes the subscription.
	SubscribeStatus(h StatusHandler) (unsubscribe func())
}
