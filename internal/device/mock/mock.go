// Package mock provides an in-memory mock implementation of [device.Link]
// for use in unit tests.
//
// The mock records every command in order, lets tests configure return values
// via exported fields, and offers EmitLevel/EmitStatus helpers to simulate the
// switcher's asynchronous event delivery. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/stagecast/switchpilot/internal/device"
)

// Compile-time interface assertion.
var _ device.Link = (*Link)(nil)

// Command records one command method invocation on the mock link.
type Command struct {
	// Op names the method, e.g. "SetProgram" or "SetBoxSource".
	Op string

	// Args holds the method's integer arguments in declaration order.
	// Boolean arguments are recorded as 0 or 1.
	Args []int
}

// Link is a mock implementation of [device.Link].
type Link struct {
	mu sync.Mutex

	// CommandError, when non-nil, is returned by every command method.
	CommandError error

	// InputsResult is returned by [Link.Inputs].
	InputsResult []device.Input

	// InputsError is the error returned by [Link.Inputs].
	InputsError error

	// StatusResult is returned by [Link.Status]. Defaults to connected when
	// the mock is created with New.
	StatusResult device.Status

	// LevelFeed is returned by [Link.LevelFeedActive].
	LevelFeed bool

	commands   []Command
	levelSubs  map[int]device.LevelHandler
	statusSubs map[int]device.StatusHandler
	nextSubID  int
}

// New returns a mock Link that reports a connected switcher with an active
// level feed.
func New() *Link {
	return &Link{
		StatusResult: device.Status{Connected: true, Model: "mock"},
		LevelFeed:    true,
		levelSubs:    make(map[int]device.LevelHandler),
		statusSubs:   make(map[int]device.StatusHandler),
	}
}

func (l *Link) record(op string, args ...int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, Command{Op: op, Args: args})
	return l.CommandError
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetProgram records the call.
func (l *Link) SetProgram(_ context.Context, source int) error {
	return l.record("SetProgram", source)
}

// SetPreview records the call.
func (l *Link) SetPreview(_ context.Context, source int) error {
	return l.record("SetPreview", source)
}

// PerformAuto records the call.
func (l *Link) PerformAuto(_ context.Context) error {
	return l.record("PerformAuto")
}

// Cut records the call.
func (l *Link) Cut(_ context.Context) error {
	return l.record("Cut")
}

// SetTransitionRate records the call.
func (l *Link) SetTransitionRate(_ context.Context, frames int) error {
	return l.record("SetTransitionRate", frames)
}

// SetBoxSource records the call.
func (l *Link) SetBoxSource(_ context.Context, box, source int) error {
	return l.record("SetBoxSource", box, source)
}

// SetBoxEnabled records the call.
func (l *Link) SetBoxEnabled(_ context.Context, box int, enabled bool) error {
	return l.record("SetBoxEnabled", box, boolArg(enabled))
}

// SetKeyOnAir records the call.
func (l *Link) SetKeyOnAir(_ context.Context, keyer int, onAir bool) error {
	return l.record("SetKeyOnAir", keyer, boolArg(onAir))
}

// SetAuxSource records the call.
func (l *Link) SetAuxSource(_ context.Context, aux, source int) error {
	return l.record("SetAuxSource", aux, source)
}

// SetRecording records the call.
func (l *Link) SetRecording(_ context.Context, recording bool) error {
	return l.record("SetRecording", boolArg(recording))
}

// SetStreaming records the call.
func (l *Link) SetStreaming(_ context.Context, streaming bool) error {
	return l.record("SetStreaming", boolArg(streaming))
}

// Inputs returns InputsResult and InputsError.
func (l *Link) Inputs(_ context.Context) ([]device.Input, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.InputsResult, l.InputsError
}

// Status returns StatusResult.
func (l *Link) Status() device.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.StatusResult
}

// LevelFeedActive returns LevelFeed.
func (l *Link) LevelFeedActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.LevelFeed
}

// SubscribeLevels registers h and returns its unsubscribe function.
func (l *Link) SubscribeLevels(h device.LevelHandler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	l.levelSubs[id] = h
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.levelSubs, id)
	}
}

// SubscribeStatus registers h and returns its unsubscribe function.
func (l *Link) SubscribeStatus(h device.StatusHandler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	l.statusSubs[id] = h
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.statusSubs, id)
	}
}

// EmitLevel delivers a level sample to all level subscribers, mimicking the
// switcher's asynchronous mixer reports.
func (l *Link) EmitLevel(s device.LevelSample) {
	l.mu.Lock()
	handlers := make([]device.LevelHandler, 0, len(l.levelSubs))
	for _, h := range l.levelSubs {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// EmitStatus delivers a status change to all status subscribers and updates
// StatusResult to match.
func (l *Link) EmitStatus(s device.Status) {
	l.mu.Lock()
	l.StatusResult = s
	handlers := make([]device.StatusHandler, 0, len(l.statusSubs))
	for _, h := range l.statusSubs {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// Commands returns a copy of all recorded commands in invocation order.
func (l *Link) Commands() []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Command, len(l.commands))
	copy(out, l.commands)
	return out
}

// Reset clears all recorded commands.
func (l *Link) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = nil
}
