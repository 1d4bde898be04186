package autoswitch

import (
	"fmt"
	"slices"
	"time"

	"github.com/stagecast/switchpilot/internal/device"
)

// Mode selects how confirmed speaker changes are reflected on the switcher.
type Mode string

const (
	// ModeProgram follows the speaker full-screen on the program output.
	ModeProgram Mode = "program"

	// ModeCompositeBox writes the speaker into one box of a composited
	// layout and leaves the program output alone.
	ModeCompositeBox Mode = "compositeBox"

	// ModeHostHybrid sends the host full-screen when the host speaks and
	// otherwise fills the composite box with the guest and routes the
	// composite layout to program.
	ModeHostHybrid Mode = "hostHybrid"
)

// IsValid reports whether m is a recognised output mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeProgram, ModeCompositeBox, ModeHostHybrid:
		return true
	}
	return false
}

// Default tuning. Poll 250 ms, hold 1000 ms, cooldown 2000 ms bound confirmed
// switches to roughly one every 1.25–3.25 seconds, which keeps visible
// flicker acceptable. All of these are configuration defaults, overridable
// per run for rooms or microphones that need different hysteresis.
const (
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultHold             = time.Second
	DefaultCooldown         = 2 * time.Second
	DefaultSilenceThreshold = -5000
	DefaultStickinessMargin = 200
	DefaultSmoothing        = 0.3
	DefaultStaleAfter       = 4 * time.Second
)

// Config describes one auto-switch run. It is immutable for the lifetime of
// the run.
//
// Channel and source indices are 1-based switcher identifiers; the audio
// channel index doubles as the video source identifier, matching how the
// switcher numbers its inputs.
type Config struct {
	// Candidates is the set of audio channels considered for speaking.
	Candidates []int

	// Host designates the host channel for [ModeHostHybrid]. Zero means no
	// host. In hybrid mode the host is implicitly a candidate.
	Host int

	// Mode selects the output behaviour. Defaults to [ModeProgram].
	Mode Mode

	// Box is the composite-layout slot written in box modes.
	Box int

	// CompositeSource is the switcher source identifier of the composite
	// layout itself, routed to program in [ModeHostHybrid].
	CompositeSource int

	// Transition selects cut or dissolve for [ModeProgram]. Defaults to cut.
	Transition device.TransitionKind

	// PollInterval is the decision-loop tick period.
	PollInterval time.Duration

	// Hold is how long a candidate must stay loudest before being confirmed.
	Hold time.Duration

	// Cooldown is the minimum time between two confirmed switches.
	Cooldown time.Duration

	// SilenceThreshold is the level at or below which a channel is silent,
	// in hundredths of a unit.
	SilenceThreshold float64

	// StickinessMargin is the loudness advantage a challenger needs over the
	// confirmed speaker's smoothed level, in hundredths of a unit.
	StickinessMargin float64

	// Smoothing is the EMA weight applied to each new sample.
	Smoothing float64

	// StaleAfter is how long a channel may go without samples before it
	// reads as silent.
	StaleAfter time.Duration
}

// withDefaults returns a copy of c with zero values replaced by defaults and,
// in hybrid mode, the host folded into the candidate set.
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeProgram
	}
	if c.Transition == "" {
		c.Transition = device.TransitionCut
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Hold <= 0 {
		c.Hold = DefaultHold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.StickinessMargin == 0 {
		c.StickinessMargin = DefaultStickinessMargin
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = DefaultSmoothing
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Mode == ModeHostHybrid && c.Host > 0 && !slices.Contains(c.Candidates, c.Host) {
		c.Candidates = append(slices.Clone(c.Candidates), c.Host)
	}
	return c
}

// Validate checks that c describes a runnable configuration. It is evaluated
// after defaults are applied.
func (c Config) Validate() error {
	if len(c.Candidates) == 0 {
		return fmt.Errorf("autoswitch: at least one candidate channel is required")
	}
	for _, ch := range c.Candidates {
		if ch < 1 {
			return fmt.Errorf("autoswitch: candidate channel %d is invalid; channels are 1-based", ch)
		}
	}
	if !c.Mode.IsValid() {
		return fmt.Errorf("autoswitch: mode %q is invalid; valid values: program, compositeBox, hostHybrid", c.Mode)
	}
	if !c.Transition.IsValid() {
		return fmt.Errorf("autoswitch: transition %q is invalid; valid values: cut, dissolve", c.Transition)
	}
	if c.Mode == ModeHostHybrid {
		if c.Host < 1 {
			return fmt.Errorf("autoswitch: hostHybrid mode requires a host channel")
		}
		if c.CompositeSource < 1 {
			return fmt.Errorf("autoswitch: hostHybrid mode requires the composite layout source")
		}
	}
	if c.Mode == ModeCompositeBox || c.Mode == ModeHostHybrid {
		if c.Box < 0 {
			return fmt.Errorf("autoswitch: composite box %d is invalid", c.Box)
		}
	}
	return nil
}
