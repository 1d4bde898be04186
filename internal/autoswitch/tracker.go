// Package autoswitch implements the active-speaker auto-switch engine: a
// background control loop that ingests per-channel audio loudness samples
// from the switcher's mixer, decides with hysteresis which channel is
// speaking, and issues device commands to follow that speaker automatically.
//
// The package is organised around four collaborators:
//
//   - [LevelTracker] keeps instantaneous and smoothed loudness per channel.
//   - [Selector] ranks candidate channels by loudness.
//   - [Engine] owns the lifecycle and the hysteresis decision loop.
//   - the mode executor translates confirmed speaker changes into device
//     commands.
//
// Levels throughout the package are expressed in hundredths of a decibel-like
// unit, roughly -10000 (silence floor) to 0 (full scale); higher is louder.
package autoswitch

import (
	"sync"
	"time"
)

// channelRecord is the per-channel loudness state held by a [LevelTracker].
type channelRecord struct {
	instantaneous float64
	smoothed      float64
	lastUpdate    time.Time
}

// Reading is the result of reading one channel from a [LevelTracker].
type Reading struct {
	// Instantaneous is the most recent raw sample.
	Instantaneous float64

	// Smoothed is the exponentially-weighted moving average of recent samples.
	Smoothed float64

	// Live is false when the channel has never reported or its last sample is
	// older than the staleness window; such channels are treated as silent.
	Live bool
}

// LevelTracker ingests asynchronous loudness samples per channel and
// maintains an instantaneous and a smoothed value for each.
//
// Records are never deleted individually; a channel whose last sample is older
// than the staleness window reads as not live, and [LevelTracker.Clear] drops
// the whole set when the device connection is replaced.
//
// All methods are safe for concurrent use.
type LevelTracker struct {
	mu         sync.Mutex
	alpha      float64
	staleAfter time.Duration
	records    map[int]*channelRecord
}

// NewLevelTracker creates a tracker applying weight alpha to each new sample
// (smoothed = alpha·sample + (1-alpha)·smoothed) and treating channels as
// silent after staleAfter without an update.
func NewLevelTracker(alpha float64, staleAfter time.Duration) *LevelTracker {
	return &LevelTracker{
		alpha:      alpha,
		staleAfter: staleAfter,
		records:    make(map[int]*channelRecord),
	}
}

// Record ingests one raw loudness sample for channel at time now.
//
// The first sample for a channel seeds the smoothed value; later samples are
// folded in with the tracker's smoothing weight. Samples are assumed ordered
// per channel; if they are not, last write wins.
func (t *LevelTracker) Record(channel int, raw float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[channel]
	if !ok {
		t.records[channel] = &channelRecord{
			instantaneous: raw,
			smoothed:      raw,
			lastUpdate:    now,
		}
		return
	}
	rec.instantaneous = raw
	rec.smoothed = t.alpha*raw + (1-t.alpha)*rec.smoothed
	rec.lastUpdate = now
}

// Read returns the channel's levels at time now. Absent or stale channels
// degrade to a non-live Reading rather than an error.
func (t *LevelTracker) Read(channel int, now time.Time) Reading {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[channel]
	if !ok || now.Sub(rec.lastUpdate) > t.staleAfter {
		return Reading{}
	}
	return Reading{
		Instantaneous: rec.instantaneous,
		Smoothed:      rec.smoothed,
		Live:          true,
	}
}

// Clear drops every channel record. Called when the device connection is
// replaced, since levels from a previous session are meaningless.
func (t *LevelTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[int]*channelRecord)
}

// Channels returns the indices of all channels that have ever reported,
// including stale ones. Intended for status reporting.
func (t *LevelTracker) Channels() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.records))
	for ch := range t.records {
		out = append(out, ch)
	}
	return out
}
