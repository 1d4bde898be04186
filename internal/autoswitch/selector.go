package autoswitch

import (
	"sort"
	"time"
)

// Ranked is one entry of a [Selector.Rank] result.
type Ranked struct {
	// Channel is the audio channel index.
	Channel int

	// Level is the loudness value the ranking was computed from.
	Level float64
}

// Selector ranks candidate channels by loudness against a silence threshold.
// It is a pure view over a [LevelTracker]; it holds no state of its own.
type Selector struct {
	// Tracker supplies per-channel levels.
	Tracker *LevelTracker

	// SilenceThreshold is the level at or below which a channel counts as
	// silent, in hundredths of a unit.
	SilenceThreshold float64
}

// Rank reads every candidate's level at time now and returns the candidates
// ordered loudest first. Ties favour the lower channel index, so identical
// levels cannot cause ranking oscillation.
//
// When useSmoothed is true the smoothed level is ranked, otherwise the
// instantaneous level. Non-live channels and channels at or below the silence
// threshold are dropped unless includeAll is set. An empty result means nobody
// is above the threshold.
func (s *Selector) Rank(candidates []int, now time.Time, useSmoothed, includeAll bool) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, ch := range candidates {
		r := s.Tracker.Read(ch, now)
		level := r.Instantaneous
		if useSmoothed {
			level = r.Smoothed
		}
		if !includeAll {
			if !r.Live || level <= s.SilenceThreshold {
				continue
			}
		}
		if !r.Live {
			level = s.SilenceThreshold
		}
		out = append(out, Ranked{Channel: ch, Level: level})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}
