package autoswitch

import (
	"testing"
	"time"
)

var trackerBase = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func TestLevelTracker_SeedsSmoothedToFirstSample(t *testing.T) {
	t.Parallel()
	tr := NewLevelTracker(0.3, 4*time.Second)

	tr.Record(1, -2500, trackerBase)

	r := tr.Read(1, trackerBase)
	if !r.Live {
		t.Fatal("freshly recorded channel should be live")
	}
	if r.Instantaneous != -2500 {
		t.Errorf("instantaneous = %v, want -2500", r.Instantaneous)
	}
	if r.Smoothed != -2500 {
		t.Errorf("smoothed = %v, want -2500 (seeded to first sample)", r.Smoothed)
	}
}

func TestLevelTracker_SmoothedMatchesIteratedEMA(t *testing.T) {
	t.Parallel()
	const alpha = 0.3
	samples := []float64{-4000, -1000, -2000, -500, -3500, -100, -6000, -900}

	tr := NewLevelTracker(alpha, 4*time.Second)
	now := trackerBase
	for _, s := range samples {
		tr.Record(7, s, now)
		now = now.Add(50 * time.Millisecond)
	}

	// Iterate the EMA independently of wall-clock timing.
	want := samples[0]
	for _, s := range samples[1:] {
		want = alpha*s + (1-alpha)*want
	}

	got := tr.Read(7, now).Smoothed
	if got != want {
		t.Errorf("smoothed = %v, want %v", got, want)
	}
}

func TestLevelTracker_InstantaneousIsLastSample(t *testing.T) {
	t.Parallel()
	tr := NewLevelTracker(0.3, 4*time.Second)
	tr.Record(2, -9000, trackerBase)
	tr.Record(2, -100, trackerBase.Add(time.Second))

	if got := tr.Read(2, trackerBase.Add(time.Second)).Instantaneous; got != -100 {
		t.Errorf("instantaneous = %v, want -100 (last write wins)", got)
	}
}

func TestLevelTracker_StaleChannelReadsSilent(t *testing.T) {
	t.Parallel()
	tr := NewLevelTracker(0.3, 4*time.Second)
	tr.Record(3, -200, trackerBase)

	tests := []struct {
		name string
		at   time.Time
		live bool
	}{
		{"just recorded", trackerBase, true},
		{"at window edge", trackerBase.Add(4 * time.Second), true},
		{"past window", trackerBase.Add(4*time.Second + time.Millisecond), false},
		{"long gone", trackerBase.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Read(3, tt.at).Live; got != tt.live {
				t.Errorf("Live = %v, want %v", got, tt.live)
			}
		})
	}
}

func TestLevelTracker_AbsentChannelReadsSilent(t *testing.T) {
	t.Parallel()
	tr := NewLevelTracker(0.3, 4*time.Second)
	if tr.Read(42, trackerBase).Live {
		t.Error("never-seen channel should not be live")
	}
}

func TestLevelTracker_ClearDropsEverything(t *testing.T) {
	t.Parallel()
	tr := NewLevelTracker(0.3, 4*time.Second)
	tr.Record(1, -100, trackerBase)
	tr.Record(2, -100, trackerBase)

	tr.Clear()

	if tr.Read(1, trackerBase).Live || tr.Read(2, trackerBase).Live {
		t.Error("channels should be gone after Clear")
	}
	if got := len(tr.Channels()); got != 0 {
		t.Errorf("Channels() returned %d entries after Clear, want 0", got)
	}
}
