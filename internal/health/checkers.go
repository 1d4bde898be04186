package health

import (
	"context"
	"errors"

	"github.com/stagecast/switchpilot/internal/device"
	"github.com/stagecast/switchpilot/internal/journal"
)

// DeviceChecker reports ready while the switcher control link is connected.
func DeviceChecker(link device.Link) Checker {
	return Checker{
		Name: "switcher",
		Check: func(_ context.Context) error {
			if !link.Status().Connected {
				return errors.New("control link not connected")
			}
			return nil
		},
	}
}

// LevelFeedChecker reports ready while mixer level samples are arriving.
// Auto-switch runs cannot start without the feed, so its absence is a
// readiness failure even when the control link is up.
func LevelFeedChecker(link device.Link) Checker {
	return Checker{
		Name: "level_feed",
		Check: func(_ context.Context) error {
			if !link.LevelFeedActive() {
				return errors.New("no recent audio level samples")
			}
			return nil
		},
	}
}

// JournalChecker reports ready while the switch event journal is reachable.
// A read of zero entries is enough to prove the backend answers.
func JournalChecker(rec journal.Recorder) Checker {
	return Checker{
		Name: "journal",
		Check: func(ctx context.Context) error {
			_, err := rec.Recent(ctx, "", 1)
			return err
		},
	}
}
