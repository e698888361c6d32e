package watchers

import (
	"time"

	"github.com/hoppxi/umbra/internal/helper"
	"github.com/rs/zerolog"
)

// HelperWatcher polls helper presence and refreshes the mapping each time
// the helper comes up, so displays are mapped without a manual refresh.
func HelperWatcher(p helper.Presence, interval time.Duration, r Refresher, log zerolog.Logger) func(stop <-chan struct{}) {
	return func(stop <-chan struct{}) {
		running := p.Running()
		if running {
			r.RefreshMapping(nil)
		}

		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := p.Running()
				switch {
				case now && !running:
					log.Info().Msg("helper started")
					r.RefreshMapping(nil)
				case !now && running:
					log.Info().Msg("helper stopped")
				}
				running = now
			}
		}
	}
}
