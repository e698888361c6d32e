package watchers

import (
	"time"

	"github.com/rs/zerolog"
)

// Refresher rebuilds the helper identity mapping.
type Refresher interface {
	RefreshMapping(done func())
}

// EventSource yields one value per burst of hotplug events.
type EventSource func(stop <-chan struct{}) <-chan struct{}

// settle is how long the watcher waits for connectors to finish probing.
var settle = 500 * time.Millisecond

// DisplayWatcher refreshes the mapping whenever connectors change.
func DisplayWatcher(r Refresher, events EventSource, log zerolog.Logger) func(stop <-chan struct{}) {
	return func(stop <-chan struct{}) {
		// closed when this run returns, panics included
		done := make(chan struct{})
		defer close(done)
		ch := events(done)

		var timer <-chan time.Time
		for {
			select {
			case <-stop:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				timer = time.After(settle)
			case <-timer:
				timer = nil
				log.Info().Msg("displays changed, refreshing mapping")
				r.RefreshMapping(nil)
			}
		}
	}
}
