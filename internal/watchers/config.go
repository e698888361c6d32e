package watchers

import "github.com/rs/zerolog"

// Switch turns the helper integration on and off.
type Switch interface {
	SetEnabled(bool)
	Enabled() bool
}

// ConfigUpdate applies the helper toggle from a reloaded config.
func ConfigUpdate(s Switch, enabled bool, log zerolog.Logger) {
	if s.Enabled() == enabled {
		return
	}
	s.SetEnabled(enabled)
	log.Info().Bool("enabled", enabled).Msg("helper integration toggled")
}
