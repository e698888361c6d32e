// Package helper talks to the third-party display helper that controls
// external monitors, and maps local displays to the helper's identities.
package helper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hoppxi/umbra/internal/bus"
	"github.com/hoppxi/umbra/pkg/brightness"
	"github.com/rs/zerolog"
)

var (
	ErrUnavailable = errors.New("helper unavailable")
	ErrTimeout     = errors.New("helper did not respond")
	ErrRejected    = errors.New("helper rejected request")
)

// Display is an entry of the helper's display list.
type Display struct {
	Identity string      `json:"uuid"`
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
}

// Adapter exposes helper operations with a single-use completion each. When
// the helper is not installed, not running or disabled, every operation
// completes immediately without touching the bus.
type Adapter struct {
	client   *bus.Client
	presence Presence
	timeout  atomic.Int64
	enabled  atomic.Bool
	log      zerolog.Logger
}

func NewAdapter(client *bus.Client, presence Presence, timeout time.Duration, log zerolog.Logger) *Adapter {
	a := &Adapter{
		client:   client,
		presence: presence,
		log:      log,
	}
	a.timeout.Store(int64(timeout))
	a.enabled.Store(true)
	return a
}

func (a *Adapter) SetEnabled(v bool) { a.enabled.Store(v) }
func (a *Adapter) Enabled() bool     { return a.enabled.Load() }

// SetTimeout applies to requests issued after the call. Zero falls back to
// the registry default.
func (a *Adapter) SetTimeout(d time.Duration) { a.timeout.Store(int64(d)) }
func (a *Adapter) Timeout() time.Duration     { return time.Duration(a.timeout.Load()) }

// Available reports installed, running and enabled, or the reason it is not.
func (a *Adapter) Available() error {
	switch {
	case !a.enabled.Load():
		return fmt.Errorf("%w: integration disabled", ErrUnavailable)
	case !a.presence.Installed():
		return fmt.Errorf("%w: not installed", ErrUnavailable)
	case !a.presence.Running():
		return fmt.Errorf("%w: not running", ErrUnavailable)
	}
	return nil
}

func (a *Adapter) request(req bus.Request, completion bus.Completion) bool {
	if err := a.Available(); err != nil {
		a.log.Debug().Err(err).Msg("skipping helper request")
		return false
	}
	a.client.Request(req, a.Timeout(), completion)
	return true
}

// TestConnectivity succeeds iff the helper answers a display list request
// before the timeout.
func (a *Adapter) TestConnectivity(done func(bool)) {
	ok := a.request(bus.ListDisplays{}, func(_ bus.ResponseEnvelope, ok bool) {
		if !ok {
			a.log.Warn().Err(ErrTimeout).Msg("connectivity test failed")
		}
		done(ok)
	})
	if !ok {
		done(false)
	}
}

// Brightness reads the level of identity; nil on any failure.
func (a *Adapter) Brightness(identity string, done func(*brightness.Value)) {
	ok := a.request(bus.GetBrightness{Identity: identity}, func(resp bus.ResponseEnvelope, ok bool) {
		log := a.log.With().Str("identity", identity).Logger()
		if !ok {
			log.Warn().Err(ErrTimeout).Msg("get brightness")
			done(nil)
			return
		}
		if !resp.Result {
			log.Warn().Err(ErrRejected).Msg("get brightness")
			done(nil)
			return
		}
		v, err := brightness.Parse(resp.Text())
		if err != nil {
			log.Warn().Err(fmt.Errorf("%w: %v", bus.ErrMalformed, err)).Msg("get brightness")
			done(nil)
			return
		}
		done(&v)
	})
	if !ok {
		done(nil)
	}
}

// SetBrightness clamps v and reports the helper's acknowledgment.
func (a *Adapter) SetBrightness(identity string, v brightness.Value, done func(bool)) {
	v = brightness.Clamp(float64(v))
	ok := a.request(bus.SetBrightness{Identity: identity, Value: v}, func(resp bus.ResponseEnvelope, ok bool) {
		if !ok {
			a.log.Warn().Err(ErrTimeout).Str("identity", identity).Msg("set brightness")
		}
		done(ok && resp.Result)
	})
	if !ok {
		done(false)
	}
}

// Displays fetches the helper's display list.
func (a *Adapter) Displays(done func([]Display, error)) {
	ok := a.request(bus.ListDisplays{}, func(resp bus.ResponseEnvelope, ok bool) {
		if !ok {
			done(nil, ErrTimeout)
			return
		}
		if !resp.Result {
			done(nil, ErrRejected)
			return
		}
		displays, err := DecodeDisplays(resp.Text())
		if err != nil {
			a.log.Warn().Err(err).Msg("decode helper display list")
		}
		done(displays, err)
	})
	if !ok {
		done(nil, a.Available())
	}
}

// DecodeDisplays parses the helper's display list, which is a run of JSON
// objects without an enclosing array.
func DecodeDisplays(body string) ([]Display, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	if !strings.HasPrefix(body, "[") {
		body = "[" + strings.ReplaceAll(body, "}{", "},{") + "]"
	}
	var displays []Display
	if err := json.Unmarshal([]byte(body), &displays); err != nil {
		return nil, fmt.Errorf("%w: %v", bus.ErrMalformed, err)
	}
	return displays, nil
}
