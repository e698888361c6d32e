package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/hoppxi/umbra/internal/bus"
	"github.com/hoppxi/umbra/internal/engine"
	"github.com/hoppxi/umbra/internal/helper"
	"github.com/hoppxi/umbra/internal/logging"
	"github.com/hoppxi/umbra/internal/watchers"
	"github.com/hoppxi/umbra/pkg/brightness"
	"github.com/hoppxi/umbra/pkg/displayinfo"
	"github.com/hoppxi/umbra/pkg/operation"
	"github.com/rs/zerolog"
)

// Inhibitor keeps the session from idling while displays are dimmed.
type Inhibitor interface {
	Inhibit(reason string) error
	UnInhibit() error
}

// Daemon holds the running components and answers IPC commands.
type Daemon struct {
	Engine   *engine.Engine
	Adapter  *helper.Adapter
	Mapper   *helper.Mapper
	Enum     displayinfo.Enumerator
	Idle     Inhibitor
	Presence helper.Presence

	log zerolog.Logger

	mu      sync.Mutex
	conf    Config
	closers []func()
}

func NewDaemon(conf Config, log zerolog.Logger) *Daemon {
	return &Daemon{conf: conf, log: log}
}

// Build connects to the buses and wires every component from conf.
func Build(conf Config, log zerolog.Logger) (*Daemon, error) {
	d := NewDaemon(conf, log)

	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	d.onClose(func() { _ = session.Close() })

	enum, err := displayinfo.Open(conf.Displays.Source)
	if err != nil {
		d.Close()
		return nil, err
	}
	if r, ok := enum.(*displayinfo.RandR); ok {
		d.onClose(r.Close)
	}
	d.Enum = enum

	var write operation.RawWriter = operation.SysfsWriter
	if conf.Backlight.Method == "logind" {
		system, err := dbus.ConnectSystemBus()
		if err != nil {
			log.Warn().Err(err).Msg("no system bus, writing sysfs directly")
		} else {
			d.onClose(func() { _ = system.Close() })
			write = operation.LogindWriter(system)
		}
	}

	var driver operation.Driver
	if bl, err := operation.NewBacklight(conf.Backlight.Device, write); err != nil {
		log.Warn().Err(err).Msg("no builtin backlight")
	} else {
		log.Info().Str("device", bl.Device).Msg("builtin backlight")
		driver = bl
	}

	transport, err := bus.NewDBusTransport(session, conf.Helper.ObjectPath, conf.Helper.Interface)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("subscribe to helper signals: %w", err)
	}
	d.onClose(func() { _ = transport.Close() })

	client := bus.NewClient(transport, bus.NewRegistry(conf.Helper.Timeout), logging.Component(log, "bus"))
	ctx, cancel := context.WithCancel(context.Background())
	d.onClose(cancel)
	go client.Run(ctx)

	d.Presence = helper.NewBusPresence(session, conf.Helper.Binary, conf.Helper.BusName)
	d.Adapter = helper.NewAdapter(client, d.Presence, conf.Helper.Timeout, logging.Component(log, "helper"))
	d.Adapter.SetEnabled(conf.Helper.Enabled)
	d.Mapper = helper.NewMapper(enum, d.Adapter, logging.Component(log, "mapper"))

	d.Engine = engine.New(enum, driver, d.Adapter, d.Mapper, logging.Component(log, "engine"),
		engine.WithMappingWait(conf.Helper.MappingWait))
	d.onClose(d.Engine.Close)

	d.Idle = operation.NewIdle(session)
	return d, nil
}

func (d *Daemon) onClose(fn func()) {
	d.mu.Lock()
	d.closers = append(d.closers, fn)
	d.mu.Unlock()
}

// Close releases components in reverse order of construction.
func (d *Daemon) Close() {
	d.mu.Lock()
	closers := d.closers
	d.closers = nil
	d.mu.Unlock()

	if d.Idle != nil {
		_ = d.Idle.UnInhibit()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (d *Daemon) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conf
}

func (d *Daemon) SetConfig(conf Config) {
	d.mu.Lock()
	d.conf = conf
	d.mu.Unlock()
}

// Apply takes a reloaded config. Timeouts, the mapping wait, the dim level
// and the helper switch take effect for the next command; the display source,
// backlight and bus names only change on restart.
func (d *Daemon) Apply(conf Config) {
	d.SetConfig(conf)
	if d.Adapter != nil {
		d.Adapter.SetTimeout(conf.Helper.Timeout)
		watchers.ConfigUpdate(d.Adapter, conf.Helper.Enabled, logging.Component(d.log, "config"))
	}
	if d.Engine != nil {
		d.Engine.SetMappingWait(conf.Helper.MappingWait)
	}
}

// opTimeout bounds one command: a save and a set round trip plus the
// mapping wait.
func (d *Daemon) opTimeout() time.Duration {
	conf := d.Config()
	return 2*conf.Helper.Timeout + conf.Helper.MappingWait + 2*time.Second
}

func ok(format string, args ...any) string {
	return "OK: " + fmt.Sprintf(format, args...)
}

func fail(err error) string {
	return "ERR: " + err.Error()
}

func okJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fail(err)
	}
	return "OK: " + string(data)
}

var errUsage = errors.New("usage")

// Execute runs one IPC command line and returns the reply. STOP is handled
// by the connection loop.
func (d *Daemon) Execute(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR: empty command"
	}
	command := strings.ToUpper(fields[0])
	args := fields[1:]

	log := d.log
	if l := logging.FromContext(ctx); l.GetLevel() != zerolog.Disabled {
		log = *l
	}

	ctx, cancel := context.WithTimeout(ctx, d.opTimeout())
	defer cancel()

	switch command {
	case "STATUS":
		st, err := d.Engine.Status(ctx)
		if err != nil {
			return fail(err)
		}
		return okJSON(map[string]any{
			"state":  st.State.String(),
			"cache":  st.Cache,
			"helper": d.helperState(),
		})

	case "DIM":
		level := brightness.Clamp(d.Config().Dim.Level)
		if len(args) > 0 {
			v, err := brightness.ParseLevel(args[0])
			if err != nil {
				return fail(err)
			}
			level = v
		}
		if err := d.Engine.DimContext(ctx, level); err != nil {
			return fail(err)
		}
		if d.Engine.State() != engine.Dimmed {
			return ok("dim to %s superseded", level)
		}
		if d.Idle != nil {
			if err := d.Idle.Inhibit("displays dimmed"); err != nil {
				log.Warn().Err(err).Msg("idle inhibit")
			}
		}
		return ok("dimmed to %s", level)

	case "UNDIM":
		if err := d.Engine.UndimContext(ctx); err != nil {
			return fail(err)
		}
		if d.Idle != nil {
			if err := d.Idle.UnInhibit(); err != nil {
				log.Warn().Err(err).Msg("idle uninhibit")
			}
		}
		return ok("restored")

	case "SET":
		if len(args) != 1 {
			return fail(fmt.Errorf("%w: SET <level>", errUsage))
		}
		v, err := brightness.ParseLevel(args[0])
		if err != nil {
			return fail(err)
		}
		if err := d.Engine.SetCustomContext(ctx, v); err != nil {
			return fail(err)
		}
		return ok("set to %s", v)

	case "GET":
		readings, err := d.Engine.CurrentBrightnessContext(ctx)
		if err != nil {
			return fail(err)
		}
		return okJSON(readings)

	case "REFRESH":
		if err := d.Engine.RefreshMappingContext(ctx); err != nil {
			return fail(err)
		}
		return ok("mapped %d displays", d.Mapper.Len())

	case "TEST":
		if err := d.Adapter.Available(); err != nil {
			return fail(err)
		}
		res := make(chan bool, 1)
		d.Adapter.TestConnectivity(func(ok bool) { res <- ok })
		select {
		case reachable := <-res:
			if !reachable {
				return fail(helper.ErrTimeout)
			}
			return ok("helper responded")
		case <-ctx.Done():
			return fail(ctx.Err())
		}

	case "DISPLAYS":
		displays, err := d.Enum.Displays()
		if err != nil {
			return fail(err)
		}
		for i, disp := range displays {
			if id, found := d.Mapper.Identity(disp.Handle); found {
				displays[i].ExternalIdentity = id
			}
		}
		return okJSON(displays)

	default:
		return "ERR: unknown command"
	}
}

func (d *Daemon) helperState() string {
	if err := d.Adapter.Available(); err != nil {
		return err.Error()
	}
	return "available"
}
