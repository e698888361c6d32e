// Package engine saves, dims and restores the brightness of every connected
// display, builtin and helper-controlled alike.
package engine

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hoppxi/umbra/internal/fanout"
	"github.com/hoppxi/umbra/pkg/brightness"
	"github.com/hoppxi/umbra/pkg/displayinfo"
	"github.com/hoppxi/umbra/pkg/operation"
	"github.com/rs/zerolog"
)

var ErrNoMapping = errors.New("no helper identity for display")

type State int32

const (
	Idle State = iota
	Saving
	Setting
	Dimmed
	Restoring
)

func (s State) String() string {
	switch s {
	case Saving:
		return "saving"
	case Setting:
		return "setting"
	case Dimmed:
		return "dimmed"
	case Restoring:
		return "restoring"
	default:
		return "idle"
	}
}

// Helper is the asynchronous side used for external displays.
type Helper interface {
	Brightness(identity string, done func(*brightness.Value))
	SetBrightness(identity string, v brightness.Value, done func(bool))
}

type Mapper interface {
	Identity(handle uint32) (string, bool)
	Len() int
	Refresh(done func())
	RefreshWait(wait time.Duration)
}

// Reading is one display's current level.
type Reading struct {
	Display displayinfo.Display `json:"display"`
	Value   brightness.Value    `json:"value"`
	OK      bool                `json:"ok"`
}

// Status is a point-in-time copy of the engine state.
type Status struct {
	State State                       `json:"-"`
	Cache map[uint32]brightness.Value `json:"cache"`
}

type Option func(*Engine)

// WithMappingWait bounds the synchronous mapping refresh done before a batch
// when external displays are present but nothing is mapped yet.
func WithMappingWait(d time.Duration) Option {
	return func(e *Engine) { e.mappingWait.Store(int64(d)) }
}

// Engine owns the brightness cache. Every mutation of the cache happens on
// the engine's own goroutine; callers only enqueue work.
type Engine struct {
	enum        displayinfo.Enumerator
	driver      operation.Driver
	helper      Helper
	mapper      Mapper
	fan         *fanout.Coordinator
	log         zerolog.Logger
	mappingWait atomic.Int64

	state atomic.Int32

	// owned by the loop goroutine
	cache map[uint32]brightness.Value
	gen   uint64

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	quit   chan struct{}
	closed bool
}

// New starts the engine loop. driver may be nil on machines without a
// builtin panel.
func New(enum displayinfo.Enumerator, driver operation.Driver, helper Helper, mapper Mapper, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		enum:   enum,
		driver: driver,
		helper: helper,
		mapper: mapper,
		log:    log,
		cache:  make(map[uint32]brightness.Value),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	e.mappingWait.Store(int64(time.Second))
	for _, opt := range opts {
		opt(e)
	}
	e.fan = fanout.New(e.post)
	go e.loop()
	return e
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.quit)
}

// SetMappingWait changes the bound on the synchronous mapping refresh.
func (e *Engine) SetMappingWait(d time.Duration) {
	e.mappingWait.Store(int64(d))
}

func (e *Engine) MappingWait() time.Duration {
	return time.Duration(e.mappingWait.Load())
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	if old := State(e.state.Swap(int32(s))); old != s {
		e.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state")
	}
}

func (e *Engine) post(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) loop() {
	for {
		select {
		case <-e.quit:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			fns := e.queue
			e.queue = nil
			e.mu.Unlock()
			if len(fns) == 0 {
				break
			}
			for _, fn := range fns {
				fn()
			}
		}
	}
}

func call(done func()) {
	if done != nil {
		done()
	}
}

// Dim saves every display's level and then sets all of them to target.
// Calling it again before Undim overwrites the saved levels. A Dim that is
// overtaken by a later Dim or Undim while saving writes no levels.
func (e *Engine) Dim(target brightness.Value, done func()) {
	target = brightness.Clamp(float64(target))
	e.post(func() {
		e.gen++
		gen := e.gen
		e.setState(Saving)

		displays := e.displays()
		saves := make([]fanout.Operation, 0, len(displays))
		for _, d := range displays {
			if op := e.saveOp(d); op != nil {
				saves = append(saves, op)
			}
		}

		e.fan.RunAll(saves, func() {
			// a newer Dim or Undim owns the displays now
			if gen != e.gen {
				e.log.Debug().Stringer("target", target).Msg("dim superseded before setting")
				call(done)
				return
			}
			e.setState(Setting)
			e.fan.RunAll(e.setOps(displays, func(displayinfo.Display) (brightness.Value, bool) {
				return target, true
			}), func() {
				if gen == e.gen {
					e.setState(Dimmed)
				}
				e.log.Info().Stringer("target", target).Int("displays", len(displays)).Msg("dimmed")
				call(done)
			})
		})
	})
}

// Undim restores every display that has a saved level. Saved levels are kept,
// so calling it twice sets the same values twice.
func (e *Engine) Undim(done func()) {
	e.post(func() {
		e.gen++
		gen := e.gen
		e.setState(Restoring)

		displays := e.displays()
		e.fan.RunAll(e.setOps(displays, func(d displayinfo.Display) (brightness.Value, bool) {
			v, ok := e.cache[d.Handle]
			return v, ok
		}), func() {
			if gen == e.gen {
				e.setState(Idle)
			}
			e.log.Info().Int("displays", len(displays)).Msg("restored")
			call(done)
		})
	})
}

// SetCustom sets every display to level without saving anything first.
func (e *Engine) SetCustom(level brightness.Value, done func()) {
	level = brightness.Clamp(float64(level))
	e.post(func() {
		displays := e.displays()
		e.fan.RunAll(e.setOps(displays, func(displayinfo.Display) (brightness.Value, bool) {
			return level, true
		}), func() { call(done) })
	})
}

// CurrentBrightness reads every display without touching the cache.
func (e *Engine) CurrentBrightness(done func([]Reading)) {
	e.post(func() {
		displays := e.displays()
		readings := make([]Reading, len(displays))
		ops := make([]fanout.Operation, 0, len(displays))
		for i, d := range displays {
			i := i
			readings[i].Display = d
			ops = append(ops, e.readOp(d, func(v brightness.Value) {
				readings[i].Value = v
				readings[i].OK = true
			}))
		}
		e.fan.RunAll(ops, func() { done(readings) })
	})
}

// RefreshMapping rebuilds the helper identity mapping.
func (e *Engine) RefreshMapping(done func()) {
	e.post(func() {
		if e.mapper == nil {
			call(done)
			return
		}
		e.mapper.Refresh(func() { e.post(func() { call(done) }) })
	})
}

// Status copies the cache from the loop goroutine.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)
	e.post(func() {
		ch <- Status{State: e.State(), Cache: maps.Clone(e.cache)}
	})
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// displays enumerates outputs and attaches helper identities. It blocks
// briefly for the mapping when external displays exist but none is mapped.
func (e *Engine) displays() []displayinfo.Display {
	displays, err := e.enum.Displays()
	if err != nil {
		e.log.Warn().Err(err).Msg("enumerate displays")
		return nil
	}

	if e.mapper == nil {
		return displays
	}
	for _, d := range displays {
		if d.Kind == displayinfo.External && e.mapper.Len() == 0 {
			e.mapper.RefreshWait(e.MappingWait())
			break
		}
	}
	for i, d := range displays {
		if d.Kind != displayinfo.External {
			continue
		}
		if id, ok := e.mapper.Identity(d.Handle); ok {
			displays[i].ExternalIdentity = id
		}
	}
	return displays
}

// readOp returns an operation reading d and passing the level to store on
// the loop goroutine. Displays that cannot be read complete without a value.
func (e *Engine) readOp(d displayinfo.Display, store func(brightness.Value)) fanout.Operation {
	log := e.log.With().Str("display", d.Name).Uint32("handle", d.Handle).Logger()

	switch {
	case d.Kind == displayinfo.Internal:
		return func(done func()) {
			defer done()
			if e.driver == nil {
				log.Warn().Err(operation.ErrDriver).Msg("no builtin driver")
				return
			}
			v, err := e.driver.Brightness(d.Handle)
			if err != nil {
				log.Warn().Err(err).Msg("read brightness")
				return
			}
			store(v)
		}
	case d.ExternalIdentity == "":
		return func(done func()) {
			log.Debug().Err(ErrNoMapping).Msg("skipping display")
			done()
		}
	default:
		return func(done func()) {
			e.helper.Brightness(d.ExternalIdentity, func(v *brightness.Value) {
				e.post(func() {
					if v != nil {
						store(*v)
					}
					done()
				})
			})
		}
	}
}

func (e *Engine) saveOp(d displayinfo.Display) fanout.Operation {
	if d.Kind == displayinfo.External && d.ExternalIdentity == "" {
		e.log.Debug().Err(ErrNoMapping).Str("display", d.Name).Msg("not saving")
		return nil
	}
	return e.readOp(d, func(v brightness.Value) {
		e.cache[d.Handle] = v
		e.log.Debug().Str("display", d.Name).Stringer("value", v).Msg("saved")
	})
}

// setOps builds one write per display for which level reports a value.
func (e *Engine) setOps(displays []displayinfo.Display, level func(displayinfo.Display) (brightness.Value, bool)) []fanout.Operation {
	ops := make([]fanout.Operation, 0, len(displays))
	for _, d := range displays {
		d := d
		v, ok := level(d)
		if !ok {
			continue
		}
		v = brightness.Clamp(float64(v))
		log := e.log.With().Str("display", d.Name).Stringer("value", v).Logger()

		switch {
		case d.Kind == displayinfo.Internal:
			ops = append(ops, func(done func()) {
				defer done()
				if e.driver == nil {
					log.Warn().Err(operation.ErrDriver).Msg("no builtin driver")
					return
				}
				if err := e.driver.SetBrightness(d.Handle, v); err != nil {
					log.Warn().Err(err).Msg("set brightness")
				}
			})
		case d.ExternalIdentity == "":
			log.Debug().Err(ErrNoMapping).Msg("not setting")
		default:
			ops = append(ops, func(done func()) {
				e.helper.SetBrightness(d.ExternalIdentity, v, func(ok bool) {
					if !ok {
						log.Warn().Str("identity", d.ExternalIdentity).Msg("helper did not acknowledge")
					}
					done()
				})
			})
		}
	}
	return ops
}
