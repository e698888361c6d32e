package helper

import (
	"maps"
	"sync"
	"time"

	"github.com/hoppxi/umbra/pkg/displayinfo"
	"github.com/rs/zerolog"
)

// Mapper resolves local display handles to helper identities by matching the
// numeric display id both sides report. The mapping is rebuilt wholesale on
// every refresh.
//
// Mirrored panels that report the same id are a known limitation: the first
// helper entry wins and a warning is logged.
type Mapper struct {
	enum    displayinfo.Enumerator
	adapter *Adapter
	log     zerolog.Logger

	mu             sync.Mutex
	mapping        map[uint32]string
	helperDisplays []Display
	gen            uint64
}

func NewMapper(enum displayinfo.Enumerator, adapter *Adapter, log zerolog.Logger) *Mapper {
	return &Mapper{
		enum:    enum,
		adapter: adapter,
		log:     log,
		mapping: make(map[uint32]string),
	}
}

// Refresh clears the mapping and rebuilds it once the helper's display list
// arrives. done runs after the new mapping is in place.
func (m *Mapper) Refresh(done func()) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mapping = make(map[uint32]string)
	m.mu.Unlock()

	displays, err := m.enum.Displays()
	if err != nil {
		m.log.Warn().Err(err).Msg("enumerate displays")
		done()
		return
	}

	m.adapter.Displays(func(helperDisplays []Display, err error) {
		if err != nil {
			m.log.Debug().Err(err).Msg("helper display list unavailable")
			helperDisplays = nil
		}
		m.mu.Lock()
		// a newer refresh owns the mapping now
		if gen == m.gen {
			m.helperDisplays = helperDisplays
			m.mapping = m.match(displays, helperDisplays)
		}
		m.mu.Unlock()
		done()
	})
}

// RefreshWait is the synchronous variant. When no helper list is cached it
// asks for one and blocks for at most wait before matching.
func (m *Mapper) RefreshWait(wait time.Duration) {
	displays, err := m.enum.Displays()
	if err != nil {
		m.log.Warn().Err(err).Msg("enumerate displays")
		return
	}

	m.mu.Lock()
	cached := m.helperDisplays
	m.mu.Unlock()

	if len(cached) == 0 {
		type result struct {
			displays []Display
			err      error
		}
		ch := make(chan result, 1)
		m.adapter.Displays(func(d []Display, err error) {
			ch <- result{d, err}
		})
		select {
		case r := <-ch:
			if r.err == nil {
				cached = r.displays
			}
		case <-time.After(wait):
			m.log.Debug().Dur("wait", wait).Msg("helper display list not ready")
		}
	}

	m.mu.Lock()
	m.gen++
	m.helperDisplays = cached
	m.mapping = m.match(displays, cached)
	m.mu.Unlock()
}

// match must be called with m.mu held.
func (m *Mapper) match(displays []displayinfo.Display, helperDisplays []Display) map[uint32]string {
	mapping := make(map[uint32]string)
	for _, d := range displays {
		if d.Kind != displayinfo.External {
			continue
		}
		for _, hd := range helperDisplays {
			if hd.ID.String() != d.ID() {
				continue
			}
			if prev, ok := mapping[d.Handle]; ok {
				m.log.Warn().
					Str("display", d.Name).
					Str("kept", prev).
					Str("ignored", hd.Identity).
					Msg("several helper displays share one id")
				continue
			}
			mapping[d.Handle] = hd.Identity
		}
	}
	return mapping
}

func (m *Mapper) Identity(handle uint32) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.mapping[handle]
	return id, ok
}

func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mapping)
}

func (m *Mapper) Snapshot() map[uint32]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.mapping)
}

// HelperDisplays returns the last list the helper reported.
func (m *Mapper) HelperDisplays() []Display {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Display(nil), m.helperDisplays...)
}
