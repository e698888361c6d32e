// Package bustest provides an in-memory transport that answers requests the
// way the external helper does.
package bustest

import (
	"errors"
	"sync"
	"time"

	"github.com/hoppxi/umbra/internal/bus"
	"github.com/hoppxi/umbra/pkg/brightness"
)

// Set records one brightness write received by the helper.
type Set struct {
	Identity   string
	Brightness string
}

// Helper is a bus.Transport backed by a scripted helper.
type Helper struct {
	mu sync.Mutex

	// Levels holds the brightness per identity. Unknown identities fail.
	Levels map[string]brightness.Value
	// DisplayList is the raw payload returned for a display list request.
	DisplayList string
	// Silent identities never get a response.
	Silent map[string]bool
	// Delay postpones responses per identity ("" applies to display lists).
	Delay map[string]time.Duration
	// Payload overrides the brightness payload per identity.
	Payload map[string]string

	requests []bus.RequestEnvelope
	sets     []Set

	out    chan []byte
	closed bool
}

func NewHelper() *Helper {
	return &Helper{
		Levels:  make(map[string]brightness.Value),
		Silent:  make(map[string]bool),
		Delay:   make(map[string]time.Duration),
		Payload: make(map[string]string),
		out:     make(chan []byte, 64),
	}
}

func (h *Helper) Emit(payload []byte) error {
	req, err := bus.DecodeRequest(payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("bustest: transport closed")
	}
	h.requests = append(h.requests, req)

	identity := ""
	if id, ok := req.Param("uuid"); ok && id != nil {
		identity = *id
	}
	if h.Silent[identity] {
		return nil
	}

	resp := bus.ResponseEnvelope{UUID: req.UUID}
	switch req.Commands[0] {
	case "get":
		if _, ok := req.Param("identifiers"); ok {
			resp.Result = true
			resp.Payload = strPtr(h.DisplayList)
			break
		}
		if p, ok := h.Payload[identity]; ok {
			resp.Result = true
			resp.Payload = strPtr(p)
		} else if v, ok := h.Levels[identity]; ok {
			resp.Result = true
			resp.Payload = strPtr(v.String())
		}
	case "set":
		if _, ok := h.Levels[identity]; ok {
			value := ""
			if b, ok := req.Param("brightness"); ok && b != nil {
				value = *b
			}
			h.sets = append(h.sets, Set{Identity: identity, Brightness: value})
			if v, err := brightness.Parse(value); err == nil {
				h.Levels[identity] = v
				resp.Result = true
			}
		}
	}

	data, err := resp.Marshal()
	if err != nil {
		return err
	}
	h.send(data, h.Delay[identity])
	return nil
}

// send must be called with h.mu held.
func (h *Helper) send(data []byte, delay time.Duration) {
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if !closed {
			h.out <- data
		}
	}()
}

// Inject delivers a raw response payload as if the helper had sent it.
func (h *Helper) Inject(data []byte) {
	h.out <- data
}

func (h *Helper) Responses() <-chan []byte {
	return h.out
}

func (h *Helper) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Requests returns every request received so far.
func (h *Helper) Requests() []bus.RequestEnvelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bus.RequestEnvelope(nil), h.requests...)
}

// Sets returns every brightness write received so far.
func (h *Helper) Sets() []Set {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Set(nil), h.sets...)
}

// Level returns the current level of identity.
func (h *Helper) Level(identity string) brightness.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Levels[identity]
}

func (h *Helper) SetLevel(identity string, v brightness.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Levels[identity] = v
}

func strPtr(s string) *string { return &s }
