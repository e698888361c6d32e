package bus

import (
	"errors"
	"sync"
	"time"
)

// DefaultTimeout is the expected worst-case round trip to the helper.
const DefaultTimeout = 3 * time.Second

var ErrDuplicateToken = errors.New("token already pending")

// Completion receives the response, or ok=false when the request timed out
// or could not be sent.
type Completion func(resp ResponseEnvelope, ok bool)

type pendingRequest struct {
	completion Completion
	timer      *time.Timer
	createdAt  time.Time
}

// Registry correlates request tokens with their completions. Each completion
// runs at most once: the entry leaves the table under the lock before it is
// invoked, so a response and the timeout can never both fire it.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		pending: make(map[string]*pendingRequest),
		timeout: timeout,
	}
}

func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Register arms a timer for token. A timeout <= 0 uses the registry default.
func (r *Registry) Register(token string, timeout time.Duration, completion Completion) error {
	if timeout <= 0 {
		timeout = r.timeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[token]; ok {
		return ErrDuplicateToken
	}
	p := &pendingRequest{completion: completion, createdAt: time.Now()}
	r.pending[token] = p
	// the timer callback blocks on r.mu until p.timer is set
	p.timer = time.AfterFunc(timeout, func() {
		if r.take(token, p) {
			p.completion(ResponseEnvelope{UUID: token}, false)
		}
	})
	return nil
}

// Resolve delivers resp to the pending request for token. It reports whether
// an entry existed.
func (r *Registry) Resolve(token string, resp ResponseEnvelope) bool {
	p := r.remove(token)
	if p == nil {
		return false
	}
	p.timer.Stop()
	p.completion(resp, true)
	return true
}

// Fail completes token as failed right away.
func (r *Registry) Fail(token string) bool {
	p := r.remove(token)
	if p == nil {
		return false
	}
	p.timer.Stop()
	p.completion(ResponseEnvelope{UUID: token}, false)
	return true
}

// Pending returns the number of outstanding requests.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Age reports how long token has been waiting.
func (r *Registry) Age(token string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[token]
	if !ok {
		return 0, false
	}
	return time.Since(p.createdAt), true
}

func (r *Registry) remove(token string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[token]
	if !ok {
		return nil
	}
	delete(r.pending, token)
	return p
}

// take removes token only if it still maps to p.
func (r *Registry) take(token string, p *pendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[token] != p {
		return false
	}
	delete(r.pending, token)
	return true
}
