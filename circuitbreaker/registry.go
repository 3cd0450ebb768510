package circuitbreaker

import (
	"context"
	"sync"
)

// Registry manages one independent breaker per dependency id, created lazily.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      func() Config
}

// NewRegistry creates a registry. Breakers read cfg per call, so runtime
// tuning reaches every breaker, including ones created earlier.
func NewRegistry(cfg func() Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for a dependency, creating one if needed.
func (r *Registry) Get(id string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b = NewWithSettings(id, r.cfg)
	r.breakers[id] = b
	log.Debugw("created breaker", "dependency_id", id)
	return b
}

// Do runs fn through the named dependency's breaker.
func (r *Registry) Do(ctx context.Context, id string, fn func(context.Context) error) error {
	return r.Get(id).Call(ctx, fn)
}

// States returns the current state of every known breaker, for the health
// surface.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.State()
	}
	return out
}
