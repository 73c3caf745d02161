package hub

import "sync"

// Registry maps updater tokens to their hook sets. Client sessions and
// federation links each own one set for the lifetime of the process.
type Registry struct {
	mu   sync.Mutex
	sets map[string]*Hooks
}

func NewRegistry() *Registry {
	return &Registry{sets: map[string]*Hooks{}}
}

// Get returns the set registered under token, creating it when absent.
func (r *Registry) Get(token string) *Hooks {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sets[token]; ok {
		return s
	}
	s := NewHooks(token)
	r.sets[token] = s
	return s
}

// Existing returns the set under token when present.
func (r *Registry) Existing(token string) (*Hooks, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[token]
	return s, ok
}

// Drop removes a token's set, e.g. on logout.
func (r *Registry) Drop(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sets, token)
}
