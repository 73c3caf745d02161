// Package hub implements the subscription fan-out: per-subscriber hooks
// (ordered key/value sinks) grouped into waitable sets. Client long-pollers
// and the federation pusher both consume the same hook machinery.
package hub

import (
	"sync"
	"time"
)

// Hook kinds used to key a subscriber's hook set.
const (
	KindChat      = "chat"
	KindGroup     = "group"
	KindUser      = "user"
	KindChatsList = "chatslist"
)

// Key builds the canonical "<kind>:<id>" hook key.
func Key(kind, id string) string {
	return kind + ":" + id
}

// Hook is one subscriber's pending updates for one entity. Writers must
// check the subscriber's read permission on the entity before calling Set;
// the hook itself is permission-agnostic. Keys keep insertion order so
// journal cursors replay in the order they were produced.
type Hook struct {
	// Target is the subscriber identity the writer filters on: a user id
	// for client pollers, a peer server's public name for federation.
	Target string

	mu      sync.Mutex
	entries map[string]interface{}
	order   []string
	parent  *Hooks
}

// Set records a pending value and wakes the owning set's waiters. Setting
// an existing key overwrites it in place.
func (h *Hook) Set(key string, val interface{}) {
	h.mu.Lock()
	if h.entries == nil {
		h.entries = map[string]interface{}{}
	}
	if _, ok := h.entries[key]; !ok {
		h.order = append(h.order, key)
	}
	h.entries[key] = val
	h.mu.Unlock()
	if h.parent != nil {
		h.parent.wakeWaiters()
	}
}

// Delete drops a single pending key.
func (h *Hook) Delete(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[key]; !ok {
		return
	}
	delete(h.entries, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of pending entries.
func (h *Hook) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Snapshot copies the pending entries in insertion order. When drain is
// true the hook is emptied in the same step.
func (h *Hook) Snapshot(drain bool) ([]string, map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil, nil
	}
	keys := make([]string, len(h.order))
	copy(keys, h.order)
	vals := make(map[string]interface{}, len(h.entries))
	for k, v := range h.entries {
		vals[k] = v
	}
	if drain {
		h.entries = map[string]interface{}{}
		h.order = nil
	}
	return keys, vals
}

// Clear drops every pending entry. The federation pusher calls this only
// after a successful delivery (at-least-once).
func (h *Hook) Clear() {
	h.mu.Lock()
	h.entries = map[string]interface{}{}
	h.order = nil
	h.mu.Unlock()
}

// Hooks is a subscriber's set of hooks, waitable as a unit.
type Hooks struct {
	Token string

	mu    sync.Mutex
	hooks map[string]*Hook
	wake  chan struct{}
}

// NewHooks creates an empty hook set for a subscriber token.
func NewHooks(token string) *Hooks {
	return &Hooks{Token: token, hooks: map[string]*Hook{}, wake: make(chan struct{}, 1)}
}

// Hook returns the hook stored under key, creating it with the given
// subscriber target when absent.
func (s *Hooks) Hook(key, target string) *Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hooks[key]; ok {
		return h
	}
	h := &Hook{Target: target, parent: s}
	s.hooks[key] = h
	return h
}

// Existing returns the hook under key when present.
func (s *Hooks) Existing(key string) (*Hook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hooks[key]
	return h, ok
}

// Remove unregisters a hook. The caller is responsible for detaching it
// from the source entity.
func (s *Hooks) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, key)
}

// Keys lists the registered hook keys.
func (s *Hooks) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hooks))
	for k := range s.hooks {
		out = append(out, k)
	}
	return out
}

func (s *Hooks) wakeWaiters() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// collect gathers the non-empty hooks. When drain is true each collected
// hook is emptied.
func (s *Hooks) collect(drain bool) map[string]map[string]interface{} {
	s.mu.Lock()
	hooks := make(map[string]*Hook, len(s.hooks))
	for k, h := range s.hooks {
		hooks[k] = h
	}
	s.mu.Unlock()

	out := map[string]map[string]interface{}{}
	for k, h := range hooks {
		if _, vals := h.Snapshot(drain); len(vals) > 0 {
			out[k] = vals
		}
	}
	return out
}

// Collect returns the pending updates without waiting.
func (s *Hooks) Collect(drain bool) map[string]map[string]interface{} {
	return s.collect(drain)
}

// Wait blocks until any hook in the set has pending entries or maxWait
// elapses, then returns the non-empty hooks (possibly none). When drain is
// true the returned entries are removed from their hooks.
func (s *Hooks) Wait(maxWait time.Duration, drain bool) map[string]map[string]interface{} {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	for {
		if out := s.collect(drain); len(out) > 0 {
			return out
		}
		select {
		case <-s.wake:
		case <-deadline.C:
			return s.collect(drain)
		}
	}
}

// Forget drops previously collected entries after a successful delivery,
// leaving anything that arrived since collection in place.
func (s *Hooks) Forget(delivered map[string]map[string]interface{}) {
	for key, vals := range delivered {
		h, ok := s.Existing(key)
		if !ok {
			continue
		}
		for k := range vals {
			h.Delete(k)
		}
	}
}

// ClearAll empties every hook in the set.
func (s *Hooks) ClearAll() {
	s.mu.Lock()
	hooks := make([]*Hook, 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	s.mu.Unlock()
	for _, h := range hooks {
		h.Clear()
	}
}
