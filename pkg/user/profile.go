// Package user holds the account-side state: profiles with presence,
// per-user chat lists, notification queues and muting configuration.
// Remote users resolve through the federation resolver and share the same
// process-lifetime caches as local ones.
package user

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
)

// onlineWindow is how long a setonline ping keeps a user "online".
const onlineWindow = 10 * time.Second

// Resolver fetches entities homed on other servers. Wired up by the
// federation manager at startup; nil disables remote lookups.
type Resolver interface {
	FetchProfile(id string) (*models.Profile, error)
}

// Profile is a loaded user profile with its subscriber hooks.
type Profile struct {
	ID string

	mu       sync.Mutex
	data     models.Profile
	online   bool
	lastSeen time.Time
	hooks    []*hub.Hook
	dirty    bool
}

// Profiles is the process-lifetime profile registry.
type Profiles struct {
	mu       sync.Mutex
	cache    map[string]*Profile
	sf       singleflight.Group
	resolver Resolver
}

func NewProfiles() *Profiles {
	return &Profiles{cache: map[string]*Profile{}}
}

// SetResolver wires the federation lookup. Must be called before any
// remote profile is requested.
func (ps *Profiles) SetResolver(r Resolver) { ps.resolver = r }

// Get returns the profile for id, loading it from storage or, for
// "id@server" ids, from the peer. Load is single-flight per id.
func (ps *Profiles) Get(id string) (*Profile, error) {
	ps.mu.Lock()
	if p, ok := ps.cache[id]; ok {
		ps.mu.Unlock()
		return p, nil
	}
	ps.mu.Unlock()

	v, err, _ := ps.sf.Do(id, func() (interface{}, error) {
		return ps.load(id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

func (ps *Profiles) load(id string) (*Profile, error) {
	if identity.IsRemote(id) {
		if ps.resolver == nil {
			return nil, fmt.Errorf("no federation resolver for %s", id)
		}
		data, err := ps.resolver.FetchProfile(id)
		if err != nil {
			return nil, fmt.Errorf("remote profile %s: %w", id, err)
		}
		p := &Profile{ID: id, data: *data}
		ps.put(p)
		return p, nil
	}

	data, ok, err := store.GetProfile(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoUser
	}
	p := &Profile{ID: id, data: data}
	if status, ok, _ := store.GetStatus(id); ok && status != "" {
		if t, err := models.ParseTime(status); err == nil {
			p.lastSeen = t
		}
	}
	ps.put(p)
	return p, nil
}

func (ps *Profiles) put(p *Profile) {
	ps.mu.Lock()
	ps.cache[p.ID] = p
	ps.mu.Unlock()
}

// Create registers a brand new local profile and persists it.
func (ps *Profiles) Create(id string, data models.Profile) (*Profile, error) {
	p := &Profile{ID: id, data: data}
	if err := store.SaveProfile(id, data); err != nil {
		return nil, err
	}
	ps.put(p)
	logger.Info("profile_created", zap.String("user", id))
	return p, nil
}

// ApplyRemote overwrites a cached remote profile with a pushed snapshot.
func (ps *Profiles) ApplyRemote(id string, data models.Profile) {
	ps.mu.Lock()
	p, ok := ps.cache[id]
	ps.mu.Unlock()
	if !ok {
		p = &Profile{ID: id, data: data}
		ps.put(p)
		return
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	p.broadcast("profileUpdate", data)
}

// ApplyRemoteStatus records a pushed presence value for a remote user.
// The value is either the literal "online" or a last-seen timestamp.
func (ps *Profiles) ApplyRemoteStatus(id, status string) {
	ps.mu.Lock()
	p, ok := ps.cache[id]
	ps.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	if status == "online" {
		p.online = true
		p.lastSeen = time.Now()
	} else {
		p.online = false
		if t, err := models.ParseTime(status); err == nil {
			p.lastSeen = t
		}
	}
	p.mu.Unlock()
	p.broadcast("online", status)
}

// SaveDirty flushes every dirty local profile.
func (ps *Profiles) SaveDirty() {
	ps.mu.Lock()
	all := make([]*Profile, 0, len(ps.cache))
	for _, p := range ps.cache {
		all = append(all, p)
	}
	ps.mu.Unlock()
	for _, p := range all {
		p.Save()
	}
}

// Data returns a copy of the profile fields with presence filled in.
func (p *Profile) Data() models.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.data
	out.OnlineStatus = p.statusLocked()
	return out
}

// Short returns the compact profile view.
func (p *Profile) Short() models.ShortProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Short()
}

func (p *Profile) statusLocked() string {
	if p.online && time.Since(p.lastSeen) < onlineWindow {
		return "online"
	}
	if p.lastSeen.IsZero() {
		return ""
	}
	return models.FormatTime(p.lastSeen)
}

// Status returns "online" or the formatted last-seen time.
func (p *Profile) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

// SetOnline records a presence ping; the online state decays on its own
// shortly after the window, notifying subscribers of the last-seen time.
func (p *Profile) SetOnline() {
	p.mu.Lock()
	p.online = true
	p.lastSeen = time.Now()
	p.dirty = true
	status := p.statusLocked()
	p.mu.Unlock()
	p.broadcast("online", status)

	time.AfterFunc(onlineWindow+100*time.Millisecond, func() {
		p.mu.Lock()
		expired := time.Since(p.lastSeen) >= onlineWindow
		var st string
		if expired {
			p.online = false
			st = p.statusLocked()
		}
		p.mu.Unlock()
		if expired {
			p.broadcast("online", st)
		}
	})
}

// Edit updates the profile fields, persists and notifies subscribers.
func (p *Profile) Edit(name, picture, bio string) {
	p.mu.Lock()
	if name != "" {
		p.data.Name = name
	}
	p.data.Picture = picture
	p.data.Bio = bio
	p.dirty = true
	data := p.data
	p.mu.Unlock()
	p.broadcast("profileUpdate", data)
	p.Save()
}

// Save persists the profile and its presence marker when dirty. Remote
// profiles are cache-only.
func (p *Profile) Save() {
	if identity.IsRemote(p.ID) {
		return
	}
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	p.dirty = false
	data := p.data
	seen := p.lastSeen
	p.mu.Unlock()
	if err := store.SaveProfile(p.ID, data); err != nil {
		logger.Error("profile_save_failed", zap.String("user", p.ID), zap.Error(err))
		return
	}
	if !seen.IsZero() {
		_ = store.SaveStatus(p.ID, models.FormatTime(seen))
	}
}

// AttachHook subscribes a hook to profile changes. Profiles are public,
// so no permission filter applies.
func (p *Profile) AttachHook(h *hub.Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.hooks {
		if existing == h {
			return
		}
	}
	p.hooks = append(p.hooks, h)
}

// HookKey is the subscription key for this profile.
func (p *Profile) HookKey() string { return hub.Key(hub.KindUser, p.ID) }

func (p *Profile) broadcast(key string, val interface{}) {
	p.mu.Lock()
	hooks := make([]*hub.Hook, len(p.hooks))
	copy(hooks, p.hooks)
	p.mu.Unlock()
	for _, h := range hooks {
		h.Set(key, val)
	}
}
