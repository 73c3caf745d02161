package chat

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flock/pkg/identity"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
)

// chatSnapshot is the persisted form of a chat's message store. The
// journal persists beside it under its own key.
type chatSnapshot struct {
	Version  int                        `json:"version"`
	IDs      []string                   `json:"ids"`
	Messages map[string]*models.Message `json:"messages"`
}

func chatDataKey(id string) string    { return "chat:" + id + ":data" }
func chatJournalKey(id string) string { return "chat:" + id + ":journal" }

// Registry is the process-wide chat registry. Chats load once and stay
// cached for the process lifetime; concurrent first loads collapse into
// one.
type Registry struct {
	engine *Engine

	mu    sync.Mutex
	cache map[string]*Chat
	sf    singleflight.Group
}

func newRegistry(e *Engine) *Registry {
	return &Registry{engine: e, cache: map[string]*Chat{}}
}

// Get loads a chat. Direct chat ids require both users to exist; group
// chat ids require the group; remote ids go through the federation
// resolver. The id is canonicalized first so alternate spellings of a
// remote direct chat resolve to one replica.
func (r *Registry) Get(chatID string) (*Chat, error) {
	chatID = identity.CanonicalChatID(chatID)
	r.mu.Lock()
	if c, ok := r.cache[chatID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(chatID, func() (interface{}, error) {
		return r.load(chatID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Chat), nil
}

func (r *Registry) load(chatID string) (*Chat, error) {
	if identity.IsRemote(chatID) {
		return r.loadRemote(chatID)
	}

	var g *Group
	if identity.IsDM(chatID) {
		a, b := identity.DMUsers(chatID)
		if _, err := r.engine.Profiles.Get(a); err != nil {
			return nil, ErrNoChat
		}
		if _, err := r.engine.Profiles.Get(b); err != nil {
			return nil, ErrNoChat
		}
		if a == b {
			g = newSyntheticGroup(r.engine, chatID, a)
		} else {
			g = newSyntheticGroup(r.engine, chatID, a, b)
		}
	} else {
		var err error
		g, err = r.engine.Groups.Get(chatID)
		if err != nil {
			return nil, ErrNoChat
		}
	}

	c := newChat(r.engine, chatID, g)
	if err := c.loadSnapshot(); err != nil {
		return nil, err
	}
	r.put(c)
	return c, nil
}

// loadRemote builds a chat homed on a peer: the persisted cache seeds it,
// then the resolver refreshes it from the home server and wires the link.
func (r *Registry) loadRemote(chatID string) (*Chat, error) {
	if r.engine.resolver == nil {
		return nil, ErrNoChat
	}

	var g *Group
	local, server := identity.Split(chatID)
	if identity.IsDM(local) {
		a, b := identity.DMUsers(local)
		g = newSyntheticGroup(r.engine, chatID,
			identity.Qualify(a, server), identity.Qualify(b, server))
	} else {
		var err error
		g, err = r.engine.Groups.Get(chatID)
		if err != nil {
			return nil, ErrNoChat
		}
	}

	c := newChat(r.engine, chatID, g)
	if err := c.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := r.engine.resolver.PopulateChat(c); err != nil {
		logger.Warn("remote chat refresh failed",
			zap.String("chat", chatID), zap.Error(err))
		if c.Len() == 0 {
			return nil, ErrNoChat
		}
	}
	r.put(c)
	return c, nil
}

func (r *Registry) put(c *Chat) {
	r.mu.Lock()
	r.cache[c.ID] = c
	r.mu.Unlock()
}

// Cached returns the chat only if it is already loaded.
func (r *Registry) Cached(chatID string) (*Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[chatID]
	return c, ok
}

// SaveDirty flushes every loaded chat with unsaved changes.
func (r *Registry) SaveDirty() {
	r.mu.Lock()
	chats := make([]*Chat, 0, len(r.cache))
	for _, c := range r.cache {
		chats = append(chats, c)
	}
	r.mu.Unlock()
	for _, c := range chats {
		if err := c.Save(); err != nil {
			logger.Error("chat save failed", zap.String("chat", c.ID), zap.Error(err))
		}
	}
}

// loadSnapshot restores the chat's persisted messages and journal.
func (c *Chat) loadSnapshot() error {
	var snap chatSnapshot
	ok, err := store.GetJSON(chatDataKey(c.ID), &snap)
	if err != nil {
		return err
	}
	if ok {
		c.mu.Lock()
		c.ids = snap.IDs
		c.messages = snap.Messages
		if c.messages == nil {
			c.messages = map[string]*models.Message{}
		}
		c.mu.Unlock()
	}

	var jsnap journalSnapshot
	ok, err = store.GetJSON(chatJournalKey(c.ID), &jsnap)
	if err != nil {
		return err
	}
	if ok {
		c.mu.Lock()
		c.journal.restore(jsnap)
		c.mu.Unlock()
	}
	return nil
}

// Save persists the chat's messages and journal when dirty. Cached
// remote chats persist too so history survives restarts.
func (c *Chat) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	snap := chatSnapshot{Version: formatVersion, IDs: c.ids, Messages: c.messages}
	if err := store.SetJSON(chatDataKey(c.ID), snap); err != nil {
		return err
	}
	if err := store.SetJSON(chatJournalKey(c.ID), c.journal.snapshot()); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// ReplaceHistory swaps in a full message set fetched from a chat's home
// server, ordered by id. Existing formatted views are invalidated.
func (c *Chat) ReplaceHistory(msgs map[string]*models.Message) {
	ids := make([]string, 0, len(msgs))
	for id := range msgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.mu.Lock()
	c.ids = ids
	c.messages = msgs
	c.format = map[string]*models.FormattedMessage{}
	c.pinned = nil
	c.dirty = true
	c.mu.Unlock()
}
