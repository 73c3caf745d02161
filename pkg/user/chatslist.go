package user

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
)

// ChatsList is a user's list of chats. Additions and removals notify the
// user's chatslist hooks so clients keep their sidebar current.
type ChatsList struct {
	UserID string

	mu    sync.Mutex
	items []models.ChatItem
	hooks []*hub.Hook
	dirty bool
}

// ChatsLists is the per-user chats list registry.
type ChatsLists struct {
	mu    sync.Mutex
	cache map[string]*ChatsList
	sf    singleflight.Group
}

func NewChatsLists() *ChatsLists {
	return &ChatsLists{cache: map[string]*ChatsList{}}
}

// Get loads (or creates) the chats list of a local user.
func (cl *ChatsLists) Get(uid string) (*ChatsList, error) {
	cl.mu.Lock()
	if l, ok := cl.cache[uid]; ok {
		cl.mu.Unlock()
		return l, nil
	}
	cl.mu.Unlock()

	v, err, _ := cl.sf.Do(uid, func() (interface{}, error) {
		items, _, err := store.GetChatsList(uid)
		if err != nil {
			return nil, err
		}
		l := &ChatsList{UserID: uid, items: items}
		cl.mu.Lock()
		cl.cache[uid] = l
		cl.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChatsList), nil
}

// SaveDirty flushes every dirty list.
func (cl *ChatsLists) SaveDirty() {
	cl.mu.Lock()
	all := make([]*ChatsList, 0, len(cl.cache))
	for _, l := range cl.cache {
		all = append(all, l)
	}
	cl.mu.Unlock()
	for _, l := range all {
		l.Save()
	}
}

// Items returns a copy of the list.
func (l *ChatsList) Items() []models.ChatItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ChatItem, len(l.items))
	copy(out, l.items)
	return out
}

// Add appends a chat unless an entry for the same group or user already
// exists, then notifies subscribers under the chat id.
func (l *ChatsList) Add(item models.ChatItem) {
	l.mu.Lock()
	for _, it := range l.items {
		if it.ChatID == item.ChatID {
			l.mu.Unlock()
			return
		}
		if item.Type == "group" && it.Group == item.Group && item.Group != "" {
			l.mu.Unlock()
			return
		}
		if item.Type == "user" && it.UserID == item.UserID && item.UserID != "" {
			l.mu.Unlock()
			return
		}
	}
	l.items = append(l.items, item)
	l.dirty = true
	l.mu.Unlock()
	l.broadcast(item.ChatID, item)
}

// Remove drops a chat from the list; subscribers see the value "DELETED".
func (l *ChatsList) Remove(chatID string) {
	l.mu.Lock()
	found := false
	for i, it := range l.items {
		if it.ChatID == chatID {
			l.items = append(l.items[:i], l.items[i+1:]...)
			found = true
			break
		}
	}
	if found {
		l.dirty = true
	}
	l.mu.Unlock()
	if found {
		l.broadcast(chatID, "DELETED")
	}
}

// Has reports whether the chat is on the list.
func (l *ChatsList) Has(chatID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.ChatID == chatID {
			return true
		}
	}
	return false
}

// Save persists the list when dirty.
func (l *ChatsList) Save() {
	if identity.IsRemote(l.UserID) {
		return
	}
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return
	}
	l.dirty = false
	items := make([]models.ChatItem, len(l.items))
	copy(items, l.items)
	l.mu.Unlock()
	if err := store.SaveChatsList(l.UserID, items); err != nil {
		logger.Error("chatslist_save_failed", zap.String("user", l.UserID), zap.Error(err))
	}
}

// AttachHook subscribes a hook; the list belongs to one user, so writers
// only attach that user's own hooks.
func (l *ChatsList) AttachHook(h *hub.Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.hooks {
		if existing == h {
			return
		}
	}
	l.hooks = append(l.hooks, h)
}

// HookKey is the subscription key for this list.
func (l *ChatsList) HookKey() string { return hub.Key(hub.KindChatsList, l.UserID) }

func (l *ChatsList) broadcast(key string, val interface{}) {
	l.mu.Lock()
	hooks := make([]*hub.Hook, len(l.hooks))
	copy(hooks, l.hooks)
	l.mu.Unlock()
	for _, h := range hooks {
		h.Set(key, val)
	}
}
