package user

import (
	"sync"
	"time"

	"flock/pkg/models"
	"flock/pkg/store"
)

// Notifications is a user's pending notification queue, keyed
// "<chatID>/<msgID>" so edits and deletions can rewrite entries in place.
// The hold-mode long-poll parks on the wake channel.
type Notifications struct {
	UserID string

	mu      sync.Mutex
	pending map[string]models.Notification
	wake    chan struct{}
}

// NotificationCenter is the per-user notification registry. Queues are
// process-lifetime only; missed notifications are recovered from chat
// history by clients.
type NotificationCenter struct {
	mu    sync.Mutex
	users map[string]*Notifications
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{users: map[string]*Notifications{}}
}

// For returns the queue for a user, creating it when absent.
func (nc *NotificationCenter) For(uid string) *Notifications {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if n, ok := nc.users[uid]; ok {
		return n
	}
	n := &Notifications{
		UserID:  uid,
		pending: map[string]models.Notification{},
		wake:    make(chan struct{}, 1),
	}
	nc.users[uid] = n
	return n
}

// ShouldNotify consults the user's muting configuration.
func (nc *NotificationCenter) ShouldNotify(uid, chatID string, mentioned bool) bool {
	cfg, _, err := store.GetUserConfig(uid)
	if err != nil {
		return true
	}
	return cfg.Notifies(chatID, mentioned)
}

func key(chatID, msgID string) string { return chatID + "/" + msgID }

// Add queues a notification and wakes held pollers.
func (n *Notifications) Add(note models.Notification) {
	n.mu.Lock()
	n.pending[key(note.ChatID, note.MsgID)] = note
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Edit rewrites a queued notification's content, if still queued.
func (n *Notifications) Edit(chatID, msgID, content string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if note, ok := n.pending[key(chatID, msgID)]; ok {
		note.Content = content
		n.pending[key(chatID, msgID)] = note
	}
}

// Remove drops a queued notification, e.g. when its message is deleted or
// the user read the chat elsewhere.
func (n *Notifications) Remove(chatID, msgID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.pending, key(chatID, msgID))
}

// RemoveChat drops every notification of a chat.
func (n *Notifications) RemoveChat(chatID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, note := range n.pending {
		if note.ChatID == chatID {
			delete(n.pending, k)
		}
	}
}

// Take drains the queue.
func (n *Notifications) Take() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) == 0 {
		return nil
	}
	out := make([]models.Notification, 0, len(n.pending))
	for _, note := range n.pending {
		out = append(out, note)
	}
	n.pending = map[string]models.Notification{}
	return out
}

// Hold blocks until a notification arrives or maxWait passes, then drains.
func (n *Notifications) Hold(maxWait time.Duration) []models.Notification {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	for {
		if out := n.Take(); len(out) > 0 {
			return out
		}
		select {
		case <-n.wake:
		case <-deadline.C:
			return n.Take()
		}
	}
}
