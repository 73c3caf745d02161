package chat

import (
	"strconv"
	"sync"
	"time"

	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/models"
	"flock/pkg/telemetry"
)

// Action is a per-message capability checked against the backing group's
// role table.
type Action int

const (
	ActionRead Action = iota
	ActionSend
	ActionReact
	ActionDelete
	ActionEdit
	ActionPin
)

// typingWindow is how long a typing signal stays live without renewal.
const typingWindow = 3 * time.Second

// Chat is one conversation: the ordered message store, its update journal
// and the attached subscriber hooks. Every chat is backed by a group; for
// direct chats the group is synthetic (both users, no roles, not public).
type Chat struct {
	// ID is the id the chat was requested under. For chats homed on a
	// peer it carries the "@publicName" suffix.
	ID string

	engine *Engine
	group  *Group

	mu       sync.Mutex
	ids      []string
	messages map[string]*models.Message
	journal  *Journal
	hooks    []*hub.Hook
	format   map[string]*models.FormattedMessage
	pinned   []string // nil until first built
	dirty    bool
	wake     chan struct{}

	typing     map[string]time.Time
	typingVer  int
	typingWake chan struct{}
}

func newChat(e *Engine, id string, g *Group) *Chat {
	return &Chat{
		ID:         id,
		engine:     e,
		group:      g,
		messages:   map[string]*models.Message{},
		journal:    newJournal(),
		format:     map[string]*models.FormattedMessage{},
		wake:       make(chan struct{}),
		typing:     map[string]time.Time{},
		typingWake: make(chan struct{}),
	}
}

// Group returns the backing group. Synthetic for direct chats.
func (c *Chat) Group() *Group { return c.group }

// Len reports the number of stored messages.
func (c *Chat) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Message returns a copy of the stored message.
func (c *Chat) Message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

// RequestID returns the journal's pending cursor id as a message id.
func (c *Chat) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strconv.FormatInt(c.journal.NextID(), 10)
}

// CanDo checks whether the actor may perform the action, optionally on a
// specific message. Server tokens get read access outright and delegate
// other actions to any of their users that are members here.
func (c *Chat) CanDo(actor string, action Action, msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canDoLocked(actor, action, msgID)
}

func (c *Chat) canDoLocked(actor string, action Action, msgID string) bool {
	if c.group.PublicSnapshot() && action == ActionRead {
		return true
	}
	if identity.IsServerToken(actor) {
		if action == ActionRead {
			return true
		}
		for _, uid := range c.group.MemberIDs() {
			if identity.Server(uid) == actor && c.canDoLocked(uid, action, msgID) {
				return true
			}
		}
	}
	member, ok := c.group.Member(actor)
	if !ok {
		return false
	}
	if action == ActionSend || action == ActionRead {
		if action == ActionSend {
			role, ok := c.group.RoleOf(member)
			if !ok {
				return true
			}
			return role.AllowSending
		}
		return true
	}
	msg, ok := c.messages[msgID]
	if !ok {
		return false
	}
	if action == ActionDelete && msg.SenderID == actor {
		return true
	}
	if action == ActionEdit {
		// only the sender may edit, and never a forwarded message
		return msg.SenderID == actor && msg.ForwardedFromID == ""
	}
	role, ok := c.group.RoleOf(member)
	if !ok {
		return true
	}
	switch action {
	case ActionReact:
		return role.AllowSendingReactions
	case ActionDelete:
		return role.AllowMessageDeleting
	case ActionPin:
		return role.AllowPinningMessages
	}
	return true
}

// addUpdateLocked journals the event, fans it out to subscriber hooks
// that pass the read check, and wakes long-pollers. Caller holds c.mu.
func (c *Chat) addUpdateLocked(ev models.UpdateEvent) int64 {
	id := c.journal.Append(ev)
	c.dirty = true
	cursor := strconv.FormatInt(id, 10)
	formatted := c.formatUpdateLocked(ev)
	for _, h := range c.hooks {
		if c.canDoLocked(h.Target, ActionRead, "") {
			h.Set(cursor, formatted)
		}
	}
	close(c.wake)
	c.wake = make(chan struct{})
	return id
}

// SendMessage stores a message and journals NEWMESSAGE. remoteID carries
// the home server's message id for federated messages; an already-present
// remoteID makes the call an idempotent no-op. Returns the message id.
func (c *Chat) SendMessage(msg *models.Message, notify bool, remoteID string) string {
	if msg.MentionIDs == nil {
		msg.MentionIDs = c.MessageMentions(msg)
	}

	c.mu.Lock()
	var id string
	if remoteID != "" {
		if _, ok := c.messages[remoteID]; ok {
			c.mu.Unlock()
			return remoteID
		}
		id = remoteID
	} else {
		id = strconv.FormatInt(c.journal.NextID(), 10)
	}
	c.ids = append(c.ids, id)
	c.messages[id] = msg
	c.pinned = nil
	c.addUpdateLocked(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: id})
	c.mu.Unlock()

	telemetry.MessagesSent.Inc()
	if notify {
		c.notifyMembers(id, msg)
	}
	return id
}

// notifyMembers queues a notification for every local member the message
// concerns, honoring mute settings and skipping the sender.
func (c *Chat) notifyMembers(id string, msg *models.Message) {
	preview := c.previewContent(msg)
	for _, uid := range c.group.MemberIDs() {
		if uid == msg.SenderID || identity.IsRemote(uid) {
			continue
		}
		mentioned := msg.Mentions(uid) || msg.Mentions("[CHAT]")
		if !c.engine.Notifs.ShouldNotify(uid, c.ID, mentioned) {
			continue
		}
		c.engine.Notifs.For(uid).Add(models.Notification{
			ChatID:  c.ID,
			MsgID:   id,
			Sender:  msg.SenderID,
			Content: preview,
			Time:    msg.SendTime,
		})
	}
}

// SendSystemMessage stores a server-authored message ("0" sender).
func (c *Chat) SendSystemMessage(content string) string {
	return c.SendMessage(&models.Message{
		SenderID: identity.System,
		Content:  content,
		SendTime: models.Now(),
	}, true, "")
}

// EditMessage replaces a message's content. Forwarded messages and
// unchanged content are no-ops. Returns whether anything changed.
func (c *Chat) EditMessage(id, content string) bool {
	editTime := models.Now()

	c.mu.Lock()
	msg, ok := c.messages[id]
	if !ok || msg.ForwardedFromID != "" || msg.Content == content {
		c.mu.Unlock()
		return false
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditTime = editTime
	delete(c.format, id)
	c.addUpdateLocked(models.UpdateEvent{
		Kind:      models.UpdateEdited,
		MessageID: id,
		Content:   content,
		EditTime:  editTime,
	})
	preview := c.previewContent(msg)
	c.mu.Unlock()

	for _, uid := range c.group.MemberIDs() {
		if !identity.IsRemote(uid) {
			c.engine.Notifs.For(uid).Edit(c.ID, id, preview)
		}
	}
	return true
}

// DeleteMessage removes a message; the DELETED journal entry compacts
// away the message's whole history. Returns whether it existed.
func (c *Chat) DeleteMessage(id string) bool {
	c.mu.Lock()
	if _, ok := c.messages[id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.messages, id)
	delete(c.format, id)
	for i, mid := range c.ids {
		if mid == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}
	c.pinned = nil
	c.addUpdateLocked(models.UpdateEvent{Kind: models.UpdateDeleted, MessageID: id})
	c.mu.Unlock()

	for _, uid := range c.group.MemberIDs() {
		if !identity.IsRemote(uid) {
			c.engine.Notifs.For(uid).Remove(c.ID, id)
		}
	}
	return true
}

// ReactMessage toggles a user's reaction. toggle nil flips, true only
// adds, false only removes. Returns the message's reaction table, or nil
// when the message is unknown.
func (c *Chat) ReactMessage(id, userID, reaction string, toggle *bool, sendTime string) models.ReactionTable {
	if sendTime == "" {
		sendTime = models.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[id]
	if !ok {
		return nil
	}
	if msg.Reactions == nil {
		msg.Reactions = models.ReactionTable{}
	}
	has := false
	if users, ok := msg.Reactions[reaction]; ok {
		_, has = users[userID]
	}
	switch {
	case has && (toggle == nil || !*toggle):
		msg.Reactions.Remove(reaction, userID)
		delete(c.format, id)
		c.addUpdateLocked(models.UpdateEvent{
			Kind:      models.UpdateUnreacted,
			MessageID: id,
			UserID:    userID,
			Reaction:  reaction,
		})
	case !has && (toggle == nil || *toggle):
		msg.Reactions.Add(reaction, userID, models.Reaction{
			Reaction: reaction,
			SenderID: userID,
			SendTime: sendTime,
		})
		delete(c.format, id)
		c.addUpdateLocked(models.UpdateEvent{
			Kind:      models.UpdateReacted,
			MessageID: id,
			UserID:    userID,
			Reaction:  reaction,
			SendTime:  sendTime,
		})
	}
	return msg.Reactions
}

// ReadMessage records a read receipt, once per user per message.
func (c *Chat) ReadMessage(id, userID, readTime string) {
	if readTime == "" {
		readTime = models.Now()
	}

	c.mu.Lock()
	msg, ok := c.messages[id]
	if !ok || msg.ReadBy(userID) {
		c.mu.Unlock()
		return
	}
	msg.ReadByIDs = append(msg.ReadByIDs, models.ReadReceipt{UserID: userID, ReadTime: readTime})
	delete(c.format, id)
	c.addUpdateLocked(models.UpdateEvent{
		Kind:      models.UpdateRead,
		MessageID: id,
		UserID:    userID,
		ReadTime:  readTime,
	})
	c.mu.Unlock()

	if !identity.IsRemote(userID) {
		c.engine.Notifs.For(userID).Remove(c.ID, id)
	}
}

// PinMessage toggles a message's pinned flag. val nil flips, true pins,
// false unpins. A state change emits a system message when the acting
// user may send here. Returns whether anything changed.
func (c *Chat) PinMessage(id, userID string, val *bool) bool {
	c.mu.Lock()
	msg, ok := c.messages[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	want := !msg.IsPinned
	if val != nil {
		want = *val
	}
	if msg.IsPinned == want {
		c.mu.Unlock()
		return false
	}
	msg.IsPinned = want
	delete(c.format, id)
	c.pinned = nil
	kind := models.UpdatePinned
	verb := "PINNEDMESSAGE"
	if !want {
		kind = models.UpdateUnpinned
		verb = "UNPINNEDMESSAGE"
	}
	c.addUpdateLocked(models.UpdateEvent{Kind: kind, MessageID: id, UserID: userID})
	announce := c.canDoLocked(userID, ActionSend, "")
	c.mu.Unlock()

	if announce {
		c.SendSystemMessage(verb + "|" + userID + "|" + id)
	}
	return true
}

// GetUpdates returns the formatted journal entries after the cursor,
// keyed by cursor id.
func (c *Chat) GetUpdates(since int64) map[string]models.UpdateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatesLocked(since)
}

func (c *Chat) updatesLocked(since int64) map[string]models.UpdateEvent {
	ids, events := c.journal.Since(since)
	out := make(map[string]models.UpdateEvent, len(ids))
	for i, id := range ids {
		out[strconv.FormatInt(id, 10)] = c.formatUpdateLocked(events[i])
	}
	return out
}

// WaitForUpdates blocks until the journal moves past the cursor or
// maxWait elapses, then returns the entries after it (possibly none).
func (c *Chat) WaitForUpdates(since int64, maxWait time.Duration) map[string]models.UpdateEvent {
	telemetry.LongPollWaiters.Inc()
	defer telemetry.LongPollWaiters.Dec()

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		out := c.updatesLocked(since)
		wake := c.wake
		c.mu.Unlock()
		if len(out) > 0 {
			return out
		}
		select {
		case <-wake:
		case <-deadline.C:
			return out
		}
	}
}

// SetTyping records or renews a user's typing signal; the signal decays
// after typingWindow. Subscriber hooks get "TYPING|<uid>" entries.
func (c *Chat) SetTyping(userID string, typing bool) {
	c.mu.Lock()
	_, was := c.typing[userID]
	if typing {
		c.typing[userID] = time.Now().Add(typingWindow)
		time.AfterFunc(typingWindow+100*time.Millisecond, func() { c.expireTyping(userID) })
	} else {
		delete(c.typing, userID)
	}
	if was != typing {
		c.typingVer++
		for _, h := range c.hooks {
			if c.canDoLocked(h.Target, ActionRead, "") {
				h.Set("TYPING|"+userID, typing)
			}
		}
		close(c.typingWake)
		c.typingWake = make(chan struct{})
	}
	c.mu.Unlock()
}

func (c *Chat) expireTyping(userID string) {
	c.mu.Lock()
	until, ok := c.typing[userID]
	expired := ok && !time.Now().Before(until)
	c.mu.Unlock()
	if expired {
		c.SetTyping(userID, false)
	}
}

// TypingUsers returns the users with a live typing signal.
func (c *Chat) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typingLocked()
}

func (c *Chat) typingLocked() []string {
	now := time.Now()
	out := []string{}
	for uid, until := range c.typing {
		if now.Before(until) {
			out = append(out, uid)
		}
	}
	return out
}

// WaitForTyping blocks until the typing set changes or maxWait elapses,
// then returns the current typing users.
func (c *Chat) WaitForTyping(maxWait time.Duration) []string {
	c.mu.Lock()
	ver := c.typingVer
	c.mu.Unlock()

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		changed := c.typingVer != ver
		users := c.typingLocked()
		wake := c.typingWake
		c.mu.Unlock()
		if changed {
			return users
		}
		select {
		case <-wake:
		case <-deadline.C:
			return users
		}
	}
}

// AttachHook subscribes a hook to this chat's updates and typing signals.
func (c *Chat) AttachHook(h *hub.Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, have := range c.hooks {
		if have == h {
			return
		}
	}
	c.hooks = append(c.hooks, h)
}

// DetachHook unsubscribes a hook.
func (c *Chat) DetachHook(h *hub.Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.hooks {
		if have == h {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			return
		}
	}
}

// HookKey is the hub key chat subscriptions register under.
func (c *Chat) HookKey() string { return hub.Key(hub.KindChat, c.ID) }
