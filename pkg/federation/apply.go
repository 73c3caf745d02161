package federation

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"flock/pkg/chat"
	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/telemetry"
)

// applyUpdates walks an inbound push. Every entry applies in isolation;
// a malformed or denied one is skipped and the rest still land.
func (m *Manager) applyUpdates(l *Link, updates map[string]map[string]interface{}) {
	for key, entries := range updates {
		kind, target, ok := strings.Cut(key, ":")
		if !ok {
			m.skip(l, key, "malformed key")
			continue
		}
		switch kind {
		case hub.KindChat:
			m.applyChat(l, target, entries)
		case hub.KindUser:
			m.applyUser(l, target, entries)
		case hub.KindGroup:
			m.applyGroup(l, target, entries)
		default:
			m.skip(l, key, "unknown kind")
		}
	}
}

func (m *Manager) skip(l *Link, key, reason string) {
	telemetry.FederationSkipped.Inc()
	logger.Debug("federation entry skipped",
		zap.String("peer", l.PublicName()),
		zap.String("key", key), zap.String("reason", reason))
}

// decodeEntry re-marshals a loosely decoded hook value into a concrete
// type.
func decodeEntry(v interface{}, out interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (m *Manager) applyChat(l *Link, target string, entries map[string]interface{}) {
	chatID := m.fixChatID(l, target)
	c, err := m.engine.Chats.Get(chatID)
	if err != nil {
		m.skip(l, "chat:"+target, "no such chat")
		return
	}
	peer := l.PublicName()

	for key, v := range entries {
		if uid, ok := strings.CutPrefix(key, "TYPING|"); ok {
			typing, _ := v.(bool)
			uid = m.fixUserID(l, uid)
			if c.CanDo(uid, chat.ActionSend, "") {
				c.SetTyping(uid, typing)
				telemetry.FederationApplied.Inc()
			} else {
				m.skip(l, "chat:"+target, "typing denied")
			}
			continue
		}

		var ev models.UpdateEvent
		if err := decodeEntry(v, &ev); err != nil {
			m.skip(l, "chat:"+target, "malformed event")
			continue
		}
		if m.applyChatEvent(l, c, peer, key, ev) {
			telemetry.FederationApplied.Inc()
		} else {
			telemetry.FederationSkipped.Inc()
		}
	}
}

func (m *Manager) applyChatEvent(l *Link, c *chat.Chat, peer, cursor string, ev models.UpdateEvent) bool {
	switch ev.Kind {
	case models.UpdateNewMessage:
		if ev.Message == nil {
			return false
		}
		msg := ev.Message.Message
		if ev.Message.ReadBy != nil {
			msg.ReadByIDs = ev.Message.ReadBy
		}
		// The system actor is never accepted from a peer: replicas echo
		// their own copies of system messages and must not duplicate
		// them here.
		if msg.SenderID == identity.System {
			return false
		}
		m.fixMessage(l, &msg)
		if !c.CanDo(peer, chat.ActionSend, "") || !c.CanDo(msg.SenderID, chat.ActionSend, "") {
			return false
		}
		remoteID := ev.Message.ID
		if remoteID == "" {
			remoteID = cursor
		}
		c.SendMessage(&msg, true, remoteID)
		return true

	case models.UpdateReacted, models.UpdateUnreacted:
		uid := m.fixUserID(l, ev.UserID)
		if !c.CanDo(uid, chat.ActionReact, ev.MessageID) {
			return false
		}
		add := ev.Kind == models.UpdateReacted
		c.ReactMessage(ev.MessageID, uid, ev.Reaction, &add, ev.SendTime)
		return true

	case models.UpdateDeleted:
		if !c.CanDo(peer, chat.ActionDelete, ev.MessageID) {
			return false
		}
		return c.DeleteMessage(ev.MessageID)

	case models.UpdateEdited:
		if !c.CanDo(peer, chat.ActionEdit, ev.MessageID) {
			return false
		}
		return c.EditMessage(ev.MessageID, ev.Content)

	case models.UpdatePinned, models.UpdateUnpinned:
		uid := m.fixUserID(l, ev.UserID)
		if !c.CanDo(uid, chat.ActionPin, ev.MessageID) {
			return false
		}
		pin := ev.Kind == models.UpdatePinned
		return c.PinMessage(ev.MessageID, uid, &pin)

	case models.UpdateRead:
		uid := m.fixUserID(l, ev.UserID)
		if !c.CanDo(uid, chat.ActionReact, ev.MessageID) {
			return false
		}
		c.ReadMessage(ev.MessageID, uid, ev.ReadTime)
		return true
	}
	return false
}

func (m *Manager) applyUser(l *Link, target string, entries map[string]interface{}) {
	uid := m.fixUserID(l, target)
	if !identity.IsRemote(uid) {
		// Echoes of our own users come back from peers that subscribed
		// to them; nothing to apply.
		return
	}
	for key, v := range entries {
		switch key {
		case "online":
			if status, ok := v.(string); ok {
				m.profiles.ApplyRemoteStatus(uid, status)
				telemetry.FederationApplied.Inc()
			}
		case "profileUpdate":
			var p models.Profile
			if err := decodeEntry(v, &p); err != nil {
				m.skip(l, "user:"+target, "malformed profile")
				continue
			}
			m.profiles.ApplyRemote(uid, p)
			telemetry.FederationApplied.Inc()
		case "publicTagChange":
			// Tag registries are not mirrored; the entry is recognized
			// and dropped.
		default:
			m.skip(l, "user:"+target, "unknown entry")
		}
	}
}

func (m *Manager) applyGroup(l *Link, target string, entries map[string]interface{}) {
	groupID := m.fixChatID(l, target)
	g, err := m.engine.Groups.Get(groupID)
	if err != nil {
		m.skip(l, "group:"+target, "no such group")
		return
	}
	peer := l.PublicName()

	for key, v := range entries {
		if uid, ok := strings.CutPrefix(key, "USER|"); ok {
			uid = m.fixUserID(l, uid)
			role, _ := v.(string)
			if m.applyMemberChange(g, peer, uid, role) {
				telemetry.FederationApplied.Inc()
			} else {
				telemetry.FederationSkipped.Inc()
			}
			continue
		}
		if key == "edit" {
			var upd models.GroupUpdate
			if err := decodeEntry(v, &upd); err != nil {
				m.skip(l, "group:"+target, "malformed edit")
				continue
			}
			m.applyGroupEdit(l, g, groupID, upd)
			continue
		}
		m.skip(l, "group:"+target, "unknown entry")
	}
}

// applyMemberChange handles one "USER|<uid>" marker: empty means left or
// kicked, BANNED bans, anything else is a role. A user's own home server
// may always remove or join them; everything else needs the pushing
// peer's permission here.
func (m *Manager) applyMemberChange(g *chat.Group, peer, uid, role string) bool {
	ownServer := identity.Server(uid) == peer
	switch role {
	case "":
		if wasBanned := g.IsBanned(uid); wasBanned {
			if !g.CanDo(peer, chat.GroupBan, uid) {
				return false
			}
			g.UnbanUser(uid)
			return true
		}
		if !ownServer && !g.CanDo(peer, chat.GroupKick, uid) {
			return false
		}
		return g.RemoveUser(uid) == nil
	case "BANNED":
		if !g.CanDo(peer, chat.GroupBan, uid) {
			return false
		}
		return g.BanUser(uid) == nil
	default:
		if _, isMember := g.Member(uid); isMember {
			if !g.CanDo(peer, chat.GroupEditUser, uid) {
				return false
			}
			g.SetUserRole(uid, role)
			return true
		}
		if !ownServer && !g.CanDo(peer, chat.GroupEditUser, uid) {
			return false
		}
		return g.AddUser(uid, role) == nil
	}
}

func (m *Manager) applyGroupEdit(l *Link, g *chat.Group, groupID string, upd models.GroupUpdate) {
	actor := m.fixUserID(l, upd.UserID)
	if actor != "" && !g.CanDo(actor, chat.GroupEditGroup, "") {
		m.skip(l, "group:"+groupID, "edit denied")
		return
	}
	if err := g.Edit(actor, upd.Name, upd.Picture, upd.Info, upd.IsPublic, upd.Roles); err != nil {
		m.skip(l, "group:"+groupID, "edit rejected")
		return
	}
	telemetry.FederationApplied.Inc()
	if actor != "" && !identity.IsRemote(groupID) {
		if c, err := m.engine.Chats.Get(groupID); err == nil && c.CanDo(actor, chat.ActionSend, "") {
			c.SendSystemMessage("EDITGROUP|" + actor)
		}
	}
}
