package federation

import (
	"strings"

	"flock/pkg/identity"
	"flock/pkg/models"
)

// systemMessageMarkers are the system message verbs whose pipe-separated
// arguments carry user ids that need rewriting.
var systemMessageMarkers = map[string]bool{
	"JOINGROUP":       true,
	"LEFTGROUP":       true,
	"EDITGROUP":       true,
	"PINNEDMESSAGE":   true,
	"UNPINNEDMESSAGE": true,
}

// fixUserID rewrites a peer-relative user id into our namespace: bare
// ids get the peer's name appended, ids namespaced under us lose it,
// and the system actor passes through untouched.
func (m *Manager) fixUserID(l *Link, id string) string {
	if id == "" || id == identity.System {
		return id
	}
	local, server := identity.Split(id)
	if server == "" {
		return identity.Qualify(id, l.PublicName())
	}
	if server == m.publicName {
		return local
	}
	return id
}

// fixChatID rewrites a peer-relative chat id the same way, handling the
// two-user form of direct chat ids.
func (m *Manager) fixChatID(l *Link, id string) string {
	local, server := identity.Split(id)
	if server == m.publicName {
		id = local
		server = ""
	}
	if identity.IsDM(id) {
		base, suffix := id, ""
		if server != "" {
			base = local
			suffix = "@" + server
		}
		a, b := identity.DMUsers(base)
		return identity.DMID(m.fixUserID(l, a), m.fixUserID(l, b)) + suffix
	}
	if server == "" {
		return identity.Qualify(id, l.PublicName())
	}
	return id
}

// fixMessage rewrites every user reference inside a pushed message and
// substitutes the %SERVER% placeholder in file URLs with the peer's URL.
func (m *Manager) fixMessage(l *Link, msg *models.Message) {
	msg.SenderID = m.fixUserID(l, msg.SenderID)
	msg.ForwardedFromID = m.fixUserID(l, msg.ForwardedFromID)

	if msg.SenderID == identity.System {
		if verb, arg, ok := strings.Cut(msg.Content, "|"); ok && systemMessageMarkers[verb] {
			parts := strings.Split(arg, "|")
			parts[0] = m.fixUserID(l, parts[0])
			msg.Content = verb + "|" + strings.Join(parts, "|")
		}
	}

	for i, id := range msg.MentionIDs {
		if id != "[CHAT]" {
			msg.MentionIDs[i] = m.fixUserID(l, id)
		}
	}
	for i, r := range msg.ReadByIDs {
		msg.ReadByIDs[i].UserID = m.fixUserID(l, r.UserID)
	}

	if msg.Reactions != nil {
		fixed := models.ReactionTable{}
		for emoji, users := range msg.Reactions {
			bucket := map[string]models.Reaction{}
			for uid, r := range users {
				r.SenderID = m.fixUserID(l, r.SenderID)
				bucket[m.fixUserID(l, uid)] = r
			}
			fixed[emoji] = bucket
		}
		msg.Reactions = fixed
	}

	for i, f := range msg.Files {
		if strings.HasPrefix(f, "%SERVER%") {
			msg.Files[i] = l.URL() + strings.TrimPrefix(f, "%SERVER%")
		}
	}
}

// fixGroup rebuilds a pushed group record with rewritten member, banned
// and creator ids.
func (m *Manager) fixGroup(l *Link, g models.Group) models.Group {
	g.CreatorID = m.fixUserID(l, g.CreatorID)
	if g.Members != nil {
		members := make(map[string]models.GroupMember, len(g.Members))
		for uid, member := range g.Members {
			fixed := m.fixUserID(l, uid)
			member.UserID = fixed
			members[fixed] = member
		}
		g.Members = members
	}
	for i, uid := range g.BannedMembers {
		g.BannedMembers[i] = m.fixUserID(l, uid)
	}
	return g
}
