// Package chat is the server's core: per-chat message stores with
// compacting update journals, the group directory with its role system,
// and the permission checks both share. Chats and groups load through
// process-lifetime registries and notify subscriber hooks on every change.
package chat

import (
	"flock/pkg/models"
	"flock/pkg/user"
)

// formatVersion tags persisted chat and journal snapshots so future
// format changes can migrate old data at startup.
const formatVersion = 1

// Resolver reaches entities homed on peer servers. The federation manager
// implements it; a nil resolver confines the server to local entities.
type Resolver interface {
	// PopulateChat fills a remote chat with the peer's content and wires
	// the link so local activity flows back to the chat's home server.
	PopulateChat(c *Chat) error
	// ResolveGroup fetches a remote group. existsOnly means the peer
	// acknowledged the group without showing its contents.
	ResolveGroup(id string) (g *models.Group, existsOnly bool, err error)
	// SubscribeGroup wires a cached remote group to its home server.
	SubscribeGroup(g *Group)
}

// Engine ties the registries together. One Engine serves the process.
type Engine struct {
	Chats    *Registry
	Groups   *Groups
	Profiles *user.Profiles
	Lists    *user.ChatsLists
	Notifs   *user.NotificationCenter

	// SelfURL is this server's public URL, substituted for %SERVER% in
	// file attachment links.
	SelfURL string

	resolver Resolver
}

// NewEngine builds the engine over the user-side registries.
func NewEngine(profiles *user.Profiles, lists *user.ChatsLists, notifs *user.NotificationCenter, selfURL string) *Engine {
	e := &Engine{
		Profiles: profiles,
		Lists:    lists,
		Notifs:   notifs,
		SelfURL:  selfURL,
	}
	e.Chats = newRegistry(e)
	e.Groups = newGroups(e)
	return e
}

// SetResolver wires the federation lookup.
func (e *Engine) SetResolver(r Resolver) {
	e.resolver = r
}

// SaveDirty flushes every dirty chat and group.
func (e *Engine) SaveDirty() {
	e.Chats.SaveDirty()
	e.Groups.SaveDirty()
}
