package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"flock/pkg/chat"
	"flock/pkg/identity"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
	"flock/pkg/user"
)

var (
	ErrDisabled   = errors.New("federation is disabled")
	ErrBadLinkID  = errors.New("unknown or mismatched link id")
	ErrNoLink     = errors.New("no link to that server")
	ErrPeerDenied = errors.New("peer rejected the request")
)

// Manager owns the peer links. It implements chat.Resolver and
// user.Resolver so the registries can load remote entities through it.
type Manager struct {
	engine     *chat.Engine
	profiles   *user.Profiles
	selfURL    string
	publicName string
	version    string
	enabled    bool

	mu    sync.Mutex
	links map[string]*Link // keyed by peer public name
	known map[string]models.KnownServer
}

// NewManager loads the persisted peer records and rebuilds their links.
// Push loops start lazily, when a link first connects.
func NewManager(engine *chat.Engine, profiles *user.Profiles, selfURL, publicName, version string, enabled bool) *Manager {
	m := &Manager{
		engine:     engine,
		profiles:   profiles,
		selfURL:    strings.TrimSuffix(selfURL, "/"),
		publicName: publicName,
		version:    version,
		enabled:    enabled,
	}
	m.links = map[string]*Link{}
	m.known, _ = store.GetKnownServers()
	if m.known == nil {
		m.known = map[string]models.KnownServer{}
	}
	for _, ks := range m.known {
		m.ensureLink(ks.PublicName, ks.URL, ks.LinkID)
	}
	return m
}

// Enabled reports whether federation is switched on.
func (m *Manager) Enabled() bool { return m.enabled }

// PublicName is the name this server advertises to peers.
func (m *Manager) PublicName() string { return m.publicName }

// ServerInfo is the GET /flock advertisement.
func (m *Manager) ServerInfo() models.ServerInfo {
	return models.ServerInfo{
		IsFlock:    true,
		FlockType:  models.FlockType,
		Version:    m.version,
		PublicName: m.publicName,
	}
}

// ensureLink returns the link for a peer, creating it when absent.
func (m *Manager) ensureLink(publicName, url, linkID string) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[publicName]; ok {
		if linkID != "" {
			l.setCredential(url, linkID)
		}
		return l
	}
	l := newLink(m, publicName, url, linkID)
	m.links[publicName] = l
	return l
}

// linkByName returns an established link by peer public name.
func (m *Manager) linkByName(publicName string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[publicName]
	return l, ok
}

// linkByURL returns the link whose peer lives at the given URL.
func (m *Manager) linkByURL(url string) (*Link, bool) {
	url = strings.TrimSuffix(url, "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if strings.TrimSuffix(l.URL(), "/") == url {
			return l, true
		}
	}
	return nil, false
}

// LinkFor resolves the link that serves entities of the given server
// name, connecting it on first use.
func (m *Manager) LinkFor(serverName string) (*Link, error) {
	if !m.enabled {
		return nil, ErrDisabled
	}
	if l, ok := m.linkByName(serverName); ok {
		if l.Reconnect() {
			return l, nil
		}
		return nil, ErrNoLink
	}

	url, err := FindActualServerURL(serverName)
	if err != nil {
		return nil, err
	}
	info, err := Probe(url)
	if err != nil {
		return nil, err
	}
	name := info.PublicName
	if !verifyPublicName(name, url) {
		name = FakeServerName(url)
	}
	l := m.ensureLink(name, url, "")
	if !l.Reconnect() {
		return nil, ErrNoLink
	}
	return l, nil
}

// AcceptHandshake serves an inbound POST /federationrequest: verify the
// claimed URL really is a compatible server, validate its public name by
// round-trip, then hand back the shared link id, reusing the one from a
// previous handshake so a reconnecting peer keeps its credential.
func (m *Manager) AcceptHandshake(claimedURL string) (models.HandshakeResponse, error) {
	var resp models.HandshakeResponse
	if !m.enabled {
		return resp, ErrDisabled
	}
	claimedURL = strings.TrimSuffix(strings.TrimSpace(claimedURL), "/")
	if claimedURL == "" {
		return resp, ErrNoServer
	}
	if claimedURL == m.selfURL {
		return resp, ErrFoundSelf
	}
	info, err := Probe(claimedURL)
	if err != nil {
		return resp, err
	}
	name := info.PublicName
	if name == m.publicName {
		return resp, ErrFoundSelf
	}
	if !verifyPublicName(name, claimedURL) {
		name = FakeServerName(claimedURL)
	}

	m.mu.Lock()
	ks, ok := m.known[claimedURL]
	if !ok {
		ks = models.KnownServer{URL: claimedURL, LinkID: uuid.NewString()}
	}
	ks.PublicName = name
	m.known[claimedURL] = ks
	known := make(map[string]models.KnownServer, len(m.known))
	for k, v := range m.known {
		known[k] = v
	}
	m.mu.Unlock()
	if err := store.SaveKnownServers(known); err != nil {
		logger.Error("known servers save failed", zap.Error(err))
	}

	l := m.ensureLink(name, claimedURL, ks.LinkID)
	l.markConnected(ks.LinkID)

	logger.Info("federation handshake accepted",
		zap.String("peer", name), zap.String("url", claimedURL))
	return models.HandshakeResponse{
		Status:     "ok",
		ServerURL:  m.selfURL,
		ID:         ks.LinkID,
		PublicName: m.publicName,
	}, nil
}

// AcceptUpdates serves an inbound POST push: the credential must match
// the link for the claiming URL, then entries apply one by one.
func (m *Manager) AcceptUpdates(push models.UpdatePush) error {
	if !m.enabled {
		return ErrDisabled
	}
	l, ok := m.linkByURL(push.ServerURL)
	if !ok || !l.hasCredential(push.ID) {
		return ErrBadLinkID
	}
	m.applyUpdates(l, push.Updates)
	return nil
}

// SaveKnownServers persists the peer records.
func (m *Manager) SaveKnownServers() {
	m.mu.Lock()
	known := make(map[string]models.KnownServer, len(m.known))
	for k, v := range m.known {
		known[k] = v
	}
	m.mu.Unlock()
	if err := store.SaveKnownServers(known); err != nil {
		logger.Error("known servers save failed", zap.Error(err))
	}
}

// Subscribe attaches a peer's push hooks to a local entity so changes
// flow to it. Called by the API layer when a server token reads an
// entity; without an established link the read stays unsubscribed.
func (m *Manager) SubscribePeerChat(peerName string, c *chat.Chat) {
	if l, ok := m.linkByName(peerName); ok {
		c.AttachHook(l.hooks.Hook(c.HookKey(), peerName))
	}
}

func (m *Manager) SubscribePeerGroup(peerName string, g *chat.Group) {
	if l, ok := m.linkByName(peerName); ok {
		g.AttachHook(l.hooks.Hook(g.HookKey(), peerName))
	}
}

func (m *Manager) SubscribePeerProfile(peerName string, p *user.Profile) {
	if l, ok := m.linkByName(peerName); ok {
		p.AttachHook(l.hooks.Hook(p.HookKey(), peerName))
	}
}

// FetchProfile implements user.Resolver: load "id@peer" from its home.
func (m *Manager) FetchProfile(id string) (*models.Profile, error) {
	local, server := identity.Split(id)
	l, err := m.LinkFor(server)
	if err != nil {
		return nil, err
	}
	var p models.Profile
	if err := l.call("/federationgetuser", map[string]string{
		"token": m.publicName,
		"uid":   local,
	}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ResolveGroup implements chat.Resolver's group half.
func (m *Manager) ResolveGroup(id string) (*models.Group, bool, error) {
	local, server := identity.Split(id)
	l, err := m.LinkFor(server)
	if err != nil {
		return nil, false, err
	}
	var g models.Group
	if err := l.call("/federationgetgroup", map[string]string{
		"token":   m.publicName,
		"groupid": local,
	}, &g); err != nil {
		return nil, false, err
	}
	existsOnly := g.Members == nil
	fixed := m.fixGroup(l, g)
	return &fixed, existsOnly, nil
}

// PopulateChat implements chat.Resolver: pull the full message history of
// a chat homed on a peer and remember the chat for reconnect refreshes.
func (m *Manager) PopulateChat(c *chat.Chat) error {
	local, server := identity.Split(c.ID)
	l, err := m.LinkFor(server)
	if err != nil {
		return err
	}
	var msgs map[string]models.FormattedMessage
	if err := l.call("/federationgetchat", map[string]string{
		"token":  m.publicName,
		"chatid": local,
	}, &msgs); err != nil {
		return err
	}
	history := make(map[string]*models.Message, len(msgs))
	for id, fm := range msgs {
		msg := fm.Message
		if fm.ReadBy != nil {
			msg.ReadByIDs = fm.ReadBy
		}
		m.fixMessage(l, &msg)
		history[id] = &msg
	}
	c.ReplaceHistory(history)
	// Local activity on the replica flows home through the link's hooks.
	c.AttachHook(l.hooks.Hook(c.HookKey(), l.PublicName()))
	l.trackChat(c.ID)
	return nil
}

// SubscribeGroup implements chat.Resolver: wire a cached remote group so
// local membership changes push home and reconnects refresh it.
func (m *Manager) SubscribeGroup(g *chat.Group) {
	_, server := identity.Split(g.ID)
	if l, ok := m.linkByName(server); ok {
		g.AttachHook(l.hooks.Hook(g.HookKey(), l.PublicName()))
		l.trackGroup(g.ID)
	}
}

// refreshAfterReconnect re-pulls every remote entity served by the
// link, going through the registries so a replica dropped since it was
// tracked is simply skipped.
func (m *Manager) refreshAfterReconnect(l *Link) {
	for _, id := range l.trackedChats() {
		c, ok := m.engine.Chats.Cached(id)
		if !ok {
			continue
		}
		if err := m.PopulateChat(c); err != nil {
			logger.Warn("remote chat refresh failed",
				zap.String("chat", id), zap.Error(err))
		}
	}
	for _, id := range l.trackedGroups() {
		g, ok := m.engine.Groups.Cached(id)
		if !ok {
			continue
		}
		data, existsOnly, err := m.ResolveGroup(id)
		if err != nil {
			logger.Warn("remote group refresh failed",
				zap.String("group", id), zap.Error(err))
			continue
		}
		g.ApplyRemote(*data, existsOnly)
	}
}

// decodeBody parses a peer response: an error envelope fails the call,
// anything else decodes into out.
func decodeBody(body []byte, statusCode int, out interface{}) error {
	var envelope struct {
		Status string `json:"status"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Status == "error" {
		return fmt.Errorf("%w: %s", ErrPeerDenied, envelope.Code)
	}
	if statusCode != fasthttp.StatusOK {
		return fmt.Errorf("%w: http %d", ErrPeerDenied, statusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

var _ chat.Resolver = (*Manager)(nil)
var _ user.Resolver = (*Manager)(nil)
