package chat

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
	"flock/pkg/user"
)

// GroupAction is a group-level capability.
type GroupAction int

const (
	GroupRead GroupAction = iota
	GroupEditGroup
	GroupEditUser
	GroupKick
	GroupBan
)

// bannedRoleName is the synthetic role name reported for banned users.
// It is reserved; role tables may not define it.
const bannedRoleName = "BANNED"

var (
	ErrNoChat   = errors.New("no such chat")
	ErrNoGroup  = errors.New("no such group")
	ErrNoRole   = errors.New("no such role")
	ErrBanned   = errors.New("user is banned")
	ErrNotFound = errors.New("not a member")
)

// Group wraps a group record with its lock and subscriber hooks. Direct
// chats are backed by a synthetic group: both users as roleless members,
// no name, never public. Lock order is chat before group; methods with
// side effects (system messages, chat lists) run them unlocked.
type Group struct {
	ID string

	engine *Engine

	mu    sync.Mutex
	data  models.Group
	hooks []*hub.Hook
	dirty bool

	// existsOnly marks a remote group whose home server acknowledged it
	// without revealing members or settings.
	existsOnly bool
	synthetic  bool
}

func newGroup(e *Engine, id string, data models.Group) *Group {
	if data.Members == nil {
		data.Members = map[string]models.GroupMember{}
	}
	return &Group{ID: id, engine: e, data: data}
}

// newSyntheticGroup backs a direct chat between two users.
func newSyntheticGroup(e *Engine, chatID string, users ...string) *Group {
	members := map[string]models.GroupMember{}
	for _, uid := range users {
		members[uid] = models.GroupMember{UserID: uid}
	}
	g := newGroup(e, chatID, models.Group{Members: members})
	g.synthetic = true
	return g
}

// Snapshot returns a copy of the group record.
func (g *Group) Snapshot() models.Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	data := g.data
	data.Members = make(map[string]models.GroupMember, len(g.data.Members))
	for k, v := range g.data.Members {
		data.Members[k] = v
	}
	data.Roles = make(map[string]models.Role, len(g.data.Roles))
	for k, v := range g.data.Roles {
		data.Roles[k] = v
	}
	data.BannedMembers = append([]string(nil), g.data.BannedMembers...)
	return data
}

// Summary returns the group's public info.
func (g *Group) Summary() models.GroupInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.Summary()
}

// ExistsOnly reports whether this is an opaque remote group.
func (g *Group) ExistsOnly() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existsOnly
}

// PublicSnapshot reports whether the group is public.
func (g *Group) PublicSnapshot() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.IsPublic
}

// IsBanned reports whether the user is on the banned list.
func (g *Group) IsBanned(uid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.IsBanned(uid)
}

// Member returns the membership record of a user.
func (g *Group) Member(uid string) (models.GroupMember, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.data.Members[uid]
	return m, ok
}

// MemberIDs lists the member user ids.
func (g *Group) MemberIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.data.Members))
	for uid := range g.data.Members {
		out = append(out, uid)
	}
	return out
}

// RoleOf resolves a member's role. Roleless members (synthetic groups)
// and unknown role names report !ok.
func (g *Group) RoleOf(m models.GroupMember) (models.Role, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roleOfLocked(m)
}

func (g *Group) roleOfLocked(m models.GroupMember) (models.Role, bool) {
	if m.Role == "" {
		return models.Role{}, false
	}
	role, ok := g.data.Roles[m.Role]
	return role, ok
}

// UserRole reports the role a user holds here: the member's role, the
// reserved BANNED name for banned users, or the visitor role when the
// group is public. Non-members of private groups get ErrNotFound.
func (g *Group) UserRole(uid string) (models.Role, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.data.Members[uid]; ok {
		role, ok := g.roleOfLocked(m)
		if !ok {
			role = models.VisitorRole()
		}
		return role, m.Role, nil
	}
	if g.data.IsBanned(uid) {
		return models.VisitorRole(), bannedRoleName, nil
	}
	if g.data.IsPublic {
		return models.VisitorRole(), "", nil
	}
	return models.Role{}, "", ErrNotFound
}

// CanDo checks a group-level capability. target is the user acted on for
// EditUser, Kick and Ban; acting on a peer requires ranking at or above
// them and never on oneself. Server tokens delegate to any of their users
// that are members here.
func (g *Group) CanDo(actor string, action GroupAction, target string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canDoLocked(actor, action, target)
}

func (g *Group) canDoLocked(actor string, action GroupAction, target string) bool {
	if identity.IsServerToken(actor) {
		if action == GroupRead {
			return true
		}
		for uid := range g.data.Members {
			if identity.Server(uid) == actor && g.canDoLocked(uid, action, target) {
				return true
			}
		}
		return false
	}
	member, ok := g.data.Members[actor]
	if !ok {
		return action == GroupRead && g.data.IsPublic
	}
	if action == GroupRead {
		return true
	}
	role, ok := g.roleOfLocked(member)
	if !ok {
		return false
	}
	if action == GroupEditGroup {
		return role.AllowEditingSettings
	}

	var allowed bool
	switch action {
	case GroupEditUser:
		allowed = role.AllowEditingUsers
	case GroupKick:
		allowed = role.AllowKicking
	case GroupBan:
		allowed = role.AllowBanning
	default:
		return false
	}
	if !allowed {
		return false
	}
	// Seniority only compares against a target whose role resolves; a
	// member holding an unknown role name (possible in records delivered
	// by a peer) is acted on by the bare capability flag.
	if targetMember, ok := g.data.Members[target]; ok {
		if targetRole, ok := g.roleOfLocked(targetMember); ok {
			return role.AdminOrder <= targetRole.AdminOrder && actor != target
		}
	}
	return true
}

// AddUser joins a user, optionally with a role. Already-members are a
// no-op; banned users may not join; real groups require a known role
// name. Local users get the group added to their chats list.
func (g *Group) AddUser(userID, roleName string) error {
	g.mu.Lock()
	if _, ok := g.data.Members[userID]; ok {
		g.mu.Unlock()
		return nil
	}
	if _, ok := g.data.Roles[roleName]; !ok && g.data.Name != "" {
		g.mu.Unlock()
		return ErrNoRole
	}
	if g.data.IsBanned(userID) {
		g.mu.Unlock()
		return ErrBanned
	}
	g.mu.Unlock()

	var list *user.ChatsList
	if !identity.IsRemote(userID) && userID != identity.System {
		var err error
		list, err = g.engine.Lists.Get(userID)
		if err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.data.Members[userID] = models.GroupMember{UserID: userID, Role: roleName, JoinTime: models.Now()}
	g.dirty = true
	g.mu.Unlock()

	if list != nil {
		list.Add(models.ChatItem{ChatID: g.ID, Type: "group", Group: g.ID})
	}
	// Replicas of remote groups wait for the home server's system
	// message instead of minting their own.
	if !identity.IsRemote(g.ID) {
		if c, err := g.engine.Chats.Get(g.ID); err == nil && c.CanDo(userID, ActionSend, "") {
			c.SendSystemMessage("JOINGROUP|" + userID)
		}
	}
	g.broadcastUser(userID, roleName)
	g.CheckRoles()
	return nil
}

// RemoveUser leaves or kicks a user. The departure system message is
// sent while they are still a member so the send check passes.
func (g *Group) RemoveUser(userID string) error {
	g.mu.Lock()
	if _, ok := g.data.Members[userID]; !ok {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if !identity.IsRemote(g.ID) {
		if c, err := g.engine.Chats.Get(g.ID); err == nil && c.CanDo(userID, ActionSend, "") {
			c.SendSystemMessage("LEFTGROUP|" + userID)
		}
	}

	g.mu.Lock()
	delete(g.data.Members, userID)
	g.dirty = true
	g.mu.Unlock()

	if !identity.IsRemote(userID) && userID != identity.System {
		if list, err := g.engine.Lists.Get(userID); err == nil {
			list.Remove(g.ID)
		}
	}
	g.broadcastUser(userID, "")
	g.CheckRoles()
	return nil
}

// BanUser removes a user and puts them on the banned list.
func (g *Group) BanUser(userID string) error {
	if err := g.RemoveUser(userID); err != nil {
		return err
	}
	g.mu.Lock()
	banned := g.data.IsBanned(userID)
	if !banned {
		g.data.BannedMembers = append(g.data.BannedMembers, userID)
		g.dirty = true
	}
	g.mu.Unlock()
	if !banned {
		g.broadcastUser(userID, bannedRoleName)
	}
	return nil
}

// UnbanUser takes a user off the banned list.
func (g *Group) UnbanUser(userID string) {
	g.mu.Lock()
	removed := false
	for i, id := range g.data.BannedMembers {
		if id == userID {
			g.data.BannedMembers = append(g.data.BannedMembers[:i], g.data.BannedMembers[i+1:]...)
			removed = true
			g.dirty = true
			break
		}
	}
	g.mu.Unlock()
	if removed {
		g.broadcastUser(userID, "")
	}
}

// SetUserRole assigns an existing role to a member. Unknown users,
// unknown roles and same-role assignments are no-ops.
func (g *Group) SetUserRole(userID, roleName string) {
	g.mu.Lock()
	member, ok := g.data.Members[userID]
	if !ok || member.Role == roleName {
		g.mu.Unlock()
		return
	}
	if _, ok := g.data.Roles[roleName]; !ok {
		g.mu.Unlock()
		return
	}
	member.Role = roleName
	g.data.Members[userID] = member
	g.dirty = true
	g.mu.Unlock()
	g.broadcastUser(userID, roleName)
	g.CheckRoles()
}

// ValidateNewRoles checks a replacement role table: the reserved BANNED
// name and blank names are rejected, and no member may be left holding a
// role the new table lacks. Reports whether the table is acceptable and
// actually different from the current one.
func (g *Group) ValidateNewRoles(roles map[string]models.Role) (changed bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateNewRolesLocked(roles)
}

func (g *Group) validateNewRolesLocked(roles map[string]models.Role) (bool, error) {
	owners := 0
	for name, role := range roles {
		if name == "" || name == bannedRoleName {
			return false, ErrNoRole
		}
		if role.AdminOrder == 0 {
			owners++
		}
	}
	// rank 0 is the owner role; there can be at most one
	if owners > 1 {
		return false, ErrNoRole
	}
	for _, m := range g.data.Members {
		if m.Role == "" {
			continue
		}
		if _, ok := roles[m.Role]; !ok {
			return false, ErrNoRole
		}
	}
	if len(roles) != len(g.data.Roles) {
		return true, nil
	}
	for name, role := range roles {
		if have, ok := g.data.Roles[name]; !ok || have != role {
			return true, nil
		}
	}
	return false, nil
}

// Edit applies new settings and broadcasts them. actor is recorded in
// the update payload. A nil roles table leaves roles untouched; an
// invalid one fails the whole edit.
func (g *Group) Edit(actor, name, picture, info string, isPublic bool, roles map[string]models.Role) error {
	g.mu.Lock()
	rolesChanged := false
	if roles != nil {
		changed, err := g.validateNewRolesLocked(roles)
		if err != nil {
			g.mu.Unlock()
			return err
		}
		if changed {
			g.data.Roles = roles
			rolesChanged = true
		}
	}
	g.data.Name = name
	g.data.Picture = picture
	g.data.Info = info
	g.data.IsPublic = isPublic
	g.dirty = true
	promote := g.checkRolesLocked()

	update := models.GroupUpdate{
		Name:     g.data.Name,
		Picture:  g.data.Picture,
		Info:     g.data.Info,
		IsPublic: g.data.IsPublic,
		UserID:   actor,
	}
	if rolesChanged {
		update.Roles = g.data.Roles
	}
	g.mu.Unlock()

	if promote != "" {
		g.SetUserRole(promote, g.ownerRoleName())
	}
	g.broadcast("edit", update)
	return nil
}

// CheckRoles enforces the ownership invariant: the owner role sits at
// rank 0 with every capability, and somebody must hold it. When nobody
// does, the creator is promoted if still a member, otherwise the most
// senior remaining member.
func (g *Group) CheckRoles() {
	g.mu.Lock()
	promote := g.checkRolesLocked()
	g.mu.Unlock()
	if promote != "" {
		g.SetUserRole(promote, g.ownerRoleName())
	}
}

// checkRolesLocked normalizes the owner role and returns the member to
// promote when no one holds rank 0. Caller holds g.mu.
func (g *Group) checkRolesLocked() (promote string) {
	if g.synthetic || len(g.data.Roles) == 0 {
		return ""
	}
	ownerName := g.ownerRoleNameLocked()
	owner := models.AllAllowed(0)
	if g.data.Roles[ownerName] != owner {
		g.data.Roles[ownerName] = owner
		g.dirty = true
	}

	var fallback string
	fallbackOrder := 0
	for uid, m := range g.data.Members {
		role, ok := g.roleOfLocked(m)
		if !ok {
			continue
		}
		if role.AdminOrder == 0 {
			return ""
		}
		if fallback == "" || role.AdminOrder < fallbackOrder {
			fallbackOrder = role.AdminOrder
			fallback = uid
		}
	}
	if _, ok := g.data.Members[g.data.CreatorID]; ok {
		return g.data.CreatorID
	}
	return fallback
}

// ownerRoleNameLocked picks the most senior role (smallest AdminOrder,
// name as tiebreak) as the owner role; checkRolesLocked then forces it
// to rank 0 with every capability.
func (g *Group) ownerRoleNameLocked() string {
	name := ""
	best := 0
	for n, r := range g.data.Roles {
		if name == "" || r.AdminOrder < best || (r.AdminOrder == best && n < name) {
			best = r.AdminOrder
			name = n
		}
	}
	return name
}

func (g *Group) ownerRoleName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ownerRoleNameLocked()
}

// broadcastUser publishes a membership change under "USER|<uid>" to the
// hooks allowed to read the group.
func (g *Group) broadcastUser(uid, role string) {
	g.broadcast("USER|"+uid, role)
}

func (g *Group) broadcast(key string, val interface{}) {
	g.mu.Lock()
	hooks := make([]*hub.Hook, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.Unlock()
	for _, h := range hooks {
		if g.CanDo(h.Target, GroupRead, "") {
			h.Set(key, val)
		}
	}
}

// AttachHook subscribes a hook to membership and settings changes.
func (g *Group) AttachHook(h *hub.Hook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, have := range g.hooks {
		if have == h {
			return
		}
	}
	g.hooks = append(g.hooks, h)
}

// DetachHook unsubscribes a hook.
func (g *Group) DetachHook(h *hub.Hook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, have := range g.hooks {
		if have == h {
			g.hooks = append(g.hooks[:i], g.hooks[i+1:]...)
			return
		}
	}
}

// HookKey is the hub key group subscriptions register under.
func (g *Group) HookKey() string { return hub.Key(hub.KindGroup, g.ID) }

// ApplyRemote replaces a cached remote group's record with fresh peer
// state and broadcasts the settings to local subscribers.
func (g *Group) ApplyRemote(data models.Group, existsOnly bool) {
	g.mu.Lock()
	g.data = data
	if g.data.Members == nil {
		g.data.Members = map[string]models.GroupMember{}
	}
	g.existsOnly = existsOnly
	g.mu.Unlock()
	g.broadcast("edit", models.GroupUpdate{
		Name:     data.Name,
		Picture:  data.Picture,
		Info:     data.Info,
		IsPublic: data.IsPublic,
		Roles:    data.Roles,
	})
}

// Save persists the group after enforcing the ownership invariant.
// Cached remote groups are persisted too so they survive restarts.
func (g *Group) Save() error {
	g.CheckRoles()
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.dirty || g.synthetic {
		return nil
	}
	if err := store.SaveGroup(g.ID, g.data); err != nil {
		return err
	}
	g.dirty = false
	return nil
}

// Groups is the process-wide group registry.
type Groups struct {
	engine *Engine

	mu    sync.Mutex
	cache map[string]*Group
	sf    singleflight.Group
}

func newGroups(e *Engine) *Groups {
	return &Groups{engine: e, cache: map[string]*Group{}}
}

// Get loads a group, from cache, disk or the federation resolver.
func (gs *Groups) Get(id string) (*Group, error) {
	gs.mu.Lock()
	if g, ok := gs.cache[id]; ok {
		gs.mu.Unlock()
		return g, nil
	}
	gs.mu.Unlock()

	v, err, _ := gs.sf.Do(id, func() (interface{}, error) {
		return gs.load(id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Group), nil
}

func (gs *Groups) load(id string) (*Group, error) {
	if identity.IsRemote(id) {
		if gs.engine.resolver == nil {
			return nil, ErrNoGroup
		}
		data, existsOnly, err := gs.engine.resolver.ResolveGroup(id)
		if err != nil {
			return nil, err
		}
		g := newGroup(gs.engine, id, *data)
		g.existsOnly = existsOnly
		gs.put(g)
		gs.engine.resolver.SubscribeGroup(g)
		return g, nil
	}

	data, ok, err := store.GetGroup(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoGroup
	}
	g := newGroup(gs.engine, id, data)
	gs.put(g)
	return g, nil
}

func (gs *Groups) put(g *Group) {
	gs.mu.Lock()
	gs.cache[g.ID] = g
	gs.mu.Unlock()
}

// Create registers and persists a brand-new group.
func (gs *Groups) Create(id string, data models.Group) (*Group, error) {
	g := newGroup(gs.engine, id, data)
	g.dirty = true
	if err := g.Save(); err != nil {
		return nil, err
	}
	gs.put(g)
	return g, nil
}

// Cached returns the group only if it is already loaded.
func (gs *Groups) Cached(id string) (*Group, bool) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	g, ok := gs.cache[id]
	return g, ok
}

// SaveDirty flushes every dirty group.
func (gs *Groups) SaveDirty() {
	gs.mu.Lock()
	groups := make([]*Group, 0, len(gs.cache))
	for _, g := range gs.cache {
		groups = append(groups, g)
	}
	gs.mu.Unlock()
	for _, g := range groups {
		if err := g.Save(); err != nil {
			logger.Error("group save failed", zap.String("group", g.ID), zap.Error(err))
		}
	}
}
