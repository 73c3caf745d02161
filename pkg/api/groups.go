package api

import (
	"net/http"

	"flock/pkg/chat"
	"flock/pkg/identity"
	"flock/pkg/models"
	"flock/pkg/validation"
)

// getGroup loads a group for an actor, answering the protocol error when
// it cannot be served.
func (s *Server) getGroup(w http.ResponseWriter, action, groupID string) (*chat.Group, bool) {
	if groupID == "" {
		fail(w, action, codeNoGroup)
		return nil, false
	}
	g, err := s.engine.Groups.Get(groupID)
	if err != nil {
		fail(w, action, codeNoGroup)
		return nil, false
	}
	return g, true
}

// defaultJoinRole picks the role a self-joining user lands in: "Normal"
// when defined, otherwise the lowest-ranked role.
func defaultJoinRole(g *chat.Group) string {
	roles := g.Snapshot().Roles
	if _, okRole := roles["Normal"]; okRole {
		return "Normal"
	}
	name := ""
	best := -1
	for n, role := range roles {
		if role.AdminOrder > best {
			best = role.AdminOrder
			name = n
		}
	}
	return name
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	const action = "creategroup"
	var req struct {
		Token   string `json:"token"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Info    string `json:"info"`
		Public  bool   `json:"isPublic"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if !validation.ValidName(req.Name) || !validation.ValidInfo(req.Info) {
		fail(w, action, codeInvalid)
		return
	}

	id := newUID()
	g, err := s.engine.Groups.Create(id, models.Group{
		Name:         req.Name,
		Picture:      req.Picture,
		Info:         req.Info,
		CreatorID:    uid,
		CreationTime: models.Now(),
		IsPublic:     req.Public,
		Members:      map[string]models.GroupMember{},
		Roles:        models.DefaultRoles(),
	})
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	if err := g.AddUser(uid, "Owner"); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	data(w, action, map[string]string{"status": "ok", "groupid": id})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	const action = "getgroup"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(actor, chat.GroupRead, "") {
		fail(w, action, codeADenied)
		return
	}
	data(w, action, g.Snapshot())
}

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	const action = "getinfo"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	if _, okActor := s.actor(req.Token); !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	data(w, action, g.Summary())
}

func (s *Server) handleGetGroupMembers(w http.ResponseWriter, r *http.Request) {
	const action = "getgroupmembers"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(actor, chat.GroupRead, "") {
		fail(w, action, codeADenied)
		return
	}
	data(w, action, g.Snapshot().Members)
}

func (s *Server) handleGetBannedGroupMembers(w http.ResponseWriter, r *http.Request) {
	const action = "getbannedgroupmembers"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(actor, chat.GroupRead, "") {
		fail(w, action, codeADenied)
		return
	}
	banned := g.Snapshot().BannedMembers
	if banned == nil {
		banned = []string{}
	}
	data(w, action, banned)
}

func (s *Server) handleGetGroupMembersCount(w http.ResponseWriter, r *http.Request) {
	const action = "getgroupmemberscount"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	if _, okActor := s.actor(req.Token); !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	data(w, action, map[string]int{"count": g.Summary().MemberCount})
}

func (s *Server) handleGetGroupRoles(w http.ResponseWriter, r *http.Request) {
	const action = "getgrouproles"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(actor, chat.GroupRead, "") {
		fail(w, action, codeADenied)
		return
	}
	data(w, action, g.Snapshot().Roles)
}

func (s *Server) handleGetGroupRole(w http.ResponseWriter, r *http.Request) {
	const action = "getgrouprole"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
		UID     string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	uid := req.UID
	if uid == "" {
		uid = actor
	}
	role, name, err := g.UserRole(uid)
	if err != nil {
		fail(w, action, codeNoRole)
		return
	}
	data(w, action, map[string]interface{}{"name": name, "role": role})
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	const action = "joingroup"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.PublicSnapshot() {
		fail(w, action, codeADenied)
		return
	}
	if err := g.AddUser(uid, defaultJoinRole(g)); err != nil {
		fail(w, action, codeADenied)
		return
	}
	ok(w, action)
}

func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	const action = "leavegroup"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if _, member := g.Member(uid); !member {
		fail(w, action, codeADenied)
		return
	}
	if err := g.RemoveUser(uid); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	ok(w, action)
}

func (s *Server) handleKickMember(w http.ResponseWriter, r *http.Request) {
	const action = "kickmember"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
		UID     string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(uid, chat.GroupKick, req.UID) {
		fail(w, action, codeNoPerm)
		return
	}
	if err := g.RemoveUser(req.UID); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	ok(w, action)
}

func (s *Server) handleBanMember(w http.ResponseWriter, r *http.Request) {
	const action = "banmember"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
		UID     string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(uid, chat.GroupBan, req.UID) {
		fail(w, action, codeNoPerm)
		return
	}
	if err := g.BanUser(req.UID); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	ok(w, action)
}

func (s *Server) handleUnbanMember(w http.ResponseWriter, r *http.Request) {
	const action = "unbanmember"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
		UID     string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(uid, chat.GroupBan, req.UID) {
		fail(w, action, codeNoPerm)
		return
	}
	g.UnbanUser(req.UID)
	ok(w, action)
}

func (s *Server) handleEditGroup(w http.ResponseWriter, r *http.Request) {
	const action = "editgroup"
	var req struct {
		Token   string                 `json:"token"`
		GroupID string                 `json:"groupid"`
		Name    string                 `json:"name"`
		Picture string                 `json:"picture"`
		Info    string                 `json:"info"`
		Public  bool                   `json:"isPublic"`
		Roles   map[string]models.Role `json:"roles"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(uid, chat.GroupEditGroup, "") {
		fail(w, action, codeNoPerm)
		return
	}
	if !validation.ValidName(req.Name) || !validation.ValidInfo(req.Info) {
		fail(w, action, codeInvalid)
		return
	}
	if err := g.Edit(uid, req.Name, req.Picture, req.Info, req.Public, req.Roles); err != nil {
		fail(w, action, codeNoRole)
		return
	}
	if !identity.IsRemote(req.GroupID) {
		if c, err := s.engine.Chats.Get(req.GroupID); err == nil && c.CanDo(uid, chat.ActionSend, "") {
			c.SendSystemMessage("EDITGROUP|" + uid)
		}
	}
	ok(w, action)
}

// handleEditMember assigns a role, and doubles as the invite path: a
// non-member gains the given role when the caller may edit users.
func (s *Server) handleEditMember(w http.ResponseWriter, r *http.Request) {
	const action = "editmember"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
		UID     string `json:"uid"`
		Role    string `json:"role"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.UID == "" || req.Role == "" {
		fail(w, action, codeInvalid)
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	if !g.CanDo(uid, chat.GroupEditUser, req.UID) {
		fail(w, action, codeNoPerm)
		return
	}
	if _, member := g.Member(req.UID); member {
		g.SetUserRole(req.UID, req.Role)
		ok(w, action)
		return
	}
	if err := g.AddUser(req.UID, req.Role); err != nil {
		fail(w, action, codeNoRole)
		return
	}
	ok(w, action)
}
