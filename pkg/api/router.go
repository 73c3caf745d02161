package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"flock/pkg/auth"
	"flock/pkg/chat"
	"flock/pkg/federation"
	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/telemetry"
	"flock/pkg/user"
	"flock/pkg/utils"
)

// Server holds the handler dependencies.
type Server struct {
	engine   *chat.Engine
	profiles *user.Profiles
	lists    *user.ChatsLists
	notifs   *user.NotificationCenter
	sessions *hub.Registry
	fed      *federation.Manager

	maxBody      int64
	allowSignups bool

	routerOnce sync.Once
	router     *mux.Router
}

// NewServer wires the action handlers over the core registries. fed may
// be nil when federation is disabled.
func NewServer(engine *chat.Engine, profiles *user.Profiles, lists *user.ChatsLists,
	notifs *user.NotificationCenter, sessions *hub.Registry,
	fed *federation.Manager, maxBody int64, allowSignups bool) *Server {
	return &Server{
		engine:       engine,
		profiles:     profiles,
		lists:        lists,
		notifs:       notifs,
		sessions:     sessions,
		fed:          fed,
		maxBody:      maxBody,
		allowSignups: allowSignups,
	}
}

// Router builds the action routes once and reuses them; multi batches
// dispatch through the same table.
func (s *Server) Router() *mux.Router {
	s.routerOnce.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	post := func(path string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(http.MethodPost)
	}

	// Accounts.
	post("/signup", s.handleSignup)
	post("/login", s.handleLogin)
	post("/logout", s.handleLogout)
	post("/changepassword", s.handleChangePassword)
	post("/getsessioninfo", s.handleGetSessionInfo)

	// Profiles and presence.
	post("/getuser", s.handleGetUser)
	post("/editprofile", s.handleEditProfile)
	post("/getonline", s.handleGetOnline)
	post("/setonline", s.handleSetOnline)
	post("/settyping", s.handleSetTyping)
	post("/gettyping", s.handleGetTyping)

	// Chat lists and notifications.
	post("/getchatslist", s.handleGetChatsList)
	post("/adduserchat", s.handleAddUserChat)
	post("/getnotifications", s.handleGetNotifications)
	post("/mutechat", s.handleMuteChat)
	post("/getmutedchats", s.handleGetMutedChats)

	// Messaging.
	post("/getmessages", s.handleGetMessages)
	post("/getchatpage", s.handleGetChatPage)
	post("/getpinnedmessages", s.handleGetPinnedMessages)
	post("/sendmessage", s.handleSendMessage)
	post("/editmessage", s.handleEditMessage)
	post("/deletemessage", s.handleDeleteMessage)
	post("/readmessage", s.handleReadMessage)
	post("/pinmessage", s.handlePinMessage)
	post("/sendreaction", s.handleSendReaction)
	post("/savemessage", s.handleSaveMessage)
	post("/forwardmessage", s.handleForwardMessage)

	// Updates.
	post("/addhook", s.handleAddHook)
	post("/getupdates", s.handleGetUpdates)

	// Groups.
	post("/creategroup", s.handleCreateGroup)
	post("/getgroup", s.handleGetGroup)
	post("/getinfo", s.handleGetInfo)
	post("/getgroupmembers", s.handleGetGroupMembers)
	post("/getbannedgroupmembers", s.handleGetBannedGroupMembers)
	post("/getgroupmemberscount", s.handleGetGroupMembersCount)
	post("/getgrouproles", s.handleGetGroupRoles)
	post("/getgrouprole", s.handleGetGroupRole)
	post("/joingroup", s.handleJoinGroup)
	post("/leavegroup", s.handleLeaveGroup)
	post("/kickmember", s.handleKickMember)
	post("/banmember", s.handleBanMember)
	post("/unbanmember", s.handleUnbanMember)
	post("/editgroup", s.handleEditGroup)
	post("/editmember", s.handleEditMember)

	// Batch.
	post("/multi", s.handleMulti)

	// Federation.
	r.HandleFunc("/flock", s.handleFlock).Methods(http.MethodGet)
	post("/federationrequest", s.handleFederationRequest)
	post("/federationgetuser", s.handleFederationGetUser)
	post("/federationgetgroup", s.handleFederationGetGroup)
	post("/federationgetchat", s.handleFederationGetChat)
	post("/federationrecieveupdates", s.handleFederationReceiveUpdates)

	// Ops.
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	return r
}

// decode parses a bounded JSON body. A failure answers INVALID.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, action string, v interface{}) bool {
	if err := utils.DecodeJSON(w, r, s.maxBody, v); err != nil {
		fail(w, action, codeInvalid)
		return false
	}
	return true
}

// actor resolves a request token to its acting identity: a session
// token becomes its user id, a host-shaped token names a peer server
// and is honored only while federation is on.
func (s *Server) actor(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	if identity.IsServerToken(token) {
		if s.fed != nil && s.fed.Enabled() {
			return token, true
		}
		return "", false
	}
	return auth.Resolve(token)
}

// userActor is actor restricted to real signed-in users.
func (s *Server) userActor(token string) (string, bool) {
	uid, ok := s.actor(token)
	if !ok || identity.IsServerToken(uid) {
		return "", false
	}
	return uid, true
}

// getChat loads a chat as an actor, answering the protocol error when it
// cannot be served.
func (s *Server) getChat(w http.ResponseWriter, action, chatID, actor string) (*chat.Chat, bool) {
	if chatID == "" {
		fail(w, action, codeEChat)
		return nil, false
	}
	c, err := s.engine.Chats.Get(chatID)
	if err != nil {
		fail(w, action, codeNoChat)
		return nil, false
	}
	if !c.CanDo(actor, chat.ActionRead, "") {
		fail(w, action, codeADenied)
		return nil, false
	}
	return c, true
}
