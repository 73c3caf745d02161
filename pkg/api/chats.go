package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"flock/pkg/chat"
	"flock/pkg/hub"
	"flock/pkg/identity"
	"flock/pkg/models"
	"flock/pkg/store"
)

// chatsListEntry is one enriched chats-list row.
type chatsListEntry struct {
	models.ChatItem
	Name        string                   `json:"name,omitempty"`
	Picture     string                   `json:"picture,omitempty"`
	LastMessage *models.FormattedMessage `json:"lastmessage,omitempty"`
}

func (s *Server) handleGetChatsList(w http.ResponseWriter, r *http.Request) {
	const action = "getchatslist"
	var req struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	list, err := s.lists.Get(uid)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}

	items := list.Items()
	out := make([]chatsListEntry, 0, len(items))
	for _, item := range items {
		entry := chatsListEntry{ChatItem: item}
		switch item.Type {
		case "user":
			if p, err := s.profiles.Get(item.UserID); err == nil {
				short := p.Short()
				entry.Name = short.Name
				entry.Picture = short.Picture
			}
		case "group":
			if g, err := s.engine.Groups.Get(item.Group); err == nil {
				info := g.Summary()
				entry.Name = info.Name
				entry.Picture = info.Picture
			}
		}
		if c, err := s.engine.Chats.Get(item.ChatID); err == nil {
			entry.LastMessage = c.LastMessage()
		}
		out = append(out, entry)
	}
	data(w, action, out)
}

func (s *Server) handleAddUserChat(w http.ResponseWriter, r *http.Request) {
	const action = "adduserchat"
	var req struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.UID == "" {
		fail(w, action, codeNoUser)
		return
	}
	if _, err := s.profiles.Get(req.UID); err != nil {
		fail(w, action, codeNoUser)
		return
	}

	chatID := identity.DMID(uid, req.UID)
	if uid == req.UID {
		chatID = identity.SelfChat(uid)
	}
	list, err := s.lists.Get(uid)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	list.Add(models.ChatItem{ChatID: chatID, Type: "user", UserID: req.UID})
	if uid != req.UID && !identity.IsRemote(req.UID) {
		if other, err := s.lists.Get(req.UID); err == nil {
			other.Add(models.ChatItem{ChatID: chatID, Type: "user", UserID: uid})
		}
	}
	data(w, action, map[string]string{"status": "ok", "chatid": chatID})
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	const action = "getnotifications"
	var req struct {
		Token string `json:"token"`
		Hold  bool   `json:"hold"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	n := s.notifs.For(uid)
	var notes []models.Notification
	if req.Hold {
		notes = n.Hold(longPollWait)
	} else {
		notes = n.Take()
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	data(w, action, notes)
}

func (s *Server) handleMuteChat(w http.ResponseWriter, r *http.Request) {
	const action = "mutechat"
	var req struct {
		Token     string `json:"token"`
		ChatID    string `json:"chatid"`
		Muted     bool   `json:"muted"`
		AllowTags bool   `json:"allowTags"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.ChatID == "" {
		fail(w, action, codeEChat)
		return
	}
	cfg, _, err := store.GetUserConfig(uid)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	if cfg.MutedChats == nil {
		cfg.MutedChats = map[string]models.MutedChat{}
	}
	if req.Muted {
		cfg.MutedChats[req.ChatID] = models.MutedChat{AllowTags: req.AllowTags}
	} else {
		delete(cfg.MutedChats, req.ChatID)
	}
	if err := store.SaveUserConfig(uid, cfg); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	ok(w, action)
}

func (s *Server) handleGetMutedChats(w http.ResponseWriter, r *http.Request) {
	const action = "getmutedchats"
	var req struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	cfg, _, err := store.GetUserConfig(uid)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	if cfg.MutedChats == nil {
		cfg.MutedChats = map[string]models.MutedChat{}
	}
	data(w, action, cfg.MutedChats)
}

// handleAddHook registers update subscriptions ("<kind>:<id>" keys) on
// the session's hook set; a later updater-mode getupdates drains them.
func (s *Server) handleAddHook(w http.ResponseWriter, r *http.Request) {
	const action = "addhook"
	var req struct {
		Token string   `json:"token"`
		Hooks []string `json:"hooks"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if len(req.Hooks) == 0 {
		fail(w, action, codeInvalid)
		return
	}
	set := s.sessions.Get(req.Token)
	attached := make([]string, 0, len(req.Hooks))
	for _, key := range req.Hooks {
		kind, id, okKey := strings.Cut(key, ":")
		if !okKey || id == "" {
			continue
		}
		switch kind {
		case hub.KindChat:
			c, err := s.engine.Chats.Get(id)
			if err != nil || !c.CanDo(uid, chat.ActionRead, "") {
				continue
			}
			c.AttachHook(set.Hook(key, uid))
		case hub.KindGroup:
			g, err := s.engine.Groups.Get(id)
			if err != nil || !g.CanDo(uid, chat.GroupRead, "") {
				continue
			}
			g.AttachHook(set.Hook(key, uid))
		case hub.KindUser:
			p, err := s.profiles.Get(id)
			if err != nil {
				continue
			}
			p.AttachHook(set.Hook(key, uid))
		case hub.KindChatsList:
			if id != uid {
				continue
			}
			list, err := s.lists.Get(uid)
			if err != nil {
				continue
			}
			list.AttachHook(set.Hook(key, uid))
		default:
			continue
		}
		attached = append(attached, key)
	}
	data(w, action, map[string]interface{}{"status": "ok", "hooks": attached})
}

// handleGetUpdates serves both modes: with a chatid it long-polls one
// chat's journal past the supplied cursor; without it drains the
// session's hook set.
func (s *Server) handleGetUpdates(w http.ResponseWriter, r *http.Request) {
	const action = "getupdates"
	var req struct {
		Token  string      `json:"token"`
		ChatID string      `json:"chatid"`
		Since  json.Number `json:"since"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}

	if req.ChatID != "" {
		if req.Since.String() == "" {
			fail(w, action, codeNoSince)
			return
		}
		since, err := req.Since.Int64()
		if err != nil {
			fail(w, action, codeNoSince)
			return
		}
		c, okChat := s.getChat(w, action, req.ChatID, actor)
		if !okChat {
			return
		}
		data(w, action, c.WaitForUpdates(since, longPollWait))
		return
	}

	set, exists := s.sessions.Existing(req.Token)
	if !exists {
		fail(w, action, codeNoUpdates)
		return
	}
	data(w, action, set.Wait(longPollWait, true))
}
