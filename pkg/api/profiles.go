package api

import (
	"net/http"
	"time"

	"flock/pkg/chat"
	"flock/pkg/identity"
	"flock/pkg/validation"
)

// longPollWait bounds client long polls (typing, updates, notification
// hold).
const longPollWait = 60 * time.Second

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	const action = "getuser"
	var req struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.UID == "" {
		fail(w, action, codeNoUser)
		return
	}
	p, err := s.profiles.Get(req.UID)
	if err != nil {
		fail(w, action, codeNoUser)
		return
	}
	if identity.IsServerToken(actor) && s.fed != nil {
		s.fed.SubscribePeerProfile(actor, p)
	}
	data(w, action, p.Data())
}

func (s *Server) handleEditProfile(w http.ResponseWriter, r *http.Request) {
	const action = "editprofile"
	var req struct {
		Token   string `json:"token"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Bio     string `json:"bio"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if !validation.ValidName(req.Name) || !validation.ValidInfo(req.Bio) {
		fail(w, action, codeInvalid)
		return
	}
	p, err := s.profiles.Get(uid)
	if err != nil {
		fail(w, action, codeNoUser)
		return
	}
	p.Edit(req.Name, req.Picture, req.Bio)
	ok(w, action)
}

func (s *Server) handleGetOnline(w http.ResponseWriter, r *http.Request) {
	const action = "getonline"
	var req struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	if _, okActor := s.actor(req.Token); !okActor {
		fail(w, action, codeADenied)
		return
	}
	p, err := s.profiles.Get(req.UID)
	if err != nil {
		fail(w, action, codeNoUser)
		return
	}
	data(w, action, map[string]string{"status": p.Status()})
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	const action = "setonline"
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
	p, err := s.profiles.Get(uid)
	if err != nil {
		fail(w, action, codeNoUser)
		return
	}
	p.SetOnline()
	ok(w, action)
}

func (s *Server) handleSetTyping(w http.ResponseWriter, r *http.Request) {
	const action = "settyping"
	var req struct {
		Token  string `json:"token"`
		ChatID string `json:"chatid"`
		Typing bool   `json:"typing"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, uid)
	if !okChat {
		return
	}
	if !c.CanDo(uid, chat.ActionSend, "") {
		fail(w, action, codeADenied)
		return
	}
	c.SetTyping(uid, req.Typing)
	ok(w, action)
}

func (s *Server) handleGetTyping(w http.ResponseWriter, r *http.Request) {
	const action = "gettyping"
	var req struct {
		Token   string `json:"token"`
		ChatID  string `json:"chatid"`
		Updater bool   `json:"updater"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	actor, okActor := s.actor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, actor)
	if !okChat {
		return
	}
	users := c.TypingUsers()
	if req.Updater {
		users = c.WaitForTyping(longPollWait)
	}
	data(w, action, users)
}
