package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"flock/pkg/auth"
	"flock/pkg/models"
	"flock/pkg/store"
)

// newUID mints a user or group id. Ids must stay free of the characters
// the identity grammar assigns meaning to ('@', '-', ':', '.').
func newUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	const action = "signup"
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	if !s.allowSignups {
		fail(w, action, codeADenied)
		return
	}
	if !auth.ValidEmail(req.Email) {
		fail(w, action, codeWEFormat)
		return
	}
	if !auth.ValidPassword(req.Password) {
		fail(w, action, codeWPFormat)
		return
	}
	if _, exists, _ := store.GetLogin(req.Email); exists {
		fail(w, action, codeUserExists)
		return
	}

	uid := newUID()
	if err := store.SaveLogin(req.Email, store.Login{
		UserID:       uid,
		PasswordHash: auth.HashPassword(uid, req.Password),
	}); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	name := req.Name
	if name == "" {
		name = "New user"
	}
	if _, err := s.profiles.Create(uid, models.Profile{Name: name}); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	token, err := auth.CreateSession(uid)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	data(w, action, map[string]string{"status": "ok", "token": token, "uid": uid})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	const action = "login"
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	login, ok, err := store.GetLogin(req.Email)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	if !ok || !auth.VerifyPassword(login.UserID, req.Password, login.PasswordHash) {
		fail(w, action, codeWrongLogin)
		return
	}
	token, err := auth.CreateSession(login.UserID)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	data(w, action, map[string]string{"status": "ok", "token": token, "uid": login.UserID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	const action = "logout"
	var req struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	if _, ok := s.userActor(req.Token); !ok {
		fail(w, action, codeADenied)
		return
	}
	_ = auth.Logout(req.Token)
	s.sessions.Drop(req.Token)
	ok(w, action)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	const action = "changepassword"
	var req struct {
		Token       string `json:"token"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		NewPassword string `json:"newpassword"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	login, exists, err := store.GetLogin(req.Email)
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	if !exists || login.UserID != uid ||
		!auth.VerifyPassword(uid, req.Password, login.PasswordHash) {
		fail(w, action, codeWrongLogin)
		return
	}
	if !auth.ValidPassword(req.NewPassword) {
		fail(w, action, codeWPFormat)
		return
	}
	login.PasswordHash = auth.HashPassword(uid, req.NewPassword)
	if err := store.SaveLogin(req.Email, login); err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	ok(w, action)
}

func (s *Server) handleGetSessionInfo(w http.ResponseWriter, r *http.Request) {
	const action = "getsessioninfo"
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
	data(w, action, map[string]string{"uid": uid})
}
