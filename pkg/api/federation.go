package api

import (
	"errors"
	"net/http"

	"flock/pkg/federation"
	"flock/pkg/identity"
	"flock/pkg/models"
)

func (s *Server) handleFlock(w http.ResponseWriter, _ *http.Request) {
	const action = "flock"
	if s.fed == nil {
		fail(w, action, codeNoFed)
		return
	}
	data(w, action, s.fed.ServerInfo())
}

func (s *Server) handleFederationRequest(w http.ResponseWriter, r *http.Request) {
	const action = "federationrequest"
	var req models.HandshakeRequest
	if !s.decode(w, r, action, &req) {
		return
	}
	if s.fed == nil {
		fail(w, action, codeNoFed)
		return
	}
	resp, err := s.fed.AcceptHandshake(req.ServerURL)
	if err != nil {
		switch {
		case errors.Is(err, federation.ErrDisabled):
			fail(w, action, codeNoFed)
		case errors.Is(err, federation.ErrFoundSelf):
			fail(w, action, codeItsMe)
		default:
			fail(w, action, codeNoServerURL)
		}
		return
	}
	data(w, action, resp)
}

// peerActor resolves a federation request's token to a peer server name.
func (s *Server) peerActor(w http.ResponseWriter, action, token string) (string, bool) {
	actor, okActor := s.actor(token)
	if !okActor || !identity.IsServerToken(actor) {
		fail(w, action, codeADenied)
		return "", false
	}
	return actor, true
}

func (s *Server) handleFederationGetUser(w http.ResponseWriter, r *http.Request) {
	const action = "federationgetuser"
	var req struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	peer, okPeer := s.peerActor(w, action, req.Token)
	if !okPeer {
		return
	}
	if req.UID == "" || identity.IsRemote(req.UID) {
		fail(w, action, codeNoUser)
		return
	}
	p, err := s.profiles.Get(req.UID)
	if err != nil {
		fail(w, action, codeNoUser)
		return
	}
	s.fed.SubscribePeerProfile(peer, p)
	data(w, action, p.Data())
}

// handleFederationGetGroup serves a group to a peer: full contents when
// the group is public or one of the peer's users is a member, otherwise
// a bare existence record.
func (s *Server) handleFederationGetGroup(w http.ResponseWriter, r *http.Request) {
	const action = "federationgetgroup"
	var req struct {
		Token   string `json:"token"`
		GroupID string `json:"groupid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	peer, okPeer := s.peerActor(w, action, req.Token)
	if !okPeer {
		return
	}
	g, okGroup := s.getGroup(w, action, req.GroupID)
	if !okGroup {
		return
	}
	s.fed.SubscribePeerGroup(peer, g)

	full := g.PublicSnapshot()
	if !full {
		for _, uid := range g.MemberIDs() {
			if identity.Server(uid) == peer {
				full = true
				break
			}
		}
	}
	if full {
		data(w, action, g.Snapshot())
		return
	}
	info := g.Summary()
	data(w, action, models.Group{Name: info.Name, Picture: info.Picture, Info: info.Info})
}

func (s *Server) handleFederationGetChat(w http.ResponseWriter, r *http.Request) {
	const action = "federationgetchat"
	var req struct {
		Token  string `json:"token"`
		ChatID string `json:"chatid"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	peer, okPeer := s.peerActor(w, action, req.Token)
	if !okPeer {
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, peer)
	if !okChat {
		return
	}
	s.fed.SubscribePeerChat(peer, c)
	data(w, action, c.FormatAll())
}

func (s *Server) handleFederationReceiveUpdates(w http.ResponseWriter, r *http.Request) {
	const action = "federationrecieveupdates"
	var push models.UpdatePush
	if !s.decode(w, r, action, &push) {
		return
	}
	if s.fed == nil {
		fail(w, action, codeNoFed)
		return
	}
	if err := s.fed.AcceptUpdates(push); err != nil {
		switch {
		case errors.Is(err, federation.ErrDisabled):
			fail(w, action, codeNoFed)
		case errors.Is(err, federation.ErrBadLinkID):
			fail(w, action, codeIDWrong)
		default:
			fail(w, action, codeCacheErr)
		}
		return
	}
	ok(w, action)
}
