package api

import (
	"net/http"

	"flock/pkg/chat"
	"flock/pkg/identity"
	"flock/pkg/models"
)

// chatPageSize is the page size of getchatpage.
const chatPageSize = 48

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	const action = "getmessages"
	var req struct {
		Token    string `json:"token"`
		ChatID   string `json:"chatid"`
		Messages string `json:"messages"`
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
	if req.Messages == "" {
		data(w, action, c.FormatAll())
		return
	}
	data(w, action, c.GetMessages(req.Messages))
}

func (s *Server) handleGetChatPage(w http.ResponseWriter, r *http.Request) {
	const action = "getchatpage"
	var req struct {
		Token  string `json:"token"`
		ChatID string `json:"chatid"`
		Page   int    `json:"page"`
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
	if req.Page < 0 {
		fail(w, action, codeInvalid)
		return
	}
	data(w, action, c.GetMessages(chat.PageSpec(req.Page, chatPageSize)))
}

func (s *Server) handleGetPinnedMessages(w http.ResponseWriter, r *http.Request) {
	const action = "getpinnedmessages"
	var req struct {
		Token  string `json:"token"`
		ChatID string `json:"chatid"`
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
	data(w, action, c.GetPinnedMessages())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	const action = "sendmessage"
	var req struct {
		Token   string `json:"token"`
		ChatID  string `json:"chatid"`
		Message struct {
			Content        string   `json:"content"`
			ReplyMessageID string   `json:"replyMessageID"`
			Files          []string `json:"files"`
		} `json:"message"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.Message.Content == "" && len(req.Message.Files) == 0 {
		fail(w, action, codeInvalid)
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
	id := c.SendMessage(&models.Message{
		SenderID:       uid,
		Content:        req.Message.Content,
		SendTime:       models.Now(),
		ReplyMessageID: req.Message.ReplyMessageID,
		Files:          req.Message.Files,
	}, true, "")
	data(w, action, map[string]string{"status": "ok", "id": id})
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	const action = "editmessage"
	var req struct {
		Token   string `json:"token"`
		ChatID  string `json:"chatid"`
		MsgID   string `json:"msgid"`
		Content string `json:"content"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.MsgID == "" {
		fail(w, action, codeNoID)
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, uid)
	if !okChat {
		return
	}
	if !c.CanDo(uid, chat.ActionEdit, req.MsgID) {
		fail(w, action, codeADenied)
		return
	}
	c.EditMessage(req.MsgID, req.Content)
	ok(w, action)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	const action = "deletemessage"
	var req struct {
		Token  string   `json:"token"`
		ChatID string   `json:"chatid"`
		MsgIDs []string `json:"msgids"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if len(req.MsgIDs) == 0 {
		fail(w, action, codeNoID)
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, uid)
	if !okChat {
		return
	}
	for _, id := range req.MsgIDs {
		if c.CanDo(uid, chat.ActionDelete, id) {
			c.DeleteMessage(id)
		}
	}
	ok(w, action)
}

func (s *Server) handleReadMessage(w http.ResponseWriter, r *http.Request) {
	const action = "readmessage"
	var req struct {
		Token  string   `json:"token"`
		ChatID string   `json:"chatid"`
		MsgIDs []string `json:"msgids"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if len(req.MsgIDs) == 0 {
		fail(w, action, codeNoID)
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
	now := models.Now()
	for _, id := range req.MsgIDs {
		c.ReadMessage(id, uid, now)
	}
	ok(w, action)
}

func (s *Server) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	const action = "pinmessage"
	var req struct {
		Token  string   `json:"token"`
		ChatID string   `json:"chatid"`
		MsgIDs []string `json:"msgids"`
		Pinned *bool    `json:"pinned"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if len(req.MsgIDs) == 0 {
		fail(w, action, codeNoID)
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, uid)
	if !okChat {
		return
	}
	for _, id := range req.MsgIDs {
		if c.CanDo(uid, chat.ActionPin, id) {
			c.PinMessage(id, uid, req.Pinned)
		}
	}
	ok(w, action)
}

func (s *Server) handleSendReaction(w http.ResponseWriter, r *http.Request) {
	const action = "sendreaction"
	var req struct {
		Token    string `json:"token"`
		ChatID   string `json:"chatid"`
		MsgID    string `json:"msgid"`
		Reaction string `json:"reaction"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	uid, okActor := s.userActor(req.Token)
	if !okActor {
		fail(w, action, codeADenied)
		return
	}
	if req.MsgID == "" || req.Reaction == "" {
		fail(w, action, codeNoID)
		return
	}
	c, okChat := s.getChat(w, action, req.ChatID, uid)
	if !okChat {
		return
	}
	if !c.CanDo(uid, chat.ActionReact, req.MsgID) {
		fail(w, action, codeADenied)
		return
	}
	table := c.ReactMessage(req.MsgID, uid, req.Reaction, nil, models.Now())
	if table == nil {
		fail(w, action, codeNoID)
		return
	}
	data(w, action, table)
}

// handleSaveMessage copies a message into the caller's saved-messages
// chat, without notifying.
func (s *Server) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	const action = "savemessage"
	var req struct {
		Token  string `json:"token"`
		ChatID string `json:"chatid"`
		MsgID  string `json:"msgid"`
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
	msg, found := c.Message(req.MsgID)
	if !found {
		fail(w, action, codeNoID)
		return
	}
	self, err := s.engine.Chats.Get(identity.SelfChat(uid))
	if err != nil {
		fail(w, action, codeCacheErr)
		return
	}
	copied := forwardedCopy(msg, uid)
	id := self.SendMessage(&copied, false, "")
	data(w, action, map[string]string{"status": "ok", "id": id})
}

func (s *Server) handleForwardMessage(w http.ResponseWriter, r *http.Request) {
	const action = "forwardmessage"
	var req struct {
		Token    string `json:"token"`
		ChatID   string `json:"chatid"`
		MsgID    string `json:"msgid"`
		ToChatID string `json:"tochatid"`
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
	msg, found := c.Message(req.MsgID)
	if !found {
		fail(w, action, codeNoID)
		return
	}
	target, okTarget := s.getChat(w, action, req.ToChatID, uid)
	if !okTarget {
		return
	}
	if !target.CanDo(uid, chat.ActionSend, "") {
		fail(w, action, codeADenied)
		return
	}
	copied := forwardedCopy(msg, uid)
	id := target.SendMessage(&copied, true, "")
	data(w, action, map[string]string{"status": "ok", "id": id})
}

// forwardedCopy rebuilds a message as forwarded by uid: the forwarder
// becomes the sender and the original sender is kept as forwarded-from.
// Reactions, receipts and pin state do not travel.
func forwardedCopy(msg models.Message, uid string) models.Message {
	from := msg.SenderID
	if msg.ForwardedFromID != "" {
		from = msg.ForwardedFromID
	}
	return models.Message{
		SenderID:        uid,
		Content:         msg.Content,
		SendTime:        models.Now(),
		Files:           msg.Files,
		ForwardedFromID: from,
	}
}
