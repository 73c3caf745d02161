package models

// Reaction records a single user's reaction on a message.
type Reaction struct {
	Reaction string `json:"reaction"`
	SenderID string `json:"senderUID"`
	SendTime string `json:"sendTime"`
}

// ReactionTable maps emoji -> user id -> reaction record.
type ReactionTable map[string]map[string]Reaction

// Prune drops empty per-emoji buckets. Call after removing entries.
func (rt ReactionTable) Prune() {
	for emoji, users := range rt {
		if len(users) == 0 {
			delete(rt, emoji)
		}
	}
}

// Add inserts a reaction, creating the bucket when needed.
func (rt ReactionTable) Add(emoji, user string, r Reaction) {
	if rt[emoji] == nil {
		rt[emoji] = map[string]Reaction{}
	}
	rt[emoji][user] = r
}

// Remove deletes a user's reaction from a bucket; reports whether it was set.
func (rt ReactionTable) Remove(emoji, user string) bool {
	users, ok := rt[emoji]
	if !ok {
		return false
	}
	if _, ok := users[user]; !ok {
		return false
	}
	delete(users, user)
	rt.Prune()
	return true
}

// ReadReceipt marks one user's read of a message.
type ReadReceipt struct {
	UserID   string `json:"userID"`
	ReadTime string `json:"readTime"`
}

// Message is a stored chat message. The message id is the decimal journal
// cursor it was created under; it lives in the chat's ordered index, not in
// the stored value.
type Message struct {
	SenderID        string        `json:"senderUID"`
	Content         string        `json:"content"`
	SendTime        string        `json:"sendTime"`
	ReplyMessageID  string        `json:"replyMessageID,omitempty"`
	Files           []string      `json:"files,omitempty"`
	ForwardedFromID string        `json:"forwardedFromUID,omitempty"`
	Reactions       ReactionTable `json:"reactions,omitempty"`
	IsPinned        bool          `json:"isPinned,omitempty"`
	MentionIDs      []string      `json:"mentionUIDs,omitempty"`
	ReadByIDs       []ReadReceipt `json:"readByUIDs,omitempty"`
	IsEdited        bool          `json:"isEdited,omitempty"`
	EditTime        string        `json:"editTime,omitempty"`
}

// ReadBy reports whether the user already read the message.
func (m *Message) ReadBy(user string) bool {
	for _, r := range m.ReadByIDs {
		if r.UserID == user {
			return true
		}
	}
	return false
}

// Mentions reports whether the user is mentioned by the message.
func (m *Message) Mentions(user string) bool {
	for _, id := range m.MentionIDs {
		if id == user {
			return true
		}
	}
	return false
}

// FormattedMessage is a Message enriched for delivery: message id, a reply
// preview and media lists grouped from the file URLs.
type FormattedMessage struct {
	Message
	ID                   string        `json:"id"`
	ReplyMessageContent  string        `json:"replyMessageContent,omitempty"`
	ReplyMessageSenderID string        `json:"replyMessageSenderUID,omitempty"`
	Images               []string      `json:"gImages,omitempty"`
	Videos               []string      `json:"gVideos,omitempty"`
	Audio                []string      `json:"gAudio,omitempty"`
	OtherFiles           []string      `json:"gFiles,omitempty"`
	ReadBy               []ReadReceipt `json:"readBy,omitempty"`
}
