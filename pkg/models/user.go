package models

// Profile is a user's public profile. OnlineStatus is either the literal
// "online" or the formatted time the user was last seen.
type Profile struct {
	Name         string `json:"name"`
	Picture      string `json:"picture,omitempty"`
	Bio          string `json:"bio,omitempty"`
	OnlineStatus string `json:"-"`
}

// ShortProfile is the compact view sent in member lists and chat lists.
type ShortProfile struct {
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Short returns the compact view of the profile.
func (p *Profile) Short() ShortProfile {
	return ShortProfile{Name: p.Name, Picture: p.Picture}
}

// ChatItem is one entry of a user's chats list.
type ChatItem struct {
	ChatID string `json:"chatid"`
	Type   string `json:"type"` // "user" or "group"
	UserID string `json:"user,omitempty"`
	Group  string `json:"group,omitempty"`
}

// MutedChat holds per-chat notification muting. AllowTags keeps mention
// notifications on for a muted chat.
type MutedChat struct {
	AllowTags bool `json:"allowTags"`
}

// UserConfig is per-user server-side configuration.
type UserConfig struct {
	MutedChats map[string]MutedChat `json:"mutedChats,omitempty"`
}

// Notifies reports whether a message in chatID by sender that may mention
// the user should produce a notification.
func (c *UserConfig) Notifies(chatID string, mentioned bool) bool {
	if c == nil || c.MutedChats == nil {
		return true
	}
	m, ok := c.MutedChats[chatID]
	if !ok {
		return true
	}
	return m.AllowTags && mentioned
}

// Notification is a pending client notification for one message.
type Notification struct {
	ChatID  string `json:"chatID"`
	MsgID   string `json:"msgID"`
	Sender  string `json:"senderUID"`
	Content string `json:"content"`
	Time    string `json:"time"`
}
