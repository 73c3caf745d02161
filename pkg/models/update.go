package models

// Update kinds carried by a chat journal.
const (
	UpdateNewMessage = "NEWMESSAGE"
	UpdateEdited     = "EDITED"
	UpdateDeleted    = "DELETED"
	UpdateReacted    = "REACTED"
	UpdateUnreacted  = "UNREACTED"
	UpdatePinned     = "PINNED"
	UpdateUnpinned   = "UNPINNED"
	UpdateRead       = "READ"
)

// UpdateEvent is one journal entry. Kind selects which of the optional
// fields are meaningful.
type UpdateEvent struct {
	Kind      string `json:"event"`
	MessageID string `json:"id,omitempty"`
	UserID    string `json:"userID,omitempty"`
	Reaction  string `json:"reaction,omitempty"`
	Content   string `json:"content,omitempty"`
	SendTime  string `json:"sendTime,omitempty"`
	EditTime  string `json:"editTime,omitempty"`
	ReadTime  string `json:"readTime,omitempty"`

	// Message carries the full formatted message on NEWMESSAGE and PINNED
	// output; it is never stored in the journal itself.
	Message *FormattedMessage `json:"message,omitempty"`
}

// References reports whether the event is about the given message id.
func (e UpdateEvent) References(msgID string) bool {
	return e.MessageID == msgID
}

// Cancels reports whether e and other are an opposing pair that compaction
// removes together: REACTED/UNREACTED for the same message, user and
// reaction, or PINNED/UNPINNED for the same message.
func (e UpdateEvent) Cancels(other UpdateEvent) bool {
	switch {
	case e.Kind == UpdateReacted && other.Kind == UpdateUnreacted,
		e.Kind == UpdateUnreacted && other.Kind == UpdateReacted:
		return e.MessageID == other.MessageID &&
			e.UserID == other.UserID &&
			e.Reaction == other.Reaction
	case e.Kind == UpdatePinned && other.Kind == UpdateUnpinned,
		e.Kind == UpdateUnpinned && other.Kind == UpdatePinned:
		return e.MessageID == other.MessageID
	}
	return false
}
