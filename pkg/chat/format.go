package chat

import (
	"path"
	"strconv"
	"strings"

	"flock/pkg/identity"
	"flock/pkg/models"
)

// mentionStrings are the group-wide mention words; any of them marks the
// message as mentioning the whole chat.
var mentionStrings = []string{"room", "chat", "everyone", "all"}

// chatMention is the stored marker for a whole-chat mention.
const chatMention = "[CHAT]"

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".webm": true, ".mpeg": true, ".ogv": true, ".mov": true}
	audioExts = map[string]bool{".mp3": true, ".aac": true, ".ogg": true, ".oga": true, ".m4a": true, ".wav": true}
)

// MessageMentions extracts the mention ids of a message: "@room"-style
// whole-chat words become the [CHAT] marker, "@uid" tokens mention that
// user, and replying to a message mentions its sender.
func (c *Chat) MessageMentions(msg *models.Message) []string {
	mentions := []string{}
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			mentions = append(mentions, id)
		}
	}

	for _, word := range strings.Fields(msg.Content) {
		if !strings.HasPrefix(word, "@") {
			continue
		}
		token := strings.TrimPrefix(word, "@")
		whole := false
		for _, s := range mentionStrings {
			if strings.EqualFold(token, s) {
				whole = true
				break
			}
		}
		if whole {
			add(chatMention)
		} else {
			add(token)
		}
	}
	if msg.ReplyMessageID != "" {
		if replied, ok := c.Message(msg.ReplyMessageID); ok {
			add(replied.SenderID)
		}
	}
	return mentions
}

// formatMessageLocked builds (and caches) the delivery view of a stored
// message. Caller holds c.mu.
func (c *Chat) formatMessageLocked(id string) *models.FormattedMessage {
	if f, ok := c.format[id]; ok {
		return f
	}
	msg, ok := c.messages[id]
	if !ok {
		return nil
	}
	f := &models.FormattedMessage{Message: *msg, ID: id}
	f.ReadBy = f.Message.ReadByIDs
	f.Message.ReadByIDs = nil

	if msg.ReplyMessageID != "" {
		if replied, ok := c.messages[msg.ReplyMessageID]; ok {
			f.ReplyMessageContent = replied.Content
			f.ReplyMessageSenderID = replied.SenderID
		}
	}

	if len(msg.Files) > 0 {
		files := make([]string, len(msg.Files))
		for i, fil := range msg.Files {
			if c.engine.SelfURL != "" && strings.HasPrefix(fil, c.engine.SelfURL) {
				fil = "%SERVER%" + strings.TrimPrefix(fil, c.engine.SelfURL)
			}
			files[i] = fil
		}
		f.Message.Files = files
		for _, fil := range files {
			ext := strings.ToLower(path.Ext(fil))
			switch {
			case imageExts[ext]:
				f.Images = append(f.Images, fil)
			case videoExts[ext]:
				f.Videos = append(f.Videos, fil)
			case audioExts[ext]:
				f.Audio = append(f.Audio, fil)
			default:
				f.OtherFiles = append(f.OtherFiles, fil)
			}
		}
	}

	c.format[id] = f
	return f
}

// FormatMessage returns the delivery view of a message, or nil when it is
// unknown.
func (c *Chat) FormatMessage(id string) *models.FormattedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formatMessageLocked(id)
}

// formatUpdateLocked expands NEWMESSAGE and PINNED entries with the full
// formatted message; deleted messages leave the raw entry. Caller holds
// c.mu.
func (c *Chat) formatUpdateLocked(ev models.UpdateEvent) models.UpdateEvent {
	if ev.Kind == models.UpdateNewMessage || ev.Kind == models.UpdatePinned {
		if f := c.formatMessageLocked(ev.MessageID); f != nil {
			ev.Message = f
		}
	}
	return ev
}

// indexFromPrefixLocked resolves a "#" prefix to an index into c.ids.
// "#N" counts back from the newest message, "#^N" forward from the
// oldest; out-of-range counts clamp to the far end.
func (c *Chat) indexFromPrefixLocked(prefix string) (int, bool) {
	if len(c.ids) == 0 {
		return 0, false
	}
	body := strings.TrimPrefix(prefix, "#")
	fromOldest := strings.HasPrefix(body, "^")
	body = strings.TrimPrefix(body, "^")
	n, err := strconv.Atoi(body)
	if err != nil || n < 0 {
		return 0, false
	}
	if n >= len(c.ids) {
		n = len(c.ids) - 1
	}
	if fromOldest {
		return n, true
	}
	return len(c.ids) - 1 - n, true
}

// resolveIDLocked turns a message reference (a "#" prefix or a literal
// id) into an index into c.ids.
func (c *Chat) resolveIDLocked(ref string) (int, bool) {
	if strings.HasPrefix(ref, "#") {
		return c.indexFromPrefixLocked(ref)
	}
	for i, id := range c.ids {
		if id == ref {
			return i, true
		}
	}
	return 0, false
}

// MessageIDFromPrefix resolves a reference to a concrete message id.
func (c *Chat) MessageIDFromPrefix(ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.resolveIDLocked(ref)
	if !ok {
		return "", false
	}
	return c.ids[i], true
}

// GetMessages resolves a message range and returns the formatted
// messages keyed by id. The range is either a single reference, naming
// one message, or "A-B" naming every message between the two references
// inclusive. Returns nil when a reference cannot be resolved.
func (c *Chat) GetMessages(spec string) map[string]*models.FormattedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lo, hi int
	if a, b, isRange := splitRange(spec); isRange {
		i, ok := c.resolveIDLocked(a)
		if !ok {
			return nil
		}
		j, ok := c.resolveIDLocked(b)
		if !ok {
			return nil
		}
		lo, hi = i, j
		if lo > hi {
			lo, hi = hi, lo
		}
	} else {
		i, ok := c.resolveIDLocked(spec)
		if !ok {
			return nil
		}
		lo, hi = i, i
	}

	out := make(map[string]*models.FormattedMessage, hi-lo+1)
	for _, id := range c.ids[lo : hi+1] {
		out[id] = c.formatMessageLocked(id)
	}
	return out
}

// splitRange splits "A-B" range specs. Literal message ids never contain
// '-' (they are decimal ticks), so a dash between two non-empty halves
// always means a range.
func splitRange(spec string) (a, b string, ok bool) {
	i := strings.Index(spec, "-")
	if i <= 0 || i == len(spec)-1 {
		return "", "", false
	}
	return spec[:i], spec[i+1:], true
}

// PageSpec builds the message range reference of a page, newest page
// first, pageSize messages per page.
func PageSpec(page, pageSize int) string {
	return "#" + strconv.Itoa(page*pageSize) + "-#" + strconv.Itoa((page+1)*pageSize)
}

// FormatAll returns every message, formatted, keyed by id. Ids are
// fixed-width decimal ticks so key order is chronological.
func (c *Chat) FormatAll() map[string]*models.FormattedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*models.FormattedMessage, len(c.ids))
	for _, id := range c.ids {
		out[id] = c.formatMessageLocked(id)
	}
	return out
}

// GetPinnedMessages returns the pinned messages, formatted, keyed by id.
func (c *Chat) GetPinnedMessages() map[string]*models.FormattedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned == nil {
		c.pinned = []string{}
		for _, id := range c.ids {
			if c.messages[id].IsPinned {
				c.pinned = append(c.pinned, id)
			}
		}
	}
	out := make(map[string]*models.FormattedMessage, len(c.pinned))
	for _, id := range c.pinned {
		out[id] = c.formatMessageLocked(id)
	}
	return out
}

// previewContent crops a message's content to a one-line preview: the
// first line, at most 50 characters. System messages pass through whole
// so clients can parse their markers. Caller may hold c.mu.
func (c *Chat) previewContent(msg *models.Message) string {
	if msg.SenderID == identity.System {
		return msg.Content
	}
	content := msg.Content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	if len(content) > 50 {
		content = content[:50]
	}
	return content
}

// LastMessage returns the newest message with its content cropped to a
// preview, for chats-list rendering. Nil when the chat is empty.
func (c *Chat) LastMessage() *models.FormattedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ids) == 0 {
		return nil
	}
	id := c.ids[len(c.ids)-1]
	full := c.formatMessageLocked(id)
	if full == nil {
		return nil
	}
	crop := *full
	crop.Content = c.previewContent(&crop.Message)
	return &crop
}
