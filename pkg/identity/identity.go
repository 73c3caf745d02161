// Package identity implements the id grammar shared by chats, users and
// federation: "0" is the system actor, "id" a local user, "id@publicName"
// a user homed on a remote server and a bare host token addresses the
// remote server itself. Chat ids follow the same shape, with "a-b" naming
// the direct chat between two users.
package identity

import "strings"

// System is the reserved server actor. It is never namespaced and never
// accepted as a message sender from a remote peer.
const System = "0"

// IsRemote reports whether an id is homed on another server.
func IsRemote(id string) bool {
	return strings.Contains(id, "@")
}

// Split breaks "id@publicName" into its parts. For a local id the server
// part is empty.
func Split(id string) (local, server string) {
	local, server, _ = strings.Cut(id, "@")
	return local, server
}

// Server returns the server part of an id, or empty for local ids.
func Server(id string) string {
	_, server := Split(id)
	return server
}

// Qualify namespaces a local id under a server's public name. The system
// actor is never qualified.
func Qualify(id, server string) string {
	if id == System || server == "" {
		return id
	}
	return id + "@" + server
}

// IsServerToken reports whether the actor token names a server rather
// than a user: it looks like a host (has ':' or '.') and carries no user
// part.
func IsServerToken(actor string) bool {
	if strings.Contains(actor, "@") {
		return false
	}
	return strings.Contains(actor, ":") || strings.Contains(actor, ".")
}

// IsDM reports whether a chat id names a direct chat.
func IsDM(chatID string) bool {
	return strings.Contains(chatID, "-")
}

// DMUsers returns the two user ids of a direct chat id.
func DMUsers(chatID string) (a, b string) {
	a, b, _ = strings.Cut(chatID, "-")
	return a, b
}

// DMID builds the direct chat id between two users.
func DMID(a, b string) string {
	return a + "-" + b
}

// SelfChat is the saved-messages chat of a user.
func SelfChat(uid string) string {
	return DMID(uid, uid)
}

// CanonicalChatID folds the per-user spelling of a remote direct chat,
// "a@s-b@s", into the suffix spelling "a-b@s" chats load and cache
// under, so the two spellings share one replica. Every other id passes
// through unchanged.
func CanonicalChatID(chatID string) string {
	if !IsDM(chatID) {
		return chatID
	}
	a, b := DMUsers(chatID)
	la, sa := Split(a)
	lb, sb := Split(b)
	if sa == "" || sa != sb {
		return chatID
	}
	return DMID(la, lb) + "@" + sa
}
