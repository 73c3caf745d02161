// Package validation holds the request field checks shared by the HTTP
// handlers. Identifier rules matter for correctness, not just hygiene:
// '@' separates local ids from server names, '-' joins the two sides of a
// direct chat id, and ':' and '.' mark a token as a server name, so none
// of them may appear inside a local identifier.
package validation

import "strings"

const (
	maxIDLen   = 64
	maxNameLen = 96
	maxInfoLen = 4096
)

// reservedIDChars would change how an id parses when routed to a peer.
const reservedIDChars = "@-:. "

// ValidLocalID reports whether id is usable as a locally minted user or
// group identifier.
func ValidLocalID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	return !strings.ContainsAny(id, reservedIDChars)
}

// ValidName accepts display names for profiles, groups and roles.
func ValidName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= maxNameLen
}

// ValidInfo bounds the free-form description fields.
func ValidInfo(info string) bool {
	return len(info) <= maxInfoLen
}

// ValidRoleName rejects names that collide with the reserved ban marker.
func ValidRoleName(name string) bool {
	return ValidName(name) && name != "BANNED"
}
