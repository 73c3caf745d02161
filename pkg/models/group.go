package models

// Role is a named capability set inside a group. AdminOrder 0 is the
// owner-most rank; larger numbers rank lower.
type Role struct {
	AdminOrder            int  `json:"AdminOrder"`
	AllowMessageDeleting  bool `json:"AllowMessageDeleting"`
	AllowEditingSettings  bool `json:"AllowEditingSettings"`
	AllowKicking          bool `json:"AllowKicking"`
	AllowBanning          bool `json:"AllowBanning"`
	AllowSending          bool `json:"AllowSending"`
	AllowEditingUsers     bool `json:"AllowEditingUsers"`
	AllowPinningMessages  bool `json:"AllowPinningMessages"`
	AllowSendingReactions bool `json:"AllowSendingReactions"`
}

// AllAllowed returns a role at the given rank with every capability set.
func AllAllowed(order int) Role {
	return Role{
		AdminOrder:            order,
		AllowMessageDeleting:  true,
		AllowEditingSettings:  true,
		AllowKicking:          true,
		AllowBanning:          true,
		AllowSending:          true,
		AllowEditingUsers:     true,
		AllowPinningMessages:  true,
		AllowSendingReactions: true,
	}
}

// VisitorRole is what a non-member sees when asking for its role in a
// public group: rank below everyone, nothing allowed.
func VisitorRole() Role {
	return Role{AdminOrder: -1}
}

// DefaultRoles is the role set assigned to newly created groups.
func DefaultRoles() map[string]Role {
	owner := AllAllowed(0)
	admin := AllAllowed(1)
	moderator := AllAllowed(2)
	moderator.AllowEditingSettings = false
	moderator.AllowEditingUsers = false
	normal := Role{AdminOrder: 3, AllowSending: true, AllowSendingReactions: true}
	readonly := Role{AdminOrder: 4, AllowSendingReactions: true}
	return map[string]Role{
		"Owner":     owner,
		"Admin":     admin,
		"Moderator": moderator,
		"Normal":    normal,
		"Readonly":  readonly,
	}
}

// GroupMember ties a user to a role inside a group.
type GroupMember struct {
	UserID   string `json:"userID"`
	Role     string `json:"role"`
	JoinTime string `json:"joinTime"`
}

// Group is a chat room with membership and a role table.
type Group struct {
	Name          string                 `json:"name"`
	Picture       string                 `json:"picture,omitempty"`
	Info          string                 `json:"info,omitempty"`
	CreatorID     string                 `json:"creatorUID"`
	CreationTime  string                 `json:"creationTime"`
	IsPublic      bool                   `json:"isPublic"`
	Members       map[string]GroupMember `json:"members"`
	Roles         map[string]Role        `json:"roles"`
	BannedMembers []string               `json:"bannedMembers,omitempty"`
}

// GroupInfo is the public summary of a group.
type GroupInfo struct {
	Name        string `json:"name"`
	Picture     string `json:"picture,omitempty"`
	Info        string `json:"info,omitempty"`
	IsPublic    bool   `json:"isPublic"`
	MemberCount int    `json:"membercount"`
}

// GroupUpdate is the settings payload broadcast to group subscribers
// after an edit. UserID is the member that made the change.
type GroupUpdate struct {
	Name     string          `json:"name"`
	Picture  string          `json:"picture,omitempty"`
	Info     string          `json:"info,omitempty"`
	IsPublic bool            `json:"isPublic"`
	Roles    map[string]Role `json:"roles,omitempty"`
	UserID   string          `json:"userID"`
}

// IsBanned reports whether the user id is on the banned list.
func (g *Group) IsBanned(user string) bool {
	for _, id := range g.BannedMembers {
		if id == user {
			return true
		}
	}
	return false
}

// Summary returns the group's public summary.
func (g *Group) Summary() GroupInfo {
	return GroupInfo{
		Name:        g.Name,
		Picture:     g.Picture,
		Info:        g.Info,
		IsPublic:    g.IsPublic,
		MemberCount: len(g.Members),
	}
}
