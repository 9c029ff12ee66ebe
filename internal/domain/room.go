package domain

// Role is a team membership role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Room is a named channel, optionally owned by a team. Private rooms carry an
// explicit member set that the directory answers for.
type Room struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	TeamID    *string `json:"team_id,omitempty"`
	IsPrivate bool    `json:"is_private"`
}

// HasTeam reports whether access to the room is governed by team membership.
func (r *Room) HasTeam() bool {
	return r.TeamID != nil && *r.TeamID != ""
}

// Membership places a user on a team with a role.
type Membership struct {
	UserID string
	TeamID string
	Role   Role
}
