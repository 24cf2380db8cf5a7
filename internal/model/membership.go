package model

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Membership struct {
	TeamID   string     `json:"team_id"`
	UserID   string     `json:"user_id"`
	Role     Role       `json:"role"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// JoinOutcome describes the result of a join request. For free teams the
// membership is granted before the call returns; for paid teams the caller
// must follow RedirectURL and membership is granted asynchronously.
type JoinOutcome struct {
	Joined      bool   `json:"joined"`
	Pending     bool   `json:"pending"`
	RedirectURL string `json:"redirect_url,omitempty"`
}
