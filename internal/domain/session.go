package domain

import "github.com/google/uuid"

// Session identifies the acting party on every core operation.
// Handlers build it from the JWT claims; services never read auth
// state from anywhere else.
type Session struct {
	UserID uuid.UUID
	Role   string
}

const (
	RoleClient   = "client"
	RoleProvider = "provider"
)

func (s Session) IsClient() bool   { return s.Role == RoleClient }
func (s Session) IsProvider() bool { return s.Role == RoleProvider }
