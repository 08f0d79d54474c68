package identity

import (
	"slices"
	"time"
)

const (
	RoleHost      = "host"
	RoleModerator = "moderator"
	// RoleService marks backend callers that act on behalf of other users.
	RoleService = "service"
)

// TokenContext is the verified identity of a caller.
type TokenContext struct {
	UserID    string    `json:"user:id"`
	Subject   string    `json:"sub"`
	Issuer    string    `json:"iss,omitempty"`
	Audience  []string  `json:"aud,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`

	// Dev is set for identities taken from the development fallback.
	Dev bool `json:"-"`
}

func (t *TokenContext) HasRole(role string) bool {
	return slices.Contains(t.Roles, role)
}
