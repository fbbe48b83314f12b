package session

import (
	"time"
)

// Session is a refresh-token-backed authorization grant tied to exactly one
// identity. The raw refresh token is never persisted; only its one-way hash.
// TenantID is a denormalized copy of the owning identity's tenant so isolation
// queries need no join.
type Session struct {
	ID         string    `json:"id" db:"id"`
	IdentityID string    `json:"identityId" db:"identity_id"`
	TenantID   string    `json:"tenant" db:"tenant_id"`
	TokenHash  string    `json:"-" db:"token_hash"`
	ExpiresAt  time.Time `json:"expiresAt" db:"expires_at"`
	Revoked    bool      `json:"revoked" db:"revoked"`
	ClientIP   string    `json:"clientIp,omitempty" db:"client_ip"`
	UserAgent  string    `json:"userAgent,omitempty" db:"user_agent"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Usable reports whether the session is valid for refresh at the given time.
func (s *Session) Usable(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}
