package session

import (
	"context"
	"time"
)

// Repo is the storage contract for refresh-token sessions. Implementations
// must surface a token-hash collision as errors.ErrAlreadyExists and a missing
// row as errors.ErrNotFound. Revocation is monotonic: once revoked, a session
// never transitions back.
type Repo interface {
	// Create inserts a new session, assigning ID and created timestamp when
	// unset.
	Create(ctx context.Context, sess *Session) error

	// GetByID fetches one session by its opaque id.
	GetByID(ctx context.Context, id string) (*Session, error)

	// GetByTokenHash fetches the session backing the given refresh-token hash.
	GetByTokenHash(ctx context.Context, hash string) (*Session, error)

	// Revoke marks one session revoked. Revoking an already revoked session
	// succeeds without effect.
	Revoke(ctx context.Context, id string) error

	// RevokeAllForIdentity revokes every unrevoked session owned by the given
	// identity, returning the number revoked.
	RevokeAllForIdentity(ctx context.Context, identityID string) (int, error)

	// DeleteExpired removes every session with expires_at before now,
	// regardless of revocation state, returning the number deleted. Idempotent.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
