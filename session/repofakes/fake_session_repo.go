package sessionrepofakes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agilehead/persona/internal/errors"
	"github.com/agilehead/persona/session"
)

var _ session.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is an in-memory session.Repo for tests and development.
type FakeSessionRepo struct {
	sessions map[string]*session.Session // keyed by id
	hashes   map[string]string           // token hash -> id
	lock     sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*session.Session),
		hashes:   make(map[string]string),
	}
}

func (r *FakeSessionRepo) Create(ctx context.Context, sess *session.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.hashes[sess.TokenHash]; exists {
		return errors.ErrAlreadyExists
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	copied := *sess
	r.sessions[sess.ID] = &copied
	r.hashes[sess.TokenHash] = sess.ID
	return nil
}

func (r *FakeSessionRepo) GetByID(ctx context.Context, id string) (*session.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (r *FakeSessionRepo) GetByTokenHash(ctx context.Context, hash string) (*session.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.hashes[hash]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *r.sessions[id]
	return &copied, nil
}

func (r *FakeSessionRepo) Revoke(ctx context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return errors.ErrNotFound
	}
	sess.Revoked = true
	return nil
}

func (r *FakeSessionRepo) RevokeAllForIdentity(ctx context.Context, identityID string) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for _, sess := range r.sessions {
		if sess.IdentityID == identityID && !sess.Revoked {
			sess.Revoked = true
			count++
		}
	}
	return count, nil
}

func (r *FakeSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for id, sess := range r.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(r.sessions, id)
			delete(r.hashes, sess.TokenHash)
			count++
		}
	}
	return count, nil
}

// SetExpiry rewrites a session's expiry in place. Test helper for exercising
// revocation monotonicity against un-expired sessions.
func (r *FakeSessionRepo) SetExpiry(id string, expiresAt time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.ExpiresAt = expiresAt
	}
}
