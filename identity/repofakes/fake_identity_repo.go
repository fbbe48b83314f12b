package identityrepofakes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agilehead/persona/identity"
	"github.com/agilehead/persona/internal/errors"
)

var _ identity.Repo = (*FakeIdentityRepo)(nil)

// FakeIdentityRepo is an in-memory identity.Repo for tests and development.
type FakeIdentityRepo struct {
	identities map[string]*identity.Identity // keyed by id
	naturalKey map[string]string             // (tenant,provider,subject) -> id
	lock       sync.RWMutex
}

func NewFakeIdentityRepo() *FakeIdentityRepo {
	return &FakeIdentityRepo{
		identities: make(map[string]*identity.Identity),
		naturalKey: make(map[string]string),
	}
}

func naturalKey(tenantID, provider, providerUserID string) string {
	return tenantID + "\x00" + provider + "\x00" + providerUserID
}

func (r *FakeIdentityRepo) Create(ctx context.Context, ident *identity.Identity) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := naturalKey(ident.TenantID, ident.Provider, ident.ProviderUserID)
	if _, exists := r.naturalKey[key]; exists {
		return errors.ErrAlreadyExists
	}
	if ident.ID == "" {
		ident.ID = uuid.New().String()
	}
	now := time.Now()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now

	stored := cloneIdentity(ident)
	r.identities[ident.ID] = stored
	r.naturalKey[key] = ident.ID
	return nil
}

func (r *FakeIdentityRepo) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	ident, ok := r.identities[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return cloneIdentity(ident), nil
}

func (r *FakeIdentityRepo) GetByProviderSubject(ctx context.Context, tenantID, provider, providerUserID string) (*identity.Identity, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.naturalKey[naturalKey(tenantID, provider, providerUserID)]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return cloneIdentity(r.identities[id]), nil
}

func (r *FakeIdentityRepo) Link(ctx context.Context, id, userID string, roles []string) (*identity.Identity, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ident, ok := r.identities[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	ident.UserID = userID
	ident.Roles = append([]string(nil), roles...)
	ident.UpdatedAt = time.Now()
	return cloneIdentity(ident), nil
}

func (r *FakeIdentityRepo) ListByUser(ctx context.Context, tenantID, userID string) ([]*identity.Identity, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []*identity.Identity
	for _, ident := range r.identities {
		if ident.TenantID == tenantID && ident.UserID == userID && userID != "" {
			out = append(out, cloneIdentity(ident))
		}
	}
	return out, nil
}

func (r *FakeIdentityRepo) UpdateRolesForUser(ctx context.Context, tenantID, userID string, roles []string) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for _, ident := range r.identities {
		if ident.TenantID == tenantID && ident.UserID == userID && userID != "" {
			ident.Roles = append([]string(nil), roles...)
			ident.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

func cloneIdentity(ident *identity.Identity) *identity.Identity {
	copied := *ident
	copied.Roles = append([]string(nil), ident.Roles...)
	if ident.Metadata != nil {
		copied.Metadata = make(map[string]any, len(ident.Metadata))
		for k, v := range ident.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
