package identity

import "context"

// Repo is the storage contract for identities. Implementations must surface a
// natural-key collision on (tenant, provider, provider_user_id) as
// errors.ErrAlreadyExists so callers can recover from concurrent inserts, and
// a missing row as errors.ErrNotFound.
type Repo interface {
	// Create inserts a new identity, assigning ID and timestamps when unset.
	Create(ctx context.Context, ident *Identity) error

	// GetByID fetches one identity by its opaque id.
	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByProviderSubject fetches the identity bound to one provider account
	// within one tenant.
	GetByProviderSubject(ctx context.Context, tenantID, provider, providerUserID string) (*Identity, error)

	// Link sets the downstream user id and replaces the role set on one
	// identity, returning the updated row.
	Link(ctx context.Context, id, userID string, roles []string) (*Identity, error)

	// ListByUser returns every identity within a tenant linked to the given
	// downstream user.
	ListByUser(ctx context.Context, tenantID, userID string) ([]*Identity, error)

	// UpdateRolesForUser replaces the role set on every identity matching
	// (tenant, userID) and returns the number of rows affected. Zero is a
	// valid outcome.
	UpdateRolesForUser(ctx context.Context, tenantID, userID string, roles []string) (int, error)
}
