package identity

import (
	"time"
)

// Identity is a tenant-scoped binding between one external OAuth account and,
// optionally, one downstream application user. The same provider account can
// exist once per tenant but independently across tenants.
type Identity struct {
	ID              string         `json:"id" db:"id"`
	TenantID        string         `json:"tenant" db:"tenant_id"`
	Provider        string         `json:"provider" db:"provider"`
	ProviderUserID  string         `json:"providerUserId" db:"provider_user_id"`
	Email           string         `json:"email" db:"email"`
	Name            string         `json:"name,omitempty" db:"name"`
	ProfileImageURL string         `json:"profileImageUrl,omitempty" db:"profile_image_url"`
	UserID          string         `json:"userId,omitempty" db:"user_id"`        // downstream user, empty until linked
	Roles           []string       `json:"roles" db:"-"`                         // ordered, semantically a set
	Metadata        map[string]any `json:"metadata,omitempty" db:"-"`            // raw provider claims
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// Linked reports whether this identity has been associated with a downstream
// application user.
func (i *Identity) Linked() bool {
	return i.UserID != ""
}

// PlaceholderEmail builds the synthetic address used when a provider omits the
// email claim. It keeps the non-null email constraint satisfiable without
// fabricating a plausible address.
func PlaceholderEmail(subject, provider string) string {
	return subject + "@" + provider + ".local"
}
