package auth

import "context"

// ProviderClaims are the identity claims extracted from a validated provider
// token response. Raw carries the full claim set for audit metadata.
type ProviderClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
	Raw     map[string]any
}

// IdentityProvider is the external OIDC collaborator contract. Implementations
// own discovery metadata, authorization-URL construction, and the
// authorization-code-grant exchange including ID token and nonce verification.
type IdentityProvider interface {
	// Name is the stable provider identifier stored on identities,
	// e.g. "google".
	Name() string

	// AuthCodeURL builds the provider authorization endpoint redirect carrying
	// state, nonce, and the PKCE S256 code challenge. Discovery metadata is
	// fetched lazily, so this can fail on first use.
	AuthCodeURL(ctx context.Context, state, nonce, codeChallenge, redirectURL string) (string, error)

	// Exchange redeems the authorization code, presenting the PKCE verifier,
	// verifies the resulting identity assertion, and rejects a nonce mismatch.
	Exchange(ctx context.Context, code, codeVerifier, redirectURL, expectedNonce string) (*ProviderClaims, error)
}
