package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agilehead/persona/identity"
	apperrors "github.com/agilehead/persona/internal/errors"
	"github.com/agilehead/persona/token"
)

const stateLength = 32 // bytes of entropy for state, nonce, and PKCE verifier

// BeginResult is the outcome of authorization start: the provider redirect and
// the flow state the transport layer must persist for FlowTTL.
type BeginResult struct {
	AuthorizationURL string
	Flow             FlowState
}

// LoginResult is the outcome of a completed login.
type LoginResult struct {
	Identity  *identity.Identity
	Tokens    *token.IssuedTokens
	ReturnURL string // empty when no valid returnUrl was supplied at start
}

// LoginService drives the authorization-code-with-PKCE protocol against an
// external identity provider and, on success, resolves or creates a
// tenant-scoped identity and issues tokens for it.
type LoginService struct {
	identities identity.Repo
	tokens     *token.Manager
	providers  map[string]IdentityProvider
	nowTime    func() time.Time
}

// LoginServiceOption modifies the LoginService instance.
type LoginServiceOption func(*LoginService)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) LoginServiceOption {
	return func(s *LoginService) {
		s.nowTime = nowFunc
	}
}

// NewLoginService initializes a LoginService with its dependencies. At least
// one provider is required.
func NewLoginService(identities identity.Repo, tokens *token.Manager, providers []IdentityProvider, options ...LoginServiceOption) (*LoginService, error) {
	if identities == nil {
		return nil, errors.New("[NewLoginService] identity repo is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewLoginService] token manager is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("[NewLoginService] at least one provider is required")
	}

	byName := make(map[string]IdentityProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	s := &LoginService{
		identities: identities,
		tokens:     tokens,
		providers:  byName,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Provider returns the registered provider with the given name.
func (s *LoginService) Provider(name string) (IdentityProvider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Begin starts the authorization flow: it generates three independent
// high-entropy values (anti-forgery state, replay-resistant nonce, PKCE code
// verifier), derives the S256 challenge, and builds the provider redirect.
// The caller must persist the returned flow state for FlowTTL and send the
// browser to AuthorizationURL.
//
// returnURL must be a well-formed absolute URL; anything else is silently
// dropped, not rejected.
func (s *LoginService) Begin(ctx context.Context, providerName, tenantID, returnURL, redirectURL string) (*BeginResult, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, errors.Wrap(apperrors.ErrInvalidInput, "[LoginService.Begin] unknown provider "+providerName)
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidInput, "[LoginService.Begin] tenant is required")
	}

	state, err := generateRandomString(stateLength)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Begin] generate state")
	}
	nonce, err := generateRandomString(stateLength)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Begin] generate nonce")
	}
	verifier, err := generateRandomString(stateLength)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Begin] generate code verifier")
	}

	flow := FlowState{
		Provider:     providerName,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		TenantID:     tenantID,
		ReturnURL:    validReturnURL(returnURL),
	}

	authURL, err := provider.AuthCodeURL(ctx, state, nonce, codeChallengeS256(verifier), redirectURL)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Begin] build authorization URL")
	}

	return &BeginResult{
		AuthorizationURL: authURL,
		Flow:             flow,
	}, nil
}

// Callback completes the flow with the state read back from transport storage.
// It verifies the anti-forgery state, exchanges the code (presenting the PKCE
// verifier and asserting the nonce), resolves or creates the identity, and
// issues tokens. Callers map every returned error to a redirect-with-error;
// nothing here is safe to surface raw to a browser.
func (s *LoginService) Callback(ctx context.Context, flow *FlowState, code, state, redirectURL, clientIP, userAgent string) (*LoginResult, error) {
	if flow == nil || flow.State == "" || flow.CodeVerifier == "" || flow.TenantID == "" {
		return nil, apperrors.ErrInvalidOAuthState
	}
	if state == "" || state != flow.State {
		return nil, apperrors.ErrInvalidOAuthState
	}
	if code == "" {
		return nil, apperrors.ErrInvalidOAuthState
	}

	provider, ok := s.providers[flow.Provider]
	if !ok {
		return nil, apperrors.ErrInvalidOAuthState
	}

	claims, err := provider.Exchange(ctx, code, flow.CodeVerifier, redirectURL, flow.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Callback] provider exchange")
	}
	if claims == nil || claims.Subject == "" {
		return nil, apperrors.ErrMissingClaims
	}

	ident, err := s.resolveIdentity(ctx, flow.TenantID, provider.Name(), claims)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Callback] resolve identity")
	}

	issued, err := s.tokens.Issue(ctx, ident, clientIP, userAgent)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginService.Callback] issue tokens")
	}

	log.Info().
		Str("tenant", ident.TenantID).
		Str("provider", ident.Provider).
		Str("identity_id", ident.ID).
		Msg("login completed")

	return &LoginResult{
		Identity:  ident,
		Tokens:    issued,
		ReturnURL: flow.ReturnURL,
	}, nil
}

// resolveIdentity looks up the identity bound to (tenant, provider, subject),
// creating it on first login. Subsequent logins never overwrite fields; only
// explicit linking and role operations mutate identities. A concurrent create
// losing the unique-constraint race recovers by re-reading the winning row.
func (s *LoginService) resolveIdentity(ctx context.Context, tenantID, providerName string, claims *ProviderClaims) (*identity.Identity, error) {
	ident, err := s.identities.GetByProviderSubject(ctx, tenantID, providerName, claims.Subject)
	if err == nil {
		return ident, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, errors.Wrap(err, "GetByProviderSubject")
	}

	email := claims.Email
	if email == "" {
		email = identity.PlaceholderEmail(claims.Subject, providerName)
	}

	now := s.nowTime()
	created := &identity.Identity{
		TenantID:        tenantID,
		Provider:        providerName,
		ProviderUserID:  claims.Subject,
		Email:           email,
		Name:            claims.Name,
		ProfileImageURL: claims.Picture,
		Roles:           []string{},
		Metadata:        claims.Raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.identities.Create(ctx, created); err != nil {
		if apperrors.Is(err, apperrors.ErrAlreadyExists) {
			// Lost the insert race; proceed with the winning row.
			return s.identities.GetByProviderSubject(ctx, tenantID, providerName, claims.Subject)
		}
		return nil, errors.Wrap(err, "Create")
	}
	return created, nil
}

// validReturnURL keeps a caller-supplied post-login redirect target only when
// it parses as an absolute URL.
func validReturnURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}
	return raw
}
