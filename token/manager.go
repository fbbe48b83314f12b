package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agilehead/persona/identity"
	apperrors "github.com/agilehead/persona/internal/errors"
	"github.com/agilehead/persona/session"
)

const refreshTokenBytes = 32 // 256 bits

// Claims is the payload of an access token. An access token is verified by
// signature and expiry only; it carries no revocation check of its own.
type Claims struct {
	TenantID        string   `json:"tenant"`
	UserID          string   `json:"userId,omitempty"`
	Email           string   `json:"email"`
	Name            string   `json:"name,omitempty"`
	ProfileImageURL string   `json:"profileImageUrl,omitempty"`
	Roles           []string `json:"roles"`
	SessionID       string   `json:"sessionId"`
	jwt.RegisteredClaims
}

// IssuedTokens is the result of creating a new session. RefreshToken is the
// raw refresh token, returned exactly once; only its hash is persisted.
type IssuedTokens struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int              `json:"expiresIn"` // access token lifetime in seconds
	Session      *session.Session `json:"-"`
}

// Manager issues and verifies access tokens and validates, revokes, and sweeps
// refresh-token sessions.
type Manager struct {
	sessions      session.Repo
	identities    identity.Repo
	signingKey    []byte
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	nowFunc       func() time.Time
}

type ManagerOption func(*Manager)

// WithTokenExpiry sets the access and refresh token lifetimes.
func WithTokenExpiry(accessExpiry, refreshExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessExpiry = accessExpiry
		m.refreshExpiry = refreshExpiry
	}
}

// WithIssuer sets the iss claim on minted access tokens.
func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func New(sessions session.Repo, identities identity.Repo, signingKey []byte, options ...ManagerOption) (*Manager, error) {
	if sessions == nil {
		return nil, errors.New("[token.New] session repo is required")
	}
	if identities == nil {
		return nil, errors.New("[token.New] identity repo is required")
	}
	if len(signingKey) == 0 {
		return nil, errors.New("[token.New] signing key is required")
	}

	m := &Manager{
		sessions:   sessions,
		identities: identities,
		signingKey: signingKey,
		issuer:     "persona",
		nowFunc:    time.Now,
	}

	for _, opt := range options {
		opt(m)
	}

	if m.accessExpiry == 0 {
		m.accessExpiry = DefaultExpiry
	}
	if m.refreshExpiry == 0 {
		m.refreshExpiry = 30 * 24 * time.Hour
	}
	return m, nil
}

// Issue creates a new session for the identity and mints an access token bound
// to it. clientIP and userAgent are audit-only columns on the session row.
func (m *Manager) Issue(ctx context.Context, ident *identity.Identity, clientIP, userAgent string) (*IssuedTokens, error) {
	now := m.nowFunc()

	tokenBytes := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] rand.Read")
	}
	refreshToken := hex.EncodeToString(tokenBytes)

	sess := &session.Session{
		ID:         uuid.New().String(),
		IdentityID: ident.ID,
		TenantID:   ident.TenantID,
		TokenHash:  HashRefreshToken(refreshToken),
		ExpiresAt:  now.Add(m.refreshExpiry),
		ClientIP:   clientIP,
		UserAgent:  userAgent,
		CreatedAt:  now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] sessions.Create")
	}

	accessToken, err := m.mintAccessToken(ident, sess.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] mintAccessToken")
	}

	return &IssuedTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(m.accessExpiry.Seconds()),
		Session:      sess,
	}, nil
}

// ReissueAccessToken mints a fresh access token bound to an already-valid
// session without touching the session row. The refresh token is a long-lived
// session handle, not a one-time-use artifact; it is not rotated here.
func (m *Manager) ReissueAccessToken(ident *identity.Identity, sessionID string) (string, error) {
	accessToken, err := m.mintAccessToken(ident, sessionID)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.ReissueAccessToken] mintAccessToken")
	}
	return accessToken, nil
}

// Verify checks an access token's signature and expiry. It does not consult
// the session store; callers needing live revocation state must use the
// refresh or revocation paths.
func (m *Manager) Verify(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, apperrors.ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.signingKey, nil
	}, jwt.WithTimeFunc(m.nowFunc))
	if err != nil {
		if apperrors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh hashes the presented refresh token, looks up its session,
// and applies the not-found, revoked, and expired checks in that order. An
// unknown token maps to the coarse ErrInvalidToken so callers cannot tell an
// unknown token from a hash mismatch.
func (m *Manager) ValidateRefresh(ctx context.Context, rawToken string) (*session.Session, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, apperrors.ErrInvalidToken
	}

	sess, err := m.sessions.GetByTokenHash(ctx, HashRefreshToken(rawToken))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "[Manager.ValidateRefresh] sessions.GetByTokenHash")
	}
	if sess.Revoked {
		return nil, apperrors.ErrTokenRevoked
	}
	if !sess.ExpiresAt.After(m.nowFunc()) {
		return nil, apperrors.ErrTokenExpired
	}
	return sess, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (m *Manager) AccessTokenTTL() time.Duration {
	return m.accessExpiry
}

// Revoke marks one session revoked. Revocation is monotonic.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.sessions.Revoke(ctx, sessionID); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrNotFound
		}
		return errors.Wrap(err, "[Manager.Revoke] sessions.Revoke")
	}
	return nil
}

// RevokeAllForIdentity revokes every session of one identity and returns the
// count revoked.
func (m *Manager) RevokeAllForIdentity(ctx context.Context, identityID string) (int, error) {
	count, err := m.sessions.RevokeAllForIdentity(ctx, identityID)
	if err != nil {
		return 0, errors.Wrap(err, "[Manager.RevokeAllForIdentity] sessions.RevokeAllForIdentity")
	}
	return count, nil
}

// RevokeAllForUser revokes every session of every identity sharing
// (tenant, userID). One identity's failure does not block the others; the
// returned count is the sum of successful revocations.
func (m *Manager) RevokeAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	idents, err := m.identities.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return 0, errors.Wrap(err, "[Manager.RevokeAllForUser] identities.ListByUser")
	}

	total := 0
	for _, ident := range idents {
		count, err := m.sessions.RevokeAllForIdentity(ctx, ident.ID)
		if err != nil {
			log.Warn().Err(err).Str("identity_id", ident.ID).Msg("failed to revoke sessions for identity")
			continue
		}
		total += count
	}
	return total, nil
}

// SweepExpired deletes every session past its expiry regardless of revocation
// state. Externally triggered and idempotent.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	count, err := m.sessions.DeleteExpired(ctx, m.nowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "[Manager.SweepExpired] sessions.DeleteExpired")
	}
	return count, nil
}

func (m *Manager) mintAccessToken(ident *identity.Identity, sessionID string) (string, error) {
	now := m.nowFunc()
	roles := ident.Roles
	if roles == nil {
		roles = []string{}
	}

	claims := &Claims{
		TenantID:        ident.TenantID,
		UserID:          ident.UserID,
		Email:           ident.Email,
		Name:            ident.Name,
		ProfileImageURL: ident.ProfileImageURL,
		Roles:           roles,
		SessionID:       sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   ident.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "SignedString")
	}
	return signed, nil
}

// HashRefreshToken is the one-way transform applied to refresh tokens before
// persistence. The raw token is unrecoverable from storage.
func HashRefreshToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
