package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agilehead/persona/identity"
	identityrepofakes "github.com/agilehead/persona/identity/repofakes"
	"github.com/agilehead/persona/internal/errors"
	sessionrepofakes "github.com/agilehead/persona/session/repofakes"
	"github.com/agilehead/persona/token"
)

var testSigningKey = []byte("test-signing-key-at-least-32-bytes")

type testFixture struct {
	identityRepo *identityrepofakes.FakeIdentityRepo
	sessionRepo  *sessionrepofakes.FakeSessionRepo
	manager      *token.Manager
	now          time.Time
}

func setupTestFixture(t *testing.T, options ...token.ManagerOption) *testFixture {
	t.Helper()

	ir := identityrepofakes.NewFakeIdentityRepo()
	sr := sessionrepofakes.NewFakeSessionRepo()
	now := time.Now()

	opts := append([]token.ManagerOption{
		token.WithTokenExpiry(15*time.Minute, 30*24*time.Hour),
		token.WithIssuer("persona-test"),
	}, options...)

	m, err := token.New(sr, ir, testSigningKey, opts...)
	require.NoError(t, err)

	return &testFixture{identityRepo: ir, sessionRepo: sr, manager: m, now: now}
}

func (f *testFixture) createIdentity(t *testing.T, tenantID, provider, subject string) *identity.Identity {
	t.Helper()

	ident := &identity.Identity{
		TenantID:       tenantID,
		Provider:       provider,
		ProviderUserID: subject,
		Email:          subject + "@example.com",
		Roles:          []string{},
	}
	require.NoError(t, f.identityRepo.Create(context.Background(), ident))
	return ident
}

func TestNewRequiresDependencies(t *testing.T) {
	ir := identityrepofakes.NewFakeIdentityRepo()
	sr := sessionrepofakes.NewFakeSessionRepo()

	_, err := token.New(nil, ir, testSigningKey)
	require.Error(t, err)

	_, err = token.New(sr, nil, testSigningKey)
	require.Error(t, err)

	_, err = token.New(sr, ir, nil)
	require.Error(t, err)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "203.0.113.9", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, issued.AccessToken)
	require.NotEmpty(t, issued.RefreshToken)
	require.Equal(t, int((15 * time.Minute).Seconds()), issued.ExpiresIn)
	require.NotNil(t, issued.Session)
	require.Equal(t, ident.ID, issued.Session.IdentityID)
	require.Equal(t, "t1", issued.Session.TenantID)
	require.Equal(t, "203.0.113.9", issued.Session.ClientIP)

	claims, err := f.manager.Verify(issued.AccessToken)
	require.NoError(t, err)
	require.Equal(t, ident.ID, claims.Subject)
	require.Equal(t, "t1", claims.TenantID)
	require.Equal(t, issued.Session.ID, claims.SessionID)
	require.Equal(t, ident.Email, claims.Email)
	require.Equal(t, []string{}, claims.Roles)
}

func TestIssuePersistsOnlyTokenHash(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	stored, err := f.sessionRepo.GetByID(context.Background(), issued.Session.ID)
	require.NoError(t, err)
	require.NotEqual(t, issued.RefreshToken, stored.TokenHash)
	require.Equal(t, token.HashRefreshToken(issued.RefreshToken), stored.TokenHash)
}

func TestVerifyRejectsForgedAndMalformedTokens(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	otherManager, err := token.New(f.sessionRepo, f.identityRepo, []byte("a-different-signing-key-32-bytes"))
	require.NoError(t, err)
	forged, err := otherManager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	_, err = f.manager.Verify(forged.AccessToken)
	require.ErrorIs(t, err, errors.ErrInvalidToken)

	_, err = f.manager.Verify("not.a.jwt")
	require.ErrorIs(t, err, errors.ErrInvalidToken)

	_, err = f.manager.Verify("")
	require.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestVerifyRejectsExpiredAccessToken(t *testing.T) {
	now := time.Now()
	f := setupTestFixture(t, token.WithNowFunc(func() time.Time { return now }))
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = f.manager.Verify(issued.AccessToken)
	require.ErrorIs(t, err, errors.ErrTokenExpired)
}

func TestRefreshTokenIsNotRotated(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	first, err := f.manager.ReissueAccessToken(ident, issued.Session.ID)
	require.NoError(t, err)
	second, err := f.manager.ReissueAccessToken(ident, issued.Session.ID)
	require.NoError(t, err)
	require.NotEqual(t, first, second) // fresh jti each time

	// The original refresh token still validates against the unchanged session.
	sess, err := f.manager.ValidateRefresh(context.Background(), issued.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, issued.Session.ID, sess.ID)
}

func TestValidateRefreshChecksInOrder(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	// Unknown token maps to the coarse invalid-token error.
	_, err = f.manager.ValidateRefresh(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, errors.ErrInvalidToken)

	// Revoked wins over expired.
	require.NoError(t, f.manager.Revoke(context.Background(), issued.Session.ID))
	f.sessionRepo.SetExpiry(issued.Session.ID, time.Now().Add(-time.Hour))
	_, err = f.manager.ValidateRefresh(context.Background(), issued.RefreshToken)
	require.ErrorIs(t, err, errors.ErrTokenRevoked)
}

func TestValidateRefreshRejectsExpiredSession(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	f.sessionRepo.SetExpiry(issued.Session.ID, time.Now().Add(-time.Minute))
	_, err = f.manager.ValidateRefresh(context.Background(), issued.RefreshToken)
	require.ErrorIs(t, err, errors.ErrTokenExpired)
}

func TestRevocationIsMonotonic(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	issued, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(context.Background(), issued.Session.ID))
	_, err = f.manager.ValidateRefresh(context.Background(), issued.RefreshToken)
	require.ErrorIs(t, err, errors.ErrTokenRevoked)

	// Un-expiring the session must not resurrect it.
	f.sessionRepo.SetExpiry(issued.Session.ID, time.Now().Add(time.Hour))
	_, err = f.manager.ValidateRefresh(context.Background(), issued.RefreshToken)
	require.ErrorIs(t, err, errors.ErrTokenRevoked)
}

func TestRevokeUnknownSession(t *testing.T) {
	f := setupTestFixture(t)

	err := f.manager.Revoke(context.Background(), "no-such-session")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRevokeAllForIdentityCounts(t *testing.T) {
	f := setupTestFixture(t)
	ident := f.createIdentity(t, "t1", "google", "g-1")

	_, err := f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)
	_, err = f.manager.Issue(context.Background(), ident, "", "")
	require.NoError(t, err)

	count, err := f.manager.RevokeAllForIdentity(context.Background(), ident.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Already revoked sessions are not counted again.
	count, err = f.manager.RevokeAllForIdentity(context.Background(), ident.ID)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRevokeAllForUserSumsAcrossIdentities(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	a := f.createIdentity(t, "t1", "google", "g-1")
	b := f.createIdentity(t, "t1", "github", "gh-1")
	other := f.createIdentity(t, "t2", "google", "g-1")

	_, err := f.identityRepo.Link(ctx, a.ID, "alice", []string{"user"})
	require.NoError(t, err)
	_, err = f.identityRepo.Link(ctx, b.ID, "alice", []string{"user"})
	require.NoError(t, err)
	_, err = f.identityRepo.Link(ctx, other.ID, "alice", []string{"user"})
	require.NoError(t, err)

	_, err = f.manager.Issue(ctx, a, "", "")
	require.NoError(t, err)
	_, err = f.manager.Issue(ctx, b, "", "")
	require.NoError(t, err)
	otherIssued, err := f.manager.Issue(ctx, other, "", "")
	require.NoError(t, err)

	count, err := f.manager.RevokeAllForUser(ctx, "t1", "alice")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// The same user id in another tenant is untouched.
	sess, err := f.manager.ValidateRefresh(ctx, otherIssued.RefreshToken)
	require.NoError(t, err)
	require.False(t, sess.Revoked)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	ident := f.createIdentity(t, "t1", "google", "g-1")

	expired, err := f.manager.Issue(ctx, ident, "", "")
	require.NoError(t, err)
	live, err := f.manager.Issue(ctx, ident, "", "")
	require.NoError(t, err)

	// Sweep removes expired rows even when revoked.
	require.NoError(t, f.manager.Revoke(ctx, expired.Session.ID))
	f.sessionRepo.SetExpiry(expired.Session.ID, time.Now().Add(-time.Minute))

	count, err := f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	_, err = f.manager.ValidateRefresh(ctx, live.RefreshToken)
	require.NoError(t, err)
}
