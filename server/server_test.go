package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agilehead/persona/admin"
	"github.com/agilehead/persona/auth"
	identityrepofakes "github.com/agilehead/persona/identity/repofakes"
	"github.com/agilehead/persona/internal/config"
	sessionrepofakes "github.com/agilehead/persona/session/repofakes"
	"github.com/agilehead/persona/tenant"
	"github.com/agilehead/persona/token"
)

const testInternalSecret = "internal-secret"

type stubProvider struct{}

func (p *stubProvider) Name() string { return "google" }

func (p *stubProvider) AuthCodeURL(_ context.Context, state, _, _, _ string) (string, error) {
	return "https://provider.example.com/authorize?state=" + state, nil
}

func (p *stubProvider) Exchange(_ context.Context, _, _, _, _ string) (*auth.ProviderClaims, error) {
	return &auth.ProviderClaims{Subject: "subject-1", Email: "person@example.com"}, nil
}

type testEnv struct {
	server     *Server
	identities *identityrepofakes.FakeIdentityRepo
	tokens     *token.Manager
}

func newTestEnv(t *testing.T, resolver *tenant.Resolver) *testEnv {
	t.Helper()

	identities := identityrepofakes.NewFakeIdentityRepo()
	sessions := sessionrepofakes.NewFakeSessionRepo()

	tokens, err := token.New(sessions, identities, []byte("test-signing-key"))
	require.NoError(t, err)

	login, err := auth.NewLoginService(identities, tokens, []auth.IdentityProvider{&stubProvider{}})
	require.NoError(t, err)

	adminService, err := admin.NewService(identities, tokens)
	require.NoError(t, err)

	cfg := &config.Config{
		AppName:           "Persona",
		Env:               "development",
		InternalAPISecret: testInternalSecret,
		CookieHashKey:     "0123456789abcdef0123456789abcdef",
		DefaultRedirect:   "https://app.example.com/home",
	}

	srv, err := New(cfg, login, tokens, adminService, identities, resolver)
	require.NoError(t, err)

	return &testEnv{server: srv, identities: identities, tokens: tokens}
}

func singleResolver(t *testing.T) *tenant.Resolver {
	t.Helper()
	return tenant.NewSingle("acme")
}

func multiResolver(t *testing.T) *tenant.Resolver {
	t.Helper()
	return tenant.NewMulti([]string{"t1", "t2"})
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestInternalSecretMiddleware(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	tests := []struct {
		name       string
		secret     string
		wantStatus int
	}{
		{name: "missing secret", secret: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", secret: "not-the-secret", wantStatus: http.StatusUnauthorized},
		{name: "correct secret", secret: testInternalSecret, wantStatus: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/sessions/sweep", nil)
			if tc.secret != "" {
				req.Header.Set(internalSecretHeader, tc.secret)
			}
			rec := httptest.NewRecorder()
			env.server.ServeHTTP(rec, req)
			require.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestLoginHandlerTenantBoundary(t *testing.T) {
	tests := []struct {
		name       string
		resolver   func(*testing.T) *tenant.Resolver
		target     string
		wantStatus int
	}{
		{
			name:       "single mode without selector redirects to provider",
			resolver:   singleResolver,
			target:     "/auth/google/login",
			wantStatus: http.StatusFound,
		},
		{
			name:       "single mode rejects any selector",
			resolver:   singleResolver,
			target:     "/auth/google/login?tenant=acme",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "single mode rejects empty-but-present selector",
			resolver:   singleResolver,
			target:     "/auth/google/login?tenant=",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "multi mode requires a selector",
			resolver:   multiResolver,
			target:     "/auth/google/login",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "multi mode rejects unknown tenant",
			resolver:   multiResolver,
			target:     "/auth/google/login?tenant=intruder",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "multi mode accepts allow-listed tenant",
			resolver:   multiResolver,
			target:     "/auth/google/login?tenant=t1",
			wantStatus: http.StatusFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.resolver(t))
			rec := httptest.NewRecorder()
			env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			require.Equal(t, tc.wantStatus, rec.Code)

			if tc.wantStatus == http.StatusFound {
				require.Contains(t, rec.Header().Get("Location"), "https://provider.example.com/authorize")
				require.NotEmpty(t, flowCookie(rec), "flow cookie must be set on redirect")
			}
		})
	}
}

func TestLoginHandlerUnknownProvider(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/unknown/login", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackHandlerCompletesLogin(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	// Start the flow to obtain a genuine signed flow cookie and state value.
	beginRec := httptest.NewRecorder()
	env.server.ServeHTTP(beginRec, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	require.Equal(t, http.StatusFound, beginRec.Code)

	cookie := flowCookie(beginRec)
	require.NotNil(t, cookie)
	state := stateFromLocation(t, beginRec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state="+state, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://app.example.com/home", rec.Header().Get("Location"))

	var access, refresh string
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case accessCookieName:
			access = c.Value
		case refreshCookieName:
			refresh = c.Value
		}
	}
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := env.tokens.Verify(access)
	require.NoError(t, err)
	require.Equal(t, "acme", claims.TenantID)
	require.Equal(t, "person@example.com", claims.Email)
}

func TestCallbackHandlerWithoutFlowRedirectsWithError(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=x&state=y", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "error=login_failed")
}

func TestCallbackHandlerProviderError(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "error=login_failed")
}

func TestRefreshHandler(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))
	issued := loginViaBrowser(t, env)

	t.Run("refresh with cookie reissues access token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: issued.refresh})
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body refreshResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotEmpty(t, body.AccessToken)
		require.Positive(t, body.ExpiresIn)

		claims, err := env.tokens.Verify(body.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "acme", claims.TenantID)
	})

	t.Run("refresh with JSON body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/refresh",
			strings.NewReader(`{"refreshToken":"`+issued.refresh+`"}`))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown token is a coarse 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/refresh",
			strings.NewReader(`{"refreshToken":"deadbeef"}`))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid token")
	})

	t.Run("missing token is a coarse 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/refresh", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))
	issued := loginViaBrowser(t, env)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: issued.refresh})
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	// The session is revoked: the same refresh token no longer works.
	refreshReq := httptest.NewRequest(http.MethodPost, "/auth/refresh",
		strings.NewReader(`{"refreshToken":"`+issued.refresh+`"}`))
	refreshRec := httptest.NewRecorder()
	env.server.ServeHTTP(refreshRec, refreshReq)
	require.Equal(t, http.StatusUnauthorized, refreshRec.Code)

	// Logout without a token still clears cookies and succeeds.
	bareRec := httptest.NewRecorder()
	env.server.ServeHTTP(bareRec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.Equal(t, http.StatusNoContent, bareRec.Code)
}

func TestLinkIdentityHandler(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))
	issued := loginViaBrowser(t, env)

	req := httptest.NewRequest(http.MethodPost, "/internal/identities/"+issued.identityID+"/link",
		strings.NewReader(`{"userId":"user-42","roles":["admin"]}`))
	req.Header.Set(internalSecretHeader, testInternalSecret)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result admin.LinkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "user-42", result.Identity.UserID)
	require.Equal(t, []string{"admin"}, result.Identity.Roles)
	require.NotEmpty(t, result.Tokens.AccessToken)

	claims, err := env.tokens.Verify(result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-42", claims.UserID)
	require.Equal(t, []string{"admin"}, claims.Roles)
}

func TestLinkIdentityHandlerNotFound(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))

	req := httptest.NewRequest(http.MethodPost, "/internal/identities/missing/link",
		strings.NewReader(`{"userId":"user-42","roles":[]}`))
	req.Header.Set(internalSecretHeader, testInternalSecret)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateUserRolesHandler(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))
	issued := loginViaBrowser(t, env)
	linkIdentity(t, env, issued.identityID, "user-42")

	req := httptest.NewRequest(http.MethodPut, "/internal/users/user-42/roles",
		strings.NewReader(`{"roles":["viewer"]}`))
	req.Header.Set(internalSecretHeader, testInternalSecret)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body countResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
}

func TestRevokeUserSessionsHandler(t *testing.T) {
	env := newTestEnv(t, singleResolver(t))
	issued := loginViaBrowser(t, env)
	linkIdentity(t, env, issued.identityID, "user-42")

	req := httptest.NewRequest(http.MethodPost, "/internal/users/user-42/sessions/revoke", nil)
	req.Header.Set(internalSecretHeader, testInternalSecret)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body countResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// The browser login session plus the session minted by linking.
	require.Equal(t, 2, body.Count)
}

type browserLogin struct {
	identityID string
	access     string
	refresh    string
}

// loginViaBrowser drives the full login handshake through the HTTP surface and
// returns the issued credentials.
func loginViaBrowser(t *testing.T, env *testEnv) browserLogin {
	t.Helper()

	beginRec := httptest.NewRecorder()
	env.server.ServeHTTP(beginRec, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	require.Equal(t, http.StatusFound, beginRec.Code)

	cookie := flowCookie(beginRec)
	require.NotNil(t, cookie)
	state := stateFromLocation(t, beginRec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state="+state, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	login := browserLogin{}
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case accessCookieName:
			login.access = c.Value
		case refreshCookieName:
			login.refresh = c.Value
		}
	}
	require.NotEmpty(t, login.access)
	require.NotEmpty(t, login.refresh)

	claims, err := env.tokens.Verify(login.access)
	require.NoError(t, err)
	login.identityID = claims.Subject
	return login
}

func linkIdentity(t *testing.T, env *testEnv, identityID, userID string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/internal/identities/"+identityID+"/link",
		strings.NewReader(`{"userId":"`+userID+`","roles":["member"]}`))
	req.Header.Set(internalSecretHeader, testInternalSecret)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func flowCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == flowCookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func stateFromLocation(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
