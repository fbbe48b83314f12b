package server

import (
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"

	"github.com/agilehead/persona/auth"
)

const (
	flowCookieName    = "persona_auth_flow"
	accessCookieName  = "persona_access_token"
	refreshCookieName = "persona_refresh_token"

	tokenCookieMaxAge = 30 * 24 * 60 * 60 // 30 days, in seconds
)

// CookieManager is the transport-layer storage for the OAuth flow state and
// issued tokens. Flow state is written as one signed (and, when a block key is
// configured, encrypted) http-only cookie with a 10-minute validity window
// enforced at decode time; there is no server-side copy.
type CookieManager struct {
	codec      *securecookie.SecureCookie
	production bool
}

// NewCookieManager builds the cookie codec. hashKey is required; blockKey is
// optional and enables encryption of the flow payload.
func NewCookieManager(hashKey, blockKey []byte, production bool) (*CookieManager, error) {
	if len(hashKey) == 0 {
		return nil, errors.New("[NewCookieManager] hash key is required")
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(auth.FlowTTL.Seconds()))
	return &CookieManager{codec: codec, production: production}, nil
}

// WriteFlow persists the flow state for the duration of the login handshake.
func (c *CookieManager) WriteFlow(w http.ResponseWriter, flow *auth.FlowState) error {
	encoded, err := c.codec.Encode(flowCookieName, flow)
	if err != nil {
		return errors.Wrap(err, "[CookieManager.WriteFlow] encode")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.FlowTTL.Seconds()),
	})
	return nil
}

// ReadAndClearFlow reads the flow state back and clears the cookie
// unconditionally, whether or not decoding succeeded. A missing, expired, or
// tampered cookie returns nil flow state.
func (c *CookieManager) ReadAndClearFlow(w http.ResponseWriter, r *http.Request) *auth.FlowState {
	defer c.clearCookie(w, flowCookieName)

	cookie, err := r.Cookie(flowCookieName)
	if err != nil {
		return nil
	}
	var flow auth.FlowState
	if err := c.codec.Decode(flowCookieName, cookie.Value, &flow); err != nil {
		return nil
	}
	return &flow
}

// WriteTokens stores the issued credentials browser-side. Production uses
// Secure + SameSite=None so the cookies survive cross-site redirects behind
// TLS termination; development stays on Lax.
func (c *CookieManager) WriteTokens(w http.ResponseWriter, accessToken, refreshToken string) {
	c.setTokenCookie(w, accessCookieName, accessToken)
	if refreshToken != "" {
		c.setTokenCookie(w, refreshCookieName, refreshToken)
	}
}

// ClearTokens removes the credential cookies.
func (c *CookieManager) ClearTokens(w http.ResponseWriter) {
	c.clearCookie(w, accessCookieName)
	c.clearCookie(w, refreshCookieName)
}

// RefreshTokenFrom returns the refresh token carried by the request cookie,
// or empty when absent.
func (c *CookieManager) RefreshTokenFrom(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c *CookieManager) setTokenCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.production,
		SameSite: c.tokenSameSite(),
		MaxAge:   tokenCookieMaxAge,
	})
}

func (c *CookieManager) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.production,
		SameSite: c.tokenSameSite(),
		MaxAge:   -1,
	})
}

func (c *CookieManager) tokenSameSite() http.SameSite {
	if c.production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
