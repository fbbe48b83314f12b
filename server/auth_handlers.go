package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	apperrors "github.com/agilehead/persona/internal/errors"
)

// LoginHandler starts the authorization flow. The tenant selector is resolved
// before anything else happens; a tenant violation never reaches the login
// orchestrator or storage.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := mux.Vars(r)["provider"]

		selector, present := tenantSelector(r)
		tenantID, err := s.tenants.Resolve(selector, present)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		result, err := s.login.Begin(
			r.Context(),
			providerName,
			tenantID,
			r.URL.Query().Get("returnUrl"),
			s.callbackURL(r, providerName),
		)
		if err != nil {
			logError(r, err, "login begin failed")
			writeServiceError(w, err)
			return
		}

		if err := s.cookies.WriteFlow(w, &result.Flow); err != nil {
			logError(r, err, "write flow cookie failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		http.Redirect(w, r, result.AuthorizationURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow. The flow cookie is cleared whatever
// happens, and the browser is never shown a raw error: every failure becomes a
// redirect to the default landing page with a coarse error indicator.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := mux.Vars(r)["provider"]
		flow := s.cookies.ReadAndClearFlow(w, r)

		if providerErr := r.URL.Query().Get("error"); providerErr != "" {
			logError(r, apperrors.ErrInvalidOAuthState, "provider returned error "+providerErr)
			s.redirectWithError(w, r, "login_failed")
			return
		}

		result, err := s.login.Callback(
			r.Context(),
			flow,
			r.URL.Query().Get("code"),
			r.URL.Query().Get("state"),
			s.callbackURL(r, providerName),
			clientIP(r),
			r.UserAgent(),
		)
		if err != nil {
			logError(r, err, "login callback failed")
			s.redirectWithError(w, r, "login_failed")
			return
		}

		s.cookies.WriteTokens(w, result.Tokens.AccessToken, result.Tokens.RefreshToken)

		target := result.ReturnURL
		if target == "" {
			target = s.config.DefaultRedirect
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// RefreshHandler exchanges a still-usable refresh token for a fresh access
// token. The refresh token itself is not rotated; the same value remains the
// session handle until revocation or expiry.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := s.refreshTokenFromRequest(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		sess, err := s.tokens.ValidateRefresh(r.Context(), raw)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		ident, err := s.identities.GetByID(r.Context(), sess.IdentityID)
		if err != nil {
			logError(r, err, "refresh identity lookup failed")
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		accessToken, err := s.tokens.ReissueAccessToken(ident, sess.ID)
		if err != nil {
			logError(r, err, "reissue access token failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		s.cookies.WriteTokens(w, accessToken, "")
		writeJSON(w, http.StatusOK, refreshResponse{
			AccessToken: accessToken,
			ExpiresIn:   int(s.tokens.AccessTokenTTL().Seconds()),
		})
	}
}

// LogoutHandler revokes the presented refresh token's session when it is still
// live and clears the credential cookies regardless.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if raw := s.refreshTokenFromRequest(r); raw != "" {
			if sess, err := s.tokens.ValidateRefresh(r.Context(), raw); err == nil {
				if err := s.tokens.Revoke(r.Context(), sess.ID); err != nil {
					logError(r, err, "logout revoke failed")
				}
			}
		}

		s.cookies.ClearTokens(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

// refreshTokenFromRequest prefers the cookie; a JSON body is the
// non-browser-client fallback.
func (s *Server) refreshTokenFromRequest(r *http.Request) string {
	if raw := s.cookies.RefreshTokenFrom(r); raw != "" {
		return raw
	}
	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ""
	}
	return body.RefreshToken
}

func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	target := s.config.DefaultRedirect
	if u, err := url.Parse(target); err == nil {
		q := u.Query()
		q.Set("error", code)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
