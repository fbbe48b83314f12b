package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/agilehead/persona/internal/errors"
)

type linkIdentityRequest struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

type updateRolesRequest struct {
	Roles []string `json:"roles"`
}

type countResponse struct {
	Count int `json:"count"`
}

// LinkIdentityHandler binds an identity to a downstream user id and returns
// the updated identity together with a fresh token pair carrying the new
// claims. The tenant is intrinsic to the identity row.
func (s *Server) LinkIdentityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID := mux.Vars(r)["id"]

		var body linkIdentityRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeServiceError(w, apperrors.ErrInvalidInput)
			return
		}

		result, err := s.admin.LinkIdentityToUser(r.Context(), identityID, body.UserID, body.Roles)
		if err != nil {
			logError(r, err, "link identity failed")
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// UpdateUserRolesHandler replaces the role set on every identity of a user
// within one tenant. Zero affected identities is a valid outcome.
func (s *Server) UpdateUserRolesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userId"]

		selector, present := tenantSelector(r)
		tenantID, err := s.tenants.Resolve(selector, present)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		var body updateRolesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeServiceError(w, apperrors.ErrInvalidInput)
			return
		}

		count, err := s.admin.UpdateUserRoles(r.Context(), tenantID, userID, body.Roles)
		if err != nil {
			logError(r, err, "update user roles failed")
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, countResponse{Count: count})
	}
}

// RevokeUserSessionsHandler revokes every live session of a user within one
// tenant and reports how many were revoked.
func (s *Server) RevokeUserSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userId"]

		selector, present := tenantSelector(r)
		tenantID, err := s.tenants.Resolve(selector, present)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		count, err := s.admin.RevokeUserSessions(r.Context(), tenantID, userID)
		if err != nil {
			logError(r, err, "revoke user sessions failed")
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, countResponse{Count: count})
	}
}

// SweepSessionsHandler deletes expired sessions. Scheduling is the caller's
// concern; the operation is idempotent.
func (s *Server) SweepSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.tokens.SweepExpired(r.Context())
		if err != nil {
			logError(r, err, "session sweep failed")
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, countResponse{Count: count})
	}
}

// HealthHandler reports process liveness. It touches no storage and requires
// no tenant or authentication.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": s.config.AppName,
		})
	}
}
