package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/agilehead/persona/internal/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps core errors to HTTP responses. The three token error
// flavours deliberately collapse into one response so callers cannot probe
// whether a presented token was unknown, expired, or revoked.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case apperrors.Is(err, apperrors.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case apperrors.Is(err, apperrors.ErrTenantRequired):
		writeError(w, http.StatusBadRequest, "tenant required")
	case apperrors.Is(err, apperrors.ErrTenantNotAllowed):
		writeError(w, http.StatusBadRequest, "tenant not allowed")
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid request")
	case apperrors.Is(err, apperrors.ErrInvalidToken),
		apperrors.Is(err, apperrors.ErrTokenExpired),
		apperrors.Is(err, apperrors.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case apperrors.Is(err, apperrors.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
