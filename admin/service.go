// Package admin holds the internal linking/administration operations. Every
// operation runs behind the pre-shared-secret trust boundary enforced at the
// HTTP layer; nothing here re-checks caller authentication.
package admin

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agilehead/persona/identity"
	apperrors "github.com/agilehead/persona/internal/errors"
	"github.com/agilehead/persona/token"
)

// LinkResult is the outcome of linking an identity to a downstream user: the
// updated identity plus a fresh token pair reflecting the new claims.
type LinkResult struct {
	Identity *identity.Identity  `json:"identity"`
	Tokens   *token.IssuedTokens `json:"tokens"`
}

// Service implements the service-to-service identity administration
// operations.
type Service struct {
	identities identity.Repo
	tokens     *token.Manager
}

func NewService(identities identity.Repo, tokens *token.Manager) (*Service, error) {
	if identities == nil {
		return nil, errors.New("[admin.NewService] identity repo is required")
	}
	if tokens == nil {
		return nil, errors.New("[admin.NewService] token manager is required")
	}
	return &Service{identities: identities, tokens: tokens}, nil
}

// LinkIdentityToUser sets the identity's downstream user id and role set, then
// mints a fresh token pair (new session) carrying the updated claims. The
// tenant is intrinsic to the identity row; no tenant selector is consulted.
func (s *Service) LinkIdentityToUser(ctx context.Context, identityID, userID string, roles []string) (*LinkResult, error) {
	if identityID == "" || userID == "" {
		return nil, apperrors.ErrInvalidInput
	}

	ident, err := s.identities.Link(ctx, identityID, userID, roles)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[Service.LinkIdentityToUser] identities.Link")
	}

	issued, err := s.tokens.Issue(ctx, ident, "", "")
	if err != nil {
		return nil, errors.Wrap(err, "[Service.LinkIdentityToUser] tokens.Issue")
	}

	log.Info().
		Str("tenant", ident.TenantID).
		Str("identity_id", ident.ID).
		Str("user_id", userID).
		Msg("identity linked to user")

	return &LinkResult{Identity: ident, Tokens: issued}, nil
}

// UpdateUserRoles replaces the role set on every identity matching
// (tenant, userID) and returns the count of rows affected. Zero affected rows
// is a valid outcome, not an error.
func (s *Service) UpdateUserRoles(ctx context.Context, tenantID, userID string, roles []string) (int, error) {
	if tenantID == "" || userID == "" {
		return 0, apperrors.ErrInvalidInput
	}

	count, err := s.identities.UpdateRolesForUser(ctx, tenantID, userID, roles)
	if err != nil {
		return 0, errors.Wrap(err, "[Service.UpdateUserRoles] identities.UpdateRolesForUser")
	}
	return count, nil
}

// RevokeUserSessions revokes every session of every identity sharing
// (tenant, userID) and returns the count revoked.
func (s *Service) RevokeUserSessions(ctx context.Context, tenantID, userID string) (int, error) {
	if tenantID == "" || userID == "" {
		return 0, apperrors.ErrInvalidInput
	}

	count, err := s.tokens.RevokeAllForUser(ctx, tenantID, userID)
	if err != nil {
		return 0, errors.Wrap(err, "[Service.RevokeUserSessions] tokens.RevokeAllForUser")
	}
	return count, nil
}
