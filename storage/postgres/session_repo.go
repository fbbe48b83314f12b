package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	apperrors "github.com/agilehead/persona/internal/errors"
	"github.com/agilehead/persona/session"
)

var _ session.Repo = (*SessionRepo)(nil)

// SessionRepo implements session.Repo for PostgreSQL.
type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, identity_id, tenant_id, token_hash, expires_at,
       revoked, client_ip, user_agent, created_at`

func (r *SessionRepo) Create(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (
			id, identity_id, tenant_id, token_hash, expires_at,
			revoked, client_ip, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		sess.ID,
		sess.IdentityID,
		sess.TenantID,
		sess.TokenHash,
		sess.ExpiresAt,
		sess.Revoked,
		sess.ClientIP,
		sess.UserAgent,
		sess.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrAlreadyExists
		}
		return errors.Wrap(err, "[SessionRepo.Create] insert")
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &sess, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[SessionRepo.GetByID] select")
	}
	return &sess, nil
}

func (r *SessionRepo) GetByTokenHash(ctx context.Context, hash string) (*session.Session, error) {
	var sess session.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	if err := r.db.GetContext(ctx, &sess, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[SessionRepo.GetByTokenHash] select")
	}
	return &sess, nil
}

func (r *SessionRepo) Revoke(ctx context.Context, id string) error {
	// revoked never transitions back to false; the update is monotonic.
	result, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "[SessionRepo.Revoke] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[SessionRepo.Revoke] rows affected")
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) RevokeAllForIdentity(ctx context.Context, identityID string) (int, error) {
	query := `UPDATE sessions SET revoked = TRUE WHERE identity_id = $1 AND revoked = FALSE`
	result, err := r.db.ExecContext(ctx, query, identityID)
	if err != nil {
		return 0, errors.Wrap(err, "[SessionRepo.RevokeAllForIdentity] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[SessionRepo.RevokeAllForIdentity] rows affected")
	}
	return int(affected), nil
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, errors.Wrap(err, "[SessionRepo.DeleteExpired] delete")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[SessionRepo.DeleteExpired] rows affected")
	}
	return int(affected), nil
}
