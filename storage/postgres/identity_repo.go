package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/agilehead/persona/identity"
	apperrors "github.com/agilehead/persona/internal/errors"
)

var _ identity.Repo = (*IdentityRepo)(nil)

// IdentityRepo implements identity.Repo for PostgreSQL.
type IdentityRepo struct {
	db *sqlx.DB
}

func NewIdentityRepo(db *sqlx.DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// identityRow is the persistence shape of an identity. Roles are a text array
// and metadata a JSONB blob; both are repository-private encodings.
type identityRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	Provider        string         `db:"provider"`
	ProviderUserID  string         `db:"provider_user_id"`
	Email           string         `db:"email"`
	Name            string         `db:"name"`
	ProfileImageURL string         `db:"profile_image_url"`
	UserID          string         `db:"user_id"`
	Roles           pq.StringArray `db:"roles"`
	Metadata        []byte         `db:"metadata"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *identityRow) toEntity() (*identity.Identity, error) {
	ident := &identity.Identity{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Provider:        r.Provider,
		ProviderUserID:  r.ProviderUserID,
		Email:           r.Email,
		Name:            r.Name,
		ProfileImageURL: r.ProfileImageURL,
		UserID:          r.UserID,
		Roles:           append([]string{}, r.Roles...),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &ident.Metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshal metadata")
		}
	}
	return ident, nil
}

const identityColumns = `id, tenant_id, provider, provider_user_id, email, name,
       profile_image_url, user_id, roles, metadata, created_at, updated_at`

func (r *IdentityRepo) Create(ctx context.Context, ident *identity.Identity) error {
	if ident.ID == "" {
		ident.ID = uuid.New().String()
	}
	now := time.Now()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now

	var metadata []byte
	if ident.Metadata != nil {
		var err error
		metadata, err = json.Marshal(ident.Metadata)
		if err != nil {
			return errors.Wrap(err, "[IdentityRepo.Create] marshal metadata")
		}
	}

	query := `
		INSERT INTO identities (
			id, tenant_id, provider, provider_user_id, email, name,
			profile_image_url, user_id, roles, metadata, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		ident.ID,
		ident.TenantID,
		ident.Provider,
		ident.ProviderUserID,
		ident.Email,
		ident.Name,
		ident.ProfileImageURL,
		ident.UserID,
		pq.Array(ident.Roles),
		metadata,
		ident.CreatedAt,
		ident.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrAlreadyExists
		}
		return errors.Wrap(err, "[IdentityRepo.Create] insert")
	}
	return nil
}

func (r *IdentityRepo) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	var row identityRow
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[IdentityRepo.GetByID] select")
	}
	return row.toEntity()
}

func (r *IdentityRepo) GetByProviderSubject(ctx context.Context, tenantID, provider, providerUserID string) (*identity.Identity, error) {
	var row identityRow
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE tenant_id = $1 AND provider = $2 AND provider_user_id = $3
	`
	if err := r.db.GetContext(ctx, &row, query, tenantID, provider, providerUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[IdentityRepo.GetByProviderSubject] select")
	}
	return row.toEntity()
}

func (r *IdentityRepo) Link(ctx context.Context, id, userID string, roles []string) (*identity.Identity, error) {
	query := `
		UPDATE identities
		SET user_id = $1, roles = $2, updated_at = $3
		WHERE id = $4
		RETURNING ` + identityColumns
	var row identityRow
	if err := r.db.GetContext(ctx, &row, query, userID, pq.Array(roles), time.Now(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, errors.Wrap(err, "[IdentityRepo.Link] update")
	}
	return row.toEntity()
}

func (r *IdentityRepo) ListByUser(ctx context.Context, tenantID, userID string) ([]*identity.Identity, error) {
	if userID == "" {
		return nil, nil
	}

	var rows []identityRow
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at ASC
	`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, userID); err != nil {
		return nil, errors.Wrap(err, "[IdentityRepo.ListByUser] select")
	}

	out := make([]*identity.Identity, 0, len(rows))
	for i := range rows {
		ident, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, nil
}

func (r *IdentityRepo) UpdateRolesForUser(ctx context.Context, tenantID, userID string, roles []string) (int, error) {
	if userID == "" {
		return 0, nil
	}

	query := `
		UPDATE identities
		SET roles = $1, updated_at = $2
		WHERE tenant_id = $3 AND user_id = $4
	`
	result, err := r.db.ExecContext(ctx, query, pq.Array(roles), time.Now(), tenantID, userID)
	if err != nil {
		return 0, errors.Wrap(err, "[IdentityRepo.UpdateRolesForUser] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[IdentityRepo.UpdateRolesForUser] rows affected")
	}
	return int(affected), nil
}
