package auth

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	CreateOrganizationWithAdmin(ctx context.Context, org NewOrganization, admin NewAccount) (*User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, hash string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id::text, email, password_hash, first_name, last_name, role,
	organization_id::text, is_active, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.OrganizationID, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, shared.MapPgError(err)
	}
	return &u, nil
}

// FindByEmail fetches a user by email, case-insensitively.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// CreateOrganizationWithAdmin inserts the organization and its first admin atomically.
func (r *PGRepository) CreateOrganizationWithAdmin(ctx context.Context, org NewOrganization, admin NewAccount) (*User, error) {
	var created *User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var domain *string
		if d := strings.TrimSpace(org.Domain); d != "" {
			domain = &d
		}
		var orgID string
		if err := tx.QueryRow(ctx,
			`INSERT INTO organizations (name, domain) VALUES ($1, $2) RETURNING id::text`,
			org.Name, domain,
		).Scan(&orgID); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `INSERT INTO users (email, password_hash, first_name, last_name, role, organization_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+userColumns,
			admin.Email, admin.PasswordHash, admin.FirstName, admin.LastName, shared.RoleAdmin, orgID)
		user, err := scanUser(row)
		if err != nil {
			return err
		}
		created = user
		return nil
	})
	if err != nil {
		return nil, shared.MapPgError(err)
	}
	return created, nil
}

// TouchLastLogin records a successful login.
func (r *PGRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at.UTC())
	return err
}

// UpdatePassword replaces the stored password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
