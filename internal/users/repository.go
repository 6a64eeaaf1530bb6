package users

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// RepositoryPort defines data access methods for users. Every method is
// scoped to one organization.
type RepositoryPort interface {
	List(ctx context.Context, orgID string, filters shared.ListFilters) ([]User, int, error)
	Get(ctx context.Context, orgID, id string) (User, error)
	Create(ctx context.Context, orgID string, in NewUser) (User, error)
	UpdateProfile(ctx context.Context, orgID, id, firstName, lastName string) (User, error)
	UpdateAccess(ctx context.Context, orgID, id string, role *shared.Role, active *bool) (User, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id::text, email, first_name, last_name, role, organization_id::text,
	is_active, last_login, created_at, updated_at`

var sortColumns = map[string]string{
	"email":     "email",
	"firstName": "first_name",
	"lastName":  "last_name",
	"role":      "role",
	"createdAt": "created_at",
	"lastLogin": "last_login",
}

func scan(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.OrganizationID,
		&u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	return u, shared.MapPgError(err)
}

// List returns a page of users with the total count.
func (r *Repository) List(ctx context.Context, orgID string, f shared.ListFilters) ([]User, int, error) {
	conds := db.ScopedTo("organization_id", orgID).
		EqIf("role", f.Filter("role")).
		Search(f.Search, "first_name", "last_name", "email")
	if active := f.Filter("isActive"); active == "true" || active == "false" {
		conds.Eq("is_active", active == "true")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+conds.Where(), conds.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := conds.Page(f.Limit, f.Offset())
	query := `SELECT ` + columns + ` FROM users` + conds.Where() +
		db.OrderBy(f.SortBy, f.SortDir, sortColumns, "created_at DESC") + page
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]User, 0, f.Limit)
	for rows.Next() {
		u, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// Get loads one user of the organization.
func (r *Repository) Get(ctx context.Context, orgID, id string) (User, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM users WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// Create inserts a user into the organization.
func (r *Repository) Create(ctx context.Context, orgID string, in NewUser) (User, error) {
	return scan(r.pool.QueryRow(ctx, `INSERT INTO users (email, password_hash, first_name, last_name, role, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+columns,
		in.Email, in.PasswordHash, in.FirstName, in.LastName, in.Role, orgID))
}

// UpdateProfile changes the display name.
func (r *Repository) UpdateProfile(ctx context.Context, orgID, id, firstName, lastName string) (User, error) {
	return scan(r.pool.QueryRow(ctx, `UPDATE users SET first_name = $3, last_name = $4, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, firstName, lastName))
}

// UpdateAccess changes role and active flag.
func (r *Repository) UpdateAccess(ctx context.Context, orgID, id string, role *shared.Role, active *bool) (User, error) {
	return scan(r.pool.QueryRow(ctx, `UPDATE users SET role = COALESCE($3, role), is_active = COALESCE($4, is_active), updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, role, active))
}

// ResolveAccount loads the live account behind a token subject.
func (r *Repository) ResolveAccount(ctx context.Context, userID string) (rbac.Account, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return rbac.Account{}, shared.ErrNotFound
	}
	var a rbac.Account
	err := r.pool.QueryRow(ctx, `SELECT id::text, email, first_name, last_name, role, organization_id::text, is_active
		FROM users WHERE id = $1`, userID).
		Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Role, &a.OrganizationID, &a.IsActive)
	if err != nil {
		return rbac.Account{}, shared.MapPgError(err)
	}
	if !a.IsActive {
		return a, rbac.ErrAccountInactive
	}
	return a, nil
}

var (
	_ RepositoryPort       = (*Repository)(nil)
	_ rbac.AccountResolver = (*Repository)(nil)
)
