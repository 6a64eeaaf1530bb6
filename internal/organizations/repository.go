package organizations

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/shared"
)

// RepositoryPort defines organization persistence.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Organization, error)
	Update(ctx context.Context, id string, in UpdateInput) (Organization, error)
	Delete(ctx context.Context, id string) error
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id::text, name, domain, settings, created_at, updated_at`

func scan(row pgx.Row) (Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Domain, &o.Settings, &o.CreatedAt, &o.UpdatedAt)
	if o.Settings == nil {
		o.Settings = map[string]any{}
	}
	return o, shared.MapPgError(err)
}

// Get loads an organization.
func (r *Repository) Get(ctx context.Context, id string) (Organization, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM organizations WHERE id = $1`, id))
}

// Update replaces the editable fields.
func (r *Repository) Update(ctx context.Context, id string, in UpdateInput) (Organization, error) {
	var domain *string
	if d := strings.TrimSpace(in.Domain); d != "" {
		domain = &d
	}
	return scan(r.pool.QueryRow(ctx, `UPDATE organizations
		SET name = $2, domain = $3, settings = COALESCE($4, settings), updated_at = NOW()
		WHERE id = $1 RETURNING `+columns,
		id, in.Name, domain, in.Settings))
}

// Delete removes the organization and, through cascades, every row it owns.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
