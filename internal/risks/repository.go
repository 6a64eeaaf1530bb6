package risks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/scoring"
	"github.com/grc-saas/grc/internal/shared"
)

// RepositoryPort defines risk persistence scoped to one organization.
type RepositoryPort interface {
	List(ctx context.Context, orgID string, filters shared.ListFilters) ([]Risk, int, error)
	Export(ctx context.Context, orgID string, filters shared.ListFilters) ([]Risk, error)
	Get(ctx context.Context, orgID, id string) (Risk, error)
	Create(ctx context.Context, orgID string, rec Record) (Risk, error)
	Update(ctx context.Context, orgID, id string, rec Record) (Risk, error)
	Delete(ctx context.Context, orgID, id string) error
	ControlIDs(ctx context.Context, orgID, riskID string) ([]string, error)
	ReplaceControls(ctx context.Context, orgID, riskID string, controlIDs []string) error
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id::text, organization_id::text, title, description, category, owner_id::text, status, tolerance,
	inherent_likelihood, inherent_impact, residual_likelihood, residual_impact, review_date, created_at, updated_at`

var sortColumns = map[string]string{
	"title":         "title",
	"status":        "status",
	"category":      "category",
	"reviewDate":    "review_date",
	"inherentScore": "inherent_likelihood * inherent_impact",
	"residualScore": "residual_likelihood * residual_impact",
	"createdAt":     "created_at",
}

func scan(row pgx.Row) (Risk, error) {
	var (
		r      Risk
		rl, ri *int
	)
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Title, &r.Description, &r.Category, &r.OwnerID, &r.Status, &r.Tolerance,
		&r.Inherent.Likelihood, &r.Inherent.Impact, &rl, &ri, &r.ReviewDate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Risk{}, shared.MapPgError(err)
	}
	if rl != nil && ri != nil {
		r.Residual = &scoring.Assessment{Likelihood: *rl, Impact: *ri}
	}
	return r, nil
}

func collect(rows pgx.Rows) ([]Risk, error) {
	defer rows.Close()
	out := []Risk{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func conditions(orgID string, f shared.ListFilters) *db.Conditions {
	conds := db.ScopedTo("organization_id", orgID).
		EqIf("status", f.Filter("status")).
		EqIf("category", f.Filter("category")).
		EqIf("owner_id::text", f.Filter("ownerId")).
		Search(f.Search, "title", "description")
	if level := f.Filter("level"); level != "" {
		conds.Add(levelExpr("inherent_likelihood * inherent_impact") + " = " + conds.Arg(level))
	}
	return conds
}

// levelExpr mirrors scoring.RiskLevel in SQL so level filters run in the database.
func levelExpr(score string) string {
	return fmt.Sprintf(`CASE WHEN %[1]s <= 5 THEN 'low' WHEN %[1]s <= 10 THEN 'medium' WHEN %[1]s <= 15 THEN 'high' ELSE 'critical' END`, score)
}

// List returns a filtered page of risks and the filtered total.
func (r *Repository) List(ctx context.Context, orgID string, f shared.ListFilters) ([]Risk, int, error) {
	conds := conditions(orgID, f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM risks`+conds.Where(), conds.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := conds.Page(f.Limit, f.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM risks`+conds.Where()+
		db.OrderBy(f.SortBy, f.SortDir, sortColumns, "created_at DESC")+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

// Export returns every matching risk, highest inherent score first.
func (r *Repository) Export(ctx context.Context, orgID string, f shared.ListFilters) ([]Risk, error) {
	conds := conditions(orgID, f)
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM risks`+conds.Where()+
		` ORDER BY inherent_likelihood * inherent_impact DESC, title`, conds.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Get loads one risk.
func (r *Repository) Get(ctx context.Context, orgID, id string) (Risk, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM risks WHERE id = $1 AND organization_id = $2`, id, orgID))
}

func residualArgs(a *scoring.Assessment) (*int, *int) {
	if a == nil {
		return nil, nil
	}
	return &a.Likelihood, &a.Impact
}

// Create inserts a risk. The owner must belong to orgID.
func (r *Repository) Create(ctx context.Context, orgID string, rec Record) (Risk, error) {
	if err := r.checkOwner(ctx, orgID, rec.OwnerID); err != nil {
		return Risk{}, err
	}
	rl, ri := residualArgs(rec.Residual)
	return scan(r.pool.QueryRow(ctx, `INSERT INTO risks
		(organization_id, title, description, category, owner_id, status, tolerance,
		 inherent_likelihood, inherent_impact, residual_likelihood, residual_impact, review_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING `+columns,
		orgID, rec.Title, rec.Description, rec.Category, rec.OwnerID, rec.Status, rec.Tolerance,
		rec.Inherent.Likelihood, rec.Inherent.Impact, rl, ri, rec.ReviewDate))
}

// Update replaces the editable fields of a risk.
func (r *Repository) Update(ctx context.Context, orgID, id string, rec Record) (Risk, error) {
	if err := r.checkOwner(ctx, orgID, rec.OwnerID); err != nil {
		return Risk{}, err
	}
	rl, ri := residualArgs(rec.Residual)
	return scan(r.pool.QueryRow(ctx, `UPDATE risks SET
			title = $3, description = $4, category = $5, owner_id = $6, status = $7, tolerance = $8,
			inherent_likelihood = $9, inherent_impact = $10, residual_likelihood = $11, residual_impact = $12,
			review_date = $13, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, rec.Title, rec.Description, rec.Category, rec.OwnerID, rec.Status, rec.Tolerance,
		rec.Inherent.Likelihood, rec.Inherent.Impact, rl, ri, rec.ReviewDate))
}

// Delete removes a risk and its control mappings.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM risks WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ControlIDs lists the controls mitigating a risk.
func (r *Repository) ControlIDs(ctx context.Context, orgID, riskID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT rc.control_id::text FROM risk_controls rc
		JOIN risks r ON r.id = rc.risk_id
		WHERE rc.risk_id = $1 AND r.organization_id = $2
		ORDER BY rc.control_id`, riskID, orgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ReplaceControls swaps the mitigating controls of a risk. Every control
// must belong to orgID.
func (r *Repository) ReplaceControls(ctx context.Context, orgID, riskID string, controlIDs []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id::text FROM risks WHERE id = $1 AND organization_id = $2 FOR UPDATE`,
			riskID, orgID).Scan(&locked); err != nil {
			return shared.MapPgError(err)
		}
		var owned int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM controls WHERE id = ANY($1::uuid[]) AND organization_id = $2`,
			controlIDs, orgID).Scan(&owned); err != nil {
			return err
		}
		if owned != len(controlIDs) {
			return fmt.Errorf("%w: unknown control", shared.ErrValidation)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM risk_controls WHERE risk_id = $1`, riskID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO risk_controls (risk_id, control_id) SELECT $1, unnest($2::uuid[])`,
			riskID, controlIDs)
		return err
	})
}

func (r *Repository) checkOwner(ctx context.Context, orgID string, ownerID *string) error {
	if ownerID == nil {
		return nil
	}
	var ok bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND organization_id = $2)`,
		*ownerID, orgID).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: unknown owner", shared.ErrValidation)
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
