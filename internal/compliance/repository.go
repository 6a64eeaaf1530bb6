package compliance

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/shared"
)

// RepositoryPort defines compliance persistence. Every method is scoped to
// one organization; rows of other organizations behave as absent.
type RepositoryPort interface {
	ListFrameworks(ctx context.Context, orgID string) ([]Framework, error)
	GetFramework(ctx context.Context, orgID, id string) (Framework, error)
	CreateFramework(ctx context.Context, orgID string, in FrameworkInput) (Framework, error)

	ListRequirements(ctx context.Context, orgID, frameworkID string) ([]Requirement, error)
	CreateRequirement(ctx context.Context, orgID, frameworkID string, in RequirementInput) (Requirement, error)
	RequirementCoverage(ctx context.Context, orgID, frameworkID string) (total, compliant int, err error)

	ListControls(ctx context.Context, orgID string, filters shared.ListFilters) ([]Control, int, error)
	GetControl(ctx context.Context, orgID, id string) (Control, error)
	CreateControl(ctx context.Context, orgID string, rec ControlRecord) (Control, error)
	UpdateControl(ctx context.Context, orgID, id string, rec ControlRecord) (Control, error)
	DeleteControl(ctx context.Context, orgID, id string) error
	RecordTest(ctx context.Context, orgID, id string, outcome TestOutcome) (Control, error)
	ControlRequirementIDs(ctx context.Context, orgID, controlID string) ([]string, error)
	ReplaceControlRequirements(ctx context.Context, orgID, controlID string, requirementIDs []string) error
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const frameworkColumns = `id::text, organization_id::text, name, version, description, is_active, created_at, updated_at`

func scanFramework(row pgx.Row) (Framework, error) {
	var f Framework
	err := row.Scan(&f.ID, &f.OrganizationID, &f.Name, &f.Version, &f.Description, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	return f, shared.MapPgError(err)
}

// ListFrameworks returns active frameworks ordered by name.
func (r *Repository) ListFrameworks(ctx context.Context, orgID string) ([]Framework, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+frameworkColumns+` FROM compliance_frameworks
		WHERE organization_id = $1 AND is_active ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Framework{}
	for rows.Next() {
		f, err := scanFramework(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFramework loads one framework.
func (r *Repository) GetFramework(ctx context.Context, orgID, id string) (Framework, error) {
	return scanFramework(r.pool.QueryRow(ctx, `SELECT `+frameworkColumns+` FROM compliance_frameworks
		WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// CreateFramework inserts a framework.
func (r *Repository) CreateFramework(ctx context.Context, orgID string, in FrameworkInput) (Framework, error) {
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return scanFramework(r.pool.QueryRow(ctx, `INSERT INTO compliance_frameworks (organization_id, name, version, description, is_active)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+frameworkColumns,
		orgID, in.Name, in.Version, in.Description, active))
}

const requirementColumns = `r.id::text, r.framework_id::text, r.code, r.title, r.description, r.category, r.priority, r.created_at, r.updated_at`

func scanRequirement(row pgx.Row) (Requirement, error) {
	var q Requirement
	err := row.Scan(&q.ID, &q.FrameworkID, &q.Code, &q.Title, &q.Description, &q.Category, &q.Priority, &q.CreatedAt, &q.UpdatedAt)
	return q, shared.MapPgError(err)
}

// ListRequirements returns the requirements of a framework ordered by code.
func (r *Repository) ListRequirements(ctx context.Context, orgID, frameworkID string) ([]Requirement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requirementColumns+`
		FROM compliance_requirements r
		JOIN compliance_frameworks f ON f.id = r.framework_id
		WHERE r.framework_id = $1 AND f.organization_id = $2
		ORDER BY r.code`, frameworkID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Requirement{}
	for rows.Next() {
		q, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CreateRequirement inserts a requirement under a framework of orgID.
func (r *Repository) CreateRequirement(ctx context.Context, orgID, frameworkID string, in RequirementInput) (Requirement, error) {
	priority := in.Priority
	if priority == "" {
		priority = "medium"
	}
	return scanRequirement(r.pool.QueryRow(ctx, `WITH r AS (
			INSERT INTO compliance_requirements (framework_id, code, title, description, category, priority)
			SELECT f.id, $3, $4, $5, $6, $7 FROM compliance_frameworks f
			WHERE f.id = $1 AND f.organization_id = $2
			RETURNING *
		) SELECT `+requirementColumns+` FROM r`,
		frameworkID, orgID, in.Code, in.Title, in.Description, in.Category, priority))
}

// RequirementCoverage counts requirements of a framework and those mapped
// to at least one effective control of the same organization.
func (r *Repository) RequirementCoverage(ctx context.Context, orgID, frameworkID string) (int, int, error) {
	var total, compliant int
	err := r.pool.QueryRow(ctx, `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM control_requirements cr
				JOIN controls c ON c.id = cr.control_id
				WHERE cr.requirement_id = r.id AND c.organization_id = $2 AND c.effectiveness = 'effective'
			))
		FROM compliance_requirements r
		JOIN compliance_frameworks f ON f.id = r.framework_id
		WHERE r.framework_id = $1 AND f.organization_id = $2`, frameworkID, orgID).Scan(&total, &compliant)
	return total, compliant, err
}

const controlColumns = `id::text, organization_id::text, name, description, category, type, frequency,
	owner_id::text, status, effectiveness, effectiveness_score, last_tested, next_test_due, created_at, updated_at`

var controlSort = map[string]string{
	"name":        "name",
	"category":    "category",
	"status":      "status",
	"nextTestDue": "next_test_due",
	"lastTested":  "last_tested",
	"createdAt":   "created_at",
}

func scanControl(row pgx.Row) (Control, error) {
	var c Control
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Description, &c.Category, &c.Type, &c.Frequency,
		&c.OwnerID, &c.Status, &c.Effectiveness, &c.EffectivenessScore, &c.LastTested, &c.NextTestDue,
		&c.CreatedAt, &c.UpdatedAt)
	return c, shared.MapPgError(err)
}

// ListControls returns a filtered page of controls with the total count.
func (r *Repository) ListControls(ctx context.Context, orgID string, f shared.ListFilters) ([]Control, int, error) {
	conds := db.ScopedTo("organization_id", orgID).
		EqIf("status", f.Filter("status")).
		EqIf("category", f.Filter("category")).
		EqIf("type", f.Filter("type")).
		EqIf("effectiveness", f.Filter("effectiveness")).
		Search(f.Search, "name", "description")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM controls`+conds.Where(), conds.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := conds.Page(f.Limit, f.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+controlColumns+` FROM controls`+conds.Where()+
		db.OrderBy(f.SortBy, f.SortDir, controlSort, "created_at DESC")+page, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Control, 0, f.Limit)
	for rows.Next() {
		c, err := scanControl(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// GetControl loads one control.
func (r *Repository) GetControl(ctx context.Context, orgID, id string) (Control, error) {
	return scanControl(r.pool.QueryRow(ctx, `SELECT `+controlColumns+` FROM controls WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// CreateControl inserts a control. The owner must belong to orgID.
func (r *Repository) CreateControl(ctx context.Context, orgID string, rec ControlRecord) (Control, error) {
	if err := r.checkOwner(ctx, orgID, rec.OwnerID); err != nil {
		return Control{}, err
	}
	return scanControl(r.pool.QueryRow(ctx, `INSERT INTO controls
		(organization_id, name, description, category, type, frequency, owner_id, status, last_tested, next_test_due)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+controlColumns,
		orgID, rec.Name, rec.Description, rec.Category, rec.Type, rec.Frequency, rec.OwnerID, rec.Status,
		rec.LastTested, rec.NextTestDue))
}

// UpdateControl replaces the editable fields of a control.
func (r *Repository) UpdateControl(ctx context.Context, orgID, id string, rec ControlRecord) (Control, error) {
	if err := r.checkOwner(ctx, orgID, rec.OwnerID); err != nil {
		return Control{}, err
	}
	return scanControl(r.pool.QueryRow(ctx, `UPDATE controls SET
			name = $3, description = $4, category = $5, type = $6, frequency = $7, owner_id = $8,
			status = $9, last_tested = $10, next_test_due = $11, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+controlColumns,
		id, orgID, rec.Name, rec.Description, rec.Category, rec.Type, rec.Frequency, rec.OwnerID,
		rec.Status, rec.LastTested, rec.NextTestDue))
}

// DeleteControl removes a control; evidence and mappings cascade.
func (r *Repository) DeleteControl(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM controls WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RecordTest stores a test outcome on the control.
func (r *Repository) RecordTest(ctx context.Context, orgID, id string, o TestOutcome) (Control, error) {
	return scanControl(r.pool.QueryRow(ctx, `UPDATE controls SET
			effectiveness_score = $3, effectiveness = $4, last_tested = $5, next_test_due = $6, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+controlColumns,
		id, orgID, o.Score, o.Rating, o.TestedAt, o.NextTestDue))
}

// ControlRequirementIDs lists requirement ids mapped to a control.
func (r *Repository) ControlRequirementIDs(ctx context.Context, orgID, controlID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT cr.requirement_id::text FROM control_requirements cr
		JOIN controls c ON c.id = cr.control_id
		WHERE cr.control_id = $1 AND c.organization_id = $2
		ORDER BY cr.requirement_id`, controlID, orgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ReplaceControlRequirements swaps the mapping set of a control. Every
// requirement must belong to a framework of orgID.
func (r *Repository) ReplaceControlRequirements(ctx context.Context, orgID, controlID string, requirementIDs []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id::text FROM controls WHERE id = $1 AND organization_id = $2 FOR UPDATE`,
			controlID, orgID).Scan(&locked); err != nil {
			return shared.MapPgError(err)
		}
		var owned int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM compliance_requirements r
			JOIN compliance_frameworks f ON f.id = r.framework_id
			WHERE r.id = ANY($1::uuid[]) AND f.organization_id = $2`, requirementIDs, orgID).Scan(&owned); err != nil {
			return err
		}
		if owned != len(requirementIDs) {
			return fmt.Errorf("%w: unknown requirement", shared.ErrValidation)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM control_requirements WHERE control_id = $1`, controlID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO control_requirements (control_id, requirement_id)
			SELECT $1, unnest($2::uuid[])`, controlID, requirementIDs)
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
