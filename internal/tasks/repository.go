package tasks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/shared"
)

// RepositoryPort defines task persistence scoped to one organization.
type RepositoryPort interface {
	List(ctx context.Context, orgID string, filters shared.ListFilters) ([]Task, int, error)
	Get(ctx context.Context, orgID, id string) (Task, error)
	Create(ctx context.Context, orgID, reporterID string, in Input) (Task, error)
	Update(ctx context.Context, orgID, id string, in Input) (Task, error)
	Delete(ctx context.Context, orgID, id string) error
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id::text, organization_id::text, title, description, type, priority, status, assignee_id::text,
	reporter_id::text, due_date, estimated_hours, actual_hours, tags, related_entity_id::text, related_entity_type,
	external_task_id, external_system, created_at, updated_at`

// priorityOrder ranks priorities the same way scoring.PriorityWeight does.
const priorityOrder = `CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, due_date ASC`

var sortColumns = map[string]string{
	"title":     "title",
	"status":    "status",
	"dueDate":   "due_date",
	"createdAt": "created_at",
}

func scan(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Title, &t.Description, &t.Type, &t.Priority, &t.Status, &t.AssigneeID,
		&t.ReporterID, &t.DueDate, &t.EstimatedHours, &t.ActualHours, &t.Tags, &t.RelatedEntityID, &t.RelatedEntityType,
		&t.ExternalTaskID, &t.ExternalSystem, &t.CreatedAt, &t.UpdatedAt)
	return t, shared.MapPgError(err)
}

// List returns a filtered page of tasks and the filtered total.
func (r *Repository) List(ctx context.Context, orgID string, f shared.ListFilters) ([]Task, int, error) {
	conds := db.ScopedTo("organization_id", orgID).
		EqIf("status", f.Filter("status")).
		EqIf("priority", f.Filter("priority")).
		EqIf("type", f.Filter("type")).
		EqIf("assignee_id::text", f.Filter("assigneeId")).
		Search(f.Search, "title", "description")
	if tag := f.Filter("tag"); tag != "" {
		conds.Add(conds.Arg(tag) + " = ANY(tags)")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`+conds.Where(), conds.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := conds.Page(f.Limit, f.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM tasks`+conds.Where()+
		db.OrderBy(f.SortBy, f.SortDir, sortColumns, priorityOrder)+page, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Task, 0, f.Limit)
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// Get loads one task.
func (r *Repository) Get(ctx context.Context, orgID, id string) (Task, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM tasks WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// Create inserts a task reported by reporterID. The assignee must belong to orgID.
func (r *Repository) Create(ctx context.Context, orgID, reporterID string, in Input) (Task, error) {
	if err := r.checkAssignee(ctx, orgID, in.AssigneeID); err != nil {
		return Task{}, err
	}
	return scan(r.pool.QueryRow(ctx, `INSERT INTO tasks
		(organization_id, title, description, type, priority, status, assignee_id, reporter_id, due_date,
		 estimated_hours, actual_hours, tags, related_entity_id, related_entity_type, external_task_id, external_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING `+columns,
		orgID, in.Title, in.Description, in.Type, in.Priority, in.Status, in.AssigneeID, reporterID, in.DueDate,
		in.EstimatedHours, in.ActualHours, in.Tags, in.RelatedEntityID, in.RelatedEntityType, in.ExternalTaskID, in.ExternalSystem))
}

// Update replaces the editable fields of a task. The reporter never changes.
func (r *Repository) Update(ctx context.Context, orgID, id string, in Input) (Task, error) {
	if err := r.checkAssignee(ctx, orgID, in.AssigneeID); err != nil {
		return Task{}, err
	}
	return scan(r.pool.QueryRow(ctx, `UPDATE tasks SET
			title = $3, description = $4, type = $5, priority = $6, status = $7, assignee_id = $8, due_date = $9,
			estimated_hours = $10, actual_hours = $11, tags = $12, related_entity_id = $13, related_entity_type = $14,
			external_task_id = $15, external_system = $16, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, in.Title, in.Description, in.Type, in.Priority, in.Status, in.AssigneeID, in.DueDate,
		in.EstimatedHours, in.ActualHours, in.Tags, in.RelatedEntityID, in.RelatedEntityType, in.ExternalTaskID, in.ExternalSystem))
}

// Delete removes a task.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) checkAssignee(ctx context.Context, orgID string, assigneeID *string) error {
	if assigneeID == nil {
		return nil
	}
	var ok bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND organization_id = $2 AND is_active)`,
		*assigneeID, orgID).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: unknown assignee", shared.ErrValidation)
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
