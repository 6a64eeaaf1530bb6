// Package audits plans and tracks internal, external and regulatory audits.
package audits

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/scoring"
	"github.com/grc-saas/grc/internal/shared"
)

const statusCompleted = "completed"

// Audit is an engagement of the organization.
type Audit struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organizationId"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Framework        string     `json:"framework"`
	Scope            string     `json:"scope"`
	Status           string     `json:"status"`
	AuditorName      string     `json:"auditorName"`
	AuditorFirm      string     `json:"auditorFirm"`
	AuditorEmail     string     `json:"auditorEmail"`
	PlannedStartDate time.Time  `json:"plannedStartDate"`
	PlannedEndDate   time.Time  `json:"plannedEndDate"`
	ActualStartDate  *time.Time `json:"actualStartDate,omitempty"`
	ActualEndDate    *time.Time `json:"actualEndDate,omitempty"`
	ReportPath       string     `json:"reportPath,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	Overdue bool `json:"overdue"`
}

func (a *Audit) derive(now time.Time) {
	a.Overdue = a.Status != statusCompleted && scoring.IsOverdueAt(a.PlannedEndDate, now)
}

// Input creates or replaces an audit.
type Input struct {
	Name             string     `json:"name" validate:"required,max=300"`
	Type             string     `json:"type" validate:"required,oneof=internal external regulatory"`
	Framework        string     `json:"framework" validate:"max=200"`
	Scope            string     `json:"scope" validate:"max=5000"`
	Status           string     `json:"status" validate:"omitempty,oneof=planned in_progress evidence_review draft_report final_report completed"`
	AuditorName      string     `json:"auditorName" validate:"max=200"`
	AuditorFirm      string     `json:"auditorFirm" validate:"max=200"`
	AuditorEmail     string     `json:"auditorEmail" validate:"omitempty,email"`
	PlannedStartDate time.Time  `json:"plannedStartDate" validate:"required"`
	PlannedEndDate   time.Time  `json:"plannedEndDate" validate:"required"`
	ActualStartDate  *time.Time `json:"actualStartDate"`
	ActualEndDate    *time.Time `json:"actualEndDate"`
	ReportPath       string     `json:"reportPath" validate:"max=1000"`
}

// RepositoryPort defines audit persistence scoped to one organization.
type RepositoryPort interface {
	List(ctx context.Context, orgID string, filters shared.ListFilters) ([]Audit, int, error)
	Get(ctx context.Context, orgID, id string) (Audit, error)
	Create(ctx context.Context, orgID string, in Input) (Audit, error)
	Update(ctx context.Context, orgID, id string, in Input) (Audit, error)
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

const columns = `id::text, organization_id::text, name, type, framework, scope, status, auditor_name, auditor_firm,
	auditor_email, planned_start_date, planned_end_date, actual_start_date, actual_end_date, report_path,
	created_at, updated_at`

var sortColumns = map[string]string{
	"name":             "name",
	"status":           "status",
	"type":             "type",
	"plannedStartDate": "planned_start_date",
	"plannedEndDate":   "planned_end_date",
	"createdAt":        "created_at",
}

func scan(row pgx.Row) (Audit, error) {
	var a Audit
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Type, &a.Framework, &a.Scope, &a.Status, &a.AuditorName,
		&a.AuditorFirm, &a.AuditorEmail, &a.PlannedStartDate, &a.PlannedEndDate, &a.ActualStartDate, &a.ActualEndDate,
		&a.ReportPath, &a.CreatedAt, &a.UpdatedAt)
	return a, shared.MapPgError(err)
}

// List returns a filtered page of audits and the filtered total.
func (r *Repository) List(ctx context.Context, orgID string, f shared.ListFilters) ([]Audit, int, error) {
	conds := db.ScopedTo("organization_id", orgID).
		EqIf("status", f.Filter("status")).
		EqIf("type", f.Filter("type")).
		Search(f.Search, "name", "framework", "auditor_firm")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audits`+conds.Where(), conds.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := conds.Page(f.Limit, f.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM audits`+conds.Where()+
		db.OrderBy(f.SortBy, f.SortDir, sortColumns, "planned_start_date DESC")+page, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Audit, 0, f.Limit)
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// Get loads one audit.
func (r *Repository) Get(ctx context.Context, orgID, id string) (Audit, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM audits WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// Create inserts an audit.
func (r *Repository) Create(ctx context.Context, orgID string, in Input) (Audit, error) {
	return scan(r.pool.QueryRow(ctx, `INSERT INTO audits
		(organization_id, name, type, framework, scope, status, auditor_name, auditor_firm, auditor_email,
		 planned_start_date, planned_end_date, actual_start_date, actual_end_date, report_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING `+columns,
		orgID, in.Name, in.Type, in.Framework, in.Scope, in.Status, in.AuditorName, in.AuditorFirm, in.AuditorEmail,
		in.PlannedStartDate, in.PlannedEndDate, in.ActualStartDate, in.ActualEndDate, in.ReportPath))
}

// Update replaces the editable fields of an audit.
func (r *Repository) Update(ctx context.Context, orgID, id string, in Input) (Audit, error) {
	return scan(r.pool.QueryRow(ctx, `UPDATE audits SET
			name = $3, type = $4, framework = $5, scope = $6, status = $7, auditor_name = $8, auditor_firm = $9,
			auditor_email = $10, planned_start_date = $11, planned_end_date = $12, actual_start_date = $13,
			actual_end_date = $14, report_path = $15, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, in.Name, in.Type, in.Framework, in.Scope, in.Status, in.AuditorName, in.AuditorFirm, in.AuditorEmail,
		in.PlannedStartDate, in.PlannedEndDate, in.ActualStartDate, in.ActualEndDate, in.ReportPath))
}

// Delete removes an audit.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audits WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)

// Service holds audit rules.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. audit may be nil.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a page of the caller's audits.
func (s *Service) List(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]Audit, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.List(ctx, caller.OrganizationID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	now := s.now()
	for i := range items {
		items[i].derive(now)
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// Get returns one audit.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (Audit, error) {
	a, err := s.repo.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return Audit{}, err
	}
	a.derive(s.now())
	return a, nil
}

// Create plans an audit.
func (s *Service) Create(ctx context.Context, caller identity.Identity, in Input) (Audit, error) {
	in, err := normalize(in)
	if err != nil {
		return Audit{}, err
	}
	a, err := s.repo.Create(ctx, caller.OrganizationID, in)
	if err != nil {
		return Audit{}, err
	}
	a.derive(s.now())
	s.record(ctx, caller, "audit.created", a.ID, nil)
	return a, nil
}

// Update replaces an audit.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id string, in Input) (Audit, error) {
	in, err := normalize(in)
	if err != nil {
		return Audit{}, err
	}
	a, err := s.repo.Update(ctx, caller.OrganizationID, id, in)
	if err != nil {
		return Audit{}, err
	}
	a.derive(s.now())
	s.record(ctx, caller, "audit.updated", a.ID, map[string]any{"status": a.Status})
	return a, nil
}

// Delete removes an audit.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "audit.deleted", id, nil)
	return nil
}

func normalize(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.AuditorEmail = strings.ToLower(strings.TrimSpace(in.AuditorEmail))
	if in.Status == "" {
		in.Status = "planned"
	}
	in.PlannedStartDate = dateOnly(in.PlannedStartDate)
	in.PlannedEndDate = dateOnly(in.PlannedEndDate)
	if in.PlannedEndDate.Before(in.PlannedStartDate) {
		return Input{}, fmt.Errorf("%w: planned end date cannot precede planned start date", shared.ErrValidation)
	}
	if in.ActualStartDate != nil && in.ActualEndDate != nil && in.ActualEndDate.Before(*in.ActualStartDate) {
		return Input{}, fmt.Errorf("%w: actual end date cannot precede actual start date", shared.ErrValidation)
	}
	return in, nil
}

// dateOnly truncates t to its UTC calendar day, matching the DATE columns.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: caller.UserID, OrganizationID: caller.OrganizationID,
		Action: action, Entity: "audit", EntityID: id, Meta: meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
