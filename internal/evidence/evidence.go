// Package evidence stores artefacts proving that a control operates.
package evidence

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
)

// Evidence is an artefact attached to a control.
type Evidence struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	ControlID      string    `json:"controlId"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	FilePath       string    `json:"filePath,omitempty"`
	URL            string    `json:"url,omitempty"`
	CollectedAt    time.Time `json:"collectedAt"`
	CollectedBy    *string   `json:"collectedBy,omitempty"`
	IsAutomated    bool      `json:"isAutomated"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Input attaches evidence to a control.
type Input struct {
	Type        string     `json:"type" validate:"required,oneof=document screenshot log report automated"`
	Name        string     `json:"name" validate:"required,max=300"`
	Description string     `json:"description" validate:"max=5000"`
	FilePath    string     `json:"filePath" validate:"max=1000"`
	URL         string     `json:"url" validate:"omitempty,url,max=2000"`
	CollectedAt *time.Time `json:"collectedAt"`
	IsAutomated bool       `json:"isAutomated"`
	Source      string     `json:"source" validate:"max=100"`
}

// Record is an evidence write with the caller-derived fields resolved.
type Record struct {
	Input
	CollectedAt time.Time
	CollectedBy string
}

// RepositoryPort defines evidence persistence scoped to one organization.
type RepositoryPort interface {
	ListForControl(ctx context.Context, orgID, controlID string) ([]Evidence, error)
	Create(ctx context.Context, orgID, controlID string, rec Record) (Evidence, error)
	Get(ctx context.Context, orgID, id string) (Evidence, error)
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

const columns = `id::text, organization_id::text, control_id::text, type, name, description, file_path, url,
	collected_at, collected_by::text, is_automated, source, created_at, updated_at`

func scan(row pgx.Row) (Evidence, error) {
	var e Evidence
	err := row.Scan(&e.ID, &e.OrganizationID, &e.ControlID, &e.Type, &e.Name, &e.Description, &e.FilePath, &e.URL,
		&e.CollectedAt, &e.CollectedBy, &e.IsAutomated, &e.Source, &e.CreatedAt, &e.UpdatedAt)
	return e, shared.MapPgError(err)
}

// ListForControl returns the evidence of a control, newest first. A control
// outside orgID yields shared.ErrNotFound.
func (r *Repository) ListForControl(ctx context.Context, orgID, controlID string) ([]Evidence, error) {
	var found bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM controls WHERE id = $1 AND organization_id = $2)`,
		controlID, orgID).Scan(&found); err != nil {
		return nil, err
	}
	if !found {
		return nil, shared.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM evidence
		WHERE control_id = $1 AND organization_id = $2 ORDER BY collected_at DESC`, controlID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Evidence{}
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create inserts evidence for a control of orgID.
func (r *Repository) Create(ctx context.Context, orgID, controlID string, rec Record) (Evidence, error) {
	return scan(r.pool.QueryRow(ctx, `WITH e AS (
			INSERT INTO evidence (organization_id, control_id, type, name, description, file_path, url,
				collected_at, collected_by, is_automated, source)
			SELECT c.organization_id, c.id, $3, $4, $5, $6, $7, $8, $9, $10, $11 FROM controls c
			WHERE c.id = $1 AND c.organization_id = $2
			RETURNING *
		) SELECT `+columns+` FROM e`,
		controlID, orgID, rec.Type, rec.Name, rec.Description, rec.FilePath, rec.URL,
		rec.CollectedAt, rec.CollectedBy, rec.IsAutomated, rec.Source))
}

// Get loads one evidence row.
func (r *Repository) Get(ctx context.Context, orgID, id string) (Evidence, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM evidence WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// Delete removes one evidence row.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM evidence WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)

// Service holds evidence rules.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListForControl returns the evidence of one of the caller's controls.
func (s *Service) ListForControl(ctx context.Context, caller identity.Identity, controlID string) ([]Evidence, error) {
	return s.repo.ListForControl(ctx, caller.OrganizationID, controlID)
}

// Attach stores evidence collected by the caller.
func (s *Service) Attach(ctx context.Context, caller identity.Identity, controlID string, in Input) (Evidence, error) {
	collectedAt := s.now()
	if in.CollectedAt != nil {
		collectedAt = in.CollectedAt.UTC()
	}
	in.Name = strings.TrimSpace(in.Name)
	e, err := s.repo.Create(ctx, caller.OrganizationID, controlID, Record{Input: in, CollectedAt: collectedAt, CollectedBy: caller.UserID})
	if err != nil {
		return Evidence{}, err
	}
	s.record(ctx, caller, "evidence.created", e.ID, map[string]any{"controlId": controlID})
	return e, nil
}

// Get returns one evidence row of the caller's organization.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (Evidence, error) {
	return s.repo.Get(ctx, caller.OrganizationID, id)
}

// Delete removes evidence of the caller's organization.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "evidence.deleted", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: caller.UserID, OrganizationID: caller.OrganizationID,
		Action: action, Entity: "evidence", EntityID: id, Meta: meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
