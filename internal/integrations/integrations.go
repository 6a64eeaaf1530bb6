// Package integrations stores connector settings for external systems.
package integrations

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
)

// Mask replaces secret config values in every response.
const Mask = "********"

var secretMarkers = []string{"secret", "token", "password", "apikey", "api_key", "privatekey", "private_key", "credential"}

// Integration is a configured connector.
type Integration struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Provider       string         `json:"provider"`
	Config         map[string]any `json:"config"`
	IsActive       bool           `json:"isActive"`
	LastSync       *time.Time     `json:"lastSync,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Input creates or replaces an integration.
type Input struct {
	Name     string         `json:"name" validate:"required,max=200"`
	Type     string         `json:"type" validate:"required,oneof=hypersync task_management notification"`
	Provider string         `json:"provider" validate:"required,max=100"`
	Config   map[string]any `json:"config"`
	IsActive *bool          `json:"isActive"`
}

// IsSecretKey reports whether a config key holds a credential.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// MaskConfig returns a copy of cfg with secret values replaced, recursing
// into nested objects.
func MaskConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		switch {
		case IsSecretKey(k) && v != nil && v != "":
			out[k] = Mask
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = MaskConfig(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// mergeSecrets keeps stored secrets where the client echoed the mask back.
func mergeSecrets(next, stored map[string]any) map[string]any {
	out := make(map[string]any, len(next))
	for k, v := range next {
		switch val := v.(type) {
		case string:
			if val == Mask && IsSecretKey(k) {
				if prev, ok := stored[k]; ok {
					out[k] = prev
					continue
				}
			}
			out[k] = val
		case map[string]any:
			prev, _ := stored[k].(map[string]any)
			out[k] = mergeSecrets(val, prev)
		default:
			out[k] = v
		}
	}
	return out
}

// RepositoryPort defines integration persistence scoped to one organization.
type RepositoryPort interface {
	List(ctx context.Context, orgID string) ([]Integration, error)
	Get(ctx context.Context, orgID, id string) (Integration, error)
	Create(ctx context.Context, orgID string, in Input) (Integration, error)
	Update(ctx context.Context, orgID, id string, in Input) (Integration, error)
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

const columns = `id::text, organization_id::text, name, type, provider, config, is_active, last_sync, created_at, updated_at`

func scan(row pgx.Row) (Integration, error) {
	var (
		i   Integration
		raw []byte
	)
	if err := row.Scan(&i.ID, &i.OrganizationID, &i.Name, &i.Type, &i.Provider, &raw, &i.IsActive, &i.LastSync,
		&i.CreatedAt, &i.UpdatedAt); err != nil {
		return Integration{}, shared.MapPgError(err)
	}
	i.Config = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &i.Config); err != nil {
			return Integration{}, err
		}
	}
	return i, nil
}

// List returns every integration of orgID ordered by name.
func (r *Repository) List(ctx context.Context, orgID string) ([]Integration, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM integrations WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Integration{}
	for rows.Next() {
		i, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Get loads one integration.
func (r *Repository) Get(ctx context.Context, orgID, id string) (Integration, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM integrations WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// Create inserts an integration.
func (r *Repository) Create(ctx context.Context, orgID string, in Input) (Integration, error) {
	raw, err := json.Marshal(in.Config)
	if err != nil {
		return Integration{}, err
	}
	return scan(r.pool.QueryRow(ctx, `INSERT INTO integrations (organization_id, name, type, provider, config, is_active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+columns,
		orgID, in.Name, in.Type, in.Provider, raw, in.IsActive == nil || *in.IsActive))
}

// Update replaces an integration. A nil IsActive keeps the stored flag.
func (r *Repository) Update(ctx context.Context, orgID, id string, in Input) (Integration, error) {
	raw, err := json.Marshal(in.Config)
	if err != nil {
		return Integration{}, err
	}
	return scan(r.pool.QueryRow(ctx, `UPDATE integrations SET
			name = $3, type = $4, provider = $5, config = $6, is_active = COALESCE($7, is_active), updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, in.Name, in.Type, in.Provider, raw, in.IsActive))
}

// Delete removes an integration.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM integrations WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)

// Service holds integration rules. Every returned integration has its
// secrets masked.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service. audit may be nil.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

func masked(i Integration) Integration {
	i.Config = MaskConfig(i.Config)
	return i
}

// List returns the caller's integrations.
func (s *Service) List(ctx context.Context, caller identity.Identity) ([]Integration, error) {
	items, err := s.repo.List(ctx, caller.OrganizationID)
	if err != nil {
		return nil, err
	}
	for idx := range items {
		items[idx] = masked(items[idx])
	}
	return items, nil
}

// Create stores a connector.
func (s *Service) Create(ctx context.Context, caller identity.Identity, in Input) (Integration, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Config == nil {
		in.Config = map[string]any{}
	}
	i, err := s.repo.Create(ctx, caller.OrganizationID, in)
	if err != nil {
		return Integration{}, err
	}
	s.record(ctx, caller, "integration.created", i.ID, map[string]any{"provider": i.Provider})
	return masked(i), nil
}

// Update replaces a connector, keeping secrets the client echoed masked.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id string, in Input) (Integration, error) {
	existing, err := s.repo.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return Integration{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Config = mergeSecrets(in.Config, existing.Config)
	i, err := s.repo.Update(ctx, caller.OrganizationID, id, in)
	if err != nil {
		return Integration{}, err
	}
	s.record(ctx, caller, "integration.updated", i.ID, nil)
	return masked(i), nil
}

// Delete removes a connector.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "integration.deleted", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: caller.UserID, OrganizationID: caller.OrganizationID,
		Action: action, Entity: "integration", EntityID: id, Meta: meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
