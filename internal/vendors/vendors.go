// Package vendors tracks third parties, their risk rating and contracts.
package vendors

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

// Vendor is a third party of the organization.
type Vendor struct {
	ID                string     `json:"id"`
	OrganizationID    string     `json:"organizationId"`
	Name              string     `json:"name"`
	PrimaryContact    string     `json:"primaryContact"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	Address           string     `json:"address"`
	Website           string     `json:"website"`
	Category          string     `json:"category"`
	RiskLevel         string     `json:"riskLevel"`
	Status            string     `json:"status"`
	ContractNumber    string     `json:"contractNumber"`
	ContractStartDate *time.Time `json:"contractStartDate,omitempty"`
	ContractEndDate   *time.Time `json:"contractEndDate,omitempty"`
	RenewalDate       *time.Time `json:"renewalDate,omitempty"`
	ContractValue     *float64   `json:"contractValue,omitempty"`
	Currency          string     `json:"currency"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`

	ContractExpired bool `json:"contractExpired"`
	RenewalOverdue  bool `json:"renewalOverdue"`
}

func (v *Vendor) derive(now time.Time) {
	v.ContractExpired = v.ContractEndDate != nil && scoring.IsOverdueAt(*v.ContractEndDate, now)
	v.RenewalOverdue = v.RenewalDate != nil && scoring.IsOverdueAt(*v.RenewalDate, now)
}

// Input creates or replaces a vendor.
type Input struct {
	Name              string     `json:"name" validate:"required,max=200"`
	PrimaryContact    string     `json:"primaryContact" validate:"max=200"`
	Email             string     `json:"email" validate:"omitempty,email"`
	Phone             string     `json:"phone" validate:"max=50"`
	Address           string     `json:"address" validate:"max=1000"`
	Website           string     `json:"website" validate:"omitempty,url"`
	Category          string     `json:"category" validate:"max=100"`
	RiskLevel         string     `json:"riskLevel" validate:"omitempty,oneof=low medium high critical"`
	Status            string     `json:"status" validate:"omitempty,oneof=active inactive under_review"`
	ContractNumber    string     `json:"contractNumber" validate:"max=100"`
	ContractStartDate *time.Time `json:"contractStartDate"`
	ContractEndDate   *time.Time `json:"contractEndDate"`
	RenewalDate       *time.Time `json:"renewalDate"`
	ContractValue     *float64   `json:"contractValue" validate:"omitempty,gte=0"`
	Currency          string     `json:"currency" validate:"omitempty,len=3,alpha"`
}

// RepositoryPort defines vendor persistence scoped to one organization.
type RepositoryPort interface {
	List(ctx context.Context, orgID string, filters shared.ListFilters) ([]Vendor, int, error)
	Get(ctx context.Context, orgID, id string) (Vendor, error)
	Create(ctx context.Context, orgID string, in Input) (Vendor, error)
	Update(ctx context.Context, orgID, id string, in Input) (Vendor, error)
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

const columns = `id::text, organization_id::text, name, primary_contact, email, phone, address, website, category,
	risk_level, status, contract_number, contract_start_date, contract_end_date, renewal_date, contract_value::float8,
	currency, created_at, updated_at`

var sortColumns = map[string]string{
	"name":            "name",
	"riskLevel":       "CASE risk_level WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END",
	"status":          "status",
	"contractEndDate": "contract_end_date",
	"renewalDate":     "renewal_date",
	"createdAt":       "created_at",
}

func scan(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.OrganizationID, &v.Name, &v.PrimaryContact, &v.Email, &v.Phone, &v.Address, &v.Website,
		&v.Category, &v.RiskLevel, &v.Status, &v.ContractNumber, &v.ContractStartDate, &v.ContractEndDate,
		&v.RenewalDate, &v.ContractValue, &v.Currency, &v.CreatedAt, &v.UpdatedAt)
	return v, shared.MapPgError(err)
}

// List returns a filtered page of vendors and the filtered total.
func (r *Repository) List(ctx context.Context, orgID string, f shared.ListFilters) ([]Vendor, int, error) {
	conds := db.ScopedTo("organization_id", orgID).
		EqIf("status", f.Filter("status")).
		EqIf("risk_level", f.Filter("riskLevel")).
		EqIf("category", f.Filter("category")).
		Search(f.Search, "name", "primary_contact", "email")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vendors`+conds.Where(), conds.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := conds.Page(f.Limit, f.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM vendors`+conds.Where()+
		db.OrderBy(f.SortBy, f.SortDir, sortColumns, "name ASC")+page, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Vendor, 0, f.Limit)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// Get loads one vendor.
func (r *Repository) Get(ctx context.Context, orgID, id string) (Vendor, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM vendors WHERE id = $1 AND organization_id = $2`, id, orgID))
}

// Create inserts a vendor.
func (r *Repository) Create(ctx context.Context, orgID string, in Input) (Vendor, error) {
	return scan(r.pool.QueryRow(ctx, `INSERT INTO vendors
		(organization_id, name, primary_contact, email, phone, address, website, category, risk_level, status,
		 contract_number, contract_start_date, contract_end_date, renewal_date, contract_value, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING `+columns,
		orgID, in.Name, in.PrimaryContact, in.Email, in.Phone, in.Address, in.Website, in.Category, in.RiskLevel, in.Status,
		in.ContractNumber, in.ContractStartDate, in.ContractEndDate, in.RenewalDate, in.ContractValue, in.Currency))
}

// Update replaces the editable fields of a vendor.
func (r *Repository) Update(ctx context.Context, orgID, id string, in Input) (Vendor, error) {
	return scan(r.pool.QueryRow(ctx, `UPDATE vendors SET
			name = $3, primary_contact = $4, email = $5, phone = $6, address = $7, website = $8, category = $9,
			risk_level = $10, status = $11, contract_number = $12, contract_start_date = $13, contract_end_date = $14,
			renewal_date = $15, contract_value = $16, currency = $17, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 RETURNING `+columns,
		id, orgID, in.Name, in.PrimaryContact, in.Email, in.Phone, in.Address, in.Website, in.Category, in.RiskLevel, in.Status,
		in.ContractNumber, in.ContractStartDate, in.ContractEndDate, in.RenewalDate, in.ContractValue, in.Currency))
}

// Delete removes a vendor.
func (r *Repository) Delete(ctx context.Context, orgID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM vendors WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)

// Service holds vendor rules.
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

// List returns a page of the caller's vendors.
func (s *Service) List(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]Vendor, shared.Pagination, error) {
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

// Get returns one vendor.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (Vendor, error) {
	v, err := s.repo.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return Vendor{}, err
	}
	v.derive(s.now())
	return v, nil
}

// Create adds a vendor.
func (s *Service) Create(ctx context.Context, caller identity.Identity, in Input) (Vendor, error) {
	in, err := normalize(in)
	if err != nil {
		return Vendor{}, err
	}
	v, err := s.repo.Create(ctx, caller.OrganizationID, in)
	if err != nil {
		return Vendor{}, err
	}
	v.derive(s.now())
	s.record(ctx, caller, "vendor.created", v.ID)
	return v, nil
}

// Update replaces a vendor.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id string, in Input) (Vendor, error) {
	in, err := normalize(in)
	if err != nil {
		return Vendor{}, err
	}
	v, err := s.repo.Update(ctx, caller.OrganizationID, id, in)
	if err != nil {
		return Vendor{}, err
	}
	v.derive(s.now())
	s.record(ctx, caller, "vendor.updated", v.ID)
	return v, nil
}

// Delete removes a vendor.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "vendor.deleted", id)
	return nil
}

func normalize(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Currency = strings.ToUpper(in.Currency)
	if in.Currency == "" {
		in.Currency = "USD"
	}
	if in.RiskLevel == "" {
		in.RiskLevel = "medium"
	}
	if in.Status == "" {
		in.Status = "active"
	}
	if in.ContractStartDate != nil && in.ContractEndDate != nil && in.ContractEndDate.Before(*in.ContractStartDate) {
		return Input{}, fmt.Errorf("%w: contract end date cannot precede start date", shared.ErrValidation)
	}
	return in, nil
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, id string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: caller.UserID, OrganizationID: caller.OrganizationID,
		Action: action, Entity: "vendor", EntityID: id,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
