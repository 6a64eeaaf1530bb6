package risks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/scoring"
	"github.com/grc-saas/grc/internal/shared"
)

const (
	defaultStatus    = "identified"
	defaultTolerance = "medium"
)

// Service holds risk register rules.
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

// List returns a page of the caller's risks.
func (s *Service) List(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]Risk, shared.Pagination, error) {
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

// Export returns every matching risk of the caller's organization.
func (s *Service) Export(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]Risk, error) {
	items, err := s.repo.Export(ctx, caller.OrganizationID, filters)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range items {
		items[i].derive(now)
	}
	return items, nil
}

// Get returns a risk with its mitigating controls.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (Risk, error) {
	risk, err := s.repo.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return Risk{}, err
	}
	ids, err := s.repo.ControlIDs(ctx, caller.OrganizationID, id)
	if err != nil {
		return Risk{}, err
	}
	risk.ControlIDs = ids
	risk.derive(s.now())
	return risk, nil
}

// Create adds a risk to the caller's register.
func (s *Service) Create(ctx context.Context, caller identity.Identity, in Input) (Risk, error) {
	rec, err := toRecord(in)
	if err != nil {
		return Risk{}, err
	}
	risk, err := s.repo.Create(ctx, caller.OrganizationID, rec)
	if err != nil {
		return Risk{}, err
	}
	risk.derive(s.now())
	s.record(ctx, caller, "risk.created", risk.ID, map[string]any{"inherentScore": risk.InherentScore})
	return risk, nil
}

// Update replaces a risk of the caller's register.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id string, in Input) (Risk, error) {
	rec, err := toRecord(in)
	if err != nil {
		return Risk{}, err
	}
	risk, err := s.repo.Update(ctx, caller.OrganizationID, id, rec)
	if err != nil {
		return Risk{}, err
	}
	risk.derive(s.now())
	s.record(ctx, caller, "risk.updated", risk.ID, nil)
	return risk, nil
}

// Delete removes a risk of the caller's register.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "risk.deleted", id, nil)
	return nil
}

// ReplaceControls sets the controls mitigating a risk.
func (s *Service) ReplaceControls(ctx context.Context, caller identity.Identity, id string, in ControlsInput) ([]string, error) {
	ids := dedupe(in.ControlIDs)
	if err := s.repo.ReplaceControls(ctx, caller.OrganizationID, id, ids); err != nil {
		return nil, err
	}
	s.record(ctx, caller, "risk.controls_replaced", id, map[string]any{"controls": len(ids)})
	return ids, nil
}

func toRecord(in Input) (Record, error) {
	rec := Record{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		OwnerID:     in.OwnerID,
		Status:      in.Status,
		Tolerance:   in.Tolerance,
		Inherent:    scoring.Assessment{Likelihood: in.InherentLikelihood, Impact: in.InherentImpact},
		ReviewDate:  in.ReviewDate.UTC(),
	}
	if rec.Status == "" {
		rec.Status = defaultStatus
	}
	if rec.Tolerance == "" {
		rec.Tolerance = defaultTolerance
	}
	if err := rec.Inherent.Validate(); err != nil {
		return Record{}, ratingError("inherent", err)
	}
	switch {
	case in.ResidualLikelihood == nil && in.ResidualImpact == nil:
	case in.ResidualLikelihood == nil || in.ResidualImpact == nil:
		return Record{}, fmt.Errorf("%w: residual likelihood and impact must be provided together", shared.ErrValidation)
	default:
		residual := scoring.Assessment{Likelihood: *in.ResidualLikelihood, Impact: *in.ResidualImpact}
		if err := residual.Validate(); err != nil {
			return Record{}, ratingError("residual", err)
		}
		rec.Residual = &residual
	}
	return rec, nil
}

func ratingError(which string, err error) error {
	if errors.Is(err, scoring.ErrRatingOutOfRange) {
		return fmt.Errorf("%w: %s %s must be between %d and %d", shared.ErrValidation, which,
			strings.TrimPrefix(err.Error(), scoring.ErrRatingOutOfRange.Error()+": "), scoring.MinRating, scoring.MaxRating)
	}
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: caller.UserID, OrganizationID: caller.OrganizationID,
		Action: action, Entity: "risk", EntityID: id, Meta: meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
