package compliance

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

// Service holds compliance rules.
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

// ListFrameworks returns the caller's active frameworks.
func (s *Service) ListFrameworks(ctx context.Context, caller identity.Identity) ([]Framework, error) {
	return s.repo.ListFrameworks(ctx, caller.OrganizationID)
}

// CreateFramework adds a framework to the caller's organization.
func (s *Service) CreateFramework(ctx context.Context, caller identity.Identity, in FrameworkInput) (Framework, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Version = strings.TrimSpace(in.Version)
	fw, err := s.repo.CreateFramework(ctx, caller.OrganizationID, in)
	if err != nil {
		return Framework{}, err
	}
	s.record(ctx, caller, "framework.created", "compliance_framework", fw.ID, nil)
	return fw, nil
}

// ListRequirements returns the requirements of one of the caller's frameworks.
func (s *Service) ListRequirements(ctx context.Context, caller identity.Identity, frameworkID string) ([]Requirement, error) {
	if _, err := s.repo.GetFramework(ctx, caller.OrganizationID, frameworkID); err != nil {
		return nil, err
	}
	return s.repo.ListRequirements(ctx, caller.OrganizationID, frameworkID)
}

// CreateRequirement adds a requirement to one of the caller's frameworks.
func (s *Service) CreateRequirement(ctx context.Context, caller identity.Identity, frameworkID string, in RequirementInput) (Requirement, error) {
	in.Code = strings.TrimSpace(in.Code)
	req, err := s.repo.CreateRequirement(ctx, caller.OrganizationID, frameworkID, in)
	if errors.Is(err, shared.ErrConflict) {
		return Requirement{}, fmt.Errorf("%w: requirement code %s already exists", shared.ErrConflict, in.Code)
	}
	if err != nil {
		return Requirement{}, err
	}
	s.record(ctx, caller, "requirement.created", "compliance_requirement", req.ID, map[string]any{"frameworkId": frameworkID})
	return req, nil
}

// FrameworkSummary reports how many requirements are covered by effective controls.
func (s *Service) FrameworkSummary(ctx context.Context, caller identity.Identity, frameworkID string) (Summary, error) {
	if _, err := s.repo.GetFramework(ctx, caller.OrganizationID, frameworkID); err != nil {
		return Summary{}, err
	}
	total, compliant, err := s.repo.RequirementCoverage(ctx, caller.OrganizationID, frameworkID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		FrameworkID:           frameworkID,
		TotalRequirements:     total,
		CompliantRequirements: compliant,
		Percentage:            scoring.CompliancePercentage(total, compliant),
	}, nil
}

// ListControls returns a page of the caller's controls.
func (s *Service) ListControls(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]Control, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.ListControls(ctx, caller.OrganizationID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	now := s.now()
	for i := range items {
		items[i].Overdue = scoring.IsOverdueAt(items[i].NextTestDue, now)
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// GetControl returns a control with its requirement mappings.
func (s *Service) GetControl(ctx context.Context, caller identity.Identity, id string) (Control, error) {
	c, err := s.repo.GetControl(ctx, caller.OrganizationID, id)
	if err != nil {
		return Control{}, err
	}
	ids, err := s.repo.ControlRequirementIDs(ctx, caller.OrganizationID, id)
	if err != nil {
		return Control{}, err
	}
	c.RequirementIDs = ids
	c.Overdue = scoring.IsOverdueAt(c.NextTestDue, s.now())
	return c, nil
}

// CreateControl adds a control and schedules its first test.
func (s *Service) CreateControl(ctx context.Context, caller identity.Identity, in ControlInput) (Control, error) {
	rec, err := s.controlRecord(in, nil)
	if err != nil {
		return Control{}, err
	}
	c, err := s.repo.CreateControl(ctx, caller.OrganizationID, rec)
	if err != nil {
		return Control{}, err
	}
	c.Overdue = scoring.IsOverdueAt(c.NextTestDue, s.now())
	s.record(ctx, caller, "control.created", "control", c.ID, nil)
	return c, nil
}

// UpdateControl replaces a control and recomputes its next test date.
func (s *Service) UpdateControl(ctx context.Context, caller identity.Identity, id string, in ControlInput) (Control, error) {
	existing, err := s.repo.GetControl(ctx, caller.OrganizationID, id)
	if err != nil {
		return Control{}, err
	}
	rec, err := s.controlRecord(in, &existing)
	if err != nil {
		return Control{}, err
	}
	c, err := s.repo.UpdateControl(ctx, caller.OrganizationID, id, rec)
	if err != nil {
		return Control{}, err
	}
	c.Overdue = scoring.IsOverdueAt(c.NextTestDue, s.now())
	s.record(ctx, caller, "control.updated", "control", c.ID, nil)
	return c, nil
}

// DeleteControl removes a control with its evidence and mappings.
func (s *Service) DeleteControl(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.DeleteControl(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "control.deleted", "control", id, nil)
	return nil
}

// RecordTest scores a control test and reschedules the next one.
func (s *Service) RecordTest(ctx context.Context, caller identity.Identity, id string, in TestInput) (Control, error) {
	existing, err := s.repo.GetControl(ctx, caller.OrganizationID, id)
	if err != nil {
		return Control{}, err
	}
	results := make([]scoring.TestResult, len(in.Results))
	for i, r := range in.Results {
		weight := 1.0
		if r.Weight != nil {
			weight = *r.Weight
		}
		results[i] = scoring.TestResult{Passed: r.Passed, Weight: weight}
	}
	testedAt := s.now()
	if in.TestedAt != nil {
		testedAt = in.TestedAt.UTC()
	}
	if testedAt.After(s.now()) {
		return Control{}, fmt.Errorf("%w: testedAt cannot be in the future", shared.ErrValidation)
	}
	next, err := scoring.NextReviewDate(testedAt, existing.Frequency)
	if err != nil {
		return Control{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	score := scoring.ControlEffectiveness(results)
	outcome := TestOutcome{
		Score:       score,
		Rating:      scoring.EffectivenessRating(score, len(results) > 0),
		TestedAt:    testedAt,
		NextTestDue: next,
	}
	c, err := s.repo.RecordTest(ctx, caller.OrganizationID, id, outcome)
	if err != nil {
		return Control{}, err
	}
	c.Overdue = scoring.IsOverdueAt(c.NextTestDue, s.now())
	s.record(ctx, caller, "control.tested", "control", c.ID, map[string]any{"score": score, "rating": outcome.Rating})
	return c, nil
}

// ReplaceRequirements sets the requirements a control satisfies.
func (s *Service) ReplaceRequirements(ctx context.Context, caller identity.Identity, controlID string, in MappingInput) ([]string, error) {
	ids := dedupe(in.RequirementIDs)
	if err := s.repo.ReplaceControlRequirements(ctx, caller.OrganizationID, controlID, ids); err != nil {
		return nil, err
	}
	s.record(ctx, caller, "control.requirements_replaced", "control", controlID, map[string]any{"requirementIds": ids})
	return ids, nil
}

// controlRecord resolves the derived fields of a control write. The next
// test is due one cadence after the last test, or after now when untested.
func (s *Service) controlRecord(in ControlInput, existing *Control) (ControlRecord, error) {
	freq := scoring.Frequency(in.Frequency)
	if !freq.Valid() {
		return ControlRecord{}, fmt.Errorf("%w: %v %q", shared.ErrValidation, scoring.ErrUnknownFrequency, in.Frequency)
	}
	status := in.Status
	if status == "" {
		status = "active"
		if existing != nil {
			status = existing.Status
		}
	}
	lastTested := in.LastTested
	if lastTested == nil && existing != nil {
		lastTested = existing.LastTested
	}
	base := s.now()
	if lastTested != nil {
		base = lastTested.UTC()
	}
	next, err := scoring.NextReviewDate(base, freq)
	if err != nil {
		return ControlRecord{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return ControlRecord{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		Type:        in.Type,
		Frequency:   freq,
		OwnerID:     in.OwnerID,
		Status:      status,
		LastTested:  lastTested,
		NextTestDue: next,
	}, nil
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:        caller.UserID,
		OrganizationID: caller.OrganizationID,
		Action:         action,
		Entity:         entity,
		EntityID:       entityID,
		Meta:           meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
