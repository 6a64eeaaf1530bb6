package tasks

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
)

// Service holds task rules.
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

// List returns a page of the caller's tasks. Without an explicit sort the
// page is ordered by priority, then due date.
func (s *Service) List(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]Task, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.List(ctx, caller.OrganizationID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	now := s.now()
	for i := range items {
		items[i].derive(now)
	}
	if filters.SortBy == "" {
		SortByPriority(items)
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (Task, error) {
	t, err := s.repo.Get(ctx, caller.OrganizationID, id)
	if err != nil {
		return Task{}, err
	}
	t.derive(s.now())
	return t, nil
}

// Create adds a task reported by the caller.
func (s *Service) Create(ctx context.Context, caller identity.Identity, in Input) (Task, error) {
	t, err := s.repo.Create(ctx, caller.OrganizationID, caller.UserID, normalize(in))
	if err != nil {
		return Task{}, err
	}
	t.derive(s.now())
	s.record(ctx, caller, "task.created", t.ID, nil)
	return t, nil
}

// Update replaces a task.
func (s *Service) Update(ctx context.Context, caller identity.Identity, id string, in Input) (Task, error) {
	t, err := s.repo.Update(ctx, caller.OrganizationID, id, normalize(in))
	if err != nil {
		return Task{}, err
	}
	t.derive(s.now())
	s.record(ctx, caller, "task.updated", t.ID, map[string]any{"status": t.Status})
	return t, nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id string) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID, id); err != nil {
		return err
	}
	s.record(ctx, caller, "task.deleted", id, nil)
	return nil
}

func normalize(in Input) Input {
	in.Title = strings.TrimSpace(in.Title)
	in.DueDate = in.DueDate.UTC()
	if in.Type == "" {
		in.Type = "general"
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
	if in.Status == "" {
		in.Status = "todo"
	}
	tags := make([]string, 0, len(in.Tags))
	seen := make(map[string]struct{}, len(in.Tags))
	for _, tag := range in.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if _, ok := seen[tag]; ok || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	in.Tags = tags
	return in
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: caller.UserID, OrganizationID: caller.OrganizationID,
		Action: action, Entity: "task", EntityID: id, Meta: meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
