package organizations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
)

// Service holds organization rules.
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

// Current returns the caller's organization.
func (s *Service) Current(ctx context.Context, caller identity.Identity) (Organization, error) {
	return s.repo.Get(ctx, caller.OrganizationID)
}

// Update edits the caller's organization.
func (s *Service) Update(ctx context.Context, caller identity.Identity, in UpdateInput) (Organization, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Domain = strings.ToLower(strings.TrimSpace(in.Domain))
	if in.Name == "" {
		return Organization{}, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	org, err := s.repo.Update(ctx, caller.OrganizationID, in)
	if errors.Is(err, shared.ErrConflict) {
		return Organization{}, fmt.Errorf("%w: domain already registered", shared.ErrConflict)
	}
	if err != nil {
		return Organization{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:        caller.UserID,
			OrganizationID: caller.OrganizationID,
			Action:         "organization.updated",
			Entity:         "organization",
			EntityID:       org.ID,
		}); err != nil {
			s.logger.Warn("audit log", slog.Any("error", err))
		}
	}
	return org, nil
}

// Delete removes the caller's organization with all tenant data. The audit
// trail goes with it, so the deletion is only logged.
func (s *Service) Delete(ctx context.Context, caller identity.Identity) error {
	if err := s.repo.Delete(ctx, caller.OrganizationID); err != nil {
		return err
	}
	s.logger.Info("organization deleted",
		slog.String("organization_id", caller.OrganizationID),
		slog.String("actor_id", caller.UserID))
	return nil
}
