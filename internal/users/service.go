package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
)

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Profile returns the caller's own account.
func (s *Service) Profile(ctx context.Context, caller identity.Identity) (User, error) {
	return s.repo.Get(ctx, caller.OrganizationID, caller.UserID)
}

// UpdateProfile changes the caller's display name.
func (s *Service) UpdateProfile(ctx context.Context, caller identity.Identity, in ProfileInput) (User, error) {
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return User{}, fmt.Errorf("%w: first and last name are required", shared.ErrValidation)
	}
	user, err := s.repo.UpdateProfile(ctx, caller.OrganizationID, caller.UserID, first, last)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, caller, "user.profile_updated", user.ID, nil)
	return user, nil
}

// List returns users of the caller's organization.
func (s *Service) List(ctx context.Context, caller identity.Identity, filters shared.ListFilters) ([]User, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.List(ctx, caller.OrganizationID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// Create adds an account to the caller's organization.
func (s *Service) Create(ctx context.Context, caller identity.Identity, in CreateInput) (User, error) {
	role := shared.RoleUser
	if in.Role != "" {
		parsed, err := shared.ParseRole(in.Role)
		if err != nil {
			return User{}, err
		}
		role = parsed
	}
	hash, err := shared.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.Create(ctx, caller.OrganizationID, NewUser{
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         role,
	})
	if errors.Is(err, shared.ErrConflict) {
		return User{}, fmt.Errorf("%w: user already exists", shared.ErrConflict)
	}
	if err != nil {
		return User{}, err
	}
	s.record(ctx, caller, "user.created", user.ID, map[string]any{"role": role})
	return user, nil
}

// UpdateAccess changes another user's role or active flag. Administrators
// cannot demote or deactivate themselves.
func (s *Service) UpdateAccess(ctx context.Context, caller identity.Identity, id string, in AccessInput) (User, error) {
	if in.Role == nil && in.IsActive == nil {
		return User{}, fmt.Errorf("%w: role or isActive is required", shared.ErrValidation)
	}
	var role *shared.Role
	if in.Role != nil {
		parsed, err := shared.ParseRole(*in.Role)
		if err != nil {
			return User{}, err
		}
		role = &parsed
	}
	if id == caller.UserID {
		if role != nil && *role != caller.Role {
			return User{}, fmt.Errorf("%w: you cannot change your own role", shared.ErrValidation)
		}
		if in.IsActive != nil && !*in.IsActive {
			return User{}, fmt.Errorf("%w: you cannot deactivate your own account", shared.ErrValidation)
		}
	}
	user, err := s.repo.UpdateAccess(ctx, caller.OrganizationID, id, role, in.IsActive)
	if err != nil {
		return User{}, err
	}
	meta := map[string]any{"role": user.Role, "isActive": user.IsActive}
	s.record(ctx, caller, "user.access_updated", user.ID, meta)
	return user, nil
}

func (s *Service) record(ctx context.Context, caller identity.Identity, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:        caller.UserID,
		OrganizationID: caller.OrganizationID,
		Action:         action,
		Entity:         "user",
		EntityID:       entityID,
		Meta:           meta,
	})
	if err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
