package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
	"github.com/grc-saas/grc/jobs"
)

// DefaultResetTTL bounds how long a password reset link stays usable.
const DefaultResetTTL = time.Hour

// TokenIssuer issues and verifies identity tokens.
type TokenIssuer interface {
	Issue(subject identity.Subject) (string, time.Time, error)
	Verify(raw string) (*identity.Claims, error)
}

// MailQueue enqueues outbound mail for the worker.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// ServiceConfig collects the dependencies of Service. Mail and Audit are optional.
type ServiceConfig struct {
	Repo        Repository
	Tokens      TokenIssuer
	Resets      ResetStore
	Mail        MailQueue
	Audit       shared.AuditRecorder
	Logger      *slog.Logger
	FrontendURL string
	ResetTTL    time.Duration
	Clock       func() time.Time
}

// Service wraps authentication business rules.
type Service struct {
	repo        Repository
	tokens      TokenIssuer
	resets      ResetStore
	mail        MailQueue
	audit       shared.AuditRecorder
	logger      *slog.Logger
	frontendURL string
	resetTTL    time.Duration
	now         func() time.Time
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:        cfg.Repo,
		tokens:      cfg.Tokens,
		resets:      cfg.Resets,
		mail:        cfg.Mail,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		resetTTL:    cfg.ResetTTL,
		now:         cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.resetTTL <= 0 {
		s.resetTTL = DefaultResetTTL
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Register creates a new organization with the registrant as its admin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	hash, err := shared.HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.repo.CreateOrganizationWithAdmin(ctx,
		NewOrganization{
			Name:   strings.TrimSpace(in.OrganizationName),
			Domain: strings.ToLower(strings.TrimSpace(in.Domain)),
		},
		NewAccount{
			Email:        normalizeEmail(in.Email),
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
		},
	)
	if errors.Is(err, shared.ErrConflict) {
		return Session{}, fmt.Errorf("%w: user or organization domain already exists", shared.ErrConflict)
	}
	if err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	s.record(ctx, user, "user.registered")
	return s.session(user)
}

// Login validates email/password credentials. Unknown email, wrong password
// and inactive account all fail with shared.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, shared.ErrNotFound) {
		shared.CheckPassword("", password)
		return Session{}, shared.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if ok := shared.CheckPassword(user.PasswordHash, password); !ok || !user.IsActive {
		return Session{}, shared.ErrInvalidCredentials
	}
	now := s.now()
	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login", slog.String("user_id", user.ID), slog.Any("error", err))
	} else {
		user.LastLogin = &now
	}
	s.record(ctx, user, "user.login")
	return s.session(user)
}

// Refresh exchanges a still-valid token for a new one built from the
// current account record.
func (s *Service) Refresh(ctx context.Context, raw string) (Session, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return Session{}, fmt.Errorf("%w: invalid token", shared.ErrUnauthenticated)
	}
	user, err := s.repo.FindByID(ctx, claims.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		return Session{}, fmt.Errorf("%w: account not found", shared.ErrUnauthenticated)
	}
	if err != nil {
		return Session{}, fmt.Errorf("refresh: %w", err)
	}
	if !user.IsActive {
		return Session{}, fmt.Errorf("%w: account inactive", shared.ErrUnauthenticated)
	}
	return s.session(user)
}

// ForgotPassword issues a reset token and mails the link when the account
// exists. The outcome is never reported to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	if !user.IsActive {
		return nil
	}
	token := uuid.NewString()
	if err := s.resets.Save(ctx, token, user.ID, s.resetTTL); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	if s.mail == nil {
		s.logger.Warn("password reset requested without mail queue", slog.String("user_id", user.ID))
		return nil
	}
	link := s.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
	_, err = s.mail.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      user.Email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hello %s,\n\nUse the link below to choose a new password. It expires in %s.\n\n%s\n",
			user.FirstName, s.resetTTL, link),
	})
	if err != nil {
		return fmt.Errorf("enqueue reset mail: %w", err)
	}
	s.record(ctx, user, "user.password_reset_requested")
	return nil
}

// ResetPassword consumes a reset token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := shared.HashPassword(newPassword)
	if err != nil {
		return err
	}
	userID, err := s.resets.Consume(ctx, strings.TrimSpace(token))
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: invalid or expired reset token", shared.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	user, err := s.repo.FindByID(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: invalid or expired reset token", shared.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	s.record(ctx, user, "user.password_reset")
	return nil
}

func (s *Service) session(user *User) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(identity.Subject{
		UserID:         user.ID,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: *user}, nil
}

func (s *Service) record(ctx context.Context, user *User, action string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:        user.ID,
		OrganizationID: user.OrganizationID,
		Action:         action,
		Entity:         "user",
		EntityID:       user.ID,
		At:             s.now(),
	})
	if err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
