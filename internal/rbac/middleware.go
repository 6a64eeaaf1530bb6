package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/shared"
)

const bearerPrefix = "bearer "

// Denial reasons reported to the DenialRecorder.
const (
	ReasonMissingToken  = "missing_token"
	ReasonInvalidToken  = "invalid_token"
	ReasonInactive      = "inactive_account"
	ReasonRole          = "role"
	ReasonOrganization  = "organization"
	ReasonNoIdentity    = "no_identity"
	ReasonResolverError = "resolver_error"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*identity.Claims, error)
}

// DenialRecorder counts rejected requests.
type DenialRecorder interface {
	RecordAuthDenial(reason string)
}

// Middleware wires authentication and authorization helpers for HTTP handlers.
type Middleware struct {
	Verifier TokenVerifier
	// Accounts is optional. When set, every request re-reads the account so
	// role changes and deactivation apply before the token expires.
	Accounts AccountResolver
	Service  *Service
	Logger   *slog.Logger
	Denials  DenialRecorder
}

// Authenticate verifies the bearer token and attaches the caller identity.
// A missing token yields 401, a token that fails verification 403.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			m.deny(w, r, http.StatusUnauthorized, ReasonMissingToken, "Access token required")
			return
		}
		claims, err := m.Verifier.Verify(raw)
		if err != nil {
			m.deny(w, r, http.StatusForbidden, ReasonInvalidToken, "Invalid or expired token")
			return
		}
		id := claims.Identity()
		if m.Accounts != nil {
			account, err := m.Accounts.ResolveAccount(r.Context(), id.UserID)
			switch {
			case errors.Is(err, shared.ErrNotFound), errors.Is(err, ErrAccountInactive):
				m.deny(w, r, http.StatusForbidden, ReasonInactive, "Invalid or expired token")
				return
			case err != nil:
				m.logger().Error("resolve account", slog.Any("error", err), slog.String("request_id", middleware.GetReqID(r.Context())))
				m.record(ReasonResolverError)
				httpx.Fail(w, http.StatusInternalServerError, "Internal server error")
				return
			case !account.IsActive:
				m.deny(w, r, http.StatusForbidden, ReasonInactive, "Invalid or expired token")
				return
			}
			id.Email = account.Email
			id.FirstName = account.FirstName
			id.LastName = account.LastName
			id.Role = account.Role
			id.OrganizationID = account.OrganizationID
		}
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

// RequireRoles ensures the caller holds one of roles.
func (m Middleware) RequireRoles(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				m.deny(w, r, http.StatusUnauthorized, ReasonNoIdentity, "Authentication required")
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				m.deny(w, r, http.StatusForbidden, ReasonRole, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCapability resolves capability against the policy and enforces the
// resulting role allow-list.
func (m Middleware) RequireCapability(capability string) func(http.Handler) http.Handler {
	return m.RequireRoles(m.Service.RolesFor(strings.TrimSpace(strings.ToLower(capability)))...)
}

// RequireOrganization ensures the caller is bound to an organization.
func (m Middleware) RequireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			m.deny(w, r, http.StatusUnauthorized, ReasonNoIdentity, "Authentication required")
			return
		}
		if strings.TrimSpace(id.OrganizationID) == "" {
			m.deny(w, r, http.StatusForbidden, ReasonOrganization, "Organization access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, status int, reason, message string) {
	m.logger().Warn("access denied",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	m.record(reason)
	httpx.Fail(w, status, message)
}

func (m Middleware) record(reason string) {
	if m.Denials != nil {
		m.Denials.RecordAuthDenial(reason)
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// extractBearerToken returns the token of a "Bearer <token>" header, or ""
// when the header is absent or uses another scheme.
func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
