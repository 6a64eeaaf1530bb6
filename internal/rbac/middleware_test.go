package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/shared"
)

type stubResolver struct {
	accounts map[string]Account
	err      error
}

func (s *stubResolver) ResolveAccount(ctx context.Context, userID string) (Account, error) {
	if s.err != nil {
		return Account{}, s.err
	}
	acc, ok := s.accounts[userID]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return acc, nil
}

type countingDenials struct {
	reasons []string
}

func (c *countingDenials) RecordAuthDenial(reason string) {
	c.reasons = append(c.reasons, reason)
}

func newTokens(t *testing.T) *identity.Service {
	t.Helper()
	svc, err := identity.NewService("rbac-test-key")
	require.NoError(t, err)
	return svc
}

func issue(t *testing.T, tokens *identity.Service, role shared.Role) string {
	t.Helper()
	token, _, err := tokens.Issue(identity.Subject{
		UserID:         "u-1",
		Email:          "u1@example.com",
		Role:           role,
		OrganizationID: "org-1",
	})
	require.NoError(t, err)
	return token
}

// guardedRouter mounts an admin-only route behind Authenticate the way the API router does.
func guardedRouter(m Middleware, reached *bool) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(m.Authenticate)
		r.Use(m.RequireOrganization)
		r.With(m.RequireRoles(shared.RoleAdmin)).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
			*reached = true
			id, _ := identity.FromContext(r.Context())
			_, _ = w.Write([]byte(string(id.Role)))
		})
		r.With(m.RequireCapability(shared.CapRisksEdit)).Post("/risks", func(w http.ResponseWriter, r *http.Request) {
			*reached = true
		})
		r.With(m.RequireCapability("unknown.capability")).Get("/nowhere", func(w http.ResponseWriter, r *http.Request) {
			*reached = true
		})
	})
	return r
}

func TestAuthenticateMissingTokenIs401(t *testing.T) {
	denials := &countingDenials{}
	m := Middleware{Verifier: newTokens(t), Service: NewService(nil), Denials: denials}
	var reached bool
	router := guardedRouter(m, &reached)

	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "header %q", header)
		assert.Contains(t, rr.Body.String(), "Access token required")
	}
	assert.False(t, reached)
	// role and organization checks never ran
	for _, reason := range denials.reasons {
		assert.Equal(t, ReasonMissingToken, reason)
	}
}

func TestAuthenticateInvalidTokenIs403(t *testing.T) {
	m := Middleware{Verifier: newTokens(t), Service: NewService(nil)}
	var reached bool
	router := guardedRouter(m, &reached)

	other, err := identity.NewService("some-other-key")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, other, shared.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid or expired token")
	assert.False(t, reached)
}

func TestRequireRolesAdminOnly(t *testing.T) {
	tokens := newTokens(t)
	m := Middleware{Verifier: tokens, Service: NewService(nil)}

	var reached bool
	router := guardedRouter(m, &reached)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, shared.RoleUser))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Insufficient permissions")
	assert.False(t, reached)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "bearer "+issue(t, tokens, shared.RoleAdmin))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "admin", rr.Body.String())
	assert.True(t, reached)
}

func TestRequireCapabilityUsesPolicy(t *testing.T) {
	tokens := newTokens(t)
	m := Middleware{Verifier: tokens, Service: NewService(nil)}

	cases := []struct {
		role   shared.Role
		status int
	}{
		{shared.RoleRiskManager, http.StatusOK},
		{shared.RoleAdmin, http.StatusOK},
		{shared.RoleAuditor, http.StatusForbidden},
		{shared.RoleUser, http.StatusForbidden},
	}
	for _, tc := range cases {
		var reached bool
		router := guardedRouter(m, &reached)
		req := httptest.NewRequest(http.MethodPost, "/risks", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, tokens, tc.role))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, tc.status, rr.Code, string(tc.role))
		assert.Equal(t, tc.status == http.StatusOK, reached)
	}

	var reached bool
	router := guardedRouter(m, &reached)
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, shared.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, reached)
}

func TestSecondaryGuardsRefuseWithoutIdentity(t *testing.T) {
	m := Middleware{Service: NewService(nil)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	rr := httptest.NewRecorder()
	m.RequireRoles(shared.RoleAdmin)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	m.RequireOrganization(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(identity.WithIdentity(req.Context(), identity.Identity{UserID: "u-1", Role: shared.RoleAdmin}))
	rr = httptest.NewRecorder()
	m.RequireOrganization(next).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAuthenticateResolvesLiveAccount(t *testing.T) {
	tokens := newTokens(t)
	resolver := &stubResolver{accounts: map[string]Account{
		"u-1": {ID: "u-1", Email: "u1@example.com", Role: shared.RoleUser, OrganizationID: "org-1", IsActive: true},
	}}
	m := Middleware{Verifier: tokens, Accounts: resolver, Service: NewService(nil)}

	// token still says admin, the account was demoted
	var reached bool
	router := guardedRouter(m, &reached)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, shared.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, reached)

	resolver.accounts["u-1"] = Account{ID: "u-1", Role: shared.RoleAdmin, OrganizationID: "org-1", IsActive: false}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, shared.RoleAdmin))
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	delete(resolver.accounts, "u-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	resolver.err = errors.New("db down")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, reached)
}

func TestPolicyCapabilities(t *testing.T) {
	svc := NewService(nil)
	assert.True(t, svc.Allowed(shared.RoleAdmin, shared.CapUsersManage))
	assert.False(t, svc.Allowed(shared.RoleComplianceManager, shared.CapUsersManage))
	assert.True(t, svc.Allowed(shared.RoleUser, shared.CapTasksEdit))
	assert.False(t, svc.Allowed(shared.RoleAdmin, "nonexistent"))

	caps := svc.Capabilities(shared.RoleAdmin)
	assert.ElementsMatch(t, shared.CoreCapabilities(), caps)
	assert.Equal(t, []string{shared.CapTasksEdit}, svc.Capabilities(shared.RoleUser))

	// every declared capability names at least one role and admin holds all
	for _, capability := range shared.CoreCapabilities() {
		roles := svc.RolesFor(capability)
		assert.NotEmpty(t, roles, capability)
		assert.Contains(t, roles, shared.RoleAdmin, capability)
	}
}

func TestPermissionsHandler(t *testing.T) {
	h := NewPermissionsHandler(NewService(nil))
	r := chi.NewRouter()
	h.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(identity.WithIdentity(req.Context(), identity.Identity{UserID: "u", OrganizationID: "o", Role: shared.RoleVendorManager}))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"data":{"role":"vendor_manager","capabilities":["tasks.edit","vendors.edit"]}}`, rr.Body.String())
}
