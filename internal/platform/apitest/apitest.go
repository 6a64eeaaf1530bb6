// Package apitest builds guarded routers and signed requests for handler tests.
package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// Env wires the access guard the same way the application router does.
type Env struct {
	Tokens     *identity.Service
	Middleware rbac.Middleware
}

// New returns an Env signing with a throwaway key.
func New(t testing.TB) *Env {
	t.Helper()
	tokens, err := identity.NewService("apitest-secret")
	require.NoError(t, err)
	return &Env{
		Tokens:     tokens,
		Middleware: rbac.Middleware{Verifier: tokens, Service: rbac.NewService(nil)},
	}
}

// Caller is a signed-in test user.
type Caller struct {
	UserID         string
	OrganizationID string
	Role           shared.Role
	Token          string
}

// Caller issues a token for a fresh user of org with role.
func (e *Env) Caller(t testing.TB, org string, role shared.Role) Caller {
	t.Helper()
	c := Caller{UserID: uuid.NewString(), OrganizationID: org, Role: role}
	token, _, err := e.Tokens.Issue(identity.Subject{
		UserID:         c.UserID,
		Email:          string(role) + "@example.test",
		FirstName:      "Test",
		LastName:       "Caller",
		Role:           role,
		OrganizationID: org,
	})
	require.NoError(t, err)
	c.Token = token
	return c
}

// Router mounts fn under prefix behind Authenticate and RequireOrganization.
func (e *Env) Router(prefix string, fn func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(e.Middleware.Authenticate, e.Middleware.RequireOrganization)
		r.Route(prefix, fn)
	})
	return r
}

// Do performs a request as caller and decodes the envelope. An empty token
// sends no Authorization header.
func Do(t testing.TB, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env httpx.Envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

// Decode re-marshals env.Data into dest.
func Decode(t testing.TB, env httpx.Envelope, dest any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}
