package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/grc-saas/grc/internal/auth"
	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/shared"
	"github.com/grc-saas/grc/jobs"
	_ "github.com/grc-saas/grc/testing"
)

type stubRepo struct {
	mu      sync.Mutex
	users   map[string]*auth.User
	touched []string
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[string]*auth.User)}
}

func (s *stubRepo) add(t *testing.T, email, password string, active bool) *auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &auth.User{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordHash:   string(hash),
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Role:           shared.RoleRiskManager,
		OrganizationID: uuid.NewString(),
		IsActive:       active,
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return u
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubRepo) CreateOrganizationWithAdmin(ctx context.Context, org auth.NewOrganization, admin auth.NewAccount) (*auth.User, error) {
	if _, err := s.FindByEmail(ctx, admin.Email); err == nil {
		return nil, shared.ErrConflict
	}
	u := &auth.User{
		ID:             uuid.NewString(),
		Email:          admin.Email,
		PasswordHash:   admin.PasswordHash,
		FirstName:      admin.FirstName,
		LastName:       admin.LastName,
		Role:           shared.RoleAdmin,
		OrganizationID: uuid.NewString(),
		IsActive:       true,
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	cp := *u
	return &cp, nil
}

func (s *stubRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *stubRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type stubMail struct {
	sent []jobs.SendEmailPayload
}

func (m *stubMail) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	m.sent = append(m.sent, payload)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: jobs.QueueDefault}, nil
}

type stubAudit struct {
	actions []string
}

func (a *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type fixture struct {
	router http.Handler
	repo   *stubRepo
	mail   *stubMail
	audit  *stubAudit
	tokens *identity.Service
	redis  *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tokens, err := identity.NewService("test-secret")
	require.NoError(t, err)

	f := &fixture{repo: newStubRepo(), mail: &stubMail{}, audit: &stubAudit{}, tokens: tokens, redis: mr}
	service := auth.NewService(auth.ServiceConfig{
		Repo:        f.repo,
		Tokens:      tokens,
		Resets:      auth.NewRedisResetStore(client),
		Mail:        f.mail,
		Audit:       f.audit,
		FrontendURL: "https://app.example.test/",
	})
	r := chi.NewRouter()
	r.Route("/api/auth", auth.NewHandler(nil, service).MountRoutes)
	f.router = r
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth"+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func sessionToken(t *testing.T, env httpx.Envelope) string {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	require.True(t, ok, "session payload missing")
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterCreatesAdminOfNewOrganization(t *testing.T) {
	f := newFixture(t)

	rr, env := f.post(t, "/register", `{"email":"  Owner@Example.test ","password":"longenough","firstName":"Olive","lastName":"Owner","organizationName":"Acme"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, env.Success)

	claims, err := f.tokens.Verify(sessionToken(t, env))
	require.NoError(t, err)
	assert.Equal(t, shared.RoleAdmin, claims.Role)
	assert.Equal(t, "owner@example.test", claims.Email)
	assert.NotEmpty(t, claims.OrganizationID)
	assert.Contains(t, f.audit.actions, "user.registered")

	rr, env = f.post(t, "/register", `{"email":"owner@example.test","password":"longenough","firstName":"O","lastName":"O","organizationName":"Other"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.False(t, env.Success)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t)

	rr, env := f.post(t, "/register", `{"email":"not-an-email","password":"short","firstName":"","lastName":"x","organizationName":"Acme"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Validation failed", env.Error)
	assert.Contains(t, env.Details, "email")
	assert.Contains(t, env.Details, "password")
	assert.Contains(t, env.Details, "firstName")

	rr, _ = f.post(t, "/register", `{"email":"a@b.test","password":"longenough","firstName":"a","lastName":"b","organizationName":"c","organizationId":"forged"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "active@example.test", "correctpass", true)
	f.repo.add(t, "inactive@example.test", "correctpass", false)

	cases := []string{
		`{"email":"active@example.test","password":"wrongpass"}`,
		`{"email":"nobody@example.test","password":"correctpass"}`,
		`{"email":"inactive@example.test","password":"correctpass"}`,
	}
	var bodies []string
	for _, body := range cases {
		rr, env := f.post(t, "/login", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, body)
		assert.Equal(t, "Invalid credentials", env.Error)
		bodies = append(bodies, rr.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
	assert.Empty(t, f.repo.touched)
}

func TestLoginIssuesTokenAndTouchesLastLogin(t *testing.T) {
	f := newFixture(t)
	user := f.repo.add(t, "active@example.test", "correctpass", true)

	rr, env := f.post(t, "/login", `{"email":" ACTIVE@example.test ","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Login successful", env.Message)

	claims, err := f.tokens.Verify(sessionToken(t, env))
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.OrganizationID, claims.OrganizationID)
	assert.Equal(t, shared.RoleRiskManager, claims.Role)
	assert.Equal(t, []string{user.ID}, f.repo.touched)
	assert.Contains(t, f.audit.actions, "user.login")
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	user := f.repo.add(t, "active@example.test", "correctpass", true)
	token, _, err := f.tokens.Issue(identity.Subject{
		UserID: user.ID, Email: user.Email, FirstName: "A", LastName: "L",
		Role: shared.RoleUser, OrganizationID: user.OrganizationID,
	})
	require.NoError(t, err)

	rr, env := f.post(t, "/refresh", `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	claims, err := f.tokens.Verify(sessionToken(t, env))
	require.NoError(t, err)
	// role comes from the stored account, not the old token
	assert.Equal(t, shared.RoleRiskManager, claims.Role)

	rr, _ = f.post(t, "/refresh", `{"token":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	f.repo.users[user.ID].IsActive = false
	rr, _ = f.post(t, "/refresh", `{"token":"`+token+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	user := f.repo.add(t, "active@example.test", "correctpass", true)

	rr, unknown := f.post(t, "/forgot-password", `{"email":"nobody@example.test"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, f.mail.sent)

	rr, known := f.post(t, "/forgot-password", `{"email":" Active@Example.test "}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, unknown.Message, known.Message)
	require.Len(t, f.mail.sent, 1)
	mail := f.mail.sent[0]
	assert.Equal(t, "active@example.test", mail.To)

	const marker = "https://app.example.test/reset-password?token="
	idx := strings.Index(mail.Body, marker)
	require.GreaterOrEqual(t, idx, 0, mail.Body)
	token := strings.Fields(mail.Body[idx+len(marker):])[0]
	assert.True(t, f.redis.Exists("auth:reset:"+token))
	assert.Equal(t, time.Hour, f.redis.TTL("auth:reset:"+token))

	rr, _ = f.post(t, "/reset-password", `{"token":"`+token+`","newPassword":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, f.redis.Exists("auth:reset:"+token), "weak password must not burn the token")

	rr, env := f.post(t, "/reset-password", `{"token":"`+token+`","newPassword":"brand-new-pass"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Password reset successfully", env.Message)
	assert.False(t, f.redis.Exists("auth:reset:"+token))
	assert.True(t, shared.CheckPassword(f.repo.users[user.ID].PasswordHash, "brand-new-pass"))

	rr, env = f.post(t, "/reset-password", `{"token":"`+token+`","newPassword":"another-pass"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid or expired reset token", env.Error)

	rr, _ = f.post(t, "/login", `{"email":"active@example.test","password":"brand-new-pass"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogoutAcknowledges(t *testing.T) {
	f := newFixture(t)
	rr, env := f.post(t, "/logout", `{}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)
}
