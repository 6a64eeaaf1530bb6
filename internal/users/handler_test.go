package users_test

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grc-saas/grc/internal/platform/apitest"
	"github.com/grc-saas/grc/internal/shared"
	"github.com/grc-saas/grc/internal/users"
)

type memRepo struct {
	mu    sync.Mutex
	users map[string]users.User
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]users.User)}
}

func (m *memRepo) seed(id, org string, role shared.Role, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = users.User{ID: id, Email: email, FirstName: "F", LastName: "L", Role: role, OrganizationID: org, IsActive: true, CreatedAt: time.Now()}
}

func (m *memRepo) List(ctx context.Context, orgID string, f shared.ListFilters) ([]users.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []users.User
	for _, u := range m.users {
		if u.OrganizationID != orgID {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(u.Email+u.FirstName+u.LastName), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	total := len(out)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (m *memRepo) Get(ctx context.Context, orgID, id string) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.OrganizationID != orgID {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) Create(ctx context.Context, orgID string, in users.NewUser) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, in.Email) {
			return users.User{}, shared.ErrConflict
		}
	}
	u := users.User{ID: uuid.NewString(), Email: in.Email, FirstName: in.FirstName, LastName: in.LastName, Role: in.Role, OrganizationID: orgID, IsActive: true}
	m.users[u.ID] = u
	return u, nil
}

func (m *memRepo) UpdateProfile(ctx context.Context, orgID, id, first, last string) (users.User, error) {
	u, err := m.Get(ctx, orgID, id)
	if err != nil {
		return users.User{}, err
	}
	u.FirstName, u.LastName = first, last
	m.mu.Lock()
	m.users[id] = u
	m.mu.Unlock()
	return u, nil
}

func (m *memRepo) UpdateAccess(ctx context.Context, orgID, id string, role *shared.Role, active *bool) (users.User, error) {
	u, err := m.Get(ctx, orgID, id)
	if err != nil {
		return users.User{}, err
	}
	if role != nil {
		u.Role = *role
	}
	if active != nil {
		u.IsActive = *active
	}
	m.mu.Lock()
	m.users[id] = u
	m.mu.Unlock()
	return u, nil
}

type fixture struct {
	env    *apitest.Env
	repo   *memRepo
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	env := apitest.New(t)
	repo := newMemRepo()
	h := users.NewHandler(users.NewService(repo, nil, nil), env.Middleware)
	return &fixture{env: env, repo: repo, router: env.Router("/api/users", h.MountRoutes)}
}

func TestProfileRoundTrip(t *testing.T) {
	f := newFixture(t)
	caller := f.env.Caller(t, "org-a", shared.RoleAuditor)
	f.repo.seed(caller.UserID, "org-a", shared.RoleAuditor, "auditor@a.test")

	rr, env := apitest.Do(t, f.router, http.MethodGet, "/api/users/profile", caller.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got users.User
	apitest.Decode(t, env, &got)
	assert.Equal(t, "auditor@a.test", got.Email)

	rr, env = apitest.Do(t, f.router, http.MethodPut, "/api/users/profile", caller.Token, `{"firstName":" Grace ","lastName":"Hopper"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	apitest.Decode(t, env, &got)
	assert.Equal(t, "Grace", got.FirstName)

	rr, _ = apitest.Do(t, f.router, http.MethodPut, "/api/users/profile", caller.Token, `{"firstName":"G","lastName":"H","role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "role must not be settable through the profile")
}

func TestListRequiresAdminAndIsOrgScoped(t *testing.T) {
	f := newFixture(t)
	admin := f.env.Caller(t, "org-a", shared.RoleAdmin)
	f.repo.seed(admin.UserID, "org-a", shared.RoleAdmin, "admin@a.test")
	f.repo.seed(uuid.NewString(), "org-a", shared.RoleUser, "user@a.test")
	f.repo.seed(uuid.NewString(), "org-b", shared.RoleUser, "user@b.test")

	rr, env := apitest.Do(t, f.router, http.MethodGet, "/api/users?limit=1", admin.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, shared.Pagination{Page: 1, Limit: 1, Total: 2, TotalPages: 2}, *env.Pagination)

	rr, env = apitest.Do(t, f.router, http.MethodGet, "/api/users?search=user", admin.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []users.User
	apitest.Decode(t, env, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "user@a.test", list[0].Email)

	manager := f.env.Caller(t, "org-a", shared.RoleComplianceManager)
	rr, env = apitest.Do(t, f.router, http.MethodGet, "/api/users", manager.Token, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Insufficient permissions", env.Error)

	rr, _ = apitest.Do(t, f.router, http.MethodGet, "/api/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	admin := f.env.Caller(t, "org-a", shared.RoleAdmin)

	rr, env := apitest.Do(t, f.router, http.MethodPost, "/api/users", admin.Token,
		`{"email":"New@A.test","password":"longenough","firstName":"N","lastName":"U","role":"vendor_manager"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created users.User
	apitest.Decode(t, env, &created)
	assert.Equal(t, "new@a.test", created.Email)
	assert.Equal(t, shared.RoleVendorManager, created.Role)
	assert.Equal(t, "org-a", created.OrganizationID)

	rr, _ = apitest.Do(t, f.router, http.MethodPost, "/api/users", admin.Token,
		`{"email":"new@a.test","password":"longenough","firstName":"N","lastName":"U"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, env = apitest.Do(t, f.router, http.MethodPost, "/api/users", admin.Token,
		`{"email":"x@a.test","password":"longenough","firstName":"N","lastName":"U","role":"superuser"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, env.Details, "role")
}

func TestUpdateAccess(t *testing.T) {
	f := newFixture(t)
	admin := f.env.Caller(t, "org-a", shared.RoleAdmin)
	f.repo.seed(admin.UserID, "org-a", shared.RoleAdmin, "admin@a.test")
	member := uuid.NewString()
	f.repo.seed(member, "org-a", shared.RoleUser, "member@a.test")
	foreign := uuid.NewString()
	f.repo.seed(foreign, "org-b", shared.RoleUser, "member@b.test")

	rr, env := apitest.Do(t, f.router, http.MethodPatch, "/api/users/"+member, admin.Token, `{"role":"risk_manager","isActive":false}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated users.User
	apitest.Decode(t, env, &updated)
	assert.Equal(t, shared.RoleRiskManager, updated.Role)
	assert.False(t, updated.IsActive)

	rr, _ = apitest.Do(t, f.router, http.MethodPatch, "/api/users/"+foreign, admin.Token, `{"role":"admin"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, shared.RoleUser, f.repo.users[foreign].Role)

	rr, _ = apitest.Do(t, f.router, http.MethodPatch, "/api/users/not-a-uuid", admin.Token, `{"role":"admin"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, env = apitest.Do(t, f.router, http.MethodPatch, "/api/users/"+admin.UserID, admin.Token, `{"role":"user"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "You cannot change your own role", env.Error)

	rr, _ = apitest.Do(t, f.router, http.MethodPatch, "/api/users/"+admin.UserID, admin.Token, `{"isActive":false}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = apitest.Do(t, f.router, http.MethodPatch, "/api/users/"+member, admin.Token, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
