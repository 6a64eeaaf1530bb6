package audits_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grc-saas/grc/internal/audits"
	"github.com/grc-saas/grc/internal/platform/apitest"
	"github.com/grc-saas/grc/internal/shared"
)

type memRepo struct {
	mu    sync.Mutex
	items map[string]audits.Audit
}

func (m *memRepo) List(ctx context.Context, orgID string, f shared.ListFilters) ([]audits.Audit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []audits.Audit{}
	for _, a := range m.items {
		if a.OrganizationID != orgID {
			continue
		}
		if s := f.Filter("status"); s != "" && a.Status != s {
			continue
		}
		if s := f.Filter("type"); s != "" && a.Type != s {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *memRepo) Get(ctx context.Context, orgID, id string) (audits.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.OrganizationID != orgID {
		return audits.Audit{}, shared.ErrNotFound
	}
	return a, nil
}

func fromInput(a audits.Audit, in audits.Input) audits.Audit {
	a.Name, a.Type, a.Status, a.AuditorEmail = in.Name, in.Type, in.Status, in.AuditorEmail
	a.PlannedStartDate, a.PlannedEndDate = in.PlannedStartDate, in.PlannedEndDate
	return a
}

func (m *memRepo) Create(ctx context.Context, orgID string, in audits.Input) (audits.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := fromInput(audits.Audit{ID: uuid.NewString(), OrganizationID: orgID}, in)
	m.items[a.ID] = a
	return a, nil
}

func (m *memRepo) Update(ctx context.Context, orgID, id string, in audits.Input) (audits.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.OrganizationID != orgID {
		return audits.Audit{}, shared.ErrNotFound
	}
	a = fromInput(a, in)
	m.items[id] = a
	return a, nil
}

func (m *memRepo) Delete(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.OrganizationID != orgID {
		return shared.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func newRouter(t *testing.T) (*apitest.Env, http.Handler) {
	env := apitest.New(t)
	now := func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	svc := audits.NewService(&memRepo{items: map[string]audits.Audit{}}, nil, nil, audits.WithClock(now))
	return env, env.Router("/api/audits", audits.NewHandler(svc, env.Middleware).MountRoutes)
}

func TestAuditPlanning(t *testing.T) {
	env, router := newRouter(t)
	auditor := env.Caller(t, "org-a", shared.RoleAuditor)

	rr, body := apitest.Do(t, router, http.MethodPost, "/api/audits", auditor.Token,
		`{"name":"SOC 2 Type II","type":"external","plannedStartDate":"2024-05-01T15:30:00Z","plannedEndDate":"2024-06-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var a audits.Audit
	apitest.Decode(t, body, &a)
	assert.Equal(t, "planned", a.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), a.PlannedStartDate.UTC())
	assert.True(t, a.Overdue)

	rr, body = apitest.Do(t, router, http.MethodPut, "/api/audits/"+a.ID, auditor.Token,
		`{"name":"SOC 2 Type II","type":"external","status":"completed","plannedStartDate":"2024-05-01T00:00:00Z","plannedEndDate":"2024-06-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	apitest.Decode(t, body, &a)
	assert.False(t, a.Overdue)

	apitest.Do(t, router, http.MethodPost, "/api/audits", auditor.Token,
		`{"name":"Quarterly access","type":"internal","plannedStartDate":"2024-07-01T00:00:00Z","plannedEndDate":"2024-07-01T00:00:00Z"}`)
	rr, body = apitest.Do(t, router, http.MethodGet, "/api/audits?type=internal", auditor.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []audits.Audit
	apitest.Decode(t, body, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Quarterly access", list[0].Name)

	rr, body = apitest.Do(t, router, http.MethodGet, "/api/audits?status=completed", auditor.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	apitest.Decode(t, body, &list)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestAuditValidationAndScope(t *testing.T) {
	env, router := newRouter(t)
	manager := env.Caller(t, "org-a", shared.RoleComplianceManager)
	vendorManager := env.Caller(t, "org-a", shared.RoleVendorManager)
	other := env.Caller(t, "org-b", shared.RoleAdmin)

	rr, _ := apitest.Do(t, router, http.MethodPost, "/api/audits", manager.Token,
		`{"name":"Backwards","type":"internal","plannedStartDate":"2024-07-02T00:00:00Z","plannedEndDate":"2024-07-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = apitest.Do(t, router, http.MethodPost, "/api/audits", manager.Token,
		`{"name":"Unknown type","type":"casual","plannedStartDate":"2024-07-01T00:00:00Z","plannedEndDate":"2024-07-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = apitest.Do(t, router, http.MethodPost, "/api/audits", vendorManager.Token,
		`{"name":"No rights","type":"internal","plannedStartDate":"2024-07-01T00:00:00Z","plannedEndDate":"2024-07-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, body := apitest.Do(t, router, http.MethodPost, "/api/audits", manager.Token,
		`{"name":"ISO","type":"regulatory","plannedStartDate":"2024-07-01T00:00:00Z","plannedEndDate":"2024-08-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var a audits.Audit
	apitest.Decode(t, body, &a)

	rr, _ = apitest.Do(t, router, http.MethodGet, "/api/audits/"+a.ID, other.Token, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = apitest.Do(t, router, http.MethodDelete, "/api/audits/"+a.ID, other.Token, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, body = apitest.Do(t, router, http.MethodGet, "/api/audits", other.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, body.Pagination.Total)
}
