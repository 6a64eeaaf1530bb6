package dashboard_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grc-saas/grc/internal/dashboard"
	"github.com/grc-saas/grc/internal/dashboard/chart"
	"github.com/grc-saas/grc/internal/platform/apitest"
	"github.com/grc-saas/grc/internal/platform/cache"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/scoring"
	"github.com/grc-saas/grc/internal/shared"
)

type stubRepo struct {
	calls       atomic.Int32
	matrixCalls atomic.Int32
	risks       map[string]map[int]int
	failOn      string
}

func (s *stubRepo) Totals(ctx context.Context, orgID string) (dashboard.Totals, error) {
	s.calls.Add(1)
	if orgID == s.failOn {
		return dashboard.Totals{}, errors.New("boom")
	}
	n := 0
	for _, c := range s.risks[orgID] {
		n += c
	}
	return dashboard.Totals{Risks: n, Controls: 3}, nil
}

func (s *stubRepo) RiskScoreCounts(ctx context.Context, orgID string) (map[int]int, error) {
	return s.risks[orgID], nil
}

func (s *stubRepo) RequirementCoverage(ctx context.Context, orgID string) (int, int, error) {
	return 3, 2, nil
}

func (s *stubRepo) OverdueCounts(ctx context.Context, orgID string, now time.Time) (int, int, error) {
	return 4, 1, nil
}

func (s *stubRepo) OpenAudits(ctx context.Context, orgID string) (int, error) { return 2, nil }

func (s *stubRepo) HighRiskVendors(ctx context.Context, orgID string) (int, error) { return 1, nil }

func (s *stubRepo) RiskMatrix(ctx context.Context, orgID string) (chart.Matrix, error) {
	s.matrixCalls.Add(1)
	var m chart.Matrix
	if orgID == "org-a" {
		m.Add(4, 5)
		m.Add(4, 5)
		m.Add(1, 1)
	}
	return m, nil
}

type fixture struct {
	env    *apitest.Env
	repo   *stubRepo
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := apitest.New(t)
	repo := &stubRepo{risks: map[string]map[int]int{
		"org-a": {1: 1, 4: 2, 9: 1, 12: 1, 20: 3},
		"org-b": {25: 1},
	}}
	svc := dashboard.NewService(repo, cache.NewJSONCache(client, "dashboard", time.Minute), nil).
		WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	router := env.Router("/api", func(r chi.Router) {
		r.Use(svc.InvalidateOnWrite)
		r.Route("/dashboard", dashboard.NewHandler(svc).MountRoutes)
		r.Post("/risks", func(w http.ResponseWriter, r *http.Request) { httpx.Created(w, nil, "ok") })
		r.Post("/broken", func(w http.ResponseWriter, r *http.Request) { httpx.Fail(w, http.StatusBadRequest, "no") })
	})
	return &fixture{env: env, repo: repo, router: router}
}

func TestStatsAggregatesAndCaches(t *testing.T) {
	f := newFixture(t)
	user := f.env.Caller(t, "org-a", shared.RoleUser)

	rr, body := apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", user.Token, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var stats dashboard.Stats
	apitest.Decode(t, body, &stats)
	assert.Equal(t, 8, stats.Totals.Risks)
	assert.Equal(t, map[scoring.Level]int{
		scoring.LevelLow: 3, scoring.LevelMedium: 1, scoring.LevelHigh: 1, scoring.LevelCritical: 3,
	}, stats.RiskLevels)
	assert.Equal(t, 67, stats.OverallCompliance)
	assert.Equal(t, 4, stats.OverdueTasks)
	assert.Equal(t, 1, stats.OverdueControls)
	assert.Equal(t, 2, stats.OpenAudits)

	apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", user.Token, "")
	assert.Equal(t, int32(1), f.repo.calls.Load())

	rr, _ = apitest.Do(t, f.router, http.MethodPost, "/api/broken", user.Token, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", user.Token, "")
	assert.Equal(t, int32(1), f.repo.calls.Load(), "failed writes keep the cache")

	rr, _ = apitest.Do(t, f.router, http.MethodPost, "/api/risks", user.Token, "")
	require.Equal(t, http.StatusCreated, rr.Code)
	apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", user.Token, "")
	assert.Equal(t, int32(2), f.repo.calls.Load())
}

func TestStatsAreOrgScoped(t *testing.T) {
	f := newFixture(t)
	a := f.env.Caller(t, "org-a", shared.RoleAdmin)
	b := f.env.Caller(t, "org-b", shared.RoleAdmin)

	apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", a.Token, "")
	rr, body := apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", b.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats dashboard.Stats
	apitest.Decode(t, body, &stats)
	assert.Equal(t, 1, stats.Totals.Risks)
	assert.Equal(t, 1, stats.RiskLevels[scoring.LevelCritical])
	assert.Equal(t, 0, stats.RiskLevels[scoring.LevelLow])
}

func TestStatsFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.failOn = "org-a"
	user := f.env.Caller(t, "org-a", shared.RoleUser)

	rr, _ := apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/stats", user.Token, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRiskCharts(t *testing.T) {
	f := newFixture(t)
	user := f.env.Caller(t, "org-a", shared.RoleUser)

	rr, _ := apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/risk-heatmap.svg", user.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, "3 risks by likelihood and impact")
	assert.Contains(t, body, `data-likelihood="4" data-impact="5" data-level="critical"`)

	apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/risk-heatmap.svg", user.Token, "")
	assert.Equal(t, int32(1), f.repo.matrixCalls.Load())

	rr, _ = apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/risk-levels.svg", user.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `aria-label="critical"`)

	rr, _ = apitest.Do(t, f.router, http.MethodGet, "/api/dashboard/risk-heatmap.svg", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
