// Package dashboard aggregates per-organization posture figures.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/grc-saas/grc/internal/dashboard/chart"
	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/cache"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/scoring"
)

// Totals counts the tenant's entities.
type Totals struct {
	Frameworks int `json:"frameworks"`
	Controls   int `json:"controls"`
	Risks      int `json:"risks"`
	Vendors    int `json:"vendors"`
	Audits     int `json:"audits"`
	Tasks      int `json:"tasks"`
}

// Stats is the dashboard payload.
type Stats struct {
	Totals            Totals                `json:"totals"`
	RiskLevels        map[scoring.Level]int `json:"riskLevels"`
	OverallCompliance int                   `json:"overallCompliance"`
	OverdueTasks      int                   `json:"overdueTasks"`
	OverdueControls   int                   `json:"overdueControls"`
	OpenAudits        int                   `json:"openAudits"`
	HighRiskVendors   int                   `json:"highRiskVendors"`
	GeneratedAt       time.Time             `json:"generatedAt"`
}

// RepositoryPort reads aggregate figures for one organization.
type RepositoryPort interface {
	Totals(ctx context.Context, orgID string) (Totals, error)
	// RiskScoreCounts maps each inherent score to its number of risks.
	RiskScoreCounts(ctx context.Context, orgID string) (map[int]int, error)
	RequirementCoverage(ctx context.Context, orgID string) (total, compliant int, err error)
	OverdueCounts(ctx context.Context, orgID string, now time.Time) (tasks, controls int, err error)
	OpenAudits(ctx context.Context, orgID string) (int, error)
	HighRiskVendors(ctx context.Context, orgID string) (int, error)
	RiskMatrix(ctx context.Context, orgID string) (chart.Matrix, error)
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Totals counts the tenant's entities in one round trip.
func (r *Repository) Totals(ctx context.Context, orgID string) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM compliance_frameworks WHERE organization_id = $1 AND is_active),
			(SELECT COUNT(*) FROM controls WHERE organization_id = $1),
			(SELECT COUNT(*) FROM risks WHERE organization_id = $1),
			(SELECT COUNT(*) FROM vendors WHERE organization_id = $1),
			(SELECT COUNT(*) FROM audits WHERE organization_id = $1),
			(SELECT COUNT(*) FROM tasks WHERE organization_id = $1)`, orgID).
		Scan(&t.Frameworks, &t.Controls, &t.Risks, &t.Vendors, &t.Audits, &t.Tasks)
	return t, err
}

// RiskScoreCounts groups risks by inherent score.
func (r *Repository) RiskScoreCounts(ctx context.Context, orgID string) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT inherent_likelihood * inherent_impact, COUNT(*) FROM risks
		WHERE organization_id = $1 GROUP BY 1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]int{}
	for rows.Next() {
		var score, count int
		if err := rows.Scan(&score, &count); err != nil {
			return nil, err
		}
		out[score] = count
	}
	return out, rows.Err()
}

// RequirementCoverage counts requirements of active frameworks and those
// mapped to at least one effective control.
func (r *Repository) RequirementCoverage(ctx context.Context, orgID string) (int, int, error) {
	var total, compliant int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM control_requirements cr JOIN controls c ON c.id = cr.control_id
				WHERE cr.requirement_id = req.id AND c.organization_id = $1 AND c.effectiveness = 'effective'))
		FROM compliance_requirements req
		JOIN compliance_frameworks f ON f.id = req.framework_id
		WHERE f.organization_id = $1 AND f.is_active`, orgID).Scan(&total, &compliant)
	return total, compliant, err
}

// OverdueCounts counts open tasks past due and controls past their test date.
func (r *Repository) OverdueCounts(ctx context.Context, orgID string, now time.Time) (int, int, error) {
	var tasks, controls int
	err := r.pool.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM tasks WHERE organization_id = $1 AND due_date < $2
				AND status NOT IN ('done', 'cancelled')),
			(SELECT COUNT(*) FROM controls WHERE organization_id = $1 AND next_test_due < $2 AND status <> $3)`,
		orgID, now, scoring.ControlStatusInactive).Scan(&tasks, &controls)
	return tasks, controls, err
}

// OpenAudits counts audits not yet completed.
func (r *Repository) OpenAudits(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audits WHERE organization_id = $1 AND status <> 'completed'`, orgID).Scan(&n)
	return n, err
}

// HighRiskVendors counts active vendors rated high or critical.
func (r *Repository) HighRiskVendors(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vendors WHERE organization_id = $1
		AND status <> 'inactive' AND risk_level IN ('high', 'critical')`, orgID).Scan(&n)
	return n, err
}

// RiskMatrix counts risks per inherent likelihood and impact pair.
func (r *Repository) RiskMatrix(ctx context.Context, orgID string) (chart.Matrix, error) {
	var m chart.Matrix
	rows, err := r.pool.Query(ctx, `SELECT inherent_likelihood, inherent_impact, COUNT(*) FROM risks
		WHERE organization_id = $1 GROUP BY 1, 2`, orgID)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var l, i, n int
		if err := rows.Scan(&l, &i, &n); err != nil {
			return m, err
		}
		for ; n > 0; n-- {
			m.Add(l, i)
		}
	}
	return m, rows.Err()
}

var _ RepositoryPort = (*Repository)(nil)

// Service computes and caches dashboard stats.
type Service struct {
	repo   RepositoryPort
	cache  *cache.JSONCache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. A nil cache computes on every call.
func NewService(repo RepositoryPort, c *cache.JSONCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Stats returns the caller's dashboard figures, served from cache while the
// organization's data is unchanged.
func (s *Service) Stats(ctx context.Context, caller identity.Identity) (Stats, error) {
	orgID := caller.OrganizationID
	key, err := s.cache.BuildKey(ctx, orgID, "stats")
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		return s.compute(ctx, orgID)
	}
	var out Stats
	if err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.compute(ctx, orgID)
	}); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Heatmap renders the caller's risk matrix as SVG. The matrix shares the
// stats cache version so writes invalidate both.
func (s *Service) Heatmap(ctx context.Context, caller identity.Identity) (string, error) {
	orgID := caller.OrganizationID
	load := func(ctx context.Context) (any, error) { return s.repo.RiskMatrix(ctx, orgID) }
	var m chart.Matrix
	key, err := s.cache.BuildKey(ctx, orgID, "matrix")
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		if m, err = s.repo.RiskMatrix(ctx, orgID); err != nil {
			return "", err
		}
	} else if err := s.cache.FetchJSON(ctx, key, &m, load); err != nil {
		return "", err
	}
	return chart.Heatmap(0, 0, m, chart.Opts{Title: "Risk heatmap", Description: fmt.Sprintf("%d risks by likelihood and impact", m.Total())})
}

// LevelChart renders the caller's risk level distribution as SVG.
func (s *Service) LevelChart(ctx context.Context, caller identity.Identity) (string, error) {
	stats, err := s.Stats(ctx, caller)
	if err != nil {
		return "", err
	}
	return chart.LevelBars(0, 0, stats.RiskLevels, chart.Opts{Title: "Risk levels"})
}

// Invalidate drops the cached figures of orgID.
func (s *Service) Invalidate(ctx context.Context, orgID string) error {
	return s.cache.Bump(ctx, orgID)
}

func (s *Service) compute(ctx context.Context, orgID string) (Stats, error) {
	now := s.now()
	stats := Stats{
		RiskLevels: map[scoring.Level]int{
			scoring.LevelLow: 0, scoring.LevelMedium: 0, scoring.LevelHigh: 0, scoring.LevelCritical: 0,
		},
		GeneratedAt: now,
	}
	var scores map[int]int
	var total, compliant int

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.repo.Totals(ctx, orgID)
		if err != nil {
			return fmt.Errorf("totals: %w", err)
		}
		stats.Totals = t
		return nil
	})
	g.Go(func() error {
		var err error
		scores, err = s.repo.RiskScoreCounts(ctx, orgID)
		if err != nil {
			return fmt.Errorf("risk scores: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, compliant, err = s.repo.RequirementCoverage(ctx, orgID)
		if err != nil {
			return fmt.Errorf("coverage: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		tasks, controls, err := s.repo.OverdueCounts(ctx, orgID, now)
		if err != nil {
			return fmt.Errorf("overdue: %w", err)
		}
		stats.OverdueTasks, stats.OverdueControls = tasks, controls
		return nil
	})
	g.Go(func() error {
		n, err := s.repo.OpenAudits(ctx, orgID)
		if err != nil {
			return fmt.Errorf("open audits: %w", err)
		}
		stats.OpenAudits = n
		return nil
	})
	g.Go(func() error {
		n, err := s.repo.HighRiskVendors(ctx, orgID)
		if err != nil {
			return fmt.Errorf("vendors: %w", err)
		}
		stats.HighRiskVendors = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	for score, count := range scores {
		stats.RiskLevels[scoring.RiskLevel(score)] += count
	}
	stats.OverallCompliance = scoring.CompliancePercentage(total, compliant)
	return stats, nil
}

// Handler exposes the dashboard endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stats", h.stats)
	r.Get("/risk-heatmap.svg", h.svg(h.service.Heatmap))
	r.Get("/risk-levels.svg", h.svg(h.service.LevelChart))
}

func (h *Handler) svg(render func(context.Context, identity.Identity) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := identity.Require(r.Context())
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		out, err := render(r.Context(), caller)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "private, no-cache")
		_, _ = w.Write([]byte(out))
	}
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stats, err := h.service.Stats(r.Context(), caller)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, stats)
}

// InvalidateOnWrite bumps the caller organization's cache version after
// every successful non-GET request.
func (s *Service) InvalidateOnWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusBadRequest {
			return
		}
		caller, ok := identity.FromContext(r.Context())
		if !ok || caller.OrganizationID == "" {
			return
		}
		if err := s.Invalidate(context.WithoutCancel(r.Context()), caller.OrganizationID); err != nil {
			s.logger.Warn("dashboard cache invalidation", slog.String("organization_id", caller.OrganizationID), slog.Any("error", err))
		}
	})
}
