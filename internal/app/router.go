package app

import (
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/audits"
	"github.com/grc-saas/grc/internal/auth"
	"github.com/grc-saas/grc/internal/compliance"
	"github.com/grc-saas/grc/internal/dashboard"
	"github.com/grc-saas/grc/internal/evidence"
	"github.com/grc-saas/grc/internal/integrations"
	"github.com/grc-saas/grc/internal/observability"
	"github.com/grc-saas/grc/internal/organizations"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/risks"
	"github.com/grc-saas/grc/internal/shared"
	"github.com/grc-saas/grc/internal/tasks"
	"github.com/grc-saas/grc/internal/users"
	"github.com/grc-saas/grc/internal/vendors"
	"github.com/grc-saas/grc/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
// Nil handlers are skipped.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	RBACMiddleware rbac.Middleware

	AuthHandler         *auth.Handler
	PermissionsHandler  *rbac.PermissionsHandler
	UsersHandler        *users.Handler
	OrganizationHandler *organizations.Handler
	ComplianceHandler   *compliance.Handler
	EvidenceHandler     *evidence.Handler
	RisksHandler        *risks.Handler
	VendorsHandler      *vendors.Handler
	AuditsHandler       *audits.Handler
	TasksHandler        *tasks.Handler
	IntegrationsHandler *integrations.Handler
	DashboardHandler    *dashboard.Handler
	// Dashboard is used to drop cached stats after successful writes.
	Dashboard  *dashboard.Service
	JobHandler *jobs.Handler

	// Static serves the client bundle; nil disables the fallback.
	Static fs.FS
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}

// NewRouter constructs the chi.Router with the platform defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(RequestLogger(params.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, HealthStatus{
			Status:    "OK",
			Timestamp: time.Now().UTC(),
			Uptime:    Uptime().Seconds(),
		})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APIRateLimiter(params.Config))

		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}

		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.Authenticate)
			r.Use(params.RBACMiddleware.RequireOrganization)
			if params.Dashboard != nil {
				r.Use(params.Dashboard.InvalidateOnWrite)
			}

			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.OrganizationHandler != nil {
				r.Route("/organization", params.OrganizationHandler.MountRoutes)
			}
			if params.ComplianceHandler != nil {
				if params.EvidenceHandler != nil {
					params.ComplianceHandler.WithEvidenceRoutes(params.EvidenceHandler.MountControlRoutes)
				}
				r.Route("/compliance", params.ComplianceHandler.MountRoutes)
			}
			if params.EvidenceHandler != nil {
				r.Route("/evidence", params.EvidenceHandler.MountRoutes)
			}
			if params.RisksHandler != nil {
				r.Route("/risks", params.RisksHandler.MountRoutes)
			}
			if params.VendorsHandler != nil {
				r.Route("/vendors", params.VendorsHandler.MountRoutes)
			}
			if params.AuditsHandler != nil {
				r.Route("/audits", params.AuditsHandler.MountRoutes)
			}
			if params.TasksHandler != nil {
				r.Route("/tasks", params.TasksHandler.MountRoutes)
			}
			if params.IntegrationsHandler != nil {
				r.Route("/integrations", params.IntegrationsHandler.MountRoutes)
			}
			if params.DashboardHandler != nil {
				r.Route("/dashboard", params.DashboardHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", func(r chi.Router) {
					r.Use(params.RBACMiddleware.RequireRoles(shared.RoleAdmin))
					params.JobHandler.MountRoutes(r)
				})
			}
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusNotFound, "Route not found")
		})
	})

	if params.Static != nil {
		r.NotFound(spaHandler(params.Static))
	}
	return r
}

// spaHandler serves files from the bundle and falls back to index.html so
// client-side routes survive a reload.
func spaHandler(static fs.FS) http.HandlerFunc {
	files := http.FileServer(http.FS(static))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			httpx.Fail(w, http.StatusNotFound, "Route not found")
			return
		}
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name != "" {
			if info, err := fs.Stat(static, name); err == nil && !info.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}
		index, err := fs.ReadFile(static, "index.html")
		if err != nil {
			httpx.Fail(w, http.StatusNotFound, "Route not found")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	}
}
