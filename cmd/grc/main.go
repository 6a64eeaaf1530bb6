package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/grc-saas/grc/cmd/grc/cli"
	"github.com/grc-saas/grc/internal/app"
	"github.com/grc-saas/grc/internal/audits"
	"github.com/grc-saas/grc/internal/auth"
	"github.com/grc-saas/grc/internal/compliance"
	"github.com/grc-saas/grc/internal/dashboard"
	"github.com/grc-saas/grc/internal/evidence"
	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/integrations"
	"github.com/grc-saas/grc/internal/observability"
	"github.com/grc-saas/grc/internal/organizations"
	"github.com/grc-saas/grc/internal/platform/cache"
	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/risks"
	"github.com/grc-saas/grc/internal/shared"
	"github.com/grc-saas/grc/internal/tasks"
	"github.com/grc-saas/grc/internal/users"
	"github.com/grc-saas/grc/internal/vendors"
	"github.com/grc-saas/grc/jobs"
	"github.com/grc-saas/grc/migrations"
	"github.com/grc-saas/grc/report"
	"github.com/grc-saas/grc/web"
)

const usage = `usage: grc [command]

commands:
  serve                 run the HTTP API (default)
  migrate               apply pending database migrations
  jobs trigger <name>   enqueue review-sweep or review-count
  jobs stats            show default queue counters
  jobs scheduled [-n N] list scheduled tasks
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := db.Migrate(ctx, pool, migrations.FS)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Int("count", len(applied)), slog.Any("names", applied))
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: missing subcommand")
	}
	ops := cli.NewJobsCLI(cfg.RedisAddr)
	defer ops.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: missing job name")
		}
		info, err := ops.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := ops.InspectQueue()
		if err != nil {
			return err
		}
		return cli.WriteStats(os.Stdout, stats)
	case "scheduled":
		flags := flag.NewFlagSet("scheduled", flag.ContinueOnError)
		size := flags.Int("n", 10, "page size")
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}
		scheduled, err := ops.ListScheduled(*size)
		if err != nil {
			return err
		}
		for _, t := range scheduled {
			fmt.Printf("%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %s", args[0])
	}
	return nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.UsingDevSecret {
		logger.Warn("JWT_SECRET not set, signing tokens with the development key")
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	tokens, err := identity.NewService(cfg.JWTSecret, identity.WithTTL(cfg.JWTTTL))
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	usersRepo := users.NewRepository(pool)
	rbacMiddleware := rbac.Middleware{
		Verifier: tokens,
		Service:  rbac.NewService(rbac.DefaultPolicy()),
		Logger:   logger,
		Denials:  metrics,
	}
	if cfg.AuthLiveAccount {
		rbacMiddleware.Accounts = usersRepo
	}

	router := app.NewRouter(buildRouterParams(cfg, logger, pool, redisClient, jobClient, inspector, tokens, auditLogger, usersRepo, rbacMiddleware, metrics))

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildRouterParams(
	cfg *app.Config,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	redisClient *redis.Client,
	jobClient *jobs.Client,
	inspector *asynq.Inspector,
	tokens *identity.Service,
	auditLogger *shared.AuditLogger,
	usersRepo *users.Repository,
	rbacMiddleware rbac.Middleware,
	metrics *observability.Metrics,
) app.RouterParams {
	authService := auth.NewService(auth.ServiceConfig{
		Repo:        auth.NewRepository(pool),
		Tokens:      tokens,
		Resets:      auth.NewRedisResetStore(redisClient),
		Mail:        jobClient,
		Audit:       auditLogger,
		Logger:      logger,
		FrontendURL: cfg.FrontendURL,
		ResetTTL:    cfg.PasswordResetTTL,
	})

	dashboardService := dashboard.NewService(
		dashboard.NewRepository(pool),
		cache.NewJSONCache(redisClient, "grc:dashboard", cfg.DashboardCacheTTL).WithLogger(logger),
		logger,
	)

	risksHandler := risks.NewHandler(risks.NewService(risks.NewRepository(pool), auditLogger, logger), rbacMiddleware)
	if cfg.GotenbergURL != "" {
		risksHandler.WithPDF(report.NewClient(cfg.GotenbergURL, report.WithLandscape()))
	}

	return app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		RBACMiddleware: rbacMiddleware,

		AuthHandler:         auth.NewHandler(logger, authService),
		PermissionsHandler:  rbac.NewPermissionsHandler(rbacMiddleware.Service),
		UsersHandler:        users.NewHandler(users.NewService(usersRepo, auditLogger, logger), rbacMiddleware),
		OrganizationHandler: organizations.NewHandler(organizations.NewService(organizations.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		ComplianceHandler:   compliance.NewHandler(compliance.NewService(compliance.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		EvidenceHandler:     evidence.NewHandler(evidence.NewService(evidence.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		RisksHandler:        risksHandler,
		VendorsHandler:      vendors.NewHandler(vendors.NewService(vendors.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		AuditsHandler:       audits.NewHandler(audits.NewService(audits.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		TasksHandler:        tasks.NewHandler(tasks.NewService(tasks.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		IntegrationsHandler: integrations.NewHandler(integrations.NewService(integrations.NewRepository(pool), auditLogger, logger), rbacMiddleware),
		DashboardHandler:    dashboard.NewHandler(dashboardService),
		Dashboard:           dashboardService,
		JobHandler:          jobs.NewHandler(inspector, logger),
		Static:              web.Static(),
	}
}
