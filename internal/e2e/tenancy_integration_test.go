//go:build integration

package e2e

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/grc-saas/grc/internal/auth"
	"github.com/grc-saas/grc/internal/dashboard"
	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/db"
	"github.com/grc-saas/grc/internal/risks"
	"github.com/grc-saas/grc/internal/shared"
	"github.com/grc-saas/grc/internal/vendors"
	"github.com/grc-saas/grc/jobs"
	"github.com/grc-saas/grc/migrations"
)

type TenancySuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	authRepo  *auth.PGRepository
	audit     *shared.AuditLogger

	a, b identity.Identity
}

func TestTenancySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(TenancySuite))
}

func (s *TenancySuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("grc"),
		tcpostgres.WithUsername("grc"),
		tcpostgres.WithPassword("grc"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.pool, err = db.New(ctx, dsn, 8)
	s.Require().NoError(err)

	applied, err := db.Migrate(ctx, s.pool, migrations.FS)
	s.Require().NoError(err)
	s.Require().NotEmpty(applied)

	s.authRepo = auth.NewRepository(s.pool)
	s.audit = shared.NewAuditLogger(s.pool)
}

func (s *TenancySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *TenancySuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE organizations CASCADE`)
	s.Require().NoError(err)
	s.a = s.registerTenant("Acme", "acme.test")
	s.b = s.registerTenant("Globex", "globex.test")
}

func (s *TenancySuite) registerTenant(name, domain string) identity.Identity {
	hash, err := shared.HashPassword("correct-horse")
	s.Require().NoError(err)
	user, err := s.authRepo.CreateOrganizationWithAdmin(context.Background(),
		auth.NewOrganization{Name: name, Domain: domain},
		auth.NewAccount{Email: "admin@" + domain, PasswordHash: hash, FirstName: "Ada", LastName: name})
	s.Require().NoError(err)
	return identity.Identity{
		UserID:         user.ID,
		Email:          user.Email,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
	}
}

func (s *TenancySuite) createRisk(caller identity.Identity, reviewDate time.Time) *risks.Risk {
	svc := risks.NewService(risks.NewRepository(s.pool), s.audit, nil)
	risk, err := svc.Create(context.Background(), caller, risks.Input{
		Title:              "Ransomware",
		OwnerID:            &caller.UserID,
		InherentLikelihood: 4,
		InherentImpact:     5,
		ReviewDate:         reviewDate,
	})
	s.Require().NoError(err)
	return risk
}

func (s *TenancySuite) TestMigrationsDoNotReapply() {
	again, err := db.Migrate(context.Background(), s.pool, migrations.FS)
	s.Require().NoError(err)
	s.Empty(again)
}

func (s *TenancySuite) TestRegistrationCreatesSeparateTenants() {
	s.Equal(shared.RoleAdmin, s.a.Role)
	s.NotEqual(s.a.OrganizationID, s.b.OrganizationID)
}

// TestConcurrentDuplicateRegistration verifies the unique email index lets
// exactly one of many racing registrations through.
func (s *TenancySuite) TestConcurrentDuplicateRegistration() {
	hash, err := shared.HashPassword("correct-horse")
	s.Require().NoError(err)
	const goroutines = 10

	var wg sync.WaitGroup
	var created, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.authRepo.CreateOrganizationWithAdmin(context.Background(),
				auth.NewOrganization{Name: "Race", Domain: fmt.Sprintf("race-%d.test", i)},
				auth.NewAccount{Email: "owner@race.test", PasswordHash: hash, FirstName: "R", LastName: "Ace"})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, shared.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *TenancySuite) TestRiskRowsAreInvisibleAcrossTenants() {
	ctx := context.Background()
	risk := s.createRisk(s.a, time.Now().UTC().AddDate(0, 0, -3))
	s.Equal(20, risk.InherentScore)
	s.True(risk.ReviewOverdue)

	svc := risks.NewService(risks.NewRepository(s.pool), s.audit, nil)
	_, err := svc.Get(ctx, s.b, risk.ID)
	s.ErrorIs(err, shared.ErrNotFound)
	s.ErrorIs(svc.Delete(ctx, s.b, risk.ID), shared.ErrNotFound)

	listB, pageB, err := svc.List(ctx, s.b, shared.ListFilters{Page: 1, Limit: 10})
	s.Require().NoError(err)
	s.Empty(listB)
	s.Equal(0, pageB.Total)

	got, err := svc.Get(ctx, s.a, risk.ID)
	s.Require().NoError(err)
	s.Equal(s.a.OrganizationID, got.OrganizationID)

	var logged int
	s.Require().NoError(s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE organization_id = $1`, s.a.OrganizationID).Scan(&logged))
	s.Positive(logged)
}

func (s *TenancySuite) TestVendorRowsAreInvisibleAcrossTenants() {
	svc := vendors.NewService(vendors.NewRepository(s.pool), s.audit, nil)
	vendor, err := svc.Create(context.Background(), s.b, vendors.Input{Name: "Initech", RiskLevel: "high"})
	s.Require().NoError(err)

	_, err = svc.Get(context.Background(), s.a, vendor.ID)
	s.ErrorIs(err, shared.ErrNotFound)
}

func (s *TenancySuite) TestDashboardCountsAreScoped() {
	ctx := context.Background()
	s.createRisk(s.a, time.Now().UTC().AddDate(0, 1, 0))

	repo := dashboard.NewRepository(s.pool)
	totalsA, err := repo.Totals(ctx, s.a.OrganizationID)
	s.Require().NoError(err)
	s.Equal(1, totalsA.Risks)
	s.Equal(0, totalsA.Vendors)

	matrixA, err := repo.RiskMatrix(ctx, s.a.OrganizationID)
	s.Require().NoError(err)
	s.Equal(1, matrixA.Total())
	matrixB, err := repo.RiskMatrix(ctx, s.b.OrganizationID)
	s.Require().NoError(err)
	s.Equal(0, matrixB.Total())
}

func (s *TenancySuite) TestReviewSourceFindsOverdueWithRecipient() {
	s.createRisk(s.a, time.Now().UTC().AddDate(0, 0, -3))
	s.createRisk(s.b, time.Now().UTC().AddDate(0, 0, 30))

	items, err := jobs.NewPGReviewSource(s.pool).OverdueItems(context.Background(), time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(jobs.KindRisk, items[0].Kind)
	s.Equal(s.a.OrganizationID, items[0].OrganizationID)
	s.Equal("admin@acme.test", items[0].RecipientEmail)
}

// TestOverdueControlsAgreeAcrossDashboardAndSweep checks both readers apply
// the same status rule to controls past their test date.
func (s *TenancySuite) TestOverdueControlsAgreeAcrossDashboardAndSweep() {
	ctx := context.Background()
	due := time.Now().UTC().AddDate(0, 0, -2)
	for _, status := range []string{"active", "under_review", "needs_update", "inactive"} {
		_, err := s.pool.Exec(ctx, `INSERT INTO controls (organization_id, name, type, frequency, owner_id, status, next_test_due)
			VALUES ($1, $2, 'preventive', 'monthly', $3, $4, $5)`,
			s.a.OrganizationID, "Control "+status, s.a.UserID, status, due)
		s.Require().NoError(err)
	}

	now := time.Now().UTC()
	_, controls, err := dashboard.NewRepository(s.pool).OverdueCounts(ctx, s.a.OrganizationID, now)
	s.Require().NoError(err)

	items, err := jobs.NewPGReviewSource(s.pool).OverdueItems(ctx, now)
	s.Require().NoError(err)
	swept := 0
	for _, it := range items {
		if it.Kind == jobs.KindControl {
			swept++
		}
	}

	s.Equal(3, controls)
	s.Equal(controls, swept)
}
