package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/grc-saas/grc/internal/jobs"
	"github.com/grc-saas/grc/internal/scoring"
)

// Overdue item kinds.
const (
	KindControl = "control"
	KindRisk    = "risk"
	KindTask    = "task"
)

// OverdueItem is a control test, risk review or task whose due date passed.
type OverdueItem struct {
	Kind           string
	ID             string
	OrganizationID string
	Title          string
	Due            time.Time
	RecipientEmail string
	RecipientName  string
}

// ReviewSource lists candidate overdue items across all organizations.
type ReviewSource interface {
	OverdueItems(ctx context.Context, asOf time.Time) ([]OverdueItem, error)
}

// MailEnqueuer queues digest mails.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// PGReviewSource reads overdue items from PostgreSQL.
type PGReviewSource struct {
	pool *pgxpool.Pool
}

// NewPGReviewSource wraps a pool.
func NewPGReviewSource(pool *pgxpool.Pool) *PGReviewSource {
	return &PGReviewSource{pool: pool}
}

// Recipients are active users of the item's own organization only.
const overdueItemsSQL = `
SELECT 'control', c.id::text, c.organization_id::text, c.name, c.next_test_due,
       COALESCE(u.email, ''), COALESCE(u.first_name || ' ' || u.last_name, '')
FROM controls c
LEFT JOIN users u ON u.id = c.owner_id AND u.organization_id = c.organization_id AND u.is_active
WHERE c.status <> $2 AND c.next_test_due < $1
UNION ALL
SELECT 'risk', r.id::text, r.organization_id::text, r.title, r.review_date,
       COALESCE(u.email, ''), COALESCE(u.first_name || ' ' || u.last_name, '')
FROM risks r
LEFT JOIN users u ON u.id = r.owner_id AND u.organization_id = r.organization_id AND u.is_active
WHERE r.status <> 'avoided' AND r.review_date < $1
UNION ALL
SELECT 'task', t.id::text, t.organization_id::text, t.title, t.due_date,
       COALESCE(u.email, ''), COALESCE(u.first_name || ' ' || u.last_name, '')
FROM tasks t
LEFT JOIN users u ON u.id = t.assignee_id AND u.organization_id = t.organization_id AND u.is_active
WHERE t.status NOT IN ('done', 'cancelled') AND t.due_date < $1`

// OverdueItems implements ReviewSource.
func (s *PGReviewSource) OverdueItems(ctx context.Context, asOf time.Time) ([]OverdueItem, error) {
	rows, err := s.pool.Query(ctx, overdueItemsSQL, asOf, scoring.ControlStatusInactive)
	if err != nil {
		return nil, fmt.Errorf("review sweep: query overdue: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OverdueItem, error) {
		var it OverdueItem
		err := row.Scan(&it.Kind, &it.ID, &it.OrganizationID, &it.Title, &it.Due, &it.RecipientEmail, &it.RecipientName)
		return it, err
	})
}

// SweepResult summarises one run.
type SweepResult struct {
	Counts  map[string]int
	Digests int
	// Failed counts digests that could not be queued.
	Failed int
}

// ReviewSweepJob counts overdue items and mails each owner or assignee a
// digest of what they hold.
type ReviewSweepJob struct {
	Source  ReviewSource
	Mail    MailEnqueuer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReviewSweepJob initialises the sweep.
func NewReviewSweepJob(source ReviewSource, mail MailEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReviewSweepJob {
	return &ReviewSweepJob{
		Source:  source,
		Mail:    mail,
		Logger:  logger,
		Metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the job clock.
func (j *ReviewSweepJob) WithClock(fn func() time.Time) *ReviewSweepJob {
	if fn != nil {
		j.clock = fn
	}
	return j
}

// Handle runs the sweep for a queued task.
func (j *ReviewSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	payload := ReviewSweepPayload{Notify: true}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("review sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.Notify)
	return err
}

// Run performs one sweep.
func (j *ReviewSweepJob) Run(ctx context.Context, notify bool) (res SweepResult, err error) {
	if j == nil || j.Source == nil {
		return res, errors.New("review sweep: source not configured")
	}
	tracker := j.Metrics.Track(TaskTypeReviewSweep)
	defer func() { err = tracker.End(err) }()

	now := j.clock()
	items, err := j.Source.OverdueItems(ctx, now)
	if err != nil {
		return res, err
	}

	res.Counts = map[string]int{KindControl: 0, KindRisk: 0, KindTask: 0}
	byRecipient := make(map[string][]OverdueItem)
	for _, it := range items {
		if !scoring.IsOverdueAt(it.Due, now) {
			continue
		}
		res.Counts[it.Kind]++
		if it.RecipientEmail != "" {
			byRecipient[it.RecipientEmail] = append(byRecipient[it.RecipientEmail], it)
		}
	}
	for kind, n := range res.Counts {
		j.Metrics.AddOverdue(kind, n)
	}

	if notify && j.Mail != nil {
		recipients := make([]string, 0, len(byRecipient))
		for email := range byRecipient {
			recipients = append(recipients, email)
		}
		sort.Strings(recipients)
		for _, email := range recipients {
			held := byRecipient[email]
			// A failed digest must not fail the sweep: a retry would resend
			// every digest already queued in this run.
			if _, err := j.Mail.EnqueueSendEmail(ctx, DigestMail(email, held, now)); err != nil {
				res.Failed++
				j.logger().Error("review sweep: enqueue digest",
					slog.String("recipient", email), slog.Any("error", err))
				continue
			}
			res.Digests++
		}
	}

	j.logger().Info("review sweep complete",
		slog.Int("controls", res.Counts[KindControl]),
		slog.Int("risks", res.Counts[KindRisk]),
		slog.Int("tasks", res.Counts[KindTask]),
		slog.Int("digests", res.Digests),
		slog.Int("digests_failed", res.Failed))
	return res, nil
}

// DigestMail renders the overdue digest for one recipient, oldest first.
func DigestMail(email string, items []OverdueItem, now time.Time) SendEmailPayload {
	sorted := append([]OverdueItem(nil), items...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Due.Before(sorted[b].Due) })

	name := email
	if len(sorted) > 0 && strings.TrimSpace(sorted[0].RecipientName) != "" {
		name = strings.TrimSpace(sorted[0].RecipientName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nThe following items are overdue:\n\n", name)
	for _, it := range sorted {
		days := scoring.DaysOverdue(it.Due, now)
		unit := "days"
		if days == 1 {
			unit = "day"
		}
		fmt.Fprintf(&b, "- [%s] %s (due %s, %d %s overdue)\n",
			it.Kind, it.Title, it.Due.Format(time.DateOnly), days, unit)
	}
	noun := "items"
	if len(sorted) == 1 {
		noun = "item"
	}
	return SendEmailPayload{
		To:      email,
		Subject: fmt.Sprintf("%d overdue GRC %s", len(sorted), noun),
		Body:    b.String(),
	}
}

func (j *ReviewSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
