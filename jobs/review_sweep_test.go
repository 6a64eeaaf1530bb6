package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/grc-saas/grc/internal/jobs"
)

type stubSource struct {
	items []OverdueItem
	err   error
	asOf  time.Time
}

func (s *stubSource) OverdueItems(_ context.Context, asOf time.Time) ([]OverdueItem, error) {
	s.asOf = asOf
	return s.items, s.err
}

type stubEnqueuer struct {
	sent    []SendEmailPayload
	err     error
	failFor map[string]error
}

func (s *stubEnqueuer) EnqueueSendEmail(_ context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := s.failFor[payload.To]; err != nil {
		return nil, err
	}
	s.sent = append(s.sent, payload)
	return &asynq.TaskInfo{ID: "t"}, nil
}

var sweepNow = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

func sweepItems() []OverdueItem {
	return []OverdueItem{
		{Kind: KindControl, ID: "c1", OrganizationID: "o1", Title: "Access review", Due: sweepNow.AddDate(0, 0, -3), RecipientEmail: "ana@a.test", RecipientName: "Ana Ng"},
		{Kind: KindRisk, ID: "r1", OrganizationID: "o1", Title: "Vendor lock-in", Due: sweepNow.AddDate(0, 0, -10), RecipientEmail: "ana@a.test", RecipientName: "Ana Ng"},
		{Kind: KindTask, ID: "t1", OrganizationID: "o2", Title: "Rotate keys", Due: sweepNow.Add(-time.Hour), RecipientEmail: "bo@b.test", RecipientName: "Bo Li"},
		{Kind: KindTask, ID: "t2", OrganizationID: "o2", Title: "Unassigned", Due: sweepNow.AddDate(0, 0, -1)},
		// not yet due; the source may be coarser than the job
		{Kind: KindTask, ID: "t3", OrganizationID: "o2", Title: "Later", Due: sweepNow.Add(time.Hour), RecipientEmail: "bo@b.test"},
	}
}

func TestReviewSweepCountsAndDigests(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	src := &stubSource{items: sweepItems()}
	mail := &stubEnqueuer{}
	job := NewReviewSweepJob(src, mail, nil, metrics).WithClock(func() time.Time { return sweepNow })

	res, err := job.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, sweepNow, src.asOf)
	assert.Equal(t, map[string]int{KindControl: 1, KindRisk: 1, KindTask: 2}, res.Counts)
	assert.Equal(t, 2, res.Digests)

	require.Len(t, mail.sent, 2)
	ana := mail.sent[0]
	assert.Equal(t, "ana@a.test", ana.To)
	assert.Equal(t, "2 overdue GRC items", ana.Subject)
	assert.Contains(t, ana.Body, "Hello Ana Ng")
	assert.Contains(t, ana.Body, "- [risk] Vendor lock-in (due 2025-02-28, 10 days overdue)")
	assert.Contains(t, ana.Body, "- [control] Access review (due 2025-03-07, 3 days overdue)")
	assert.Less(t, strings.Index(ana.Body, "Vendor lock-in"), strings.Index(ana.Body, "Access review"))

	bo := mail.sent[1]
	assert.Equal(t, "bo@b.test", bo.To)
	assert.Equal(t, "1 overdue GRC item", bo.Subject)
	assert.NotContains(t, bo.Body, "Later")

	assert.Equal(t, 2.0, overdueValue(t, reg, KindTask))
	assert.Equal(t, 1.0, overdueValue(t, reg, KindRisk))
	assert.Equal(t, 1, mustGatherAndCount(t, reg, "grc_jobs_total"))
}

func TestReviewSweepWithoutNotify(t *testing.T) {
	mail := &stubEnqueuer{}
	job := NewReviewSweepJob(&stubSource{items: sweepItems()}, mail, nil, nil).WithClock(func() time.Time { return sweepNow })

	task, err := NewReviewSweepTask(false)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Empty(t, mail.sent)
}

func TestReviewSweepErrors(t *testing.T) {
	job := NewReviewSweepJob(&stubSource{err: errors.New("db down")}, &stubEnqueuer{}, nil, nil)
	_, err := job.Run(context.Background(), true)
	assert.EqualError(t, err, "db down")

	job = NewReviewSweepJob(&stubSource{items: sweepItems()}, &stubEnqueuer{err: errors.New("redis down")}, nil, nil).
		WithClock(func() time.Time { return sweepNow })
	res, err := job.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Digests)
	assert.Equal(t, 2, res.Failed)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeReviewSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var nilJob *ReviewSweepJob
	_, err = nilJob.Run(context.Background(), true)
	assert.Error(t, err)
}

func overdueValue(t *testing.T, reg *prometheus.Registry, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "grc_overdue_items_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no overdue counter for %s", kind)
	return 0
}

func mustGatherAndCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}

func TestReviewSweepContinuesPastFailedDigest(t *testing.T) {
	mail := &stubEnqueuer{failFor: map[string]error{"ana@a.test": errors.New("redis blip")}}
	job := NewReviewSweepJob(&stubSource{items: sweepItems()}, mail, nil, nil).WithClock(func() time.Time { return sweepNow })

	res, err := job.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Digests)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "bo@b.test", mail.sent[0].To)
}

func TestDigestMailCountsPartialDaysAsOne(t *testing.T) {
	items := []OverdueItem{
		{Kind: KindTask, Title: "Hours late", Due: sweepNow.Add(-10 * time.Hour)},
		{Kind: KindTask, Title: "Day and a half", Due: sweepNow.Add(-36 * time.Hour)},
		{Kind: KindTask, Title: "Two days", Due: sweepNow.Add(-48 * time.Hour)},
	}
	body := DigestMail("x@y.test", items, sweepNow).Body

	assert.Contains(t, body, "Hours late (due 2025-03-09, 1 day overdue)")
	assert.Contains(t, body, "Day and a half (due 2025-03-08, 1 day overdue)")
	assert.Contains(t, body, "Two days (due 2025-03-08, 2 days overdue)")
	assert.NotContains(t, body, "0 days")
}
