package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/grc-saas/grc/internal/jobs"
	"github.com/grc-saas/grc/jobs"
)

type fixedSource struct {
	items []jobs.OverdueItem
}

func (s fixedSource) OverdueItems(context.Context, time.Time) ([]jobs.OverdueItem, error) {
	return s.items, nil
}

// inlineQueue hands enqueued mail straight to the mail job, standing in for
// the asynq round trip.
type inlineQueue struct {
	mail *jobs.MailJob
}

func (q inlineQueue) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	task, err := jobs.NewSendEmailTask(payload)
	if err != nil {
		return nil, err
	}
	if err := q.mail.Handle(ctx, task); err != nil {
		return nil, err
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type outbox struct {
	sent []jobs.SendEmailPayload
}

func (o *outbox) Send(_ context.Context, msg jobs.SendEmailPayload) error {
	o.sent = append(o.sent, msg)
	return nil
}

func TestReviewSweepDeliversDigestsAndRecordsMetrics(t *testing.T) {
	now := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	box := &outbox{}
	mail := jobs.NewMailJob(box, nil, metrics)

	src := fixedSource{items: []jobs.OverdueItem{
		{Kind: jobs.KindControl, ID: "c1", Title: "MFA review", Due: now.AddDate(0, 0, -5), RecipientEmail: "owner@a.test"},
		{Kind: jobs.KindRisk, ID: "r1", Title: "Data loss", Due: now.AddDate(0, -1, 0), RecipientEmail: "owner@a.test"},
		{Kind: jobs.KindTask, ID: "t1", Title: "Collect logs", Due: now.AddDate(0, 0, -1), RecipientEmail: "eng@b.test"},
	}}
	sweep := jobs.NewReviewSweepJob(src, inlineQueue{mail: mail}, nil, metrics).WithClock(func() time.Time { return now })

	task, err := jobs.NewReviewSweepTask(true)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := sweep.Handle(context.Background(), task); err != nil {
		t.Fatalf("sweep handle: %v", err)
	}
	if len(box.sent) != 2 {
		t.Fatalf("expected 2 digests, got %d", len(box.sent))
	}
	if box.sent[0].To != "eng@b.test" || box.sent[1].To != "owner@a.test" {
		t.Fatalf("unexpected recipients %q, %q", box.sent[0].To, box.sent[1].To)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(families, "grc_jobs_total", map[string]string{"job": jobs.TaskTypeReviewSweep, "status": "success"}, 1) {
		t.Fatalf("expected grc_jobs_total increment for the sweep")
	}
	if !assertCounter(families, "grc_jobs_total", map[string]string{"job": jobs.TaskTypeSendEmail, "status": "success"}, 2) {
		t.Fatalf("expected two successful mail runs")
	}
	for _, kind := range []string{jobs.KindControl, jobs.KindRisk, jobs.KindTask} {
		if !assertCounter(families, "grc_overdue_items_total", map[string]string{"kind": kind}, 1) {
			t.Fatalf("expected one overdue %s", kind)
		}
	}
	if !metricExists(families, "grc_job_duration_seconds") {
		t.Fatalf("expected grc_job_duration_seconds to be recorded")
	}
}

func assertCounter(families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) && metric.GetCounter() != nil {
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
