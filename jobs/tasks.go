package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeReviewSweep scans for overdue controls, risks and tasks.
	TaskTypeReviewSweep = "grc:review-sweep"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// ReviewSweepPayload controls a review sweep run.
type ReviewSweepPayload struct {
	// Notify disables digest mails when false; overdue items are still counted.
	Notify bool `json:"notify"`
}

// NewReviewSweepTask constructs the scheduled sweep task.
func NewReviewSweepTask(notify bool) (*asynq.Task, error) {
	data, err := json.Marshal(ReviewSweepPayload{Notify: notify})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReviewSweep, data), nil
}
