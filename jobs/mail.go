package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/wneessen/go-mail"

	jobmetrics "github.com/grc-saas/grc/internal/jobs"
)

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPConfig describes the outgoing relay.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// SMTPMailer delivers mail through an SMTP relay such as Mailpit or a
// hosted provider. STARTTLS is used when the relay offers it.
type SMTPMailer struct {
	client *mail.Client
	from   string
	now    func() time.Time
}

// NewSMTPMailer constructs a mailer for the configured relay. Credentials are
// optional; relays on localhost usually need none.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: client: %w", err)
	}
	return &SMTPMailer{
		client: client,
		from:   cfg.From,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Send delivers msg. Cancelling ctx aborts the dial and the SMTP session.
func (m *SMTPMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := BuildMessage(m.from, msg, m.now())
	if err != nil {
		return err
	}
	return m.client.DialAndSendWithContext(ctx, out)
}

// BuildMessage renders a plain-text message. Addresses are parsed, so header
// injection through From or To is rejected, and non-ASCII subjects are
// encoded as RFC 2047 words.
func BuildMessage(from string, msg SendEmailPayload, at time.Time) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("mail: sender: %v: %w", err, asynq.SkipRetry)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: recipient: %v: %w", err, asynq.SkipRetry)
	}
	out.Subject(sanitizeHeader(msg.Subject))
	out.SetDateWithValue(at)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// MailJob handles TaskTypeSendEmail tasks.
type MailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMailJob initialises the mail delivery handler.
func NewMailJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	return &MailJob{Mailer: mailer, Logger: logger, Metrics: metrics}
}

// Handle delivers one queued mail. Malformed payloads are not retried.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mailer == nil {
		return errors.New("mail: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("mail: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("mail: missing recipient: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	err := j.Mailer.Send(ctx, payload)
	if err != nil {
		j.logger().Error("send mail", slog.String("subject", payload.Subject), slog.Any("error", err))
	} else {
		j.logger().Info("mail sent", slog.String("subject", payload.Subject))
	}
	return tracker.End(err)
}

func (j *MailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
