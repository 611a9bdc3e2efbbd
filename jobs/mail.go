package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault)), nil
}

// MailSender delivers a rendered email.
type MailSender interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Send delivers msg. Authentication is used when a username is configured.
func (s SMTPSender) Send(_ context.Context, msg SendEmailPayload) error {
	if s.Host == "" || s.From == "" {
		return errors.New("smtp: host and sender required")
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	buf.WriteString(msg.Body)
	addr := s.Host + ":" + strconv.Itoa(s.Port)
	if err := smtp.SendMail(addr, auth, s.From, msg.To, buf.Bytes()); err != nil {
		return fmt.Errorf("smtp: send to %s: %w", addr, err)
	}
	return nil
}

// MailJob processes TaskTypeSendEmail tasks.
type MailJob struct {
	Sender  MailSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle sends the email. Without a sender the message is only logged.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(payload.To) == 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskTypeSendEmail)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Sender == nil {
		j.log().Info("mail sender not configured, message dropped",
			slog.Any("to", payload.To),
			slog.String("subject", payload.Subject),
		)
		return nil
	}
	if err := j.Sender.Send(ctx, payload); err != nil {
		j.log().Error("send email", slog.Any("to", payload.To), slog.Any("error", err))
		return err
	}
	return nil
}

func (j *MailJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *MailJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeSendEmail))
	}
	return slog.Default().With(slog.String("job", TaskTypeSendEmail))
}
