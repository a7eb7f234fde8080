package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/agora-forum/agora/internal/discipline"
	jobmetrics "github.com/agora-forum/agora/internal/jobs"
)

// SMTPConfig describes the outbound mail relay.
type SMTPConfig struct {
	Host string
	Port int
	From string
}

// Sender delivers queued mail through a plain SMTP relay, typically Mailpit
// in development.
type Sender struct {
	addr     string
	from     string
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSender constructs a Sender. Metrics may be nil.
func NewSender(cfg SMTPConfig, metrics *jobmetrics.Metrics, logger *slog.Logger) *Sender {
	return &Sender{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from:     cfg.From,
		logger:   logger,
		metrics:  metrics,
		sendMail: smtp.SendMail,
	}
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func (s *Sender) HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	tracker := s.metrics.Track("mail.send")
	payload, err := decodePayload[SendEmailPayload](t)
	if err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	err = s.sendMail(s.addr, nil, s.from, []string{payload.To}, buildMessage(s.from, payload))
	if err != nil && s.logger != nil {
		s.logger.Error("send email",
			slog.String("to", payload.To),
			slog.String("subject", payload.Subject),
			slog.Any("error", err))
	}
	return tracker.End(err)
}

func buildMessage(from string, payload SendEmailPayload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", payload.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", payload.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(payload.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// MailQueue is the enqueue-side surface the Mailer needs.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// Mailer turns application events into queued mail. It backs both the account
// verification flow and the discipline notice flow.
type Mailer struct {
	queue   MailQueue
	baseURL string
}

// NewMailer constructs a Mailer.
func NewMailer(queue MailQueue, baseURL string) *Mailer {
	return &Mailer{queue: queue, baseURL: strings.TrimRight(baseURL, "/")}
}

// EnqueueVerificationEmail queues the account verification mail.
func (m *Mailer) EnqueueVerificationEmail(ctx context.Context, email, token string) error {
	body := fmt.Sprintf(
		"Welcome to Agora.\n\nYour verification token is: %s\n\nSubmit it at %s/users/verify to activate your account. The token expires in 24 hours.",
		token, m.baseURL)
	_, err := m.queue.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      email,
		Subject: "Verify your Agora account",
		Body:    body,
	})
	return err
}

// EnqueueDisciplineNotice queues the informational mail sent to a user who
// was banned or suspended.
func (m *Mailer) EnqueueDisciplineNotice(ctx context.Context, email string, notice discipline.Notice) error {
	subject := "Your Agora account has been suspended"
	if notice.Permanent {
		subject = "Your Agora account has been banned"
	}
	_, err := m.queue.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      email,
		Subject: subject,
		Body:    notice.Message(),
	})
	return err
}
