package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/discipline"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func captureSender(t *testing.T) (*Sender, *[]sentMail) {
	t.Helper()
	var sent []sentMail
	s := NewSender(SMTPConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@agora.local"}, nil, slog.New(slog.DiscardHandler))
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: msg})
		return nil
	}
	return s, &sent
}

func TestHandleSendEmailTaskDeliversMessage(t *testing.T) {
	sender, sent := captureSender(t)

	task, err := NewSendEmailTask(SendEmailPayload{
		To:      "alice@example.com",
		Subject: "Verify your Agora account",
		Body:    "hello",
	})
	require.NoError(t, err)

	require.NoError(t, sender.HandleSendEmailTask(context.Background(), task))

	require.Len(t, *sent, 1)
	mail := (*sent)[0]
	assert.Equal(t, "127.0.0.1:1025", mail.addr)
	assert.Equal(t, "no-reply@agora.local", mail.from)
	assert.Equal(t, []string{"alice@example.com"}, mail.to)
	assert.Contains(t, string(mail.msg), "Subject: Verify your Agora account\r\n")
	assert.Contains(t, string(mail.msg), "To: alice@example.com\r\n")
	assert.Contains(t, string(mail.msg), "\r\nhello\r\n")
}

func TestHandleSendEmailTaskSkipsRetryOnBadPayload(t *testing.T) {
	sender, sent := captureSender(t)

	task := asynq.NewTask(TaskTypeSendEmail, []byte("{not json"))
	err := sender.HandleSendEmailTask(context.Background(), task)

	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, *sent)
}

func TestHandleSendEmailTaskPropagatesRelayError(t *testing.T) {
	sender, _ := captureSender(t)
	relayErr := errors.New("connection refused")
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return relayErr
	}

	task, err := NewSendEmailTask(SendEmailPayload{To: "alice@example.com", Subject: "s", Body: "b"})
	require.NoError(t, err)

	assert.ErrorIs(t, sender.HandleSendEmailTask(context.Background(), task), relayErr)
}

type stubQueue struct {
	payloads []SendEmailPayload
	err      error
}

func (q *stubQueue) EnqueueSendEmail(_ context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{}, nil
}

func TestMailerVerificationEmail(t *testing.T) {
	queue := &stubQueue{}
	mailer := NewMailer(queue, "https://agora.example/")

	require.NoError(t, mailer.EnqueueVerificationEmail(context.Background(), "bob@example.com", "tok-123"))

	require.Len(t, queue.payloads, 1)
	mail := queue.payloads[0]
	assert.Equal(t, "bob@example.com", mail.To)
	assert.Equal(t, "Verify your Agora account", mail.Subject)
	assert.Contains(t, mail.Body, "tok-123")
	assert.Contains(t, mail.Body, "https://agora.example/users/verify")
}

func TestMailerDisciplineNotice(t *testing.T) {
	queue := &stubQueue{}
	mailer := NewMailer(queue, "https://agora.example")

	ban := discipline.Notice{Permanent: true, Reason: "spam"}
	require.NoError(t, mailer.EnqueueDisciplineNotice(context.Background(), "bob@example.com", ban))

	suspension := discipline.Notice{Reason: "flaming", EndsAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, mailer.EnqueueDisciplineNotice(context.Background(), "bob@example.com", suspension))

	require.Len(t, queue.payloads, 2)
	assert.Equal(t, "Your Agora account has been banned", queue.payloads[0].Subject)
	assert.Equal(t, ban.Message(), queue.payloads[0].Body)
	assert.Equal(t, "Your Agora account has been suspended", queue.payloads[1].Subject)
	assert.Equal(t, suspension.Message(), queue.payloads[1].Body)
}

func TestMailerReportsEnqueueFailure(t *testing.T) {
	queue := &stubQueue{err: errors.New("redis down")}
	mailer := NewMailer(queue, "https://agora.example")

	assert.Error(t, mailer.EnqueueVerificationEmail(context.Background(), "bob@example.com", "tok"))
}
