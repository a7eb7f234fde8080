package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypePurgeSessions removes expired session rows.
	TaskTypePurgeSessions = "maintenance:purge_sessions"
	// TaskTypePurgeTokens removes expired verification tokens.
	TaskTypePurgeTokens = "maintenance:purge_tokens"
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

func decodePayload[T any](t *asynq.Task) (T, error) {
	var payload T
	err := json.Unmarshal(t.Payload(), &payload)
	return payload, err
}

// PurgePayload carries scheduling metadata for maintenance tasks.
type PurgePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewPurgeSessionsTask constructs an Asynq task for the session purge.
func NewPurgeSessionsTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(PurgePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePurgeSessions, data, asynq.Queue(QueueDefault)), nil
}

// NewPurgeTokensTask constructs an Asynq task for the verification token purge.
func NewPurgeTokensTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(PurgePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePurgeTokens, data, asynq.Queue(QueueDefault)), nil
}
