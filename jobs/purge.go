package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/agora-forum/agora/internal/jobs"
)

// SessionPurger removes expired persistent sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// TokenPurger removes expired verification tokens.
type TokenPurger interface {
	DeleteVerificationTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor runs the scheduled maintenance tasks.
type Janitor struct {
	sessions SessionPurger
	tokens   TokenPurger
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor constructs a Janitor. Metrics may be nil.
func NewJanitor(sessions SessionPurger, tokens TokenPurger, metrics *jobmetrics.Metrics, logger *slog.Logger) *Janitor {
	return &Janitor{
		sessions: sessions,
		tokens:   tokens,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// HandlePurgeSessionsTask processes TaskTypePurgeSessions tasks.
func (j *Janitor) HandlePurgeSessionsTask(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("maintenance.purge_sessions")
	if _, err := decodePayload[PurgePayload](t); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	count, err := j.sessions.PurgeExpiredSessions(ctx, j.now())
	if err == nil {
		j.metrics.AddPurged("sessions", count)
		if j.logger != nil {
			j.logger.Info("purged expired sessions", slog.Int64("count", count))
		}
	}
	return tracker.End(err)
}

// HandlePurgeTokensTask processes TaskTypePurgeTokens tasks.
func (j *Janitor) HandlePurgeTokensTask(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("maintenance.purge_tokens")
	if _, err := decodePayload[PurgePayload](t); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	count, err := j.tokens.DeleteVerificationTokensBefore(ctx, j.now())
	if err == nil {
		j.metrics.AddPurged("verification_tokens", count)
		if j.logger != nil {
			j.logger.Info("purged expired verification tokens", slog.Int64("count", count))
		}
	}
	return tracker.End(err)
}
