package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessionPurger struct {
	count int64
	err   error
	asOf  time.Time
}

func (p *stubSessionPurger) PurgeExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	p.asOf = now
	return p.count, p.err
}

type stubTokenPurger struct {
	count  int64
	err    error
	cutoff time.Time
}

func (p *stubTokenPurger) DeleteVerificationTokensBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.count, p.err
}

func TestJanitorPurgesSessions(t *testing.T) {
	sessions := &stubSessionPurger{count: 4}
	tokens := &stubTokenPurger{}
	janitor := NewJanitor(sessions, tokens, nil, slog.New(slog.DiscardHandler))
	at := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	janitor.now = func() time.Time { return at }

	task, err := NewPurgeSessionsTask(at)
	require.NoError(t, err)

	require.NoError(t, janitor.HandlePurgeSessionsTask(context.Background(), task))
	assert.Equal(t, at, sessions.asOf)
	assert.True(t, tokens.cutoff.IsZero())
}

func TestJanitorPurgesTokens(t *testing.T) {
	sessions := &stubSessionPurger{}
	tokens := &stubTokenPurger{count: 2}
	janitor := NewJanitor(sessions, tokens, nil, slog.New(slog.DiscardHandler))
	at := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	janitor.now = func() time.Time { return at }

	task, err := NewPurgeTokensTask(at)
	require.NoError(t, err)

	require.NoError(t, janitor.HandlePurgeTokensTask(context.Background(), task))
	assert.Equal(t, at, tokens.cutoff)
}

func TestJanitorSkipsRetryOnBadPayload(t *testing.T) {
	janitor := NewJanitor(&stubSessionPurger{}, &stubTokenPurger{}, nil, slog.New(slog.DiscardHandler))

	err := janitor.HandlePurgeSessionsTask(context.Background(), asynq.NewTask(TaskTypePurgeSessions, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestJanitorPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("pg down")
	janitor := NewJanitor(&stubSessionPurger{err: storeErr}, &stubTokenPurger{}, nil, slog.New(slog.DiscardHandler))

	task, err := NewPurgeSessionsTask(time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, janitor.HandlePurgeSessionsTask(context.Background(), task), storeErr)
}
