package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for session rows.
type Repository interface {
	CreateSession(ctx context.Context, record SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
	DeleteAllSessionsForUser(ctx context.Context, userID int64) error
	DeleteSessionsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateSession persists a new login session row.
func (r *PGRepository) CreateSession(ctx context.Context, record SessionRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at, ip, ua)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`,
		record.ID, record.UserID, record.CreatedAt.UTC(), record.ExpiresAt.UTC(), record.IP, record.UserAgent)
	if err != nil {
		return fmt.Errorf("create session row: %w", err)
	}
	return nil
}

// DeleteSession removes a single session row.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session row: %w", err)
	}
	return nil
}

// DeleteAllSessionsForUser removes every session row of the user.
func (r *PGRepository) DeleteAllSessionsForUser(ctx context.Context, userID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user session rows: %w", err)
	}
	return nil
}

// DeleteSessionsExpiredBefore purges rows whose expiry is past the cutoff.
func (r *PGRepository) DeleteSessionsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired session rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
