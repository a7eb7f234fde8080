package discipline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agora-forum/agora/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for discipline records.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

var _ RepositoryPort = (*Repository)(nil)

// Insert persists a record inside one transaction. For bans the disciplined
// user's row is locked first, serializing concurrent ban attempts so the
// duplicate-ban check cannot race: the loser of the race re-reads under the
// lock and observes the winner's ban.
func (r *Repository) Insert(ctx context.Context, record Record) (Record, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if record.IsBan() {
			var locked int64
			err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, record.DisciplinedUserID).Scan(&locked)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("discipline: lock user: %w", err)
			}
			banned, err := r.hasActiveBanTx(ctx, tx, record.DisciplinedUserID)
			if err != nil {
				return err
			}
			if banned {
				return ErrAlreadyBanned
			}
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO disciplines (disciplined_user_id, disciplining_user_id, kind, reason, duration_hours, rescinded, created_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6)
			 RETURNING id`,
			record.DisciplinedUserID, record.DiscipliningUserID, string(record.Kind),
			record.Reason, record.DurationHours, record.CreatedAt,
		).Scan(&record.ID)
		if err != nil {
			return fmt.Errorf("discipline: insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

func (r *Repository) hasActiveBanTx(ctx context.Context, tx pgx.Tx, userID int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM disciplines
			WHERE disciplined_user_id = $1 AND kind = $2 AND rescinded = FALSE
		)`, userID, string(KindBan),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("discipline: check active ban: %w", err)
	}
	return exists, nil
}

// FindByID loads a single record.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, disciplined_user_id, disciplining_user_id, kind, reason, duration_hours, rescinded, created_at
		 FROM disciplines WHERE id = $1`, id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("discipline: find: %w", err)
	}
	return &record, nil
}

// ListForUser returns the full ledger of the disciplined user.
func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, disciplined_user_id, disciplining_user_id, kind, reason, duration_hours, rescinded, created_at
		 FROM disciplines WHERE disciplined_user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("discipline: list: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("discipline: scan: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discipline: list: %w", err)
	}
	return records, nil
}

// MarkRescinded flips the one-way rescinded flag. Re-rescinding is a no-op.
func (r *Repository) MarkRescinded(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE disciplines SET rescinded = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("discipline: rescind: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var record Record
	var kind string
	err := row.Scan(&record.ID, &record.DisciplinedUserID, &record.DiscipliningUserID,
		&kind, &record.Reason, &record.DurationHours, &record.Rescinded, &record.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	record.Kind = Kind(kind)
	return record, nil
}
