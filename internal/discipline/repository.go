package discipline

import "context"

// RepositoryPort defines data access methods for discipline records.
//
// Insert must be atomic with the duplicate-ban check: two concurrent ban
// attempts against the same user must serialize so that exactly one
// succeeds and the other observes ErrAlreadyBanned.
type RepositoryPort interface {
	// Insert persists a new record. For bans it takes a per-user lock,
	// re-checks for an active ban under that lock, and returns
	// ErrAlreadyBanned without mutation when one exists.
	Insert(ctx context.Context, record Record) (Record, error)
	FindByID(ctx context.Context, id int64) (*Record, error)
	ListForUser(ctx context.Context, userID int64) ([]Record, error)
	// MarkRescinded sets the one-way rescinded flag. Idempotent.
	MarkRescinded(ctx context.Context, id int64) error
}
