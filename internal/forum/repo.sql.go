package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agora-forum/agora/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for threads and posts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// CreateThread inserts the thread together with its opening post in one
// transaction; a thread never exists without a first post.
func (r *Repository) CreateThread(ctx context.Context, thread Thread, firstPost Post) (Thread, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO threads (title, creator_id, locked, locked_by_id, created_at)
			 VALUES ($1, $2, FALSE, NULL, $3)
			 RETURNING id`,
			thread.Title, thread.CreatorID, thread.CreatedAt,
		).Scan(&thread.ID)
		if err != nil {
			return fmt.Errorf("forum: insert thread: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO posts (thread_id, author_id, content, deleted, created_at)
			 VALUES ($1, $2, $3, FALSE, $4)`,
			thread.ID, firstPost.AuthorID, firstPost.Content, firstPost.CreatedAt)
		if err != nil {
			return fmt.Errorf("forum: insert first post: %w", err)
		}
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	return thread, nil
}

// FindThread loads a single thread.
func (r *Repository) FindThread(ctx context.Context, id int64) (*Thread, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, creator_id, locked, COALESCE(locked_by_id, 0), created_at
		 FROM threads WHERE id = $1`, id)
	var thread Thread
	err := row.Scan(&thread.ID, &thread.Title, &thread.CreatorID, &thread.Locked, &thread.LockedByID, &thread.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("forum: find thread: %w", err)
	}
	return &thread, nil
}

// ListThreads returns newest threads first plus the overall count.
func (r *Repository) ListThreads(ctx context.Context, limit, offset int) ([]Thread, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM threads`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("forum: count threads: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, creator_id, locked, COALESCE(locked_by_id, 0), created_at
		 FROM threads ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("forum: list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var thread Thread
		if err := rows.Scan(&thread.ID, &thread.Title, &thread.CreatorID, &thread.Locked, &thread.LockedByID, &thread.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("forum: scan thread: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("forum: list threads: %w", err)
	}
	return threads, total, nil
}

// SetThreadLock updates the lock flag and locker in one statement.
func (r *Repository) SetThreadLock(ctx context.Context, threadID int64, locked bool, lockedBy int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE threads SET locked = $2, locked_by_id = NULLIF($3, 0) WHERE id = $1`,
		threadID, locked, lockedBy)
	if err != nil {
		return fmt.Errorf("forum: set thread lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePost appends a post to a thread.
func (r *Repository) CreatePost(ctx context.Context, post Post) (Post, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO posts (thread_id, author_id, content, deleted, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)
		 RETURNING id`,
		post.ThreadID, post.AuthorID, post.Content, post.CreatedAt,
	).Scan(&post.ID)
	if err != nil {
		return Post{}, fmt.Errorf("forum: insert post: %w", err)
	}
	return post, nil
}

// FindPost loads a single post.
func (r *Repository) FindPost(ctx context.Context, id int64) (*Post, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, thread_id, author_id, content, deleted, COALESCE(deleted_by_id, 0), COALESCE(deleted_at, 'epoch'::timestamptz), created_at
		 FROM posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("forum: find post: %w", err)
	}
	return &post, nil
}

// ListPosts returns a thread's posts in creation order plus the overall
// count. Deleted posts are included; the service decides their visibility.
func (r *Repository) ListPosts(ctx context.Context, threadID int64, limit, offset int) ([]Post, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE thread_id = $1`, threadID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("forum: count posts: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, thread_id, author_id, content, deleted, COALESCE(deleted_by_id, 0), COALESCE(deleted_at, 'epoch'::timestamptz), created_at
		 FROM posts WHERE thread_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`, threadID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("forum: list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("forum: scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("forum: list posts: %w", err)
	}
	return posts, total, nil
}

// MarkPostDeleted soft-deletes the post and records the deleter.
func (r *Repository) MarkPostDeleted(ctx context.Context, postID, deletedBy int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE posts SET deleted = TRUE, deleted_by_id = $2, deleted_at = $3 WHERE id = $1`,
		postID, deletedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("forum: delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPostRestored clears the soft-delete state.
func (r *Repository) MarkPostRestored(ctx context.Context, postID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE posts SET deleted = FALSE, deleted_by_id = NULL, deleted_at = NULL WHERE id = $1`,
		postID)
	if err != nil {
		return fmt.Errorf("forum: restore post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var post Post
	err := row.Scan(&post.ID, &post.ThreadID, &post.AuthorID, &post.Content,
		&post.Deleted, &post.DeletedByID, &post.DeletedAt, &post.CreatedAt)
	if err != nil {
		return Post{}, err
	}
	return post, nil
}
