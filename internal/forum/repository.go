package forum

import "context"

// RepositoryPort defines data access methods for threads and posts.
type RepositoryPort interface {
	CreateThread(ctx context.Context, thread Thread, firstPost Post) (Thread, error)
	FindThread(ctx context.Context, id int64) (*Thread, error)
	ListThreads(ctx context.Context, limit, offset int) ([]Thread, int, error)
	SetThreadLock(ctx context.Context, threadID int64, locked bool, lockedBy int64) error

	CreatePost(ctx context.Context, post Post) (Post, error)
	FindPost(ctx context.Context, id int64) (*Post, error)
	ListPosts(ctx context.Context, threadID int64, limit, offset int) ([]Post, int, error)
	MarkPostDeleted(ctx context.Context, postID, deletedBy int64) error
	MarkPostRestored(ctx context.Context, postID int64) error
}
