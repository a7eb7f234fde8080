package forum

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
)

// UserDirectory resolves users referenced by threads and posts.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// Gate aborts content-creating and moderation actions by disciplined
// users. Satisfied by the discipline service.
type Gate interface {
	HandleDisciplinedUser(ctx context.Context, user *users.User) error
}

// Service orchestrates thread and post lifecycles and their authority
// checks.
type Service struct {
	repo      RepositoryPort
	directory UserDirectory
	gate      Gate
	audit     *shared.AuditLogger
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service. Audit may be nil.
func NewService(repo RepositoryPort, directory UserDirectory, gate Gate, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		gate:      gate,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ThreadView is a thread annotated with the viewer's moderation options.
type ThreadView struct {
	Thread
	CanLock   bool
	CanUnlock bool
}

// PostView is a post annotated with the viewer's moderation options.
// Deleted content is blanked unless the viewer could restore the post.
type PostView struct {
	Post
	CanDelete  bool
	CanRestore bool
}

// CreateThread opens a new thread with its first post.
func (s *Service) CreateThread(ctx context.Context, actor *users.User, title, content string) (*Thread, error) {
	if err := s.gate.HandleDisciplinedUser(ctx, actor); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, ErrBlankContent
	}
	now := s.now()
	thread, err := s.repo.CreateThread(ctx,
		Thread{Title: title, CreatorID: actor.ID, CreatedAt: now},
		Post{AuthorID: actor.ID, Content: content, CreatedAt: now})
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// CreatePost appends a post to an unlocked thread.
func (s *Service) CreatePost(ctx context.Context, actor *users.User, threadID int64, content string) (*Post, error) {
	if err := s.gate.HandleDisciplinedUser(ctx, actor); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrBlankContent
	}
	thread, err := s.repo.FindThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Locked {
		return nil, ErrThreadLocked
	}
	post, err := s.repo.CreatePost(ctx, Post{ThreadID: thread.ID, AuthorID: actor.ID, Content: content, CreatedAt: s.now()})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// LockThread locks a thread against further posts. The actor must hold at
// least moderator rank and outrank the thread's creator.
func (s *Service) LockThread(ctx context.Context, actor *users.User, threadID int64) (*Thread, error) {
	if err := s.gate.HandleDisciplinedUser(ctx, actor); err != nil {
		return nil, err
	}
	thread, err := s.repo.FindThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Locked {
		return nil, ErrThreadLocked
	}
	creator, err := s.lookupOptional(ctx, thread.CreatorID)
	if err != nil {
		return nil, err
	}
	if !CanLock(actor, creator, thread) {
		return nil, ErrInsufficientAuthority
	}
	if err := s.repo.SetThreadLock(ctx, thread.ID, true, actor.ID); err != nil {
		return nil, err
	}
	thread.Locked = true
	thread.LockedByID = actor.ID
	s.recordAudit(ctx, actor.ID, "thread.lock", thread.ID)
	return thread, nil
}

// UnlockThread reopens a locked thread. The actor must hold at least
// moderator rank and be the locker or outrank them.
func (s *Service) UnlockThread(ctx context.Context, actor *users.User, threadID int64) (*Thread, error) {
	if err := s.gate.HandleDisciplinedUser(ctx, actor); err != nil {
		return nil, err
	}
	thread, err := s.repo.FindThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Locked {
		return nil, ErrThreadNotLocked
	}
	locker, err := s.lookupOptional(ctx, thread.LockedByID)
	if err != nil {
		return nil, err
	}
	if !CanUnlock(actor, locker, thread) {
		return nil, ErrInsufficientAuthority
	}
	if err := s.repo.SetThreadLock(ctx, thread.ID, false, 0); err != nil {
		return nil, err
	}
	thread.Locked = false
	thread.LockedByID = 0
	s.recordAudit(ctx, actor.ID, "thread.unlock", thread.ID)
	return thread, nil
}

// DeletePost soft-deletes a post. The actor must outrank the author.
func (s *Service) DeletePost(ctx context.Context, actor *users.User, postID int64) error {
	if err := s.gate.HandleDisciplinedUser(ctx, actor); err != nil {
		return err
	}
	post, err := s.repo.FindPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.Deleted {
		return ErrPostDeleted
	}
	author, err := s.lookupOptional(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	if !CanDeletePost(actor, author, post) {
		return ErrInsufficientAuthority
	}
	if err := s.repo.MarkPostDeleted(ctx, post.ID, actor.ID); err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "post.delete", post.ID)
	return nil
}

// RestorePost reverses a soft deletion. The actor must be the deleter or
// outrank them.
func (s *Service) RestorePost(ctx context.Context, actor *users.User, postID int64) error {
	if err := s.gate.HandleDisciplinedUser(ctx, actor); err != nil {
		return err
	}
	post, err := s.repo.FindPost(ctx, postID)
	if err != nil {
		return err
	}
	if !post.Deleted {
		return ErrPostNotDeleted
	}
	deleter, err := s.lookupOptional(ctx, post.DeletedByID)
	if err != nil {
		return err
	}
	if !CanRestorePost(actor, deleter, post) {
		return ErrInsufficientAuthority
	}
	if err := s.repo.MarkPostRestored(ctx, post.ID); err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "post.restore", post.ID)
	return nil
}

// GetThread loads a thread annotated for the viewer.
func (s *Service) GetThread(ctx context.Context, viewer *users.User, threadID int64) (*ThreadView, error) {
	thread, err := s.repo.FindThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	view, err := s.threadView(ctx, viewer, *thread, map[int64]*users.User{})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListThreads returns a page of threads, newest first, annotated for the
// viewer.
func (s *Service) ListThreads(ctx context.Context, viewer *users.User, page, perPage int) ([]ThreadView, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	threads, total, err := s.repo.ListThreads(ctx, p.PerPage, (p.Page-1)*p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	cache := map[int64]*users.User{}
	views := make([]ThreadView, 0, len(threads))
	for _, thread := range threads {
		view, err := s.threadView(ctx, viewer, thread, cache)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		views = append(views, view)
	}
	return views, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// ListPosts returns a page of a thread's posts annotated for the viewer.
func (s *Service) ListPosts(ctx context.Context, viewer *users.User, threadID int64, page, perPage int) ([]PostView, shared.Pagination, error) {
	if _, err := s.repo.FindThread(ctx, threadID); err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, 0)
	posts, total, err := s.repo.ListPosts(ctx, threadID, p.PerPage, (p.Page-1)*p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	cache := map[int64]*users.User{}
	views := make([]PostView, 0, len(posts))
	for _, post := range posts {
		view := PostView{Post: post}
		author, err := s.lookupCached(ctx, post.AuthorID, cache)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		view.CanDelete = CanDeletePost(viewer, author, &post)
		if post.Deleted {
			deleter, err := s.lookupCached(ctx, post.DeletedByID, cache)
			if err != nil {
				return nil, shared.Pagination{}, err
			}
			view.CanRestore = CanRestorePost(viewer, deleter, &post)
			if !view.CanRestore {
				view.Content = ""
			}
		}
		views = append(views, view)
	}
	return views, shared.NewPagination(p.Page, p.PerPage, total), nil
}

func (s *Service) threadView(ctx context.Context, viewer *users.User, thread Thread, cache map[int64]*users.User) (ThreadView, error) {
	view := ThreadView{Thread: thread}
	if viewer == nil {
		return view, nil
	}
	creator, err := s.lookupCached(ctx, thread.CreatorID, cache)
	if err != nil {
		return ThreadView{}, err
	}
	view.CanLock = CanLock(viewer, creator, &thread)
	if thread.Locked {
		locker, err := s.lookupCached(ctx, thread.LockedByID, cache)
		if err != nil {
			return ThreadView{}, err
		}
		view.CanUnlock = CanUnlock(viewer, locker, &thread)
	}
	return view, nil
}

// lookupOptional resolves a referenced user, tolerating accounts that no
// longer exist.
func (s *Service) lookupOptional(ctx context.Context, id int64) (*users.User, error) {
	if id == 0 {
		return nil, nil
	}
	user, err := s.directory.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) lookupCached(ctx context.Context, id int64, cache map[int64]*users.User) (*users.User, error) {
	if user, ok := cache[id]; ok {
		return user, nil
	}
	user, err := s.lookupOptional(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = user
	return user, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64) {
	if s.audit == nil {
		return
	}
	entity := "thread"
	if strings.HasPrefix(action, "post.") {
		entity = "post"
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit forum action", slog.Any("error", err))
	}
}
