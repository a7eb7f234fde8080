// Package forum holds discussion threads and posts together with the
// authority rules for locking threads and moderating posts.
package forum

import (
	"errors"
	"time"

	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/users"
)

var (
	// ErrNotFound indicates the thread or post does not exist.
	ErrNotFound = errors.New("forum: not found")
	// ErrThreadLocked rejects posting into a locked thread.
	ErrThreadLocked = errors.New("forum: thread is locked")
	// ErrThreadNotLocked rejects unlocking a thread that is not locked.
	ErrThreadNotLocked = errors.New("forum: thread is not locked")
	// ErrPostDeleted rejects deleting an already-deleted post.
	ErrPostDeleted = errors.New("forum: post already deleted")
	// ErrPostNotDeleted rejects restoring a post that is not deleted.
	ErrPostNotDeleted = errors.New("forum: post is not deleted")
	// ErrInsufficientAuthority rejects a moderation action the actor's rank
	// does not permit. Deliberately generic.
	ErrInsufficientAuthority = errors.New("forum: insufficient authority")
	// ErrBlankContent rejects empty titles and post bodies.
	ErrBlankContent = errors.New("forum: content must not be blank")
)

// Thread is a discussion topic. LockedByID is meaningful only while Locked
// is set; it records who applied the lock for the unlock authority check.
type Thread struct {
	ID         int64
	Title      string
	CreatorID  int64
	Locked     bool
	LockedByID int64
	CreatedAt  time.Time
}

// Post is one message in a thread. Deletion is soft: the row stays and the
// deleter is recorded so restoration can check authority against them.
type Post struct {
	ID          int64
	ThreadID    int64
	AuthorID    int64
	Content     string
	Deleted     bool
	DeletedByID int64
	DeletedAt   time.Time
	CreatedAt   time.Time
}

// CanLock reports whether the actor may lock the thread: it must be
// unlocked, the actor must hold at least moderator rank and must outrank
// the thread's creator.
func CanLock(actor, creator *users.User, thread *Thread) bool {
	if actor == nil || thread == nil || thread.Locked {
		return false
	}
	if !actor.Roles.HasAtLeast(authority.RoleModerator) {
		return false
	}
	return actor.IsHigherAuthority(creator)
}

// CanUnlock reports whether the actor may unlock the thread: it must be
// locked, the actor must hold at least moderator rank and must either be
// the locker or outrank them. A locker that can no longer be resolved
// counts as outranked.
func CanUnlock(actor, locker *users.User, thread *Thread) bool {
	if actor == nil || thread == nil || !thread.Locked {
		return false
	}
	if !actor.Roles.HasAtLeast(authority.RoleModerator) {
		return false
	}
	// A locker whose account no longer resolves holds no authority over the
	// lock; any moderator may lift it.
	if locker == nil {
		return true
	}
	if actor.ID == locker.ID {
		return true
	}
	return actor.IsHigherAuthority(locker)
}

// CanDeletePost reports whether the actor may soft-delete the post: at
// least moderator rank and strictly higher authority than the author.
func CanDeletePost(actor, author *users.User, post *Post) bool {
	if actor == nil || post == nil || post.Deleted {
		return false
	}
	if !actor.Roles.HasAtLeast(authority.RoleModerator) {
		return false
	}
	return actor.IsHigherAuthority(author)
}

// CanRestorePost reports whether the actor may restore the post: at least
// moderator rank and either the deleter themself or someone who outranks
// the deleter. A deleter that can no longer be resolved counts as
// outranked.
func CanRestorePost(actor, deleter *users.User, post *Post) bool {
	if actor == nil || post == nil || !post.Deleted {
		return false
	}
	if !actor.Roles.HasAtLeast(authority.RoleModerator) {
		return false
	}
	// Same rule as CanUnlock: a vanished deleter cannot pin the post down.
	if deleter == nil {
		return true
	}
	if actor.ID == deleter.ID {
		return true
	}
	return actor.IsHigherAuthority(deleter)
}
