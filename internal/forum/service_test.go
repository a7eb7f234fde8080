package forum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/discipline"
	"github.com/agora-forum/agora/internal/users"
)

var forumTime = time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)

type mockRepo struct {
	threads map[int64]Thread
	posts   map[int64]Post
	nextID  int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{threads: make(map[int64]Thread), posts: make(map[int64]Post), nextID: 1}
}

func (m *mockRepo) CreateThread(_ context.Context, thread Thread, firstPost Post) (Thread, error) {
	thread.ID = m.nextID
	m.nextID++
	m.threads[thread.ID] = thread
	firstPost.ID = m.nextID
	m.nextID++
	firstPost.ThreadID = thread.ID
	m.posts[firstPost.ID] = firstPost
	return thread, nil
}

func (m *mockRepo) FindThread(_ context.Context, id int64) (*Thread, error) {
	thread, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &thread, nil
}

func (m *mockRepo) ListThreads(_ context.Context, limit, offset int) ([]Thread, int, error) {
	var out []Thread
	for id := m.nextID; id >= 1; id-- {
		if thread, ok := m.threads[id]; ok {
			out = append(out, thread)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) SetThreadLock(_ context.Context, threadID int64, locked bool, lockedBy int64) error {
	thread, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	thread.Locked = locked
	thread.LockedByID = lockedBy
	m.threads[threadID] = thread
	return nil
}

func (m *mockRepo) CreatePost(_ context.Context, post Post) (Post, error) {
	post.ID = m.nextID
	m.nextID++
	m.posts[post.ID] = post
	return post, nil
}

func (m *mockRepo) FindPost(_ context.Context, id int64) (*Post, error) {
	post, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &post, nil
}

func (m *mockRepo) ListPosts(_ context.Context, threadID int64, limit, offset int) ([]Post, int, error) {
	var out []Post
	for id := int64(1); id < m.nextID; id++ {
		if post, ok := m.posts[id]; ok && post.ThreadID == threadID {
			out = append(out, post)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) MarkPostDeleted(_ context.Context, postID, deletedBy int64) error {
	post, ok := m.posts[postID]
	if !ok {
		return ErrNotFound
	}
	post.Deleted = true
	post.DeletedByID = deletedBy
	post.DeletedAt = forumTime
	m.posts[postID] = post
	return nil
}

func (m *mockRepo) MarkPostRestored(_ context.Context, postID int64) error {
	post, ok := m.posts[postID]
	if !ok {
		return ErrNotFound
	}
	post.Deleted = false
	post.DeletedByID = 0
	post.DeletedAt = time.Time{}
	m.posts[postID] = post
	return nil
}

var _ RepositoryPort = (*mockRepo)(nil)

type stubDirectory struct {
	users map[int64]*users.User
}

func (s *stubDirectory) FindByID(_ context.Context, id int64) (*users.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return user, nil
}

type stubGate struct {
	blocked map[int64]*discipline.DisciplinedUserError
}

func (s *stubGate) HandleDisciplinedUser(_ context.Context, user *users.User) error {
	if user == nil {
		return nil
	}
	if err, ok := s.blocked[user.ID]; ok {
		return err
	}
	return nil
}

func member(id int64, username string, highest authority.Role) *users.User {
	set := authority.NewRoleSet()
	for r := authority.RoleUser; r.Rank() <= highest.Rank(); r++ {
		set.Add(r)
	}
	return &users.User{ID: id, Username: username, Enabled: true, Roles: set}
}

type fixture struct {
	svc  *Service
	repo *mockRepo
	gate *stubGate
	dir  *stubDirectory
}

func newFixture(t *testing.T, known ...*users.User) *fixture {
	t.Helper()
	repo := newMockRepo()
	dir := &stubDirectory{users: make(map[int64]*users.User)}
	for _, u := range known {
		dir.users[u.ID] = u
	}
	gate := &stubGate{blocked: make(map[int64]*discipline.DisciplinedUserError)}
	svc := NewService(repo, dir, gate, nil, nil).WithClock(func() time.Time { return forumTime })
	return &fixture{svc: svc, repo: repo, gate: gate, dir: dir}
}

func seedThread(t *testing.T, fx *fixture, creator *users.User) *Thread {
	t.Helper()
	thread, err := fx.svc.CreateThread(context.Background(), creator, "topic", "opening post")
	require.NoError(t, err)
	return thread
}

func TestCreateThreadWithFirstPost(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	fx := newFixture(t, user)

	thread, err := fx.svc.CreateThread(context.Background(), user, "  topic  ", "hello")
	require.NoError(t, err)
	assert.Equal(t, "topic", thread.Title)
	assert.Equal(t, user.ID, thread.CreatorID)
	assert.False(t, thread.Locked)

	posts, _, err := fx.repo.ListPosts(context.Background(), thread.ID, 20, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "hello", posts[0].Content)
}

func TestCreateThreadBlankContent(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	fx := newFixture(t, user)

	_, err := fx.svc.CreateThread(context.Background(), user, "   ", "body")
	require.ErrorIs(t, err, ErrBlankContent)
	_, err = fx.svc.CreateThread(context.Background(), user, "topic", "   ")
	require.ErrorIs(t, err, ErrBlankContent)
}

func TestDisciplinedUserCannotCreateContent(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	fx := newFixture(t, user)
	fx.gate.blocked[user.ID] = &discipline.DisciplinedUserError{UserID: user.ID, Username: user.Username}

	_, err := fx.svc.CreateThread(context.Background(), user, "topic", "body")
	var disciplined *discipline.DisciplinedUserError
	require.ErrorAs(t, err, &disciplined)
	assert.Empty(t, fx.repo.threads)
}

func TestCreatePostInLockedThread(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	fx := newFixture(t, user, mod)
	thread := seedThread(t, fx, user)

	_, err := fx.svc.LockThread(context.Background(), mod, thread.ID)
	require.NoError(t, err)

	_, err = fx.svc.CreatePost(context.Background(), user, thread.ID, "late reply")
	require.ErrorIs(t, err, ErrThreadLocked)
}

func TestLockThreadAuthority(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	peerMod := member(3, "othermod", authority.RoleModerator)
	fx := newFixture(t, user, mod, peerMod)

	t.Run("moderator locks a member thread", func(t *testing.T) {
		thread := seedThread(t, fx, user)
		locked, err := fx.svc.LockThread(context.Background(), mod, thread.ID)
		require.NoError(t, err)
		assert.True(t, locked.Locked)
		assert.Equal(t, mod.ID, locked.LockedByID)
	})

	t.Run("member cannot lock", func(t *testing.T) {
		thread := seedThread(t, fx, user)
		_, err := fx.svc.LockThread(context.Background(), user, thread.ID)
		require.ErrorIs(t, err, ErrInsufficientAuthority)
	})

	t.Run("peer cannot lock a moderator thread", func(t *testing.T) {
		thread := seedThread(t, fx, mod)
		_, err := fx.svc.LockThread(context.Background(), peerMod, thread.ID)
		require.ErrorIs(t, err, ErrInsufficientAuthority)
	})

	t.Run("locking twice fails", func(t *testing.T) {
		thread := seedThread(t, fx, user)
		_, err := fx.svc.LockThread(context.Background(), mod, thread.ID)
		require.NoError(t, err)
		_, err = fx.svc.LockThread(context.Background(), mod, thread.ID)
		require.ErrorIs(t, err, ErrThreadLocked)
	})
}

func TestUnlockThreadAuthority(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	peerMod := member(3, "othermod", authority.RoleModerator)
	admin := member(4, "admin", authority.RoleAdministrator)
	fx := newFixture(t, user, mod, peerMod, admin)

	lockedThread := func(t *testing.T) *Thread {
		thread := seedThread(t, fx, user)
		locked, err := fx.svc.LockThread(context.Background(), mod, thread.ID)
		require.NoError(t, err)
		return locked
	}

	t.Run("locker unlocks their own lock", func(t *testing.T) {
		thread := lockedThread(t)
		unlocked, err := fx.svc.UnlockThread(context.Background(), mod, thread.ID)
		require.NoError(t, err)
		assert.False(t, unlocked.Locked)
	})

	t.Run("outranking actor unlocks someone else's lock", func(t *testing.T) {
		thread := lockedThread(t)
		_, err := fx.svc.UnlockThread(context.Background(), admin, thread.ID)
		require.NoError(t, err)
	})

	t.Run("peer of the locker cannot unlock", func(t *testing.T) {
		thread := lockedThread(t)
		_, err := fx.svc.UnlockThread(context.Background(), peerMod, thread.ID)
		require.ErrorIs(t, err, ErrInsufficientAuthority)
	})

	t.Run("any moderator unlocks when the locker account is gone", func(t *testing.T) {
		thread := lockedThread(t)
		delete(fx.dir.users, mod.ID)
		defer func() { fx.dir.users[mod.ID] = mod }()
		unlocked, err := fx.svc.UnlockThread(context.Background(), peerMod, thread.ID)
		require.NoError(t, err)
		assert.False(t, unlocked.Locked)
	})

	t.Run("unlocking an open thread fails", func(t *testing.T) {
		thread := seedThread(t, fx, user)
		_, err := fx.svc.UnlockThread(context.Background(), mod, thread.ID)
		require.ErrorIs(t, err, ErrThreadNotLocked)
	})
}

func TestDeletePostAuthority(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	peerMod := member(3, "othermod", authority.RoleModerator)
	fx := newFixture(t, user, mod, peerMod)
	thread := seedThread(t, fx, user)
	post, err := fx.svc.CreatePost(context.Background(), mod, thread.ID, "mod reply")
	require.NoError(t, err)

	t.Run("peer cannot delete", func(t *testing.T) {
		err := fx.svc.DeletePost(context.Background(), peerMod, post.ID)
		require.ErrorIs(t, err, ErrInsufficientAuthority)
	})

	t.Run("author cannot self moderate", func(t *testing.T) {
		err := fx.svc.DeletePost(context.Background(), mod, post.ID)
		require.ErrorIs(t, err, ErrInsufficientAuthority)
	})

	t.Run("outranking moderator deletes", func(t *testing.T) {
		admin := member(4, "admin", authority.RoleAdministrator)
		fx2 := newFixture(t, user, mod, admin)
		thread := seedThread(t, fx2, user)
		post, err := fx2.svc.CreatePost(context.Background(), mod, thread.ID, "mod reply")
		require.NoError(t, err)

		require.NoError(t, fx2.svc.DeletePost(context.Background(), admin, post.ID))
		stored, _ := fx2.repo.FindPost(context.Background(), post.ID)
		assert.True(t, stored.Deleted)
		assert.Equal(t, admin.ID, stored.DeletedByID)

		err = fx2.svc.DeletePost(context.Background(), admin, post.ID)
		require.ErrorIs(t, err, ErrPostDeleted)
	})
}

func TestRestorePostAuthority(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	peerMod := member(3, "othermod", authority.RoleModerator)
	super := member(4, "root", authority.RoleSuperAdministrator)

	setup := func(t *testing.T) (*fixture, *Post) {
		fx := newFixture(t, user, mod, peerMod, super)
		thread := seedThread(t, fx, user)
		post, err := fx.svc.CreatePost(context.Background(), user, thread.ID, "reply")
		require.NoError(t, err)
		require.NoError(t, fx.svc.DeletePost(context.Background(), mod, post.ID))
		return fx, post
	}

	t.Run("deleter restores", func(t *testing.T) {
		fx, post := setup(t)
		require.NoError(t, fx.svc.RestorePost(context.Background(), mod, post.ID))
		stored, _ := fx.repo.FindPost(context.Background(), post.ID)
		assert.False(t, stored.Deleted)
	})

	t.Run("outranking actor restores", func(t *testing.T) {
		fx, post := setup(t)
		require.NoError(t, fx.svc.RestorePost(context.Background(), super, post.ID))
	})

	t.Run("peer of the deleter cannot restore", func(t *testing.T) {
		fx, post := setup(t)
		err := fx.svc.RestorePost(context.Background(), peerMod, post.ID)
		require.ErrorIs(t, err, ErrInsufficientAuthority)
	})

	t.Run("any moderator restores when the deleter account is gone", func(t *testing.T) {
		fx, post := setup(t)
		delete(fx.dir.users, mod.ID)
		require.NoError(t, fx.svc.RestorePost(context.Background(), peerMod, post.ID))
	})

	t.Run("restoring a live post fails", func(t *testing.T) {
		fx, post := setup(t)
		require.NoError(t, fx.svc.RestorePost(context.Background(), mod, post.ID))
		err := fx.svc.RestorePost(context.Background(), mod, post.ID)
		require.ErrorIs(t, err, ErrPostNotDeleted)
	})
}

func TestListPostsHidesDeletedContent(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	admin := member(3, "admin", authority.RoleAdministrator)
	fx := newFixture(t, user, mod, admin)
	thread := seedThread(t, fx, user)
	post, err := fx.svc.CreatePost(context.Background(), user, thread.ID, "secret")
	require.NoError(t, err)
	require.NoError(t, fx.svc.DeletePost(context.Background(), mod, post.ID))

	views, _, err := fx.svc.ListPosts(context.Background(), user, thread.ID, 1, 20)
	require.NoError(t, err)
	for _, view := range views {
		if view.ID == post.ID {
			assert.True(t, view.Deleted)
			assert.Empty(t, view.Content, "deleted content hidden from regular viewers")
			assert.False(t, view.CanRestore)
		}
	}

	views, _, err = fx.svc.ListPosts(context.Background(), admin, thread.ID, 1, 20)
	require.NoError(t, err)
	for _, view := range views {
		if view.ID == post.ID {
			assert.Equal(t, "secret", view.Content, "restorers still see the content")
			assert.True(t, view.CanRestore)
		}
	}
}

func TestThreadViewAnnotations(t *testing.T) {
	user := member(1, "alice", authority.RoleUser)
	mod := member(2, "mod", authority.RoleModerator)
	fx := newFixture(t, user, mod)
	thread := seedThread(t, fx, user)

	view, err := fx.svc.GetThread(context.Background(), mod, thread.ID)
	require.NoError(t, err)
	assert.True(t, view.CanLock)
	assert.False(t, view.CanUnlock)

	_, err = fx.svc.LockThread(context.Background(), mod, thread.ID)
	require.NoError(t, err)

	view, err = fx.svc.GetThread(context.Background(), mod, thread.ID)
	require.NoError(t, err)
	assert.False(t, view.CanLock)
	assert.True(t, view.CanUnlock)
}
