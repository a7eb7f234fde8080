package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agora-forum/agora/internal/authority"
	_ "github.com/agora-forum/agora/internal/testing/guard"
)

var registrationTime = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type mockRepository struct {
	users  map[int64]*User
	tokens map[string]VerificationToken
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{users: make(map[int64]*User), tokens: make(map[string]VerificationToken), nextID: 1}
}

func (m *mockRepository) FindByID(_ context.Context, id int64) (*User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *mockRepository) FindByUsername(_ context.Context, username string) (*User, error) {
	for _, user := range m.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	for _, user := range m.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) Create(_ context.Context, user *User) (*User, error) {
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return nil, ErrDuplicateUsername
		}
		if existing.Email == user.Email {
			return nil, ErrDuplicateEmail
		}
	}
	user.ID = m.nextID
	m.nextID++
	user.CreatedAt = registrationTime
	clone := *user
	m.users[user.ID] = &clone
	return user, nil
}

func (m *mockRepository) Enable(_ context.Context, userID int64) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Enabled = true
	return nil
}

func (m *mockRepository) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *mockRepository) AddRole(_ context.Context, userID int64, role authority.Role) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Roles.Add(role)
	return nil
}

func (m *mockRepository) RemoveRole(_ context.Context, userID int64, role authority.Role) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Roles.Remove(role)
	return nil
}

func (m *mockRepository) GrantPrivilege(_ context.Context, userID int64, privilege authority.Privilege) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Privileges = append(user.Privileges, privilege)
	return nil
}

func (m *mockRepository) RevokePrivilege(_ context.Context, userID int64, privilege authority.Privilege) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	kept := user.Privileges[:0]
	for _, held := range user.Privileges {
		if held != privilege {
			kept = append(kept, held)
		}
	}
	user.Privileges = kept
	return nil
}

func (m *mockRepository) CreateVerificationToken(_ context.Context, token VerificationToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockRepository) FindVerificationToken(_ context.Context, token string) (*VerificationToken, error) {
	vt, ok := m.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &vt, nil
}

func (m *mockRepository) DeleteVerificationToken(_ context.Context, token string) error {
	delete(m.tokens, token)
	return nil
}

func (m *mockRepository) DeleteVerificationTokensBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for key, vt := range m.tokens {
		if vt.ExpiresAt.Before(cutoff) {
			delete(m.tokens, key)
			purged++
		}
	}
	return purged, nil
}

var _ RepositoryPort = (*mockRepository)(nil)

type mockMailer struct {
	verifications []string
}

func (m *mockMailer) EnqueueVerificationEmail(_ context.Context, email, token string) error {
	m.verifications = append(m.verifications, email)
	return nil
}

func newTestService() (*Service, *mockRepository, *mockMailer) {
	repo := newMockRepository()
	mailer := &mockMailer{}
	svc := NewService(repo, mailer, nil, nil).WithClock(func() time.Time { return registrationTime })
	return svc, repo, mailer
}

func seedUser(t *testing.T, repo *mockRepository, username string, highest authority.Role) *User {
	t.Helper()
	set := authority.NewRoleSet()
	for r := authority.RoleUser; r.Rank() <= highest.Rank(); r++ {
		set.Add(r)
	}
	user, err := repo.Create(context.Background(), &User{
		Username: username,
		Email:    username + "@test.local",
		Enabled:  true,
		Roles:    set,
	})
	require.NoError(t, err)
	return user
}

func TestRegisterCreatesDisabledAccount(t *testing.T) {
	svc, repo, mailer := newTestService()

	user, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Email:    "Alice@Test.Local",
		Password: "supersecret",
	})
	require.NoError(t, err)

	assert.False(t, user.Enabled)
	assert.Equal(t, "alice@test.local", user.Email)
	highest, ok := user.HighestAuthority()
	require.True(t, ok)
	assert.Equal(t, authority.RoleUser, highest)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("supersecret")))

	require.Len(t, repo.tokens, 1)
	for _, vt := range repo.tokens {
		assert.Equal(t, user.ID, vt.UserID)
		assert.Equal(t, registrationTime.Add(24*time.Hour), vt.ExpiresAt)
	}
	assert.Equal(t, []string{"alice@test.local"}, mailer.verifications)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, repo, _ := newTestService()
	seedUser(t, repo, "alice", authority.RoleUser)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Email:    "other@test.local",
		Password: "supersecret",
	})
	require.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestVerifyEmailEnablesAccount(t *testing.T) {
	svc, repo, _ := newTestService()

	user, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Email:    "alice@test.local",
		Password: "supersecret",
	})
	require.NoError(t, err)

	var token string
	for key := range repo.tokens {
		token = key
	}

	verified, err := svc.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, verified.Enabled)
	assert.Equal(t, user.ID, verified.ID)
	assert.Empty(t, repo.tokens, "token is consumed")
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	svc, repo, _ := newTestService()
	user := seedUser(t, repo, "alice", authority.RoleUser)
	repo.tokens["stale"] = VerificationToken{Token: "stale", UserID: user.ID, ExpiresAt: registrationTime.Add(-time.Minute)}

	_, err := svc.VerifyEmail(context.Background(), "stale")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestResendVerification(t *testing.T) {
	svc, repo, mailer := newTestService()
	user := seedUser(t, repo, "alice", authority.RoleUser)
	repo.users[user.ID].Enabled = false

	require.NoError(t, svc.ResendVerification(context.Background(), "alice"))
	assert.Len(t, repo.tokens, 1)
	assert.Len(t, mailer.verifications, 1)

	// Already-enabled accounts do not get another token.
	repo.users[user.ID].Enabled = true
	require.NoError(t, svc.ResendVerification(context.Background(), "alice"))
	assert.Len(t, repo.tokens, 1)
}

func TestPromoteAddsExactlyOneRank(t *testing.T) {
	svc, repo, _ := newTestService()
	admin := seedUser(t, repo, "admin", authority.RoleAdministrator)
	target := seedUser(t, repo, "member", authority.RoleUser)

	updated, err := svc.Promote(context.Background(), admin, target, authority.RoleModerator)
	require.NoError(t, err)

	highest, _ := updated.HighestAuthority()
	assert.Equal(t, authority.RoleModerator, highest)
	assert.True(t, updated.Roles.Has(authority.RoleUser), "lower ranks are kept")

	stored, _ := repo.FindByID(context.Background(), target.ID)
	assert.True(t, stored.Roles.Has(authority.RoleModerator))
}

func TestPromoteRejectsRankSkip(t *testing.T) {
	svc, repo, _ := newTestService()
	super := seedUser(t, repo, "root", authority.RoleSuperAdministrator)
	target := seedUser(t, repo, "member", authority.RoleUser)

	_, err := svc.Promote(context.Background(), super, target, authority.RoleAdministrator)
	require.ErrorIs(t, err, authority.ErrInsufficientAuthority)

	stored, _ := repo.FindByID(context.Background(), target.ID)
	assert.False(t, stored.Roles.Has(authority.RoleAdministrator))
}

func TestPromoteRejectsPeerActor(t *testing.T) {
	svc, repo, _ := newTestService()
	mod := seedUser(t, repo, "mod", authority.RoleModerator)
	target := seedUser(t, repo, "othermod", authority.RoleModerator)

	_, err := svc.Promote(context.Background(), mod, target, authority.RoleAdministrator)
	require.ErrorIs(t, err, authority.ErrInsufficientAuthority)
}

func TestDemoteRemovesHighestRank(t *testing.T) {
	svc, repo, _ := newTestService()
	admin := seedUser(t, repo, "admin", authority.RoleAdministrator)
	target := seedUser(t, repo, "mod", authority.RoleModerator)

	updated, err := svc.Demote(context.Background(), admin, target, authority.RoleUser)
	require.NoError(t, err)

	highest, _ := updated.HighestAuthority()
	assert.Equal(t, authority.RoleUser, highest)
	assert.False(t, updated.Roles.Has(authority.RoleModerator))
}

func TestDemoteRejectsNonAdjacentTarget(t *testing.T) {
	svc, repo, _ := newTestService()
	super := seedUser(t, repo, "root", authority.RoleSuperAdministrator)
	target := seedUser(t, repo, "admin", authority.RoleAdministrator)

	_, err := svc.Demote(context.Background(), super, target, authority.RoleUser)
	require.ErrorIs(t, err, authority.ErrInsufficientAuthority)
}

func TestChangePasswordConsumesPrivilege(t *testing.T) {
	svc, repo, _ := newTestService()
	user := seedUser(t, repo, "alice", authority.RoleUser)

	err := svc.ChangePassword(context.Background(), user, "newsecret99")
	require.ErrorIs(t, err, ErrPasswordChangeNotAllowed)

	require.NoError(t, svc.GrantPasswordChange(context.Background(), user))
	granted, _ := repo.FindByID(context.Background(), user.ID)

	require.NoError(t, svc.ChangePassword(context.Background(), granted, "newsecret99"))
	stored, _ := repo.FindByID(context.Background(), user.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("newsecret99")))
	assert.False(t, stored.HasPrivilege(authority.PrivilegeChangePassword), "privilege is single-use")
}
