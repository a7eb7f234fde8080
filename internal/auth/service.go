package auth

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
)

// CredentialSource resolves accounts for credential checks.
type CredentialSource interface {
	FindByUsername(ctx context.Context, username string) (*users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	accounts CredentialSource
	sessions *shared.SessionManager
}

// NewService constructs a new Service.
func NewService(repo Repository, accounts CredentialSource, sessions *shared.SessionManager) *Service {
	return &Service{repo: repo, accounts: accounts, sessions: sessions}
}

// Authenticate validates username/password credentials. Unknown usernames,
// wrong passwords and unverified accounts all read the same.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*users.User, error) {
	user, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.Enabled {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, SessionRecord{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		IP:        ip,
		UserAgent: ua,
	})
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// InvalidateAllForUser destroys every live Redis session of the user and
// deletes the matching Postgres rows. Satisfies the session collaborator
// the discipline service calls when it punishes a user.
func (s *Service) InvalidateAllForUser(ctx context.Context, userID int64) error {
	if err := s.sessions.DestroyAllForUser(ctx, strconv.FormatInt(userID, 10)); err != nil {
		return err
	}
	return s.repo.DeleteAllSessionsForUser(ctx, userID)
}

// PurgeExpiredSessions removes session rows past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteSessionsExpiredBefore(ctx, now)
}
