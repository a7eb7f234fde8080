package users

import (
	"context"
	"errors"
	"time"

	"github.com/agora-forum/agora/internal/authority"
)

var (
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrDuplicateUsername indicates the username is already taken.
	ErrDuplicateUsername = errors.New("users: username already registered")
	// ErrDuplicateEmail indicates the email is already taken.
	ErrDuplicateEmail = errors.New("users: email already registered")
	// ErrTokenNotFound indicates an unknown verification token.
	ErrTokenNotFound = errors.New("users: verification token not found")
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Enable(ctx context.Context, userID int64) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error

	AddRole(ctx context.Context, userID int64, role authority.Role) error
	RemoveRole(ctx context.Context, userID int64, role authority.Role) error
	GrantPrivilege(ctx context.Context, userID int64, privilege authority.Privilege) error
	RevokePrivilege(ctx context.Context, userID int64, privilege authority.Privilege) error

	CreateVerificationToken(ctx context.Context, token VerificationToken) error
	FindVerificationToken(ctx context.Context, token string) (*VerificationToken, error)
	DeleteVerificationToken(ctx context.Context, token string) error
	DeleteVerificationTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
