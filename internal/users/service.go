package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/shared"
)

// ErrTokenExpired indicates the verification token is no longer usable.
var ErrTokenExpired = errors.New("users: verification token expired")

// ErrPasswordChangeNotAllowed indicates the change-password privilege is
// missing.
var ErrPasswordChangeNotAllowed = errors.New("users: password change not permitted")

const verificationTokenTTL = 24 * time.Hour

// Mailer enqueues transactional email without blocking the request path.
type Mailer interface {
	EnqueueVerificationEmail(ctx context.Context, email, token string) error
}

// Service handles account lifecycle and rank transitions.
type Service struct {
	repo   RepositoryPort
	mailer Mailer
	audit  *shared.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a Service instance. The audit logger and mailer may be
// nil in tests.
func NewService(repo RepositoryPort, mailer Mailer, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		mailer: mailer,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterRequest carries a new account submission.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=4,max=50,alphanumunicode"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Register creates a disabled account holding only the USER rank and mails
// a verification token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	user := &User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		Enabled:      false,
		Roles:        authority.NewRoleSet(authority.RoleUser),
	}
	user, err = s.repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.issueVerificationToken(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) issueVerificationToken(ctx context.Context, user *User) error {
	token := VerificationToken{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(verificationTokenTTL),
	}
	if err := s.repo.CreateVerificationToken(ctx, token); err != nil {
		return err
	}
	if s.mailer != nil {
		if err := s.mailer.EnqueueVerificationEmail(ctx, user.Email, token.Token); err != nil {
			// Account creation already committed; the user can request a
			// resend.
			if s.logger != nil {
				s.logger.Warn("enqueue verification email", slog.Any("error", err))
			}
		}
	}
	return nil
}

// VerifyEmail consumes a verification token and enables the account.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	vt, err := s.repo.FindVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if vt.Expired(s.now()) {
		return nil, ErrTokenExpired
	}
	if err := s.repo.Enable(ctx, vt.UserID); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteVerificationToken(ctx, token); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, vt.UserID)
}

// ResendVerification issues a fresh token for a not-yet-enabled account.
func (s *Service) ResendVerification(ctx context.Context, username string) error {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user.Enabled {
		return nil
	}
	return s.issueVerificationToken(ctx, user)
}

// GetUser fetches a user by username.
func (s *Service) GetUser(ctx context.Context, username string) (*User, error) {
	return s.repo.FindByUsername(ctx, username)
}

// GetByID fetches a user by ID.
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// GetByEmail fetches a user by email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// Promote grants target the given rank. The rank must be exactly one step
// above target's current highest, and the actor must outrank both the
// target and the granted rank. Role sets are cumulative: lower ranks stay.
func (s *Service) Promote(ctx context.Context, actor, target *User, toRole authority.Role) (*User, error) {
	if actor == nil || target == nil {
		return nil, authority.ErrInsufficientAuthority
	}
	if err := authority.ValidatePromotion(actor.Roles, target.Roles, toRole); err != nil {
		return nil, err
	}
	if err := s.repo.AddRole(ctx, target.ID, toRole); err != nil {
		return nil, err
	}
	target.Roles.Add(toRole)
	s.recordRankChange(ctx, actor, target, "user.promote", toRole)
	return target, nil
}

// Demote removes target's current highest rank, which must sit exactly one
// step above toRole.
func (s *Service) Demote(ctx context.Context, actor, target *User, toRole authority.Role) (*User, error) {
	if actor == nil || target == nil {
		return nil, authority.ErrInsufficientAuthority
	}
	if err := authority.ValidateDemotion(actor.Roles, target.Roles, toRole); err != nil {
		return nil, err
	}
	highest, ok := target.Roles.Highest()
	if !ok {
		return nil, authority.ErrInsufficientAuthority
	}
	if err := s.repo.RemoveRole(ctx, target.ID, highest); err != nil {
		return nil, err
	}
	target.Roles.Remove(highest)
	s.recordRankChange(ctx, actor, target, "user.demote", toRole)
	return target, nil
}

func (s *Service) recordRankChange(ctx context.Context, actor, target *User, action string, role authority.Role) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "user",
		EntityID: target.Username,
		Meta:     map[string]any{"role": role.String()},
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit rank change", slog.Any("error", err))
	}
}

// GrantPasswordChange attaches the short-lived change-password privilege,
// used by the password-reset flow.
func (s *Service) GrantPasswordChange(ctx context.Context, user *User) error {
	if user == nil {
		return ErrNotFound
	}
	return s.repo.GrantPrivilege(ctx, user.ID, authority.PrivilegeChangePassword)
}

// ChangePassword replaces the password of a user holding the
// change-password privilege and revokes the privilege once consumed.
func (s *Service) ChangePassword(ctx context.Context, user *User, newPassword string) error {
	if user == nil {
		return ErrNotFound
	}
	if !user.HasPrivilege(authority.PrivilegeChangePassword) {
		return ErrPasswordChangeNotAllowed
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	return s.repo.RevokePrivilege(ctx, user.ID, authority.PrivilegeChangePassword)
}
