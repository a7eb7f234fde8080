package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for user accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// FindByID fetches a user and their role/privilege sets.
func (r *Repository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, enabled, created_at, updated_at FROM users WHERE id = $1`, id)
}

// FindByUsername fetches a user by username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, enabled, created_at, updated_at FROM users WHERE username = $1`, username)
}

// FindByEmail fetches a user by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, enabled, created_at, updated_at FROM users WHERE email = $1`, email)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Enabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: find: %w", err)
	}
	if err := r.loadGrants(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) loadGrants(ctx context.Context, user *User) error {
	rows, err := r.pool.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, user.ID)
	if err != nil {
		return fmt.Errorf("users: load roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("users: scan role: %w", err)
		}
		if role, ok := authority.ParseRole(name); ok {
			user.Roles.Add(role)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("users: roles: %w", err)
	}

	privRows, err := r.pool.Query(ctx, `SELECT privilege FROM user_privileges WHERE user_id = $1`, user.ID)
	if err != nil {
		return fmt.Errorf("users: load privileges: %w", err)
	}
	defer privRows.Close()
	for privRows.Next() {
		var name string
		if err := privRows.Scan(&name); err != nil {
			return fmt.Errorf("users: scan privilege: %w", err)
		}
		user.Privileges = append(user.Privileges, authority.Privilege(name))
	}
	if err := privRows.Err(); err != nil {
		return fmt.Errorf("users: privileges: %w", err)
	}
	return nil
}

// Create inserts a user together with their initial role set in one
// transaction.
func (r *Repository) Create(ctx context.Context, user *User) (*User, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO users (username, email, password_hash, enabled, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 RETURNING id, created_at, updated_at`,
			user.Username, user.Email, user.PasswordHash, user.Enabled,
		).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return translateUniqueViolation(err)
		}
		for _, role := range user.Roles.Roles() {
			if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, user.ID, role.String()); err != nil {
				return fmt.Errorf("users: insert role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return ErrDuplicateUsername
		case "users_email_key":
			return ErrDuplicateEmail
		}
	}
	return fmt.Errorf("users: insert: %w", err)
}

// Enable marks a user account as active.
func (r *Repository) Enable(ctx context.Context, userID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET enabled = TRUE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("users: enable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("users: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRole grants a rank. Re-granting a held rank is a no-op.
func (r *Repository) AddRole(ctx context.Context, userID int64, role authority.Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, role.String())
	if err != nil {
		return fmt.Errorf("users: add role: %w", err)
	}
	return nil
}

// RemoveRole revokes a rank.
func (r *Repository) RemoveRole(ctx context.Context, userID int64, role authority.Role) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, role.String())
	if err != nil {
		return fmt.Errorf("users: remove role: %w", err)
	}
	return nil
}

// GrantPrivilege attaches a non-ranked grant.
func (r *Repository) GrantPrivilege(ctx context.Context, userID int64, privilege authority.Privilege) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_privileges (user_id, privilege) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, string(privilege))
	if err != nil {
		return fmt.Errorf("users: grant privilege: %w", err)
	}
	return nil
}

// RevokePrivilege removes a non-ranked grant.
func (r *Repository) RevokePrivilege(ctx context.Context, userID int64, privilege authority.Privilege) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_privileges WHERE user_id = $1 AND privilege = $2`, userID, string(privilege))
	if err != nil {
		return fmt.Errorf("users: revoke privilege: %w", err)
	}
	return nil
}

// CreateVerificationToken stores a registration token.
func (r *Repository) CreateVerificationToken(ctx context.Context, token VerificationToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO verification_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token.Token, token.UserID, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("users: create token: %w", err)
	}
	return nil
}

// FindVerificationToken loads a token by value.
func (r *Repository) FindVerificationToken(ctx context.Context, token string) (*VerificationToken, error) {
	var vt VerificationToken
	err := r.pool.QueryRow(ctx,
		`SELECT token, user_id, expires_at FROM verification_tokens WHERE token = $1`, token,
	).Scan(&vt.Token, &vt.UserID, &vt.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("users: find token: %w", err)
	}
	return &vt, nil
}

// DeleteVerificationToken removes a consumed token.
func (r *Repository) DeleteVerificationToken(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM verification_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("users: delete token: %w", err)
	}
	return nil
}

// DeleteVerificationTokensBefore purges tokens that expired before cutoff.
func (r *Repository) DeleteVerificationTokensBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("users: purge tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
