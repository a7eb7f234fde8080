package users

import (
	"time"

	"github.com/agora-forum/agora/internal/authority"
)

// User represents a forum account. Roles are a cumulative set; the highest
// held rank is what authority comparisons use.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Enabled      bool
	Roles        authority.RoleSet
	Privileges   []authority.Privilege
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HighestAuthority returns the user's maximum-rank role.
func (u *User) HighestAuthority() (authority.Role, bool) {
	return u.Roles.Highest()
}

// HasPrivilege reports whether the user holds the non-ranked grant.
func (u *User) HasPrivilege(p authority.Privilege) bool {
	for _, held := range u.Privileges {
		if held == p {
			return true
		}
	}
	return false
}

// IsHigherAuthority reports whether u strictly outranks other.
func (u *User) IsHigherAuthority(other *User) bool {
	if other == nil {
		return false
	}
	return authority.IsHigherAuthority(u.Roles, other.Roles)
}

// VerificationToken confirms ownership of a registration email address.
type VerificationToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
