// Package authority ranks users into an ordered set of roles and decides
// whether one user outranks another. Every privileged check in the
// application funnels through this package.
package authority

// Role is an ordered privilege tier. Ordering is defined solely by rank;
// nothing outside the table below may compare role names.
type Role int

const (
	// RoleUser is the base rank every active account holds.
	RoleUser Role = iota + 1
	// RoleModerator may lock threads and delete posts of lower-ranked users.
	RoleModerator
	// RoleAdministrator may additionally promote, demote and discipline.
	RoleAdministrator
	// RoleSuperAdministrator is the top rank. It cannot be granted or revoked.
	RoleSuperAdministrator
)

var roleLabels = map[Role]string{
	RoleUser:               "User",
	RoleModerator:          "Moderator",
	RoleAdministrator:      "Administrator",
	RoleSuperAdministrator: "Super Administrator",
}

var roleNames = map[Role]string{
	RoleUser:               "USER",
	RoleModerator:          "MODERATOR",
	RoleAdministrator:      "ADMINISTRATOR",
	RoleSuperAdministrator: "SUPER_ADMINISTRATOR",
}

// Rank returns the fixed integer used for ordering comparisons.
func (r Role) Rank() int {
	return int(r)
}

// Label returns the human-readable display name.
func (r Role) Label() string {
	return roleLabels[r]
}

// String returns the stable storage name.
func (r Role) String() string {
	return roleNames[r]
}

// Valid reports whether r is one of the defined ranks.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleSuperAdministrator
}

// IsHigherRank reports whether r strictly outranks other. Equal ranks never
// outrank each other.
func (r Role) IsHigherRank(other Role) bool {
	return r.Rank() > other.Rank()
}

// ParseRole maps a storage name back to a Role. The bool is false for
// unknown names.
func ParseRole(name string) (Role, bool) {
	for role, n := range roleNames {
		if n == name {
			return role, true
		}
	}
	return 0, false
}

// Next returns the rank one step above r. The bool is false at the top of
// the hierarchy.
func Next(r Role) (Role, bool) {
	if !r.Valid() || r == RoleSuperAdministrator {
		return 0, false
	}
	return r + 1, true
}

// Previous returns the rank one step below r. The bool is false at the
// bottom of the hierarchy.
func Previous(r Role) (Role, bool) {
	if !r.Valid() || r == RoleUser {
		return 0, false
	}
	return r - 1, true
}

// Privilege is a narrowly scoped, non-ranked grant. Privileges take no part
// in the rank ordering; callers check presence only.
type Privilege string

const (
	// PrivilegeChangePassword allows a user to change their own password.
	// Granted by the password-reset flow and revoked once consumed.
	PrivilegeChangePassword Privilege = "change_password"
)
