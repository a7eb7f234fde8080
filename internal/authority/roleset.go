package authority

import "sort"

// RoleSet is a cumulative, ordered set of granted ranks. Promotion inserts a
// rank and demotion removes one; lower ranks are never cleared implicitly.
type RoleSet struct {
	roles []Role
}

// NewRoleSet builds a set from the given roles, deduplicated and sorted by
// rank.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

// Add inserts a role. Adding an already-held role is a no-op.
func (s *RoleSet) Add(r Role) {
	if !r.Valid() || s.Has(r) {
		return
	}
	s.roles = append(s.roles, r)
	sort.Slice(s.roles, func(i, j int) bool { return s.roles[i].Rank() < s.roles[j].Rank() })
}

// Remove deletes a role from the set if present.
func (s *RoleSet) Remove(r Role) {
	for i, held := range s.roles {
		if held == r {
			s.roles = append(s.roles[:i], s.roles[i+1:]...)
			return
		}
	}
}

// Has reports whether the set contains the exact role.
func (s RoleSet) Has(r Role) bool {
	for _, held := range s.roles {
		if held == r {
			return true
		}
	}
	return false
}

// HasAtLeast reports whether the set's highest rank meets or exceeds r.
func (s RoleSet) HasAtLeast(r Role) bool {
	highest, ok := s.Highest()
	return ok && highest.Rank() >= r.Rank()
}

// Highest returns the maximum-rank role. The bool is false for an empty set.
// This value, not the raw set, is what authority comparisons use.
func (s RoleSet) Highest() (Role, bool) {
	if len(s.roles) == 0 {
		return 0, false
	}
	return s.roles[len(s.roles)-1], true
}

// Roles returns the held roles in ascending rank order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out
}

// Len returns the number of held roles.
func (s RoleSet) Len() int {
	return len(s.roles)
}

// IsHigherAuthority reports whether actor strictly outranks other, comparing
// highest held ranks. Ties, including self-comparison, are false: rank alone
// never grants authority over a peer. An empty set never outranks anything.
func IsHigherAuthority(actor, other RoleSet) bool {
	actorHighest, ok := actor.Highest()
	if !ok {
		return false
	}
	otherHighest, ok := other.Highest()
	if !ok {
		return true
	}
	return actorHighest.IsHigherRank(otherHighest)
}
