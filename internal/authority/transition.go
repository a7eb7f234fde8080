package authority

import "errors"

// ErrInsufficientAuthority rejects a rank transition. The message is
// deliberately generic: callers must not learn whether the target was
// already top rank, the step was skipped, or the actor was simply outranked.
var ErrInsufficientAuthority = errors.New("authority: insufficient authority")

// ValidatePromotion checks that actor may promote target to toRole. Legal
// iff actor outranks target, actor outranks toRole itself, and toRole is
// exactly one step above target's current highest rank.
func ValidatePromotion(actor, target RoleSet, toRole Role) error {
	if !toRole.Valid() {
		return ErrInsufficientAuthority
	}
	targetHighest, ok := target.Highest()
	if !ok {
		return ErrInsufficientAuthority
	}
	next, ok := Next(targetHighest)
	if !ok || next != toRole {
		return ErrInsufficientAuthority
	}
	actorHighest, ok := actor.Highest()
	if !ok {
		return ErrInsufficientAuthority
	}
	if !actorHighest.IsHigherRank(toRole) {
		return ErrInsufficientAuthority
	}
	if !IsHigherAuthority(actor, target) {
		return ErrInsufficientAuthority
	}
	return nil
}

// ValidateDemotion checks that actor may demote target down to toRole. The
// target's current highest rank must be exactly one step above toRole, and
// actor must outrank the target.
func ValidateDemotion(actor, target RoleSet, toRole Role) error {
	if !toRole.Valid() {
		return ErrInsufficientAuthority
	}
	targetHighest, ok := target.Highest()
	if !ok {
		return ErrInsufficientAuthority
	}
	prev, ok := Previous(targetHighest)
	if !ok || prev != toRole {
		return ErrInsufficientAuthority
	}
	if !IsHigherAuthority(actor, target) {
		return ErrInsufficientAuthority
	}
	return nil
}
