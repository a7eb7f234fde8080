// Package discipline manages punitive grants against users: permanent bans
// and time-bounded suspensions, their lazy expiry, rescission, and the
// forced session termination of disciplined users.
package discipline

import (
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes the two punitive grants.
type Kind string

const (
	// KindBan never expires on its own; it ends only by rescission.
	KindBan Kind = "BAN"
	// KindSuspension ends at creation time plus its duration.
	KindSuspension Kind = "SUSPENSION"
)

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool {
	return k == KindBan || k == KindSuspension
}

// DefaultMaxSuspensionHours caps suspension durations at 30 days.
const DefaultMaxSuspensionHours = 720

var (
	// ErrAlreadyBanned reports that the user already has an active ban.
	// Expected and recoverable: a duplicate ban is a no-op, not a fault.
	ErrAlreadyBanned = errors.New("discipline: user already has an active ban")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("discipline: record not found")
	// ErrInvalidDuration rejects a suspension duration outside policy bounds.
	ErrInvalidDuration = errors.New("discipline: suspension duration out of range")
	// ErrInvalidKind rejects an unknown discipline kind.
	ErrInvalidKind = errors.New("discipline: unknown kind")
	// ErrBlankReason rejects a discipline without a stated reason.
	ErrBlankReason = errors.New("discipline: reason must not be blank")
	// ErrInsufficientAuthority rejects a rescission by an actor who neither
	// issued the record nor outranks its issuer.
	ErrInsufficientAuthority = errors.New("discipline: insufficient authority")
)

// Record is one punitive grant. The disciplined user's ledger owns it; the
// disciplining user is referenced only for authority checks on rescission.
type Record struct {
	ID                 int64
	DisciplinedUserID  int64
	DiscipliningUserID int64
	Kind               Kind
	Reason             string
	DurationHours      int // suspensions only; zero for bans
	Rescinded          bool
	CreatedAt          time.Time
}

// IsBan reports whether the record is a permanent ban.
func (r Record) IsBan() bool {
	return r.Kind == KindBan
}

// IsSuspension reports whether the record is time-bounded.
func (r Record) IsSuspension() bool {
	return r.Kind == KindSuspension
}

// EndTime returns when a suspension lapses. The bool is false for bans,
// which have no end.
func (r Record) EndTime() (time.Time, bool) {
	if r.IsBan() {
		return time.Time{}, false
	}
	return r.CreatedAt.Add(time.Duration(r.DurationHours) * time.Hour), true
}

// IsActive is derived on every read, never stored: a record is active when
// it has not been rescinded and either is a ban or its end time is still
// ahead of now. A suspension is inactive exactly at its end time.
func (r Record) IsActive(now time.Time) bool {
	if r.Rescinded {
		return false
	}
	if r.IsBan() {
		return true
	}
	end, _ := r.EndTime()
	return now.Before(end)
}

// DisciplinedUserError aborts an in-flight action by a user with an active
// discipline. The boundary layer must translate it into an unauthorized
// response and the user's session must be terminated.
type DisciplinedUserError struct {
	UserID   int64
	Username string
	Notice   Notice
}

func (e *DisciplinedUserError) Error() string {
	return fmt.Sprintf("discipline: user %s is currently banned or suspended", e.Username)
}

// Message renders the notice text. Callers that cannot name this package
// match the error through this method.
func (e *DisciplinedUserError) Message() string {
	return e.Notice.Message()
}

// Notice is the informational payload shown to a disciplined user: the
// governing record's reason and, for suspensions, its end time.
type Notice struct {
	Permanent bool
	Reason    string
	EndsAt    time.Time
}

// Message renders the user-facing information text.
func (n Notice) Message() string {
	if n.Permanent {
		return fmt.Sprintf("You have been permanently banned. The reason given for this disciplinary action was: %s", n.Reason)
	}
	return fmt.Sprintf("You have been suspended. Your suspension will end at: %s. The reason given for this disciplinary action was: %s",
		n.EndsAt.UTC().Format(time.RFC1123), n.Reason)
}

// NoticeFor builds the informational payload from the governing record.
func NoticeFor(r Record) Notice {
	n := Notice{Permanent: r.IsBan(), Reason: r.Reason}
	if end, ok := r.EndTime(); ok {
		n.EndsAt = end
	}
	return n
}
