// Package auth handles credential verification and the persistent session
// rows kept alongside the Redis session store.
package auth

import "time"

// SessionRecord is the Postgres audit row for a login session. Redis holds
// the live session; this row outlives it so forced logout can also clear
// persistent state.
type SessionRecord struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
}
