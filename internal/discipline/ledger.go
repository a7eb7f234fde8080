package discipline

import (
	"sort"
	"time"
)

// View annotates a record with the viewing actor's rescission rights.
// Computed at read time, never persisted.
type View struct {
	Record
	CanRescind bool
}

// ActiveRecords filters and orders a user's currently active records:
// suspensions first, longer remaining duration ahead of shorter (ties by
// earliest creation), all bans after the suspensions.
func ActiveRecords(records []Record, now time.Time) []Record {
	var active []Record
	for _, r := range records {
		if r.IsActive(now) {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.IsBan() != b.IsBan() {
			return !a.IsBan()
		}
		if a.IsBan() {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		endA, _ := a.EndTime()
		endB, _ := b.EndTime()
		if !endA.Equal(endB) {
			return endA.After(endB)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return active
}

// InactiveRecords filters and orders expired or rescinded records in
// reverse-chronological creation order. Ties on the timestamp fall back to
// the record ID so the order is a strict total order: two records created
// in the same instant must never collapse into one entry.
func InactiveRecords(records []Record, now time.Time) []Record {
	var inactive []Record
	for _, r := range records {
		if !r.IsActive(now) {
			inactive = append(inactive, r)
		}
	}
	sort.Slice(inactive, func(i, j int) bool {
		a, b := inactive[i], inactive[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return inactive
}

// GreatestActive selects the most severe active record: any active ban
// dominates; otherwise the active suspension with the largest duration,
// ties broken by earliest creation. The bool is false when the user has no
// active records.
func GreatestActive(records []Record, now time.Time) (Record, bool) {
	var best Record
	found := false
	for _, r := range records {
		if !r.IsActive(now) {
			continue
		}
		if r.IsBan() {
			return r, true
		}
		switch {
		case !found:
			best, found = r, true
		case r.DurationHours > best.DurationHours:
			best = r
		case r.DurationHours == best.DurationHours && r.CreatedAt.Before(best.CreatedAt):
			best = r
		}
	}
	return best, found
}

// HasActive reports whether any record is currently active.
func HasActive(records []Record, now time.Time) bool {
	for _, r := range records {
		if r.IsActive(now) {
			return true
		}
	}
	return false
}

// HasActiveBan reports whether an active ban exists. At most one may exist
// per user at any time.
func HasActiveBan(records []Record, now time.Time) bool {
	for _, r := range records {
		if r.IsBan() && r.IsActive(now) {
			return true
		}
	}
	return false
}
