// Package schedule holds the time rules for marketplace appointments:
// slot identity is the start of the hour, and cancellation requires a
// two hour notice before the slot starts.
package schedule

import "time"

const (
	// PageSize is the fixed page length for appointment listings.
	PageSize = 20

	// CancelNotice is the minimum lead time for a cancellation.
	CancelNotice = 2 * time.Hour
)

// HourStart floors a timestamp to the start of its hour in UTC. Both the
// past-date check and the stored slot use this value, so two bookings
// inside the same hour compete for the same slot.
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// IsPast reports whether the slot start is already behind now.
func IsPast(date, now time.Time) bool {
	return date.Before(now)
}

// IsCancelable reports whether the notice period still allows cancelling.
func IsCancelable(date, now time.Time) bool {
	return now.Before(date.Add(-CancelNotice))
}

// Offset converts a 1-based page number into a row offset.
func Offset(page int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * PageSize
}
