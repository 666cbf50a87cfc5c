// Package period normalizes user-facing time-range labels into the canonical
// YYYY-MM key used for all cache lookups and backend calls.
package period

import (
	"regexp"
	"time"
)

var canonicalPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Canonicalize resolves a period label to its canonical YYYY-MM form.
// Already-canonical input is returned unchanged. Any other label is treated
// as a relative one ("Last Month" and friends) and resolves to the calendar
// month immediately preceding now's month: the dashboard always reports on a
// fully-elapsed month. Pure given (label, now).
func Canonicalize(label string, now time.Time) string {
	if canonicalPattern.MatchString(label) {
		return label
	}
	// Anchor on the first of the current month before stepping back, so
	// day-of-month overflow can never skip a month.
	year, month, _ := now.Date()
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	return firstOfMonth.AddDate(0, -1, 0).Format("2006-01")
}

// IsCanonical reports whether the label is already in YYYY-MM form.
func IsCanonical(label string) bool {
	return canonicalPattern.MatchString(label)
}
