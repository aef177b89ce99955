package event

import (
	"strings"
	"time"
)

// ISOLayout is the calendar date format carried in Raw.DateISO.
const ISOLayout = "2006-01-02"

// ParseISO parses a YYYY-MM-DD date in UTC.
// Returns time.Time{} (zero value) if parsing fails.
func ParseISO(s string) time.Time {
	t, err := time.Parse(ISOLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseSortDate parses the listing's sort column, "2026/08/29".
// Returns time.Time{} if the text is not a valid calendar date.
func ParseSortDate(s string) time.Time {
	t, err := time.Parse("2006/01/02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseMonthDay combines a "Aug 29" or "Aug 29 ..." label with year.
// Returns time.Time{} if the month or day cannot be read.
func ParseMonthDay(label string, year int) time.Time {
	fields := strings.Fields(label)
	if len(fields) < 2 {
		return time.Time{}
	}
	t, err := time.Parse("Jan 2", fields[0]+" "+strings.TrimRight(fields[1], ","))
	if err != nil {
		return time.Time{}
	}
	d := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// Feb 29 in a non-leap year normalizes into March
	if d.Month() != t.Month() {
		return time.Time{}
	}
	return d
}

// Date returns the record's calendar date.
// Returns time.Time{} when the record has no date or it does not parse.
func (r *Raw) Date() time.Time {
	if r.DateISO == nil {
		return time.Time{}
	}
	return ParseISO(*r.DateISO)
}

// Today truncates now to a UTC calendar date.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsWithinDays checks if the record falls within [today, today+days].
// Returns true if the date is absent or unparseable.
func (r *Raw) IsWithinDays(now time.Time, days int) bool {
	parsed := r.Date()
	if parsed.IsZero() {
		return true // Can't determine, include it
	}
	start := Today(now)
	end := start.AddDate(0, 0, days)
	return !parsed.Before(start) && !parsed.After(end)
}

// FilterWindow keeps the records inside [today, today+days], plus every undated record.
func FilterWindow(records []Raw, now time.Time, days int) []Raw {
	out := make([]Raw, 0, len(records))
	for _, r := range records {
		if r.IsWithinDays(now, days) {
			out = append(out, r)
		}
	}
	return out
}
