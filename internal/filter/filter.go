// Package filter narrows extracted listing records for display and export.
//
// Criteria combine with AND; within a list criterion any entry may match:
//   - Date range (from/to dates, inclusive)
//   - Genres (exact, case-insensitive)
//   - Venues and cities (substring, case-insensitive)
//   - Weekends only (Friday night through Sunday)
//   - Hidden rows, excluded unless IncludeHidden is set
//
// Example usage:
//
//	f := filter.New()
//	f.Genres = []string{"techno"}
//	f.Cities = []string{"Oakland"}
//	visible := f.Apply(records)
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/sf-events/internal/event"
)

// Filter represents record filtering criteria
type Filter struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	Genres []string `json:"genres,omitempty"`
	Venues []string `json:"venues,omitempty"`
	Cities []string `json:"cities,omitempty"`

	// WeekendsOnly keeps Friday, Saturday and Sunday events
	WeekendsOnly bool `json:"weekends_only,omitempty"`

	IncludeHidden bool `json:"include_hidden,omitempty"`
}

// New creates a filter that keeps every visible record.
func New() *Filter {
	return &Filter{}
}

// IsEmpty checks if the filter has any active criteria beyond the hidden-row rule.
func (f *Filter) IsEmpty() bool {
	return f.DateFrom == nil &&
		f.DateTo == nil &&
		len(f.Genres) == 0 &&
		len(f.Venues) == 0 &&
		len(f.Cities) == 0 &&
		!f.WeekendsOnly
}

// Matches checks if a record passes every active criterion. Date criteria never
// reject an undated record.
func (f *Filter) Matches(r *event.Raw) bool {
	if r.Hidden && !f.IncludeHidden {
		return false
	}

	if date := r.Date(); !date.IsZero() {
		if f.DateFrom != nil && date.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && date.After(*f.DateTo) {
			return false
		}
		if f.WeekendsOnly {
			switch date.Weekday() {
			case time.Friday, time.Saturday, time.Sunday:
			default:
				return false
			}
		}
	}

	if len(f.Genres) > 0 && !anyGenre(r.Genres, f.Genres) {
		return false
	}
	if len(f.Venues) > 0 && !containsAny(r.VenueName(), f.Venues) {
		return false
	}
	if len(f.Cities) > 0 && !containsAny(r.CityName(), f.Cities) {
		return false
	}

	return true
}

// Apply returns the records that match, in their original order.
func (f *Filter) Apply(records []event.Raw) []event.Raw {
	filtered := make([]event.Raw, 0, len(records))
	for i := range records {
		if f.Matches(&records[i]) {
			filtered = append(filtered, records[i])
		}
	}
	return filtered
}

// String returns a human-readable description of the active filter criteria.
// Format: "From: Aug 1, 2026 | To: Aug 15, 2026 | Genres: techno | Weekends only"
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "No active filters"
	}

	var parts []string

	if f.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("From: %s", f.DateFrom.Format("Jan 2, 2006")))
	}
	if f.DateTo != nil {
		parts = append(parts, fmt.Sprintf("To: %s", f.DateTo.Format("Jan 2, 2006")))
	}
	if len(f.Genres) > 0 {
		parts = append(parts, fmt.Sprintf("Genres: %s", strings.Join(f.Genres, ", ")))
	}
	if len(f.Venues) > 0 {
		parts = append(parts, fmt.Sprintf("Venues: %s", strings.Join(f.Venues, ", ")))
	}
	if len(f.Cities) > 0 {
		parts = append(parts, fmt.Sprintf("Cities: %s", strings.Join(f.Cities, ", ")))
	}
	if f.WeekendsOnly {
		parts = append(parts, "Weekends only")
	}

	return strings.Join(parts, " | ")
}

func anyGenre(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(w)) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(strings.TrimSpace(sub))) {
			return true
		}
	}
	return false
}
