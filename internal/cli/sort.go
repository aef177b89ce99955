package cli

import (
	"sort"
	"strings"

	"github.com/pfrederiksen/sf-events/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate  SortOrder = "date"
	SortByTitle SortOrder = "title"
	SortByVenue SortOrder = "venue"
)

// sortRecords sorts extracted records based on the specified sort order
func sortRecords(records []event.Raw, sortOrder SortOrder) {
	switch sortOrder {
	case SortByDate:
		sort.SliceStable(records, func(i, j int) bool {
			return compareByDate(&records[i], &records[j])
		})
	case SortByTitle:
		sort.SliceStable(records, func(i, j int) bool {
			ti, tj := strings.ToLower(records[i].Title), strings.ToLower(records[j].Title)
			if ti != tj {
				return ti < tj
			}
			// If titles are equal, sort by date
			return compareByDate(&records[i], &records[j])
		})
	case SortByVenue:
		sort.SliceStable(records, func(i, j int) bool {
			vi, vj := strings.ToLower(records[i].VenueName()), strings.ToLower(records[j].VenueName())
			if vi != vj {
				return vi < vj
			}
			return compareByDate(&records[i], &records[j])
		})
	}
}

// compareByDate compares two records by their date
// Returns true if record i should come before record j
func compareByDate(i, j *event.Raw) bool {
	dateI := i.Date()
	dateJ := j.Date()

	// If both dates are valid, compare them
	if !dateI.IsZero() && !dateJ.IsZero() && !dateI.Equal(dateJ) {
		return dateI.Before(dateJ)
	}

	// If only one date is valid, put the valid one first
	if !dateI.IsZero() && dateJ.IsZero() {
		return true
	}
	if dateI.IsZero() && !dateJ.IsZero() {
		return false
	}

	// Same day or both undated: sort by title
	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}
