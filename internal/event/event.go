package event

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Link is an extra hyperlink attached to a listing row
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Raw represents one extracted listing row
type Raw struct {
	Title      string   `json:"title"`
	URL        string   `json:"url,omitempty"`
	Venue      *string  `json:"venue"`
	City       *string  `json:"city"`
	DateISO    *string  `json:"date"` // YYYY-MM-DD
	DayLabel   *string  `json:"day_label"`
	TimeRange  *string  `json:"time_range"`
	Price      *string  `json:"price"`
	Age        *string  `json:"age_restriction"`
	Genres     []string `json:"genres"`
	Promoters  []string `json:"organizers"`
	ExtraLinks []Link   `json:"links"`
	Hidden     bool     `json:"hidden"`
	ClassName  *string  `json:"class_name,omitempty"`
}

var tbaPattern = regexp.MustCompile(`(?i)TBA|TBD`)

// IsTBA reports whether a venue name is a to-be-announced placeholder.
func IsTBA(venue string) bool {
	return tbaPattern.MatchString(venue)
}

// HasGeocodableVenue reports whether the record names a venue that may be sent to a geocoder.
func (r *Raw) HasGeocodableVenue() bool {
	return r.Venue != nil && strings.TrimSpace(*r.Venue) != "" && !IsTBA(*r.Venue)
}

// VenueName returns the venue or "" when absent.
func (r *Raw) VenueName() string {
	return deref(r.Venue)
}

// CityName returns the city or "" when absent.
func (r *Raw) CityName() string {
	return deref(r.City)
}

// JSON serializes the record for the audit payload stored with new events.
func (r *Raw) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// String returns a pointer to s, or nil when s is blank after trimming.
func String(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
