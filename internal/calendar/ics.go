// Package calendar exports listing records as an iCalendar feed.
package calendar

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/sf-events/internal/event"
)

const (
	prodID     = "-//sf-events//sf-events//EN"
	uidDomain  = "sf-events"
	dateLayout = "20060102"
)

// GenerateICS renders records as one calendar of all-day events. Undated and hidden
// records are skipped.
func GenerateICS(records []event.Raw, now time.Time) string {
	var ics strings.Builder

	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString(fmt.Sprintf("PRODID:%s\r\n", prodID))
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")
	ics.WriteString("X-WR-CALNAME:Bay Area Events\r\n")

	stamp := formatICSTime(now)
	for i := range records {
		r := &records[i]
		date := r.Date()
		if date.IsZero() || r.Hidden {
			continue
		}
		writeEvent(&ics, r, date, stamp)
	}

	ics.WriteString("END:VCALENDAR\r\n")
	return ics.String()
}

func writeEvent(ics *strings.Builder, r *event.Raw, date time.Time, stamp string) {
	ics.WriteString("BEGIN:VEVENT\r\n")
	ics.WriteString(fmt.Sprintf("UID:%s@%s\r\n", EventUID(r), uidDomain))
	ics.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", stamp))

	// Listing times are free text ("10pm-4am"), so events are all-day
	ics.WriteString(fmt.Sprintf("DTSTART;VALUE=DATE:%s\r\n", date.Format(dateLayout)))
	ics.WriteString(fmt.Sprintf("DTEND;VALUE=DATE:%s\r\n", date.AddDate(0, 0, 1).Format(dateLayout)))

	ics.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICS(r.Title)))
	ics.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICS(description(r))))

	if venue := r.VenueName(); venue != "" {
		location := venue
		if city := r.CityName(); city != "" {
			location = fmt.Sprintf("%s, %s", venue, city)
		}
		ics.WriteString(fmt.Sprintf("LOCATION:%s\r\n", escapeICS(location)))
	}
	if len(r.Genres) > 0 {
		ics.WriteString(fmt.Sprintf("CATEGORIES:%s\r\n", strings.Join(escapeAll(r.Genres), ",")))
	}
	if strings.HasPrefix(r.URL, "http") {
		ics.WriteString(fmt.Sprintf("URL:%s\r\n", r.URL))
	}

	ics.WriteString("STATUS:CONFIRMED\r\n")
	ics.WriteString("TRANSP:TRANSPARENT\r\n")
	ics.WriteString("END:VEVENT\r\n")
}

func description(r *event.Raw) string {
	var lines []string
	if r.TimeRange != nil {
		lines = append(lines, "Time: "+*r.TimeRange)
	}
	if r.Price != nil {
		lines = append(lines, "Price: "+*r.Price)
	}
	if r.Age != nil {
		lines = append(lines, "Age: "+*r.Age)
	}
	if len(r.Promoters) > 0 {
		lines = append(lines, "By: "+strings.Join(r.Promoters, ", "))
	}
	for _, l := range r.ExtraLinks {
		lines = append(lines, fmt.Sprintf("%s: %s", l.Text, l.Href))
	}
	return strings.Join(lines, "\n")
}

// EventUID derives a stable identifier from the record's (title, date) identity.
func EventUID(r *event.Raw) string {
	sum := sha1.Sum([]byte(r.Title + "|" + derefDate(r)))
	return hex.EncodeToString(sum[:8])
}

func derefDate(r *event.Raw) string {
	if r.DateISO == nil {
		return ""
	}
	return *r.DateISO
}

// formatICSTime formats a time.Time as an iCalendar datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = escapeICS(v)
	}
	return out
}

// escapeICS escapes special characters for iCalendar format
func escapeICS(s string) string {
	// Replace special characters according to RFC 5545
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
