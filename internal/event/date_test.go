package event

import (
	"testing"
	"time"
)

func TestParseISO(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     time.Time
		wantZero bool
	}{
		{name: "valid", in: "2026-08-29", want: time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)},
		{name: "surrounding space", in: " 2026-01-02 ", want: time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)},
		{name: "empty", in: "", wantZero: true},
		{name: "impossible date", in: "2026-02-30", wantZero: true},
		{name: "wrong layout", in: "2026/08/29", wantZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseISO(tt.in)
			if tt.wantZero {
				if !got.IsZero() {
					t.Errorf("ParseISO(%q) = %v, want zero time", tt.in, got)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseISO(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSortDate(t *testing.T) {
	if got := ParseSortDate("2026/08/29"); got.Format(ISOLayout) != "2026-08-29" {
		t.Errorf("ParseSortDate() = %v, want 2026-08-29", got)
	}
	if got := ParseSortDate("soon"); !got.IsZero() {
		t.Errorf("ParseSortDate(soon) = %v, want zero time", got)
	}
}

func TestParseMonthDay(t *testing.T) {
	tests := []struct {
		name  string
		label string
		year  int
		want  string // ISO, "" for zero
	}{
		{name: "month and day", label: "Aug 29", year: 2026, want: "2026-08-29"},
		{name: "single digit day", label: "Jan 2", year: 2027, want: "2027-01-02"},
		{name: "trailing comma", label: "Sep 5, late", year: 2026, want: "2026-09-05"},
		{name: "leap day in leap year", label: "Feb 29", year: 2028, want: "2028-02-29"},
		{name: "leap day in common year", label: "Feb 29", year: 2026, want: ""},
		{name: "missing day", label: "Aug", year: 2026, want: ""},
		{name: "not a month", label: "Foo 12", year: 2026, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMonthDay(tt.label, tt.year)
			if tt.want == "" {
				if !got.IsZero() {
					t.Errorf("ParseMonthDay(%q) = %v, want zero time", tt.label, got)
				}
				return
			}
			if got.Format(ISOLayout) != tt.want {
				t.Errorf("ParseMonthDay(%q, %d) = %s, want %s", tt.label, tt.year, got.Format(ISOLayout), tt.want)
			}
		})
	}
}

func TestRaw_IsWithinDays(t *testing.T) {
	now := time.Date(2026, time.August, 20, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		date *string
		want bool
	}{
		{name: "today", date: String("2026-08-20"), want: true},
		{name: "last day of window", date: String("2026-09-03"), want: true},
		{name: "day after window", date: String("2026-09-04"), want: false},
		{name: "yesterday", date: String("2026-08-19"), want: false},
		{name: "no date", date: nil, want: true},
		{name: "unparseable date", date: String("someday"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Raw{Title: "x", DateISO: tt.date}
			if got := r.IsWithinDays(now, 14); got != tt.want {
				t.Errorf("IsWithinDays() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterWindow(t *testing.T) {
	now := time.Date(2026, time.August, 20, 9, 0, 0, 0, time.UTC)
	records := []Raw{
		{Title: "past", DateISO: String("2026-08-01")},
		{Title: "soon", DateISO: String("2026-08-22")},
		{Title: "undated"},
		{Title: "far", DateISO: String("2026-12-01")},
	}

	got := FilterWindow(records, now, 14)

	if len(got) != 2 {
		t.Fatalf("FilterWindow() returned %d records, want 2", len(got))
	}
	if got[0].Title != "soon" || got[1].Title != "undated" {
		t.Errorf("FilterWindow() = [%s %s], want [soon undated]", got[0].Title, got[1].Title)
	}
}
