package filter

import (
	"testing"
	"time"
)

func TestParseDateRange(t *testing.T) {
	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		input    string
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{"same month short", "Aug 1-15", day(2026, 8, 1), day(2026, 8, 15), false},
		{"same month long", "August 20 - 31", day(2026, 8, 20), day(2026, 8, 31), false},
		{"cross month", "Aug 28 - Sep 3", day(2026, 8, 28), day(2026, 9, 3), false},
		{"sept spelling", "Sept 1-7", day(2026, 9, 1), day(2026, 9, 7), false},
		{"cross year", "Dec 25 - Jan 5", day(2026, 12, 25), day(2027, 1, 5), false},
		{"past month rolls to next year", "Mar 1-15", day(2027, 3, 1), day(2027, 3, 15), false},
		{"whole month", "September", day(2026, 9, 1), day(2026, 9, 30), false},
		{"whole february", "feb", day(2027, 2, 1), day(2027, 2, 28), false},
		{"reversed", "Aug 15-1", time.Time{}, time.Time{}, true},
		{"day past month end", "Sep 31 - Oct 2", time.Time{}, time.Time{}, true},
		{"empty", "  ", time.Time{}, time.Time{}, true},
		{"garbage", "next weekend", time.Time{}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := ParseDateRange(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDateRange(%q) expected error, got %v - %v", tt.input, from, to)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDateRange(%q) error = %v", tt.input, err)
			}
			if !from.Equal(tt.wantFrom) || !to.Equal(tt.wantTo) {
				t.Errorf("ParseDateRange(%q) = %s - %s, want %s - %s",
					tt.input, from.Format(time.DateOnly), to.Format(time.DateOnly),
					tt.wantFrom.Format(time.DateOnly), tt.wantTo.Format(time.DateOnly))
			}
		})
	}
}

func TestParseMonth(t *testing.T) {
	tests := map[string]time.Month{
		"jan": time.January, "January": time.January, "MAY": time.May,
		"sept": time.September, "december": time.December, "smarch": 0,
	}
	for input, want := range tests {
		if got := parseMonth(input); got != want {
			t.Errorf("parseMonth(%q) = %v, want %v", input, got, want)
		}
	}
}
