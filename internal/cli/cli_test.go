package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/sf-events/internal/event"
	"github.com/pfrederiksen/sf-events/internal/geocode"
	"github.com/pfrederiksen/sf-events/internal/pipeline"
	"github.com/pfrederiksen/sf-events/internal/store"
)

func raw(title, date, venue string) event.Raw {
	return event.Raw{Title: title, DateISO: event.String(date), Venue: event.String(venue)}
}

func titles(records []event.Raw) string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return strings.Join(out, ",")
}

func TestSortRecords(t *testing.T) {
	tests := []struct {
		name  string
		order SortOrder
		want  string
	}{
		{"by date", SortByDate, "b,a,c,undated"},
		{"by title", SortByTitle, "a,b,c,undated"},
		{"by venue", SortByVenue, "undated,c,b,a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []event.Raw{
				raw("undated", "", ""),
				raw("c", "2026-08-30", "Audio"),
				raw("a", "2026-08-29", "The Midway"),
				raw("b", "2026-08-28", "Public Works"),
			}
			sortRecords(records, tt.order)
			if got := titles(records); got != tt.want {
				t.Errorf("order = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWriteOutput_ScrapeText(t *testing.T) {
	earliest := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	out := &ScrapeOutput{
		Report: &pipeline.Report{RunID: "run-1", Parsed: 10, Rows: 12, InWindow: 8, Created: 5, Updated: 3},
		Counts: &store.Counts{Events: 8, VisibleEvents: 7, EarliestDate: &earliest, LatestDate: &earliest},
	}

	var buf bytes.Buffer
	if err := WriteOutput(&buf, out, FormatText, false); err != nil {
		t.Fatalf("WriteOutput() error = %v", err)
	}

	got := buf.String()
	for _, want := range []string{"Run run-1", "5 created, 3 updated, 0 failed", "Events:    8 (7 visible)", "2026-08-29 to 2026-08-29"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestWriteOutput_JSON(t *testing.T) {
	out := newGeocodeOutput("Public Works", "San Francisco", geocode.Lookup{
		Found:  true,
		Cached: true,
		Result: geocode.Result{Lat: 37.7689, Lon: -122.4194, DisplayName: "Public Works"},
	})

	var buf bytes.Buffer
	if err := WriteOutput(&buf, out, FormatJSON, false); err != nil {
		t.Fatalf("WriteOutput() error = %v", err)
	}

	var decoded GeocodeOutput
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Key != "Public Works|San Francisco" || !decoded.Cached || decoded.Result == nil {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestGeocodeOutput_NotFound(t *testing.T) {
	out := newGeocodeOutput("Nowhere", "Oakland", geocode.Lookup{Err: errors.New("status 503")})

	var buf bytes.Buffer
	if err := WriteOutput(&buf, out, FormatText, false); err != nil {
		t.Fatalf("WriteOutput() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No location for Nowhere|Oakland") || !strings.Contains(buf.String(), "status 503") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestWriteOutput_UnknownFormat(t *testing.T) {
	if err := WriteOutput(&bytes.Buffer{}, &PruneOutput{}, OutputFormat("xml"), false); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"scrape", "serve", "extract", "geocode", "prune", "migrate", "stats"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
