package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pfrederiksen/sf-events/internal/event"
	"github.com/pfrederiksen/sf-events/internal/geocode"
	"github.com/pfrederiksen/sf-events/internal/pipeline"
	"github.com/pfrederiksen/sf-events/internal/scraper"
	"github.com/pfrederiksen/sf-events/internal/store"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// textWriter is implemented by every command result
type textWriter interface {
	writeText(w io.Writer, verbose bool) error
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result textWriter, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return result.writeText(w, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, result interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// ScrapeOutput is the result of the scrape command
type ScrapeOutput struct {
	Report *pipeline.Report `json:"report"`
	Counts *store.Counts    `json:"counts,omitempty"`
	DryRun bool             `json:"dry_run,omitempty"`
}

func (o *ScrapeOutput) writeText(w io.Writer, verbose bool) error {
	r := o.Report
	if r == nil {
		fmt.Fprintln(w, "No run was made.")
		return nil
	}

	if o.DryRun {
		fmt.Fprintln(w, "Dry run: results were written to an in-memory store.")
	}
	fmt.Fprintf(w, "Run %s (%dms)\n", r.RunID, r.DurationMS)
	fmt.Fprintf(w, "  Extracted: %d events from %d rows, %d in window, %d warnings\n", r.Parsed, r.Rows, r.InWindow, r.Warnings)
	fmt.Fprintf(w, "  Upserted:  %d created, %d updated, %d failed\n", r.Created, r.Updated, r.Failed)
	fmt.Fprintf(w, "  Pruned:    %d\n", r.Pruned)
	if verbose {
		fmt.Fprintf(w, "  Geocoded:  %d exact, %d approximate, %d unresolved, %d reused\n",
			r.Geocoded, r.Approximate, r.Unresolved, r.CoordinatesReused)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  Error:     %s\n", r.Error)
	}

	if o.Counts != nil {
		fmt.Fprintln(w)
		writeCounts(w, *o.Counts)
	}
	return nil
}

// ExtractOutput is the result of the extract command
type ExtractOutput struct {
	Rows     int               `json:"rows"`
	Events   []event.Raw       `json:"events"`
	Warnings []scraper.Warning `json:"warnings"`
}

func (o *ExtractOutput) writeText(w io.Writer, verbose bool) error {
	if len(o.Events) == 0 {
		fmt.Fprintln(w, "No events found.")
	}

	for _, e := range o.Events {
		date := "undated"
		if e.DateISO != nil {
			date = *e.DateISO
		}
		fmt.Fprintf(w, "%s  %s", date, e.Title)
		if e.Venue != nil {
			fmt.Fprintf(w, " @ %s", *e.Venue)
			if e.City != nil {
				fmt.Fprintf(w, " (%s)", *e.City)
			}
		}
		fmt.Fprintln(w)

		if verbose {
			if e.TimeRange != nil {
				fmt.Fprintf(w, "       Time: %s\n", *e.TimeRange)
			}
			if e.Price != nil {
				fmt.Fprintf(w, "       Price: %s\n", *e.Price)
			}
			if len(e.Genres) > 0 {
				fmt.Fprintf(w, "       Genres: %v\n", e.Genres)
			}
			if e.URL != "" {
				fmt.Fprintf(w, "       URL: %s\n", e.URL)
			}
		}
	}

	fmt.Fprintf(w, "\nTotal: %d events from %d rows\n", len(o.Events), o.Rows)
	if len(o.Warnings) > 0 {
		fmt.Fprintf(w, "Warnings: %d\n", len(o.Warnings))
		if verbose {
			for _, warn := range o.Warnings {
				fmt.Fprintf(w, "  %s\n", warn)
			}
		}
	}
	return nil
}

// GeocodeOutput is the result of the geocode command
type GeocodeOutput struct {
	Venue  string          `json:"venue"`
	City   string          `json:"city"`
	Key    string          `json:"key"`
	Found  bool            `json:"found"`
	Cached bool            `json:"cached"`
	Result *geocode.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func newGeocodeOutput(venue, city string, l geocode.Lookup) *GeocodeOutput {
	out := &GeocodeOutput{Venue: venue, City: city, Key: geocode.Key(venue, city), Found: l.Found, Cached: l.Cached}
	if l.Found {
		r := l.Result
		out.Result = &r
	}
	if l.Err != nil {
		out.Error = l.Err.Error()
	}
	return out
}

func (o *GeocodeOutput) writeText(w io.Writer, verbose bool) error {
	source := "provider"
	if o.Cached {
		source = "cache"
	}

	if !o.Found {
		fmt.Fprintf(w, "No location for %s (from %s)\n", o.Key, source)
		if o.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", o.Error)
		}
		return nil
	}

	fmt.Fprintf(w, "%s: %.6f, %.6f (from %s)\n", o.Key, o.Result.Lat, o.Result.Lon, source)
	fmt.Fprintf(w, "  %s\n", o.Result.DisplayName)
	if o.Result.Approximate {
		fmt.Fprintln(w, "  Approximate: city center")
	}
	if verbose && o.Result.Query != "" {
		fmt.Fprintf(w, "  Query: %s\n", o.Result.Query)
	}
	return nil
}

// PruneOutput is the result of the prune command
type PruneOutput struct {
	Deleted   int64  `json:"deleted"`
	Retention string `json:"retention"`
}

func (o *PruneOutput) writeText(w io.Writer, _ bool) error {
	fmt.Fprintf(w, "Deleted %d events older than %s.\n", o.Deleted, o.Retention)
	return nil
}

// StatsOutput is the result of the stats command
type StatsOutput struct {
	Counts store.Counts `json:"counts"`
}

func (o *StatsOutput) writeText(w io.Writer, _ bool) error {
	writeCounts(w, o.Counts)
	return nil
}

func writeCounts(w io.Writer, c store.Counts) {
	fmt.Fprintf(w, "Events:    %d (%d visible)\n", c.Events, c.VisibleEvents)
	fmt.Fprintf(w, "Venues:    %d (%d TBA)\n", c.Venues, c.TBAVenues)
	fmt.Fprintf(w, "Genres:    %d\n", c.Genres)
	fmt.Fprintf(w, "Promoters: %d\n", c.Promoters)
	if c.EarliestDate != nil && c.LatestDate != nil {
		fmt.Fprintf(w, "Dates:     %s to %s\n", c.EarliestDate.Format(time.DateOnly), c.LatestDate.Format(time.DateOnly))
	}
}
