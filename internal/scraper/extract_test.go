package scraper

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/sf-events/internal/event"
)

func page(rows ...string) string {
	return "<html><body><table><thead><tr><th>Date</th></tr></thead><tbody>" +
		strings.Join(rows, "\n") +
		"</tbody></table></body></html>"
}

func newTestExtractor() *Extractor {
	x := NewExtractor("", 2026)
	x.Now = func() time.Time { return time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC) }
	return x
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestExtract_ExampleRow(t *testing.T) {
	html := page(`<tr>
		<td>Fri: Aug 29 (10pm-2am)</td>
		<td><a href='x'>Techno Night</a> @ Public Works (San Francisco)</td>
		<td>Techno, House</td>
		<td>$20 | 21+</td>
		<td>Dirtybird</td>
		<td><a href="https://tix.example/1">Tickets</a></td>
		<td><div class="shrink">2026/08/29</div></td>
	</tr>`)

	res, err := newTestExtractor().Extract(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1 (warnings: %v)", len(res.Events), res.Warnings)
	}

	got := res.Events[0]
	checks := map[string][2]string{
		"dayLabel":  {deref(got.DayLabel), "Fri: Aug 29"},
		"timeRange": {deref(got.TimeRange), "10pm-2am"},
		"title":     {got.Title, "Techno Night"},
		"url":       {got.URL, "x"},
		"venue":     {deref(got.Venue), "Public Works"},
		"city":      {deref(got.City), "San Francisco"},
		"price":     {deref(got.Price), "$20"},
		"age":       {deref(got.Age), "21+"},
		"date":      {deref(got.DateISO), "2026-08-29"},
	}
	for field, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", field, c[0], c[1])
		}
	}

	if !reflect.DeepEqual(got.Genres, []string{"Techno", "House"}) {
		t.Errorf("genres = %v, want [Techno House]", got.Genres)
	}
	if !reflect.DeepEqual(got.Promoters, []string{"Dirtybird"}) {
		t.Errorf("promoters = %v, want [Dirtybird]", got.Promoters)
	}
	wantLinks := []event.Link{{Text: "Tickets", Href: "https://tix.example/1"}}
	if !reflect.DeepEqual(got.ExtraLinks, wantLinks) {
		t.Errorf("links = %v, want %v", got.ExtraLinks, wantLinks)
	}
	if got.Hidden {
		t.Error("row should not be hidden")
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func row(cells ...string) string {
	var b strings.Builder
	b.WriteString("<tr>")
	for _, c := range cells {
		b.WriteString("<td>" + c + "</td>")
	}
	b.WriteString("</tr>")
	return b.String()
}

func TestExtract_Fields(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		check func(t *testing.T, r event.Raw)
	}{
		{
			name:  "no link takes title up to @",
			cells: []string{"Sat: Aug 30", "Warehouse Party @ Secret Spot (Oakland)", "", "", "", "", "2026/08/30"},
			check: func(t *testing.T, r event.Raw) {
				if r.Title != "Warehouse Party" {
					t.Errorf("title = %q", r.Title)
				}
				if deref(r.Venue) != "Secret Spot" || deref(r.City) != "Oakland" {
					t.Errorf("venue/city = %s/%s", deref(r.Venue), deref(r.City))
				}
				if r.TimeRange != nil {
					t.Errorf("timeRange = %q, want nil", *r.TimeRange)
				}
			},
		},
		{
			name:  "missing city defaults to home city",
			cells: []string{"Sat: Aug 30", "<a href='/e'>Show</a> @ The Midway", "", "", "", "", "2026/08/30"},
			check: func(t *testing.T, r event.Raw) {
				if deref(r.Venue) != "The Midway" || deref(r.City) != DefaultHomeCity {
					t.Errorf("venue/city = %s/%s", deref(r.Venue), deref(r.City))
				}
			},
		},
		{
			name:  "no venue leaves city empty",
			cells: []string{"", "<a href='/e'>Livestream</a>", "", "", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if r.Venue != nil || r.City != nil {
					t.Errorf("venue/city = %s/%s, want nil/nil", deref(r.Venue), deref(r.City))
				}
				if r.DayLabel != nil || r.DateISO != nil {
					t.Errorf("dayLabel/date = %s/%s, want nil/nil", deref(r.DayLabel), deref(r.DateISO))
				}
			},
		},
		{
			name:  "single age segment",
			cells: []string{"", "<a href='/e'>Show</a>", "", "All Ages", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if r.Price != nil || deref(r.Age) != "All Ages" {
					t.Errorf("price/age = %s/%s", deref(r.Price), deref(r.Age))
				}
			},
		},
		{
			name:  "single price segment",
			cells: []string{"", "<a href='/e'>Show</a>", "", "$15-25", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if deref(r.Price) != "$15-25" || r.Age != nil {
					t.Errorf("price/age = %s/%s", deref(r.Price), deref(r.Age))
				}
			},
		},
		{
			name:  "dash promoter is empty, genres keep duplicates",
			cells: []string{"", "<a href='/e'>Show</a>", "house, , house", "", "-", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if len(r.Promoters) != 0 {
					t.Errorf("promoters = %v, want empty", r.Promoters)
				}
				if !reflect.DeepEqual(r.Genres, []string{"house", "house"}) {
					t.Errorf("genres = %v", r.Genres)
				}
			},
		},
		{
			name: "extra links from title and links cells",
			cells: []string{"", "<a href='/e'>Show</a> @ Venue <a href='/fb'>FB</a> <a href=''>empty</a>", "", "",
				"", "<a href='/t'>Tix</a><a href='/x'></a>", ""},
			check: func(t *testing.T, r event.Raw) {
				want := []event.Link{{Text: "FB", Href: "/fb"}, {Text: "Tix", Href: "/t"}}
				if !reflect.DeepEqual(r.ExtraLinks, want) {
					t.Errorf("links = %v, want %v", r.ExtraLinks, want)
				}
			},
		},
		{
			name:  "venue stops at trailing link",
			cells: []string{"", "<a href='/e'>Techno Night</a> @ Public Works (Oakland) <a href='t'>Tickets</a>", "", "", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if deref(r.Venue) != "Public Works" || deref(r.City) != "Oakland" {
					t.Errorf("venue/city = %s/%s, want Public Works/Oakland", deref(r.Venue), deref(r.City))
				}
				want := []event.Link{{Text: "Tickets", Href: "t"}}
				if !reflect.DeepEqual(r.ExtraLinks, want) {
					t.Errorf("links = %v, want %v", r.ExtraLinks, want)
				}
			},
		},
		{
			name:  "venue stops at line break",
			cells: []string{"", "<a href='/e'>Techno Night</a> @ Public Works<br><a href='t'>Tickets</a>", "", "", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if deref(r.Venue) != "Public Works" || deref(r.City) != DefaultHomeCity {
					t.Errorf("venue/city = %s/%s", deref(r.Venue), deref(r.City))
				}
			},
		},
		{
			name:  "unclosed city parenthetical",
			cells: []string{"", "<a href='/e'>Techno Night</a> @ Public Works (Oakland", "", "", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if deref(r.Venue) != "Public Works" || deref(r.City) != "Oakland" {
					t.Errorf("venue/city = %s/%s, want Public Works/Oakland", deref(r.Venue), deref(r.City))
				}
			},
		},
		{
			name:  "line breaks read as spaces",
			cells: []string{"Sun:<br>Aug 31", "<a href='/e'>Show</a>", "", "", "", "", ""},
			check: func(t *testing.T, r event.Raw) {
				if deref(r.DayLabel) != "Sun: Aug 31" {
					t.Errorf("dayLabel = %q", deref(r.DayLabel))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestExtractor().Extract(strings.NewReader(page(row(tt.cells...))))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(res.Events) != 1 {
				t.Fatalf("got %d events, want 1 (warnings: %v)", len(res.Events), res.Warnings)
			}
			tt.check(t, res.Events[0])
		})
	}
}

func TestExtract_YearInference(t *testing.T) {
	tests := []struct {
		name        string
		defaultYear int
		sortCell    string
		wantDate    string
		wantWarning bool
	}{
		{name: "full sort date", defaultYear: 2026, sortCell: "2027/01/03", wantDate: "2027-01-03"},
		{name: "year only in sort column", defaultYear: 2026, sortCell: "2027", wantDate: "2027-01-03"},
		{name: "configured default year", defaultYear: 2028, sortCell: "", wantDate: "2028-01-03", wantWarning: true},
		{name: "current year fallback", defaultYear: 0, sortCell: "", wantDate: "2026-01-03", wantWarning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newTestExtractor()
			x.DefaultYear = tt.defaultYear

			html := page(row("Sat: Jan 3 (9pm-late)", "<a href='/e'>Show</a>", "", "", "", "", tt.sortCell))
			res, err := x.Extract(strings.NewReader(html))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(res.Events) != 1 {
				t.Fatalf("got %d events, want 1", len(res.Events))
			}
			if got := deref(res.Events[0].DateISO); got != tt.wantDate {
				t.Errorf("date = %s, want %s", got, tt.wantDate)
			}
			if gotWarn := len(res.Warnings) > 0; gotWarn != tt.wantWarning {
				t.Errorf("warnings = %v, want warning: %v", res.Warnings, tt.wantWarning)
			}
		})
	}
}

func TestExtract_SkipsShortRows(t *testing.T) {
	html := page(
		row("only", "three", "cells"),
		row("Fri: Aug 29", "<a href='/e'>Kept</a>", "", "", "", "", "2026/08/29"),
		row("", "", "", "", "", "", ""), // no title
	)

	res, err := newTestExtractor().Extract(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3", res.Rows)
	}
	if len(res.Events) != 1 || res.Events[0].Title != "Kept" {
		t.Fatalf("events = %+v, want only Kept", res.Events)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", res.Warnings)
	}
	if res.Warnings[0].Row != 1 || res.Warnings[1].Row != 3 {
		t.Errorf("warning rows = %d,%d, want 1,3", res.Warnings[0].Row, res.Warnings[1].Row)
	}
}

func TestExtract_HiddenRowsKept(t *testing.T) {
	html := page(
		`<tr style="display: none" class="past extra"><td></td><td><a href="/h">Hidden Show</a></td><td></td><td></td><td></td><td></td><td></td></tr>`,
		`<tr style="DISPLAY:NONE"><td></td><td><a href="/h2">Also Hidden</a></td><td></td><td></td><td></td><td></td><td></td></tr>`,
	)

	res, err := newTestExtractor().Extract(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Events))
	}
	for _, e := range res.Events {
		if !e.Hidden {
			t.Errorf("%q should be hidden", e.Title)
		}
	}
	if deref(res.Events[0].ClassName) != "past" {
		t.Errorf("className = %q, want past", deref(res.Events[0].ClassName))
	}
}

func TestExtract_RawVenueFallback(t *testing.T) {
	// The venue text is not reachable through the structured search because the
	// title link swallows it, so the raw HTML pattern has to find it.
	html := page(`<tr><td>Fri: Aug 29</td><td><a href="/e">Night @ Rickshaw Stop (San Francisco)</a></td><td></td><td></td><td></td><td></td><td>2026/08/29</td></tr>`)

	res, err := newTestExtractor().Extract(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	got := res.Events[0]
	if deref(got.Venue) != "Rickshaw Stop" || deref(got.City) != "San Francisco" {
		t.Errorf("venue/city = %s/%s", deref(got.Venue), deref(got.City))
	}
}

func TestExtract_NoTbody(t *testing.T) {
	html := "<table>" + row("", "<a href='/e'>Show</a>", "", "", "", "", "") + "</table>"

	res, err := newTestExtractor().ExtractBytes([]byte(html))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Events) != 1 {
		t.Errorf("got %d events, want 1", len(res.Events))
	}
}
