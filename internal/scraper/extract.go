package scraper

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pfrederiksen/sf-events/internal/event"
)

// DefaultHomeCity is assumed when a venue carries no city.
const DefaultHomeCity = "San Francisco"

// minCells is the number of <td> cells a listing row must carry.
const minCells = 7

var (
	dayTimePattern   = regexp.MustCompile(`^(.+?)\s*\((.+?)\)\s*$`)
	// A lone "(" still starts the city.
	venueTextPattern = regexp.MustCompile(`^@\s*([^(]*?)\s*(?:\(([^)]*)\)?)?\s*$`)
	// Tolerates cells whose closing tags are missing.
	venueHTMLPattern = regexp.MustCompile(`@\s+([^(<]+?)(?:\s*\(([^)<]+)\)?)?(?:<|$)`)
	agePattern       = regexp.MustCompile(`(?i)\d+\+|all ages`)
	yearPattern      = regexp.MustCompile(`\b(\d{4})\b`)
	brPattern        = regexp.MustCompile(`(?i)<br\s*/?>`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// Warning describes a row that was skipped or only partly understood.
type Warning struct {
	Row     int    `json:"row"` // 1-based position among the listing rows
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d: %s", w.Row, w.Message)
}

// Result is the outcome of extracting one document
type Result struct {
	Events   []event.Raw
	Warnings []Warning
	Rows     int // rows examined, including skipped ones
}

// Extractor turns listing HTML into event records
type Extractor struct {
	// HomeCity is used when a venue has no parenthetical city.
	HomeCity string

	// DefaultYear applies when neither the sort column nor the day label carry a
	// full date. 0 means the current year according to Now.
	DefaultYear int

	// Now is the clock used for the current-year fallback. Defaults to time.Now.
	Now func() time.Time
}

// NewExtractor creates an Extractor with the given home city and default year.
func NewExtractor(homeCity string, defaultYear int) *Extractor {
	if homeCity == "" {
		homeCity = DefaultHomeCity
	}
	return &Extractor{HomeCity: homeCity, DefaultYear: defaultYear, Now: time.Now}
}

// ExtractBytes is Extract over an in-memory page.
func (x *Extractor) ExtractBytes(page []byte) (*Result, error) {
	return x.Extract(bytes.NewReader(page))
}

// Extract parses the listing table. It fails only when the document cannot be read at all.
func (x *Extractor) Extract(r io.Reader) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	rows := doc.Find("tbody").First().Find("tr")
	if rows.Length() == 0 {
		rows = doc.Find("tr")
	}

	res := &Result{Events: make([]event.Raw, 0, rows.Length())}
	rows.Each(func(i int, row *goquery.Selection) {
		res.Rows++
		rec, warns, ok := x.parseRow(i+1, row)
		res.Warnings = append(res.Warnings, warns...)
		if ok {
			res.Events = append(res.Events, rec)
		}
	})

	return res, nil
}

func (x *Extractor) parseRow(n int, row *goquery.Selection) (event.Raw, []Warning, bool) {
	var warns []Warning
	warn := func(format string, args ...any) {
		warns = append(warns, Warning{Row: n, Message: fmt.Sprintf(format, args...)})
	}

	cells := row.ChildrenFiltered("td")
	if cells.Length() < minCells {
		cells = row.Find("td")
	}
	if cells.Length() < minCells {
		warn("expected at least %d cells, got %d", minCells, cells.Length())
		return event.Raw{}, warns, false
	}

	rec := event.Raw{
		Hidden:     isHidden(row),
		Genres:     []string{},
		Promoters:  []string{},
		ExtraLinks: []event.Link{},
	}
	if class, ok := row.Attr("class"); ok {
		if fields := strings.Fields(class); len(fields) > 0 {
			rec.ClassName = event.String(fields[0])
		}
	}

	rec.DayLabel, rec.TimeRange = parseDayTime(cellText(cells.Eq(0)))

	x.parseTitleCell(cells.Eq(1), &rec)
	if rec.Title == "" {
		warn("no title found")
		return event.Raw{}, warns, false
	}

	rec.Genres = splitList(cellText(cells.Eq(2)))
	rec.Price, rec.Age = parsePriceAge(cellText(cells.Eq(3)))

	if promoters := cellText(cells.Eq(4)); promoters != "-" {
		rec.Promoters = splitList(promoters)
	}

	rec.ExtraLinks = append(rec.ExtraLinks, links(cells.Eq(5).Find("a"))...)

	date, fallback := x.parseDate(cells.Eq(6), rec.DayLabel)
	rec.DateISO = date
	if fallback {
		warn("no year on row, assumed %s from default year", *date)
	}

	return rec, warns, true
}

// parseTitleCell fills title, url, venue, city and the title cell's extra links.
func (x *Extractor) parseTitleCell(cell *goquery.Selection, rec *event.Raw) {
	anchors := cell.Find("a")
	first := anchors.First()

	if first.Length() > 0 {
		rec.Title = normalize(first.Text())
		rec.URL, _ = first.Attr("href")
		rec.URL = strings.TrimSpace(rec.URL)
		rec.ExtraLinks = append(rec.ExtraLinks, links(anchors.Slice(1, anchors.Length()))...)
	} else {
		title, _, _ := strings.Cut(cellText(cell), "@")
		rec.Title = strings.TrimSpace(title)
	}

	if _, after, ok := strings.Cut(venueSegment(cell, first), "@"); ok {
		if m := venueTextPattern.FindStringSubmatch("@" + after); m != nil {
			rec.Venue = event.String(m[1])
			rec.City = event.String(m[2])
		}
	}

	if rec.Venue == nil {
		raw, _ := cell.Html()
		if m := venueHTMLPattern.FindStringSubmatch(raw); m != nil {
			rec.Venue = event.String(html.UnescapeString(m[1]))
			rec.City = event.String(html.UnescapeString(m[2]))
		}
	}

	if rec.Venue != nil && rec.City == nil {
		rec.City = event.String(x.HomeCity)
	}
}

// venueSegment is the text following the title anchor (or leading the cell when there
// is none) up to the next link or line break.
func venueSegment(cell, title *goquery.Selection) string {
	var b strings.Builder
	started := title.Length() == 0
	cell.Contents().EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if !started {
			started = n.Get(0) == title.Get(0)
			return true
		}
		switch goquery.NodeName(n) {
		case "a", "br":
			return false
		}
		b.WriteString(n.Text())
		b.WriteString(" ")
		return true
	})
	return normalize(b.String())
}

// parseDate reads the sort column. When it lacks a full date the day label is combined
// with a year from the sort column or the configured default; fallback reports the latter.
func (x *Extractor) parseDate(cell *goquery.Selection, dayLabel *string) (iso *string, fallback bool) {
	text := normalize(cell.Find(".shrink").First().Text())
	if text == "" {
		text = cellText(cell)
	}

	if t := event.ParseSortDate(text); !t.IsZero() {
		return event.String(t.Format(event.ISOLayout)), false
	}

	if dayLabel == nil {
		return nil, false
	}
	// "Fri: Aug 29" -> "Aug 29"
	label := *dayLabel
	if _, rest, ok := strings.Cut(label, ":"); ok {
		label = rest
	}

	year := 0
	if m := yearPattern.FindStringSubmatch(text); m != nil {
		year, _ = strconv.Atoi(m[1])
	}
	if year == 0 {
		fallback = true
		year = x.DefaultYear
		if year == 0 {
			now := time.Now
			if x.Now != nil {
				now = x.Now
			}
			year = now().Year()
		}
	}

	t := event.ParseMonthDay(label, year)
	if t.IsZero() {
		return nil, false
	}
	return event.String(t.Format(event.ISOLayout)), fallback
}

func parseDayTime(text string) (day, timeRange *string) {
	if text == "" {
		return nil, nil
	}
	if m := dayTimePattern.FindStringSubmatch(text); m != nil {
		return event.String(m[1]), event.String(m[2])
	}
	return event.String(text), nil
}

// parsePriceAge splits "price | age". A lone segment is an age when it looks like one.
func parsePriceAge(text string) (price, age *string) {
	var parts []string
	for _, p := range strings.Split(text, "|") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case len(parts) == 1 && agePattern.MatchString(parts[0]):
		return nil, event.String(parts[0])
	case len(parts) == 1:
		return event.String(parts[0]), nil
	case len(parts) >= 2:
		return event.String(parts[0]), event.String(parts[1])
	}
	return nil, nil
}

func splitList(text string) []string {
	out := []string{}
	for _, item := range strings.Split(text, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func links(sel *goquery.Selection) []event.Link {
	out := []event.Link{}
	sel.Each(func(_ int, a *goquery.Selection) {
		text := normalize(a.Text())
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if text != "" && href != "" {
			out = append(out, event.Link{Text: text, Href: href})
		}
	})
	return out
}

func isHidden(row *goquery.Selection) bool {
	style, _ := row.Attr("style")
	style = strings.ToLower(spacePattern.ReplaceAllString(style, ""))
	return strings.Contains(style, "display:none")
}

// cellText is the cell's text with <br> read as a space and whitespace collapsed.
func cellText(cell *goquery.Selection) string {
	raw, err := cell.Html()
	if err != nil || !brPattern.MatchString(raw) {
		return normalize(cell.Text())
	}
	frag, err := goquery.NewDocumentFromReader(strings.NewReader(brPattern.ReplaceAllString(raw, " ")))
	if err != nil {
		return normalize(cell.Text())
	}
	return normalize(frag.Text())
}

func normalize(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
