package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/sf-events/internal/apperrors"
	"github.com/pfrederiksen/sf-events/internal/event"
	"github.com/pfrederiksen/sf-events/internal/geocode"
	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/metrics"
	"github.com/pfrederiksen/sf-events/internal/store"
)

const (
	DefaultBatchSize = 20
	DefaultRetention = 180 * 24 * time.Hour

	recordSavepoint = "upsert_record"
)

// Outcome is what happened to one record
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
)

// Item pairs an extracted record with its geocode result, if any.
type Item struct {
	Record event.Raw
	Geo    *geocode.Result
}

// RecordOutcome reports one record's result
type RecordOutcome struct {
	Title   string  `json:"title"`
	Date    *string `json:"date"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Summary is the result of one Upsert call
type Summary struct {
	Created  int             `json:"created"`
	Updated  int             `json:"updated"`
	Failed   int             `json:"failed"`
	Outcomes []RecordOutcome `json:"-"`
}

func (s *Summary) add(o RecordOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeFailed:
		s.Failed++
	}
}

// failFrom marks every successful outcome from index i on as failed.
func (s *Summary) failFrom(i int, err error) {
	for j := i; j < len(s.Outcomes); j++ {
		o := &s.Outcomes[j]
		switch o.Outcome {
		case OutcomeCreated:
			s.Created--
		case OutcomeUpdated:
			s.Updated--
		default:
			continue
		}
		o.Outcome = OutcomeFailed
		o.Error = err.Error()
		s.Failed++
	}
}

// Options configures an Engine. Zero values take the package defaults.
type Options struct {
	BatchSize int
	Retention time.Duration
	Source    string
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// Engine writes records through a store.Store
type Engine struct {
	store     store.Store
	batchSize int
	retention time.Duration
	source    string
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// New creates an Engine
func New(s store.Store, opts Options) *Engine {
	e := &Engine{
		store:     s,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		source:    opts.Source,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.retention <= 0 {
		e.retention = DefaultRetention
	}
	if e.source == "" {
		e.source = store.DefaultSource
	}
	if e.log == nil {
		e.log = logger.Default()
	}
	return e
}

// identityCache remembers identities resolved during one Upsert call. Any rollback
// clears it, so it never hands out a row that no longer exists.
type identityCache struct {
	venues    map[store.VenueKey]*store.Venue
	genres    map[string]int64
	promoters map[string]int64
}

func newIdentityCache() *identityCache {
	c := &identityCache{}
	c.reset()
	return c
}

func (c *identityCache) reset() {
	c.venues = make(map[store.VenueKey]*store.Venue)
	c.genres = make(map[string]int64)
	c.promoters = make(map[string]int64)
}

// Upsert writes items in order. Record failures are counted in the Summary; the
// returned error is set only when storage cannot be reached or ctx is cancelled.
// Cancellation takes effect between records: the batch so far is committed first.
func (e *Engine) Upsert(ctx context.Context, items []Item) (*Summary, error) {
	summary := &Summary{Outcomes: make([]RecordOutcome, 0, len(items))}
	cache := newIdentityCache()
	opCtx := context.WithoutCancel(ctx)
	defer func() {
		for _, o := range summary.Outcomes {
			e.metrics.IncUpsert(string(o.Outcome))
		}
	}()

	for start := 0; start < len(items); start += e.batchSize {
		end := start + e.batchSize
		if end > len(items) {
			end = len(items)
		}

		sess, err := e.store.Begin(opCtx)
		if err != nil {
			return summary, apperrors.Fatal("begin upsert batch", err)
		}

		first := len(summary.Outcomes)
		stopped := false
		for _, item := range items[start:end] {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			summary.add(e.upsertRecord(opCtx, sess, cache, item))
		}

		if err := sess.Commit(); err != nil {
			_ = sess.Rollback()
			cache.reset()
			summary.failFrom(first, fmt.Errorf("committing batch: %w", err))
			e.log.Error("batch commit failed", logger.Fields{
				"batch_start": start,
				"records":     len(summary.Outcomes) - first,
			}, err)
		} else {
			e.log.Debug("batch committed", logger.Fields{"batch_start": start, "records": len(summary.Outcomes) - first})
		}

		if stopped {
			return summary, ctx.Err()
		}
	}

	return summary, nil
}

func (e *Engine) upsertRecord(ctx context.Context, sess store.Session, cache *identityCache, item Item) RecordOutcome {
	rec := item.Record
	out := RecordOutcome{Title: rec.Title, Date: rec.DateISO}
	fields := logger.Fields{"title": rec.Title, "date": rec.DateISO}

	if err := sess.Savepoint(ctx, recordSavepoint); err != nil {
		out.Outcome, out.Error = OutcomeFailed, err.Error()
		e.log.WarnErr("could not open savepoint", fields, err)
		return out
	}

	outcome, err := e.apply(ctx, sess, cache, item)
	if err != nil {
		if rbErr := sess.RollbackTo(ctx, recordSavepoint); rbErr != nil {
			e.log.WarnErr("savepoint rollback failed", fields, rbErr)
		}
		cache.reset()
		err = apperrors.Row("upsert event", err)
		e.log.WarnErr("skipping event", fields, err)
		out.Outcome, out.Error = OutcomeFailed, err.Error()
	} else {
		out.Outcome = outcome
	}

	if err := sess.Release(ctx, recordSavepoint); err != nil {
		e.log.WarnErr("savepoint release failed", fields, err)
	}
	return out
}

func (e *Engine) apply(ctx context.Context, sess store.Session, cache *identityCache, item Item) (Outcome, error) {
	rec := item.Record
	if strings.TrimSpace(rec.Title) == "" {
		return "", errors.New("record has no title")
	}

	var venueID *int64
	if name := strings.TrimSpace(rec.VenueName()); name != "" {
		v, err := e.venue(ctx, sess, cache, name, strings.TrimSpace(rec.CityName()), item.Geo)
		if err != nil {
			return "", err
		}
		venueID = &v.ID
	}

	genreIDs, err := resolveNames(ctx, cache.genres, unique(rec.Genres),
		func(ctx context.Context, name string) (int64, error) {
			g, err := sess.FindGenre(ctx, name)
			if err != nil {
				return 0, err
			}
			return g.ID, nil
		},
		func(ctx context.Context, name string) (int64, error) {
			g, err := sess.CreateGenre(ctx, name)
			if err != nil {
				return 0, err
			}
			return g.ID, nil
		})
	if err != nil {
		return "", fmt.Errorf("genres: %w", err)
	}

	promoterIDs, err := resolveNames(ctx, cache.promoters, unique(rec.Promoters),
		func(ctx context.Context, name string) (int64, error) {
			p, err := sess.FindPromoter(ctx, name)
			if err != nil {
				return 0, err
			}
			return p.ID, nil
		},
		func(ctx context.Context, name string) (int64, error) {
			p, err := sess.CreatePromoter(ctx, name)
			if err != nil {
				return 0, err
			}
			return p.ID, nil
		})
	if err != nil {
		return "", fmt.Errorf("promoters: %w", err)
	}

	var date *time.Time
	if d := rec.Date(); !d.IsZero() {
		date = &d
	}

	existing, err := sess.FindEvent(ctx, rec.Title, date)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ev := &store.Event{
			Title:          rec.Title,
			URL:            rec.URL,
			Hidden:         rec.Hidden,
			Date:           date,
			DayLabel:       rec.DayLabel,
			TimeRange:      rec.TimeRange,
			Price:          rec.Price,
			AgeRestriction: rec.Age,
			VenueID:        venueID,
			OriginalJSON:   rec.JSON(),
			Source:         e.source,
		}
		if err := sess.CreateEvent(ctx, ev); err != nil {
			return "", fmt.Errorf("creating event: %w", err)
		}
		if err := e.setAssociations(ctx, sess, ev.ID, genreIDs, promoterIDs); err != nil {
			return "", err
		}
		if len(rec.ExtraLinks) > 0 {
			links := make([]store.Link, 0, len(rec.ExtraLinks))
			for _, l := range rec.ExtraLinks {
				links = append(links, store.Link{Text: l.Text, Href: l.Href})
			}
			if err := sess.AddEventLinks(ctx, ev.ID, links); err != nil {
				return "", fmt.Errorf("adding links: %w", err)
			}
		}
		return OutcomeCreated, nil

	case err != nil:
		return "", fmt.Errorf("finding event: %w", err)
	}

	// title, date, hidden, day label, links and the original payload keep their
	// first-seen values
	update := store.EventUpdate{
		URL:            rec.URL,
		TimeRange:      rec.TimeRange,
		Price:          rec.Price,
		AgeRestriction: rec.Age,
		VenueID:        venueID,
	}
	if err := sess.UpdateEvent(ctx, existing.ID, update); err != nil {
		return "", fmt.Errorf("updating event: %w", err)
	}
	if err := e.setAssociations(ctx, sess, existing.ID, genreIDs, promoterIDs); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

func (e *Engine) setAssociations(ctx context.Context, sess store.Session, eventID int64, genreIDs, promoterIDs []int64) error {
	if err := sess.SetEventGenres(ctx, eventID, genreIDs); err != nil {
		return fmt.Errorf("setting genres: %w", err)
	}
	if err := sess.SetEventPromoters(ctx, eventID, promoterIDs); err != nil {
		return fmt.Errorf("setting promoters: %w", err)
	}
	return nil
}

// venue finds or creates the (name, city) venue and attaches geo when the venue
// has no coordinates yet. Existing coordinates are never overwritten.
func (e *Engine) venue(ctx context.Context, sess store.Session, cache *identityCache, name, city string, geo *geocode.Result) (*store.Venue, error) {
	key := store.VenueKey{Name: name, City: city}

	v, ok := cache.venues[key]
	if !ok {
		found, err := sess.FindVenue(ctx, name, city)
		switch {
		case errors.Is(err, store.ErrNotFound):
			found = &store.Venue{Name: name, City: city, IsTBA: event.IsTBA(name)}
			if err := sess.CreateVenue(ctx, found); err != nil {
				return nil, fmt.Errorf("creating venue: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("finding venue: %w", err)
		}
		v = found
		cache.venues[key] = v
	}

	if geo != nil && !v.IsTBA && !v.HasCoordinates() {
		c := store.Coordinates{Lat: geo.Lat, Lon: geo.Lon, DisplayName: geo.DisplayName, Approximate: geo.Approximate}
		if err := sess.SetVenueCoordinates(ctx, v.ID, c); err != nil {
			return nil, fmt.Errorf("setting venue coordinates: %w", err)
		}
		lat, lon, display := c.Lat, c.Lon, c.DisplayName
		v.Latitude, v.Longitude, v.DisplayName = &lat, &lon, &display
		v.IsApproximate = c.Approximate
	}
	return v, nil
}

type lookupFunc func(ctx context.Context, name string) (int64, error)

// resolveNames maps each name to an id, consulting ids first, then find, then create.
func resolveNames(ctx context.Context, ids map[string]int64, names []string, find, create lookupFunc) ([]int64, error) {
	out := make([]int64, 0, len(names))
	for _, name := range names {
		if id, ok := ids[name]; ok {
			out = append(out, id)
			continue
		}
		id, err := find(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			id, err = create(ctx, name)
		}
		if err != nil {
			return nil, fmt.Errorf("%q: %w", name, err)
		}
		ids[name] = id
		out = append(out, id)
	}
	return out, nil
}

// unique drops blank and repeated names, keeping first occurrence order.
func unique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Prune deletes dated events older than the retention window, measured from now's
// calendar date. Undated events are kept.
func (e *Engine) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := event.Today(now).Add(-e.retention)
	n, err := e.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events before %s: %w", cutoff.Format(event.ISOLayout), err)
	}
	e.metrics.AddPruned(n)
	e.log.Info("pruned old events", logger.Fields{"deleted": n, "cutoff": cutoff.Format(event.ISOLayout)})
	return n, nil
}
