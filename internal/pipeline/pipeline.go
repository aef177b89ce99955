package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pfrederiksen/sf-events/internal/apperrors"
	"github.com/pfrederiksen/sf-events/internal/event"
	"github.com/pfrederiksen/sf-events/internal/geocode"
	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/metrics"
	"github.com/pfrederiksen/sf-events/internal/scraper"
	"github.com/pfrederiksen/sf-events/internal/store"
	"github.com/pfrederiksen/sf-events/internal/upsert"
)

const (
	DefaultDaysAhead = 14
	DefaultInterval  = 12 * time.Hour
)

// ErrAlreadyRunning is returned by TryRun while another run is in flight.
var ErrAlreadyRunning = errors.New("a scrape is already running")

// Source yields the raw listing page
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Geocoder resolves venue locations
type Geocoder interface {
	Resolve(ctx context.Context, venue, city string) geocode.Lookup
	Flush(ctx context.Context) error
}

// Report describes one run
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	Rows     int `json:"rows"`
	Parsed   int `json:"parsed"`
	Warnings int `json:"warnings"`
	InWindow int `json:"in_window"`

	CoordinatesReused int `json:"coordinates_reused"`
	Geocoded          int `json:"geocoded"`
	Approximate       int `json:"approximate"`
	Unresolved        int `json:"unresolved"`

	Created int   `json:"created"`
	Updated int   `json:"updated"`
	Failed  int   `json:"failed"`
	Pruned  int64 `json:"pruned"`

	Error string `json:"error,omitempty"`
}

// Options wires an Orchestrator. Geocoder may be nil to skip geocoding.
type Options struct {
	Source    Source
	Extractor *scraper.Extractor
	Geocoder  Geocoder
	Store     store.Store
	Engine    *upsert.Engine

	DaysAhead int
	Interval  time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Orchestrator runs the pipeline. At most one run is in flight at a time.
type Orchestrator struct {
	source    Source
	extractor *scraper.Extractor
	geocoder  Geocoder
	store     store.Store
	engine    *upsert.Engine
	daysAhead int
	interval  time.Duration
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	runMu   sync.Mutex // held for the duration of a run
	running atomic.Bool

	mu   sync.Mutex
	last *Report
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		source:    opts.Source,
		extractor: opts.Extractor,
		geocoder:  opts.Geocoder,
		store:     opts.Store,
		engine:    opts.Engine,
		daysAhead: opts.DaysAhead,
		interval:  opts.Interval,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if o.daysAhead <= 0 {
		o.daysAhead = DefaultDaysAhead
	}
	if o.interval <= 0 {
		o.interval = DefaultInterval
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.extractor == nil {
		o.extractor = scraper.NewExtractor(scraper.DefaultHomeCity, 0)
	}
	if o.engine == nil {
		o.engine = upsert.New(o.store, upsert.Options{Logger: o.log, Metrics: o.metrics})
	}
	return o
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Last returns a copy of the most recent report, or nil before the first run.
func (o *Orchestrator) Last() *Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// TryRun starts a run unless one is already in flight, in which case it returns
// ErrAlreadyRunning without waiting.
func (o *Orchestrator) TryRun(ctx context.Context) (*Report, error) {
	if !o.runMu.TryLock() {
		o.metrics.IncTriggerRejected()
		return nil, ErrAlreadyRunning
	}
	defer o.runMu.Unlock()
	return o.run(ctx)
}

// Run waits for any in-flight run to finish, then runs.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.run(ctx)
}

// Loop runs immediately, then again interval after each run completes, until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (o *Orchestrator) Loop(ctx context.Context) error {
	o.log.Info("scheduler started", logger.Fields{"interval": o.interval.String()})
	for {
		if _, err := o.Run(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		timer := time.NewTimer(o.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.log.Info("scheduler stopped", nil)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) run(ctx context.Context) (report *Report, err error) {
	o.running.Store(true)
	defer o.running.Store(false)

	start := o.now()
	report = &Report{RunID: uuid.NewString(), StartedAt: start.UTC()}
	log := o.log.With(logger.Fields{"run_id": report.RunID})
	log.Info("run started", nil)

	defer func() {
		if o.geocoder != nil {
			if ferr := o.geocoder.Flush(context.WithoutCancel(ctx)); ferr != nil {
				log.WarnErr("geocode cache flush failed", nil, ferr)
			}
		}

		report.FinishedAt = o.now().UTC()
		elapsed := report.FinishedAt.Sub(report.StartedAt)
		report.DurationMS = elapsed.Milliseconds()
		if err != nil {
			report.Error = err.Error()
			log.Error("run failed", logger.Fields{"kind": string(apperrors.KindOf(err))}, err)
		} else {
			log.Info("run finished", logger.Fields{
				"created":     report.Created,
				"updated":     report.Updated,
				"failed":      report.Failed,
				"pruned":      report.Pruned,
				"duration_ms": report.DurationMS,
			})
		}
		o.metrics.ObserveRun(elapsed, err)

		o.mu.Lock()
		last := *report
		o.last = &last
		o.mu.Unlock()
	}()

	page, err := o.source.Fetch(ctx)
	if err != nil {
		return report, err
	}

	res, err := o.extractor.ExtractBytes(page)
	if err != nil {
		return report, apperrors.Fatal("extract listing", err)
	}
	for _, w := range res.Warnings {
		log.Warn("extraction warning", logger.Fields{"row": w.Row, "message": w.Message})
	}
	report.Rows = res.Rows
	report.Parsed = len(res.Events)
	report.Warnings = len(res.Warnings)
	o.metrics.AddExtracted(len(res.Events), len(res.Warnings))

	records := event.FilterWindow(res.Events, start, o.daysAhead)
	report.InWindow = len(records)
	log.Info("listing extracted", logger.Fields{
		"rows":       report.Rows,
		"parsed":     report.Parsed,
		"warnings":   report.Warnings,
		"in_window":  report.InWindow,
		"days_ahead": o.daysAhead,
	})

	items, err := o.locate(ctx, log, records, report)
	if err != nil {
		return report, err
	}

	summary, err := o.engine.Upsert(ctx, items)
	if summary != nil {
		report.Created = summary.Created
		report.Updated = summary.Updated
		report.Failed = summary.Failed
	}
	if err != nil {
		return report, err
	}

	pruned, perr := o.engine.Prune(ctx, start)
	if perr != nil {
		log.Error("retention pass failed", nil, perr)
	}
	report.Pruned = pruned

	return report, nil
}

// locate pairs each record with a location. Coordinates already stored for the venue
// are reused without a lookup; other venues go to the geocoder one at a time.
func (o *Orchestrator) locate(ctx context.Context, log *logger.Logger, records []event.Raw, report *Report) ([]upsert.Item, error) {
	known, err := o.store.VenueCoordinates(ctx)
	if err != nil {
		return nil, apperrors.Fatal("load venue coordinates", err)
	}

	items := make([]upsert.Item, 0, len(records))
	for _, rec := range records {
		item := upsert.Item{Record: rec}
		if !rec.HasGeocodableVenue() {
			items = append(items, item)
			continue
		}

		venue := strings.TrimSpace(rec.VenueName())
		city := strings.TrimSpace(rec.CityName())
		if _, ok := known[store.VenueKey{Name: venue, City: city}]; ok {
			report.CoordinatesReused++
			items = append(items, item)
			continue
		}
		if o.geocoder == nil {
			items = append(items, item)
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("geocoding: %w", err)
		}
		lookup := o.geocoder.Resolve(ctx, venue, city)
		switch {
		case lookup.Found && lookup.Result.Approximate:
			report.Approximate++
		case lookup.Found:
			report.Geocoded++
		default:
			report.Unresolved++
			log.Debug("venue not located", logger.Fields{"venue": venue, "city": city, "cached": lookup.Cached})
		}
		if lookup.Found {
			r := lookup.Result
			item.Geo = &r
		}
		items = append(items, item)
	}
	return items, nil
}
