package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/sf-events/internal/calendar"
	"github.com/pfrederiksen/sf-events/internal/event"
	"github.com/pfrederiksen/sf-events/internal/filter"
	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/scraper"
	"github.com/pfrederiksen/sf-events/internal/server"
)

var (
	flagDryRun        bool
	flagFile          string
	flagDaysAhead     int
	flagAddr          string
	flagSort          string
	flagIncludeHidden bool
	flagGenres        []string
	flagCities        []string
	flagVenues        []string
	flagDates         string
	flagWeekends      bool
	flagICS           string
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run the pipeline once",
		Long: `Fetch the listing, extract events inside the look-ahead window, geocode
their venues, upsert them and prune events past the retention window.`,
		Args: cobra.NoArgs,
		RunE: runScrape,
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Write to an in-memory store instead of the database")
	cmd.Flags().StringVar(&flagFile, "file", "", "Read the listing HTML from a file instead of fetching it")
	cmd.Flags().IntVar(&flagDaysAhead, "days-ahead", 0, "Look-ahead window in days (default from config)")
	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	st, err := a.openStore(ctx, flagDryRun)
	if err != nil {
		return err
	}
	defer st.Close()

	cache, err := a.openGeocodeCache(ctx)
	if err != nil {
		return fmt.Errorf("opening geocode cache: %w", err)
	}
	defer cache.Close()

	days := a.cfg.Pipeline.DaysAhead
	if cmd.Flags().Changed("days-ahead") {
		days = flagDaysAhead
	}

	o := a.newOrchestrator(a.newSource(flagFile), st, a.newGeocoder(cache), days)
	report, runErr := o.Run(ctx)

	out := &ScrapeOutput{Report: report, DryRun: flagDryRun}
	if counts, err := st.Counts(ctx); err != nil {
		a.log.WarnErr("could not read store counts", nil, err)
	} else {
		out.Counts = &counts
	}

	if err := WriteOutput(os.Stdout, out, a.format, flagVerbose); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return runErr
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on a schedule and serve health, trigger and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	st, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	cache, err := a.openGeocodeCache(ctx)
	if err != nil {
		return fmt.Errorf("opening geocode cache: %w", err)
	}
	defer cache.Close()

	addr := a.cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}

	o := a.newOrchestrator(a.newSource(""), st, a.newGeocoder(cache), a.cfg.Pipeline.DaysAhead)
	srv := server.New(st, o, a.metrics, a.log)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(ctx, addr) }()

	loopErr := make(chan error, 1)
	go func() { loopErr <- o.Loop(ctx) }()

	select {
	case err := <-srvErr:
		stop()
		<-loopErr
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-loopErr:
		if err := <-srvErr; err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.log.Info("shut down", nil)
	return nil
}

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the events on the listing without storing them",
		Args:  cobra.NoArgs,
		RunE:  runExtract,
	}
	cmd.Flags().StringVar(&flagFile, "file", "", "Read the listing HTML from a file instead of fetching it")
	cmd.Flags().IntVar(&flagDaysAhead, "days-ahead", 0, "Only show events within N days (0 = all)")
	cmd.Flags().StringVar(&flagSort, "sort", "date", "Sort order: date, title or venue")
	cmd.Flags().BoolVar(&flagIncludeHidden, "include-hidden", false, "Include rows hidden on the listing")
	cmd.Flags().StringSliceVar(&flagGenres, "genre", nil, "Only show events with one of these genres")
	cmd.Flags().StringSliceVar(&flagCities, "city", nil, "Only show events in cities containing one of these")
	cmd.Flags().StringSliceVar(&flagVenues, "venue", nil, "Only show events at venues containing one of these")
	cmd.Flags().StringVar(&flagDates, "dates", "", "Date range, e.g. 'Aug 1-15', 'Aug 28 - Sep 3' or 'August'")
	cmd.Flags().BoolVar(&flagWeekends, "weekends", false, "Only show Friday to Sunday events")
	cmd.Flags().StringVar(&flagICS, "ics", "", "Also write the events as an iCalendar file ('-' for stdout)")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	sortOrder := SortOrder(strings.ToLower(flagSort))
	switch sortOrder {
	case SortByDate, SortByTitle, SortByVenue:
	default:
		return fmt.Errorf("invalid sort: %s (must be 'date', 'title' or 'venue')", flagSort)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	page, err := a.newSource(flagFile).Fetch(ctx)
	if err != nil {
		return err
	}

	x := scraper.NewExtractor(a.cfg.Extract.HomeCity, a.cfg.Extract.DefaultYear)
	res, err := x.ExtractBytes(page)
	if err != nil {
		return fmt.Errorf("extracting events: %w", err)
	}

	now := time.Now()
	f := &filter.Filter{
		Genres:        flagGenres,
		Cities:        flagCities,
		Venues:        flagVenues,
		WeekendsOnly:  flagWeekends,
		IncludeHidden: flagIncludeHidden,
	}
	if flagDates != "" {
		if f.DateFrom, f.DateTo, err = filter.ParseDateRange(flagDates, now); err != nil {
			return err
		}
	}

	records := res.Events
	if flagDaysAhead > 0 {
		records = event.FilterWindow(records, now, flagDaysAhead)
	}
	records = f.Apply(records)
	a.log.Debug("filtered records", logger.Fields{"filter": f.String(), "kept": len(records)})
	sortRecords(records, sortOrder)

	if flagICS != "" {
		if err := writeICS(flagICS, records, now); err != nil {
			return err
		}
		if flagICS == "-" {
			return nil
		}
	}

	out := &ExtractOutput{Rows: res.Rows, Events: records, Warnings: res.Warnings}
	return WriteOutput(os.Stdout, out, a.format, flagVerbose)
}

func writeICS(path string, records []event.Raw, now time.Time) error {
	ics := calendar.GenerateICS(records, now)
	if path == "-" {
		_, err := fmt.Fprint(os.Stdout, ics)
		return err
	}
	if err := os.WriteFile(path, []byte(ics), 0644); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}
	return nil
}

func newGeocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <venue> [city]",
		Short: "Resolve one venue through the geocode cache",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGeocode,
	}
}

func runGeocode(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	city := a.cfg.Extract.HomeCity
	if len(args) > 1 {
		city = args[1]
	}

	cache, err := a.openGeocodeCache(ctx)
	if err != nil {
		return fmt.Errorf("opening geocode cache: %w", err)
	}
	defer cache.Close()

	geo := a.newGeocoder(cache)
	lookup := geo.Resolve(ctx, args[0], city)
	if err := geo.Flush(ctx); err != nil {
		a.log.WarnErr("geocode cache flush failed", nil, err)
	}

	out := newGeocodeOutput(args[0], city, lookup)
	if err := WriteOutput(os.Stdout, out, a.format, flagVerbose); err != nil {
		return err
	}
	if !lookup.Found && lookup.Err != nil {
		return lookup.Err
	}
	return nil
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete events older than the retention window",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	st, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := a.newEngine(st).Prune(ctx, time.Now())
	if err != nil {
		return err
	}
	return WriteOutput(os.Stdout, &PruneOutput{Deleted: n, Retention: a.cfg.Upsert.Retention.String()}, a.format, flagVerbose)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if a.cfg.Database.Driver == "memory" {
				return errors.New("migrate needs a database driver, not memory")
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			// openStore creates any missing tables
			st, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()

			a.log.Info("schema ready", logger.Fields{"driver": a.cfg.Database.Driver})
			if a.format == FormatText {
				fmt.Println("Schema is up to date.")
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and the stored date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			st, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.Counts(ctx)
			if err != nil {
				return fmt.Errorf("reading counts: %w", err)
			}
			return WriteOutput(os.Stdout, &StatsOutput{Counts: counts}, a.format, flagVerbose)
		},
	}
}
