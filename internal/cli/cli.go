package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/sf-events/internal/config"
	"github.com/pfrederiksen/sf-events/internal/geocode"
	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/metrics"
	"github.com/pfrederiksen/sf-events/internal/pipeline"
	"github.com/pfrederiksen/sf-events/internal/scraper"
	"github.com/pfrederiksen/sf-events/internal/store"
	"github.com/pfrederiksen/sf-events/internal/store/memory"
	"github.com/pfrederiksen/sf-events/internal/store/postgres"
	"github.com/pfrederiksen/sf-events/internal/upsert"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
	flagFormat    string
	flagVerbose   bool
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sfevents",
		Short: "Scrape, geocode and store Bay Area music events",
		Long: `A pipeline that scrapes the 19hz Bay Area listing, geocodes venues and
keeps a normalized event database current. Run once with 'scrape' or on a
schedule with 'serve'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Define flags
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: json or console")
	cmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")

	cmd.AddCommand(
		newScrapeCmd(),
		newServeCmd(),
		newExtractCmd(),
		newGeocodeCmd(),
		newPruneCmd(),
		newMigrateCmd(),
		newStatsCmd(),
	)

	return cmd
}

// app is the wiring shared by the subcommands
type app struct {
	cfg     config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	format  OutputFormat
}

func loadApp() (*app, error) {
	format := OutputFormat(strings.ToLower(flagFormat))
	if format != FormatText && format != FormatJSON {
		return nil, fmt.Errorf("invalid format: %s (must be 'text' or 'json')", flagFormat)
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if flagVerbose {
		cfg.Log.Level = string(logger.LevelDebug)
	}

	log := logger.New(logger.ParseLevel(cfg.Log.Level), logger.Format(cfg.Log.Format), os.Stderr)
	logger.SetDefault(log)

	return &app{cfg: cfg, log: log, metrics: metrics.New(), format: format}, nil
}

// openStore returns the configured store with its schema in place. memoryStore
// forces the in-memory store regardless of config.
func (a *app) openStore(ctx context.Context, memoryStore bool) (store.Store, error) {
	if memoryStore || a.cfg.Database.Driver == "memory" {
		a.log.Info("using in-memory store", nil)
		return memory.New(), nil
	}

	pg, err := postgres.Open(ctx, postgres.Options{
		Driver:       a.cfg.Database.Driver,
		URL:          a.cfg.Database.URL,
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return pg, nil
}

func (a *app) openGeocodeCache(ctx context.Context) (geocode.Cache, error) {
	c := a.cfg.Geocode.Cache
	switch c.Backend {
	case "redis":
		return geocode.NewRedisCache(ctx, geocode.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			Prefix:   c.RedisPrefix,
		})
	case "memory":
		return geocode.NewMemoryCache(), nil
	default:
		return geocode.NewFileCache(c.Path)
	}
}

func (a *app) newGeocoder(cache geocode.Cache) *geocode.Client {
	g := a.cfg.Geocode
	return geocode.NewClient(geocode.Options{
		BaseURL:      g.BaseURL,
		UserAgent:    g.UserAgent,
		Region:       g.Region,
		CountryCodes: g.CountryCodes,
		MinInterval:  g.MinInterval,
		HTTPClient:   newHTTPClient(g.Timeout),
		Cache:        cache,
		Logger:       a.log,
		Metrics:      a.metrics,
	})
}

func (a *app) newSource(file string) pipeline.Source {
	if file != "" {
		return scraper.FileSource{Path: file}
	}
	s := a.cfg.Source
	return scraper.NewWithOptions(s.URL, s.UserAgent, s.Timeout)
}

func (a *app) newEngine(st store.Store) *upsert.Engine {
	return upsert.New(st, upsert.Options{
		BatchSize: a.cfg.Upsert.BatchSize,
		Retention: a.cfg.Upsert.Retention,
		Source:    a.cfg.Source.Name,
		Logger:    a.log,
		Metrics:   a.metrics,
	})
}

func (a *app) newOrchestrator(src pipeline.Source, st store.Store, geo pipeline.Geocoder, daysAhead int) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Options{
		Source:    src,
		Extractor: scraper.NewExtractor(a.cfg.Extract.HomeCity, a.cfg.Extract.DefaultYear),
		Geocoder:  geo,
		Store:     st,
		Engine:    a.newEngine(st),
		DaysAhead: daysAhead,
		Interval:  a.cfg.Pipeline.Interval,
		Logger:    a.log,
		Metrics:   a.metrics,
	})
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	os.Exit(ExitSuccess)
}
