// Package config loads pipeline configuration from a YAML file and the environment.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment variables,
// command-line flags (applied by the cli package).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type SourceConfig struct {
	URL       string        `yaml:"url"`
	Name      string        `yaml:"name"` // provenance tag written to events.source
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ExtractConfig struct {
	HomeCity string `yaml:"home_city"` // city used when a venue has no parenthetical
	// DefaultYear is used when a row carries no year at all. 0 means the current
	// calendar year at extraction time, which drifts across New Year.
	DefaultYear int `yaml:"default_year"`
}

type GeocodeCacheConfig struct {
	Backend       string `yaml:"backend"` // file | redis | memory
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type GeocodeConfig struct {
	BaseURL      string             `yaml:"base_url"`
	UserAgent    string             `yaml:"user_agent"`
	Region       string             `yaml:"region"`
	CountryCodes string             `yaml:"country_codes"`
	MinInterval  time.Duration      `yaml:"min_interval"`
	Timeout      time.Duration      `yaml:"timeout"`
	Cache        GeocodeCacheConfig `yaml:"cache"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres | pgx | memory
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type UpsertConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Retention time.Duration `yaml:"retention"`
}

type PipelineConfig struct {
	DaysAhead int           `yaml:"days_ahead"`
	Interval  time.Duration `yaml:"interval"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Config holds all application configuration
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Extract  ExtractConfig  `yaml:"extract"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Database DatabaseConfig `yaml:"database"`
	Upsert   UpsertConfig   `yaml:"upsert"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source: SourceConfig{
			URL:       "https://19hz.info/eventlisting_BayArea.php",
			Name:      "19hz",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:   30 * time.Second,
		},
		Extract: ExtractConfig{
			HomeCity: "San Francisco",
		},
		Geocode: GeocodeConfig{
			BaseURL:      "https://nominatim.openstreetmap.org/search",
			UserAgent:    "sf-events/1.0 (github.com/pfrederiksen/sf-events)",
			Region:       "CA",
			CountryCodes: "us",
			MinInterval:  time.Second,
			Timeout:      10 * time.Second,
			Cache: GeocodeCacheConfig{
				Backend:     "file",
				Path:        "~/.local/share/sf-events/geocode_cache.json",
				RedisAddr:   "localhost:6379",
				RedisPrefix: "sfevents:geocode:",
			},
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			URL:          "postgres://postgres@localhost:5432/sf_events?sslmode=disable",
			MaxOpenConns: 4,
		},
		Upsert: UpsertConfig{
			BatchSize: 20,
			Retention: 180 * 24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			DaysAhead: 14,
			Interval:  12 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8001",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Source.URL = getEnv("SFEVENTS_SOURCE_URL", c.Source.URL)
	c.Extract.HomeCity = getEnv("SFEVENTS_HOME_CITY", c.Extract.HomeCity)
	c.Extract.DefaultYear = getEnvAsInt("SFEVENTS_DEFAULT_YEAR", c.Extract.DefaultYear)
	c.Geocode.BaseURL = getEnv("SFEVENTS_GEOCODE_URL", c.Geocode.BaseURL)
	c.Geocode.Cache.Backend = getEnv("SFEVENTS_GEOCODE_CACHE", c.Geocode.Cache.Backend)
	c.Geocode.Cache.Path = getEnv("SFEVENTS_GEOCODE_CACHE_PATH", c.Geocode.Cache.Path)
	c.Geocode.Cache.RedisAddr = getEnv("SFEVENTS_REDIS_ADDR", c.Geocode.Cache.RedisAddr)
	c.Geocode.Cache.RedisPassword = getEnv("SFEVENTS_REDIS_PASSWORD", c.Geocode.Cache.RedisPassword)
	c.Database.Driver = getEnv("SFEVENTS_DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("SFEVENTS_DATABASE_URL", getEnv("DATABASE_URL", c.Database.URL))
	c.Upsert.BatchSize = getEnvAsInt("SFEVENTS_BATCH_SIZE", c.Upsert.BatchSize)
	c.Pipeline.DaysAhead = getEnvAsInt("SCRAPE_DAYS_AHEAD", c.Pipeline.DaysAhead)
	c.Pipeline.Interval = getEnvAsDuration("SFEVENTS_INTERVAL", c.Pipeline.Interval)
	c.Server.Addr = getEnv("SFEVENTS_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("SFEVENTS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("SFEVENTS_LOG_FORMAT", c.Log.Format)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Source.URL) == "" {
		errs = append(errs, errors.New("source.url is required"))
	}
	if strings.TrimSpace(c.Source.Name) == "" {
		errs = append(errs, errors.New("source.name is required"))
	}
	if c.Upsert.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("upsert.batch_size must be positive, got %d", c.Upsert.BatchSize))
	}
	if c.Upsert.Retention <= 0 {
		errs = append(errs, fmt.Errorf("upsert.retention must be positive, got %s", c.Upsert.Retention))
	}
	if c.Pipeline.DaysAhead < 0 {
		errs = append(errs, fmt.Errorf("pipeline.days_ahead must not be negative, got %d", c.Pipeline.DaysAhead))
	}
	if c.Pipeline.Interval <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.interval must be positive, got %s", c.Pipeline.Interval))
	}
	if c.Geocode.MinInterval < 0 {
		errs = append(errs, fmt.Errorf("geocode.min_interval must not be negative, got %s", c.Geocode.MinInterval))
	}
	if c.Extract.DefaultYear != 0 && (c.Extract.DefaultYear < 2000 || c.Extract.DefaultYear > 2100) {
		errs = append(errs, fmt.Errorf("extract.default_year out of range: %d", c.Extract.DefaultYear))
	}

	switch c.Database.Driver {
	case "postgres", "pgx", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q (want postgres, pgx or memory)", c.Database.Driver))
	}

	switch c.Geocode.Cache.Backend {
	case "file", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown geocode.cache.backend %q (want file, redis or memory)", c.Geocode.Cache.Backend))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
