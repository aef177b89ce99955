// Package postgres implements store.Store on PostgreSQL through database/sql.
//
// Queries are built with goqu's postgres dialect in prepared mode and executed on
// the standard library handle, so either lib/pq ("postgres") or pgx's stdlib
// adapter ("pgx") can serve as the driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/store"
)

var dialect = goqu.Dialect("postgres")

// Options configures Open
type Options struct {
	Driver       string // "postgres" (lib/pq) or "pgx"
	URL          string
	MaxOpenConns int
	// ConnectTimeout bounds the connection retries. Defaults to 30s.
	ConnectTimeout time.Duration
}

// Store is a PostgreSQL-backed store.Store
type Store struct {
	db *sql.DB
}

// Open connects and verifies the connection, retrying with exponential backoff.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout

	attempt := 0
	err = backoff.RetryNotify(
		func() error {
			attempt++
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			logger.Warn("database connection attempt failed", logger.Fields{
				"attempt": attempt,
				"error":   err.Error(),
				"retry":   next.String(),
			})
		},
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return New(db), nil
}

// New wraps an open handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &session{tx: tx}, nil
}

func (s *Store) VenueCoordinates(ctx context.Context) (map[store.VenueKey]store.Coordinates, error) {
	query, args, err := dialect.From("venues").
		Select("name", "city", "latitude", "longitude", "display_name", "is_approximate").
		Where(goqu.C("latitude").IsNotNull(), goqu.C("longitude").IsNotNull()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building venue query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying venue coordinates: %w", err)
	}
	defer rows.Close()

	out := make(map[store.VenueKey]store.Coordinates)
	for rows.Next() {
		var (
			key  store.VenueKey
			c    store.Coordinates
			name sql.NullString
		)
		if err := rows.Scan(&key.Name, &key.City, &c.Lat, &c.Lon, &name, &c.Approximate); err != nil {
			return nil, fmt.Errorf("scanning venue coordinates: %w", err)
		}
		c.DisplayName = name.String
		out[key] = c
	}
	return out, rows.Err()
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := dialect.Delete("events").
		Where(goqu.C("date").Lt(cutoff)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building delete query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting old events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) count(ctx context.Context, table string, where ...goqu.Expression) (int64, error) {
	query, args, err := dialect.From(table).
		Select(goqu.COUNT("*")).
		Where(where...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	var (
		c   store.Counts
		err error
	)
	if c.Events, err = s.count(ctx, "events"); err != nil {
		return c, err
	}
	if c.VisibleEvents, err = s.count(ctx, "events", goqu.C("hidden").IsFalse()); err != nil {
		return c, err
	}
	if c.Venues, err = s.count(ctx, "venues"); err != nil {
		return c, err
	}
	if c.TBAVenues, err = s.count(ctx, "venues", goqu.C("is_tba").IsTrue()); err != nil {
		return c, err
	}
	if c.Genres, err = s.count(ctx, "genres"); err != nil {
		return c, err
	}
	if c.Promoters, err = s.count(ctx, "promoters"); err != nil {
		return c, err
	}

	query, args, err := dialect.From("events").
		Select(goqu.MIN("date"), goqu.MAX("date")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return c, fmt.Errorf("building date range query: %w", err)
	}
	var first, last sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&first, &last); err != nil {
		return c, fmt.Errorf("querying date range: %w", err)
	}
	c.EarliestDate = dateOrNil(first)
	c.LatestDate = dateOrNil(last)

	return c, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// dateOrNil normalizes a DATE column to UTC midnight.
func dateOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	y, m, d := t.Time.Date()
	out := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &out
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
