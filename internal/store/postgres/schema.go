package postgres

import (
	"context"
	"fmt"
)

// schema creates the seven pipeline tables. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS venues (
		id             BIGSERIAL PRIMARY KEY,
		name           TEXT NOT NULL,
		city           TEXT NOT NULL DEFAULT '',
		address        TEXT,
		latitude       DOUBLE PRECISION,
		longitude      DOUBLE PRECISION,
		display_name   TEXT,
		is_approximate BOOLEAN NOT NULL DEFAULT FALSE,
		is_tba         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_venues_name_city ON venues (name, city)`,
	`CREATE TABLE IF NOT EXISTS genres (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS promoters (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id              BIGSERIAL PRIMARY KEY,
		title           TEXT NOT NULL,
		url             TEXT NOT NULL DEFAULT '',
		hidden          BOOLEAN NOT NULL DEFAULT FALSE,
		date            DATE,
		day_label       TEXT,
		time_range      TEXT,
		price           TEXT,
		age_restriction TEXT,
		venue_id        BIGINT REFERENCES venues (id),
		original_json   TEXT NOT NULL DEFAULT '{}',
		source          TEXT NOT NULL DEFAULT '19hz',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_title_date ON events (title, date)`,
	`CREATE INDEX IF NOT EXISTS idx_events_date ON events (date)`,
	`CREATE TABLE IF NOT EXISTS event_links (
		id       BIGSERIAL PRIMARY KEY,
		event_id BIGINT NOT NULL REFERENCES events (id) ON DELETE CASCADE,
		text     TEXT NOT NULL,
		href     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_genres (
		event_id BIGINT NOT NULL REFERENCES events (id) ON DELETE CASCADE,
		genre_id BIGINT NOT NULL REFERENCES genres (id),
		PRIMARY KEY (event_id, genre_id)
	)`,
	`CREATE TABLE IF NOT EXISTS event_promoters (
		event_id    BIGINT NOT NULL REFERENCES events (id) ON DELETE CASCADE,
		promoter_id BIGINT NOT NULL REFERENCES promoters (id),
		PRIMARY KEY (event_id, promoter_id)
	)`,
}

// EnsureSchema creates any missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return tx.Commit()
}
