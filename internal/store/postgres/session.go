package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/pfrederiksen/sf-events/internal/store"
)

var eventColumns = []interface{}{
	"id", "title", "url", "hidden", "date", "day_label", "time_range", "price",
	"age_restriction", "venue_id", "original_json", "source", "created_at", "updated_at",
}

var venueColumns = []interface{}{
	"id", "name", "city", "address", "latitude", "longitude", "display_name",
	"is_approximate", "is_tba", "created_at",
}

// session runs every statement on one transaction
type session struct {
	tx *sql.Tx
}

func (t *session) exec(ctx context.Context, op string, ds interface {
	ToSQL() (string, []interface{}, error)
}) (sql.Result, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building %s query: %w", op, err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (t *session) FindVenue(ctx context.Context, name, city string) (*store.Venue, error) {
	query, args, err := dialect.From("venues").
		Select(venueColumns...).
		Where(goqu.C("name").Eq(name), goqu.C("city").Eq(city)).
		Order(goqu.C("id").Asc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building venue query: %w", err)
	}

	var (
		v                store.Venue
		address, display sql.NullString
		lat, lon         sql.NullFloat64
	)
	err = t.tx.QueryRowContext(ctx, query, args...).Scan(
		&v.ID, &v.Name, &v.City, &address, &lat, &lon, &display,
		&v.IsApproximate, &v.IsTBA, &v.CreatedAt,
	)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding venue: %w", err)
	}

	v.Address = stringOrNil(address)
	v.DisplayName = stringOrNil(display)
	if lat.Valid && lon.Valid {
		v.Latitude, v.Longitude = &lat.Float64, &lon.Float64
	}
	return &v, nil
}

func (t *session) CreateVenue(ctx context.Context, v *store.Venue) error {
	v.CreatedAt = time.Now().UTC()

	query, args, err := dialect.Insert("venues").
		Rows(goqu.Record{
			"name":           v.Name,
			"city":           v.City,
			"address":        nullString(v.Address),
			"latitude":       nullFloat(v.Latitude),
			"longitude":      nullFloat(v.Longitude),
			"display_name":   nullString(v.DisplayName),
			"is_approximate": v.IsApproximate,
			"is_tba":         v.IsTBA,
			"created_at":     v.CreatedAt,
		}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("building venue insert: %w", err)
	}

	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&v.ID); err != nil {
		return fmt.Errorf("creating venue: %w", err)
	}
	return nil
}

func (t *session) SetVenueCoordinates(ctx context.Context, venueID int64, c store.Coordinates) error {
	res, err := t.exec(ctx, "updating venue coordinates", dialect.Update("venues").
		Set(goqu.Record{
			"latitude":       c.Lat,
			"longitude":      c.Lon,
			"display_name":   c.DisplayName,
			"is_approximate": c.Approximate,
		}).
		Where(goqu.C("id").Eq(venueID)).
		Prepared(true))
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *session) findNamed(ctx context.Context, table, name string) (int64, error) {
	query, args, err := dialect.From(table).
		Select("id").
		Where(goqu.C("name").Eq(name)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building %s query: %w", table, err)
	}

	var id int64
	err = t.tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if isNoRows(err) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("finding in %s: %w", table, err)
	}
	return id, nil
}

func (t *session) createNamed(ctx context.Context, table, name string) (int64, error) {
	query, args, err := dialect.Insert(table).
		Rows(goqu.Record{"name": name}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building %s insert: %w", table, err)
	}

	var id int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting into %s: %w", table, err)
	}
	return id, nil
}

func (t *session) FindGenre(ctx context.Context, name string) (*store.Genre, error) {
	id, err := t.findNamed(ctx, "genres", name)
	if err != nil {
		return nil, err
	}
	return &store.Genre{ID: id, Name: name}, nil
}

func (t *session) CreateGenre(ctx context.Context, name string) (*store.Genre, error) {
	id, err := t.createNamed(ctx, "genres", name)
	if err != nil {
		return nil, err
	}
	return &store.Genre{ID: id, Name: name}, nil
}

func (t *session) FindPromoter(ctx context.Context, name string) (*store.Promoter, error) {
	id, err := t.findNamed(ctx, "promoters", name)
	if err != nil {
		return nil, err
	}
	return &store.Promoter{ID: id, Name: name}, nil
}

func (t *session) CreatePromoter(ctx context.Context, name string) (*store.Promoter, error) {
	id, err := t.createNamed(ctx, "promoters", name)
	if err != nil {
		return nil, err
	}
	return &store.Promoter{ID: id, Name: name}, nil
}

func (t *session) FindEvent(ctx context.Context, title string, date *time.Time) (*store.Event, error) {
	dateCond := goqu.C("date").IsNull()
	if date != nil {
		dateCond = goqu.C("date").Eq(*date)
	}

	query, args, err := dialect.From("events").
		Select(eventColumns...).
		Where(goqu.C("title").Eq(title), dateCond).
		Order(goqu.C("id").Asc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building event query: %w", err)
	}

	var (
		e                               store.Event
		eventDate                       sql.NullTime
		dayLabel, timeRange, price, age sql.NullString
		venueID                         sql.NullInt64
	)
	err = t.tx.QueryRowContext(ctx, query, args...).Scan(
		&e.ID, &e.Title, &e.URL, &e.Hidden, &eventDate, &dayLabel, &timeRange, &price,
		&age, &venueID, &e.OriginalJSON, &e.Source, &e.CreatedAt, &e.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding event: %w", err)
	}

	e.Date = dateOrNil(eventDate)
	e.DayLabel = stringOrNil(dayLabel)
	e.TimeRange = stringOrNil(timeRange)
	e.Price = stringOrNil(price)
	e.AgeRestriction = stringOrNil(age)
	if venueID.Valid {
		e.VenueID = &venueID.Int64
	}
	return &e, nil
}

func (t *session) CreateEvent(ctx context.Context, e *store.Event) error {
	if e.Source == "" {
		e.Source = store.DefaultSource
	}
	if e.OriginalJSON == "" {
		e.OriginalJSON = "{}"
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	query, args, err := dialect.Insert("events").
		Rows(goqu.Record{
			"title":           e.Title,
			"url":             e.URL,
			"hidden":          e.Hidden,
			"date":            nullTime(e.Date),
			"day_label":       nullString(e.DayLabel),
			"time_range":      nullString(e.TimeRange),
			"price":           nullString(e.Price),
			"age_restriction": nullString(e.AgeRestriction),
			"venue_id":        nullInt(e.VenueID),
			"original_json":   e.OriginalJSON,
			"source":          e.Source,
			"created_at":      e.CreatedAt,
			"updated_at":      e.UpdatedAt,
		}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("building event insert: %w", err)
	}

	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&e.ID); err != nil {
		return fmt.Errorf("creating event: %w", err)
	}
	return nil
}

func (t *session) UpdateEvent(ctx context.Context, eventID int64, u store.EventUpdate) error {
	res, err := t.exec(ctx, "updating event", dialect.Update("events").
		Set(goqu.Record{
			"url":             u.URL,
			"time_range":      nullString(u.TimeRange),
			"price":           nullString(u.Price),
			"age_restriction": nullString(u.AgeRestriction),
			"venue_id":        nullInt(u.VenueID),
			"updated_at":      time.Now().UTC(),
		}).
		Where(goqu.C("id").Eq(eventID)).
		Prepared(true))
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *session) replaceJoin(ctx context.Context, table, column string, eventID int64, ids []int64) error {
	if _, err := t.exec(ctx, "clearing "+table, dialect.Delete(table).
		Where(goqu.C("event_id").Eq(eventID)).
		Prepared(true)); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, goqu.Record{"event_id": eventID, column: id})
	}
	_, err := t.exec(ctx, "attaching "+table, dialect.Insert(table).
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		Prepared(true))
	return err
}

func (t *session) SetEventGenres(ctx context.Context, eventID int64, genreIDs []int64) error {
	return t.replaceJoin(ctx, "event_genres", "genre_id", eventID, genreIDs)
}

func (t *session) SetEventPromoters(ctx context.Context, eventID int64, promoterIDs []int64) error {
	return t.replaceJoin(ctx, "event_promoters", "promoter_id", eventID, promoterIDs)
}

func (t *session) AddEventLinks(ctx context.Context, eventID int64, links []store.Link) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(links))
	for _, l := range links {
		rows = append(rows, goqu.Record{"event_id": eventID, "text": l.Text, "href": l.Href})
	}
	_, err := t.exec(ctx, "adding event links", dialect.Insert("event_links").Rows(rows...).Prepared(true))
	return err
}

func (t *session) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *session) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *session) Release(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *session) Commit() error {
	return t.tx.Commit()
}

func (t *session) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringOrNil(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
