package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/sf-events/internal/store"
)

func setupMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to create mock database")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func begin(t *testing.T, s *Store, mock sqlmock.Sqlmock) store.Session {
	t.Helper()
	mock.ExpectBegin()
	sess, err := s.Begin(context.Background())
	require.NoError(t, err)
	return sess
}

func TestSession_FindVenue(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "venues" WHERE \(\("name" = \$1\) AND \("city" = \$2\)\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "city", "address", "latitude", "longitude", "display_name",
			"is_approximate", "is_tba", "created_at",
		}).AddRow(3, "Public Works", "San Francisco", nil, 37.7688, -122.4196, "Public Works, Erie St", false, false, created))

	v, err := sess.FindVenue(context.Background(), "Public Works", "San Francisco")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v.ID)
	assert.True(t, v.HasCoordinates())
	assert.InDelta(t, 37.7688, *v.Latitude, 1e-9)
	assert.Nil(t, v.Address)
	require.NotNil(t, v.DisplayName)
	assert.Equal(t, "Public Works, Erie St", *v.DisplayName)
}

func TestSession_FindVenueNotFound(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)

	mock.ExpectQuery(`SELECT .* FROM "venues"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := sess.FindVenue(context.Background(), "Nowhere", "Oakland")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSession_CreateVenue(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)

	mock.ExpectQuery(`INSERT INTO "venues" .* RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	v := &store.Venue{Name: "TBA", City: "San Francisco", IsTBA: true}
	require.NoError(t, sess.CreateVenue(context.Background(), v))
	assert.EqualValues(t, 7, v.ID)
	assert.False(t, v.CreatedAt.IsZero())
}

func TestSession_FindEventUndated(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM "events" WHERE \(\("title" = \$1\) AND \("date" IS NULL\)\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "url", "hidden", "date", "day_label", "time_range", "price",
			"age_restriction", "venue_id", "original_json", "source", "created_at", "updated_at",
		}).AddRow(11, "Mystery Party", "https://x", false, nil, "Sat: Aug 30", nil, "$10", nil, 3, "{}", "19hz", now, now))

	e, err := sess.FindEvent(context.Background(), "Mystery Party", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 11, e.ID)
	assert.Nil(t, e.Date)
	assert.Nil(t, e.TimeRange)
	require.NotNil(t, e.VenueID)
	assert.EqualValues(t, 3, *e.VenueID)
	assert.Equal(t, "$10", *e.Price)
}

func TestSession_FindEventDated(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "events" WHERE \(\("title" = \$1\) AND \("date" = \$2\)\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := sess.FindEvent(context.Background(), "Techno Night", &day)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSession_CreateEventDefaults(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)

	mock.ExpectQuery(`INSERT INTO "events" .* RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))

	e := &store.Event{Title: "Techno Night"}
	require.NoError(t, sess.CreateEvent(context.Background(), e))
	assert.EqualValues(t, 21, e.ID)
	assert.Equal(t, store.DefaultSource, e.Source)
	assert.Equal(t, "{}", e.OriginalJSON)
}

func TestSession_UpdateEventMissing(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)

	mock.ExpectExec(`UPDATE "events" SET .* WHERE \("id" = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := sess.UpdateEvent(context.Background(), 99, store.EventUpdate{URL: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSession_SetEventGenresReplaces(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)

	mock.ExpectExec(`DELETE FROM "event_genres" WHERE \("event_id" = \$1\)`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "event_genres" .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, sess.SetEventGenres(context.Background(), 5, []int64{1, 2}))
}

func TestSession_SetEventPromotersEmpty(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)

	// clearing only, no insert for an empty set
	mock.ExpectExec(`DELETE FROM "event_promoters"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, sess.SetEventPromoters(context.Background(), 5, nil))
}

func TestSession_Savepoints(t *testing.T) {
	s, mock := setupMockDB(t)
	sess := begin(t, s, mock)
	ctx := context.Background()

	mock.ExpectExec(`SAVEPOINT "record"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT "record"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT "record"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, sess.Savepoint(ctx, "record"))
	require.NoError(t, sess.RollbackTo(ctx, "record"))
	require.NoError(t, sess.Release(ctx, "record"))
	require.NoError(t, sess.Commit())
	require.NoError(t, sess.Rollback(), "rollback after commit is a no-op")
}

func TestStore_DeleteEventsBefore(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectExec(`DELETE FROM "events" WHERE \("date" < \$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteEventsBefore(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestStore_VenueCoordinates(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM "venues" WHERE \(\("latitude" IS NOT NULL\) AND \("longitude" IS NOT NULL\)\)`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "city", "latitude", "longitude", "display_name", "is_approximate"}).
			AddRow("Public Works", "San Francisco", 37.77, -122.42, "PW", false).
			AddRow("Somewhere", "Oakland", 37.80, -122.27, nil, true))

	coords, err := s.VenueCoordinates(context.Background())
	require.NoError(t, err)
	assert.Len(t, coords, 2)
	oak := coords[store.VenueKey{Name: "Somewhere", City: "Oakland"}]
	assert.True(t, oak.Approximate)
	assert.Empty(t, oak.DisplayName)
}

func TestStore_Counts(t *testing.T) {
	s, mock := setupMockDB(t)

	for _, n := range []int{10, 8, 4, 1, 6, 3} {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}
	first := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT MIN\("date"\), MAX\("date"\) FROM "events"`).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(first, last))

	c, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 10, c.Events)
	assert.EqualValues(t, 8, c.VisibleEvents)
	assert.EqualValues(t, 4, c.Venues)
	assert.EqualValues(t, 1, c.TBAVenues)
	assert.EqualValues(t, 6, c.Genres)
	assert.EqualValues(t, 3, c.Promoters)
	require.NotNil(t, c.EarliestDate)
	assert.True(t, c.EarliestDate.Equal(first))
	assert.True(t, c.LatestDate.Equal(last))
}

func TestStore_EnsureSchema(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	for range schema {
		mock.ExpectExec(`CREATE (TABLE|INDEX) IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, s.EnsureSchema(context.Background()))
}
