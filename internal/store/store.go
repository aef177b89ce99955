// Package store defines the normalized entities the pipeline persists and the
// storage contract the upsert engine writes through.
//
// A Store hands out Sessions. A Session is one transaction: the upsert engine opens
// one per batch, wraps each record in a savepoint, and commits at the batch boundary.
// Implementations live in the postgres and memory subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultSource tags events that came from the 19hz listing.
const DefaultSource = "19hz"

// ErrNotFound is returned by Find methods when no row matches the identity key.
var ErrNotFound = errors.New("not found")

// Coordinates is a resolved location attached to a venue
type Coordinates struct {
	Lat         float64
	Lon         float64
	DisplayName string
	Approximate bool
}

// Venue is a place events happen at, identified by (Name, City)
type Venue struct {
	ID            int64
	Name          string
	City          string
	Address       *string
	Latitude      *float64
	Longitude     *float64
	DisplayName   *string
	IsApproximate bool
	IsTBA         bool
	CreatedAt     time.Time
}

// HasCoordinates reports whether the venue has been geocoded.
func (v *Venue) HasCoordinates() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// Coordinates returns the venue's location, or nil before it is geocoded.
func (v *Venue) Coordinates() *Coordinates {
	if !v.HasCoordinates() {
		return nil
	}
	c := &Coordinates{Lat: *v.Latitude, Lon: *v.Longitude, Approximate: v.IsApproximate}
	if v.DisplayName != nil {
		c.DisplayName = *v.DisplayName
	}
	return c
}

// VenueKey is the identity of a venue
type VenueKey struct {
	Name string
	City string
}

type Genre struct {
	ID   int64
	Name string
}

type Promoter struct {
	ID   int64
	Name string
}

// Link is an extra hyperlink on an event
type Link struct {
	ID      int64
	EventID int64
	Text    string
	Href    string
}

// Event is one listing, identified by (Title, Date)
type Event struct {
	ID             int64
	Title          string
	URL            string
	Hidden         bool
	Date           *time.Time // calendar date, UTC midnight
	DayLabel       *string
	TimeRange      *string
	Price          *string
	AgeRestriction *string
	VenueID        *int64
	OriginalJSON   string
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventUpdate carries the fields replaced when an event is seen again.
type EventUpdate struct {
	URL            string
	TimeRange      *string
	Price          *string
	AgeRestriction *string
	VenueID        *int64
}

// Counts summarizes the store's contents
type Counts struct {
	Events        int64      `json:"events"`
	VisibleEvents int64      `json:"visible_events"`
	Venues        int64      `json:"venues"`
	TBAVenues     int64      `json:"tba_venues"`
	Genres        int64      `json:"genres"`
	Promoters     int64      `json:"promoters"`
	EarliestDate  *time.Time `json:"earliest_date,omitempty"`
	LatestDate    *time.Time `json:"latest_date,omitempty"`
}

// Store is the persistent entity store.
type Store interface {
	// Begin opens a write session (one transaction).
	Begin(ctx context.Context) (Session, error)

	// VenueCoordinates returns every geocoded venue's location by identity.
	VenueCoordinates(ctx context.Context) (map[VenueKey]Coordinates, error)

	// DeleteEventsBefore removes dated events strictly older than cutoff.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
	Close() error
}

// Session is one write transaction.
type Session interface {
	FindVenue(ctx context.Context, name, city string) (*Venue, error)
	CreateVenue(ctx context.Context, v *Venue) error
	SetVenueCoordinates(ctx context.Context, venueID int64, c Coordinates) error

	FindGenre(ctx context.Context, name string) (*Genre, error)
	CreateGenre(ctx context.Context, name string) (*Genre, error)
	FindPromoter(ctx context.Context, name string) (*Promoter, error)
	CreatePromoter(ctx context.Context, name string) (*Promoter, error)

	// FindEvent matches title and date exactly; a nil date matches undated events.
	FindEvent(ctx context.Context, title string, date *time.Time) (*Event, error)
	CreateEvent(ctx context.Context, e *Event) error
	UpdateEvent(ctx context.Context, eventID int64, u EventUpdate) error
	// SetEventGenres replaces the event's genre set.
	SetEventGenres(ctx context.Context, eventID int64, genreIDs []int64) error
	// SetEventPromoters replaces the event's promoter set.
	SetEventPromoters(ctx context.Context, eventID int64, promoterIDs []int64) error
	AddEventLinks(ctx context.Context, eventID int64, links []Link) error

	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	Commit() error
	Rollback() error
}
