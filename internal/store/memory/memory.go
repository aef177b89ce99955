// Package memory is an in-process store.Store. It backs dry runs and tests.
//
// A session works on a private copy of the data that replaces the shared copy on
// Commit. Savepoints are further copies, so rolling back to one is a pointer swap.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pfrederiksen/sf-events/internal/store"
)

var errSessionDone = errors.New("memory: session already committed or rolled back")

type data struct {
	nextID         int64
	venues         map[int64]store.Venue
	genres         map[int64]store.Genre
	promoters      map[int64]store.Promoter
	events         map[int64]store.Event
	eventGenres    map[int64][]int64
	eventPromoters map[int64][]int64
	links          map[int64][]store.Link
}

func newData() *data {
	return &data{
		venues:         make(map[int64]store.Venue),
		genres:         make(map[int64]store.Genre),
		promoters:      make(map[int64]store.Promoter),
		events:         make(map[int64]store.Event),
		eventGenres:    make(map[int64][]int64),
		eventPromoters: make(map[int64][]int64),
		links:          make(map[int64][]store.Link),
	}
}

// clone copies every table. Entity pointer fields are replaced, never written
// through, so copying the structs is enough.
func (d *data) clone() *data {
	c := newData()
	c.nextID = d.nextID
	for k, v := range d.venues {
		c.venues[k] = v
	}
	for k, v := range d.genres {
		c.genres[k] = v
	}
	for k, v := range d.promoters {
		c.promoters[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.eventGenres {
		c.eventGenres[k] = append([]int64(nil), v...)
	}
	for k, v := range d.eventPromoters {
		c.eventPromoters[k] = append([]int64(nil), v...)
	}
	for k, v := range d.links {
		c.links[k] = append([]store.Link(nil), v...)
	}
	return c
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

func (d *data) deleteEvent(id int64) {
	delete(d.events, id)
	delete(d.eventGenres, id)
	delete(d.eventPromoters, id)
	delete(d.links, id)
}

// Store is a store.Store held in memory
type Store struct {
	writer sync.Mutex // held by the open session
	mu     sync.RWMutex
	d      *data
	now    func() time.Time
}

// New creates an empty Store
func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

// Begin opens a session. It blocks while another session is open.
func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writer.Lock()

	s.mu.RLock()
	work := s.d.clone()
	s.mu.RUnlock()

	return &session{s: s, work: work, savepoints: make(map[string]*data)}, nil
}

func (s *Store) VenueCoordinates(_ context.Context) (map[store.VenueKey]store.Coordinates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[store.VenueKey]store.Coordinates)
	for _, v := range s.d.venues {
		if c := v.Coordinates(); c != nil {
			out[store.VenueKey{Name: v.Name, City: v.City}] = *c
		}
	}
	return out, nil
}

func (s *Store) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.writer.Lock()
	defer s.writer.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.d.events {
		if e.Date != nil && e.Date.Before(cutoff) {
			s.d.deleteEvent(id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Counts(_ context.Context) (store.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := store.Counts{
		Events:    int64(len(s.d.events)),
		Venues:    int64(len(s.d.venues)),
		Genres:    int64(len(s.d.genres)),
		Promoters: int64(len(s.d.promoters)),
	}
	for _, e := range s.d.events {
		if !e.Hidden {
			c.VisibleEvents++
		}
		if e.Date == nil {
			continue
		}
		if c.EarliestDate == nil || e.Date.Before(*c.EarliestDate) {
			d := *e.Date
			c.EarliestDate = &d
		}
		if c.LatestDate == nil || e.Date.After(*c.LatestDate) {
			d := *e.Date
			c.LatestDate = &d
		}
	}
	for _, v := range s.d.venues {
		if v.IsTBA {
			c.TBAVenues++
		}
	}
	return c, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Events returns all committed events ordered by ID.
func (s *Store) Events() []store.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Event, 0, len(s.d.events))
	for _, e := range s.d.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Venues returns all committed venues ordered by ID.
func (s *Store) Venues() []store.Venue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Venue, 0, len(s.d.venues))
	for _, v := range s.d.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EventGenres returns the names of an event's genres in attachment order.
func (s *Store) EventGenres(eventID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for _, id := range s.d.eventGenres[eventID] {
		out = append(out, s.d.genres[id].Name)
	}
	return out
}

// EventPromoters returns the names of an event's promoters in attachment order.
func (s *Store) EventPromoters(eventID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for _, id := range s.d.eventPromoters[eventID] {
		out = append(out, s.d.promoters[id].Name)
	}
	return out
}

// EventLinks returns an event's extra links.
func (s *Store) EventLinks(eventID int64) []store.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Link(nil), s.d.links[eventID]...)
}

type session struct {
	s          *Store
	work       *data
	savepoints map[string]*data
	done       bool
}

func (t *session) check() error {
	if t.done {
		return errSessionDone
	}
	return nil
}

func (t *session) FindVenue(_ context.Context, name, city string) (*store.Venue, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var best *store.Venue
	for _, v := range t.work.venues {
		if v.Name == name && v.City == city && (best == nil || v.ID < best.ID) {
			v := v
			best = &v
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *session) CreateVenue(_ context.Context, v *store.Venue) error {
	if err := t.check(); err != nil {
		return err
	}
	v.ID = t.work.id()
	v.CreatedAt = t.s.now().UTC()
	t.work.venues[v.ID] = *v
	return nil
}

func (t *session) SetVenueCoordinates(_ context.Context, venueID int64, c store.Coordinates) error {
	if err := t.check(); err != nil {
		return err
	}
	v, ok := t.work.venues[venueID]
	if !ok {
		return store.ErrNotFound
	}
	lat, lon, name := c.Lat, c.Lon, c.DisplayName
	v.Latitude, v.Longitude, v.DisplayName = &lat, &lon, &name
	v.IsApproximate = c.Approximate
	t.work.venues[venueID] = v
	return nil
}

func (t *session) FindGenre(_ context.Context, name string) (*store.Genre, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, g := range t.work.genres {
		if g.Name == name {
			g := g
			return &g, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *session) CreateGenre(_ context.Context, name string) (*store.Genre, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	g := store.Genre{ID: t.work.id(), Name: name}
	t.work.genres[g.ID] = g
	return &g, nil
}

func (t *session) FindPromoter(_ context.Context, name string) (*store.Promoter, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, p := range t.work.promoters {
		if p.Name == name {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *session) CreatePromoter(_ context.Context, name string) (*store.Promoter, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	p := store.Promoter{ID: t.work.id(), Name: name}
	t.work.promoters[p.ID] = p
	return &p, nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (t *session) FindEvent(_ context.Context, title string, date *time.Time) (*store.Event, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var best *store.Event
	for _, e := range t.work.events {
		if e.Title == title && sameDate(e.Date, date) && (best == nil || e.ID < best.ID) {
			e := e
			best = &e
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *session) CreateEvent(_ context.Context, e *store.Event) error {
	if err := t.check(); err != nil {
		return err
	}
	if e.VenueID != nil {
		if _, ok := t.work.venues[*e.VenueID]; !ok {
			return errors.New("memory: event references missing venue")
		}
	}
	if e.Source == "" {
		e.Source = store.DefaultSource
	}
	now := t.s.now().UTC()
	e.ID = t.work.id()
	e.CreatedAt, e.UpdatedAt = now, now
	t.work.events[e.ID] = *e
	return nil
}

func (t *session) UpdateEvent(_ context.Context, eventID int64, u store.EventUpdate) error {
	if err := t.check(); err != nil {
		return err
	}
	e, ok := t.work.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	if u.VenueID != nil {
		if _, ok := t.work.venues[*u.VenueID]; !ok {
			return errors.New("memory: event references missing venue")
		}
	}
	e.URL = u.URL
	e.TimeRange = u.TimeRange
	e.Price = u.Price
	e.AgeRestriction = u.AgeRestriction
	e.VenueID = u.VenueID
	e.UpdatedAt = t.s.now().UTC()
	t.work.events[eventID] = e
	return nil
}

func (t *session) SetEventGenres(_ context.Context, eventID int64, genreIDs []int64) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.work.events[eventID]; !ok {
		return store.ErrNotFound
	}
	t.work.eventGenres[eventID] = dedupe(genreIDs)
	return nil
}

func (t *session) SetEventPromoters(_ context.Context, eventID int64, promoterIDs []int64) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.work.events[eventID]; !ok {
		return store.ErrNotFound
	}
	t.work.eventPromoters[eventID] = dedupe(promoterIDs)
	return nil
}

// dedupe mirrors the join tables' primary key.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (t *session) AddEventLinks(_ context.Context, eventID int64, links []store.Link) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.work.events[eventID]; !ok {
		return store.ErrNotFound
	}
	for _, l := range links {
		l.ID = t.work.id()
		l.EventID = eventID
		t.work.links[eventID] = append(t.work.links[eventID], l)
	}
	return nil
}

func (t *session) Savepoint(_ context.Context, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	t.savepoints[name] = t.work.clone()
	return nil
}

func (t *session) RollbackTo(_ context.Context, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	sp, ok := t.savepoints[name]
	if !ok {
		return errors.New("memory: no such savepoint " + name)
	}
	// the savepoint survives a rollback to it, as in SQL
	t.work = sp.clone()
	return nil
}

func (t *session) Release(_ context.Context, name string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.savepoints[name]; !ok {
		return errors.New("memory: no such savepoint " + name)
	}
	delete(t.savepoints, name)
	return nil
}

func (t *session) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	t.s.d = t.work
	t.s.mu.Unlock()

	t.done = true
	t.s.writer.Unlock()
	return nil
}

func (t *session) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.writer.Unlock()
	return nil
}
