package geocode

import (
	"strings"
	"time"
)

// Result is a resolved coordinate pair
type Result struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	Approximate bool    `json:"approximate"`
	Query       string  `json:"query"`
}

// Entry is what a Cache stores. Found=false is the no-result sentinel; a key that is
// absent from the cache has not been attempted.
type Entry struct {
	Found    bool      `json:"found"`
	Result   Result    `json:"result"`
	CachedAt time.Time `json:"cached_at"`
}

// Lookup is the outcome of one Resolve call.
type Lookup struct {
	Found  bool
	Result Result
	Cached bool
	// Err is the last provider error seen, kept for diagnostics. A Lookup with an
	// Err is still a valid answer (usually Found=false).
	Err error
}

// Key builds the cache key for a venue and city.
func Key(venue, city string) string {
	return strings.TrimSpace(venue) + "|" + strings.TrimSpace(city)
}
