package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pfrederiksen/sf-events/internal/apperrors"
	"github.com/pfrederiksen/sf-events/internal/event"
	"github.com/pfrederiksen/sf-events/internal/logger"
	"github.com/pfrederiksen/sf-events/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	NominatimURL = "https://nominatim.openstreetmap.org/search"
	UserAgent    = "sf-events/1.0 (github.com/pfrederiksen/sf-events)"
	Timeout      = 10 * time.Second

	DefaultRegion       = "CA"
	DefaultCountryCodes = "us"
	DefaultMinInterval  = time.Second
)

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	BaseURL      string
	UserAgent    string
	Region       string
	CountryCodes string
	// MinInterval is the minimum spacing between outbound requests.
	// Negative disables the limit.
	MinInterval time.Duration
	HTTPClient  *http.Client
	Cache       Cache
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

// Client resolves venues through the cache, then the provider
type Client struct {
	baseURL      string
	userAgent    string
	region       string
	countryCodes string
	httpClient   *http.Client
	cache        Cache
	limiter      *rate.Limiter
	log          *logger.Logger
	metrics      *metrics.Metrics
}

// NewClient creates a geocoding client
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:      opts.BaseURL,
		userAgent:    opts.UserAgent,
		region:       opts.Region,
		countryCodes: opts.CountryCodes,
		httpClient:   opts.HTTPClient,
		cache:        opts.Cache,
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
	if strings.TrimSpace(c.baseURL) == "" {
		c.baseURL = NominatimURL
	}
	if c.userAgent == "" {
		c.userAgent = UserAgent
	}
	if c.region == "" {
		c.region = DefaultRegion
	}
	if c.countryCodes == "" {
		c.countryCodes = DefaultCountryCodes
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: Timeout}
	}
	if c.cache == nil {
		c.cache = NewMemoryCache()
	}
	if c.log == nil {
		c.log = logger.Default()
	}

	interval := opts.MinInterval
	if interval == 0 {
		interval = DefaultMinInterval
	}
	if interval < 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return c
}

// Cache returns the client's cache
func (c *Client) Cache() Cache {
	return c.cache
}

// Flush persists the cache.
func (c *Client) Flush(ctx context.Context) error {
	return c.cache.Flush(ctx)
}

// Resolve finds coordinates for venue in city. It never fails: provider errors degrade
// to the city-center fallback or to a cached no-result.
func (c *Client) Resolve(ctx context.Context, venue, city string) Lookup {
	venue = strings.TrimSpace(venue)
	city = strings.TrimSpace(city)

	if venue == "" || event.IsTBA(venue) {
		c.metrics.IncGeocode("skipped")
		return Lookup{}
	}

	key := Key(venue, city)
	fields := logger.Fields{"venue": venue, "city": city}

	entry, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.WarnErr("geocode cache read failed", fields, err)
	} else if ok {
		c.metrics.IncGeocode("hit")
		return Lookup{Found: entry.Found, Result: entry.Result, Cached: true}
	}

	var lastErr error

	query := c.join(venue, city)
	res, err := c.search(ctx, query)
	if err != nil {
		lastErr = err
		c.log.WarnErr("geocode request failed", logger.Fields{"query": query}, err)
	}
	if res != nil {
		res.Query = query
		c.store(ctx, key, *res)
		c.metrics.IncGeocode("found")
		return Lookup{Found: true, Result: *res, Err: lastErr}
	}

	if city != "" {
		query = c.join(city)
		res, err = c.search(ctx, query)
		if err != nil {
			lastErr = err
			c.log.WarnErr("geocode request failed", logger.Fields{"query": query}, err)
		}
		if res != nil {
			res.Query = query
			res.DisplayName = venue + " (approximate - city center)"
			res.Approximate = true
			c.store(ctx, key, *res)
			c.metrics.IncGeocode("approximate")
			return Lookup{Found: true, Result: *res, Err: lastErr}
		}
	}

	// A cancelled run says nothing about the venue; leave it unattempted.
	if ctx.Err() != nil {
		c.metrics.IncGeocode("error")
		return Lookup{Err: ctx.Err()}
	}

	if err := c.cache.Set(ctx, key, Entry{Found: false, CachedAt: time.Now().UTC()}); err != nil {
		c.log.WarnErr("geocode cache write failed", fields, err)
	}
	if lastErr != nil {
		c.metrics.IncGeocode("error")
	} else {
		c.metrics.IncGeocode("none")
	}
	c.log.Info("no geocode result", fields)
	return Lookup{Err: lastErr}
}

func (c *Client) store(ctx context.Context, key string, res Result) {
	if err := c.cache.Set(ctx, key, Entry{Found: true, Result: res, CachedAt: time.Now().UTC()}); err != nil {
		c.log.WarnErr("geocode cache write failed", logger.Fields{"key": key}, err)
	}
}

// join builds "a, b, <region>" from the non-empty parts.
func (c *Client) join(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(append(out, c.region), ", ")
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// search runs one rate-limited provider query. No match is (nil, nil).
func (c *Client) search(ctx context.Context, query string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Call("geocode", fmt.Errorf("waiting for rate limiter: %w", err))
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("countrycodes", c.countryCodes)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, apperrors.Call("geocode", fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Call("geocode", fmt.Errorf("making request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Call("geocode", fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, apperrors.Call("geocode", fmt.Errorf("parsing response: %w", err))
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, apperrors.Call("geocode", fmt.Errorf("parsing latitude %q: %w", places[0].Lat, err))
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, apperrors.Call("geocode", fmt.Errorf("parsing longitude %q: %w", places[0].Lon, err))
	}

	return &Result{Lat: lat, Lon: lon, DisplayName: places[0].DisplayName}, nil
}
