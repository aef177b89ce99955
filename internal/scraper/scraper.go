package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pfrederiksen/sf-events/internal/apperrors"
)

const (
	ListingURL = "https://19hz.info/eventlisting_BayArea.php"
	UserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	Timeout    = 30 * time.Second

	// maxPageBytes guards against a runaway response body.
	maxPageBytes = 32 << 20
)

// Scraper fetches the raw listing page
type Scraper struct {
	client    *http.Client
	url       string
	userAgent string
}

// New creates a new Scraper for the default listing URL
func New() *Scraper {
	return NewWithOptions(ListingURL, UserAgent, Timeout)
}

// NewWithOptions creates a Scraper for url. Blank values fall back to the defaults.
func NewWithOptions(url, userAgent string, timeout time.Duration) *Scraper {
	if url == "" {
		url = ListingURL
	}
	if userAgent == "" {
		userAgent = UserAgent
	}
	if timeout <= 0 {
		timeout = Timeout
	}
	return &Scraper{
		client:    &http.Client{Timeout: timeout},
		url:       url,
		userAgent: userAgent,
	}
}

// URL returns the listing URL this scraper fetches.
func (s *Scraper) URL() string {
	return s.url
}

// Fetch downloads the listing page. Any failure is fatal for the run.
func (s *Scraper) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, apperrors.Fatal("fetch listing", fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Fatal("fetch listing", fmt.Errorf("fetching page: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Fatal("fetch listing", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, apperrors.Fatal("fetch listing", fmt.Errorf("reading body: %w", err))
	}
	return body, nil
}

// FileSource serves a saved listing page from disk in place of the network.
type FileSource struct {
	Path string
}

// Fetch reads the saved page.
func (f FileSource) Fetch(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, apperrors.Fatal("read listing file", err)
	}
	return b, nil
}
