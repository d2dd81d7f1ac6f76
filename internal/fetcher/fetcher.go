package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/warsite/contentpipe/internal/models"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 10 << 20
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Fetcher turns a source into a finite list of raw candidates.
type Fetcher interface {
	Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error)
}

// FetchError reports that a source could not be fetched at all.
type FetchError struct {
	SourceID string
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch source %s (%s): %v", e.SourceID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(source models.Source, err error) *FetchError {
	return &FetchError{SourceID: source.ID, URL: source.URL, Err: err}
}

// Registry dispatches to a Fetcher by source kind.
type Registry struct {
	fetchers map[models.SourceKind]Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[models.SourceKind]Fetcher)}
}

// Register sets the fetcher for a kind, replacing any previous one.
func (r *Registry) Register(kind models.SourceKind, f Fetcher) {
	r.fetchers[kind] = f
}

// Fetch implements Fetcher.
func (r *Registry) Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error) {
	f, ok := r.fetchers[source.Kind]
	if !ok {
		return nil, newFetchError(source, fmt.Errorf("no fetcher registered for kind %q", source.Kind))
	}
	return f.Fetch(ctx, source)
}

type limitKey struct{}

// WithLimit returns a context asking fetchers to yield at most n candidates.
func WithLimit(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, limitKey{}, n)
}

// Limit returns the candidate cap carried by ctx, or fallback when none is set.
func Limit(ctx context.Context, fallback int) int {
	if n, ok := ctx.Value(limitKey{}).(int); ok && n > 0 {
		return n
	}
	return fallback
}

// LinkLookup reports whether an item with the canonical link is already stored.
type LinkLookup interface {
	ExistsByLink(ctx context.Context, link string) (bool, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// httpGet downloads a URL with a browser user agent and returns the body.
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return body, nil
}
