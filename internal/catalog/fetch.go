package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Request protocol defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryAfter  = 5 * time.Second
	maxResponseBytes   = 2 << 20
)

// Fetcher performs rate-limited GET requests against one catalog and maps
// HTTP statuses onto the typed errors of this package. Throttled responses
// (429 and 503) are retried after the server-provided delay up to
// MaxAttempts in total.
type Fetcher struct {
	catalog     Name
	client      *http.Client
	limiter     *RateLimiter
	logger      *slog.Logger
	userAgent   string
	authorize   func(*http.Request)
	maxAttempts int
	retryAfter  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithAuthorizer sets a hook that adds credentials to every request.
func WithAuthorizer(fn func(*http.Request)) FetcherOption {
	return func(f *Fetcher) { f.authorize = fn }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxAttempts overrides the attempt cap.
func WithMaxAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithSleep replaces the context-aware sleep used between retries (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = fn }
}

// NewFetcher creates a Fetcher for the named catalog.
func NewFetcher(name Name, limiter *RateLimiter, userAgent string, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		catalog:     name,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		logger:      logger,
		userAgent:   userAgent,
		maxAttempts: DefaultMaxAttempts,
		retryAfter:  DefaultRetryAfter,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches reqURL and returns the response body of a 2xx response.
func (f *Fetcher) Get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastDelay time.Duration
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		body, delay, err := f.do(ctx, reqURL)
		if err != nil {
			return nil, err
		}
		if delay < 0 {
			return body, nil
		}

		lastDelay = delay
		if attempt == f.maxAttempts {
			break
		}
		f.logger.Warn("catalog throttled request, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay))
		if err := f.sleep(ctx, delay); err != nil {
			return nil, &ErrUnavailable{Catalog: f.catalog, Cause: err}
		}
	}
	return nil, &ErrRateLimited{Catalog: f.catalog, Attempts: f.maxAttempts, RetryAfter: lastDelay}
}

// do performs a single attempt. A non-negative delay means the request was
// throttled and may be retried after that delay.
func (f *Fetcher) do(ctx context.Context, reqURL string) ([]byte, time.Duration, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, 0, &ErrUnavailable{Catalog: f.catalog, Cause: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	if f.authorize != nil {
		f.authorize(req)
	}

	f.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := f.client.Do(req) //nolint:gosec // URL built from configured base URL
	if err != nil {
		return nil, 0, &ErrUnavailable{Catalog: f.catalog, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, parseRetryAfter(resp.Header.Get("Retry-After"), f.retryAfter), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, 0, &ErrUnauthorized{Catalog: f.catalog, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, 0, &ErrNotFound{Catalog: f.catalog}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, 0, &ErrUnexpectedStatus{Catalog: f.catalog, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, &ErrUnavailable{Catalog: f.catalog, Cause: fmt.Errorf("reading response: %w", err)}
	}
	return body, -1, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, fallback time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UserAgent renders the descriptive agent string catalogs ask clients to send.
func UserAgent(app, version, contact string) string {
	if app == "" {
		app = "crateline"
	}
	if version == "" {
		version = "dev"
	}
	if contact == "" {
		return app + "/" + version
	}
	return fmt.Sprintf("%s/%s (%s)", app, version, contact)
}
