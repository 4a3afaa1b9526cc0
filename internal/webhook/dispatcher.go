// Package webhook forwards bus events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sydlexius/crateline/internal/event"
)

const (
	maxAttempts    = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher delivers events to every webhook that wants them. Deliveries
// run in their own goroutines and retry with exponential backoff.
type Dispatcher struct {
	hooks      []Webhook
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	backoff    time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

// NewDispatcher creates a dispatcher whose deliveries stop when ctx is
// cancelled. A nil httpClient selects one with a 10s timeout.
func NewDispatcher(ctx context.Context, hooks []Webhook, httpClient *http.Client, userAgent string, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Dispatcher{
		hooks:      hooks,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
		backoff:    time.Second,
		ctx:        ctx,
	}
}

// HandleEvent is an event.Handler.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.hooks {
		w := d.hooks[i]
		if !w.Wants(string(e.Type)) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(w, e)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	body, contentType := formatPayload(&w, e)
	logger := d.logger.With(slog.String("webhook", w.Name), slog.String("event", string(e.Type)))

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			t := time.NewTimer(d.backoff << (attempt - 1))
			select {
			case <-d.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}

		lastErr = d.send(w.URL, body, contentType)
		if lastErr == nil {
			logger.Debug("webhook delivered", slog.Int("attempt", attempt+1))
			return
		}
		logger.Warn("webhook delivery failed", slog.Int("attempt", attempt+1), slog.String("error", lastErr.Error()))
	}
	logger.Error("webhook delivery exhausted retries", slog.String("error", lastErr.Error()))
}

func (d *Dispatcher) send(url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(d.ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
