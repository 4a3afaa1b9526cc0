package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
	agents []string
}

func (c *capture) server(t *testing.T, status func(n int) int) *httptest.Server {
	t.Helper()
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.agents = append(c.agents, r.UserAgent())
		c.mu.Unlock()
		w.WriteHeader(status(int(n.Add(1))))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *capture) get(i int) (map[string]any, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[i], c.agents[i]
}

func ok(int) int { return http.StatusOK }

func ambiguous() event.Event {
	return event.Event{
		ID:        "e1",
		Type:      event.DiscogsLookupAmbiguous,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Data: map[string]any{
			"catalog":    "discogs",
			"track_id":   "sc:1",
			"query":      "dj rolando jaguar",
			"candidates": []catalog.Candidate{{ReleaseID: "1"}, {ReleaseID: "2"}},
		},
	}
}

func TestDispatcher_Generic(t *testing.T) {
	var c capture
	srv := c.server(t, ok)

	d := NewDispatcher(context.Background(), []Webhook{{Name: "hook", URL: srv.URL}}, srv.Client(), "crateline/test", testLogger())
	d.HandleEvent(ambiguous())
	d.Wait()

	if c.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", c.count())
	}
	body, agent := c.get(0)
	if body["event"] != "discogs.lookup.ambiguous" || body["id"] != "e1" {
		t.Errorf("body = %v", body)
	}
	if agent != "crateline/test" {
		t.Errorf("User-Agent = %q", agent)
	}
}

func TestDispatcher_FiltersEvents(t *testing.T) {
	var c capture
	srv := c.server(t, ok)

	hooks := []Webhook{
		{Name: "library", URL: srv.URL, Events: []string{string(event.LibraryRefreshed)}},
		{Name: "mb", URL: srv.URL, Events: []string{string(event.MusicBrainzLookupAmbiguous)}},
	}
	d := NewDispatcher(context.Background(), hooks, srv.Client(), "", testLogger())
	d.HandleEvent(ambiguous())
	d.Wait()
	if c.count() != 0 {
		t.Errorf("deliveries = %d, want none", c.count())
	}

	d.HandleEvent(event.Event{Type: event.LibraryRefreshed, Data: map[string]any{"path": "/m.db"}})
	d.Wait()
	if c.count() != 1 {
		t.Errorf("deliveries = %d, want 1", c.count())
	}
}

func TestDispatcher_ChatFormats(t *testing.T) {
	tests := []struct {
		typ   string
		check func(t *testing.T, body map[string]any)
	}{
		{TypeDiscord, func(t *testing.T, body map[string]any) {
			embeds, ok := body["embeds"].([]any)
			if !ok || len(embeds) != 1 {
				t.Fatalf("embeds = %v", body["embeds"])
			}
			embed := embeds[0].(map[string]any)
			if embed["title"] != "crateline: discogs.lookup.ambiguous" {
				t.Errorf("title = %v", embed["title"])
			}
			if !strings.Contains(embed["description"].(string), "2 candidates") {
				t.Errorf("description = %v", embed["description"])
			}
		}},
		{TypeSlack, func(t *testing.T, body map[string]any) {
			if !strings.Contains(body["text"].(string), `sc:1 on discogs: 2 candidates for "dj rolando jaguar"`) {
				t.Errorf("text = %v", body["text"])
			}
		}},
		{TypeGotify, func(t *testing.T, body map[string]any) {
			if body["title"] != "crateline: discogs.lookup.ambiguous" || body["message"] == "" {
				t.Errorf("body = %v", body)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			var c capture
			srv := c.server(t, ok)
			d := NewDispatcher(context.Background(), []Webhook{{Name: tt.typ, URL: srv.URL, Type: tt.typ}}, srv.Client(), "", testLogger())
			d.HandleEvent(ambiguous())
			d.Wait()
			if c.count() != 1 {
				t.Fatalf("deliveries = %d", c.count())
			}
			body, _ := c.get(0)
			tt.check(t, body)
		})
	}
}

func TestDispatcher_Retries(t *testing.T) {
	var c capture
	srv := c.server(t, func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})

	d := NewDispatcher(context.Background(), []Webhook{{Name: "flaky", URL: srv.URL}}, srv.Client(), "", testLogger())
	d.backoff = time.Millisecond
	d.HandleEvent(ambiguous())
	d.Wait()
	if c.count() != 3 {
		t.Errorf("attempts = %d, want 3", c.count())
	}
}

func TestDispatcher_GivesUp(t *testing.T) {
	var c capture
	srv := c.server(t, func(int) int { return http.StatusInternalServerError })

	d := NewDispatcher(context.Background(), []Webhook{{Name: "down", URL: srv.URL}}, srv.Client(), "", testLogger())
	d.backoff = time.Millisecond
	d.HandleEvent(ambiguous())
	d.Wait()
	if c.count() != maxAttempts {
		t.Errorf("attempts = %d, want %d", c.count(), maxAttempts)
	}
}

func TestDispatcher_CancelStopsRetry(t *testing.T) {
	var c capture
	srv := c.server(t, func(int) int { return http.StatusInternalServerError })

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, []Webhook{{Name: "down", URL: srv.URL}}, srv.Client(), "", testLogger())
	d.backoff = time.Hour
	d.HandleEvent(ambiguous())

	deadline := time.Now().Add(2 * time.Second)
	for c.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	d.Wait()
	if c.count() != 1 {
		t.Errorf("attempts = %d, want 1", c.count())
	}
}

func TestWebhookValidate(t *testing.T) {
	tests := []struct {
		hook    Webhook
		wantErr bool
	}{
		{Webhook{Name: "a", URL: "https://example.com/hook"}, false},
		{Webhook{Name: "b", URL: "http://localhost:8080/x", Type: TypeSlack}, false},
		{Webhook{Name: "c", URL: "ftp://example.com"}, true},
		{Webhook{Name: "d", URL: ""}, true},
		{Webhook{Name: "e", URL: "https://example.com", Type: "pager"}, true},
	}
	for _, tt := range tests {
		if err := tt.hook.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) = %v, wantErr %v", tt.hook, err, tt.wantErr)
		}
	}
}

func TestWebhookWants(t *testing.T) {
	all := Webhook{}
	if !all.Wants("anything") {
		t.Error("empty event list should want everything")
	}
	some := Webhook{Events: []string{"library.refreshed"}}
	if some.Wants("discogs.lookup.ambiguous") || !some.Wants("library.refreshed") {
		t.Error("event filter not applied")
	}
}
