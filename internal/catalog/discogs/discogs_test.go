package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/crateline/internal/catalog"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithBaseURL(Options{
		Token:     "test-token",
		UserAgent: "crateline-test/1.0",
		Interval:  time.Millisecond,
		Fetcher: []catalog.FetcherOption{
			catalog.WithSleep(func(context.Context, time.Duration) error { return nil }),
		},
	}, logger, baseURL)
}

func TestBuildQuery(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	tests := []struct {
		name string
		in   catalog.TrackQuery
		want string
	}{
		{"artist and title", catalog.TrackQuery{Title: " Jaguar ", Artist: "DJ Rolando"}, "DJ Rolando Jaguar"},
		{"artist only", catalog.TrackQuery{Artist: "DJ Rolando"}, "DJ Rolando"},
		{"title only", catalog.TrackQuery{Title: "Jaguar", Artist: " "}, "Jaguar"},
		{"neither", catalog.TrackQuery{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.BuildQuery(tt.in); got != tt.want {
				t.Errorf("BuildQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLookup_TitleOnlyOmitsArtistParam(t *testing.T) {
	var searches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/database/search" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		searches.Add(1)
		q := r.URL.Query()
		if q.Get("q") != "Jaguar" || q.Get("release_title") != "Jaguar" {
			t.Errorf("params: %v", q)
		}
		if q.Has("artist") {
			t.Errorf("artist param sent for title-only track: %v", q)
		}
		w.Write([]byte(`{"results":[{"id":5,"type":"release","title":"Unknown - Other"},{"id":6,"type":"release","title":"Someone - Else"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	v := newTestAdapter(t, srv.URL).Lookup(context.Background(), catalog.TrackQuery{TrackID: "t1", Title: "Jaguar"})
	if searches.Load() != 1 {
		t.Fatalf("search requests = %d, want 1", searches.Load())
	}
	if v.Query != "Jaguar" {
		t.Errorf("Query = %q, want Jaguar", v.Query)
	}
	if v.Message == catalog.MsgMissingQuery {
		t.Errorf("title-only track rejected as missing query")
	}
}

func TestLookup_SuccessFetchesRelease(t *testing.T) {
	var srv *httptest.Server
	var detailCalls atomic.Int32
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Discogs token=test-token" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/database/search":
			q := r.URL.Query()
			if q.Get("type") != "release" || q.Get("per_page") != "5" {
				t.Errorf("unexpected params: %v", q)
			}
			if q.Get("artist") != "DJ Rolando" || q.Get("release_title") != "Jaguar" {
				t.Errorf("field params: %v", q)
			}
			fmt.Fprintf(w, `{"results":[
				{"id":1001,"type":"release","title":"DJ Rolando - Jaguar","resource_url":"%s/releases/1001","year":"1999"},
				{"id":77,"type":"master","title":"DJ Rolando - Jaguar"}
			]}`, srv.URL)
		case "/releases/1001":
			detailCalls.Add(1)
			w.Write([]byte(`{"id":1001,"title":"Jaguar","year":1999}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	v := newTestAdapter(t, srv.URL).Lookup(context.Background(), catalog.TrackQuery{TrackID: "t1", Title: "Jaguar", Artist: "DJ Rolando"})
	if v.Outcome != catalog.OutcomeSuccess {
		t.Fatalf("Outcome = %q (%s), want success", v.Outcome, v.Message)
	}
	if v.ReleaseID != "1001" {
		t.Errorf("ReleaseID = %q, want 1001", v.ReleaseID)
	}
	if v.Confidence != 100 {
		t.Errorf("Confidence = %v, want 100", v.Confidence)
	}
	if detailCalls.Load() != 1 {
		t.Errorf("detail requests = %d, want 1", detailCalls.Load())
	}

	var rel map[string]any
	if err := json.Unmarshal(v.Release, &rel); err != nil {
		t.Fatalf("release payload: %v", err)
	}
	if rel["title"] != "Jaguar" {
		t.Errorf("release title = %v", rel["title"])
	}
}

func TestLookup_DetailFallsBackToReleasesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/database/search":
			w.Write([]byte(`{"results":[{"id":42,"type":"release","title":"A - B","score":97},{"id":43,"type":"release","title":"A - B (Edit)","score":50}]}`)) //nolint:errcheck
		case "/releases/42":
			w.Write([]byte(`{"id":42}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	v := newTestAdapter(t, srv.URL).Lookup(context.Background(), catalog.TrackQuery{Title: "B", Artist: "A"})
	if v.Outcome != catalog.OutcomeSuccess || v.ReleaseID != "42" {
		t.Fatalf("verdict = %q %q (%s)", v.Outcome, v.ReleaseID, v.Message)
	}
	if v.Confidence != 97 {
		t.Errorf("Confidence = %v, want 97", v.Confidence)
	}
}

func TestLookup_DetailFailureIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/database/search" {
			w.Write([]byte(`{"results":[{"id":42,"type":"release","title":"A - B"}]}`)) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := newTestAdapter(t, srv.URL).Lookup(context.Background(), catalog.TrackQuery{Title: "B", Artist: "A"})
	if v.Outcome != catalog.OutcomeFailure {
		t.Fatalf("Outcome = %q, want failure", v.Outcome)
	}
	if !strings.Contains(v.Message, "500") {
		t.Errorf("Message = %q", v.Message)
	}
}

func TestLookup_Ambiguous(t *testing.T) {
	var detailCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/database/search" {
			detailCalls.Add(1)
			return
		}
		w.Write([]byte(`{"results":[
			{"id":1,"type":"release","title":"A - B","score":80},
			{"id":2,"type":"release","title":"A - B (Remix)","score":78},
			{"type":"release","title":"no id"}
		]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	v := newTestAdapter(t, srv.URL).Lookup(context.Background(), catalog.TrackQuery{Title: "B", Artist: "A"})
	if v.Outcome != catalog.OutcomeAmbiguous {
		t.Fatalf("Outcome = %q, want ambiguous", v.Outcome)
	}
	if len(v.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(v.Candidates))
	}
	if detailCalls.Load() != 0 {
		t.Errorf("ambiguous lookup fetched release detail")
	}
}

func TestLookup_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	v := newTestAdapter(t, srv.URL).Lookup(context.Background(), catalog.TrackQuery{Title: "B", Artist: "A"})
	if v.Outcome != catalog.OutcomeFailure || v.Message != "no releases found" {
		t.Errorf("verdict = %q %q", v.Outcome, v.Message)
	}
}

func TestScore_Similarity(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	exact := a.score("A - B", SearchResult{Title: "a - b"})
	if exact != 100 {
		t.Errorf("exact score = %v, want 100", exact)
	}
	far := a.score("Artist - Title", SearchResult{Title: "Completely Different"})
	if far >= exact {
		t.Errorf("dissimilar score %v should be below %v", far, exact)
	}
	given := 64.0
	if got := a.score("x", SearchResult{Title: "y", Score: &given}); got != 64 {
		t.Errorf("explicit score = %v, want 64", got)
	}
}

func TestReleaseIDFromHit(t *testing.T) {
	if got := releaseIDFromHit(SearchResult{ResourceURL: "https://api.discogs.com/releases/555"}); got != "555" {
		t.Errorf("from resource_url = %q", got)
	}
	if got := releaseIDFromHit(SearchResult{ResourceURL: "https://api.discogs.com/releases/"}); got != "" {
		t.Errorf("bad resource_url = %q", got)
	}
}
