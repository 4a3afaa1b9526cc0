package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/sydlexius/crateline/internal/catalog"
)

const defaultBaseURL = "https://api.discogs.com"

// Options configures the Discogs client.
type Options struct {
	Token      string
	UserAgent  string
	Interval   time.Duration
	Thresholds catalog.Thresholds
	Fetcher    []catalog.FetcherOption
}

// Adapter implements catalog.Client for the Discogs database search.
type Adapter struct {
	fetcher    *catalog.Fetcher
	logger     *slog.Logger
	baseURL    string
	thresholds catalog.Thresholds
	similarity *metrics.JaroWinkler
}

// New creates a Discogs client with the default base URL.
func New(opts Options, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(opts, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Discogs client with a custom base URL (for testing).
func NewWithBaseURL(opts Options, logger *slog.Logger, baseURL string) *Adapter {
	logger = logger.With(slog.String("catalog", string(catalog.NameDiscogs)))

	fetchOpts := opts.Fetcher
	if opts.Token != "" {
		token := opts.Token
		fetchOpts = append([]catalog.FetcherOption{catalog.WithAuthorizer(func(r *http.Request) {
			r.Header.Set("Authorization", "Discogs token="+token)
		})}, fetchOpts...)
	}

	th := opts.Thresholds
	if th == (catalog.Thresholds{}) {
		th = catalog.DefaultThresholds()
	}

	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false

	return &Adapter{
		fetcher:    catalog.NewFetcher(catalog.NameDiscogs, catalog.NewRateLimiter(opts.Interval), opts.UserAgent, logger, fetchOpts...),
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		thresholds: th,
		similarity: jw,
	}
}

// Name returns the catalog name.
func (a *Adapter) Name() catalog.Name { return catalog.NameDiscogs }

// BuildQuery renders the free-text query from the non-empty terms of
// "artist title".
func (a *Adapter) BuildQuery(q catalog.TrackQuery) string {
	return strings.Join(terms(q), " ")
}

func terms(q catalog.TrackQuery) []string {
	var out []string
	for _, t := range []string{q.Artist, q.Title} {
		if t = catalog.NormalizeTerm(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Lookup searches releases for the track. An accepted match is followed by
// a second request for the full release document.
func (a *Adapter) Lookup(ctx context.Context, q catalog.TrackQuery) catalog.Verdict {
	query := a.BuildQuery(q)
	if query == "" {
		return catalog.Failure("", catalog.MsgMissingQuery)
	}
	artist := catalog.NormalizeTerm(q.Artist)
	title := catalog.NormalizeTerm(q.Title)

	params := url.Values{
		"q":        {query},
		"type":     {"release"},
		"per_page": {"5"},
	}
	if artist != "" {
		params.Set("artist", artist)
	}
	if title != "" {
		params.Set("release_title", title)
	}
	body, err := a.fetcher.Get(ctx, a.baseURL+"/database/search?"+params.Encode())
	if err != nil {
		a.logger.Warn("database search failed", slog.String("track_id", q.TrackID), slog.String("error", err.Error()))
		return catalog.Failure(query, err.Error())
	}

	candidates, err := a.parseCandidates(body, strings.Join(terms(q), " - "))
	if err != nil {
		return catalog.Failure(query, err.Error())
	}
	if len(candidates) == 0 {
		return catalog.Failure(query, "no releases found")
	}

	d := catalog.Decide(candidates, a.thresholds)
	switch d.Outcome {
	case catalog.OutcomeSuccess:
		release, err := a.fetchRelease(ctx, d.Best)
		if err != nil {
			a.logger.Warn("release fetch failed", slog.String("release_id", d.Best.ReleaseID), slog.String("error", err.Error()))
			return catalog.Failure(query, err.Error())
		}
		return catalog.Verdict{
			Outcome:    catalog.OutcomeSuccess,
			Query:      query,
			Release:    release,
			ReleaseID:  d.Best.ReleaseID,
			Confidence: d.Confidence,
			CheckedAt:  time.Now().UTC(),
		}
	case catalog.OutcomeAmbiguous:
		return catalog.Verdict{
			Outcome:    catalog.OutcomeAmbiguous,
			Query:      query,
			Candidates: d.Candidates,
			CheckedAt:  time.Now().UTC(),
		}
	default:
		return catalog.Failure(query, "no releases found")
	}
}

func (a *Adapter) parseCandidates(body []byte, want string) ([]catalog.Candidate, error) {
	var raw struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	out := make([]catalog.Candidate, 0, len(raw.Results))
	for _, hit := range raw.Results {
		var r SearchResult
		if err := json.Unmarshal(hit, &r); err != nil {
			continue
		}
		if r.Type != "release" || (r.ResourceURL == "" && r.ID == 0) {
			continue
		}
		id := releaseIDFromHit(r)
		if id == "" {
			continue
		}
		score := a.score(want, r)
		out = append(out, catalog.Candidate{
			ReleaseID: id,
			Title:     r.Title,
			Score:     score,
			Raw:       hit,
		})
	}
	return out, nil
}

// score prefers a catalog-supplied score and otherwise rates the hit title
// ("Artist - Title") against the query on a 0-100 scale.
func (a *Adapter) score(want string, r SearchResult) float64 {
	if r.Score != nil && *r.Score > 0 {
		return *r.Score
	}
	sim := strutil.Similarity(want, r.Title, a.similarity)
	return math.Round(sim*1000) / 10
}

func releaseIDFromHit(r SearchResult) string {
	if r.ID != 0 {
		return strconv.Itoa(r.ID)
	}
	u, err := url.Parse(r.ResourceURL)
	if err != nil {
		return ""
	}
	id := path.Base(u.Path)
	if _, err := strconv.Atoi(id); err != nil {
		return ""
	}
	return id
}

func (a *Adapter) fetchRelease(ctx context.Context, best catalog.Candidate) (json.RawMessage, error) {
	var hit SearchResult
	_ = json.Unmarshal(best.Raw, &hit)

	reqURL := hit.ResourceURL
	if reqURL == "" {
		reqURL = fmt.Sprintf("%s/releases/%s", a.baseURL, url.PathEscape(best.ReleaseID))
	}

	body, err := a.fetcher.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("fetching release %s: %w", best.ReleaseID, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("fetching release %s: invalid JSON document", best.ReleaseID)
	}
	return json.RawMessage(body), nil
}
