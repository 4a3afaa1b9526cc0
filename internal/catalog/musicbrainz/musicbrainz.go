package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/crateline/internal/catalog"
)

const defaultBaseURL = "https://musicbrainz.org/ws/2"

// Options configures the MusicBrainz client.
type Options struct {
	Token      string
	UserAgent  string
	Interval   time.Duration
	Thresholds catalog.Thresholds
	Fetcher    []catalog.FetcherOption
}

// Adapter implements catalog.Client for the MusicBrainz release search.
type Adapter struct {
	fetcher    *catalog.Fetcher
	logger     *slog.Logger
	baseURL    string
	thresholds catalog.Thresholds
}

// New creates a MusicBrainz client with the default base URL.
func New(opts Options, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(opts, logger, defaultBaseURL)
}

// NewWithBaseURL creates a MusicBrainz client with a custom base URL (for testing).
func NewWithBaseURL(opts Options, logger *slog.Logger, baseURL string) *Adapter {
	logger = logger.With(slog.String("catalog", string(catalog.NameMusicBrainz)))

	fetchOpts := opts.Fetcher
	if opts.Token != "" {
		token := opts.Token
		fetchOpts = append([]catalog.FetcherOption{catalog.WithAuthorizer(func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		})}, fetchOpts...)
	}

	th := opts.Thresholds
	if th == (catalog.Thresholds{}) {
		th = catalog.DefaultThresholds()
	}

	return &Adapter{
		fetcher:    catalog.NewFetcher(catalog.NameMusicBrainz, catalog.NewRateLimiter(opts.Interval), opts.UserAgent, logger, fetchOpts...),
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		thresholds: th,
	}
}

// Name returns the catalog name.
func (a *Adapter) Name() catalog.Name { return catalog.NameMusicBrainz }

// BuildQuery renders a Lucene query scoped to whichever of artist and
// recording are known, plus the release when an "album:" tag is present.
// It returns "" when the track has neither title nor artist.
func (a *Adapter) BuildQuery(q catalog.TrackQuery) string {
	title := catalog.NormalizeTerm(q.Title)
	artist := catalog.NormalizeTerm(q.Artist)
	if title == "" && artist == "" {
		return ""
	}

	var parts []string
	if artist != "" {
		parts = append(parts, `artist:"`+escapeLucene(artist)+`"`)
	}
	if title != "" {
		parts = append(parts, `recording:"`+escapeLucene(title)+`"`)
	}
	if album := catalog.AlbumFromTags(q.Tags); album != "" {
		parts = append(parts, `release:"`+escapeLucene(album)+`"`)
	}
	return strings.Join(parts, " AND ")
}

// Lookup searches releases for the track and returns a verdict.
func (a *Adapter) Lookup(ctx context.Context, q catalog.TrackQuery) catalog.Verdict {
	query := a.BuildQuery(q)
	if query == "" {
		return catalog.Failure("", catalog.MsgMissingQuery)
	}

	params := url.Values{
		"query": {query},
		"fmt":   {"json"},
		"limit": {"5"},
	}
	body, err := a.fetcher.Get(ctx, a.baseURL+"/release/?"+params.Encode())
	if err != nil {
		a.logger.Warn("release search failed", slog.String("track_id", q.TrackID), slog.String("error", err.Error()))
		return catalog.Failure(query, err.Error())
	}

	candidates, err := parseCandidates(body)
	if err != nil {
		return catalog.Failure(query, err.Error())
	}
	if len(candidates) == 0 {
		return catalog.Failure(query, "no releases found")
	}

	d := catalog.Decide(candidates, a.thresholds)
	switch d.Outcome {
	case catalog.OutcomeSuccess:
		return catalog.Verdict{
			Outcome:    catalog.OutcomeSuccess,
			Query:      query,
			Release:    d.Best.Raw,
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

func parseCandidates(body []byte) ([]catalog.Candidate, error) {
	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing release search response: %w", err)
	}

	out := make([]catalog.Candidate, 0, len(resp.Releases))
	for _, raw := range resp.Releases {
		var rel Release
		if err := json.Unmarshal(raw, &rel); err != nil || rel.ID == "" {
			continue
		}
		out = append(out, catalog.Candidate{
			ReleaseID: rel.ID,
			Title:     rel.Title,
			Score:     rel.Score,
			Raw:       raw,
		})
	}
	return out, nil
}

var luceneEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeLucene(s string) string {
	return luceneEscaper.Replace(s)
}
