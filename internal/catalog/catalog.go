// Package catalog defines the shared contract for external release catalogs:
// query inputs, lookup verdicts, the confidence decision rule and the
// rate-limited request protocol used by every catalog client.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Name identifies an external metadata catalog.
type Name string

// Known catalogs.
const (
	NameMusicBrainz Name = "musicbrainz"
	NameDiscogs     Name = "discogs"
)

// Names returns every known catalog in a stable order.
func Names() []Name {
	return []Name{NameMusicBrainz, NameDiscogs}
}

// ParseName validates s as a catalog name.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case NameMusicBrainz, NameDiscogs:
		return Name(s), nil
	}
	return "", fmt.Errorf("unknown catalog %q", s)
}

// TrackQuery is the textual description of a track sent to a catalog.
type TrackQuery struct {
	TrackID string
	Title   string
	Artist  string
	Tags    []string
}

// Outcome is the kind of verdict a lookup produced.
type Outcome string

// Lookup outcomes.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeFailure   Outcome = "failure"
)

// Candidate is one ranked release returned by a catalog search.
type Candidate struct {
	ReleaseID string          `json:"release_id"`
	Title     string          `json:"title,omitempty"`
	Score     float64         `json:"score"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Verdict is the result of a single catalog lookup. Release, ReleaseID and
// Confidence are set for OutcomeSuccess only; Candidates for
// OutcomeAmbiguous only; Message for OutcomeFailure.
type Verdict struct {
	Outcome    Outcome
	Query      string
	Release    json.RawMessage
	ReleaseID  string
	Confidence float64
	Candidates []Candidate
	Message    string
	CheckedAt  time.Time
}

// Failure builds a failure verdict.
func Failure(query, message string) Verdict {
	return Verdict{Outcome: OutcomeFailure, Query: query, Message: message, CheckedAt: time.Now().UTC()}
}

// Client is implemented by every catalog lookup client.
type Client interface {
	// Name returns the catalog identifier.
	Name() Name

	// BuildQuery renders the catalog-specific query string for q. An empty
	// result means the track lacks the title or artist needed to search.
	BuildQuery(q TrackQuery) string

	// Lookup searches the catalog and decides on a verdict. Lookup never
	// returns an error; failures are reported as OutcomeFailure verdicts.
	Lookup(ctx context.Context, q TrackQuery) Verdict
}

// Message used when a track cannot be turned into a query.
const MsgMissingQuery = "missing title or artist"
