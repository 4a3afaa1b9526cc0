package musicbrainz

import "encoding/json"

// MusicBrainz API response types.

// SearchResponse is the top-level response from the release search endpoint.
// Releases are kept raw so the stored payload is exactly what the catalog sent.
type SearchResponse struct {
	Created  string            `json:"created"`
	Count    int               `json:"count"`
	Offset   int               `json:"offset"`
	Releases []json.RawMessage `json:"releases"`
}

// Release is the subset of a release search hit used for ranking.
type Release struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Title   string  `json:"title"`
	Status  string  `json:"status"`
	Date    string  `json:"date"`
	Country string  `json:"country"`
}
