package discogs

// Discogs API response types.

// SearchResponse is the top-level response from the database search endpoint.
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	Pagination Pagination     `json:"pagination"`
}

// SearchResult represents a single search hit. Score is only present on
// some proxies and mirrors; the public API omits it.
type SearchResult struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Year        string   `json:"year"`
	Country     string   `json:"country"`
	Thumb       string   `json:"thumb"`
	ResourceURL string   `json:"resource_url"`
	Score       *float64 `json:"score,omitempty"`
}

// Pagination holds pagination info.
type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Items   int `json:"items"`
}
