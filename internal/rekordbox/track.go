// Package rekordbox loads DJ-library collections from either the XML export
// or the binary master database, resolving file locations and probing the
// referenced audio files.
package rekordbox

// Cue is a hot cue or memory point stored with a track.
type Cue struct {
	Number  int    `json:"number"`
	Name    string `json:"name,omitempty"`
	Color   string `json:"color,omitempty"`
	Type    string `json:"type,omitempty"`
	StartMS int64  `json:"start_ms"`
}

// Track is one collection entry with its probed file metadata.
type Track struct {
	RekordboxID    string `json:"rekordbox_id"`
	TrackReference string `json:"track_reference,omitempty"`
	Title          string `json:"title,omitempty"`
	Artist         string `json:"artist,omitempty"`
	Album          string `json:"album,omitempty"`
	Location       string `json:"location,omitempty"`
	NormalizedPath string `json:"normalized_path,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	DurationMS     *int64 `json:"duration_ms,omitempty"`
	Available      bool   `json:"available"`
	Cues           []Cue  `json:"cues"`
}

// AssetLocation is the location recorded for the local file: the raw
// collection location when present, the decoded path otherwise.
func (t Track) AssetLocation() string {
	if t.Location != "" {
		return t.Location
	}
	return t.NormalizedPath
}
