package app

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/store"
)

// TrackPayload is a streaming-library track as delivered by the web layer.
type TrackPayload struct {
	TrackID          string          `json:"trackId"`
	SoundCloudID     string          `json:"soundcloudId"`
	Title            string          `json:"title,omitempty"`
	Artist           string          `json:"artist,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	PermalinkURL     string          `json:"permalinkUrl,omitempty"`
	ArtworkURL       string          `json:"artworkUrl,omitempty"`
	DurationMS       *int64          `json:"durationMs,omitempty"`
	LikedAt          string          `json:"likedAt,omitempty"`
	PlaylistID       string          `json:"playlistId,omitempty"`
	PlaylistPosition *int64          `json:"playlistPosition,omitempty"`
	Source           string          `json:"source,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// PlaylistPayload is a streaming-library playlist with its tracks.
type PlaylistPayload struct {
	PlaylistID   string          `json:"playlistId"`
	SoundCloudID string          `json:"soundcloudId"`
	Title        string          `json:"title,omitempty"`
	PermalinkURL string          `json:"permalinkUrl,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	TrackCount   *int            `json:"trackCount,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	Source       string          `json:"source,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	Tracks       []TrackPayload  `json:"tracks"`
}

func (p TrackPayload) track() store.TrackRecord {
	return store.TrackRecord{ID: p.TrackID, Title: p.Title, Artist: p.Artist}
}

func (p TrackPayload) source() store.SourceRecord {
	id := p.SoundCloudID
	if id == "" {
		id = p.TrackID
	}
	return store.SourceRecord{
		TrackID:      p.TrackID,
		SoundCloudID: id,
		PermalinkURL: p.PermalinkURL,
		RawPayload:   p.Raw,
	}
}

func (p TrackPayload) query() catalog.TrackQuery {
	return catalog.TrackQuery{TrackID: p.TrackID, Title: p.Title, Artist: p.Artist, Tags: p.Tags}
}

// queryFromSnapshot rebuilds a lookup request from stored data. Tags come
// from the raw streaming payload's tag_list and genre.
func queryFromSnapshot(s *store.LookupSnapshot) catalog.TrackQuery {
	return catalog.TrackQuery{
		TrackID: s.TrackID,
		Title:   s.Title,
		Artist:  s.Artist,
		Tags:    lookupTags(s.RawPayload),
	}
}

// lookupTags splits tag_list on whitespace and appends genre unless it is
// already present.
func lookupTags(raw json.RawMessage) []string {
	var fields struct {
		TagList any `json:"tag_list"`
		Genre   any `json:"genre"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return nil
	}

	var tags []string
	if s, ok := fields.TagList.(string); ok {
		tags = append(tags, strings.Fields(s)...)
	}
	if g, ok := fields.Genre.(string); ok {
		g = strings.TrimSpace(g)
		if g != "" && !slices.Contains(tags, g) {
			tags = append(tags, g)
		}
	}
	return tags
}
