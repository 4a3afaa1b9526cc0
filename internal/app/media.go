package app

import "context"

// PlaybackState is the player's transport state.
type PlaybackState string

// Playback states.
const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
)

// NowPlaying describes what the web player is currently playing.
type NowPlaying struct {
	State      PlaybackState `json:"state"`
	Title      string        `json:"title,omitempty"`
	Artist     string        `json:"artist,omitempty"`
	Album      string        `json:"album,omitempty"`
	ArtworkURL string        `json:"artworkUrl,omitempty"`
}

// MediaSink receives now-playing updates. Platform integrations (media
// keys, OS media sessions) implement it outside this module.
type MediaSink interface {
	Update(ctx context.Context, np NowPlaying) error
}

// NopMediaSink discards updates.
type NopMediaSink struct{}

// Update implements MediaSink.
func (NopMediaSink) Update(context.Context, NowPlaying) error { return nil }
