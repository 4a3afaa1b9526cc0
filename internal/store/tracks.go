package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TrackRecord is the canonical identity of a track.
type TrackRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// SourceRecord links a track to its streaming-library origin.
type SourceRecord struct {
	TrackID      string          `json:"track_id"`
	SoundCloudID string          `json:"soundcloud_id"`
	PermalinkURL string          `json:"permalink_url,omitempty"`
	RawPayload   json.RawMessage `json:"raw_payload"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// LocalAssetRecord describes an on-disk audio file for a track. Cues, when
// present, are stored as the track's DJ-library source payload.
type LocalAssetRecord struct {
	TrackID    string          `json:"track_id"`
	Location   string          `json:"location"`
	Checksum   string          `json:"checksum,omitempty"`
	Available  bool            `json:"available"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
	Cues       json.RawMessage `json:"cues,omitempty"`
}

// LookupSnapshot is the stored data needed to rebuild a lookup request.
type LookupSnapshot struct {
	TrackID      string
	Title        string
	Artist       string
	Album        string
	SoundCloudID string
	PermalinkURL string
	RawPayload   json.RawMessage
}

// UpsertTrack inserts a track or updates the descriptive fields of an
// existing one.
func (s *Store) UpsertTrack(ctx context.Context, t TrackRecord) error {
	if t.ID == "" {
		return fmt.Errorf("upserting track: empty id")
	}
	return s.inTx(ctx, "upserting track", func(tx *sql.Tx) error {
		return s.upsertTrack(ctx, tx, t)
	})
}

func (s *Store) upsertTrack(ctx context.Context, tx *sql.Tx, t TrackRecord) error {
	now := s.timestamp()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tracks (id, title, artist, album, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			updated_at = excluded.updated_at`,
		t.ID, nullString(t.Title), nullString(t.Artist), nullString(t.Album), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting track %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) ensureTrack(ctx context.Context, tx *sql.Tx, id string) error {
	now := s.timestamp()
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO tracks (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now)
	if err != nil {
		return fmt.Errorf("ensuring track %s: %w", id, err)
	}
	return nil
}

// LinkSource records the streaming-library origin of a track, creating a
// bare track row first if needed.
func (s *Store) LinkSource(ctx context.Context, src SourceRecord) error {
	if src.TrackID == "" {
		return fmt.Errorf("linking source: empty track id")
	}
	return s.inTx(ctx, "linking source", func(tx *sql.Tx) error {
		if err := s.ensureTrack(ctx, tx, src.TrackID); err != nil {
			return err
		}
		return s.linkSource(ctx, tx, src)
	})
}

func (s *Store) linkSource(ctx context.Context, tx *sql.Tx, src SourceRecord) error {
	raw, err := rawJSON("linking source", src.RawPayload)
	if err != nil {
		return err
	}
	fetched := s.timestamp()
	if !src.FetchedAt.IsZero() {
		fetched = formatTime(src.FetchedAt)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO soundcloud_sources (track_id, soundcloud_id, permalink_url, raw_payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)`,
		src.TrackID, src.SoundCloudID, nullString(src.PermalinkURL), raw, fetched,
	)
	if err != nil {
		return fmt.Errorf("linking source for %s: %w", src.TrackID, err)
	}
	return nil
}

// SyncTrack upserts a track and its source link in one transaction.
func (s *Store) SyncTrack(ctx context.Context, t TrackRecord, src SourceRecord) error {
	if t.ID == "" {
		return fmt.Errorf("syncing track: empty id")
	}
	src.TrackID = t.ID
	return s.inTx(ctx, "syncing track", func(tx *sql.Tx) error {
		if err := s.upsertTrack(ctx, tx, t); err != nil {
			return err
		}
		return s.linkSource(ctx, tx, src)
	})
}

// RecordLocalAsset stores the on-disk file for a track.
func (s *Store) RecordLocalAsset(ctx context.Context, a LocalAssetRecord) error {
	if a.TrackID == "" {
		return fmt.Errorf("recording local asset: empty track id")
	}
	return s.inTx(ctx, "recording local asset", func(tx *sql.Tx) error {
		if err := s.ensureTrack(ctx, tx, a.TrackID); err != nil {
			return err
		}
		if err := s.upsertLocalAsset(ctx, tx, a); err != nil {
			return err
		}
		if len(a.Cues) == 0 {
			return nil
		}
		raw, err := json.Marshal(map[string]json.RawMessage{"cues": a.Cues})
		if err != nil {
			return serializationError("recording local asset", err)
		}
		return s.upsertLibrarySource(ctx, tx, a.TrackID, raw)
	})
}

func (s *Store) upsertLocalAsset(ctx context.Context, tx *sql.Tx, a LocalAssetRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO local_assets (track_id, location, checksum, available, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			location = excluded.location,
			checksum = excluded.checksum,
			available = excluded.available,
			duration_ms = excluded.duration_ms,
			recorded_at = excluded.recorded_at`,
		a.TrackID, a.Location, nullString(a.Checksum), boolToInt(a.Available), nullInt(a.DurationMS), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upserting local asset for %s: %w", a.TrackID, err)
	}
	return nil
}

func (s *Store) upsertLibrarySource(ctx context.Context, tx *sql.Tx, trackID string, raw []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rekordbox_sources (track_id, raw_payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			raw_payload = excluded.raw_payload,
			updated_at = excluded.updated_at`,
		trackID, string(raw), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upserting library source for %s: %w", trackID, err)
	}
	return nil
}

// ListMissingAssets returns the ids of tracks with no local file or whose
// file is unavailable, ordered by id.
func (s *Store) ListMissingAssets(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withLock("listing missing assets", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT t.id FROM tracks t
			LEFT JOIN local_assets la ON la.track_id = t.id
			WHERE la.track_id IS NULL OR la.available = 0
			ORDER BY t.id ASC`)
		if err != nil {
			return dbError("listing missing assets", err)
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return dbError("listing missing assets", err)
			}
			ids = append(ids, id)
		}
		return dbError("listing missing assets", rows.Err())
	})
	return ids, err
}

// LoadLookup returns the stored track and streaming source for trackID.
func (s *Store) LoadLookup(ctx context.Context, trackID string) (*LookupSnapshot, error) {
	var snap *LookupSnapshot
	err := s.withLock("loading lookup", func() error {
		var (
			title, artist, album, scID, permalink, raw sql.NullString
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT t.title, t.artist, t.album, ss.soundcloud_id, ss.permalink_url, ss.raw_payload
			FROM tracks t
			LEFT JOIN soundcloud_sources ss ON ss.track_id = t.id
			WHERE t.id = ?`, trackID,
		).Scan(&title, &artist, &album, &scID, &permalink, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loading lookup for %s: %w", trackID, ErrNotFound)
		}
		if err != nil {
			return dbError("loading lookup", err)
		}
		snap = &LookupSnapshot{
			TrackID:      trackID,
			Title:        title.String,
			Artist:       artist.String,
			Album:        album.String,
			SoundCloudID: scID.String,
			PermalinkURL: permalink.String,
		}
		if raw.Valid {
			snap.RawPayload = json.RawMessage(raw.String)
		}
		return nil
	})
	return snap, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
