package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sydlexius/crateline/internal/rekordbox"
)

// LibraryIDPrefix prefixes synthetic track ids minted for DJ-library entries.
const LibraryIDPrefix = "rekordbox:"

// SyncSummary reports what a library sync changed.
type SyncSummary struct {
	Imported int `json:"imported"`
	Created  int `json:"created"`
	Removed  int `json:"removed"`
}

// librarySource is the raw record stored for every imported entry.
type librarySource struct {
	rekordbox.Track
	TrackID string `json:"track_id"`
}

// SyncLibraryTracks reconciles the store with a full DJ-library import. It
// reuses previously assigned track ids, mints ids for new entries, refreshes
// metadata, local assets and source payloads, and deletes the tracks of
// entries that disappeared from the library. The whole sync is one
// transaction.
func (s *Store) SyncLibraryTracks(ctx context.Context, tracks []rekordbox.Track) (SyncSummary, error) {
	var sum SyncSummary
	err := s.inTx(ctx, "syncing library tracks", func(tx *sql.Tx) error {
		existing, err := loadMappings(ctx, tx)
		if err != nil {
			return err
		}
		stale := make(map[string]string, len(existing))
		for k, v := range existing {
			stale[k] = v
		}

		now := s.timestamp()
		for _, t := range tracks {
			if t.RekordboxID == "" {
				continue
			}
			trackID, ok := existing[t.RekordboxID]
			if !ok {
				trackID = LibraryIDPrefix + t.RekordboxID
				existing[t.RekordboxID] = trackID
				sum.Created++
			}
			delete(stale, t.RekordboxID)

			if err := s.upsertTrack(ctx, tx, TrackRecord{ID: trackID, Title: t.Title, Artist: t.Artist, Album: t.Album}); err != nil {
				return err
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO rekordbox_mappings (rekordbox_id, track_id, updated_at)
				VALUES (?, ?, ?)
				ON CONFLICT(rekordbox_id) DO UPDATE SET
					track_id = excluded.track_id,
					updated_at = excluded.updated_at`,
				t.RekordboxID, trackID, now)
			if err != nil {
				return fmt.Errorf("upserting mapping %s: %w", t.RekordboxID, err)
			}

			if loc := t.AssetLocation(); loc != "" {
				if err := s.upsertLocalAsset(ctx, tx, LocalAssetRecord{
					TrackID:    trackID,
					Location:   loc,
					Checksum:   t.Checksum,
					Available:  t.Available,
					DurationMS: t.DurationMS,
				}); err != nil {
					return err
				}
			}

			if t.Cues == nil {
				t.Cues = []rekordbox.Cue{}
			}
			raw, err := json.Marshal(librarySource{Track: t, TrackID: trackID})
			if err != nil {
				return serializationError("syncing library tracks", err)
			}
			if err := s.upsertLibrarySource(ctx, tx, trackID, raw); err != nil {
				return err
			}
			sum.Imported++
		}

		for rbID, trackID := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, trackID); err != nil {
				return fmt.Errorf("removing stale track %s: %w", trackID, err)
			}
			// The mapping normally cascades with the track; remove it
			// explicitly in case it pointed at a track that no longer exists.
			if _, err := tx.ExecContext(ctx, `DELETE FROM rekordbox_mappings WHERE rekordbox_id = ?`, rbID); err != nil {
				return fmt.Errorf("removing stale mapping %s: %w", rbID, err)
			}
			sum.Removed++
		}
		return nil
	})
	if err != nil {
		return SyncSummary{}, err
	}
	s.logger.Info("library synced",
		"imported", sum.Imported,
		"created", sum.Created,
		"removed", sum.Removed)
	return sum, nil
}

func loadMappings(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT rekordbox_id, track_id FROM rekordbox_mappings`)
	if err != nil {
		return nil, fmt.Errorf("loading mappings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string)
	for rows.Next() {
		var rbID, trackID string
		if err := rows.Scan(&rbID, &trackID); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		out[rbID] = trackID
	}
	return out, rows.Err()
}
