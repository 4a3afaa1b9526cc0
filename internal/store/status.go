package store

import (
	"context"
	"database/sql"
	"strings"
)

// Page size bounds for ListStatus.
const (
	DefaultStatusLimit = 100
	MaxStatusLimit     = 500
)

// StatusFilter selects and pages library status rows. Enabled filters are
// combined with AND.
type StatusFilter struct {
	MissingAssetsOnly         bool `json:"missing_assets_only"`
	UnresolvedDiscogsOnly     bool `json:"unresolved_discogs_only"`
	UnresolvedMusicBrainzOnly bool `json:"unresolved_musicbrainz_only"`
	LikedOnly                 bool `json:"liked_only"`
	RekordboxOnly             bool `json:"rekordbox_only"`
	Limit                     int  `json:"limit,omitempty"`
	Offset                    int  `json:"offset,omitempty"`
}

// StatusRow is one track in the library status view.
type StatusRow struct {
	TrackID        string `json:"track_id"`
	Title          string `json:"title,omitempty"`
	Artist         string `json:"artist,omitempty"`
	Album          string `json:"album,omitempty"`
	Liked          bool   `json:"liked"`
	Matched        bool   `json:"matched"`
	HasLocalFile   bool   `json:"has_local_file"`
	LocalAvailable bool   `json:"local_available"`
	InRekordbox    bool   `json:"in_rekordbox"`

	DiscogsStatus     string   `json:"discogs_status,omitempty"`
	DiscogsReleaseID  string   `json:"discogs_release_id,omitempty"`
	DiscogsConfidence *float64 `json:"discogs_confidence,omitempty"`
	DiscogsCheckedAt  string   `json:"discogs_checked_at,omitempty"`
	DiscogsMessage    string   `json:"discogs_message,omitempty"`

	MusicBrainzStatus     string   `json:"musicbrainz_status,omitempty"`
	MusicBrainzReleaseID  string   `json:"musicbrainz_release_id,omitempty"`
	MusicBrainzConfidence *float64 `json:"musicbrainz_confidence,omitempty"`
	MusicBrainzCheckedAt  string   `json:"musicbrainz_checked_at,omitempty"`
	MusicBrainzMessage    string   `json:"musicbrainz_message,omitempty"`

	SoundCloudPermalinkURL string `json:"soundcloud_permalink_url,omitempty"`
	SoundCloudLikedAt      string `json:"soundcloud_liked_at,omitempty"`
	LocalLocation          string `json:"local_location,omitempty"`
}

// StatusPage is one page of status rows plus the unpaged total.
type StatusPage struct {
	Rows   []StatusRow `json:"rows"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

const likedPredicate = "json_extract(ss.raw_payload, '$.likedAt') IS NOT NULL"

const statusFrom = `
	FROM tracks t
	LEFT JOIN soundcloud_sources ss ON ss.track_id = t.id
	LEFT JOIN discogs_matches dm ON dm.track_id = t.id
	LEFT JOIN musicbrainz_matches mb ON mb.track_id = t.id
	LEFT JOIN local_assets la ON la.track_id = t.id
	LEFT JOIN rekordbox_sources rb ON rb.track_id = t.id`

func (f StatusFilter) page() (limit, offset int) {
	limit = f.Limit
	if limit == 0 {
		limit = DefaultStatusLimit
	}
	limit = min(max(limit, 1), MaxStatusLimit)
	offset = max(f.Offset, 0)
	return limit, offset
}

func (f StatusFilter) where() string {
	var conds []string
	if f.MissingAssetsOnly {
		conds = append(conds, "(la.track_id IS NULL OR la.available = 0)")
	}
	if f.UnresolvedDiscogsOnly {
		conds = append(conds, "(dm.track_id IS NULL OR dm.status != 'success' OR dm.release_id IS NULL)")
	}
	if f.UnresolvedMusicBrainzOnly {
		conds = append(conds, "(mb.track_id IS NULL OR mb.status != 'success' OR mb.release_id IS NULL)")
	}
	if f.LikedOnly {
		conds = append(conds, likedPredicate)
	}
	if f.RekordboxOnly {
		conds = append(conds, "rb.track_id IS NOT NULL")
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// ListStatus returns a filtered, paged view of the library ordered by most
// recently updated first, then by id.
func (s *Store) ListStatus(ctx context.Context, f StatusFilter) (*StatusPage, error) {
	limit, offset := f.page()
	where := f.where()
	page := &StatusPage{Rows: []StatusRow{}, Limit: limit, Offset: offset}

	err := s.withLock("listing status", func() error {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+statusFrom+where).Scan(&page.Total); err != nil {
			return dbError("counting status rows", err)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT
				t.id, t.title, t.artist, t.album,
				CASE WHEN `+likedPredicate+` THEN 1 ELSE 0 END,
				CASE WHEN dm.status = 'success' AND dm.release_id IS NOT NULL THEN 1 ELSE 0 END,
				CASE WHEN la.track_id IS NOT NULL THEN 1 ELSE 0 END,
				CASE WHEN la.track_id IS NOT NULL AND la.available = 1 THEN 1 ELSE 0 END,
				CASE WHEN rb.track_id IS NOT NULL THEN 1 ELSE 0 END,
				dm.status, dm.release_id, dm.confidence, dm.checked_at, dm.message,
				mb.status, mb.release_id, mb.confidence, mb.checked_at, mb.message,
				ss.permalink_url,
				json_extract(ss.raw_payload, '$.likedAt'),
				la.location`+statusFrom+where+`
			ORDER BY t.updated_at DESC, t.id ASC
			LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return dbError("listing status", err)
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var (
				r                                     StatusRow
				title, artist, album                  sql.NullString
				liked, matched, hasLocal, avail, inRB int
				dStatus, dRelease, dChecked, dMessage sql.NullString
				mStatus, mRelease, mChecked, mMessage sql.NullString
				permalink, likedAt, location          sql.NullString
				dConf, mConf                          sql.NullFloat64
			)
			if err := rows.Scan(
				&r.TrackID, &title, &artist, &album,
				&liked, &matched, &hasLocal, &avail, &inRB,
				&dStatus, &dRelease, &dConf, &dChecked, &dMessage,
				&mStatus, &mRelease, &mConf, &mChecked, &mMessage,
				&permalink, &likedAt, &location,
			); err != nil {
				return dbError("scanning status row", err)
			}
			r.Title, r.Artist, r.Album = title.String, artist.String, album.String
			r.Liked, r.Matched = liked != 0, matched != 0
			r.HasLocalFile, r.LocalAvailable, r.InRekordbox = hasLocal != 0, avail != 0, inRB != 0
			r.DiscogsStatus, r.DiscogsReleaseID = dStatus.String, dRelease.String
			r.DiscogsConfidence, r.DiscogsCheckedAt, r.DiscogsMessage = floatPtr(dConf), dChecked.String, dMessage.String
			r.MusicBrainzStatus, r.MusicBrainzReleaseID = mStatus.String, mRelease.String
			r.MusicBrainzConfidence, r.MusicBrainzCheckedAt, r.MusicBrainzMessage = floatPtr(mConf), mChecked.String, mMessage.String
			r.SoundCloudPermalinkURL, r.SoundCloudLikedAt, r.LocalLocation = permalink.String, likedAt.String, location.String
			page.Rows = append(page.Rows, r)
		}
		return dbError("listing status", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
