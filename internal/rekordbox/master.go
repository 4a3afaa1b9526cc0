package rekordbox

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/sydlexius/crateline/internal/database"
)

// readMaster reads the collection from the binary master database. The
// file is opened read-only and never modified.
func readMaster(ctx context.Context, path string) ([]Track, error) {
	db, err := database.OpenReadOnly(path)
	if err != nil {
		return nil, &Error{Path: path, Kind: KindDatabase, Err: err}
	}
	defer db.Close() //nolint:errcheck

	cues, err := readHotCues(ctx, db)
	if err != nil {
		return nil, &Error{Path: path, Kind: KindDatabase, Err: err}
	}

	rows, err := db.QueryContext(ctx,
		`SELECT ID, TrackID, Title, Artist, Album, FilePath, FolderPath, FileName FROM djmdSong`)
	if err != nil {
		return nil, &Error{Path: path, Kind: KindDatabase, Err: err}
	}
	defer rows.Close() //nolint:errcheck

	var out []Track
	for rows.Next() {
		var (
			id                             int64
			ref, title, artist, album      sql.NullString
			filePath, folderPath, fileName sql.NullString
		)
		if err := rows.Scan(&id, &ref, &title, &artist, &album, &filePath, &folderPath, &fileName); err != nil {
			return nil, &Error{Path: path, Kind: KindDatabase, Err: err}
		}
		loc := resolveLocation(filePath.String, folderPath.String, fileName.String)
		songCues := cues[id]
		if songCues == nil {
			songCues = []Cue{}
		}
		out = append(out, Track{
			RekordboxID:    strconv.FormatInt(id, 10),
			TrackReference: ref.String,
			Title:          title.String,
			Artist:         artist.String,
			Album:          album.String,
			Location:       loc,
			NormalizedPath: decodeLocation(loc),
			Cues:           songCues,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Path: path, Kind: KindDatabase, Err: err}
	}
	return out, nil
}

func readHotCues(ctx context.Context, db *sql.DB) (map[int64][]Cue, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT SongID, HotCueNo, InMsec, Name, Color, Type FROM djmdHotCue`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[int64][]Cue)
	for rows.Next() {
		var (
			songID            int64
			slot              sql.NullInt64
			start             sql.NullInt64
			name, color, kind sql.NullString
		)
		if err := rows.Scan(&songID, &slot, &start, &name, &color, &kind); err != nil {
			return nil, err
		}
		out[songID] = append(out[songID], Cue{
			Number:  int(slot.Int64),
			Name:    name.String,
			Color:   color.String,
			Type:    kind.String,
			StartMS: start.Int64,
		})
	}
	return out, rows.Err()
}
