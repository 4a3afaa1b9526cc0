package rekordbox

import (
	"context"
	"encoding/xml"
	"log/slog"
	"math"
	"os"
	"strconv"
)

type xmlRoot struct {
	XMLName    xml.Name       `xml:"DJ_PLAYLISTS"`
	Collection *xmlCollection `xml:"COLLECTION"`
}

type xmlCollection struct {
	Tracks []xmlTrack `xml:"TRACK"`
}

type xmlTrack struct {
	TrackID     string   `xml:"TrackID,attr"`
	Name        string   `xml:"Name,attr"`
	Artist      string   `xml:"Artist,attr"`
	Album       string   `xml:"Album,attr"`
	Location    string   `xml:"Location,attr"`
	RekordboxID string   `xml:"RekordboxID,attr"`
	Marks       []xmlCue `xml:"POSITION_MARK"`
}

type xmlCue struct {
	Num   string `xml:"Num,attr"`
	Name  string `xml:"Name,attr"`
	Color string `xml:"Color,attr"`
	Type  string `xml:"Type,attr"`
	Start string `xml:"Start,attr"`
}

func readXML(ctx context.Context, path string, logger *slog.Logger) ([]Track, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-selected library export
	if err != nil {
		return nil, &Error{Path: path, Kind: KindIO, Err: err}
	}
	defer f.Close() //nolint:errcheck

	var root xmlRoot
	if err := xml.NewDecoder(f).Decode(&root); err != nil {
		return nil, &Error{Path: path, Kind: KindXML, Err: err}
	}
	if root.Collection == nil {
		return nil, nil
	}

	out := make([]Track, 0, len(root.Collection.Tracks))
	for _, entry := range root.Collection.Tracks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := entry.RekordboxID
		if id == "" {
			id = entry.TrackID
		}
		if id == "" {
			logger.Warn("skipping library export track without an identifier",
				slog.String("title", entry.Name))
			continue
		}

		cues := make([]Cue, 0, len(entry.Marks))
		for _, m := range entry.Marks {
			cues = append(cues, Cue{
				Number:  atoiOrZero(m.Num),
				Name:    m.Name,
				Color:   m.Color,
				Type:    m.Type,
				StartMS: secondsToMS(m.Start),
			})
		}

		out = append(out, Track{
			RekordboxID:    id,
			TrackReference: entry.TrackID,
			Title:          entry.Name,
			Artist:         entry.Artist,
			Album:          entry.Album,
			Location:       entry.Location,
			NormalizedPath: decodeLocation(entry.Location),
			Cues:           cues,
		})
	}
	return out, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// secondsToMS converts a fractional-seconds cue position.
func secondsToMS(s string) int64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * 1000))
}
