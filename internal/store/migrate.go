package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sydlexius/crateline/internal/catalog"
)

type column struct {
	table string
	name  string
	decl  string
}

// Columns added after the first released schema. Databases created by
// older builds are missing some of them.
var additiveColumns = []column{
	{"local_assets", "duration_ms", "INTEGER"},
	{"tracks", "discogs_payload", "TEXT"},
	{"tracks", "discogs_release_id", "TEXT"},
	{"tracks", "discogs_confidence", "REAL"},
	{"tracks", "musicbrainz_payload", "TEXT"},
	{"tracks", "musicbrainz_release_id", "TEXT"},
	{"tracks", "musicbrainz_confidence", "REAL"},
}

// Migrate brings an existing database up to the current layout: it adds
// missing columns and moves legacy per-track JSON match payloads into the
// normalized match and candidate tables. The whole pass is one transaction.
// Running it again is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	migrated := make(map[catalog.Name]int)
	err := s.inTx(ctx, "migrating", func(tx *sql.Tx) error {
		for _, c := range additiveColumns {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.name, c.decl)
			if _, err := tx.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
				return fmt.Errorf("adding %s.%s: %w", c.table, c.name, err)
			}
		}
		for _, name := range catalog.Names() {
			n, err := s.migrateLegacyPayloads(ctx, tx, name)
			if err != nil {
				return err
			}
			migrated[name] = n
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, name := range catalog.Names() {
		if n := migrated[name]; n > 0 {
			s.logger.Info("migrated legacy match payloads",
				slog.String("catalog", string(name)),
				slog.Int("count", n))
		}
	}
	return nil
}

// isDuplicateColumn reports whether err is SQLite's complaint about an
// ALTER TABLE ADD COLUMN for a column that already exists.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// legacyPayload is the single-column JSON blob older builds stored on the
// track row. The two catalogs wrote slightly different shapes; shape
// records which one was decoded.
type legacyPayload struct {
	shape catalog.Name

	Status     string            `json:"status"`
	Query      string            `json:"query"`
	Reason     string            `json:"reason"`
	Message    string            `json:"message"`
	Confidence *float64          `json:"confidence"`
	ReleaseID  json.RawMessage   `json:"release_id"`
	Release    json.RawMessage   `json:"release"`
	Recording  json.RawMessage   `json:"recording"`
	Match      json.RawMessage   `json:"match"`
	Candidates []json.RawMessage `json:"candidates"`
}

func decodeLegacyPayload(shape catalog.Name, raw string) (legacyPayload, error) {
	p := legacyPayload{shape: shape}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return legacyPayload{shape: shape}, err
	}
	return p, nil
}

func (p legacyPayload) message() string {
	if p.Reason != "" || p.shape == catalog.NameDiscogs {
		return p.Reason
	}
	return p.Message
}

func (p legacyPayload) release() json.RawMessage {
	if len(p.Release) > 0 && string(p.Release) != "null" {
		return p.Release
	}
	if p.shape != catalog.NameMusicBrainz {
		return nil
	}
	for _, alt := range []json.RawMessage{p.Recording, p.Match} {
		if len(alt) > 0 && string(alt) != "null" {
			return alt
		}
	}
	return nil
}

// toMatch converts the blob into a match row and candidate set that
// satisfy the status invariants. A success without a resolvable release
// is downgraded to an error.
func (p legacyPayload) toMatch(trackID string) (MatchRecord, []CandidateRecord) {
	m := MatchRecord{
		TrackID: trackID,
		Status:  ParseStatus(p.Status),
		Query:   p.Query,
		Message: p.message(),
	}

	switch m.Status {
	case StatusSuccess:
		rel := p.release()
		conf := p.Confidence
		if v, ok := jsonNumberField(rel, "score"); ok && p.shape == catalog.NameMusicBrainz {
			conf = &v
		}
		id := ExtractReleaseID(rel)
		if p.shape == catalog.NameMusicBrainz {
			if explicit := scalarID(p.ReleaseID); explicit != "" {
				id = explicit
			}
		}
		if id == "" {
			return MatchRecord{
				TrackID: trackID,
				Status:  StatusError,
				Query:   p.Query,
				Message: "legacy match without release id",
			}, nil
		}
		if conf == nil {
			ceiling := catalog.DefaultThresholds().Ceiling
			conf = &ceiling
		}
		m.ReleaseID, m.Confidence = id, conf

		var cands []CandidateRecord
		if rel != nil {
			score := *conf
			if v, ok := jsonNumberField(rel, "score"); ok {
				score = v
			}
			cands = append(cands, CandidateRecord{ReleaseID: ExtractReleaseID(rel), Score: &score, RawPayload: rel})
		}
		return m, cands

	case StatusAmbiguous:
		var cands []CandidateRecord
		for _, c := range p.Candidates {
			id := ExtractReleaseID(c)
			if id == "" && p.shape == catalog.NameDiscogs {
				continue
			}
			rec := CandidateRecord{ReleaseID: id, RawPayload: c}
			if v, ok := jsonNumberField(c, "score"); ok {
				rec.Score = &v
			}
			cands = append(cands, rec)
		}
		return m, cands

	default:
		return m, nil
	}
}

type legacyRow struct {
	trackID string
	payload string
}

func (s *Store) migrateLegacyPayloads(ctx context.Context, tx *sql.Tx, name catalog.Name) (int, error) {
	tb, err := tablesFor(name)
	if err != nil {
		return 0, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, `+tb.payloadCol+` FROM tracks WHERE `+tb.payloadCol+` IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", tb.payloadCol, err)
	}
	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.trackID, &r.payload); err != nil {
			rows.Close() //nolint:errcheck
			return 0, fmt.Errorf("scanning %s: %w", tb.payloadCol, err)
		}
		pending = append(pending, r)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range pending {
		p, err := decodeLegacyPayload(name, r.payload)
		var (
			m     MatchRecord
			cands []CandidateRecord
		)
		if err != nil {
			s.logger.Warn("unreadable legacy match payload",
				slog.String("catalog", string(name)),
				slog.String("track_id", r.trackID),
				slog.String("error", err.Error()))
			m = MatchRecord{TrackID: r.trackID, Status: StatusError, Message: "unreadable legacy match payload"}
		} else {
			m, cands = p.toMatch(r.trackID)
		}
		m.CheckedAt = s.now()

		if err := s.persistMatch(ctx, tx, tb, m, cands); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tracks SET `+tb.payloadCol+` = NULL WHERE id = ?`, r.trackID); err != nil {
			return 0, fmt.Errorf("clearing %s: %w", tb.payloadCol, err)
		}
	}
	return len(pending), nil
}
