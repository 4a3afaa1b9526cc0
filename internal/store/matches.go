package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sydlexius/crateline/internal/catalog"
)

// MatchStatus is the persisted state of a catalog match. A track with no
// match row for a catalog has never been looked up there.
type MatchStatus string

// Match states.
const (
	StatusSuccess   MatchStatus = "success"
	StatusAmbiguous MatchStatus = "ambiguous"
	StatusError     MatchStatus = "error"
)

// ParseStatus maps a stored string onto a MatchStatus; unknown values are
// treated as errors.
func ParseStatus(s string) MatchStatus {
	switch MatchStatus(s) {
	case StatusSuccess, StatusAmbiguous:
		return MatchStatus(s)
	}
	return StatusError
}

// MatchRecord is one catalog match row.
type MatchRecord struct {
	TrackID    string      `json:"track_id"`
	Status     MatchStatus `json:"status"`
	ReleaseID  string      `json:"release_id,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	Query      string      `json:"query,omitempty"`
	Message    string      `json:"message,omitempty"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// CandidateRecord is one release offered for a match.
type CandidateRecord struct {
	ReleaseID  string          `json:"release_id,omitempty"`
	Score      *float64        `json:"score,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload"`
}

func (m MatchRecord) validate(candidates []CandidateRecord) error {
	switch m.Status {
	case StatusSuccess:
		if m.ReleaseID == "" || m.Confidence == nil {
			return fmt.Errorf("%w: success requires release id and confidence", ErrInvalidMatch)
		}
	case StatusAmbiguous:
		if m.ReleaseID != "" || m.Confidence != nil {
			return fmt.Errorf("%w: ambiguous match cannot carry a release or confidence", ErrInvalidMatch)
		}
	case StatusError:
		if m.ReleaseID != "" || m.Confidence != nil {
			return fmt.Errorf("%w: error match cannot carry a release or confidence", ErrInvalidMatch)
		}
		if len(candidates) > 0 {
			return fmt.Errorf("%w: error match cannot carry candidates", ErrInvalidMatch)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMatch, m.Status)
	}
	if m.TrackID == "" {
		return fmt.Errorf("%w: empty track id", ErrInvalidMatch)
	}
	return nil
}

// RecordMatch replaces the match state of a track for one catalog. In a
// single transaction it ensures the track exists, upserts the match row,
// copies release id and confidence onto the track summary, and replaces
// the candidate set.
func (s *Store) RecordMatch(ctx context.Context, name catalog.Name, m MatchRecord, candidates []CandidateRecord) error {
	tb, err := tablesFor(name)
	if err != nil {
		return fmt.Errorf("recording match: %w", err)
	}
	if err := m.validate(candidates); err != nil {
		return fmt.Errorf("recording %s match for %s: %w", name, m.TrackID, err)
	}
	if m.CheckedAt.IsZero() {
		m.CheckedAt = s.now()
	}

	return s.inTx(ctx, "recording match", func(tx *sql.Tx) error {
		if err := s.ensureTrack(ctx, tx, m.TrackID); err != nil {
			return err
		}
		return s.persistMatch(ctx, tx, tb, m, candidates)
	})
}

// persistMatch writes the match, track summary and candidates. The caller
// owns the transaction.
func (s *Store) persistMatch(ctx context.Context, tx *sql.Tx, tb tables, m MatchRecord, candidates []CandidateRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO `+tb.matches+` (track_id, release_id, confidence, status, query, message, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			release_id = excluded.release_id,
			confidence = excluded.confidence,
			status = excluded.status,
			query = excluded.query,
			message = excluded.message,
			checked_at = excluded.checked_at`,
		m.TrackID, nullString(m.ReleaseID), nullFloat(m.Confidence), string(m.Status),
		nullString(m.Query), nullString(m.Message), formatTime(m.CheckedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", tb.matches, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tracks SET `+tb.releaseCol+` = ?, `+tb.confCol+` = ?, updated_at = ? WHERE id = ?`,
		nullString(m.ReleaseID), nullFloat(m.Confidence), s.timestamp(), m.TrackID,
	)
	if err != nil {
		return fmt.Errorf("updating track summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+tb.candidates+` WHERE match_id = ?`, m.TrackID); err != nil {
		return fmt.Errorf("clearing %s: %w", tb.candidates, err)
	}

	for _, c := range candidates {
		raw, err := rawJSON("recording match", c.RawPayload)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO `+tb.candidates+` (match_id, release_id, score, raw_payload) VALUES (?, ?, ?, ?)`,
			m.TrackID, nullString(c.ReleaseID), nullFloat(c.Score), raw,
		)
		if err != nil {
			return fmt.Errorf("inserting into %s: %w", tb.candidates, err)
		}
	}
	return nil
}

// RecordSuccess stores an accepted release. The release document itself
// becomes the single candidate, scored by its own "score" field when it
// has one and by confidence otherwise.
func (s *Store) RecordSuccess(ctx context.Context, name catalog.Name, trackID, query string, release json.RawMessage, confidence float64) error {
	id := ExtractReleaseID(release)
	if id == "" {
		return fmt.Errorf("recording %s success for %s: %w: release has no id", name, trackID, ErrInvalidMatch)
	}
	score := confidence
	if v, ok := jsonNumberField(release, "score"); ok {
		score = v
	}
	conf := confidence
	return s.RecordMatch(ctx, name, MatchRecord{
		TrackID:    trackID,
		Status:     StatusSuccess,
		ReleaseID:  id,
		Confidence: &conf,
		Query:      query,
	}, []CandidateRecord{{ReleaseID: id, Score: &score, RawPayload: release}})
}

// RecordAmbiguity stores the alternatives offered for a track. Candidates
// without a resolvable release id are dropped.
func (s *Store) RecordAmbiguity(ctx context.Context, name catalog.Name, trackID, query string, candidates []CandidateRecord) error {
	kept := make([]CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		if c.ReleaseID == "" {
			c.ReleaseID = ExtractReleaseID(c.RawPayload)
		}
		if c.ReleaseID == "" {
			continue
		}
		if c.Score == nil {
			if v, ok := jsonNumberField(c.RawPayload, "score"); ok {
				c.Score = &v
			}
		}
		kept = append(kept, c)
	}
	return s.RecordMatch(ctx, name, MatchRecord{
		TrackID: trackID,
		Status:  StatusAmbiguous,
		Query:   query,
	}, kept)
}

// RecordFailure stores a failed lookup with its reason.
func (s *Store) RecordFailure(ctx context.Context, name catalog.Name, trackID, query, reason string) error {
	return s.RecordMatch(ctx, name, MatchRecord{
		TrackID: trackID,
		Status:  StatusError,
		Query:   query,
		Message: reason,
	}, nil)
}

// GetMatch returns the current match row of a track for one catalog.
func (s *Store) GetMatch(ctx context.Context, name catalog.Name, trackID string) (*MatchRecord, error) {
	tb, err := tablesFor(name)
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}

	var m *MatchRecord
	err = s.withLock("getting match", func() error {
		var (
			releaseID, query, message sql.NullString
			conf                      sql.NullFloat64
			status, checkedAt         string
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT release_id, confidence, status, query, message, checked_at
			FROM `+tb.matches+` WHERE track_id = ?`, trackID,
		).Scan(&releaseID, &conf, &status, &query, &message, &checkedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s match for %s: %w", name, trackID, ErrNotFound)
		}
		if err != nil {
			return dbError("getting match", err)
		}
		m = &MatchRecord{
			TrackID:    trackID,
			Status:     ParseStatus(status),
			ReleaseID:  releaseID.String,
			Confidence: floatPtr(conf),
			Query:      query.String,
			Message:    message.String,
			CheckedAt:  parseTime(checkedAt),
		}
		return nil
	})
	return m, err
}

// ListCandidates returns the stored candidates of a track for one catalog,
// best score first with unscored candidates last.
func (s *Store) ListCandidates(ctx context.Context, name catalog.Name, trackID string) ([]CandidateRecord, error) {
	tb, err := tablesFor(name)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	out := []CandidateRecord{}
	err = s.withLock("listing candidates", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT release_id, score, raw_payload FROM `+tb.candidates+`
			WHERE match_id = ?
			ORDER BY score IS NULL, score DESC, rowid ASC`, trackID)
		if err != nil {
			return dbError("listing candidates", err)
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var (
				releaseID sql.NullString
				score     sql.NullFloat64
				raw       string
			)
			if err := rows.Scan(&releaseID, &score, &raw); err != nil {
				return dbError("listing candidates", err)
			}
			out = append(out, CandidateRecord{
				ReleaseID:  releaseID.String,
				Score:      floatPtr(score),
				RawPayload: json.RawMessage(raw),
			})
		}
		return dbError("listing candidates", rows.Err())
	})
	return out, err
}

// ExtractReleaseID reads a release identifier from a catalog document,
// trying "id", "release_id" and "master_id" in that order. String and
// numeric identifiers are both accepted.
func ExtractReleaseID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"id", "release_id", "master_id"} {
		if id := scalarID(fields[key]); id != "" {
			return id
		}
	}
	return ""
}

// scalarID renders a JSON string or number as an identifier.
func scalarID(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		return str
	}
	var num json.Number
	if err := json.Unmarshal(v, &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return num.String()
	}
	return ""
}

func jsonNumberField(raw json.RawMessage, key string) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, false
	}
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return f, true
}

// parseTime accepts the store's own layout, RFC 3339 and SQLite's
// datetime('now') format used by older databases.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// CandidatesFromCatalog converts ranked catalog candidates for storage.
func CandidatesFromCatalog(cands []catalog.Candidate) []CandidateRecord {
	out := make([]CandidateRecord, 0, len(cands))
	for _, c := range cands {
		score := c.Score
		out = append(out, CandidateRecord{
			ReleaseID:  c.ReleaseID,
			Score:      &score,
			RawPayload: c.Raw,
		})
	}
	return out
}
