package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sydlexius/crateline/internal/catalog"
)

func trackSummary(t *testing.T, s *Store, id string) (sql.NullString, sql.NullFloat64) {
	t.Helper()
	var (
		rel  sql.NullString
		conf sql.NullFloat64
	)
	err := s.db.QueryRowContext(context.Background(),
		"SELECT discogs_release_id, discogs_confidence FROM tracks WHERE id = ?", id).Scan(&rel, &conf)
	if err != nil {
		t.Fatalf("reading track summary: %v", err)
	}
	return rel, conf
}

func TestRecordSuccess(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	release := json.RawMessage(`{"id":1001,"title":"Jaguar"}`)
	if err := s.RecordSuccess(ctx, catalog.NameDiscogs, "sc:1", "DJ Rolando Jaguar", release, 92.5); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	m, err := s.GetMatch(ctx, catalog.NameDiscogs, "sc:1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if m.Status != StatusSuccess || m.ReleaseID != "1001" || m.Confidence == nil || *m.Confidence != 92.5 {
		t.Errorf("match = %+v", m)
	}
	if m.Query != "DJ Rolando Jaguar" {
		t.Errorf("Query = %q", m.Query)
	}
	if m.CheckedAt.IsZero() {
		t.Error("CheckedAt not set")
	}

	rel, conf := trackSummary(t, s, "sc:1")
	if rel.String != "1001" || conf.Float64 != 92.5 {
		t.Errorf("summary = %v / %v", rel, conf)
	}

	cands, err := s.ListCandidates(ctx, catalog.NameDiscogs, "sc:1")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 1 || cands[0].ReleaseID != "1001" || *cands[0].Score != 92.5 {
		t.Fatalf("candidates = %+v", cands)
	}
}

func TestRecordSuccess_UsesReleaseScore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	release := json.RawMessage(`{"id":"mbid-1","score":97}`)
	if err := s.RecordSuccess(ctx, catalog.NameMusicBrainz, "t", "q", release, 100); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	cands, err := s.ListCandidates(ctx, catalog.NameMusicBrainz, "t")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 1 || *cands[0].Score != 97 {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestRecordSuccess_ReleaseWithoutID(t *testing.T) {
	s := setupTestStore(t)
	err := s.RecordSuccess(context.Background(), catalog.NameDiscogs, "t", "q", json.RawMessage(`{"title":"x"}`), 90)
	if !errors.Is(err, ErrInvalidMatch) {
		t.Fatalf("expected ErrInvalidMatch, got %v", err)
	}
}

func TestRecordAmbiguity_ReplacesSuccess(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.RecordSuccess(ctx, catalog.NameDiscogs, "t", "q", json.RawMessage(`{"id":5}`), 99); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	err := s.RecordAmbiguity(ctx, catalog.NameDiscogs, "t", "q2", []CandidateRecord{
		{RawPayload: json.RawMessage(`{"id":1,"score":80}`)},
		{RawPayload: json.RawMessage(`{"title":"no id"}`)},
		{ReleaseID: "2", Score: ptr(78.0), RawPayload: json.RawMessage(`{"id":2}`)},
	})
	if err != nil {
		t.Fatalf("RecordAmbiguity: %v", err)
	}

	m, err := s.GetMatch(ctx, catalog.NameDiscogs, "t")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if m.Status != StatusAmbiguous || m.ReleaseID != "" || m.Confidence != nil {
		t.Errorf("match = %+v", m)
	}

	rel, conf := trackSummary(t, s, "t")
	if rel.Valid || conf.Valid {
		t.Errorf("summary not cleared: %v / %v", rel, conf)
	}

	cands, err := s.ListCandidates(ctx, catalog.NameDiscogs, "t")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.ReleaseID)
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids); diff != "" {
		t.Errorf("candidate ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.RecordAmbiguity(ctx, catalog.NameMusicBrainz, "t", "q", []CandidateRecord{{ReleaseID: "a", RawPayload: json.RawMessage(`{}`)}}); err != nil {
		t.Fatalf("RecordAmbiguity: %v", err)
	}
	if err := s.RecordFailure(ctx, catalog.NameMusicBrainz, "t", "q", "rate limited"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	m, err := s.GetMatch(ctx, catalog.NameMusicBrainz, "t")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if m.Status != StatusError || m.Message != "rate limited" {
		t.Errorf("match = %+v", m)
	}
	cands, err := s.ListCandidates(ctx, catalog.NameMusicBrainz, "t")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("error match kept %d candidates", len(cands))
	}
}

func TestRecordMatch_Invariants(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	conf := 90.0

	tests := []struct {
		name  string
		m     MatchRecord
		cands []CandidateRecord
	}{
		{"success without release", MatchRecord{TrackID: "t", Status: StatusSuccess, Confidence: &conf}, nil},
		{"success without confidence", MatchRecord{TrackID: "t", Status: StatusSuccess, ReleaseID: "1"}, nil},
		{"ambiguous with release", MatchRecord{TrackID: "t", Status: StatusAmbiguous, ReleaseID: "1"}, nil},
		{"ambiguous with confidence", MatchRecord{TrackID: "t", Status: StatusAmbiguous, Confidence: &conf}, nil},
		{"error with candidates", MatchRecord{TrackID: "t", Status: StatusError}, []CandidateRecord{{ReleaseID: "1"}}},
		{"unknown status", MatchRecord{TrackID: "t", Status: "pending"}, nil},
		{"empty track", MatchRecord{Status: StatusError}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RecordMatch(ctx, catalog.NameDiscogs, tt.m, tt.cands)
			if !errors.Is(err, ErrInvalidMatch) {
				t.Errorf("expected ErrInvalidMatch, got %v", err)
			}
		})
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM discogs_matches").Scan(&count); err != nil {
		t.Fatalf("counting matches: %v", err)
	}
	if count != 0 {
		t.Errorf("invalid records were persisted: %d rows", count)
	}
}

func TestRecordMatch_AtomicOnFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	old := []CandidateRecord{
		{ReleaseID: "old-1", Score: ptr(70.0), RawPayload: json.RawMessage(`{"id":"old-1"}`)},
		{ReleaseID: "old-2", Score: ptr(60.0), RawPayload: json.RawMessage(`{"id":"old-2"}`)},
	}
	if err := s.RecordAmbiguity(ctx, catalog.NameDiscogs, "t", "first", old); err != nil {
		t.Fatalf("RecordAmbiguity: %v", err)
	}

	// Make the third insert of the replacement set fail after the old
	// candidates were already deleted inside the transaction.
	if _, err := s.db.ExecContext(ctx, `
		CREATE TRIGGER fail_candidate BEFORE INSERT ON discogs_candidates
		WHEN NEW.release_id = 'boom'
		BEGIN SELECT RAISE(ABORT, 'candidate rejected'); END`); err != nil {
		t.Fatalf("creating trigger: %v", err)
	}

	err := s.RecordAmbiguity(ctx, catalog.NameDiscogs, "t", "second", []CandidateRecord{
		{ReleaseID: "new-1", RawPayload: json.RawMessage(`{}`)},
		{ReleaseID: "new-2", RawPayload: json.RawMessage(`{}`)},
		{ReleaseID: "boom", RawPayload: json.RawMessage(`{}`)},
	})
	if err == nil {
		t.Fatal("expected RecordAmbiguity to fail")
	}
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindDatabase {
		t.Errorf("expected database error, got %v", err)
	}

	cands, err := s.ListCandidates(ctx, catalog.NameDiscogs, "t")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.ReleaseID)
	}
	if diff := cmp.Diff([]string{"old-1", "old-2"}, ids); diff != "" {
		t.Errorf("candidates changed by failed write (-want +got):\n%s", diff)
	}

	m, err := s.GetMatch(ctx, catalog.NameDiscogs, "t")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if m.Query != "first" {
		t.Errorf("Query = %q, want first", m.Query)
	}
}

func TestListCandidates_Ordering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RecordAmbiguity(ctx, catalog.NameMusicBrainz, "t", "q", []CandidateRecord{
		{ReleaseID: "unscored-1", RawPayload: json.RawMessage(`{}`)},
		{ReleaseID: "mid", Score: ptr(50.0), RawPayload: json.RawMessage(`{}`)},
		{ReleaseID: "unscored-2", RawPayload: json.RawMessage(`{}`)},
		{ReleaseID: "top", Score: ptr(90.0), RawPayload: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("RecordAmbiguity: %v", err)
	}

	cands, err := s.ListCandidates(ctx, catalog.NameMusicBrainz, "t")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.ReleaseID)
	}
	want := []string{"top", "mid", "unscored-1", "unscored-2"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestListCandidates_NoMatch(t *testing.T) {
	s := setupTestStore(t)
	cands, err := s.ListCandidates(context.Background(), catalog.NameDiscogs, "none")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("candidates = %d, want 0", len(cands))
	}
}

func TestGetMatch_NotFound(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.GetMatch(context.Background(), catalog.NameDiscogs, "none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMatchCascadesWithTrack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.RecordAmbiguity(ctx, catalog.NameDiscogs, "t", "q", []CandidateRecord{{ReleaseID: "1", RawPayload: json.RawMessage(`{}`)}}); err != nil {
		t.Fatalf("RecordAmbiguity: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = 't'"); err != nil {
		t.Fatalf("deleting track: %v", err)
	}

	var matches, cands int
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM discogs_matches").Scan(&matches)  //nolint:errcheck
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM discogs_candidates").Scan(&cands) //nolint:errcheck
	if matches != 0 || cands != 0 {
		t.Errorf("orphans left: %d matches, %d candidates", matches, cands)
	}
}

func TestExtractReleaseID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"id":"abc"}`, "abc"},
		{`{"id":1001}`, "1001"},
		{`{"release_id":"r-2"}`, "r-2"},
		{`{"master_id":77}`, "77"},
		{`{"id":"","release_id":"fallback"}`, "fallback"},
		{`{"title":"none"}`, ""},
		{`[1,2]`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := ExtractReleaseID(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("ExtractReleaseID(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
