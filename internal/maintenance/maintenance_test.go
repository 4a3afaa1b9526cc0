package maintenance

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/database"
	"github.com/sydlexius/crateline/internal/store"
)

func setupService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "crateline.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db, logger)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return NewService(st, dbPath, logger), st
}

func TestStatus(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := st.UpsertTrack(ctx, store.TrackRecord{ID: id, Title: id}); err != nil {
			t.Fatalf("UpsertTrack: %v", err)
		}
	}
	if err := st.RecordSuccess(ctx, catalog.NameDiscogs, "a", "q", json.RawMessage(`{"id":1}`), 97); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if err := st.RecordFailure(ctx, catalog.NameDiscogs, "b", "q", "no releases found"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.DBFileSize <= 0 || status.PageSize <= 0 || status.PageCount <= 0 {
		t.Errorf("file stats = %+v", status)
	}
	if status.Tracks != 3 {
		t.Errorf("Tracks = %d, want 3", status.Tracks)
	}
	want := map[string]map[string]int64{
		"discogs":     {"success": 1, "error": 1},
		"musicbrainz": {},
	}
	if diff := cmp.Diff(want, status.Matches); diff != "" {
		t.Errorf("match counts mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizeAndVacuum(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	if err := svc.Optimize(ctx); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if err := svc.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	svc, st := setupService(t)
	st.Close() //nolint:errcheck
	if _, err := svc.Status(context.Background()); err == nil {
		t.Error("Status on closed store succeeded")
	}
	if err := svc.Optimize(context.Background()); err == nil {
		t.Error("Optimize on closed store succeeded")
	}
}
