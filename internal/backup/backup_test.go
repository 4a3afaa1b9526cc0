package backup

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sydlexius/crateline/internal/database"
	"github.com/sydlexius/crateline/internal/store"
)

func setupService(t *testing.T, retention int) (*Service, *store.Store) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "crateline.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db, logger)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	if err := st.UpsertTrack(context.Background(), store.TrackRecord{ID: "sc:1", Title: "Jaguar"}); err != nil {
		t.Fatalf("UpsertTrack: %v", err)
	}

	svc := NewService(st, filepath.Join(t.TempDir(), "backups"), retention, logger)
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, st
}

func TestBackup(t *testing.T) {
	svc, _ := setupService(t, 7)

	info, err := svc.Backup(context.Background())
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if info.Filename != "crateline-20240501-100001.db" || info.Size == 0 {
		t.Errorf("info = %+v", info)
	}

	db, err := sql.Open("sqlite", info.Path)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer db.Close() //nolint:errcheck

	var title string
	if err := db.QueryRowContext(context.Background(), `SELECT title FROM tracks WHERE id = 'sc:1'`).Scan(&title); err != nil {
		t.Fatalf("querying backup: %v", err)
	}
	if title != "Jaguar" {
		t.Errorf("title = %q", title)
	}
}

func TestBackup_ClosedStore(t *testing.T) {
	svc, st := setupService(t, 7)
	st.Close() //nolint:errcheck
	if _, err := svc.Backup(context.Background()); err == nil {
		t.Fatal("expected error from closed store")
	}
}

func TestListAndPrune(t *testing.T) {
	svc, _ := setupService(t, 2)
	ctx := context.Background()

	for range 4 {
		if _, err := svc.Backup(ctx); err != nil {
			t.Fatalf("Backup: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(svc.Dir(), "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	list, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("List = %d entries, want 4", len(list))
	}
	if !list[0].CreatedAt.After(list[3].CreatedAt) {
		t.Errorf("List not newest first: %v, %v", list[0].CreatedAt, list[3].CreatedAt)
	}

	removed, err := svc.Prune()
	if err != nil || removed != 2 {
		t.Fatalf("Prune = %d, %v, want 2", removed, err)
	}
	list, _ = svc.List()
	if len(list) != 2 || list[0].Filename != "crateline-20240501-100004.db" {
		t.Errorf("after prune = %+v", list)
	}
	if _, err := os.Stat(filepath.Join(svc.Dir(), "notes.txt")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestPrune_KeepAll(t *testing.T) {
	svc, _ := setupService(t, 0)
	for range 3 {
		if _, err := svc.Backup(context.Background()); err != nil {
			t.Fatalf("Backup: %v", err)
		}
	}
	if removed, err := svc.Prune(); err != nil || removed != 0 {
		t.Errorf("Prune = %d, %v", removed, err)
	}
}

func TestList_MissingDir(t *testing.T) {
	svc, _ := setupService(t, 1)
	list, err := svc.List()
	if err != nil || list != nil {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestRun(t *testing.T) {
	svc, _ := setupService(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx, 10*time.Millisecond)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if list, _ := svc.List(); len(list) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	list, err := svc.List()
	if err != nil || len(list) == 0 {
		t.Errorf("List = %d, %v, want a scheduled backup", len(list), err)
	}
}
