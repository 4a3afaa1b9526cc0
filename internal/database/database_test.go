package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "crateline.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// A second run must be a no-op.
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate (second run): %v", err)
	}

	var fk int
	if err := db.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("reading foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	for _, table := range []string{
		"tracks", "soundcloud_sources", "rekordbox_sources", "local_assets",
		"rekordbox_mappings", "discogs_matches", "discogs_candidates",
		"musicbrainz_matches", "musicbrainz_candidates",
	} {
		var name string
		err := db.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_AdoptsExistingSchema(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "legacy.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE tracks (
		id TEXT PRIMARY KEY, title TEXT, artist TEXT, album TEXT,
		discogs_payload TEXT, created_at TEXT, updated_at TEXT)`); err != nil {
		t.Fatalf("creating legacy table: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO tracks (id, title) VALUES ('t1', 'Song')`); err != nil {
		t.Fatalf("seeding legacy row: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	var title string
	if err := db.QueryRowContext(ctx, "SELECT title FROM tracks WHERE id = 't1'").Scan(&title); err != nil {
		t.Fatalf("reading legacy row: %v", err)
	}
	if title != "Song" {
		t.Errorf("title = %q, want %q", title, "Song")
	}
}

func TestOpenReadOnly_MissingFile(t *testing.T) {
	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
