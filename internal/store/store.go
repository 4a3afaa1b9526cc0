// Package store persists tracks, their source links, local file assets and
// per-catalog match state in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sydlexius/crateline/internal/catalog"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Store is the single-writer match store. Every operation holds one mutex
// for its whole transaction.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	poisoned bool
	closed   bool
}

// New wraps an open, migrated database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// withLock runs fn while holding the store lock. A panic inside fn poisons
// the store and is reported as ErrPoisoned instead of crashing the process.
func (s *Store) withLock(op string, fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return fmt.Errorf("%s: %w", op, ErrPoisoned)
	}
	if s.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			s.logger.Error("store operation panicked", slog.String("op", op), slog.Any("panic", r))
			err = fmt.Errorf("%s: %w", op, ErrPoisoned)
		}
	}()

	return fn()
}

// Exclusive runs fn with the store lock held and direct access to the
// database, for backups and maintenance that must not interleave with
// store transactions.
func (s *Store) Exclusive(op string, fn func(db *sql.DB) error) error {
	return s.withLock(op, func() error { return fn(s.db) })
}

// inTx runs fn inside a transaction while holding the store lock.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withLock(op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return dbError(op, fmt.Errorf("beginning transaction: %w", err))
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return dbError(op, err)
		}
		if err := tx.Commit(); err != nil {
			return dbError(op, fmt.Errorf("committing transaction: %w", err))
		}
		return nil
	})
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// tables holds the table and column names for one catalog.
type tables struct {
	matches    string
	candidates string
	releaseCol string
	confCol    string
	payloadCol string
}

func tablesFor(name catalog.Name) (tables, error) {
	switch name {
	case catalog.NameDiscogs:
		return tables{
			matches:    "discogs_matches",
			candidates: "discogs_candidates",
			releaseCol: "discogs_release_id",
			confCol:    "discogs_confidence",
			payloadCol: "discogs_payload",
		}, nil
	case catalog.NameMusicBrainz:
		return tables{
			matches:    "musicbrainz_matches",
			candidates: "musicbrainz_candidates",
			releaseCol: "musicbrainz_release_id",
			confCol:    "musicbrainz_confidence",
			payloadCol: "musicbrainz_payload",
		}, nil
	}
	return tables{}, fmt.Errorf("unknown catalog %q", name)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// rawJSON normalizes an optional JSON payload for storage. Empty payloads
// are stored as JSON null so NOT NULL columns stay satisfied.
func rawJSON(op string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	if !json.Valid(raw) {
		return "", serializationError(op, fmt.Errorf("invalid JSON payload"))
	}
	return string(raw), nil
}
