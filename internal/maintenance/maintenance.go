// Package maintenance reports on and compacts the crateline database.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/sydlexius/crateline/internal/catalog"
)

// Status describes the database file and what it holds.
type Status struct {
	DBFileSize    int64                       `json:"db_file_size"`
	WALFileSize   int64                       `json:"wal_file_size"`
	PageCount     int64                       `json:"page_count"`
	PageSize      int64                       `json:"page_size"`
	FreelistCount int64                       `json:"freelist_count"`
	Tracks        int64                       `json:"tracks"`
	Matches       map[string]map[string]int64 `json:"matches"`
}

// Database gives exclusive access to the live database. *store.Store
// implements it.
type Database interface {
	Exclusive(op string, fn func(db *sql.DB) error) error
}

// Service provides database maintenance operations.
type Service struct {
	db     Database
	dbPath string
	logger *slog.Logger
}

// NewService creates a maintenance service for the database file at dbPath.
func NewService(db Database, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns file sizes, page statistics, the track count and match
// counts per catalog and status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Matches: make(map[string]map[string]int64)}

	if fi, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = fi.Size()
	}
	if fi, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = fi.Size()
	}

	err := s.db.Exclusive("reading database status", func(db *sql.DB) error {
		for _, p := range []struct {
			pragma string
			dst    *int64
		}{
			{"PRAGMA page_count", &st.PageCount},
			{"PRAGMA page_size", &st.PageSize},
			{"PRAGMA freelist_count", &st.FreelistCount},
		} {
			if err := db.QueryRowContext(ctx, p.pragma).Scan(p.dst); err != nil {
				return fmt.Errorf("%s: %w", p.pragma, err)
			}
		}

		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&st.Tracks); err != nil {
			return fmt.Errorf("counting tracks: %w", err)
		}

		for _, name := range catalog.Names() {
			counts, err := matchCounts(ctx, db, string(name)+"_matches")
			if err != nil {
				return err
			}
			st.Matches[string(name)] = counts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func matchCounts(ctx context.Context, db *sql.DB, table string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`) //nolint:gosec // G202: table name comes from catalog.Names
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning %s counts: %w", table, err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Optimize runs PRAGMA optimize followed by a truncating WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	return s.db.Exclusive("optimizing database", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			return fmt.Errorf("PRAGMA optimize: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("WAL checkpoint: %w", err)
		}
		s.logger.Info("optimize complete")
		return nil
	})
}

// Vacuum rebuilds the database file, returning free pages to the OS.
func (s *Service) Vacuum(ctx context.Context) error {
	return s.db.Exclusive("vacuuming database", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("VACUUM: %w", err)
		}
		s.logger.Info("vacuum complete")
		return nil
	})
}
