// Package backup writes point-in-time copies of the crateline database
// and prunes old ones.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

const timeLayout = "20060102-150405"

// backupPattern matches backup filenames: crateline-YYYYMMDD-HHMMSS.db
var backupPattern = regexp.MustCompile(`^crateline-\d{8}-\d{6}\.db$`)

// Info describes a backup file.
type Info struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Source gives exclusive access to the live database. *store.Store
// implements it.
type Source interface {
	Exclusive(op string, fn func(db *sql.DB) error) error
}

// Service creates, lists and prunes backups in one directory.
type Service struct {
	src       Source
	dir       string
	retention int
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a backup service. retention is how many backups
// Prune keeps; zero or less keeps all of them.
func NewService(src Source, dir string, retention int, logger *slog.Logger) *Service {
	return &Service{
		src:       src,
		dir:       dir,
		retention: retention,
		logger:    logger.With(slog.String("component", "backup")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the backup directory.
func (s *Service) Dir() string { return s.dir }

// Backup snapshots the database with VACUUM INTO.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	created := s.now()
	filename := "crateline-" + created.Format(timeLayout) + ".db"
	dest := filepath.Join(s.dir, filename)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("backup %s already exists", filename)
	}

	err := s.src.Exclusive("backing up database", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "VACUUM INTO ?", dest)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	s.logger.Info("backup complete", slog.String("filename", filename), slog.Int64("size", fi.Size()))
	return &Info{Filename: filename, Path: dest, Size: fi.Size(), CreatedAt: created}, nil
}

// List returns the backups in the directory, newest first. Files that do
// not look like backups are ignored.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !backupPattern.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "crateline-"), ".db")
		created, err := time.Parse(timeLayout, stamp)
		if err != nil {
			created = fi.ModTime().UTC()
		}
		out = append(out, Info{
			Filename:  e.Name(),
			Path:      filepath.Join(s.dir, e.Name()),
			Size:      fi.Size(),
			CreatedAt: created,
		})
	}
	slices.SortFunc(out, func(a, b Info) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Prune deletes the oldest backups beyond the retention count and returns
// how many were removed.
func (s *Service) Prune() (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(backups) <= s.retention {
		return 0, nil
	}

	removed := 0
	for _, b := range backups[s.retention:] {
		if err := os.Remove(b.Path); err != nil {
			s.logger.Warn("removing old backup", slog.String("filename", b.Filename), slog.String("error", err.Error()))
			continue
		}
		removed++
		s.logger.Info("pruned old backup", slog.String("filename", b.Filename))
	}
	return removed, nil
}

// Run backs up and prunes every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info("backup scheduler started",
		slog.String("interval", interval.String()),
		slog.Int("retention", s.retention))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := s.Prune(); err != nil {
				s.logger.Error("pruning backups", slog.String("error", err.Error()))
			}
		}
	}
}
