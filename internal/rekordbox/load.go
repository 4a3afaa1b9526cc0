package rekordbox

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/crateline/internal/media"
)

type loadConfig struct {
	logger  *slog.Logger
	workers int
	probe   func(string) (media.Info, error)
}

// Option configures Load.
type Option func(*loadConfig)

// WithLogger sets the logger used for skipped entries and probe failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *loadConfig) { c.logger = l }
}

// WithProbeWorkers bounds how many files are hashed and decoded at once.
// Values below one select runtime.NumCPU().
func WithProbeWorkers(n int) Option {
	return func(c *loadConfig) { c.workers = n }
}

// IsXML reports whether path names an XML collection export.
func IsXML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

// SupportsAutoRefresh reports whether the collection at path can be
// watched for changes. XML exports are one-off snapshots.
func SupportsAutoRefresh(path string) bool {
	return !IsXML(path)
}

// Load reads every track of the collection at path and probes the audio
// files they reference. Paths ending in .xml are read as an XML export;
// anything else is opened as the master database. Output order follows
// the collection.
func Load(ctx context.Context, path string, opts ...Option) ([]Track, error) {
	cfg := loadConfig{logger: slog.Default(), probe: media.Probe}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = runtime.NumCPU()
	}

	var (
		tracks []Track
		err    error
	)
	if IsXML(path) {
		tracks, err = readXML(ctx, path, cfg.logger)
	} else {
		tracks, err = readMaster(ctx, path)
	}
	if err != nil {
		return nil, err
	}

	if err := probeAll(ctx, tracks, cfg); err != nil {
		return nil, err
	}
	cfg.logger.Debug("library loaded", slog.String("path", path), slog.Int("tracks", len(tracks)))
	return tracks, nil
}

// probeAll fills in file metadata in place. Each goroutine writes only its
// own slice element. A file that cannot be read is logged and recorded as
// unavailable.
func probeAll(ctx context.Context, tracks []Track, cfg loadConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i := range tracks {
		if tracks[i].NormalizedPath == "" {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := &tracks[i]
			info, err := cfg.probe(t.NormalizedPath)
			if err != nil {
				cfg.logger.Warn("probing library file",
					slog.String("rekordbox_id", t.RekordboxID),
					slog.String("path", t.NormalizedPath),
					slog.String("error", err.Error()))
				return nil
			}
			t.Available = info.Available
			t.Checksum = info.Checksum
			t.DurationMS = info.DurationMS
			return nil
		})
	}
	return g.Wait()
}
