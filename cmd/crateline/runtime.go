package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/sydlexius/crateline/internal/app"
	"github.com/sydlexius/crateline/internal/backup"
	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/catalog/discogs"
	"github.com/sydlexius/crateline/internal/catalog/musicbrainz"
	"github.com/sydlexius/crateline/internal/config"
	"github.com/sydlexius/crateline/internal/database"
	"github.com/sydlexius/crateline/internal/event"
	"github.com/sydlexius/crateline/internal/logging"
	"github.com/sydlexius/crateline/internal/maintenance"
	"github.com/sydlexius/crateline/internal/reconcile"
	"github.com/sydlexius/crateline/internal/rekordbox"
	"github.com/sydlexius/crateline/internal/store"
)

// runtime is everything a command needs, opened in dependency order and
// closed in reverse.
type runtime struct {
	cfg       *config.Config
	userAgent string
	logs      *logging.Manager
	logger    *slog.Logger
	lock      *flock.Flock
	db        *sql.DB
	store     *store.Store
	bus       *event.Bus
	workers   []*reconcile.Worker
	service   *app.Service
	backups   *backup.Service
	maint     *maintenance.Service
}

func openRuntime(ctx context.Context, flags *globalFlags) (*runtime, error) {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	rt := &runtime{cfg: cfg}
	rt.logs, rt.logger = logging.NewManager(cfg.Logging.Logger(), nil)

	ok := false
	defer func() {
		if !ok {
			rt.Close() //nolint:errcheck
		}
	}()

	dataDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	rt.lock = flock.New(filepath.Join(dataDir, "crateline.lock"))
	locked, err := rt.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring data directory lock: %w", err)
	}
	if !locked {
		rt.lock = nil
		return nil, fmt.Errorf("another crateline process owns %s", dataDir)
	}

	rt.db, err = database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(rt.db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	rt.store = store.New(rt.db, logging.Component(rt.logger, "store"))
	if err := rt.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("upgrading stored matches: %w", err)
	}
	rt.logger.Debug("database ready", slog.String("path", cfg.Database.Path))

	rt.bus = event.NewBus(rt.logger, 256)
	ua := catalog.UserAgent(cfg.MusicBrainz.AppName, cfg.MusicBrainz.AppVersion, cfg.MusicBrainz.Contact)
	rt.userAgent = ua
	clients := []catalog.Client{
		musicbrainz.NewWithBaseURL(musicbrainz.Options{
			Token:      cfg.MusicBrainz.Token,
			UserAgent:  ua,
			Interval:   cfg.MusicBrainz.Interval,
			Thresholds: cfg.MusicBrainz.Thresholds,
		}, rt.logger, cfg.MusicBrainz.BaseURL),
		discogs.NewWithBaseURL(discogs.Options{
			Token:      cfg.Discogs.Token,
			UserAgent:  ua,
			Interval:   cfg.Discogs.Interval,
			Thresholds: cfg.Discogs.Thresholds,
		}, rt.logger, cfg.Discogs.BaseURL),
	}
	for _, c := range clients {
		rt.workers = append(rt.workers, reconcile.NewWorker(c, rt.store, rt.bus, rt.logger, cfg.Workers.QueueSize))
	}

	rt.service = app.New(rt.store, rt.workers, rt.logger, app.WithLibraryOptions(
		rekordbox.WithLogger(logging.Component(rt.logger, "rekordbox")),
		rekordbox.WithProbeWorkers(cfg.Library.ProbeWorkers),
	))

	rt.backups = backup.NewService(rt.store, cfg.BackupDir(), cfg.Backup.Retention, rt.logger)
	rt.maint = maintenance.NewService(rt.store, cfg.Database.Path, rt.logger)

	ok = true
	return rt, nil
}

// Close releases the database, the lock and the log file. The store owns
// the database once it exists.
func (rt *runtime) Close() error {
	var errs []error
	switch {
	case rt.store != nil:
		errs = append(errs, rt.store.Close())
	case rt.db != nil:
		errs = append(errs, rt.db.Close())
	}
	if rt.lock != nil {
		errs = append(errs, rt.lock.Unlock())
	}
	if rt.logs != nil {
		errs = append(errs, rt.logs.Close())
	}
	return errors.Join(errs...)
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(ctx context.Context, flags *globalFlags, fn func(*runtime) error) (err error) {
	rt, err := openRuntime(ctx, flags)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}
