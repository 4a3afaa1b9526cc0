// Package watcher re-imports the DJ-library database when it changes on
// disk. Changes are detected by polling the file's modification time, with
// fsnotify on the parent directory as an early trigger.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/crateline/internal/event"
	"github.com/sydlexius/crateline/internal/store"
)

// DefaultInterval is how often the watched file's mtime is checked.
const DefaultInterval = 30 * time.Second

// RefreshFunc imports the collection at path and syncs it into the store.
type RefreshFunc func(ctx context.Context, path string) (store.SyncSummary, error)

// Option configures a Manager.
type Option func(*Manager)

// WithInterval overrides the mtime poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithDebounce overrides how long fsnotify events are coalesced.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

// WithProbeCache makes the manager probe each parent directory once for
// working fsnotify delivery and fall back to polling where it does not.
func WithProbeCache(pc *ProbeCache) Option {
	return func(m *Manager) { m.probes = pc }
}

// Manager owns at most one file watcher at a time.
type Manager struct {
	ctx      context.Context
	refresh  RefreshFunc
	events   event.Publisher
	logger   *slog.Logger
	interval time.Duration
	debounce time.Duration
	probes   *ProbeCache

	mu      sync.Mutex
	current *fileWatcher
}

type fileWatcher struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager whose watchers live until ctx is cancelled
// or they are replaced. events may be nil.
func NewManager(ctx context.Context, refresh RefreshFunc, events event.Publisher, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		ctx:      ctx,
		refresh:  refresh,
		events:   events,
		logger:   logger.With(slog.String("component", "library-watcher")),
		interval: DefaultInterval,
		debounce: time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Configure watches path. Configuring the path already being watched is a
// no-op; any other path replaces the current watcher.
func (m *Manager) Configure(path string) {
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		if m.current.path == path {
			return
		}
		m.stopLocked()
	}

	ctx, cancel := context.WithCancel(m.ctx)
	fw := &fileWatcher{path: path, cancel: cancel, done: make(chan struct{})}
	m.current = fw
	go func() {
		defer close(fw.done)
		m.watch(ctx, path)
	}()
	m.logger.Info("watching library", slog.String("path", path))
}

// Disable stops the current watcher, if any, and waits for it to exit.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Path returns the watched path, or "" when nothing is watched.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.path
}

func (m *Manager) stopLocked() {
	if m.current == nil {
		return
	}
	m.current.cancel()
	<-m.current.done
	m.logger.Info("stopped watching library", slog.String("path", m.current.path))
	m.current = nil
}

// watch is the scheduling loop for one path. Refreshes run in their own
// goroutine; a change seen while one is running schedules one more.
func (m *Manager) watch(ctx context.Context, path string) {
	logger := m.logger.With(slog.String("path", path))
	lastSeen, _ := modTime(path)

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if w := m.notifier(path, logger); w != nil {
		defer w.Close() //nolint:errcheck
		fsEvents, fsErrors = w.Events, w.Errors
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	var (
		running bool
		rerun   bool
		results = make(chan error, 1)
	)
	start := func() {
		running = true
		go func() {
			sum, err := m.refresh(ctx, path)
			if err == nil {
				logger.Info("library refreshed",
					slog.Int("imported", sum.Imported),
					slog.Int("created", sum.Created),
					slog.Int("removed", sum.Removed))
				m.publish(path, sum)
			}
			results <- err
		}()
	}
	check := func() {
		mod, err := modTime(path)
		if err != nil {
			logger.Warn("reading library modification time", slog.String("error", err.Error()))
			return
		}
		if !lastSeen.IsZero() && !mod.After(lastSeen) {
			return
		}
		lastSeen = mod
		if running {
			rerun = true
			return
		}
		start()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-results
			}
			return

		case <-ticker.C:
			check()

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !affects(path, ev) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(m.debounce)

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			logger.Warn("fsnotify error", slog.String("error", err.Error()))

		case <-debounce.C:
			check()

		case err := <-results:
			running = false
			if err != nil && ctx.Err() == nil {
				logger.Error("library refresh failed", slog.String("error", err.Error()))
			}
			if rerun {
				rerun = false
				start()
			}
		}
	}
}

// notifier returns an fsnotify watcher on the parent directory, or nil to
// run poll-only.
func (m *Manager) notifier(path string, logger *slog.Logger) *fsnotify.Watcher {
	dir := filepath.Dir(path)
	if m.probes != nil {
		supported, probed := m.probes.Supported(dir)
		if probed {
			logger.Info("fsnotify probe result", slog.String("dir", dir), slog.Bool("supported", supported))
		}
		if !supported {
			return nil
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, running poll-only", slog.String("error", err.Error()))
		return nil
	}
	if err := w.Add(dir); err != nil {
		logger.Warn("watching library directory failed, running poll-only", slog.String("error", err.Error()))
		w.Close() //nolint:errcheck
		return nil
	}
	return w
}

// affects reports whether ev touches the watched file or one of its
// SQLite side files (-wal, -shm, -journal).
func affects(path string, ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasPrefix(filepath.Clean(ev.Name), path)
}

func (m *Manager) publish(path string, sum store.SyncSummary) {
	if m.events == nil {
		return
	}
	m.events.Publish(event.Event{
		Type: event.LibraryRefreshed,
		Data: map[string]any{
			"path":     path,
			"imported": sum.Imported,
			"created":  sum.Created,
			"removed":  sum.Removed,
		},
	})
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
