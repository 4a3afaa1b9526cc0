// Package logging builds the process logger: slog with a runtime-adjustable
// level, JSON or text output on stderr, and optional rotating file output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string
	Format         string
	FilePath       string
	FileMaxSizeMB  int
	FileMaxFiles   int
	FileMaxAgeDays int
}

// Manager owns the logger's level and file writer.
type Manager struct {
	levelVar *slog.LevelVar
	mu       sync.Mutex
	closer   io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager and a ready-to-use logger writing to
// console. Pass nil for os.Stderr; stdout is reserved for command output.
func NewManager(cfg Config, console io.Writer) (*Manager, *slog.Logger) {
	if console == nil {
		console = os.Stderr
	}
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	writer, closer := buildWriter(cfg, console)
	m := &Manager{levelVar: lvl, closer: closer}
	return m, slog.New(buildHandler(writer, lvl, cfg.Format))
}

// SetLevel changes the minimum level of every logger derived from the
// manager's logger. Unknown names select info.
func (m *Manager) SetLevel(level string) {
	m.levelVar.Set(parseLevel(level))
}

// Level returns the current level name.
func (m *Manager) Level() string {
	return FormatLevel(m.levelVar.Level())
}

// Close releases the log file writer, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

// Component derives a logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With(slog.String("component", name))
}

// parseLevel converts a string to slog.Level, defaulting to Info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FormatLevel converts a slog.Level to its string name.
func FormatLevel(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// buildWriter tees console output into a rotating file when a path is
// configured, returning the file writer as the closer.
func buildWriter(cfg Config, console io.Writer) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return console, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    positiveOr(cfg.FileMaxSizeMB, 100),
		MaxBackups: positiveOr(cfg.FileMaxFiles, 3),
		MaxAge:     positiveOr(cfg.FileMaxAgeDays, 30),
	}
	return io.MultiWriter(console, lj), lj
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ValidLevel returns true if s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat returns true if s is a recognized log format.
func ValidFormat(s string) bool {
	switch s {
	case "text", "json":
		return true
	}
	return false
}
