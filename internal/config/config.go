// Package config loads crateline settings from a YAML file, an optional
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/logging"
	"github.com/sydlexius/crateline/internal/webhook"
)

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	MusicBrainz CatalogConfig     `yaml:"musicbrainz"`
	Discogs     CatalogConfig     `yaml:"discogs"`
	Workers     WorkersConfig     `yaml:"workers"`
	Library     LibraryConfig     `yaml:"library"`
	Backup      BackupConfig      `yaml:"backup"`
	Webhooks    []webhook.Webhook `yaml:"webhooks"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// Logger converts the section for the logging package.
func (l LoggingConfig) Logger() logging.Config {
	return logging.Config{
		Level:          l.Level,
		Format:         l.Format,
		FilePath:       l.FilePath,
		FileMaxSizeMB:  l.FileMaxSizeMB,
		FileMaxFiles:   l.FileMaxFiles,
		FileMaxAgeDays: l.FileMaxAgeDays,
	}
}

// CatalogConfig holds the settings of one catalog client. AppName,
// AppVersion and Contact only apply to MusicBrainz, which requires an
// identifying User-Agent.
type CatalogConfig struct {
	BaseURL    string             `yaml:"base_url"`
	Token      string             `yaml:"token"`
	AppName    string             `yaml:"app_name"`
	AppVersion string             `yaml:"app_version"`
	Contact    string             `yaml:"contact"`
	Interval   time.Duration      `yaml:"interval"`
	Thresholds catalog.Thresholds `yaml:"thresholds"`
}

// WorkersConfig sizes the lookup queues.
type WorkersConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// LibraryConfig points at the DJ-library collection.
type LibraryConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeWorkers int           `yaml:"probe_workers"`
}

// BackupConfig controls database backups. An empty Dir selects a backups
// directory next to the database; a zero Interval disables scheduled
// backups while serving.
type BackupConfig struct {
	Dir       string        `yaml:"dir"`
	Retention int           `yaml:"retention"`
	Interval  time.Duration `yaml:"interval"`
}

// BackupDir returns the directory backups are written to.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(filepath.Dir(c.Database.Path), "backups")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(defaultDataDir(), "crateline.db"),
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			FileMaxSizeMB:  100,
			FileMaxFiles:   3,
			FileMaxAgeDays: 30,
		},
		MusicBrainz: CatalogConfig{
			BaseURL:    "https://musicbrainz.org/ws/2",
			AppName:    "crateline",
			AppVersion: "dev",
			Interval:   catalog.DefaultInterval,
			Thresholds: catalog.DefaultThresholds(),
		},
		Discogs: CatalogConfig{
			BaseURL:    "https://api.discogs.com",
			Interval:   catalog.DefaultInterval,
			Thresholds: catalog.DefaultThresholds(),
		},
		Workers: WorkersConfig{QueueSize: 32},
		Library: LibraryConfig{PollInterval: 30 * time.Second},
		Backup:  BackupConfig{Retention: 7},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "crateline")
	}
	return "."
}

// Load reads config from a YAML file (if it exists) and overrides it with
// environment variables. A .env file, if given and present, is loaded into
// the environment first without replacing variables that are already set.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"CRATELINE_DB_PATH", &c.Database.Path},
		{"CRATELINE_LOG_LEVEL", &c.Logging.Level},
		{"CRATELINE_LOG_FORMAT", &c.Logging.Format},
		{"CRATELINE_LOG_FILE", &c.Logging.FilePath},
		{"CRATELINE_LIBRARY_PATH", &c.Library.Path},
		{"CRATELINE_BACKUP_DIR", &c.Backup.Dir},
		{"MUSICBRAINZ_TOKEN", &c.MusicBrainz.Token},
		{"MUSICBRAINZ_APP_NAME", &c.MusicBrainz.AppName},
		{"MUSICBRAINZ_APP_VERSION", &c.MusicBrainz.AppVersion},
		{"MUSICBRAINZ_APP_CONTACT", &c.MusicBrainz.Contact},
		{"DISCOGS_TOKEN", &c.Discogs.Token},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("CRATELINE_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing CRATELINE_QUEUE_SIZE: %w", err)
		}
		c.Workers.QueueSize = n
	}
	if v := os.Getenv("CRATELINE_LIBRARY_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing CRATELINE_LIBRARY_POLL_INTERVAL: %w", err)
		}
		c.Library.PollInterval = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	for name, cc := range map[string]CatalogConfig{"musicbrainz": c.MusicBrainz, "discogs": c.Discogs} {
		if cc.BaseURL == "" {
			return fmt.Errorf("%s: base_url is required", name)
		}
		if cc.Interval <= 0 {
			return fmt.Errorf("%s: interval must be positive, got %s", name, cc.Interval)
		}
		if err := validateThresholds(cc.Thresholds); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.queue_size must be positive, got %d", c.Workers.QueueSize)
	}
	if c.Library.PollInterval <= 0 {
		return fmt.Errorf("library.poll_interval must be positive, got %s", c.Library.PollInterval)
	}
	if c.Library.ProbeWorkers < 0 {
		return fmt.Errorf("library.probe_workers must not be negative, got %d", c.Library.ProbeWorkers)
	}
	if c.Backup.Retention < 0 || c.Backup.Interval < 0 {
		return errors.New("backup retention and interval must not be negative")
	}
	for _, w := range c.Webhooks {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateThresholds(t catalog.Thresholds) error {
	if t.Medium > t.High {
		return fmt.Errorf("thresholds: medium %.1f above high %.1f", t.Medium, t.High)
	}
	if t.Margin < 0 {
		return fmt.Errorf("thresholds: negative margin %.1f", t.Margin)
	}
	if t.Ceiling <= 0 {
		return fmt.Errorf("thresholds: ceiling must be positive, got %.1f", t.Ceiling)
	}
	return nil
}
