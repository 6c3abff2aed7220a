// Package config loads the YAML configuration shared by every command.
package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-insights/inference/detectors"
	"github.com/nvr-ai/go-insights/inference/providers"
	"github.com/nvr-ai/go-insights/insights"
	"github.com/nvr-ai/go-insights/pipeline"
	"github.com/nvr-ai/go-insights/project"
	"github.com/nvr-ai/go-insights/segment"
	"github.com/nvr-ai/go-insights/tracker"
	"github.com/nvr-ai/go-insights/video"
)

type contextKey string

const configKey contextKey = "config"

// Environment variables that override file settings.
const (
	EnvAPIKey  = "OPENROUTER_API_KEY"
	EnvDataDir = "INSIGHTS_DATA_DIR"
)

// Database backends.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Projects  project.Config   `yaml:"projects"`
	Database  DatabaseConfig   `yaml:"database"`
	Video     video.Options    `yaml:"video"`
	Detector  detectors.Config `yaml:"detector"`
	Tracker   tracker.Config   `yaml:"tracker"`
	Segmenter segment.Config   `yaml:"segmenter"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Analysis  insights.Config  `yaml:"analysis"`
}

// DatabaseConfig selects the project store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	// Path is the SQLite file. Relative paths are under Projects.DataDir.
	Path string `yaml:"path"`
}

// DSN returns the SQLite path resolved against the data directory.
func (c *Config) DSN() string {
	if c.Database.Path == "" || c.Database.Path == ":memory:" || filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(c.Projects.DataDir, c.Database.Path)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Projects:  project.DefaultConfig(),
		Database:  DatabaseConfig{Driver: DriverSQLite, Path: "insights.db"},
		Video:     video.Options{TargetFPS: 2},
		Detector:  detectors.DefaultConfig(),
		Tracker:   tracker.DefaultConfig(),
		Segmenter: segment.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Analysis:  insights.DefaultConfig(),
	}
}

// Load reads configuration from path over the defaults. An empty path
// searches the usual locations; a missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrapf(err, "reading %s", path)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parsing %s", path)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Projects.DataDir = v
	}
}

// Save writes the configuration to path. The API key is never written.
func (c *Config) Save(path string) error {
	out := *c
	out.Analysis.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	check := func(ok bool, format string, args ...any) error {
		if ok {
			return nil
		}
		return errors.Wrapf(ErrInvalid, format, args...)
	}
	unit := func(v float32) bool { return v >= 0 && v <= 1 }

	if _, err := segment.ParseMode(string(c.Segmenter.Mode)); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	for _, b := range []providers.ProviderBackend{c.Detector.Provider.Backend, c.Segmenter.Provider.Backend} {
		if _, err := providers.ParseBackend(string(b)); err != nil {
			return errors.Wrap(ErrInvalid, err.Error())
		}
	}

	for _, err := range []error{
		check(c.Projects.DataDir != "", "projects.data_dir is empty"),
		check(c.Projects.MaxVideoSizeMB >= 0, "projects.max_video_size_mb must not be negative"),
		check(len(c.Projects.AllowedExtensions) > 0, "projects.allowed_extensions is empty"),
		check(c.Database.Driver == DriverSQLite || c.Database.Driver == DriverMemory,
			"database.driver must be %q or %q", DriverSQLite, DriverMemory),
		check(c.Database.Driver != DriverSQLite || c.Database.Path != "", "database.path is empty"),
		check(c.Video.TargetFPS > 0, "video.extraction_fps must be positive"),
		check(c.Video.MaxFrames >= 0, "video.max_frames must not be negative"),
		check(c.Detector.InputSize > 0, "detector.input_size must be positive"),
		check(c.Detector.Anchors > 0, "detector.anchors must be positive"),
		check(len(c.Detector.Classes) > 0, "detector.classes is empty"),
		check(unit(c.Detector.ConfidenceThreshold), "detector.confidence_threshold must be in [0,1]"),
		check(unit(c.Detector.NMSThreshold), "detector.nms_threshold must be in [0,1]"),
		check(unit(c.Tracker.MatchThreshold), "tracker.match_threshold must be in [0,1]"),
		check(c.Tracker.MaxMissedFrames >= 0, "tracker.max_missed_frames must not be negative"),
		check(c.Segmenter.InputSize > 0, "segmenter.input_size must be positive"),
		check(c.Pipeline.ProgressEvery > 0, "pipeline.progress_every must be positive"),
		check(c.Analysis.Retry.MaxRetries >= 0, "analysis.retry.max_retries must not be negative"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func findConfigFile() string {
	candidates := []string{
		"./insights.yaml",
		"./insights.yml",
		filepath.Join(os.Getenv("HOME"), ".insights", "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// WithConfig stores config in context.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context, falling back to the defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
