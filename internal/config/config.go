// Package config provides the unified configuration for the tracker CLI
// and the development collector.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/snowtrail/snowtrail/internal/errors"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SNOWTRAIL_"

// Config holds the unified configuration.
type Config struct {
	// DataDir is the base directory for all local state
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	Emitter   EmitterConfig   `json:"emitter" yaml:"emitter" envPrefix:"EMITTER_"`
	Store     StoreConfig     `json:"store" yaml:"store" envPrefix:"STORE_"`
	Session   SessionConfig   `json:"session" yaml:"session" envPrefix:"SESSION_"`
	Tracker   TrackerConfig   `json:"tracker" yaml:"tracker" envPrefix:"TRACKER_"`
	Archive   ArchiveConfig   `json:"archive" yaml:"archive" envPrefix:"ARCHIVE_"`
	Collector CollectorConfig `json:"collector" yaml:"collector" envPrefix:"COLLECTOR_"`
	Log       LogConfig       `json:"log" yaml:"log" envPrefix:"LOG_"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry" envPrefix:"OTEL_"`
}

// EmitterConfig holds delivery settings.
type EmitterConfig struct {
	// Endpoint is the collector host, optionally with a port
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	// Protocol is http or https
	Protocol string `json:"protocol" yaml:"protocol" env:"PROTOCOL"`
	// Method is GET or POST
	Method string `json:"method" yaml:"method" env:"METHOD"`
	// Mode is async or sync
	Mode string `json:"mode" yaml:"mode" env:"MODE"`

	SendLimit     int `json:"send_limit" yaml:"send_limit" env:"SEND_LIMIT"`
	ByteLimitGet  int `json:"byte_limit_get" yaml:"byte_limit_get" env:"BYTE_LIMIT_GET"`
	ByteLimitPost int `json:"byte_limit_post" yaml:"byte_limit_post" env:"BYTE_LIMIT_POST"`

	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	FailInterval   time.Duration `json:"fail_interval" yaml:"fail_interval" env:"FAIL_INTERVAL"`

	MaxConcurrentRequests int     `json:"max_concurrent_requests" yaml:"max_concurrent_requests" env:"MAX_CONCURRENT_REQUESTS"`
	RequestsPerSecond     float64 `json:"requests_per_second" yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	RequestBurst          int     `json:"request_burst" yaml:"request_burst" env:"REQUEST_BURST"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	// Type is memory, sqlite, badger or log
	Type string `json:"type" yaml:"type" env:"TYPE"`
	// Path is the database file or directory; derived from DataDir when empty
	Path     string `json:"path" yaml:"path" env:"PATH"`
	Capacity int    `json:"capacity" yaml:"capacity" env:"CAPACITY"`
	// MaxSegmentSize is the segment size of the log backend in bytes
	MaxSegmentSize int64 `json:"max_segment_size" yaml:"max_segment_size" env:"MAX_SEGMENT_SIZE"`
}

// SessionConfig holds client session settings.
type SessionConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Path              string        `json:"path" yaml:"path" env:"PATH"`
	ForegroundTimeout time.Duration `json:"foreground_timeout" yaml:"foreground_timeout" env:"FOREGROUND_TIMEOUT"`
	BackgroundTimeout time.Duration `json:"background_timeout" yaml:"background_timeout" env:"BACKGROUND_TIMEOUT"`
	CheckInterval     time.Duration `json:"check_interval" yaml:"check_interval" env:"CHECK_INTERVAL"`
}

// TrackerConfig holds the fields stamped on every event.
type TrackerConfig struct {
	Namespace string `json:"namespace" yaml:"namespace" env:"NAMESPACE"`
	AppID     string `json:"app_id" yaml:"app_id" env:"APP_ID"`
	Platform  string `json:"platform" yaml:"platform" env:"PLATFORM"`
	Base64    bool   `json:"base64" yaml:"base64" env:"BASE64"`
}

// ArchiveConfig configures where oversize payloads are copied.
type ArchiveConfig struct {
	// Type is none, local or s3
	Type string   `json:"type" yaml:"type" env:"TYPE"`
	Path string   `json:"path" yaml:"path" env:"PATH"`
	S3   S3Config `json:"s3" yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds S3 archive settings.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Region string `json:"region" yaml:"region" env:"REGION"`
	// Endpoint is set for S3-compatible storage
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// CollectorConfig holds development collector settings.
type CollectorConfig struct {
	Addr      string        `json:"addr" yaml:"addr" env:"ADDR"`
	DedupeTTL time.Duration `json:"dedupe_ttl" yaml:"dedupe_ttl" env:"DEDUPE_TTL"`
	MaxEvents int           `json:"max_events" yaml:"max_events" env:"MAX_EVENTS"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level" env:"LEVEL"`
	// Format is console or json
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// TelemetryConfig enables OpenTelemetry tracing when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/snowtrail",
		Emitter: EmitterConfig{
			Protocol:       "https",
			Method:         "POST",
			Mode:           "async",
			SendLimit:      500,
			ByteLimitGet:   52000,
			ByteLimitPost:  52000,
			RequestTimeout: 10 * time.Second,
			FailInterval:   10 * time.Second,
			RequestBurst:   1,
		},
		Store: StoreConfig{
			Type:           "sqlite",
			Capacity:       10000,
			MaxSegmentSize: 4 << 20,
		},
		Session: SessionConfig{
			Enabled:           true,
			ForegroundTimeout: 600 * time.Second,
			BackgroundTimeout: 300 * time.Second,
			CheckInterval:     15 * time.Second,
		},
		Tracker: TrackerConfig{
			Namespace: "snowtrail",
			AppID:     "snowtrail",
			Platform:  "pc",
			Base64:    true,
		},
		Archive: ArchiveConfig{
			Type: "none",
		},
		Collector: CollectorConfig{
			Addr:      ":9090",
			DedupeTTL: 10 * time.Minute,
			MaxEvents: 10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "snowtrail",
		},
	}
}

// Resolve fills empty paths from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/snowtrail"
	}

	if c.Store.Path == "" {
		switch c.Store.Type {
		case "sqlite":
			c.Store.Path = filepath.Join(c.DataDir, "events.db")
		case "badger":
			c.Store.Path = filepath.Join(c.DataDir, "events.badger")
		case "log":
			c.Store.Path = filepath.Join(c.DataDir, "events.log")
		}
	}
	if c.Session.Path == "" {
		c.Session.Path = filepath.Join(c.DataDir, "session.json")
	}
	if c.Archive.Type == "local" && c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
}

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return invalid("data_dir is required")
	}

	if !oneOf(strings.ToLower(c.Emitter.Protocol), "http", "https") {
		return invalid("invalid emitter.protocol: %s (must be http or https)", c.Emitter.Protocol)
	}
	if !oneOf(strings.ToUpper(c.Emitter.Method), "GET", "POST") {
		return invalid("invalid emitter.method: %s (must be GET or POST)", c.Emitter.Method)
	}
	if !oneOf(c.Emitter.Mode, "async", "sync") {
		return invalid("invalid emitter.mode: %s (must be async or sync)", c.Emitter.Mode)
	}
	if c.Emitter.SendLimit < 0 || c.Emitter.ByteLimitGet < 0 || c.Emitter.ByteLimitPost < 0 {
		return invalid("emitter limits must not be negative")
	}
	if c.Emitter.MaxConcurrentRequests < 0 || c.Emitter.RequestsPerSecond < 0 {
		return invalid("emitter request bounds must not be negative")
	}

	if !oneOf(c.Store.Type, "memory", "sqlite", "badger", "log") {
		return invalid("invalid store.type: %s (must be memory, sqlite, badger or log)", c.Store.Type)
	}
	if c.Store.Capacity < 0 {
		return invalid("store.capacity must not be negative")
	}

	if c.Session.Enabled {
		if c.Session.ForegroundTimeout <= 0 || c.Session.BackgroundTimeout <= 0 || c.Session.CheckInterval <= 0 {
			return invalid("session timeouts must be positive")
		}
	}

	switch c.Archive.Type {
	case "none", "":
	case "local":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return invalid("archive.s3.bucket is required when archive type is s3")
		}
	default:
		return invalid("invalid archive.type: %s (must be none, local or s3)", c.Archive.Type)
	}

	if !oneOf(strings.ToLower(c.Log.Level), "debug", "info", "warn", "error") {
		return invalid("invalid log.level: %s", c.Log.Level)
	}
	if !oneOf(c.Log.Format, "console", "json") {
		return invalid("invalid log.format: %s (must be console or json)", c.Log.Format)
	}
	return nil
}

// ValidateTracker additionally checks what sending events requires.
func (c *Config) ValidateTracker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Emitter.Endpoint) == "" {
		return errors.NewConfigError(errors.CodeEmptyEndpoint, "emitter.endpoint is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays SNOWTRAIL_* environment variables onto cfg. Unset
// variables leave the current values alone.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load builds the configuration: defaults or the file at path, then the
// environment. The result is resolved but not validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	return cfg, nil
}

// EnsureDirectories creates the directories local state lives in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.Session.Path)}
	if c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.NewConfigError(errors.CodeInvalidConfig, fmt.Sprintf(format, args...))
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
