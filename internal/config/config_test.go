package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowtrail/snowtrail/internal/errors"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(cfg.DataDir, "events.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "session.json"), cfg.Session.Path)
	assert.Equal(t, 10*time.Second, cfg.Emitter.FailInterval)
}

func TestValidateTracker_RequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ValidateTracker()
	require.Error(t, err)
	assert.Equal(t, errors.CodeEmptyEndpoint, errors.GetCode(err))

	cfg.Emitter.Endpoint = "collector.example.com"
	assert.NoError(t, cfg.ValidateTracker())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"protocol", func(c *Config) { c.Emitter.Protocol = "ftp" }, "protocol"},
		{"method", func(c *Config) { c.Emitter.Method = "PUT" }, "method"},
		{"mode", func(c *Config) { c.Emitter.Mode = "batch" }, "mode"},
		{"limits", func(c *Config) { c.Emitter.SendLimit = -1 }, "limits"},
		{"store type", func(c *Config) { c.Store.Type = "redis" }, "store.type"},
		{"session", func(c *Config) { c.Session.CheckInterval = 0 }, "session"},
		{"archive type", func(c *Config) { c.Archive.Type = "gcs" }, "archive.type"},
		{"s3 bucket", func(c *Config) { c.Archive.Type = "s3" }, "bucket"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, errors.ErrCategoryConfig, errors.GetCategory(err))
		})
	}
}

func TestValidate_SessionDisabledSkipsTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Enabled = false
	cfg.Session.CheckInterval = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snowtrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/st
emitter:
  endpoint: collector.example.com
  method: GET
  send_limit: 25
  fail_interval: 3s
store:
  type: badger
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/st", cfg.DataDir)
	assert.Equal(t, "collector.example.com", cfg.Emitter.Endpoint)
	assert.Equal(t, "GET", cfg.Emitter.Method)
	assert.Equal(t, 25, cfg.Emitter.SendLimit)
	assert.Equal(t, 3*time.Second, cfg.Emitter.FailInterval)
	assert.Equal(t, "badger", cfg.Store.Type)
	// untouched fields keep their defaults
	assert.Equal(t, 52000, cfg.Emitter.ByteLimitPost)

	cfg.Resolve()
	assert.Equal(t, "/tmp/st/events.badger", cfg.Store.Path)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snowtrail.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"store":{"type":"memory","capacity":50}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 50, cfg.Store.Capacity)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestLoadFromEnv_Overlay(t *testing.T) {
	t.Setenv("SNOWTRAIL_EMITTER_ENDPOINT", "env.example.com")
	t.Setenv("SNOWTRAIL_EMITTER_SEND_LIMIT", "7")
	t.Setenv("SNOWTRAIL_EMITTER_FAIL_INTERVAL", "250ms")
	t.Setenv("SNOWTRAIL_STORE_TYPE", "log")
	t.Setenv("SNOWTRAIL_ARCHIVE_S3_BUCKET", "oversize")
	t.Setenv("SNOWTRAIL_TRACKER_BASE64", "false")
	t.Setenv("SNOWTRAIL_OTEL_ENDPOINT", "localhost:4318")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "env.example.com", cfg.Emitter.Endpoint)
	assert.Equal(t, 7, cfg.Emitter.SendLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Emitter.FailInterval)
	assert.Equal(t, "log", cfg.Store.Type)
	assert.Equal(t, "oversize", cfg.Archive.S3.Bucket)
	assert.False(t, cfg.Tracker.Base64)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	// unset variables keep defaults
	assert.Equal(t, "POST", cfg.Emitter.Method)
}

func TestLoadFromEnv_ParseError(t *testing.T) {
	t.Setenv("SNOWTRAIL_EMITTER_SEND_LIMIT", "lots")
	err := LoadFromEnv(DefaultConfig())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SNOWTRAIL_DOTENV_TEST_VALUE=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SNOWTRAIL_DOTENV_TEST_VALUE") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("SNOWTRAIL_DOTENV_TEST_VALUE"))
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snowtrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte("emitter:\n  endpoint: file.example.com\n  send_limit: 3\n"), 0o644))
	t.Setenv("SNOWTRAIL_EMITTER_SEND_LIMIT", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file.example.com", cfg.Emitter.Endpoint)
	assert.Equal(t, 9, cfg.Emitter.SendLimit)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	cfg.Archive.Type = "local"
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.DataDir)
	assert.DirExists(t, cfg.Archive.Path)
}
