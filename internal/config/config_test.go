package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, &Config{
		Database:          "/var/lib/reconcilor/state.db",
		ReconcileInterval: 90 * time.Second,
		IdentityScope:     "https://example.com/auth/userinfo",
		Directory: Directory{
			Endpoint:  "https://accounts.example.com/api",
			Timeout:   5 * time.Second,
			HTTP2:     false,
			RateLimit: 2.5,
			Burst:     4,
		},
		Probe:   Probe{MaxRetries: 3, RetryDelay: 250 * time.Millisecond},
		Log:     Log{Level: "debug", Format: "json"},
		Metrics: Metrics{Listen: "127.0.0.1:9090"},
	}, cfg)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("directory:\n  endpoint: http://localhost:8080\n"), "min.yaml")
	require.NoError(t, err)

	assert.Equal(t, "reconcilor.db", cfg.Database)
	assert.Equal(t, 300*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, "https://www.googleapis.com/auth/userinfo.profile", cfg.IdentityScope)
	assert.Equal(t, 30*time.Second, cfg.Directory.Timeout)
	assert.True(t, cfg.Directory.HTTP2)
	assert.Equal(t, 0.0, cfg.Directory.RateLimit)
	assert.Equal(t, 1, cfg.Directory.Burst)
	assert.Equal(t, 5, cfg.Probe.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.RetryDelay)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "", cfg.Metrics.Listen)
}

func TestParseZeroIntervalDisablesTimer(t *testing.T) {
	cfg, err := Parse([]byte("reconcile_interval: 0s\ndirectory:\n  endpoint: http://x\n"), "t.yaml")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.ReconcileInterval)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing endpoint", "database: x.db\n", "endpoint"},
		{"empty document", "", "endpoint"},
		{"bad scheme", "directory:\n  endpoint: ftp://x\n", "endpoint"},
		{"unknown key", "bogus: 1\ndirectory:\n  endpoint: http://x\n", "bogus"},
		{"bad duration", "reconcile_interval: soon\ndirectory:\n  endpoint: http://x\n", "reconcile_interval"},
		{"retries out of range", "probe:\n  max_retries: 50\ndirectory:\n  endpoint: http://x\n", "max_retries"},
		{"bad log level", "log:\n  level: loud\ndirectory:\n  endpoint: http://x\n", "level"},
		{"negative rate", "directory:\n  endpoint: http://x\n  rate_limit: -1\n", "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "bad.yaml")
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "bad.yaml")
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("directory: [unterminated"), "broken.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config broken.yaml")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Log{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{Level: "info"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, Log{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelError, Log{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{}.SlogLevel())
}
