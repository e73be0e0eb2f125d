package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 30, cfg.Policy.DefaultMinutes)
	require.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	require.Equal(t, 15*time.Second, cfg.Heartbeat.OfflineAfter)
	require.True(t, cfg.PublicRoutes().IsPublic("/admin/login"))
	require.False(t, cfg.Session.TrackStandard)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"default minutes too low", func(c *Config) { c.Policy.DefaultMinutes = 0 }},
		{"default minutes too high", func(c *Config) { c.Policy.DefaultMinutes = 481 }},
		{"heartbeat not shorter than window", func(c *Config) { c.Heartbeat.Interval = 15 * time.Second }},
		{"zero heartbeat", func(c *Config) { c.Heartbeat.Interval = 0 }},
		{"zero refresh", func(c *Config) { c.Policy.RefreshInterval = 0 }},
		{"negative throttle", func(c *Config) { c.Activity.Throttle = -time.Second }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"nats without url", func(c *Config) { c.Store.Backend = BackendNATS; c.Store.NATSURL = "" }},
		{"unknown protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoader_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessionkit.toml")
	content := `
[api]
base_url = "https://example.com/api/"

[policy]
default_minutes = 45

[heartbeat]
interval = "3s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SESSIONKIT_STORE_BACKEND", "nats")

	l := NewLoader()
	l.SetConfigFile(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	require.Equal(t, "https://example.com/api/", cfg.API.BaseURL)
	require.Equal(t, 45, cfg.Policy.DefaultMinutes)
	require.Equal(t, 3*time.Second, cfg.Heartbeat.Interval)
	require.Equal(t, 15*time.Second, cfg.Heartbeat.OfflineAfter)
	require.Equal(t, BackendNATS, cfg.Store.Backend)
}

func TestLoader_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessionkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[heartbeat]\ninterval = \"20s\"\n"), 0o600))

	l := NewLoader()
	l.SetConfigFile(path)
	_, err := l.Load()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExport_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Default()))
	require.Contains(t, buf.String(), "[heartbeat]")
	require.Contains(t, buf.String(), `interval = "5s"`)

	dir := t.TempDir()
	path := filepath.Join(dir, "sessionkit.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	l := NewLoader()
	l.SetConfigFile(path)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
