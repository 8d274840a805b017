package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
nats:
  urls: ["nats://bus:4222"]
storage:
  driver: memory
aggregator:
  interval_minutes: 5
http:
  addr: ":9090"
`)

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://bus:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Aggregator.Interval())
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	// defaults fill what the file leaves out
	assert.Equal(t, "alertd", cfg.App.Name)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 90.0, cfg.Monitor.CPUThreshold)
}

func TestLoad_Defaults(t *testing.T) {
	// no config.yaml next to the package, so only defaults apply
	cfg, err := Load("", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1440, cfg.Aggregator.IntervalMinutes)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"nats://127.0.0.1:4222"}, cfg.NATS.URLs)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "aggregator:\n  interval_minutes: 5\n")
	t.Setenv("ALERTD_AGGREGATOR_INTERVAL_MINUTES", "15")
	t.Setenv("ALERTD_STORAGE_DRIVER", "memory")

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Aggregator.IntervalMinutes)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
storage:
  driver: postgres
aggregator:
  interval_minutes: 0
`)

	_, err := Load(path, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "interval_minutes")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			NATS:       NATSConfig{URLs: []string{"nats://localhost:4222"}},
			Storage:    StorageConfig{Driver: "sqlite", Path: "alerts.db"},
			Aggregator: AggregatorConfig{IntervalMinutes: 1},
			Monitor:    MonitorConfig{Enabled: true, Interval: time.Second},
			HTTP:       HTTPConfig{Addr: ":8080"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"no urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"memory without path", func(c *Config) { c.Storage = StorageConfig{Driver: "memory"} }, ""},
		{"negative interval", func(c *Config) { c.Aggregator.IntervalMinutes = -1 }, "interval_minutes"},
		{"overflowing interval", func(c *Config) { c.Aggregator.IntervalMinutes = 307445735 }, "at most"},
		{"largest interval", func(c *Config) { c.Aggregator.IntervalMinutes = int(maxIntervalMinutes) }, ""},
		{"monitor disabled ignores interval", func(c *Config) { c.Monitor = MonitorConfig{} }, ""},
		{"monitor interval", func(c *Config) { c.Monitor.Interval = 0 }, "monitor.interval"},
		{"bad log level", func(c *Config) { c.App.LogLevel = "loud" }, "app.log_level"},
		{"webhook url", func(c *Config) { c.Webhook.URL = "hooks/alerts" }, "webhook.url"},
		{"valid webhook", func(c *Config) { c.Webhook.URL = "https://hooks.example.com/alerts" }, ""},
		{"no addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  driver: memory\naggregator:\n  interval_minutes: 5\n")

	loader := NewLoader(path, zap.NewNop())
	_, err := loader.Load()
	require.NoError(t, err)

	var minutes atomic.Int64
	loader.Watch(func(cfg *Config) {
		minutes.Store(int64(cfg.Aggregator.IntervalMinutes))
	})

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "storage:\n  driver: memory\naggregator:\n  interval_minutes: 7\n")

	require.Eventually(t, func() bool {
		return minutes.Load() == 7
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 7, loader.Current().Aggregator.IntervalMinutes)
}
