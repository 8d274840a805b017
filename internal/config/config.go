package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "ALERTD"

// maxIntervalMinutes keeps the digest period within time.Duration range
const maxIntervalMinutes = math.MaxInt64 / int64(time.Minute)

// Config is the process configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig selects the alert store. Driver is "sqlite" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// AggregatorConfig holds the digest period in whole minutes
type AggregatorConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// Interval returns the digest period as a duration
func (c AggregatorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

type MonitorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	CPUThreshold    float64       `mapstructure:"cpu_threshold"`
	MemoryThreshold float64       `mapstructure:"memory_threshold"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebhookConfig enables HTTP delivery of digests when URL is set
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alertd")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "alerts.db")

	v.SetDefault("aggregator.interval_minutes", 1440)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.cpu_threshold", 90.0)
	v.SetDefault("monitor.memory_threshold", 90.0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("webhook.timeout", 30*time.Second)
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error
	if c.App.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.App.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("app.log_level: %w", err))
		}
	}
	if len(c.NATS.URLs) == 0 {
		errs = append(errs, errors.New("nats.urls must not be empty"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Aggregator.IntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("aggregator.interval_minutes must be positive, got %d", c.Aggregator.IntervalMinutes))
	} else if int64(c.Aggregator.IntervalMinutes) > maxIntervalMinutes {
		errs = append(errs, fmt.Errorf("aggregator.interval_minutes must be at most %d, got %d", maxIntervalMinutes, c.Aggregator.IntervalMinutes))
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Webhook.URL != "" {
		if u, err := url.Parse(c.Webhook.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook.url %q is not an absolute URL", c.Webhook.URL))
		}
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	return errors.Join(errs...)
}

// Loader reads the config file and environment and can watch the file for
// changes.
type Loader struct {
	v      *viper.Viper
	logger *zap.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader for the YAML file at path. An empty path looks
// for config.yaml in ./config and the working directory.
func NewLoader(path string, logger *zap.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: logger.Named("config")}
}

// Load reads and validates the configuration. A missing file falls back to
// defaults and environment.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		l.logger.Warn("No config file found, using defaults")
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	l.logger.Info("Configuration loaded",
		zap.String("file", l.v.ConfigFileUsed()),
		zap.Int("interval_minutes", cfg.Aggregator.IntervalMinutes))
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Current returns the last successfully loaded config
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls fn with the new config each time the file changes and the
// result is valid. Invalid edits are logged and ignored.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Error("Ignoring config change",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		l.logger.Info("Configuration changed",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()))
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Load is a shorthand for NewLoader(path, logger).Load()
func Load(path string, logger *zap.Logger) (*Config, error) {
	return NewLoader(path, logger).Load()
}
