// Package config loads flowsync settings from a config file, the environment
// and an optional .env file.
//
// Precedence, highest first: FLOWSYNC_* environment variables (including
// values from .env), the config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Remote backends.
const (
	BackendNone     = "none"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the resolved configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	CachePath string          `mapstructure:"cache_path"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Share     ShareConfig     `mapstructure:"share"`
	Reminder  ReminderConfig  `mapstructure:"reminder"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

type RemoteConfig struct {
	Backend     string `mapstructure:"backend"`
	RedisURL    string `mapstructure:"redis_url"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type IdentityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type ShareConfig struct {
	Origin string `mapstructure:"origin"`
	Locale string `mapstructure:"locale"`
	App    string `mapstructure:"app"`
}

type ReminderConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	DedupeTTL    time.Duration `mapstructure:"dedupe_ttl"`
}

type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RemoteEnabled reports whether a remote backend is selected.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.Backend != "" && c.Remote.Backend != BackendNone
}

// Validate checks values that would otherwise fail later and far from the source.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case "", BackendNone:
	case BackendRedis:
		if c.Remote.RedisURL == "" {
			return errors.New("remote.redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if c.Remote.PostgresURL == "" {
			return errors.New("remote.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown remote.backend %q (want none, redis or postgres)", c.Remote.Backend)
	}
	if c.Reminder.Interval <= 0 {
		return errors.New("reminder.interval must be positive")
	}
	if c.Reminder.DedupeTTL <= 0 {
		return errors.New("reminder.dedupe_ttl must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// Loader wraps a viper instance so the daemon can watch the file for changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. If file is empty the standard locations are
// searched; a missing config file is not an error.
func NewLoader(file string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("flowsync")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "flowsync"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "flowsync"))
		}
	}
	return &Loader{v: v}
}

// Load reads .env (if present) and the config file, then resolves Config.
func (l *Loader) Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(cfg.DataDir, "flowsync.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch re-decodes the config whenever the file changes and passes the result
// to fn. Decode failures are passed as err with a nil config.
func (l *Loader) Watch(fn func(cfg *Config, err error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// Load is shorthand for NewLoader(file).Load().
func Load(file string) (*Config, error) {
	return NewLoader(file).Load()
}

// Default returns the built-in defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := (&Loader{v: v}).decode()
	if err != nil {
		// defaults are constant and valid
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("cache_path", "")
	v.SetDefault("remote.backend", BackendNone)
	v.SetDefault("remote.redis_url", "")
	v.SetDefault("remote.postgres_url", "")
	v.SetDefault("identity.jwt_secret", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("share.origin", "http://localhost:3000")
	v.SetDefault("share.locale", "en")
	v.SetDefault("share.app", "tasks")
	v.SetDefault("reminder.interval", time.Minute)
	v.SetDefault("reminder.startup_delay", 2*time.Second)
	v.SetDefault("reminder.dedupe_ttl", time.Hour)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "flowsync")
	}
	return ".flowsync"
}
