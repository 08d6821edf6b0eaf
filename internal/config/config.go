// Package config loads sessionkeeper configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Backend drivers selectable for persistent and durable storage.
const (
	DriverBolt     = "bbolt"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config is the full configuration.
type Config struct {
	API      APIConfig      `koanf:"api"`
	Storage  StorageConfig  `koanf:"storage"`
	Session  SessionConfig  `koanf:"session"`
	Security SecurityConfig `koanf:"security"`
	Log      LogConfig      `koanf:"log"`
}

// APIConfig locates the authentication backend.
type APIConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// StorageConfig selects the storage drivers.
type StorageConfig struct {
	Dir           string `koanf:"dir"`
	Persistent    string `koanf:"persistent"`
	Durable       string `koanf:"durable"`
	RedisAddr     string `koanf:"redis_addr"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	VolatileQuota int    `koanf:"volatile_quota"`
}

// SessionConfig holds the token freshness policy.
type SessionConfig struct {
	RefreshWindow time.Duration `koanf:"refresh_window"`
	DefaultTTL    time.Duration `koanf:"default_ttl"`
}

// SecurityConfig enables encryption at rest when Passphrase is set.
type SecurityConfig struct {
	Passphrase string `koanf:"passphrase"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8081"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./data"
	}
	if cfg.Storage.Persistent == "" {
		cfg.Storage.Persistent = DriverBolt
	}
	if cfg.Storage.Durable == "" {
		cfg.Storage.Durable = DriverBolt
	}
	if cfg.Storage.VolatileQuota == 0 {
		cfg.Storage.VolatileQuota = 5 << 20
	}
	if cfg.Session.RefreshWindow == 0 {
		cfg.Session.RefreshWindow = 5 * time.Minute
	}
	if cfg.Session.DefaultTTL == 0 {
		cfg.Session.DefaultTTL = time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an http(s) URL", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must not be negative"))
	}

	switch c.Storage.Persistent {
	case DriverBolt:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis persistent driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.persistent %q must be bbolt or redis", c.Storage.Persistent))
	}
	switch c.Storage.Durable {
	case DriverBolt:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres durable driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.durable %q must be bbolt or postgres", c.Storage.Durable))
	}
	if (c.Storage.Persistent == DriverBolt || c.Storage.Durable == DriverBolt) && c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required for bbolt"))
	}
	if c.Storage.VolatileQuota < 0 {
		errs = append(errs, errors.New("storage.volatile_quota must not be negative"))
	}

	if c.Session.RefreshWindow <= 0 {
		errs = append(errs, errors.New("session.refresh_window must be positive"))
	}
	if c.Session.DefaultTTL <= 0 {
		errs = append(errs, errors.New("session.default_ttl must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Encrypted reports whether entries are sealed at rest.
func (c *Config) Encrypted() bool { return c.Security.Passphrase != "" }
