// Package config loads the sidecar configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/layer-3/warden/core"
)

// Store drivers
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverRedis  = "redis"
)

// Config is the root configuration.
// Sources, highest priority first:
//  1. explicit path passed with --config
//  2. path in CONFIG_PATH
//  3. local.yaml in the working directory
//  4. environment variables only
//
// Environment variables always override values read from a file.
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events"`
}

// HTTPConfig is where the sidecar listens
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"127.0.0.1"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"9000"`
}

// Addr returns host:port
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// UpstreamConfig points at the auth server and the API behind it
type UpstreamConfig struct {
	AuthURL string        `yaml:"auth_url" env:"AUTH_URL" env-required:"true"`
	APIURL  string        `yaml:"api_url" env:"API_URL" env-required:"true"`
	Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT" env-default:"10s"`
}

// SessionConfig holds the session horizons
type SessionConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"SESSION_TIMEOUT" env-default:"30m"`
	WarningBefore     time.Duration `yaml:"warning_before" env:"SESSION_WARNING_BEFORE" env-default:"5m"`
	MaxDuration       time.Duration `yaml:"max_duration" env:"SESSION_MAX_DURATION" env-default:"12h"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" env-default:"0s"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout" env:"REFRESH_TIMEOUT" env-default:"15s"`
}

// ToCore converts to the domain config
func (s SessionConfig) ToCore() core.SessionConfig {
	return core.SessionConfig{
		Timeout:           s.Timeout,
		WarningBefore:     s.WarningBefore,
		MaxDuration:       s.MaxDuration,
		RefreshTokenTTL:   s.RefreshTokenTTL,
		HeartbeatInterval: s.HeartbeatInterval,
	}
}

// StoreConfig selects the key-value backend for tokens and the session record
type StoreConfig struct {
	Driver   string `yaml:"driver" env:"STORE_DRIVER" env-default:"badger"`
	Dir      string `yaml:"dir" env:"STORE_DIR" env-default:"./data"`
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	Prefix   string `yaml:"prefix" env:"STORE_PREFIX" env-default:"warden:"`
}

// EventsConfig controls lifecycle event publishing to a redis stream
type EventsConfig struct {
	Enabled bool   `yaml:"enabled" env:"EVENTS_ENABLED" env-default:"false"`
	Topic   string `yaml:"topic" env:"EVENTS_TOPIC" env-default:"warden.session"`
}

// Validate checks values cleanenv cannot
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverBadger, DriverRedis:
	default:
		return fmt.Errorf("unknown store driver %q: %w", c.Store.Driver, core.ErrInvalidConfig)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive: %w", core.ErrInvalidConfig)
	}
	return c.Session.ToCore().Validate()
}

// MustLoad is Load that panics on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads the configuration in the priority order documented on Config
// and validates it
func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return validated(&cfg)
	}

	if path != "" {
		return read(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return read(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return read("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
