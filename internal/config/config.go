// Package config holds the process configuration for the wager engine
// server.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wagerproto/wager-engine/internal/model"
)

// Config is the root configuration. Fields come from the built-in defaults,
// an optional TOML file and WAGER_* environment variables, in that order.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	Protocol ProtocolConfig `toml:"protocol"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per caller.
	// Zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
	// DevFaucet exposes POST /accounts/{account}/faucet. Never enable in production.
	DevFaucet bool `toml:"dev_faucet"`
}

// DatabaseConfig holds the PostgreSQL connection. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the Redis connection used for the read cache and the
// event channel.
type RedisConfig struct {
	URL           string   `toml:"url"`
	CacheTTL      duration `toml:"cache_ttl"`
	EventsChannel string   `toml:"events_channel"`
}

// NATSConfig holds the JetStream connection events are published to.
type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// ProtocolConfig holds deployment-fixed protocol identities.
type ProtocolConfig struct {
	DevRecipient string `toml:"dev_recipient"`
}

// Defaults returns a configuration usable for local development.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			RateLimit:       20,
			RateBurst:       40,
		},
		Database: DatabaseConfig{RunMigrations: true},
		Redis: RedisConfig{
			CacheTTL:      duration{30 * time.Second},
			EventsChannel: "wager:events",
		},
		NATS:     NATSConfig{SubjectPrefix: "wager"},
		Protocol: ProtocolConfig{DevRecipient: "dev"},
		LogLevel: "info",
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate limiting is enabled"))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Redis.URL != "" && c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, errors.New("redis.cache_ttl must be positive"))
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required with nats.url"))
	}
	switch dev := c.Protocol.DevRecipient; {
	case dev == "":
		errs = append(errs, errors.New("protocol.dev_recipient is required"))
	case model.ReservedIdentity(dev):
		errs = append(errs, fmt.Errorf("protocol.dev_recipient %q is a reserved identity", dev))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
