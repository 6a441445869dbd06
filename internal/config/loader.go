package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPath names the variable holding the optional TOML file path.
const EnvPath = "WAGER_CONFIG"

// Load builds the configuration from defaults, the TOML file at path (if
// path is non-empty), a .env file in the working directory (if present) and
// WAGER_* environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// FromEnv loads using the path in WAGER_CONFIG.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(EnvPath))
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "WAGER_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setDuration(&cfg.Server.ReadTimeout, "WAGER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "WAGER_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "WAGER_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "WAGER_SERVER_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.RateLimit, "WAGER_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "WAGER_SERVER_RATE_BURST")
	setBool(&cfg.Server.DevFaucet, "WAGER_SERVER_DEV_FAUCET")

	setStr(&cfg.Database.DSN, "WAGER_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "WAGER_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.URL, "WAGER_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "WAGER_REDIS_CACHE_TTL")
	setStr(&cfg.Redis.EventsChannel, "WAGER_REDIS_EVENTS_CHANNEL")

	setStr(&cfg.NATS.URL, "WAGER_NATS_URL")
	setStr(&cfg.NATS.SubjectPrefix, "WAGER_NATS_SUBJECT_PREFIX")

	setStr(&cfg.Protocol.DevRecipient, "WAGER_PROTOCOL_DEV_RECIPIENT")
	setStr(&cfg.LogLevel, "WAGER_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
