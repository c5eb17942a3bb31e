package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (if
// path is not empty), then a .env file if present, then POOL_* environment
// variables. The result has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, err
		}
		if keys := md.Undecoded(); len(keys) > 0 {
			return nil, fmt.Errorf("config: unknown keys in %s: %v", path, keys)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.Port, "POOL_SERVER_PORT")
	setBool(&cfg.Server.RequireSignatures, "POOL_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "POOL_SERVER_SIGNATURE_MAX_SKEW")
	setDuration(&cfg.Server.ShutdownTimeout, "POOL_SERVER_SHUTDOWN_TIMEOUT")

	// ── Log ──
	setStr(&cfg.Log.Level, "POOL_LOG_LEVEL")
	setStr(&cfg.Log.Format, "POOL_LOG_FORMAT")

	// ── Pool ──
	setStr(&cfg.Pool.DefaultWeight, "POOL_DEFAULT_WEIGHT")
	setInt(&cfg.Pool.HistorySize, "POOL_HISTORY_SIZE")

	// ── Factory ──
	setStr(&cfg.Factory.Address, "POOL_FACTORY_ADDRESS")
	setStr(&cfg.Factory.OwnerKey, "PRIVATE_KEY")
	setStr(&cfg.Factory.OwnerKey, "POOL_FACTORY_OWNER_KEY")
	setStr(&cfg.Factory.Owner, "POOL_FACTORY_OWNER")
	setStringSlice(&cfg.Factory.Operators, "POOL_FACTORY_OPERATORS")

	// ── Asset ──
	setStr(&cfg.Asset.Symbol, "POOL_ASSET_SYMBOL")

	// ── Store ──
	setStr(&cfg.Store.Driver, "POOL_STORE_DRIVER")
	setStr(&cfg.Store.Path, "POOL_STORE_PATH")
	setStr(&cfg.Postgres.DSN, "POOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Postgres.MaxConns, "POOL_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "POOL_POSTGRES_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOL_REDIS_DB")
	setStr(&cfg.Redis.Channel, "POOL_REDIS_CHANNEL")
	setStr(&cfg.Redis.Stream, "POOL_REDIS_STREAM")
	setInt64(&cfg.Redis.StreamMaxLen, "POOL_REDIS_STREAM_MAX_LEN")

	// ── Watcher ──
	setBool(&cfg.Watcher.Enabled, "POOL_WATCHER_ENABLED")
	setDuration(&cfg.Watcher.Interval, "POOL_WATCHER_INTERVAL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
