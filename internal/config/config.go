// Package config defines the configuration of the pool backend and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config holds all configuration for the pool backend. Fields are populated
// from an optional TOML file and then overridden by POOL_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Pool     PoolConfig     `toml:"pool"`
	Factory  FactoryConfig  `toml:"factory"`
	Asset    AssetConfig    `toml:"asset"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Watcher  WatcherConfig  `toml:"watcher"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              string   `toml:"port"`
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or text
}

// PoolConfig holds defaults applied to every pool the factory creates.
type PoolConfig struct {
	DefaultWeight string `toml:"default_weight"` // decimal
	HistorySize   int    `toml:"history_size"`
}

// FactoryConfig holds the deployment-layer identities.
type FactoryConfig struct {
	Address   string   `toml:"address"`
	OwnerKey  string   `toml:"owner_key"` // hex private key; owner address is derived from it
	Owner     string   `toml:"owner"`     // used when owner_key is empty
	Operators []string `toml:"operators"`
}

// AssetConfig configures the in-process payment asset.
type AssetConfig struct {
	Symbol string `toml:"symbol"`
}

// StoreConfig selects the event journal backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // memory, sqlite or postgres
	Path   string `toml:"path"`   // sqlite file
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event bus.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	Channel      string `toml:"channel"`
	Stream       string `toml:"stream"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// WatcherConfig configures the lifecycle watcher.
type WatcherConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "72h", "30s").
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

// Defaults returns a Config with every field set to its default.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:              "8080",
			RequireSignatures: true,
			SignatureMaxSkew:  duration{5 * time.Minute},
			ShutdownTimeout:   duration{10 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Pool: PoolConfig{
			DefaultWeight: "1000000",
			HistorySize:   1000,
		},
		Factory: FactoryConfig{
			Address: "0x00000000000000000000000000000000000F4C70",
		},
		Asset: AssetConfig{
			Symbol: "USDX",
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "ammpool.db",
		},
		Postgres: PostgresConfig{
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Channel:      "ammpool:events",
			Stream:       "ammpool:events:stream",
			StreamMaxLen: 10000,
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Interval: duration{10 * time.Second},
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validDrivers = map[string]bool{"memory": true, "sqlite": true, "postgres": true}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port == "" {
		errs = append(errs, "server: port must not be empty")
	}
	if c.Server.SignatureMaxSkew.Duration <= 0 {
		errs = append(errs, "server: signature_max_skew must be positive")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	if w, err := uint256.FromDecimal(c.Pool.DefaultWeight); err != nil || w.IsZero() {
		errs = append(errs, fmt.Sprintf("pool: default_weight %q must be a positive integer", c.Pool.DefaultWeight))
	}

	if !common.IsHexAddress(c.Factory.Address) {
		errs = append(errs, fmt.Sprintf("factory: address %q is not a hex address", c.Factory.Address))
	}
	if c.Factory.OwnerKey == "" && !common.IsHexAddress(c.Factory.Owner) {
		errs = append(errs, "factory: owner_key or owner must be set")
	}
	for _, op := range c.Factory.Operators {
		if !common.IsHexAddress(op) {
			errs = append(errs, fmt.Sprintf("factory: operator %q is not a hex address", op))
		}
	}

	driver := strings.ToLower(c.Store.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: memory, sqlite, postgres)", c.Store.Driver))
	}
	if driver == "sqlite" && c.Store.Path == "" {
		errs = append(errs, "store: path is required for the sqlite driver")
	}
	if driver == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, "postgres: dsn is required for the postgres driver")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}
	if c.Watcher.Enabled && c.Watcher.Interval.Duration <= 0 {
		errs = append(errs, "watcher: interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DefaultWeight parses Pool.DefaultWeight. Call after Validate.
func (c *Config) DefaultWeight() *uint256.Int {
	w, err := uint256.FromDecimal(c.Pool.DefaultWeight)
	if err != nil {
		return uint256.NewInt(1)
	}
	return w
}
