// Package config defines the top-level configuration for the position
// watcher and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYWATCHER_* environment
// variables.
type Config struct {
	Watcher    WatcherConfig    `toml:"watcher"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Journal    JournalConfig    `toml:"journal"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	LogLevel   string           `toml:"log_level"`
}

// WatcherConfig holds the core watcher behavior switches.
type WatcherConfig struct {
	// EnableHTTPFallback runs the REST poller alongside the websocket stream.
	EnableHTTPFallback bool `toml:"enable_http_fallback"`
	// HTTPPollInterval is the fallback poll cadence.
	HTTPPollInterval duration `toml:"http_poll_interval"`
	// EnableFeeCalc applies exchange taker fees to trade sizes.
	EnableFeeCalc bool `toml:"enable_fee_calc"`
	// BootstrapPositions seeds the store from the Data API at startup.
	BootstrapPositions bool `toml:"bootstrap_positions"`
	// AddInitPositionsToHTTP seeds the poller's monitor set with the markets
	// of init and bootstrapped positions.
	AddInitPositionsToHTTP bool `toml:"add_init_positions_to_http"`
	// InitPositions are applied as confirmed buys before any live events.
	InitPositions []InitPositionConfig `toml:"init_positions"`
}

// InitPositionConfig is one position seeded from configuration.
type InitPositionConfig struct {
	AssetID  string  `toml:"asset_id"`
	MarketID string  `toml:"market_id"`
	Slug     string  `toml:"slug"`
	Outcome  string  `toml:"outcome"`
	Price    float64 `toml:"price"`
	Size     float64 `toml:"size"`
}

// PolymarketConfig holds Polymarket API endpoints and account credentials.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	DataHost  string `toml:"data_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	// WsProxy is an optional HTTP proxy URL for the websocket dial.
	WsProxy string `toml:"ws_proxy"`

	// UserAddress is the funder address whose account is watched.
	UserAddress string `toml:"user_address"`

	// The L2 API credential triple. Either all three are set, or
	// EncryptedCredsPath plus CredsPassword point at an encrypted file.
	ApiKey             string `toml:"api_key"`
	ApiSecret          string `toml:"api_secret"`
	ApiPassphrase      string `toml:"api_passphrase"`
	EncryptedCredsPath string `toml:"encrypted_creds_path"`
	CredsPassword      string `toml:"creds_password"`
}

// JournalConfig holds PostgreSQL connection parameters for the trade
// journal.
type JournalConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the update bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// export.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Watcher: WatcherConfig{
			EnableHTTPFallback: true,
			HTTPPollInterval:   duration{30 * time.Second},
			EnableFeeCalc:      false,
			BootstrapPositions: true,
		},
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			DataHost:  "https://data-api.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
		},
		Journal: JournalConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "polywatcher-data",
			UseSSL:           false,
			ForcePathStyle:   true,
			SnapshotInterval: duration{5 * time.Minute},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Watcher
	if c.Watcher.EnableHTTPFallback && c.Watcher.HTTPPollInterval.Duration <= 0 {
		errs = append(errs, "watcher: http_poll_interval must be > 0 when enable_http_fallback is set")
	}
	for i, p := range c.Watcher.InitPositions {
		if p.AssetID == "" {
			errs = append(errs, fmt.Sprintf("watcher: init_positions[%d]: asset_id must not be empty", i))
		}
		if p.Size <= 0 {
			errs = append(errs, fmt.Sprintf("watcher: init_positions[%d]: size must be > 0", i))
		}
		if p.Price < 0 || p.Price > 1 {
			errs = append(errs, fmt.Sprintf("watcher: init_positions[%d]: price must be in [0, 1], got %g", i, p.Price))
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.UserAddress == "" {
		errs = append(errs, "polymarket: user_address must not be empty")
	}

	// Credentials. Either the raw triple or an encrypted file.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if ak || as || ap {
		if !(ak && as && ap) {
			errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
		}
	} else if c.Polymarket.EncryptedCredsPath == "" {
		errs = append(errs, "polymarket: either the api credential triple or encrypted_creds_path must be set")
	}
	if c.Polymarket.EncryptedCredsPath != "" && c.Polymarket.CredsPassword == "" {
		errs = append(errs, "polymarket: creds_password is required when encrypted_creds_path is set")
	}

	// Journal
	if c.Journal.Enabled {
		if strings.TrimSpace(c.Journal.DSN) == "" {
			if c.Journal.Host == "" {
				errs = append(errs, "journal: host must not be empty (or set journal.dsn)")
			}
			if c.Journal.Port <= 0 || c.Journal.Port > 65535 {
				errs = append(errs, fmt.Sprintf("journal: port must be 1-65535, got %d", c.Journal.Port))
			}
			if c.Journal.Database == "" {
				errs = append(errs, "journal: database must not be empty")
			}
		}
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
		if c.Journal.PoolMinConns < 0 {
			errs = append(errs, "journal: pool_min_conns must be >= 0")
		}
		if c.Journal.PoolMinConns > c.Journal.PoolMaxConns {
			errs = append(errs, "journal: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.SnapshotInterval.Duration <= 0 {
			errs = append(errs, "s3: snapshot_interval must be > 0 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
