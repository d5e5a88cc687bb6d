package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYWATCHER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYWATCHER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Watcher ──
	setBool(&cfg.Watcher.EnableHTTPFallback, "POLYWATCHER_WATCHER_ENABLE_HTTP_FALLBACK")
	setDuration(&cfg.Watcher.HTTPPollInterval, "POLYWATCHER_WATCHER_HTTP_POLL_INTERVAL")
	setBool(&cfg.Watcher.EnableFeeCalc, "POLYWATCHER_WATCHER_ENABLE_FEE_CALC")
	setBool(&cfg.Watcher.BootstrapPositions, "POLYWATCHER_WATCHER_BOOTSTRAP_POSITIONS")
	setBool(&cfg.Watcher.AddInitPositionsToHTTP, "POLYWATCHER_WATCHER_ADD_INIT_POSITIONS_TO_HTTP")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYWATCHER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYWATCHER_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYWATCHER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYWATCHER_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.WsProxy, "POLYWATCHER_POLYMARKET_WS_PROXY")
	setStr(&cfg.Polymarket.UserAddress, "POLYWATCHER_POLYMARKET_USER_ADDRESS")
	setStr(&cfg.Polymarket.ApiKey, "POLYWATCHER_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYWATCHER_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYWATCHER_POLYMARKET_API_PASSPHRASE")
	setStr(&cfg.Polymarket.EncryptedCredsPath, "POLYWATCHER_POLYMARKET_ENCRYPTED_CREDS_PATH")
	setStr(&cfg.Polymarket.CredsPassword, "POLYWATCHER_POLYMARKET_CREDS_PASSWORD")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "POLYWATCHER_JOURNAL_ENABLED")
	setStr(&cfg.Journal.DSN, "POLYWATCHER_JOURNAL_DSN")
	setStr(&cfg.Journal.Host, "POLYWATCHER_JOURNAL_HOST")
	setInt(&cfg.Journal.Port, "POLYWATCHER_JOURNAL_PORT")
	setStr(&cfg.Journal.Database, "POLYWATCHER_JOURNAL_DATABASE")
	setStr(&cfg.Journal.User, "POLYWATCHER_JOURNAL_USER")
	setStr(&cfg.Journal.Password, "POLYWATCHER_JOURNAL_PASSWORD")
	setStr(&cfg.Journal.SSLMode, "POLYWATCHER_JOURNAL_SSLMODE")
	setInt(&cfg.Journal.PoolMaxConns, "POLYWATCHER_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "POLYWATCHER_JOURNAL_POOL_MIN_CONNS")
	setBool(&cfg.Journal.RunMigrations, "POLYWATCHER_JOURNAL_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYWATCHER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYWATCHER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYWATCHER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYWATCHER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYWATCHER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYWATCHER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYWATCHER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYWATCHER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYWATCHER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYWATCHER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYWATCHER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYWATCHER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYWATCHER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYWATCHER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYWATCHER_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.SnapshotInterval, "POLYWATCHER_S3_SNAPSHOT_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYWATCHER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
