package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
log_level = "debug"

[watcher]
http_poll_interval = "10s"
enable_fee_calc = true

[polymarket]
user_address = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"
api_key = "k"
api_secret = "s"
api_passphrase = "p"

[[watcher.init_positions]]
asset_id = "asset-1"
price = 0.42
size = 100.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Watcher.HTTPPollInterval.Duration)
	assert.True(t, cfg.Watcher.EnableFeeCalc)

	// Untouched fields keep their defaults.
	assert.True(t, cfg.Watcher.EnableHTTPFallback)
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 5*time.Minute, cfg.S3.SnapshotInterval.Duration)

	require.Len(t, cfg.Watcher.InitPositions, 1)
	assert.Equal(t, "asset-1", cfg.Watcher.InitPositions[0].AssetID)
	assert.InDelta(t, 0.42, cfg.Watcher.InitPositions[0].Price, 1e-9)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
[polymarket]
user_address = "0xfromfile"
api_key = "file-key"
api_secret = "s"
api_passphrase = "p"
`)

	t.Setenv("POLYWATCHER_POLYMARKET_USER_ADDRESS", "0xfromenv")
	t.Setenv("POLYWATCHER_POLYMARKET_API_KEY", "env-key")
	t.Setenv("POLYWATCHER_WATCHER_HTTP_POLL_INTERVAL", "45s")
	t.Setenv("POLYWATCHER_JOURNAL_PORT", "6543")
	t.Setenv("POLYWATCHER_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xfromenv", cfg.Polymarket.UserAddress)
	assert.Equal(t, "env-key", cfg.Polymarket.ApiKey)
	assert.Equal(t, 45*time.Second, cfg.Watcher.HTTPPollInterval.Duration)
	assert.Equal(t, 6543, cfg.Journal.Port)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Polymarket.UserAddress = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"
	cfg.Polymarket.ApiKey = "k"
	cfg.Polymarket.ApiSecret = "s"
	cfg.Polymarket.ApiPassphrase = "p"
	return cfg
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	cfg.Polymarket.UserAddress = ""
	cfg.Watcher.HTTPPollInterval.Duration = 0
	cfg.Watcher.InitPositions = []InitPositionConfig{
		{AssetID: "", Price: 1.5, Size: -1},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown log_level")
	assert.ErrorContains(t, err, "user_address must not be empty")
	assert.ErrorContains(t, err, "http_poll_interval must be > 0")
	assert.ErrorContains(t, err, "asset_id must not be empty")
	assert.ErrorContains(t, err, "size must be > 0")
	assert.ErrorContains(t, err, "price must be in [0, 1]")
}

func TestValidate_PartialCredTriple(t *testing.T) {
	cfg := validConfig()
	cfg.Polymarket.ApiSecret = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "must all be set together")
}

func TestValidate_NoCredsAtAll(t *testing.T) {
	cfg := validConfig()
	cfg.Polymarket.ApiKey = ""
	cfg.Polymarket.ApiSecret = ""
	cfg.Polymarket.ApiPassphrase = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "encrypted_creds_path")
}

func TestValidate_EncryptedPathNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Polymarket.ApiKey = ""
	cfg.Polymarket.ApiSecret = ""
	cfg.Polymarket.ApiPassphrase = ""
	cfg.Polymarket.EncryptedCredsPath = "/etc/polywatcher/creds.json"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "creds_password is required")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Polymarket.ApiSecret = "raw-secret"
	cfg.Journal.Password = "db-pass"
	cfg.Redis.Password = ""

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Polymarket.ApiSecret)
	assert.Equal(t, "***", out.Journal.Password)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	// The original is untouched.
	assert.Equal(t, "raw-secret", cfg.Polymarket.ApiSecret)
}

func TestValidate_JournalPool(t *testing.T) {
	cfg := validConfig()
	cfg.Journal.Enabled = true
	cfg.Journal.PoolMinConns = 20
	cfg.Journal.PoolMaxConns = 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "pool_min_conns must not exceed pool_max_conns")
}
