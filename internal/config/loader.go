package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQUIDOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known LIQUIDOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LIQUIDOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LIQUIDOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LIQUIDOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LIQUIDOT_CHAIN_RPC_URL")
	setUint64(&cfg.Chain.ChainID, "LIQUIDOT_CHAIN_ID")
	setStr(&cfg.Chain.ExecutorAddress, "LIQUIDOT_CHAIN_EXECUTOR_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "LIQUIDOT_CHAIN_GAS_LIMIT")

	// ── Relayer ──
	setStr(&cfg.Relayer.Key, "LIQUIDOT_RELAYER_KEY")
	setStr(&cfg.Relayer.Secret, "LIQUIDOT_RELAYER_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LIQUIDOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LIQUIDOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIQUIDOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIQUIDOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIQUIDOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIQUIDOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIQUIDOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LIQUIDOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LIQUIDOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LIQUIDOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LIQUIDOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQUIDOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQUIDOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIQUIDOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIQUIDOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIQUIDOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LIQUIDOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LIQUIDOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQUIDOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQUIDOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQUIDOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQUIDOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIQUIDOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIQUIDOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "LIQUIDOT_S3_ARCHIVE_INTERVAL")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "LIQUIDOT_MONITOR_POLL_INTERVAL")
	setInt(&cfg.Monitor.BatchSize, "LIQUIDOT_MONITOR_BATCH_SIZE")
	setInt64(&cfg.Monitor.DefaultSlippageBps, "LIQUIDOT_MONITOR_DEFAULT_SLIPPAGE_BPS")
	setDuration(&cfg.Monitor.LockTTL, "LIQUIDOT_MONITOR_LOCK_TTL")

	// ── Executor ──
	setDuration(&cfg.Executor.SweepInterval, "LIQUIDOT_EXECUTOR_SWEEP_INTERVAL")
	setInt(&cfg.Executor.SweepBatch, "LIQUIDOT_EXECUTOR_SWEEP_BATCH")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LIQUIDOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LIQUIDOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LIQUIDOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LIQUIDOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LIQUIDOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LIQUIDOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIQUIDOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIQUIDOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIQUIDOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LIQUIDOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LIQUIDOT_MODE")
	setStr(&cfg.LogLevel, "LIQUIDOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
