// Package config defines the top-level configuration for the cross-ledger
// liquidity provisioner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LIQUIDOT_* environment
// variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Relayer  RelayerConfig  `toml:"relayer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Executor ExecutorConfig `toml:"executor"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the destination-side executor key. Either a raw private
// key or an encrypted key file plus password.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the destination EVM endpoint and the deployed liquidity
// executor contract.
type ChainConfig struct {
	RPCURL          string `toml:"rpc_url"`
	ChainID         uint64 `toml:"chain_id"`
	ExecutorAddress string `toml:"executor_address"`
	GasLimit        uint64 `toml:"gas_limit"`
}

// RelayerConfig holds the shared HMAC credentials for the cross-ledger
// relayer. Per-destination endpoints live in the chain registry.
type RelayerConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// MonitorConfig seeds the runtime settings on first start and holds the
// operator lock TTL. Runtime values live in the settings store afterwards.
type MonitorConfig struct {
	PollInterval       duration `toml:"poll_interval"`
	BatchSize          int      `toml:"batch_size"`
	DefaultSlippageBps int64    `toml:"default_slippage_bps"`
	LockTTL            duration `toml:"lock_ttl"`
}

// ExecutorConfig holds the pending-position sweep parameters.
type ExecutorConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
	SweepBatch    int      `toml:"sweep_batch"`
}

// ServerConfig holds the operator API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText parses duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration string form.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config pre-populated with sensible development values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:   "ws://localhost:8545",
			ChainID:  420420422,
			GasLimit: 1_500_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "liquidot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Enabled:         false,
			Region:          "us-east-1",
			UseSSL:          true,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Monitor: MonitorConfig{
			PollInterval:       duration{15 * time.Second},
			BatchSize:          100,
			DefaultSlippageBps: 50,
			LockTTL:            duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			SweepInterval: duration{time.Minute},
			SweepBatch:    50,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   50,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"critical", "warning"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"home":     true,
	"executor": true,
	"monitor":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// needsSigner reports whether the mode submits destination-side
// transactions.
func (c *Config) needsSigner() bool {
	switch strings.ToLower(c.Mode) {
	case "executor", "monitor", "full":
		return true
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: home, executor, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is required whenever transactions are
	// signed.
	if c.needsSigner() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID == 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.ExecutorAddress == "" {
			errs = append(errs, "chain: executor_address must not be empty")
		}
	}

	// Relayer credentials must be set together, or both empty.
	if (c.Relayer.Key == "") != (c.Relayer.Secret == "") {
		errs = append(errs, "relayer: key and secret must be set together")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 (only when the archiver is enabled)
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be positive")
	}
	if c.Monitor.BatchSize < 1 {
		errs = append(errs, "monitor: batch_size must be >= 1")
	}
	if c.Monitor.DefaultSlippageBps < 0 || c.Monitor.DefaultSlippageBps > 10000 {
		errs = append(errs, fmt.Sprintf("monitor: default_slippage_bps must be within [0, 10000], got %d", c.Monitor.DefaultSlippageBps))
	}

	// Executor
	if c.Executor.SweepInterval.Duration <= 0 {
		errs = append(errs, "executor: sweep_interval must be positive")
	}
	if c.Executor.SweepBatch < 1 {
		errs = append(errs, "executor: sweep_batch must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
