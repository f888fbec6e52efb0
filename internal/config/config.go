// Package config defines the top-level configuration for the jackpet
// auto-play service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by JACKPET_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Session  SessionConfig  `toml:"session"`
	Bundler  BundlerConfig  `toml:"bundler"`
	AutoPlay AutoPlayConfig `toml:"autoplay"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds chain endpoints and per-chain contract addresses.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
	// Contracts maps a decimal chain id to the game contract address.
	Contracts map[string]string `toml:"contracts"`
}

// ContractAddress returns the game contract for the given chain, falling back
// to the configured primary chain. Empty when neither is configured.
func (c ChainConfig) ContractAddress(chainID int64) string {
	if addr, ok := c.Contracts[fmt.Sprintf("%d", chainID)]; ok {
		return addr
	}
	return c.Contracts[fmt.Sprintf("%d", c.ChainID)]
}

// WalletConfig holds the owner wallet's RPC endpoint.
type WalletConfig struct {
	RPCURL       string `toml:"rpc_url"`
	OwnerAddress string `toml:"owner_address"`
}

// SessionConfig holds the delegated session signer credentials and the fixed
// storage key under which the grant record persists.
type SessionConfig struct {
	SignerPrivateKey string `toml:"signer_private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	StorageKey       string `toml:"storage_key"`
}

// BundlerConfig holds the relay operator endpoint. Both URL and API key are
// optional: absence degrades to the public-node fallback paths.
type BundlerConfig struct {
	URL             string `toml:"url"`
	APIKey          string `toml:"api_key"`
	RateLimitPerSec int    `toml:"rate_limit_per_sec"`
}

// Endpoint builds the relay RPC URL for a chain, including the API key when
// the URL carries a {chain} placeholder (pimlico-style endpoints).
func (b BundlerConfig) Endpoint(chainID int64) string {
	if b.URL == "" {
		return ""
	}
	url := strings.ReplaceAll(b.URL, "{chain}", fmt.Sprintf("%d", chainID))
	if b.APIKey != "" && strings.Contains(url, "?") {
		return url + "&apikey=" + b.APIKey
	}
	if b.APIKey != "" {
		return url + "?apikey=" + b.APIKey
	}
	return url
}

// AutoPlayConfig holds the scheduler and polling parameters.
type AutoPlayConfig struct {
	TicketRate       int      `toml:"ticket_rate"`
	DurationSeconds  int64    `toml:"duration_seconds"`
	PlayCount        int      `toml:"play_count"`
	PollInterval     duration `toml:"poll_interval"`
	PollMaxAttempts  int      `toml:"poll_max_attempts"`
	SubmitPath       string   `toml:"submit_path"` // "relay" or "direct"
	BatchInterval    duration `toml:"batch_interval"`
	BatchOpsPerBatch int      `toml:"batch_ops_per_batch"`
	BatchTimeout     duration `toml:"batch_timeout"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of settled game history.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration wraps time.Duration so TOML can parse strings like "2s" or "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds operator notification parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible defaults for every field
// that has one. Load overlays the TOML file and environment on top of this.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:  "https://api.zan.top/eth-sepolia",
			ChainID: 11155111,
			Contracts: map[string]string{
				"11155111": "0xa664B175c5867b4FCEDC4d1E31DC8E1eC0D61E19",
				"421614":   "0x1C827C89dF5490A4F58C0512fc476Acfd0ecDeB7",
			},
		},
		Session: SessionConfig{
			StorageKey: "jackpet:session",
		},
		Bundler: BundlerConfig{
			RateLimitPerSec: 5,
		},
		AutoPlay: AutoPlayConfig{
			TicketRate:       100,
			DurationSeconds:  24 * 3600,
			PlayCount:        10,
			PollInterval:     duration{2 * time.Second},
			PollMaxAttempts:  150,
			SubmitPath:       "relay",
			BatchInterval:    duration{5 * time.Second},
			BatchOpsPerBatch: 1,
			BatchTimeout:     duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "jackpet",
			User:         "jackpet",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"autoplay_completed", "autoplay_aborted", "jackpot_won", "grant_expired"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"autoplay": true,
	"serve":    true,
	"demo":     true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Relay credentials are
// deliberately NOT required: their absence degrades to public-node fallbacks
// at runtime.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: autoplay, serve, demo, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsChain := c.Mode != "demo"
	if needsChain {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ContractAddress(c.Chain.ChainID) == "" {
			errs = append(errs, fmt.Sprintf("chain: no game contract configured for chain %d", c.Chain.ChainID))
		}
		if c.Wallet.RPCURL == "" {
			errs = append(errs, "wallet: rpc_url must not be empty for mode "+c.Mode)
		}
	}

	if needsChain && c.Session.EncryptedKeyPath != "" && c.Session.KeyPassword == "" {
		errs = append(errs, "session: key_password is required when encrypted_key_path is set")
	}
	if c.Session.StorageKey == "" {
		errs = append(errs, "session: storage_key must not be empty")
	}

	if c.AutoPlay.TicketRate < 1 {
		errs = append(errs, "autoplay: ticket_rate must be >= 1")
	}
	if c.AutoPlay.PlayCount < 1 {
		errs = append(errs, "autoplay: play_count must be >= 1")
	}
	if c.AutoPlay.PollInterval.Duration <= 0 {
		errs = append(errs, "autoplay: poll_interval must be > 0")
	}
	if c.AutoPlay.PollMaxAttempts < 1 {
		errs = append(errs, "autoplay: poll_max_attempts must be >= 1")
	}
	if sp := strings.ToLower(c.AutoPlay.SubmitPath); sp != "relay" && sp != "direct" {
		errs = append(errs, fmt.Sprintf("autoplay: unknown submit_path %q (valid: relay, direct)", c.AutoPlay.SubmitPath))
	}

	if needsChain {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

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
