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
// built-in defaults, applies JACKPET_* environment variable overrides, and
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

// applyEnvOverrides reads well-known JACKPET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "JACKPET_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "JACKPET_CHAIN_ID")

	// ── Wallet ──
	setStr(&cfg.Wallet.RPCURL, "JACKPET_WALLET_RPC_URL")
	setStr(&cfg.Wallet.OwnerAddress, "JACKPET_WALLET_OWNER_ADDRESS")

	// ── Session ──
	setStr(&cfg.Session.SignerPrivateKey, "JACKPET_SESSION_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Session.EncryptedKeyPath, "JACKPET_SESSION_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Session.KeyPassword, "JACKPET_SESSION_KEY_PASSWORD")
	setStr(&cfg.Session.StorageKey, "JACKPET_SESSION_STORAGE_KEY")

	// ── Bundler ──
	setStr(&cfg.Bundler.URL, "JACKPET_BUNDLER_URL")
	setStr(&cfg.Bundler.APIKey, "JACKPET_BUNDLER_API_KEY")
	setInt(&cfg.Bundler.RateLimitPerSec, "JACKPET_BUNDLER_RATE_LIMIT_PER_SEC")

	// ── AutoPlay ──
	setInt(&cfg.AutoPlay.TicketRate, "JACKPET_AUTOPLAY_TICKET_RATE")
	setInt64(&cfg.AutoPlay.DurationSeconds, "JACKPET_AUTOPLAY_DURATION_SECONDS")
	setInt(&cfg.AutoPlay.PlayCount, "JACKPET_AUTOPLAY_PLAY_COUNT")
	setDuration(&cfg.AutoPlay.PollInterval, "JACKPET_AUTOPLAY_POLL_INTERVAL")
	setInt(&cfg.AutoPlay.PollMaxAttempts, "JACKPET_AUTOPLAY_POLL_MAX_ATTEMPTS")
	setStr(&cfg.AutoPlay.SubmitPath, "JACKPET_AUTOPLAY_SUBMIT_PATH")
	setDuration(&cfg.AutoPlay.BatchInterval, "JACKPET_AUTOPLAY_BATCH_INTERVAL")
	setInt(&cfg.AutoPlay.BatchOpsPerBatch, "JACKPET_AUTOPLAY_BATCH_OPS_PER_BATCH")
	setDuration(&cfg.AutoPlay.BatchTimeout, "JACKPET_AUTOPLAY_BATCH_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "JACKPET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "JACKPET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "JACKPET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "JACKPET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "JACKPET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "JACKPET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "JACKPET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "JACKPET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "JACKPET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "JACKPET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "JACKPET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "JACKPET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "JACKPET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "JACKPET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "JACKPET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "JACKPET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "JACKPET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "JACKPET_S3_REGION")
	setStr(&cfg.S3.Bucket, "JACKPET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "JACKPET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "JACKPET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "JACKPET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "JACKPET_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "JACKPET_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "JACKPET_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "JACKPET_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "JACKPET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "JACKPET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "JACKPET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "JACKPET_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "JACKPET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "JACKPET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "JACKPET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "JACKPET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "JACKPET_MODE")
	setStr(&cfg.LogLevel, "JACKPET_LOG_LEVEL")
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
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
