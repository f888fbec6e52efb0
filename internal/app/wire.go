package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackpetlabs/jackpetbot/internal/autoplay"
	s3blob "github.com/jackpetlabs/jackpetbot/internal/blob/s3"
	"github.com/jackpetlabs/jackpetbot/internal/cache/redis"
	"github.com/jackpetlabs/jackpetbot/internal/config"
	"github.com/jackpetlabs/jackpetbot/internal/crypto"
	"github.com/jackpetlabs/jackpetbot/internal/domain"
	"github.com/jackpetlabs/jackpetbot/internal/notify"
	"github.com/jackpetlabs/jackpetbot/internal/platform/bundler"
	"github.com/jackpetlabs/jackpetbot/internal/platform/chain"
	"github.com/jackpetlabs/jackpetbot/internal/platform/wallet"
	"github.com/jackpetlabs/jackpetbot/internal/poll"
	"github.com/jackpetlabs/jackpetbot/internal/service"
	"github.com/jackpetlabs/jackpetbot/internal/session"
	"github.com/jackpetlabs/jackpetbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes operate on. Wire
// constructs it; the returned cleanup function tears it down.
type Dependencies struct {
	// Stores
	SessionStore domain.SessionStore
	GameStore    domain.GameStore
	AuditStore   domain.AuditStore

	// Caches
	OutcomeCache domain.OutcomeCache
	RateLimiter  domain.RateLimiter
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Platform clients
	Chain  *chain.Client
	Wallet *wallet.Client
	Signer *crypto.SessionSigner

	// Relay submission
	Oracle      *bundler.Oracle
	Submitter   *bundler.Service
	UserOpStrat *bundler.UserOpStrategy // nil when no relay endpoint is set

	// Engine
	Session   *session.Manager
	Game      *service.GameService
	Poller    *poll.Engine
	Scheduler *autoplay.Scheduler

	// Notifications
	Notifier *notify.Notifier
}

// isDemo reports whether the mode runs fully offline.
func isDemo(mode string) bool {
	return strings.ToLower(mode) == "demo"
}

// Wire constructs all concrete implementations from the configuration. Demo
// mode skips every external system: no database, cache, chain, or wallet.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Notifications (all modes) ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if isDemo(cfg.Mode) {
		deps.Game = service.NewGameService(service.Config{
			OwnerAddress: cfg.Wallet.OwnerAddress,
		}, nil, nil, nil, nil, nil, logger)
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SessionStore = postgres.NewSessionStore(pool)
	deps.GameStore = postgres.NewGameStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.OutcomeCache = redis.NewOutcomeCache(redisClient, 0)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Bundler.RateLimitPerSec, 0)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archival is on) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.GameStore, deps.AuditStore)
	}

	// --- Chain and wallet clients ---
	contractAddr := cfg.Chain.ContractAddress(cfg.Chain.ChainID)
	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, contractAddr, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	deps.Wallet = wallet.NewClient(wallet.NewHTTPProvider(cfg.Wallet.RPCURL))

	signer, err := crypto.LoadOrCreateSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Session.SignerPrivateKey,
		EncryptedKeyPath: cfg.Session.EncryptedKeyPath,
		KeyPassword:      cfg.Session.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: session signer: %w", err)
	}
	deps.Signer = signer

	// --- Relay submission ---
	relayEndpoint := cfg.Bundler.Endpoint(cfg.Chain.ChainID)
	deps.Oracle = bundler.NewOracle(relayEndpoint, chainClient, logger)

	var strategies []bundler.SubmitStrategy
	if strings.ToLower(cfg.AutoPlay.SubmitPath) == "relay" && relayEndpoint != "" {
		deps.UserOpStrat = bundler.NewUserOpStrategy(relayEndpoint)
		strategies = append(strategies, deps.UserOpStrat)
	}
	strategies = append(strategies, bundler.NewRawTxStrategy(chainClient, signer, cfg.Chain.ChainID))

	deps.Submitter = bundler.NewService(strategies, deps.Oracle, deps.RateLimiter, cfg.Bundler.RateLimitPerSec, logger)

	// --- Engine ---
	deps.Poller = poll.NewEngine(chainClient, deps.OutcomeCache, deps.GameStore, logger)

	deps.Session = session.NewManager(session.Config{
		StorageKey:    cfg.Session.StorageKey,
		ChainID:       cfg.Chain.ChainID,
		OwnerAddress:  cfg.Wallet.OwnerAddress,
		SignerAddress: signer.Address().Hex(),
	}, deps.Wallet, chainClient, deps.SessionStore, deps.AuditStore, logger)

	var opWaiter service.OpReceiptWaiter
	if deps.UserOpStrat != nil {
		opWaiter = deps.UserOpStrat
	}
	deps.Game = service.NewGameService(service.Config{
		OwnerAddress:    cfg.Wallet.OwnerAddress,
		ContractAddress: contractAddr,
	}, deps.Wallet, chainClient, deps.Submitter, opWaiter, deps.GameStore, logger)

	deps.Scheduler = autoplay.NewScheduler(autoplay.Config{
		TicketRate:      uint32(cfg.AutoPlay.TicketRate),
		PollInterval:    cfg.AutoPlay.PollInterval.Duration,
		PollMaxAttempts: cfg.AutoPlay.PollMaxAttempts,
	}, deps.Session, deps.Game, deps.Poller, deps.SignalBus, deps.Notifier, logger)

	// Revoking the grant stops any running loop.
	deps.Session.OnRevoke(deps.Scheduler.Stop)

	return deps, cleanup, nil
}
