// Package session implements the permission lifecycle manager: it requests a
// time- and count-bounded delegated execution permission from the owner's
// wallet, persists the resulting grant across restarts, tracks remaining
// authorized uses, and revokes the grant locally when it expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
	"github.com/jackpetlabs/jackpetbot/internal/platform/wallet"
)

const (
	// livenessInterval is the cadence of the background validity check.
	livenessInterval = 10 * time.Second

	// permissionType is the wallet permission kind this engine requests.
	permissionType = "native-token-periodic"

	// signerType identifies the delegated executor account in the request.
	signerType = "account"
)

// defaultTicketFeeWei (0.01 ether) is used when the chain fee read fails.
var defaultTicketFeeWei = big.NewInt(10_000_000_000_000_000)

// FeeReader reads the current per-game fee from chain.
type FeeReader interface {
	TicketFee(ctx context.Context) (*big.Int, error)
}

// Granter issues the delegated-permission wallet request.
type Granter interface {
	GrantPermissions(ctx context.Context, req wallet.GrantRequest) (wallet.GrantResponse, error)
}

// Config carries the static identity parameters for permission requests.
type Config struct {
	StorageKey    string
	ChainID       int64
	OwnerAddress  string
	SignerAddress string
}

// Manager owns the grant and its use counter. The counter is single-writer:
// only the scheduler calls DecrementUses, only the manager creates or clears
// the grant.
type Manager struct {
	cfg    Config
	wallet Granter
	fees   FeeReader
	store  domain.SessionStore
	audit  domain.AuditStore // optional
	logger *slog.Logger

	mu            sync.Mutex
	grant         *domain.PermissionGrant
	remainingUses int
	unsupported   bool // latched when the wallet lacks the grant method
	onRevoke      func()

	now func() time.Time
}

// NewManager creates a Manager. audit may be nil.
func NewManager(cfg Config, granter Granter, fees FeeReader, store domain.SessionStore, audit domain.AuditStore, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		wallet: granter,
		fees:   fees,
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "session")),
		now:    time.Now,
	}
}

// Load restores the persisted session record. An expired or exhausted record
// is discarded rather than restored.
func (m *Manager) Load(ctx context.Context) error {
	rec, err := m.store.Load(ctx, m.cfg.StorageKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: load: %w", err)
	}

	if !rec.Grant.Valid(m.now(), rec.RemainingUses) {
		m.logger.InfoContext(ctx, "discarding stale session record",
			slog.Time("expiry", rec.Grant.ExpiryTimestamp),
			slog.Int("remaining_uses", rec.RemainingUses),
		)
		if err := m.store.Delete(ctx, m.cfg.StorageKey); err != nil {
			m.logger.WarnContext(ctx, "stale record delete failed", slog.String("error", err.Error()))
		}
		return nil
	}

	m.mu.Lock()
	grant := rec.Grant
	m.grant = &grant
	m.remainingUses = rec.RemainingUses
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session restored",
		slog.Time("expiry", rec.Grant.ExpiryTimestamp),
		slog.Int("remaining_uses", rec.RemainingUses),
	)
	return nil
}

// RequestPermission asks the wallet for a delegated execution permission
// bounded by the given settings, persists the grant, and returns it. A
// "method not found" class error latches Supported()==false for the session
// instead of retrying.
func (m *Manager) RequestPermission(ctx context.Context, settings domain.PermissionSettings) (*domain.PermissionGrant, error) {
	if settings.PlayCount < 1 {
		return nil, fmt.Errorf("session: %w: play count must be >= 1", domain.ErrInvalidRequest)
	}
	if settings.DurationSeconds < 1 {
		return nil, fmt.Errorf("session: %w: duration must be >= 1s", domain.ErrInvalidRequest)
	}
	if m.cfg.OwnerAddress == "" {
		return nil, fmt.Errorf("session: %w: owner address not configured", domain.ErrConfigMissing)
	}

	allowance := m.computeAllowance(ctx, settings)

	issuedAt := m.now()
	expiry := issuedAt.Add(time.Duration(settings.DurationSeconds) * time.Second)

	req := wallet.GrantRequest{
		ChainID: fmt.Sprintf("0x%x", m.cfg.ChainID),
		Address: m.cfg.OwnerAddress,
		Expiry:  expiry.Unix(),
		Permissions: []wallet.GrantPermission{{
			Type: permissionType,
			Data: map[string]any{
				"periodAmount":   allowance.String(),
				"periodDuration": settings.DurationSeconds,
				"justification":  fmt.Sprintf("JackPet auto-play: %d plays", settings.PlayCount),
			},
		}},
		IsAdjustmentAllowed: false,
	}
	req.Signer.Type = signerType
	req.Signer.Data.Address = m.cfg.SignerAddress

	resp, err := m.wallet.GrantPermissions(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedCapability) {
			m.mu.Lock()
			m.unsupported = true
			m.mu.Unlock()
			m.logger.WarnContext(ctx, "wallet lacks delegated permissions, feature disabled for session")
		}
		return nil, err
	}

	grant := domain.PermissionGrant{
		SignerAddress:        m.cfg.SignerAddress,
		OwnerAddress:         m.cfg.OwnerAddress,
		AllowanceTotalWei:    allowance,
		IssuedAt:             issuedAt,
		ExpiryTimestamp:      expiry,
		DelegationToken:      resp.PermissionsContext,
		DelegationManagerRef: resp.SignerMeta.DelegationManager,
		ChainID:              m.cfg.ChainID,
	}
	// The wallet may shorten the expiry; honour its value when present.
	if resp.Expiry > 0 {
		grant.ExpiryTimestamp = time.Unix(resp.Expiry, 0)
	}
	grant.PeriodSeconds = int64(grant.ExpiryTimestamp.Sub(issuedAt) / time.Second)

	if err := m.store.Save(ctx, domain.SessionRecord{
		Key:           m.cfg.StorageKey,
		Grant:         grant,
		RemainingUses: settings.PlayCount,
		UpdatedAt:     m.now(),
	}); err != nil {
		return nil, fmt.Errorf("session: persist grant: %w", err)
	}

	m.mu.Lock()
	m.grant = &grant
	m.remainingUses = settings.PlayCount
	m.mu.Unlock()

	m.auditLog(ctx, "permission_granted", map[string]any{
		"signer":         grant.SignerAddress,
		"allowance_wei":  allowance.String(),
		"expiry":         grant.ExpiryTimestamp.Unix(),
		"play_count":     settings.PlayCount,
		"period_seconds": grant.PeriodSeconds,
	})
	m.logger.InfoContext(ctx, "permission granted",
		slog.String("signer", grant.SignerAddress),
		slog.Time("expiry", grant.ExpiryTimestamp),
		slog.Int("play_count", settings.PlayCount),
	)
	return &grant, nil
}

// computeAllowance reads the per-game fee and multiplies by the play count,
// applying the optional value ceiling. A failed fee read degrades to the
// hard-coded default fee.
func (m *Manager) computeAllowance(ctx context.Context, settings domain.PermissionSettings) *big.Int {
	fee, err := m.fees.TicketFee(ctx)
	if err != nil || fee == nil || fee.Sign() <= 0 {
		m.logger.WarnContext(ctx, "fee read failed, using default fee",
			slog.String("default_wei", defaultTicketFeeWei.String()),
		)
		fee = defaultTicketFeeWei
	}

	allowance := new(big.Int).Mul(fee, big.NewInt(int64(settings.PlayCount)))
	if settings.ValueCeilingWei != nil && allowance.Cmp(settings.ValueCeilingWei) > 0 {
		allowance = new(big.Int).Set(settings.ValueCeilingWei)
	}
	return allowance
}

// Revoke abandons the grant locally: it clears the persisted record, zeroes
// the use counter, and stops any registered auto-play loop. No chain call is
// made; the capability itself is revoked by external systems.
func (m *Manager) Revoke(ctx context.Context) {
	m.mu.Lock()
	hadGrant := m.grant != nil
	m.grant = nil
	m.remainingUses = 0
	stop := m.onRevoke
	m.mu.Unlock()

	if !hadGrant {
		return
	}

	if err := m.store.Delete(ctx, m.cfg.StorageKey); err != nil {
		m.logger.WarnContext(ctx, "grant record delete failed", slog.String("error", err.Error()))
	}
	if stop != nil {
		stop()
	}

	m.auditLog(ctx, "permission_revoked", nil)
	m.logger.InfoContext(ctx, "permission revoked")
}

// OnRevoke registers the scheduler's stop function so Revoke can halt an
// active loop.
func (m *Manager) OnRevoke(stop func()) {
	m.mu.Lock()
	m.onRevoke = stop
	m.mu.Unlock()
}

// IsValid reports whether the held grant authorizes further plays now.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grant.Valid(m.now(), m.remainingUses)
}

// Grant returns a copy of the held grant, or nil when none is held.
func (m *Manager) Grant() *domain.PermissionGrant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grant == nil {
		return nil
	}
	g := *m.grant
	return &g
}

// RemainingUses returns the current use counter.
func (m *Manager) RemainingUses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingUses
}

// Supported reports whether the wallet supports delegated permissions. False
// only after a request failed with a method-not-found class error.
func (m *Manager) Supported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unsupported
}

// DecrementUses consumes one authorized use and persists the new counter.
// Only the scheduler calls this, exactly once per completed game. The
// counter never goes below zero.
func (m *Manager) DecrementUses(ctx context.Context) int {
	m.mu.Lock()
	if m.remainingUses > 0 {
		m.remainingUses--
	}
	remaining := m.remainingUses
	m.mu.Unlock()

	if err := m.store.UpdateRemainingUses(ctx, m.cfg.StorageKey, remaining); err != nil {
		m.logger.WarnContext(ctx, "use counter persist failed",
			slog.Int("remaining", remaining),
			slog.String("error", err.Error()),
		)
	}
	return remaining
}

// Run is the background liveness check: every 10 seconds, a held grant that
// is no longer valid is auto-revoked. Blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.mu.Lock()
			held := m.grant != nil
			valid := m.grant.Valid(m.now(), m.remainingUses)
			m.mu.Unlock()

			if held && !valid {
				m.logger.InfoContext(ctx, "grant no longer valid, auto-revoking")
				m.auditLog(ctx, "grant_expired", nil)
				m.Revoke(ctx)
			}
		}
	}
}

func (m *Manager) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
