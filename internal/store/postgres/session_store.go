package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Save upserts the session record under its key.
func (s *SessionStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	const query = `
		INSERT INTO sessions (
			key, signer_address, owner_address, allowance_total_wei,
			period_seconds, issued_at, expiry, delegation_token,
			delegation_manager, chain_id, remaining_uses, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO UPDATE SET
			signer_address = EXCLUDED.signer_address,
			owner_address = EXCLUDED.owner_address,
			allowance_total_wei = EXCLUDED.allowance_total_wei,
			period_seconds = EXCLUDED.period_seconds,
			issued_at = EXCLUDED.issued_at,
			expiry = EXCLUDED.expiry,
			delegation_token = EXCLUDED.delegation_token,
			delegation_manager = EXCLUDED.delegation_manager,
			chain_id = EXCLUDED.chain_id,
			remaining_uses = EXCLUDED.remaining_uses,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		rec.Key,
		rec.Grant.SignerAddress,
		rec.Grant.OwnerAddress,
		weiText(rec.Grant.AllowanceTotalWei),
		rec.Grant.PeriodSeconds,
		rec.Grant.IssuedAt,
		rec.Grant.ExpiryTimestamp,
		rec.Grant.DelegationToken,
		rec.Grant.DelegationManagerRef,
		rec.Grant.ChainID,
		rec.RemainingUses,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save session %s: %w", rec.Key, err)
	}
	return nil
}

// Load reads the session record for key. Returns domain.ErrNotFound when no
// record exists.
func (s *SessionStore) Load(ctx context.Context, key string) (domain.SessionRecord, error) {
	const query = `
		SELECT key, signer_address, owner_address, allowance_total_wei,
		       period_seconds, issued_at, expiry, delegation_token,
		       delegation_manager, chain_id, remaining_uses, updated_at
		FROM sessions WHERE key = $1`

	var rec domain.SessionRecord
	var allowance string
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&rec.Grant.SignerAddress,
		&rec.Grant.OwnerAddress,
		&allowance,
		&rec.Grant.PeriodSeconds,
		&rec.Grant.IssuedAt,
		&rec.Grant.ExpiryTimestamp,
		&rec.Grant.DelegationToken,
		&rec.Grant.DelegationManagerRef,
		&rec.Grant.ChainID,
		&rec.RemainingUses,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("postgres: load session %s: %w", key, err)
	}

	rec.Grant.AllowanceTotalWei = parseWei(allowance)
	return rec, nil
}

// UpdateRemainingUses persists the use counter for key.
func (s *SessionStore) UpdateRemainingUses(ctx context.Context, key string, remaining int) error {
	const query = `UPDATE sessions SET remaining_uses = $2, updated_at = NOW() WHERE key = $1`
	tag, err := s.pool.Exec(ctx, query, key, remaining)
	if err != nil {
		return fmt.Errorf("postgres: update remaining uses %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update remaining uses %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Delete removes the session record for key. Deleting a missing record is not
// an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM sessions WHERE key = $1`
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("postgres: delete session %s: %w", key, err)
	}
	return nil
}

// weiText renders a wei amount as decimal text, empty for nil.
func weiText(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// parseWei parses decimal text into a wei amount, nil for empty or malformed
// input.
func parseWei(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
