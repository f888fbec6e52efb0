package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// defaultOutcomeTTL bounds how long a settled outcome stays cached. The chain
// remains the authority; the cache only spares redundant reads.
const defaultOutcomeTTL = 24 * time.Hour

// OutcomeCache implements domain.OutcomeCache using Redis string keys holding
// JSON-encoded outcomes at "outcome:{requestId}".
type OutcomeCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOutcomeCache creates an OutcomeCache backed by the given Client. A ttl
// of zero takes the default.
func NewOutcomeCache(c *Client, ttl time.Duration) *OutcomeCache {
	if ttl <= 0 {
		ttl = defaultOutcomeTTL
	}
	return &OutcomeCache{rdb: c.Underlying(), ttl: ttl}
}

func outcomeKey(requestID *big.Int) string {
	return "outcome:" + requestID.String()
}

// cachedOutcome is the JSON wire form; wei amounts travel as decimal strings.
type cachedOutcome struct {
	RequestID        string `json:"request_id"`
	Player           string `json:"player"`
	A                uint8  `json:"a"`
	B                uint8  `json:"b"`
	C                uint8  `json:"c"`
	TicketRate       uint32 `json:"ticket_rate"`
	PayoutWei        string `json:"payout_wei,omitempty"`
	JackpotPayoutWei string `json:"jackpot_payout_wei,omitempty"`
	SettledAt        int64  `json:"settled_at"`
}

// Set stores a settled outcome with the configured TTL.
func (oc *OutcomeCache) Set(ctx context.Context, outcome domain.GameOutcome) error {
	if outcome.RequestID == nil {
		return fmt.Errorf("redis: set outcome: %w: missing request id", domain.ErrInvalidRequest)
	}

	entry := cachedOutcome{
		RequestID:  outcome.RequestID.String(),
		Player:     outcome.Player,
		A:          outcome.A,
		B:          outcome.B,
		C:          outcome.C,
		TicketRate: outcome.TicketRate,
		SettledAt:  outcome.SettledAt.Unix(),
	}
	if outcome.PayoutWei != nil {
		entry.PayoutWei = outcome.PayoutWei.String()
	}
	if outcome.JackpotPayoutWei != nil {
		entry.JackpotPayoutWei = outcome.JackpotPayoutWei.String()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal outcome %s: %w", entry.RequestID, err)
	}
	if err := oc.rdb.Set(ctx, outcomeKey(outcome.RequestID), payload, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set outcome %s: %w", entry.RequestID, err)
	}
	return nil
}

// Get retrieves a cached outcome. Returns domain.ErrNotFound on a miss.
func (oc *OutcomeCache) Get(ctx context.Context, requestID *big.Int) (domain.GameOutcome, error) {
	payload, err := oc.rdb.Get(ctx, outcomeKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GameOutcome{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GameOutcome{}, fmt.Errorf("redis: get outcome %s: %w", requestID, err)
	}

	var entry cachedOutcome
	if err := json.Unmarshal(payload, &entry); err != nil {
		return domain.GameOutcome{}, fmt.Errorf("redis: unmarshal outcome %s: %w", requestID, err)
	}

	outcome := domain.GameOutcome{
		RequestID:  new(big.Int).Set(requestID),
		Settled:    true,
		Player:     entry.Player,
		A:          entry.A,
		B:          entry.B,
		C:          entry.C,
		TicketRate: entry.TicketRate,
		SettledAt:  time.Unix(entry.SettledAt, 0).UTC(),
	}
	if entry.PayoutWei != "" {
		outcome.PayoutWei, _ = new(big.Int).SetString(entry.PayoutWei, 10)
	}
	if entry.JackpotPayoutWei != "" {
		outcome.JackpotPayoutWei, _ = new(big.Int).SetString(entry.JackpotPayoutWei, 10)
	}
	return outcome, nil
}

// Invalidate drops a cached outcome.
func (oc *OutcomeCache) Invalidate(ctx context.Context, requestID *big.Int) error {
	if err := oc.rdb.Del(ctx, outcomeKey(requestID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate outcome %s: %w", requestID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OutcomeCache = (*OutcomeCache)(nil)
