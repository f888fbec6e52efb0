package domain

import (
	"context"
	"math/big"
	"time"
)

// OutcomeCache provides fast access to recently settled outcomes so the UI
// and the poller can avoid redundant chain reads.
type OutcomeCache interface {
	Set(ctx context.Context, outcome GameOutcome) error
	Get(ctx context.Context, requestID *big.Int) (GameOutcome, error)
	Invalidate(ctx context.Context, requestID *big.Int) error
}

// RateLimiter provides distributed rate limiting for relay calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// SignalBus provides pub/sub for session status and outcome events consumed
// by the WebSocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
