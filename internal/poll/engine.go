// Package poll implements the outcome-polling engine: it repeatedly reads a
// game request's settlement state from chain until the outcome arrives, the
// attempt budget is exhausted, or the caller cancels.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

const (
	// DefaultInterval is the pause between settlement reads.
	DefaultInterval = 2 * time.Second

	// DefaultMaxAttempts bounds a poll at roughly five minutes.
	DefaultMaxAttempts = 150
)

// OutcomeReader reads authoritative settlement state. Implemented by the
// chain client.
type OutcomeReader interface {
	GetOutcome(ctx context.Context, requestID *big.Int) (domain.GameOutcome, error)
}

// Options configures one poll. Zero values take the defaults.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
}

// Engine polls chain state for settlement. Settled outcomes are written
// through to the cache and store when configured; write-through failures are
// logged, never surfaced, because the authoritative result is already in
// hand.
type Engine struct {
	reader OutcomeReader
	cache  domain.OutcomeCache // optional
	store  domain.GameStore    // optional
	logger *slog.Logger
}

// NewEngine creates an Engine. cache and store may be nil.
func NewEngine(reader OutcomeReader, cache domain.OutcomeCache, store domain.GameStore, logger *slog.Logger) *Engine {
	return &Engine{
		reader: reader,
		cache:  cache,
		store:  store,
		logger: logger.With(slog.String("component", "poll_engine")),
	}
}

// Poll reads settlement state for requestID until it settles or the budget
// runs out. A transient read error does not abort the loop: it is logged and
// consumes one attempt like any other read. Exactly MaxAttempts reads are
// performed before domain.ErrPollTimeout; context cancellation wins over any
// pending timer.
func (e *Engine) Poll(ctx context.Context, requestID *big.Int, opts Options) (domain.GameOutcome, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	logger := e.logger.With(slog.String("request_id", requestID.String()))
	logger.InfoContext(ctx, "polling for settlement",
		slog.Duration("interval", interval),
		slog.Int("max_attempts", maxAttempts),
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return domain.GameOutcome{}, fmt.Errorf("poll: request %s: %w", requestID, ctx.Err())
		}

		outcome, err := e.reader.GetOutcome(ctx, requestID)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "settlement read failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		case outcome.Settled:
			logger.InfoContext(ctx, "settlement observed",
				slog.Int("attempt", attempt),
				slog.Int("a", int(outcome.A)),
				slog.Int("b", int(outcome.B)),
				slog.Int("c", int(outcome.C)),
			)
			e.writeThrough(ctx, outcome)
			return outcome, nil
		}

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.GameOutcome{}, fmt.Errorf("poll: request %s: %w", requestID, ctx.Err())
		case <-timer.C:
		}
	}

	return domain.GameOutcome{}, fmt.Errorf("poll: request %s after %d attempts: %w", requestID, maxAttempts, domain.ErrPollTimeout)
}

// writeThrough records a settled outcome in the cache and store.
func (e *Engine) writeThrough(ctx context.Context, outcome domain.GameOutcome) {
	if e.cache != nil {
		if err := e.cache.Set(ctx, outcome); err != nil {
			e.logger.WarnContext(ctx, "outcome cache write failed",
				slog.String("request_id", outcome.RequestID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.store != nil {
		if err := e.store.SaveOutcome(ctx, outcome); err != nil {
			e.logger.WarnContext(ctx, "outcome store write failed",
				slog.String("request_id", outcome.RequestID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
