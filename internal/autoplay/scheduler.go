// Package autoplay implements the sequential auto-play scheduler: it runs a
// frozen number of delegated plays strictly one at a time, settling each game
// and waiting for an explicit acknowledgment before starting the next.
package autoplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
	"github.com/jackpetlabs/jackpetbot/internal/poll"
)

// Signal bus channels consumed by the WebSocket hub.
const (
	ChannelStatus  = "ch:status"
	ChannelOutcome = "ch:outcome"
)

// State is the scheduler lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	State            State    `json:"state"`
	TotalPlays       int      `json:"total_plays"`
	PlaysCompleted   int      `json:"plays_completed"`
	RemainingPlays   int      `json:"remaining_plays"`
	CurrentRequestID *big.Int `json:"current_request_id,omitempty"`
	LastError        string   `json:"last_error,omitempty"`
}

// SessionControl is the grant surface the scheduler consumes.
type SessionControl interface {
	IsValid() bool
	Grant() *domain.PermissionGrant
	DecrementUses(ctx context.Context) int
}

// Player runs one delegated play to inclusion.
type Player interface {
	PlayDelegated(ctx context.Context, grant *domain.PermissionGrant, ticketRate uint32) (domain.GameRequest, error)
}

// OutcomePoller waits for a request's settlement.
type OutcomePoller interface {
	Poll(ctx context.Context, requestID *big.Int, opts poll.Options) (domain.GameOutcome, error)
}

// Notifier delivers operator alerts for loop milestones.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config tunes the scheduler's plays and polling.
type Config struct {
	TicketRate      uint32
	PollInterval    time.Duration
	PollMaxAttempts int
}

// Scheduler runs at most one loop at a time. The generation counter fences
// out state writes from a superseded loop goroutine that is still winding
// down after Stop.
type Scheduler struct {
	cfg      Config
	session  SessionControl
	player   Player
	poller   OutcomePoller
	bus      domain.SignalBus // optional
	notifier Notifier         // optional
	logger   *slog.Logger

	mu               sync.Mutex
	state            State
	totalPlays       int
	playsCompleted   int
	currentRequestID *big.Int
	lastErr          string
	generation       uint64
	cancel           context.CancelFunc

	ack chan *big.Int
}

// NewScheduler creates an idle Scheduler. bus and notifier may be nil.
func NewScheduler(cfg Config, session SessionControl, player Player, poller OutcomePoller, bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		session:  session,
		player:   player,
		poller:   poller,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "scheduler")),
		state:    StateIdle,
		ack:      make(chan *big.Int, 8),
	}
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:          s.state,
		TotalPlays:     s.totalPlays,
		PlaysCompleted: s.playsCompleted,
		RemainingPlays: s.totalPlays - s.playsCompleted,
		LastError:      s.lastErr,
	}
	if s.currentRequestID != nil {
		status.CurrentRequestID = new(big.Int).Set(s.currentRequestID)
	}
	return status
}

// Start launches a loop of exactly totalPlays games. The count is frozen at
// start; adjusting it afterwards requires stopping and starting a new loop.
// Returns domain.ErrLoopActive when a loop is already running and
// domain.ErrNoActiveGrant when no valid grant is held.
func (s *Scheduler) Start(ctx context.Context, totalPlays int) error {
	if totalPlays < 1 {
		return fmt.Errorf("autoplay: %w: total plays must be >= 1", domain.ErrInvalidRequest)
	}
	if !s.session.IsValid() {
		return domain.ErrNoActiveGrant
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return domain.ErrLoopActive
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.generation++
	gen := s.generation
	s.cancel = cancel
	s.state = StateRunning
	s.totalPlays = totalPlays
	s.playsCompleted = 0
	s.currentRequestID = nil
	s.lastErr = ""
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "auto-play loop starting", slog.Int("total_plays", totalPlays))
	s.publishStatus(loopCtx)

	go s.run(loopCtx, gen, totalPlays)
	return nil
}

// Stop cancels the active loop. The loop goroutine observes the cancellation
// at its next blocking point and transitions to Aborted. Safe to call when
// idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Acknowledge signals that the result of requestID was consumed, allowing the
// loop to start the next play. Acknowledgments for any other request are
// ignored. Non-blocking.
func (s *Scheduler) Acknowledge(requestID *big.Int) {
	if requestID == nil {
		return
	}
	select {
	case s.ack <- new(big.Int).Set(requestID):
	default:
		s.logger.Warn("acknowledge dropped, channel full",
			slog.String("request_id", requestID.String()),
		)
	}
}

// run executes the loop body. Play N+1 never starts before play N settled and
// was acknowledged; any submission or poll error aborts the remainder.
func (s *Scheduler) run(ctx context.Context, gen uint64, totalPlays int) {
	for i := 0; i < totalPlays; i++ {
		if ctx.Err() != nil {
			s.abort(ctx, gen, fmt.Errorf("autoplay: %w", context.Cause(ctx)))
			return
		}

		grant := s.session.Grant()
		if grant == nil || !s.session.IsValid() {
			s.abort(ctx, gen, domain.ErrNoActiveGrant)
			return
		}

		req, err := s.player.PlayDelegated(ctx, grant, s.cfg.TicketRate)
		if err != nil {
			s.abort(ctx, gen, fmt.Errorf("autoplay: play %d/%d: %w", i+1, totalPlays, err))
			return
		}
		if !s.setCurrent(gen, req.RequestID) {
			return // superseded
		}
		s.publishStatus(ctx)

		outcome, err := s.poller.Poll(ctx, req.RequestID, poll.Options{
			Interval:    s.cfg.PollInterval,
			MaxAttempts: s.cfg.PollMaxAttempts,
		})
		if err != nil {
			s.abort(ctx, gen, fmt.Errorf("autoplay: play %d/%d: %w", i+1, totalPlays, err))
			return
		}

		remaining := s.session.DecrementUses(ctx)
		if !s.completePlay(gen) {
			return // superseded
		}

		s.logger.InfoContext(ctx, "play settled",
			slog.String("request_id", req.RequestID.String()),
			slog.Int("play", i+1),
			slog.Int("total_plays", totalPlays),
			slog.Int("remaining_uses", remaining),
		)
		s.publishStatus(ctx)
		s.publishOutcome(ctx, outcome)

		if outcome.JackpotWon() {
			s.notify(ctx, "jackpot_won", "Jackpot won",
				fmt.Sprintf("request %s paid a jackpot of %s wei", req.RequestID, outcome.JackpotPayoutWei))
		}

		if i < totalPlays-1 {
			if err := s.waitAck(ctx, req.RequestID); err != nil {
				s.abort(ctx, gen, err)
				return
			}
		}
	}

	s.finish(ctx, gen)
}

// waitAck blocks until the pending request is acknowledged. Acknowledgments
// carrying a different request ID are stale leftovers and are dropped.
func (s *Scheduler) waitAck(ctx context.Context, requestID *big.Int) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("autoplay: waiting for acknowledgment: %w", context.Cause(ctx))
		case acked := <-s.ack:
			if acked.Cmp(requestID) == 0 {
				return nil
			}
			s.logger.Warn("ignoring stale acknowledgment",
				slog.String("acked", acked.String()),
				slog.String("pending", requestID.String()),
			)
		}
	}
}

// setCurrent records the in-flight request if this loop is still current.
func (s *Scheduler) setCurrent(gen uint64, requestID *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.currentRequestID = new(big.Int).Set(requestID)
	return true
}

// completePlay counts a settled play if this loop is still current.
func (s *Scheduler) completePlay(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.playsCompleted++
	s.currentRequestID = nil
	return true
}

func (s *Scheduler) finish(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.cancel = nil
	completed := s.playsCompleted
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "auto-play loop completed", slog.Int("plays", completed))
	s.publishStatus(ctx)
	s.notify(ctx, "autoplay_completed", "Auto-play completed",
		fmt.Sprintf("%d plays settled", completed))
}

func (s *Scheduler) abort(ctx context.Context, gen uint64, cause error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateAborted
	s.lastErr = cause.Error()
	s.currentRequestID = nil
	s.cancel = nil
	completed := s.playsCompleted
	total := s.totalPlays
	s.mu.Unlock()

	logCtx := ctx
	if ctx.Err() != nil {
		logCtx = context.WithoutCancel(ctx)
	}

	s.logger.WarnContext(logCtx, "auto-play loop aborted",
		slog.Int("plays_completed", completed),
		slog.Int("total_plays", total),
		slog.String("error", cause.Error()),
	)
	s.publishStatus(logCtx)

	if errors.Is(cause, context.Canceled) {
		return // an operator stop is not an alert
	}
	s.notify(logCtx, "autoplay_aborted", "Auto-play aborted",
		fmt.Sprintf("after %d/%d plays: %v", completed, total, cause))
}

func (s *Scheduler) publishStatus(ctx context.Context) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(s.Status())
	if err != nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), ChannelStatus, payload); err != nil {
		s.logger.Warn("status publish failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) publishOutcome(ctx context.Context, outcome domain.GameOutcome) {
	if s.bus == nil {
		return
	}
	event := map[string]any{
		"request_id": outcome.RequestID.String(),
		"a":          outcome.A,
		"b":          outcome.B,
		"c":          outcome.C,
		"won":        outcome.Won(),
	}
	if outcome.PayoutWei != nil {
		event["payout_wei"] = outcome.PayoutWei.String()
	}
	if outcome.JackpotPayoutWei != nil {
		event["jackpot_payout_wei"] = outcome.JackpotPayoutWei.String()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), ChannelOutcome, payload); err != nil {
		s.logger.Warn("outcome publish failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event, title, message); err != nil {
		s.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
