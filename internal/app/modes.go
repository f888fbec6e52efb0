package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackpetlabs/jackpetbot/internal/autoplay"
	"github.com/jackpetlabs/jackpetbot/internal/domain"
	"github.com/jackpetlabs/jackpetbot/internal/server"
	"github.com/jackpetlabs/jackpetbot/internal/server/handler"
	"github.com/jackpetlabs/jackpetbot/internal/server/ws"
)

// AutoplayMode runs a single headless auto-play session: restore or request a
// permission grant, start the loop, and exit once it completes or aborts.
func (a *App) AutoplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running in autoplay mode",
		slog.Int("play_count", a.cfg.AutoPlay.PlayCount),
		slog.Int("ticket_rate", a.cfg.AutoPlay.TicketRate),
	)

	if err := deps.Session.Load(ctx); err != nil {
		return fmt.Errorf("app: restore session: %w", err)
	}

	if !deps.Session.IsValid() {
		a.logger.InfoContext(ctx, "no valid grant on record, requesting permission")
		if _, err := deps.Session.RequestPermission(ctx, domain.PermissionSettings{
			DurationSeconds: a.cfg.AutoPlay.DurationSeconds,
			PlayCount:       a.cfg.AutoPlay.PlayCount,
		}); err != nil {
			return fmt.Errorf("app: request permission: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return deps.Session.Run(gctx)
	})

	// Headless runs have no UI to acknowledge each settled play, so ack every
	// outcome event off the signal bus.
	g.Go(func() error {
		return a.autoAcknowledge(gctx, deps)
	})

	if err := deps.Scheduler.Start(runCtx, a.cfg.AutoPlay.PlayCount); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("app: start autoplay: %w", err)
	}

	// Watch the loop until it leaves the running state.
	g.Go(func() error {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				st := deps.Scheduler.Status()
				if st.State == autoplay.StateCompleted || st.State == autoplay.StateAborted {
					a.logger.InfoContext(gctx, "autoplay finished",
						slog.String("state", string(st.State)),
						slog.Int("plays_completed", st.PlaysCompleted),
						slog.String("last_error", st.LastError),
					)
					cancel()
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: autoplay mode: %w", err)
	}
	return nil
}

// autoAcknowledge subscribes to the outcome channel and acknowledges every
// settled play so the loop proceeds without an operator.
func (a *App) autoAcknowledge(ctx context.Context, deps *Dependencies) error {
	msgCh, err := deps.SignalBus.Subscribe(ctx, autoplay.ChannelOutcome)
	if err != nil {
		return fmt.Errorf("app: subscribe outcomes: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				return nil
			}
			var event struct {
				RequestID string `json:"request_id"`
			}
			if err := json.Unmarshal(data, &event); err != nil {
				a.logger.Warn("malformed outcome event", slog.String("error", err.Error()))
				continue
			}
			id, ok := new(big.Int).SetString(event.RequestID, 10)
			if !ok {
				a.logger.Warn("malformed request id in outcome event", slog.String("request_id", event.RequestID))
				continue
			}
			deps.Scheduler.Acknowledge(id)
		}
	}
}

// ServeMode runs the HTTP + WebSocket API and the session liveness loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running in serve mode", slog.Int("port", a.cfg.Server.Port))

	if err := deps.Session.Load(ctx); err != nil {
		return fmt.Errorf("app: restore session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Session:  handler.NewSessionHandler(deps.Session, a.logger),
		Autoplay: handler.NewAutoplayHandler(deps.Scheduler, gctx, a.logger),
		Outcomes: handler.NewOutcomeHandler(deps.GameStore, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, deps.Scheduler.Status, a.logger)
		g.Go(func() error {
			if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return deps.Session.Run(gctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(gctx, deps)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: serve mode: %w", err)
	}
	return nil
}

// DemoMode plays the configured number of simulated games locally: no chain,
// no wallet, no database.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	count := a.cfg.AutoPlay.PlayCount
	a.logger.InfoContext(ctx, "running in demo mode", slog.Int("play_count", count))

	for i := 1; i <= count; i++ {
		outcome, err := deps.Game.PlayDemo(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("app: demo play %d: %w", i, err)
		}
		a.logger.InfoContext(ctx, "demo game settled",
			slog.Int("play", i),
			slog.String("request_id", outcome.RequestID.String()),
			slog.Int("a", int(outcome.A)),
			slog.Int("b", int(outcome.B)),
			slog.Int("c", int(outcome.C)),
			slog.Bool("won", outcome.Won()),
		)
	}

	a.logger.InfoContext(ctx, "demo run complete", slog.Int("plays", count))
	return nil
}

// FullMode is serve mode; archival already rides along when enabled. The mode
// exists so deployments can state intent explicitly.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.ServeMode(ctx, deps)
}

// archiveLoop periodically moves settled games and audit entries past the
// retention window into object storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)

			games, err := deps.Archiver.ArchiveOutcomes(ctx, cutoff)
			if err != nil {
				a.logger.Error("outcome archival failed", slog.String("error", err.Error()))
			} else if games > 0 {
				a.logger.InfoContext(ctx, "archived outcomes", slog.Int64("count", games))
			}

			entries, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
			if err != nil {
				a.logger.Error("audit archival failed", slog.String("error", err.Error()))
			} else if entries > 0 {
				a.logger.InfoContext(ctx, "archived audit entries", slog.Int64("count", entries))
			}
		}
	}
}
