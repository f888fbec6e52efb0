package bundler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// BatchOptions controls paced batch submission.
type BatchOptions struct {
	// TotalOps is the number of operations to submit overall.
	TotalOps int
	// Interval is the pause between batches.
	Interval time.Duration
	// OpsPerBatch is how many operations go out back-to-back before the
	// next pause. Values below 1 are treated as 1.
	OpsPerBatch int
	// Timeout bounds the whole batch run. Zero means no deadline.
	Timeout time.Duration
}

// SubmitBatch paces submissions: up to OpsPerBatch operations, then a sleep
// of Interval, repeating until TotalOps submissions were attempted or the
// timeout elapsed. One result is returned per attempted operation; partial
// success is a normal, reportable outcome, not a failure of the whole batch.
func (s *Service) SubmitBatch(ctx context.Context, generate func() domain.UserOperation, grant *domain.PermissionGrant, opts BatchOptions) []domain.SubmitResult {
	opsPerBatch := opts.OpsPerBatch
	if opsPerBatch < 1 {
		opsPerBatch = 1
	}

	start := time.Now()
	results := make([]domain.SubmitResult, 0, opts.TotalOps)

	s.logger.InfoContext(ctx, "starting batch submission",
		slog.Int("total_ops", opts.TotalOps),
		slog.Duration("interval", opts.Interval),
		slog.Int("ops_per_batch", opsPerBatch),
	)

	for len(results) < opts.TotalOps {
		if opts.Timeout > 0 && time.Since(start) > opts.Timeout {
			s.logger.WarnContext(ctx, "batch submission timeout reached",
				slog.Int("submitted", len(results)),
				slog.Int("total_ops", opts.TotalOps),
			)
			break
		}
		if ctx.Err() != nil {
			break
		}

		batchSize := opsPerBatch
		if remaining := opts.TotalOps - len(results); batchSize > remaining {
			batchSize = remaining
		}

		for i := 0; i < batchSize; i++ {
			result, err := s.SubmitOne(ctx, generate(), grant)
			results = append(results, result)
			if err != nil {
				s.logger.WarnContext(ctx, "batch operation failed",
					slog.Int("index", len(results)-1),
					slog.String("error", err.Error()),
				)
			}
			if ctx.Err() != nil {
				return results
			}
		}

		if len(results) >= opts.TotalOps {
			break
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return results
		case <-timer.C:
		}
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.logger.InfoContext(ctx, "batch submission complete",
		slog.Int("succeeded", succeeded),
		slog.Int("attempted", len(results)),
	)
	return results
}
