package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// GameStore implements domain.GameStore using PostgreSQL. A game row is
// created at submission and completed in place when its outcome settles.
type GameStore struct {
	pool *pgxpool.Pool
}

// NewGameStore creates a GameStore backed by the given pool.
func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

// InsertRequest records a confirmed game request. Replaying the same request
// is an upsert so retried inclusions stay idempotent.
func (s *GameStore) InsertRequest(ctx context.Context, req domain.GameRequest) error {
	const query = `
		INSERT INTO games (request_id, player, ticket_rate, paid_wei, tx_hash, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO UPDATE SET
			player = EXCLUDED.player,
			ticket_rate = EXCLUDED.ticket_rate,
			paid_wei = EXCLUDED.paid_wei,
			tx_hash = EXCLUDED.tx_hash`

	_, err := s.pool.Exec(ctx, query,
		req.RequestID.String(),
		req.Player,
		req.TicketRate,
		weiText(req.PaidWei),
		req.TxHash,
		req.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert request %s: %w", req.RequestID, err)
	}
	return nil
}

// SaveOutcome settles a game row, creating it when the request was never
// recorded (an outcome observed for a request submitted elsewhere).
func (s *GameStore) SaveOutcome(ctx context.Context, outcome domain.GameOutcome) error {
	const query = `
		INSERT INTO games (
			request_id, player, ticket_rate, settled,
			count_a, count_b, count_c, payout_wei, jackpot_payout_wei, settled_at
		) VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO UPDATE SET
			settled = TRUE,
			count_a = EXCLUDED.count_a,
			count_b = EXCLUDED.count_b,
			count_c = EXCLUDED.count_c,
			payout_wei = EXCLUDED.payout_wei,
			jackpot_payout_wei = EXCLUDED.jackpot_payout_wei,
			settled_at = EXCLUDED.settled_at`

	settledAt := outcome.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		outcome.RequestID.String(),
		outcome.Player,
		outcome.TicketRate,
		int16(outcome.A),
		int16(outcome.B),
		int16(outcome.C),
		weiText(outcome.PayoutWei),
		weiText(outcome.JackpotPayoutWei),
		settledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save outcome %s: %w", outcome.RequestID, err)
	}
	return nil
}

// GetOutcome reads the settled outcome for a request. Returns
// domain.ErrNotFound when the game is missing or not yet settled.
func (s *GameStore) GetOutcome(ctx context.Context, requestID *big.Int) (domain.GameOutcome, error) {
	const query = `
		SELECT request_id, player, ticket_rate,
		       count_a, count_b, count_c, payout_wei, jackpot_payout_wei, settled_at
		FROM games WHERE request_id = $1 AND settled`

	outcome, err := scanOutcome(s.pool.QueryRow(ctx, query, requestID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameOutcome{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GameOutcome{}, fmt.Errorf("postgres: get outcome %s: %w", requestID, err)
	}
	return outcome, nil
}

// ListSettled returns settled outcomes, newest first, with pagination.
func (s *GameStore) ListSettled(ctx context.Context, opts domain.ListOpts) ([]domain.GameOutcome, error) {
	query := `
		SELECT request_id, player, ticket_rate,
		       count_a, count_b, count_c, payout_wei, jackpot_payout_wei, settled_at
		FROM games WHERE settled`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND settled_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND settled_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY settled_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled: %w", err)
	}
	defer rows.Close()

	return collectOutcomes(rows)
}

// ListSettledBefore returns every outcome settled strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *GameStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.GameOutcome, error) {
	const query = `
		SELECT request_id, player, ticket_rate,
		       count_a, count_b, count_c, payout_wei, jackpot_payout_wei, settled_at
		FROM games WHERE settled AND settled_at < $1
		ORDER BY settled_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled before %s: %w", before, err)
	}
	defer rows.Close()

	return collectOutcomes(rows)
}

func collectOutcomes(rows pgx.Rows) ([]domain.GameOutcome, error) {
	var outcomes []domain.GameOutcome
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate outcomes: %w", err)
	}
	return outcomes, nil
}

func scanOutcome(row pgx.Row) (domain.GameOutcome, error) {
	var (
		outcome   domain.GameOutcome
		requestID string
		a, b, c   *int16
		payout    *string
		jackpot   *string
		settledAt *time.Time
	)
	if err := row.Scan(&requestID, &outcome.Player, &outcome.TicketRate,
		&a, &b, &c, &payout, &jackpot, &settledAt); err != nil {
		return domain.GameOutcome{}, err
	}

	outcome.RequestID = parseWei(requestID)
	outcome.Settled = true
	if a != nil {
		outcome.A = uint8(*a)
	}
	if b != nil {
		outcome.B = uint8(*b)
	}
	if c != nil {
		outcome.C = uint8(*c)
	}
	if payout != nil {
		outcome.PayoutWei = parseWei(*payout)
	}
	if jackpot != nil {
		outcome.JackpotPayoutWei = parseWei(*jackpot)
	}
	if settledAt != nil {
		outcome.SettledAt = *settledAt
	}
	return outcome, nil
}
