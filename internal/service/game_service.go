// Package service implements the game service: the direct, delegated, and
// offline play paths that turn a ticket-rate choice into a confirmed game
// request or a synthesized demo outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
	"github.com/jackpetlabs/jackpetbot/internal/platform/bundler"
	"github.com/jackpetlabs/jackpetbot/internal/platform/chain"
	"github.com/jackpetlabs/jackpetbot/internal/platform/wallet"
)

// defaultTicketFeeWei (0.01 ether) is used when the chain fee read fails.
var defaultTicketFeeWei = big.NewInt(10_000_000_000_000_000)

// demoSettleDelay simulates the randomness resolution wait in offline mode.
const demoSettleDelay = 2 * time.Second

// WalletSender submits a transaction through the owner's wallet.
type WalletSender interface {
	SendTransaction(ctx context.Context, params wallet.TxParams) (string, error)
}

// ChainReader is the node surface the game service reads and waits on.
type ChainReader interface {
	TicketFee(ctx context.Context) (*big.Int, error)
	WaitReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Submitter dispatches a pre-authorized operation through the relay.
type Submitter interface {
	SubmitOne(ctx context.Context, op domain.UserOperation, grant *domain.PermissionGrant) (domain.SubmitResult, error)
}

// OpReceiptWaiter waits for a relayed user operation's inclusion receipt.
type OpReceiptWaiter interface {
	WaitReceipt(ctx context.Context, userOpHash string) (bundler.UserOpReceipt, error)
}

// Config carries the service's static addresses.
type Config struct {
	OwnerAddress    string
	ContractAddress string
}

// GameService coordinates the play paths. store is optional; a persistence
// failure after an on-chain inclusion is logged, not surfaced, because the
// game already exists.
type GameService struct {
	cfg       Config
	wallet    WalletSender
	chain     ChainReader
	submitter Submitter
	opWaiter  OpReceiptWaiter // optional
	store     domain.GameStore
	logger    *slog.Logger

	rng       *rand.Rand
	demoDelay time.Duration
}

// NewGameService creates a GameService. opWaiter and store may be nil.
func NewGameService(cfg Config, walletClient WalletSender, chainClient ChainReader, submitter Submitter, opWaiter OpReceiptWaiter, store domain.GameStore, logger *slog.Logger) *GameService {
	return &GameService{
		cfg:       cfg,
		wallet:    walletClient,
		chain:     chainClient,
		submitter: submitter,
		opWaiter:  opWaiter,
		store:     store,
		logger:    logger.With(slog.String("component", "game_service")),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		demoDelay: demoSettleDelay,
	}
}

// Play is the direct path: the owner's wallet signs and submits play() itself.
// Returns the confirmed GameRequest once the transaction is mined.
func (s *GameService) Play(ctx context.Context, ticketRate uint32) (domain.GameRequest, error) {
	value := s.playValue(ctx, ticketRate)
	data, err := chain.PackPlay(ticketRate)
	if err != nil {
		return domain.GameRequest{}, err
	}

	txHash, err := s.wallet.SendTransaction(ctx, wallet.TxParams{
		From:  s.cfg.OwnerAddress,
		To:    s.cfg.ContractAddress,
		Data:  "0x" + common.Bytes2Hex(data),
		Value: "0x" + value.Text(16),
	})
	if err != nil {
		return domain.GameRequest{}, err
	}
	s.logger.InfoContext(ctx, "play transaction sent", slog.String("tx", txHash))

	receipt, err := s.chain.WaitReceipt(ctx, txHash)
	if err != nil {
		return domain.GameRequest{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.GameRequest{}, fmt.Errorf("service: play transaction %s reverted", txHash)
	}

	return s.recordRequest(ctx, receipt.Logs, txHash, ticketRate)
}

// PlayDelegated is the relay path: the session signer submits play() under
// the grant's authority, without an owner prompt.
func (s *GameService) PlayDelegated(ctx context.Context, grant *domain.PermissionGrant, ticketRate uint32) (domain.GameRequest, error) {
	if grant == nil {
		return domain.GameRequest{}, domain.ErrNoActiveGrant
	}

	value := s.playValue(ctx, ticketRate)
	data, err := chain.PackPlay(ticketRate)
	if err != nil {
		return domain.GameRequest{}, err
	}

	result, err := s.submitter.SubmitOne(ctx, domain.UserOperation{
		Sender:   grant.SignerAddress,
		To:       s.cfg.ContractAddress,
		CallData: data,
		ValueWei: value,
	}, grant)
	if err != nil {
		return domain.GameRequest{}, err
	}

	logs, txHash, err := s.waitInclusion(ctx, result)
	if err != nil {
		return domain.GameRequest{}, err
	}
	return s.recordRequest(ctx, logs, txHash, ticketRate)
}

// waitInclusion resolves the submitted operation into mined logs, using the
// relay's receipt endpoint for user operations and the node for everything
// else.
func (s *GameService) waitInclusion(ctx context.Context, result domain.SubmitResult) ([]*types.Log, string, error) {
	if result.Method == domain.SubmitMethodUserOp && s.opWaiter != nil {
		opReceipt, err := s.opWaiter.WaitReceipt(ctx, result.UserOpHash)
		if err != nil {
			return nil, "", err
		}
		if !opReceipt.Success {
			return nil, "", fmt.Errorf("service: user operation %s reverted", result.UserOpHash)
		}

		logs := make([]*types.Log, 0, len(opReceipt.Receipt.Logs))
		for _, entry := range opReceipt.Receipt.Logs {
			converted := entry.ToTypesLog()
			logs = append(logs, &converted)
		}
		return logs, opReceipt.Receipt.TransactionHash, nil
	}

	receipt, err := s.chain.WaitReceipt(ctx, result.UserOpHash)
	if err != nil {
		return nil, "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, "", fmt.Errorf("service: transaction %s reverted", result.UserOpHash)
	}
	return receipt.Logs, result.UserOpHash, nil
}

// recordRequest decodes the GameRequested event out of the mined logs and
// persists the request.
func (s *GameService) recordRequest(ctx context.Context, logs []*types.Log, txHash string, ticketRate uint32) (domain.GameRequest, error) {
	var req domain.GameRequest
	found := false
	for _, log := range logs {
		if log == nil {
			continue
		}
		parsed, err := chain.ParseGameRequested(*log)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.GameRequest{}, err
		}
		req = parsed
		found = true
		break
	}
	if !found {
		return domain.GameRequest{}, fmt.Errorf("service: tx %s: no GameRequested event: %w", txHash, domain.ErrNotFound)
	}

	req.TicketRate = ticketRate
	req.TxHash = txHash

	if s.store != nil {
		if err := s.store.InsertRequest(ctx, req); err != nil {
			s.logger.WarnContext(ctx, "request persist failed",
				slog.String("request_id", req.RequestID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "game requested",
		slog.String("request_id", req.RequestID.String()),
		slog.String("tx", txHash),
	)
	return req, nil
}

// playValue computes the fee for one play at the given rate. A failed fee
// read degrades to the default base fee.
func (s *GameService) playValue(ctx context.Context, ticketRate uint32) *big.Int {
	fee, err := s.chain.TicketFee(ctx)
	if err != nil || fee == nil || fee.Sign() <= 0 {
		s.logger.WarnContext(ctx, "fee read failed, using default fee",
			slog.String("default_wei", defaultTicketFeeWei.String()),
		)
		fee = defaultTicketFeeWei
	}

	value := new(big.Int).Mul(fee, big.NewInt(int64(ticketRate)))
	return value.Div(value, big.NewInt(100))
}

// PlayDemo synthesizes an outcome locally without touching chain or wallet:
// twelve draws without replacement from a pool of eight of each of the three
// colors, counts reported in descending order. Payouts are always zero; the
// result is explicitly non-authoritative.
func (s *GameService) PlayDemo(ctx context.Context) (domain.GameOutcome, error) {
	timer := time.NewTimer(s.demoDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return domain.GameOutcome{}, ctx.Err()
	case <-timer.C:
	}

	pool := make([]int, 0, 24)
	for color := 0; color < 3; color++ {
		for i := 0; i < 8; i++ {
			pool = append(pool, color)
		}
	}

	counts := make([]int, 3)
	for i := 0; i < 12; i++ {
		idx := s.rng.Intn(len(pool))
		counts[pool[idx]]++
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))

	outcome := domain.GameOutcome{
		RequestID:        new(big.Int).SetInt64(s.rng.Int63()),
		Settled:          true,
		Player:           s.cfg.OwnerAddress,
		A:                uint8(counts[0]),
		B:                uint8(counts[1]),
		C:                uint8(counts[2]),
		TicketRate:       100,
		PayoutWei:        big.NewInt(0),
		JackpotPayoutWei: big.NewInt(0),
		SettledAt:        time.Now().UTC(),
	}

	s.logger.InfoContext(ctx, "demo outcome synthesized",
		slog.Int("a", counts[0]),
		slog.Int("b", counts[1]),
		slog.Int("c", counts[2]),
	)
	return outcome, nil
}
