package bundler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// relayRateLimitKey is the rate-limiter bucket shared by all relay calls.
const relayRateLimitKey = "relay:submit"

// SubmitStrategy is one submission path. The service tries its strategies in
// order and records which one served, so the deep fallback chain stays a
// flat, independently testable list instead of nested branching.
type SubmitStrategy interface {
	Method() domain.SubmitMethod
	Submit(ctx context.Context, op domain.UserOperation, grant *domain.PermissionGrant) (string, error)
}

// Service dispatches pre-authorized operations through the relay, pacing
// batches and degrading across its strategy list before reporting failure.
type Service struct {
	strategies []SubmitStrategy
	oracle     *Oracle
	limiter    domain.RateLimiter // nil disables pacing
	rateLimit  int
	logger     *slog.Logger
}

// NewService creates a Service that tries the given strategies in order.
// limiter may be nil when no distributed pacing is available.
func NewService(strategies []SubmitStrategy, oracle *Oracle, limiter domain.RateLimiter, ratePerSec int, logger *slog.Logger) *Service {
	return &Service{
		strategies: strategies,
		oracle:     oracle,
		limiter:    limiter,
		rateLimit:  ratePerSec,
		logger:     logger.With(slog.String("component", "relay_service")),
	}
}

// SubmitOne submits a single operation. Gas fee fields are populated from
// the oracle's fast tier when the caller left them unset. Each strategy is
// attempted in order; the first success wins. The returned result always
// describes the final attempt, and err is non-nil only when every strategy
// failed.
func (s *Service) SubmitOne(ctx context.Context, op domain.UserOperation, grant *domain.PermissionGrant) (domain.SubmitResult, error) {
	attemptID := uuid.NewString()

	if s.limiter != nil && s.rateLimit > 0 {
		if err := s.limiter.Wait(ctx, relayRateLimitKey); err != nil {
			return domain.SubmitResult{AttemptID: attemptID, Err: err.Error()}, fmt.Errorf("bundler: rate limit wait: %w", err)
		}
	}

	if op.MaxFeePerGas == nil || op.MaxPriorityFeePerGas == nil {
		prices, err := s.oracle.GasPrices(ctx)
		if err != nil {
			return domain.SubmitResult{AttemptID: attemptID, Err: err.Error()}, fmt.Errorf("bundler: gas prices: %w", err)
		}
		op.MaxFeePerGas = prices.Fast.MaxFeePerGas
		op.MaxPriorityFeePerGas = prices.Fast.MaxPriorityFeePerGas
	}

	var lastErr error
	var lastMethod domain.SubmitMethod
	for _, strat := range s.strategies {
		lastMethod = strat.Method()
		hash, err := strat.Submit(ctx, op, grant)
		if err == nil {
			s.logger.InfoContext(ctx, "operation submitted",
				slog.String("attempt_id", attemptID),
				slog.String("method", string(lastMethod)),
				slog.String("hash", hash),
			)
			return domain.SubmitResult{
				AttemptID:  attemptID,
				Success:    true,
				UserOpHash: hash,
				Method:     lastMethod,
			}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		s.logger.WarnContext(ctx, "submission method failed, trying next",
			slog.String("attempt_id", attemptID),
			slog.String("method", string(lastMethod)),
			slog.String("error", err.Error()),
		)
	}

	result := domain.SubmitResult{
		AttemptID: attemptID,
		Method:    lastMethod,
		Err:       lastErr.Error(),
	}
	return result, fmt.Errorf("bundler: all submission methods failed: %w", lastErr)
}

// ---------------------------------------------------------------------------
// UserOp strategy: primary path through the relay's account-abstraction RPC.
// ---------------------------------------------------------------------------

// UserOpStrategy submits through eth_sendUserOperation, attaching the
// delegation token and delegation-manager reference so the relay can prove
// the session signer's authority on-chain.
type UserOpStrategy struct {
	rpc *rpcClient
}

// NewUserOpStrategy creates the primary relay strategy for the endpoint.
func NewUserOpStrategy(endpoint string) *UserOpStrategy {
	return &UserOpStrategy{rpc: newRPCClient(endpoint)}
}

// Method implements SubmitStrategy.
func (u *UserOpStrategy) Method() domain.SubmitMethod {
	return domain.SubmitMethodUserOp
}

// Submit implements SubmitStrategy.
func (u *UserOpStrategy) Submit(ctx context.Context, op domain.UserOperation, grant *domain.PermissionGrant) (string, error) {
	if grant == nil {
		return "", domain.ErrNoActiveGrant
	}

	userOp := map[string]any{
		"sender":               op.Sender,
		"to":                   op.To,
		"callData":             "0x" + common.Bytes2Hex(op.CallData),
		"value":                hexBig(op.ValueWei),
		"maxFeePerGas":         hexBig(op.MaxFeePerGas),
		"maxPriorityFeePerGas": hexBig(op.MaxPriorityFeePerGas),
		"permissionsContext":   grant.DelegationToken,
		"delegationManager":    grant.DelegationManagerRef,
	}

	var hash string
	if err := u.rpc.do(ctx, "eth_sendUserOperation", []any{userOp, grant.DelegationManagerRef}, &hash); err != nil {
		return "", fmt.Errorf("bundler: send user operation: %w", err)
	}
	return hash, nil
}

// ---------------------------------------------------------------------------
// Raw-transaction strategy: fallback that signs with the session key and
// broadcasts through the public node.
// ---------------------------------------------------------------------------

// RawTxChain is the node surface the fallback strategy needs.
type RawTxChain interface {
	PendingNonce(ctx context.Context, addr string) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSigner signs fallback transactions with the session key.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID int64) (*types.Transaction, error)
}

// rawTxGasLimit covers a play() call with margin.
const rawTxGasLimit = 300_000

// RawTxStrategy is the secondary path: when the relay rejects the user
// operation, the session signer submits the call as an ordinary signed
// transaction.
type RawTxStrategy struct {
	chain   RawTxChain
	signer  TxSigner
	chainID int64
}

// NewRawTxStrategy creates the fallback strategy.
func NewRawTxStrategy(chain RawTxChain, signer TxSigner, chainID int64) *RawTxStrategy {
	return &RawTxStrategy{chain: chain, signer: signer, chainID: chainID}
}

// Method implements SubmitStrategy.
func (r *RawTxStrategy) Method() domain.SubmitMethod {
	return domain.SubmitMethodRawTx
}

// Submit implements SubmitStrategy.
func (r *RawTxStrategy) Submit(ctx context.Context, op domain.UserOperation, _ *domain.PermissionGrant) (string, error) {
	nonce, err := r.chain.PendingNonce(ctx, r.signer.Address().Hex())
	if err != nil {
		return "", err
	}

	to := common.HexToAddress(op.To)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(r.chainID),
		Nonce:     nonce,
		To:        &to,
		Value:     op.ValueWei,
		Gas:       rawTxGasLimit,
		GasFeeCap: op.MaxFeePerGas,
		GasTipCap: op.MaxPriorityFeePerGas,
		Data:      op.CallData,
	})

	signed, err := r.signer.SignTx(tx, r.chainID)
	if err != nil {
		return "", err
	}
	if err := r.chain.SendRawTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}
