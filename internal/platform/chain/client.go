// Package chain wraps a go-ethereum client with the game-contract reads the
// session engine needs: fee and pool queries, settlement lookups, receipt
// waits, and chunked log scans with rate-limit backoff.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

const (
	// maxBlockChunk bounds each getLogs call; some public RPC endpoints
	// rate-limit or reject wide ranges.
	maxBlockChunk = 500

	// maxLogRetries bounds the backoff loop on rate-limited log reads.
	maxLogRetries = 5

	// receiptPollInterval is the cadence for WaitReceipt.
	receiptPollInterval = 2 * time.Second
)

// Client reads game contract state from a public node.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	logger   *slog.Logger
}

// Dial connects to the node at rpcURL and returns a Client bound to the game
// contract address.
func Dial(ctx context.Context, rpcURL, contractAddr string, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("chain: %w: malformed contract address %q", domain.ErrConfigMissing, contractAddr)
	}
	return &Client{
		eth:      eth,
		contract: common.HexToAddress(contractAddr),
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ContractAddress returns the bound game contract address.
func (c *Client) ContractAddress() common.Address {
	return c.contract
}

// call performs a read-only contract call and unpacks the outputs.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := gameABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}

	out, err := gameABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return out, nil
}

// TicketFee reads the current per-game base fee in wei.
func (c *Client) TicketFee(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "ticketFeeWei")
	if err != nil {
		return nil, err
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: ticketFeeWei: unexpected type %T", out[0])
	}
	return fee, nil
}

// JackpotPool reads the current jackpot pool balance in wei.
func (c *Client) JackpotPool(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "jackpotPool")
	if err != nil {
		return nil, err
	}
	pool, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: jackpotPool: unexpected type %T", out[0])
	}
	return pool, nil
}

// MaxTicketRate reads the contract's fee multiplier ceiling.
func (c *Client) MaxTicketRate(ctx context.Context) (uint32, error) {
	out, err := c.call(ctx, "maxTicketRate")
	if err != nil {
		return 0, err
	}
	rate, ok := out[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("chain: maxTicketRate: unexpected type %T", out[0])
	}
	return rate, nil
}

// GetOutcome reads the settlement record for a request. The outcome is
// authoritative: the engine only observes it, never constructs it.
func (c *Client) GetOutcome(ctx context.Context, requestID *big.Int) (domain.GameOutcome, error) {
	out, err := c.call(ctx, "getOutcome", requestID)
	if err != nil {
		return domain.GameOutcome{}, err
	}
	if len(out) != 9 {
		return domain.GameOutcome{}, fmt.Errorf("chain: getOutcome: expected 9 outputs, got %d", len(out))
	}

	settled, _ := out[0].(bool)
	player, _ := out[1].(common.Address)
	a, _ := out[2].(uint8)
	b, _ := out[3].(uint8)
	cc, _ := out[4].(uint8)
	rate, _ := out[5].(uint32)
	payout, _ := out[6].(*big.Int)
	jackpot, _ := out[7].(*big.Int)
	ts, _ := out[8].(*big.Int)

	outcome := domain.GameOutcome{
		RequestID:        new(big.Int).Set(requestID),
		Settled:          settled,
		Player:           player.Hex(),
		A:                a,
		B:                b,
		C:                cc,
		TicketRate:       rate,
		PayoutWei:        payout,
		JackpotPayoutWei: jackpot,
	}
	if ts != nil && ts.Sign() > 0 {
		outcome.SettledAt = time.Unix(ts.Int64(), 0).UTC()
	}
	return outcome, nil
}

// WaitReceipt blocks until the transaction is mined, polling at a fixed
// cadence. It honours context cancellation.
func (c *Client) WaitReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.WarnContext(ctx, "receipt read failed, retrying",
				slog.String("tx", txHash),
				slog.String("error", err.Error()),
			)
		}

		timer := time.NewTimer(receiptPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("chain: wait receipt %s: %w", txHash, ctx.Err())
		case <-timer.C:
		}
	}
}

// SuggestGasPrice reads the node's baseline gas price. Used as the fallback
// source when the relay's estimation endpoint is unavailable.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return price, nil
}

// PendingNonce returns the next nonce for an address.
func (c *Client) PendingNonce(ctx context.Context, addr string) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, common.HexToAddress(addr))
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce %s: %w", addr, err)
	}
	return nonce, nil
}

// SendRawTransaction broadcasts a signed transaction to the node.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: send raw transaction: %w", err)
	}
	return nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// FilterGameLogs fetches the contract's logs between from and to (inclusive),
// scanning in bounded chunks. Rate-limited chunks are retried with
// exponential backoff and jitter; other errors abort the scan.
func (c *Client) FilterGameLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var all []types.Log

	for start := from; start <= to; start += maxBlockChunk {
		end := start + maxBlockChunk - 1
		if end > to {
			end = to
		}

		logs, err := c.filterChunk(ctx, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}

	return all, nil
}

func (c *Client) filterChunk(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}

	var lastErr error
	for attempt := 0; attempt < maxLogRetries; attempt++ {
		logs, err := c.eth.FilterLogs(ctx, query)
		if err == nil {
			return logs, nil
		}
		lastErr = err

		if !isRateLimitError(err) {
			return nil, fmt.Errorf("chain: filter logs %d-%d: %w", from, to, err)
		}

		delay := time.Duration(1<<attempt)*time.Second + time.Duration(rand.Intn(500))*time.Millisecond
		c.logger.WarnContext(ctx, "log scan rate-limited, backing off",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("chain: filter logs %d-%d: %w", from, to, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("chain: filter logs %d-%d: %w: %v", from, to, domain.ErrRateLimited, lastErr)
}

// isRateLimitError recognises the rate-limit shapes public RPC endpoints
// return (JSON-RPC -32005 or a textual hint).
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "-32005") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// topicAddress extracts an address from an indexed log topic.
func topicAddress(topic common.Hash) string {
	return common.BytesToAddress(topic.Bytes()).Hex()
}
