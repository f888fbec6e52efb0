package bundler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

const (
	// gasPriceMethod is the relay operator's tiered estimation RPC.
	gasPriceMethod = "pimlico_getUserOperationGasPrice"

	// rateLimitCode is the JSON-RPC code relays use for throttling.
	rateLimitCode = -32005

	// maxRateLimitRetries bounds the backoff loop before falling back.
	maxRateLimitRetries = 4

	// rateLimitBaseDelay seeds the exponential backoff.
	rateLimitBaseDelay = 500 * time.Millisecond
)

// Conservative defaults used when both the relay and the node are
// unreachable. Gas estimation must never be a hard failure path.
var (
	defaultGasWei      = big.NewInt(5_000_000_000) // 5 gwei
	defaultPriorityWei = big.NewInt(2_000_000_000) // 2 gwei
)

// NodeGasPricer reads a baseline gas price from a public node. Implemented
// by the chain client.
type NodeGasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Oracle fetches tiered gas-price estimates from the relay operator, falling
// back to node-derived tiers and finally to hard-coded defaults. GasPrices
// only fails on context cancellation.
type Oracle struct {
	rpc    *rpcClient // nil when no relay endpoint is configured
	node   NodeGasPricer
	logger *slog.Logger
}

// NewOracle creates an Oracle. endpoint may be empty, in which case the
// relay is skipped entirely and estimates come from the node.
func NewOracle(endpoint string, node NodeGasPricer, logger *slog.Logger) *Oracle {
	o := &Oracle{
		node:   node,
		logger: logger.With(slog.String("component", "gas_oracle")),
	}
	if endpoint != "" {
		o.rpc = newRPCClient(endpoint)
	}
	return o
}

// gasPriceResult mirrors the relay's tiered estimation payload.
type gasPriceResult struct {
	Slow     gasPriceTierJSON `json:"slow"`
	Standard gasPriceTierJSON `json:"standard"`
	Fast     gasPriceTierJSON `json:"fast"`
}

type gasPriceTierJSON struct {
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
}

// GasPrices returns tiered estimates for the configured chain.
func (o *Oracle) GasPrices(ctx context.Context) (domain.GasPrices, error) {
	if o.rpc == nil {
		return o.fallback(ctx)
	}

	var result gasPriceResult
	var err error
	for attempt := 0; ; attempt++ {
		err = o.rpc.do(ctx, gasPriceMethod, []any{}, &result)
		if err == nil {
			prices, convErr := result.toDomain()
			if convErr != nil {
				o.logger.WarnContext(ctx, "malformed relay gas prices, using fallback",
					slog.String("error", convErr.Error()),
				)
				return o.fallback(ctx)
			}
			return prices, nil
		}
		if ctx.Err() != nil {
			return domain.GasPrices{}, ctx.Err()
		}
		if !isRelayRateLimited(err) || attempt >= maxRateLimitRetries {
			break
		}

		delay := rateLimitBaseDelay*(1<<attempt) + time.Duration(rand.Intn(250))*time.Millisecond
		o.logger.WarnContext(ctx, "relay gas estimation rate-limited, backing off",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.GasPrices{}, ctx.Err()
		case <-timer.C:
		}
	}

	o.logger.WarnContext(ctx, "relay gas estimation unavailable, using fallback",
		slog.String("error", err.Error()),
	)
	return o.fallback(ctx)
}

// fallback derives tiers from the node's baseline gas price: fee multipliers
// 1x / 1.2x / 1.5x, priority (baseline/10) multipliers 1x / 1.5x / 2x. When
// even the node read fails, hard-coded conservative defaults are returned.
func (o *Oracle) fallback(ctx context.Context) (domain.GasPrices, error) {
	base, err := o.node.SuggestGasPrice(ctx)
	if err != nil || base == nil || base.Sign() <= 0 {
		if ctx.Err() != nil {
			return domain.GasPrices{}, ctx.Err()
		}
		if err != nil {
			o.logger.WarnContext(ctx, "node gas price read failed, using defaults",
				slog.String("error", err.Error()),
			)
		}
		return defaultGasPrices(), nil
	}

	priority := new(big.Int).Div(base, big.NewInt(10))
	return domain.GasPrices{
		Slow: domain.GasPriceTier{
			MaxFeePerGas:         new(big.Int).Set(base),
			MaxPriorityFeePerGas: new(big.Int).Set(priority),
		},
		Standard: domain.GasPriceTier{
			MaxFeePerGas:         mulDiv(base, 12, 10),
			MaxPriorityFeePerGas: mulDiv(priority, 15, 10),
		},
		Fast: domain.GasPriceTier{
			MaxFeePerGas:         mulDiv(base, 15, 10),
			MaxPriorityFeePerGas: new(big.Int).Mul(priority, big.NewInt(2)),
		},
	}, nil
}

func defaultGasPrices() domain.GasPrices {
	return domain.GasPrices{
		Slow: domain.GasPriceTier{
			MaxFeePerGas:         new(big.Int).Set(defaultGasWei),
			MaxPriorityFeePerGas: new(big.Int).Set(defaultPriorityWei),
		},
		Standard: domain.GasPriceTier{
			MaxFeePerGas:         new(big.Int).Mul(defaultGasWei, big.NewInt(2)),
			MaxPriorityFeePerGas: new(big.Int).Mul(defaultPriorityWei, big.NewInt(2)),
		},
		Fast: domain.GasPriceTier{
			MaxFeePerGas:         new(big.Int).Mul(defaultGasWei, big.NewInt(3)),
			MaxPriorityFeePerGas: new(big.Int).Mul(defaultPriorityWei, big.NewInt(3)),
		},
	}
}

func (r gasPriceResult) toDomain() (domain.GasPrices, error) {
	slow, err := r.Slow.toDomain()
	if err != nil {
		return domain.GasPrices{}, err
	}
	standard, err := r.Standard.toDomain()
	if err != nil {
		return domain.GasPrices{}, err
	}
	fast, err := r.Fast.toDomain()
	if err != nil {
		return domain.GasPrices{}, err
	}
	return domain.GasPrices{Slow: slow, Standard: standard, Fast: fast}, nil
}

func (t gasPriceTierJSON) toDomain() (domain.GasPriceTier, error) {
	fee, err := hexOrDecBig(t.MaxFeePerGas)
	if err != nil {
		return domain.GasPriceTier{}, err
	}
	priority, err := hexOrDecBig(t.MaxPriorityFeePerGas)
	if err != nil {
		return domain.GasPriceTier{}, err
	}
	return domain.GasPriceTier{MaxFeePerGas: fee, MaxPriorityFeePerGas: priority}, nil
}

// mulDiv computes v * num / den without mutating v.
func mulDiv(v *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}

// isRelayRateLimited recognises throttling by RPC code, HTTP 429, or a
// textual hint.
func isRelayRateLimited(err error) bool {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == rateLimitCode {
			return true
		}
		msg := strings.ToLower(rpcErr.Message)
		return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests
	}
	return false
}
