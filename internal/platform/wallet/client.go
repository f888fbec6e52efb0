package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// GrantRequest is the wallet_grantPermissions request body. The signer is the
// delegated executor's address, not the owner wallet; the permission scopes a
// periodic native-value allowance to the computed ceiling.
type GrantRequest struct {
	ChainID             string            `json:"chainId"` // hex-encoded
	Address             string            `json:"address,omitempty"`
	Expiry              int64             `json:"expiry"` // unix seconds
	Signer              GrantSigner       `json:"signer"`
	Permissions         []GrantPermission `json:"permissions"`
	IsAdjustmentAllowed bool              `json:"isAdjustmentAllowed"`
}

// GrantSigner identifies the delegated executor account.
type GrantSigner struct {
	Type string `json:"type"`
	Data struct {
		Address string `json:"address"`
	} `json:"data"`
}

// GrantPermission is one requested permission.
type GrantPermission struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// GrantResponse is the wallet_grantPermissions result.
type GrantResponse struct {
	PermissionsContext string `json:"permissionsContext"`
	SignerMeta         struct {
		DelegationManager string `json:"delegationManager"`
	} `json:"signerMeta"`
	Expiry int64 `json:"expiry"`
}

// TxParams is the eth_sendTransaction parameter object.
type TxParams struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Data                 string `json:"data,omitempty"`
	Value                string `json:"value,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// Client wraps a Provider with the typed wallet methods the session engine
// consumes.
type Client struct {
	provider Provider
}

// NewClient creates a wallet Client on top of the given provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// GrantPermissions requests a delegated execution permission from the wallet.
// Provider errors are classified: a user rejection, a missing method, and
// malformed parameters each map to their domain sentinel so the session layer
// can react (terminal, capability flag, fail fast).
func (c *Client) GrantPermissions(ctx context.Context, req GrantRequest) (GrantResponse, error) {
	var resp GrantResponse
	if err := c.provider.Request(ctx, "wallet_grantPermissions", []any{req}, &resp); err != nil {
		return GrantResponse{}, fmt.Errorf("wallet: grant permissions: %w", classify(err))
	}
	if resp.PermissionsContext == "" {
		return GrantResponse{}, fmt.Errorf("wallet: grant permissions: %w: empty permissions context", domain.ErrInvalidRequest)
	}
	return resp, nil
}

// SendTransaction submits a transaction through the wallet and returns its
// hash. This is the non-delegated path: the wallet prompts the owner.
func (c *Client) SendTransaction(ctx context.Context, params TxParams) (string, error) {
	var hash string
	if err := c.provider.Request(ctx, "eth_sendTransaction", []any{params}, &hash); err != nil {
		return "", fmt.Errorf("wallet: send transaction: %w", classify(err))
	}
	return hash, nil
}

// ChainID queries the wallet's active chain.
func (c *Client) ChainID(ctx context.Context) (int64, error) {
	var hexID string
	if err := c.provider.Request(ctx, "eth_chainId", []any{}, &hexID); err != nil {
		return 0, fmt.Errorf("wallet: chain id: %w", classify(err))
	}
	id, ok := new(big.Int).SetString(strings.TrimPrefix(hexID, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("wallet: chain id: malformed value %q", hexID)
	}
	return id.Int64(), nil
}

// Accounts returns the wallet's exposed accounts.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := c.provider.Request(ctx, "eth_accounts", []any{}, &accounts); err != nil {
		return nil, fmt.Errorf("wallet: accounts: %w", classify(err))
	}
	return accounts, nil
}

// classify maps provider RPC errors onto domain sentinels. Non-RPC errors
// (transport failures) pass through unchanged.
func classify(err error) error {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}

	msg := strings.ToLower(rpcErr.Message)
	switch {
	case rpcErr.Code == codeUserRejected:
		return fmt.Errorf("%w: %s", domain.ErrWalletRejected, rpcErr.Message)
	case rpcErr.Code == codeMethodNotFound,
		strings.Contains(msg, "method not found"),
		strings.Contains(msg, "unknown method"):
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedCapability, rpcErr.Message)
	case rpcErr.Code == codeInvalidParams:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, rpcErr.Message)
	default:
		return rpcErr
	}
}
