// Package wallet implements the RPC client for the owner's wallet provider.
// It carries the delegated-permission request (wallet_grantPermissions) and
// the standard send-transaction path, and classifies provider errors into the
// domain taxonomy so callers can distinguish a user rejection from a missing
// capability.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Provider issues a single JSON-RPC request against the wallet endpoint and
// decodes the result into out. Implementations must return an *RPCError when
// the provider responds with an error payload.
type Provider interface {
	Request(ctx context.Context, method string, params any, out any) error
}

// RPCError is a JSON-RPC 2.0 error payload from the wallet provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Well-known wallet provider error codes.
const (
	codeUserRejected   = 4001
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// HTTPProvider is a Provider over plain HTTP JSON-RPC.
type HTTPProvider struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewHTTPProvider creates an HTTPProvider for the given wallet RPC endpoint.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url: url,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int64           `json:"id"`
}

// Request implements Provider.
func (p *HTTPProvider) Request(ctx context.Context, method string, params any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      p.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("wallet: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wallet: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("wallet: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet: %s: unexpected status %d: %s", method, resp.StatusCode, body)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("wallet: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("wallet: decode %s result: %w", method, err)
		}
	}
	return nil
}
