package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	price *big.Int
	err   error
}

func (f *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.price, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func relayServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGasPricesFromRelay(t *testing.T) {
	srv := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pimlico_getUserOperationGasPrice", req["method"])

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]any{
				"slow":     map[string]string{"maxFeePerGas": "0x3b9aca00", "maxPriorityFeePerGas": "0x1"},
				"standard": map[string]string{"maxFeePerGas": "0x77359400", "maxPriorityFeePerGas": "0x2"},
				"fast":     map[string]string{"maxFeePerGas": "0xb2d05e00", "maxPriorityFeePerGas": "0x3"},
			},
		})
	})

	o := NewOracle(srv.URL, &fakeNode{price: big.NewInt(1)}, testLogger())
	prices, err := o.GasPrices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(1_000_000_000), prices.Slow.MaxFeePerGas)
	assert.Equal(t, big.NewInt(2_000_000_000), prices.Standard.MaxFeePerGas)
	assert.Equal(t, big.NewInt(3_000_000_000), prices.Fast.MaxFeePerGas)
	assert.Equal(t, big.NewInt(3), prices.Fast.MaxPriorityFeePerGas)
}

func TestGasPricesRelayDownFallsBackToNode(t *testing.T) {
	srv := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	// Node baseline 10 gwei: standard tier is 12 gwei (1.2x).
	o := NewOracle(srv.URL, &fakeNode{price: big.NewInt(10_000_000_000)}, testLogger())
	prices, err := o.GasPrices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(10_000_000_000), prices.Slow.MaxFeePerGas)
	assert.Equal(t, big.NewInt(12_000_000_000), prices.Standard.MaxFeePerGas)
	assert.Equal(t, big.NewInt(15_000_000_000), prices.Fast.MaxFeePerGas)
	assert.Equal(t, big.NewInt(1_000_000_000), prices.Slow.MaxPriorityFeePerGas)
	assert.Equal(t, big.NewInt(2_000_000_000), prices.Fast.MaxPriorityFeePerGas)
}

func TestGasPricesBothDownUsesDefaults(t *testing.T) {
	srv := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	o := NewOracle(srv.URL, &fakeNode{err: errors.New("node down")}, testLogger())
	prices, err := o.GasPrices(context.Background())
	require.NoError(t, err, "gas estimation must never hard-fail")

	assert.Equal(t, defaultGasWei, prices.Slow.MaxFeePerGas)
	assert.Equal(t, new(big.Int).Mul(defaultGasWei, big.NewInt(3)), prices.Fast.MaxFeePerGas)
}

func TestGasPricesNoRelayEndpoint(t *testing.T) {
	o := NewOracle("", &fakeNode{price: big.NewInt(20_000_000_000)}, testLogger())
	prices, err := o.GasPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(24_000_000_000), prices.Standard.MaxFeePerGas)
}

func TestGasPricesMalformedRelayPayloadFallsBack(t *testing.T) {
	srv := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]any{
				"slow":     map[string]string{"maxFeePerGas": "garbage", "maxPriorityFeePerGas": "0x1"},
				"standard": map[string]string{"maxFeePerGas": "0x2", "maxPriorityFeePerGas": "0x2"},
				"fast":     map[string]string{"maxFeePerGas": "0x3", "maxPriorityFeePerGas": "0x3"},
			},
		})
	})

	o := NewOracle(srv.URL, &fakeNode{price: big.NewInt(10)}, testLogger())
	prices, err := o.GasPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), prices.Slow.MaxFeePerGas)
}

func TestIsRelayRateLimited(t *testing.T) {
	assert.True(t, isRelayRateLimited(&rpcError{Code: -32005, Message: "throttled"}))
	assert.True(t, isRelayRateLimited(&rpcError{Code: -32000, Message: "Rate limit exceeded"}))
	assert.True(t, isRelayRateLimited(&httpStatusError{Status: http.StatusTooManyRequests}))
	assert.False(t, isRelayRateLimited(&rpcError{Code: -32000, Message: "execution reverted"}))
	assert.False(t, isRelayRateLimited(errors.New("connection refused")))
}

func TestHexOrDecBig(t *testing.T) {
	v, err := hexOrDecBig("0xff")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(255), v)

	v, err = hexOrDecBig("1000")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), v)

	_, err = hexOrDecBig("")
	require.Error(t, err)

	_, err = hexOrDecBig("0xzz")
	require.Error(t, err)
}
