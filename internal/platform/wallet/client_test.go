package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

type fakeProvider struct {
	result func(method string, out any) error
	method string
	params any
}

func (f *fakeProvider) Request(_ context.Context, method string, params any, out any) error {
	f.method = method
	f.params = params
	return f.result(method, out)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"user rejected", &RPCError{Code: 4001, Message: "User rejected the request"}, domain.ErrWalletRejected},
		{"method not found code", &RPCError{Code: -32601, Message: "the method does not exist"}, domain.ErrUnsupportedCapability},
		{"method not found text", &RPCError{Code: -32603, Message: "Method not found"}, domain.ErrUnsupportedCapability},
		{"unknown method text", &RPCError{Code: -32603, Message: "unknown method wallet_grantPermissions"}, domain.ErrUnsupportedCapability},
		{"invalid params", &RPCError{Code: -32602, Message: "invalid params"}, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
}

func TestClassifyPassesThroughOtherErrors(t *testing.T) {
	rpcErr := &RPCError{Code: -32000, Message: "execution reverted"}
	assert.Equal(t, rpcErr, classify(rpcErr))

	transport := errors.New("connection refused")
	assert.Equal(t, transport, classify(transport))
}

func TestGrantPermissionsClassifiesRejection(t *testing.T) {
	provider := &fakeProvider{result: func(string, any) error {
		return &RPCError{Code: 4001, Message: "User rejected"}
	}}
	c := NewClient(provider)

	_, err := c.GrantPermissions(context.Background(), GrantRequest{})
	require.ErrorIs(t, err, domain.ErrWalletRejected)
	assert.Equal(t, "wallet_grantPermissions", provider.method)
}

func TestGrantPermissionsRejectsEmptyContext(t *testing.T) {
	provider := &fakeProvider{result: func(_ string, out any) error {
		// Wallet answered but with an empty permissions context.
		return nil
	}}
	c := NewClient(provider)

	_, err := c.GrantPermissions(context.Background(), GrantRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGrantPermissionsSuccess(t *testing.T) {
	provider := &fakeProvider{result: func(_ string, out any) error {
		resp := out.(*GrantResponse)
		resp.PermissionsContext = "0xctx"
		resp.SignerMeta.DelegationManager = "0xmanager"
		resp.Expiry = 1234
		return nil
	}}
	c := NewClient(provider)

	resp, err := c.GrantPermissions(context.Background(), GrantRequest{})
	require.NoError(t, err)
	assert.Equal(t, "0xctx", resp.PermissionsContext)
	assert.Equal(t, "0xmanager", resp.SignerMeta.DelegationManager)
	assert.Equal(t, int64(1234), resp.Expiry)
}

func TestSendTransaction(t *testing.T) {
	provider := &fakeProvider{result: func(_ string, out any) error {
		*out.(*string) = "0xhash"
		return nil
	}}
	c := NewClient(provider)

	hash, err := c.SendTransaction(context.Background(), TxParams{From: "0xOwner", To: "0xContract"})
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
	assert.Equal(t, "eth_sendTransaction", provider.method)
}

func TestChainID(t *testing.T) {
	provider := &fakeProvider{result: func(_ string, out any) error {
		*out.(*string) = "0xaa36a7"
		return nil
	}}
	c := NewClient(provider)

	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), id)
}

func TestChainIDMalformed(t *testing.T) {
	provider := &fakeProvider{result: func(_ string, out any) error {
		*out.(*string) = "0xnothex"
		return nil
	}}
	c := NewClient(provider)

	_, err := c.ChainID(context.Background())
	require.Error(t, err)
}
