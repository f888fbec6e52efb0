package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValidForDemo(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "demo"
	require.NoError(t, cfg.Validate())
}

func TestDefaultsServeModeNeedsWalletRPC(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	// Chain RPC has a default; the wallet endpoint does not.
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: rpc_url")
}

func TestValidateFullConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Wallet.RPCURL = "http://localhost:8545"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "demo"
	cfg.LogLevel = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log_level")
}

func TestValidateAutoplayBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "demo"
	cfg.AutoPlay.PlayCount = 0
	cfg.AutoPlay.TicketRate = 0
	cfg.AutoPlay.PollMaxAttempts = 0
	cfg.AutoPlay.SubmitPath = "carrier-pigeon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "play_count")
	assert.Contains(t, err.Error(), "ticket_rate")
	assert.Contains(t, err.Error(), "poll_max_attempts")
	assert.Contains(t, err.Error(), "submit_path")
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "demo"
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Wallet.RPCURL = "http://localhost:8545"
	cfg.Session.EncryptedKeyPath = "/var/lib/jackpet/key.json"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Wallet.RPCURL = "http://localhost:8545"
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = "postgres://u:p@db:5432/jackpet"
	require.NoError(t, cfg.Validate())
}

func TestContractAddressFallsBackToPrimaryChain(t *testing.T) {
	c := ChainConfig{
		ChainID: 11155111,
		Contracts: map[string]string{
			"11155111": "0xSepolia",
		},
	}
	assert.Equal(t, "0xSepolia", c.ContractAddress(11155111))
	assert.Equal(t, "0xSepolia", c.ContractAddress(421614), "unknown chain falls back to primary")
}

func TestBundlerEndpoint(t *testing.T) {
	b := BundlerConfig{URL: "https://api.pimlico.io/v2/{chain}/rpc", APIKey: "k1"}
	assert.Equal(t, "https://api.pimlico.io/v2/11155111/rpc?apikey=k1", b.Endpoint(11155111))

	b = BundlerConfig{URL: "https://relay.example/rpc?v=2", APIKey: "k1"}
	assert.Equal(t, "https://relay.example/rpc?v=2&apikey=k1", b.Endpoint(1))

	b = BundlerConfig{URL: "https://relay.example/rpc"}
	assert.Equal(t, "https://relay.example/rpc", b.Endpoint(1))

	b = BundlerConfig{}
	assert.Empty(t, b.Endpoint(1))
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("2s")))
	assert.Equal(t, 2*time.Second, d.Duration)

	require.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := duration{5 * time.Minute}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", string(out))
}
