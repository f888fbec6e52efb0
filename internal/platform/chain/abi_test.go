package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

func TestPackPlay(t *testing.T) {
	data, err := PackPlay(150)
	require.NoError(t, err)

	// 4-byte selector plus one abi-encoded uint32 word.
	require.Len(t, data, 36)
	assert.Equal(t, gameABI.Methods["play"].ID, data[:4])
	assert.Equal(t, big.NewInt(150), new(big.Int).SetBytes(data[4:]))
}

func TestParseGameRequestedRoundTrip(t *testing.T) {
	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	requestID := big.NewInt(987654321)
	paid := big.NewInt(10_000_000_000_000_000)

	data, err := gameABI.Events["GameRequested"].Inputs.NonIndexed().Pack(paid)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			gameABI.Events["GameRequested"].ID,
			common.BigToHash(requestID),
			common.BytesToHash(common.LeftPadBytes(player.Bytes(), 32)),
		},
		Data:   data,
		TxHash: common.HexToHash("0xabc"),
	}

	req, err := ParseGameRequested(log)
	require.NoError(t, err)
	assert.Zero(t, requestID.Cmp(req.RequestID))
	assert.Equal(t, player.Hex(), req.Player)
	assert.Zero(t, paid.Cmp(req.PaidWei))
	assert.Equal(t, log.TxHash.Hex(), req.TxHash)
}

func TestParseGameSettledRoundTrip(t *testing.T) {
	player := common.HexToAddress("0x2222222222222222222222222222222222222222")
	requestID := big.NewInt(42)
	payout := big.NewInt(1234)
	jackpot := big.NewInt(0)

	data, err := gameABI.Events["GameSettled"].Inputs.NonIndexed().Pack(
		uint8(7), uint8(4), uint8(1), uint32(150), payout, jackpot,
	)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			gameABI.Events["GameSettled"].ID,
			common.BigToHash(requestID),
			common.BytesToHash(common.LeftPadBytes(player.Bytes(), 32)),
		},
		Data: data,
	}

	outcome, err := ParseGameSettled(log)
	require.NoError(t, err)
	assert.True(t, outcome.Settled)
	assert.Equal(t, uint8(7), outcome.A)
	assert.Equal(t, uint8(4), outcome.B)
	assert.Equal(t, uint8(1), outcome.C)
	assert.Equal(t, uint32(150), outcome.TicketRate)
	assert.Zero(t, payout.Cmp(outcome.PayoutWei))
	assert.True(t, outcome.Won())
	assert.False(t, outcome.JackpotWon())
}

func TestParseRejectsForeignLogs(t *testing.T) {
	_, err := ParseGameRequested(types.Log{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	// A GameSettled log is not a GameRequested log.
	settled := types.Log{Topics: []common.Hash{
		gameABI.Events["GameSettled"].ID,
		common.BigToHash(big.NewInt(1)),
		common.BigToHash(big.NewInt(2)),
	}}
	_, err = ParseGameRequested(settled)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
