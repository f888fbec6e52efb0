package chain

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

//go:embed abi.json
var gameABIJSON string

// gameABI is the parsed game contract ABI, shared by all clients.
var gameABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(gameABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parsing embedded game ABI: %v", err))
	}
	return parsed
}

// PackPlay encodes the play(ticketRate) call data for direct or relayed
// submission.
func PackPlay(ticketRate uint32) ([]byte, error) {
	data, err := gameABI.Pack("play", ticketRate)
	if err != nil {
		return nil, fmt.Errorf("chain: pack play call: %w", err)
	}
	return data, nil
}

// gameRequestedEvent mirrors the GameRequested log layout.
type gameRequestedEvent struct {
	Paid *big.Int
}

// gameSettledEvent mirrors the non-indexed GameSettled log fields.
type gameSettledEvent struct {
	A             uint8
	B             uint8
	C             uint8
	TicketRate    uint32
	PayoutWei     *big.Int
	JackpotPayout *big.Int
}

// ParseGameRequested decodes a GameRequested log into a domain.GameRequest.
// Returns domain.ErrNotFound when the log is not a GameRequested event.
func ParseGameRequested(log types.Log) (domain.GameRequest, error) {
	ev, ok := gameABI.Events["GameRequested"]
	if !ok || len(log.Topics) < 3 || log.Topics[0] != ev.ID {
		return domain.GameRequest{}, domain.ErrNotFound
	}

	var data gameRequestedEvent
	if err := gameABI.UnpackIntoInterface(&data, "GameRequested", log.Data); err != nil {
		return domain.GameRequest{}, fmt.Errorf("chain: unpack GameRequested: %w", err)
	}

	return domain.GameRequest{
		RequestID:   new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Player:      topicAddress(log.Topics[2]),
		PaidWei:     data.Paid,
		TxHash:      log.TxHash.Hex(),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// ParseGameSettled decodes a GameSettled log into a domain.GameOutcome.
// Returns domain.ErrNotFound when the log is not a GameSettled event.
func ParseGameSettled(log types.Log) (domain.GameOutcome, error) {
	ev, ok := gameABI.Events["GameSettled"]
	if !ok || len(log.Topics) < 3 || log.Topics[0] != ev.ID {
		return domain.GameOutcome{}, domain.ErrNotFound
	}

	var data gameSettledEvent
	if err := gameABI.UnpackIntoInterface(&data, "GameSettled", log.Data); err != nil {
		return domain.GameOutcome{}, fmt.Errorf("chain: unpack GameSettled: %w", err)
	}

	return domain.GameOutcome{
		RequestID:        new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Settled:          true,
		Player:           topicAddress(log.Topics[2]),
		A:                data.A,
		B:                data.B,
		C:                data.C,
		TicketRate:       data.TicketRate,
		PayoutWei:        data.PayoutWei,
		JackpotPayoutWei: data.JackpotPayout,
		SettledAt:        time.Now().UTC(),
	}, nil
}
