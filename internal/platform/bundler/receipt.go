package bundler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// receiptPollInterval is the cadence for WaitReceipt.
	receiptPollInterval = 2 * time.Second

	// receiptMaxAttempts bounds the wait (~5 minutes).
	receiptMaxAttempts = 150
)

// LogEntry is one log from a user-operation receipt.
type LogEntry struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// ToTypesLog converts the JSON log into the go-ethereum form so the chain
// package's event decoders can parse it.
func (l LogEntry) ToTypesLog() types.Log {
	topics := make([]common.Hash, 0, len(l.Topics))
	for _, t := range l.Topics {
		topics = append(topics, common.HexToHash(t))
	}
	return types.Log{
		Address: common.HexToAddress(l.Address),
		Topics:  topics,
		Data:    common.FromHex(l.Data),
	}
}

// UserOpReceipt is the relay's receipt for a submitted operation.
type UserOpReceipt struct {
	UserOpHash string `json:"userOpHash"`
	Success    bool   `json:"success"`
	Receipt    struct {
		TransactionHash string     `json:"transactionHash"`
		BlockNumber     string     `json:"blockNumber"`
		Logs            []LogEntry `json:"logs"`
	} `json:"receipt"`
}

// WaitReceipt polls eth_getUserOperationReceipt until the relay reports
// inclusion or the attempt budget is exhausted.
func (u *UserOpStrategy) WaitReceipt(ctx context.Context, userOpHash string) (UserOpReceipt, error) {
	for attempt := 0; attempt < receiptMaxAttempts; attempt++ {
		var receipt *UserOpReceipt
		err := u.rpc.do(ctx, "eth_getUserOperationReceipt", []any{userOpHash}, &receipt)
		if err == nil && receipt != nil && receipt.Receipt.TransactionHash != "" {
			return *receipt, nil
		}
		if ctx.Err() != nil {
			return UserOpReceipt{}, ctx.Err()
		}

		timer := time.NewTimer(receiptPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return UserOpReceipt{}, ctx.Err()
		case <-timer.C:
		}
	}
	return UserOpReceipt{}, fmt.Errorf("bundler: user operation %s not included after %d attempts", userOpHash, receiptMaxAttempts)
}
