package domain

import (
	"math/big"
	"time"
)

// GameRequest is one submitted play, created once the submission (direct or
// relayed) is confirmed included on-chain. Immutable thereafter.
type GameRequest struct {
	// RequestID is the chain-assigned randomness request identifier.
	RequestID *big.Int
	// Player is the address the game is credited to (the owner wallet).
	Player string
	// TicketRate is the fee multiplier in percent of the base fee (100 = 1x).
	TicketRate uint32
	// PaidWei is the fee actually paid for this play.
	PaidWei *big.Int
	// TxHash is the inclusion transaction or user-operation hash.
	TxHash string
	// SubmittedAt is when inclusion was observed.
	SubmittedAt time.Time
}

// GameOutcome is the settled result of a game request, observed from chain
// state once the randomness request resolves. Counts satisfy A >= B >= C.
// Outcomes are only constructed locally in demo mode.
type GameOutcome struct {
	RequestID        *big.Int
	Settled          bool
	Player           string
	A                uint8
	B                uint8
	C                uint8
	TicketRate       uint32
	PayoutWei        *big.Int
	JackpotPayoutWei *big.Int
	SettledAt        time.Time
}

// Won reports whether the outcome paid anything.
func (o GameOutcome) Won() bool {
	return o.PayoutWei != nil && o.PayoutWei.Sign() > 0
}

// JackpotWon reports whether the outcome included a jackpot payout.
func (o GameOutcome) JackpotWon() bool {
	return o.JackpotPayoutWei != nil && o.JackpotPayoutWei.Sign() > 0
}
