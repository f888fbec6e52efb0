package domain

import "math/big"

// GasPriceTier is one EIP-1559 fee estimate.
type GasPriceTier struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasPrices holds the tiered estimates returned by the relay operator, or
// derived from a public node when the operator is unavailable.
type GasPrices struct {
	Slow     GasPriceTier
	Standard GasPriceTier
	Fast     GasPriceTier
}
