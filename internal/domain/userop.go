package domain

import "math/big"

// UserOperation is a pre-authorized operation to be dispatched through the
// bundler relay. CallData targets the game contract; the delegation context
// travels alongside so the relay can prove the session signer's authority to
// the delegation manager.
type UserOperation struct {
	Sender   string
	To       string
	CallData []byte
	ValueWei *big.Int

	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// SubmitMethod identifies which submission path produced a result.
type SubmitMethod string

const (
	SubmitMethodUserOp SubmitMethod = "eth_sendUserOperation"
	SubmitMethodRawTx  SubmitMethod = "eth_sendRawTransaction"
	SubmitMethodDirect SubmitMethod = "eth_sendTransaction"
)

// SubmitResult is the per-operation outcome of a relay submission. Batch
// submission returns one result per attempted operation; a failed result is a
// normal, reportable outcome rather than a batch-level failure.
type SubmitResult struct {
	// AttemptID correlates the attempt across logs and the audit trail.
	AttemptID string
	Success   bool
	// UserOpHash is the relay-assigned operation hash (or tx hash on the
	// fallback path) when Success is true.
	UserOpHash string
	Method     SubmitMethod
	Err        string
}
