package bundler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

type fakeStrategy struct {
	method domain.SubmitMethod
	hash   string
	err    error
	calls  int
}

func (f *fakeStrategy) Method() domain.SubmitMethod { return f.method }

func (f *fakeStrategy) Submit(context.Context, domain.UserOperation, *domain.PermissionGrant) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.hash, nil
}

func testGrant() *domain.PermissionGrant {
	return &domain.PermissionGrant{
		SignerAddress:        "0xSigner",
		DelegationToken:      "0xctx",
		DelegationManagerRef: "0xmanager",
		ExpiryTimestamp:      time.Now().Add(time.Hour),
	}
}

func testOp() domain.UserOperation {
	return domain.UserOperation{
		Sender:               "0xSigner",
		To:                   "0xContract",
		ValueWei:             big.NewInt(1),
		MaxFeePerGas:         big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(10),
	}
}

func TestSubmitOneFirstStrategyWins(t *testing.T) {
	primary := &fakeStrategy{method: domain.SubmitMethodUserOp, hash: "0xop"}
	fallback := &fakeStrategy{method: domain.SubmitMethodRawTx, hash: "0xtx"}
	svc := NewService([]SubmitStrategy{primary, fallback}, NewOracle("", &fakeNode{price: big.NewInt(1)}, testLogger()), nil, 0, testLogger())

	result, err := svc.SubmitOne(context.Background(), testOp(), testGrant())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0xop", result.UserOpHash)
	assert.Equal(t, domain.SubmitMethodUserOp, result.Method)
	assert.NotEmpty(t, result.AttemptID)
	assert.Equal(t, 0, fallback.calls, "fallback must not run when the primary succeeds")
}

func TestSubmitOneFallsBackInOrder(t *testing.T) {
	primary := &fakeStrategy{method: domain.SubmitMethodUserOp, err: errors.New("relay rejected")}
	fallback := &fakeStrategy{method: domain.SubmitMethodRawTx, hash: "0xtx"}
	svc := NewService([]SubmitStrategy{primary, fallback}, NewOracle("", &fakeNode{price: big.NewInt(1)}, testLogger()), nil, 0, testLogger())

	result, err := svc.SubmitOne(context.Background(), testOp(), testGrant())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, domain.SubmitMethodRawTx, result.Method)
	assert.Equal(t, "0xtx", result.UserOpHash)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestSubmitOneAllStrategiesFail(t *testing.T) {
	primary := &fakeStrategy{method: domain.SubmitMethodUserOp, err: errors.New("relay rejected")}
	fallback := &fakeStrategy{method: domain.SubmitMethodRawTx, err: errors.New("nonce too low")}
	svc := NewService([]SubmitStrategy{primary, fallback}, NewOracle("", &fakeNode{price: big.NewInt(1)}, testLogger()), nil, 0, testLogger())

	result, err := svc.SubmitOne(context.Background(), testOp(), testGrant())
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.SubmitMethodRawTx, result.Method, "result describes the final attempt")
	assert.Contains(t, result.Err, "nonce too low")
}

func TestSubmitOnePopulatesGasFromOracle(t *testing.T) {
	primary := &fakeStrategy{method: domain.SubmitMethodUserOp, hash: "0xop"}
	svc := NewService([]SubmitStrategy{primary}, NewOracle("", &fakeNode{price: big.NewInt(10_000_000_000)}, testLogger()), nil, 0, testLogger())

	op := testOp()
	op.MaxFeePerGas = nil
	op.MaxPriorityFeePerGas = nil

	result, err := svc.SubmitOne(context.Background(), op, testGrant())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestUserOpStrategyRequiresGrant(t *testing.T) {
	strat := NewUserOpStrategy("http://localhost:0")
	_, err := strat.Submit(context.Background(), testOp(), nil)
	require.ErrorIs(t, err, domain.ErrNoActiveGrant)
}

func TestSubmitBatchPacesBetweenBatches(t *testing.T) {
	primary := &fakeStrategy{method: domain.SubmitMethodUserOp, hash: "0xop"}
	svc := NewService([]SubmitStrategy{primary}, NewOracle("", &fakeNode{price: big.NewInt(1)}, testLogger()), nil, 0, testLogger())

	interval := 20 * time.Millisecond
	start := time.Now()
	results := svc.SubmitBatch(context.Background(), testOp, testGrant(), BatchOptions{
		TotalOps:    3,
		Interval:    interval,
		OpsPerBatch: 1,
	})
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	// Three ops at one per batch means two pauses.
	assert.GreaterOrEqual(t, elapsed, 2*interval)
}

func TestSubmitBatchPartialFailureReported(t *testing.T) {
	failing := &fakeStrategy{method: domain.SubmitMethodUserOp, err: errors.New("rejected")}
	svc := NewService([]SubmitStrategy{failing}, NewOracle("", &fakeNode{price: big.NewInt(1)}, testLogger()), nil, 0, testLogger())

	results := svc.SubmitBatch(context.Background(), testOp, testGrant(), BatchOptions{
		TotalOps:    2,
		Interval:    time.Millisecond,
		OpsPerBatch: 2,
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.Err)
	}
}

func TestSubmitBatchCancellation(t *testing.T) {
	primary := &fakeStrategy{method: domain.SubmitMethodUserOp, hash: "0xop"}
	svc := NewService([]SubmitStrategy{primary}, NewOracle("", &fakeNode{price: big.NewInt(1)}, testLogger()), nil, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	results := svc.SubmitBatch(ctx, testOp, testGrant(), BatchOptions{
		TotalOps:    100,
		Interval:    20 * time.Millisecond,
		OpsPerBatch: 1,
	})
	assert.Less(t, len(results), 100)
}
