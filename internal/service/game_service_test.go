package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDemoService() *GameService {
	s := NewGameService(Config{OwnerAddress: "0xOwner"}, nil, nil, nil, nil, nil, testLogger())
	s.demoDelay = time.Millisecond
	return s
}

func TestPlayDemoInvariants(t *testing.T) {
	s := newDemoService()

	for i := 0; i < 50; i++ {
		outcome, err := s.PlayDemo(context.Background())
		require.NoError(t, err)

		assert.True(t, outcome.Settled)
		assert.Equal(t, "0xOwner", outcome.Player)
		assert.Equal(t, uint32(100), outcome.TicketRate)

		// Twelve draws, counts in descending order, none above the pool size.
		sum := int(outcome.A) + int(outcome.B) + int(outcome.C)
		assert.Equal(t, 12, sum)
		assert.GreaterOrEqual(t, outcome.A, outcome.B)
		assert.GreaterOrEqual(t, outcome.B, outcome.C)
		assert.LessOrEqual(t, outcome.A, uint8(8))

		// Demo results never pay out.
		require.NotNil(t, outcome.PayoutWei)
		require.NotNil(t, outcome.JackpotPayoutWei)
		assert.Zero(t, outcome.PayoutWei.Sign())
		assert.Zero(t, outcome.JackpotPayoutWei.Sign())

		require.NotNil(t, outcome.RequestID)
	}
}

func TestPlayDemoHonoursCancellation(t *testing.T) {
	s := NewGameService(Config{OwnerAddress: "0xOwner"}, nil, nil, nil, nil, nil, testLogger())
	// Default settle delay applies; cancel long before it elapses.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.PlayDemo(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlayDemoRequestIDsVary(t *testing.T) {
	s := newDemoService()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		outcome, err := s.PlayDemo(context.Background())
		require.NoError(t, err)
		seen[outcome.RequestID.String()] = true
	}
	assert.Greater(t, len(seen), 1, "demo request ids should not repeat constantly")
}
