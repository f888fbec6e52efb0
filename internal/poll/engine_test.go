package poll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

type scriptedReader struct {
	results []func() (domain.GameOutcome, error)
	calls   int
}

func (r *scriptedReader) GetOutcome(context.Context, *big.Int) (domain.GameOutcome, error) {
	i := r.calls
	r.calls++
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	return r.results[i]()
}

func pending() func() (domain.GameOutcome, error) {
	return func() (domain.GameOutcome, error) {
		return domain.GameOutcome{Settled: false}, nil
	}
}

func settled(id int64) func() (domain.GameOutcome, error) {
	return func() (domain.GameOutcome, error) {
		return domain.GameOutcome{
			RequestID: big.NewInt(id),
			Settled:   true,
			A:         6, B: 4, C: 2,
			PayoutWei: big.NewInt(100),
		}, nil
	}
}

func failing(err error) func() (domain.GameOutcome, error) {
	return func() (domain.GameOutcome, error) {
		return domain.GameOutcome{}, err
	}
}

type recordingCache struct {
	set []domain.GameOutcome
}

func (c *recordingCache) Set(_ context.Context, o domain.GameOutcome) error {
	c.set = append(c.set, o)
	return nil
}

func (c *recordingCache) Get(context.Context, *big.Int) (domain.GameOutcome, error) {
	return domain.GameOutcome{}, domain.ErrNotFound
}

func (c *recordingCache) Invalidate(context.Context, *big.Int) error { return nil }

type recordingStore struct {
	saved []domain.GameOutcome
}

func (s *recordingStore) InsertRequest(context.Context, domain.GameRequest) error { return nil }

func (s *recordingStore) SaveOutcome(_ context.Context, o domain.GameOutcome) error {
	s.saved = append(s.saved, o)
	return nil
}

func (s *recordingStore) GetOutcome(context.Context, *big.Int) (domain.GameOutcome, error) {
	return domain.GameOutcome{}, domain.ErrNotFound
}

func (s *recordingStore) ListSettled(context.Context, domain.ListOpts) ([]domain.GameOutcome, error) {
	return nil, nil
}

func (s *recordingStore) ListSettledBefore(context.Context, time.Time) ([]domain.GameOutcome, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollReturnsSettledOutcome(t *testing.T) {
	reader := &scriptedReader{results: []func() (domain.GameOutcome, error){
		pending(),
		pending(),
		settled(42),
	}}
	cache := &recordingCache{}
	store := &recordingStore{}
	e := NewEngine(reader, cache, store, testLogger())

	outcome, err := e.Poll(context.Background(), big.NewInt(42), Options{
		Interval:    time.Millisecond,
		MaxAttempts: 10,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Settled)
	assert.Equal(t, 3, reader.calls)

	// Write-through happened for both cache and store.
	require.Len(t, cache.set, 1)
	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(42), cache.set[0].RequestID.Int64())
}

func TestPollPerformsExactlyMaxAttempts(t *testing.T) {
	reader := &scriptedReader{results: []func() (domain.GameOutcome, error){pending()}}
	e := NewEngine(reader, nil, nil, testLogger())

	_, err := e.Poll(context.Background(), big.NewInt(1), Options{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
	})
	require.ErrorIs(t, err, domain.ErrPollTimeout)
	assert.Equal(t, 5, reader.calls)
}

func TestPollTransientErrorsConsumeAttempts(t *testing.T) {
	rpcDown := errors.New("rpc unavailable")
	reader := &scriptedReader{results: []func() (domain.GameOutcome, error){
		failing(rpcDown),
		failing(rpcDown),
		settled(7),
	}}
	e := NewEngine(reader, nil, nil, testLogger())

	outcome, err := e.Poll(context.Background(), big.NewInt(7), Options{
		Interval:    time.Millisecond,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Settled)
	assert.Equal(t, 3, reader.calls)
}

func TestPollAllErrorsExhaustBudget(t *testing.T) {
	reader := &scriptedReader{results: []func() (domain.GameOutcome, error){
		failing(errors.New("rpc unavailable")),
	}}
	e := NewEngine(reader, nil, nil, testLogger())

	_, err := e.Poll(context.Background(), big.NewInt(1), Options{
		Interval:    time.Millisecond,
		MaxAttempts: 4,
	})
	require.ErrorIs(t, err, domain.ErrPollTimeout)
	assert.Equal(t, 4, reader.calls)
}

func TestPollHonoursCancellation(t *testing.T) {
	reader := &scriptedReader{results: []func() (domain.GameOutcome, error){pending()}}
	e := NewEngine(reader, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.Poll(ctx, big.NewInt(1), Options{
		Interval:    time.Hour, // cancellation must win over the pending timer
		MaxAttempts: 10,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, reader.calls)
}

func TestPollZeroOptionsTakeDefaults(t *testing.T) {
	reader := &scriptedReader{results: []func() (domain.GameOutcome, error){settled(9)}}
	e := NewEngine(reader, nil, nil, testLogger())

	outcome, err := e.Poll(context.Background(), big.NewInt(9), Options{})
	require.NoError(t, err)
	assert.True(t, outcome.Settled)
}
