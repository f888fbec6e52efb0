package autoplay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
	"github.com/jackpetlabs/jackpetbot/internal/poll"
)

type fakeSession struct {
	mu        sync.Mutex
	remaining int
	grant     *domain.PermissionGrant
}

func newFakeSession(uses int) *fakeSession {
	return &fakeSession{
		remaining: uses,
		grant: &domain.PermissionGrant{
			SignerAddress:   "0xSigner",
			OwnerAddress:    "0xOwner",
			ExpiryTimestamp: time.Now().Add(5 * time.Minute),
		},
	}
}

func (f *fakeSession) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grant.Valid(time.Now(), f.remaining)
}

func (f *fakeSession) Grant() *domain.PermissionGrant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grant
}

func (f *fakeSession) DecrementUses(context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining > 0 {
		f.remaining--
	}
	return f.remaining
}

type fakePlayer struct {
	mu     sync.Mutex
	nextID int64
	err    error
	plays  int
}

func (f *fakePlayer) PlayDelegated(_ context.Context, _ *domain.PermissionGrant, _ uint32) (domain.GameRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.GameRequest{}, f.err
	}
	f.plays++
	f.nextID++
	return domain.GameRequest{RequestID: big.NewInt(1000 + f.nextID)}, nil
}

func (f *fakePlayer) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

type fakePoller struct {
	outcome func(requestID *big.Int) (domain.GameOutcome, error)
}

// ctxPoller blocks until the poll context is cancelled.
type ctxPoller struct{}

func (ctxPoller) Poll(ctx context.Context, _ *big.Int, _ poll.Options) (domain.GameOutcome, error) {
	<-ctx.Done()
	return domain.GameOutcome{}, ctx.Err()
}

func (f *fakePoller) Poll(_ context.Context, requestID *big.Int, _ poll.Options) (domain.GameOutcome, error) {
	return f.outcome(requestID)
}

func settledOutcome(requestID *big.Int) (domain.GameOutcome, error) {
	return domain.GameOutcome{
		RequestID: new(big.Int).Set(requestID),
		Settled:   true,
		A:         8, B: 4, C: 0,
		PayoutWei: big.NewInt(0),
	}, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(session SessionControl, player Player, poller OutcomePoller, bus domain.SignalBus) *Scheduler {
	return NewScheduler(Config{
		TicketRate:      100,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 3,
	}, session, player, poller, bus, nil, testLogger())
}

// waitForState polls the scheduler until it reaches want or the deadline hits.
func waitForState(t *testing.T, s *Scheduler, want State) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Status()
		if st.State == want {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("scheduler never reached state %q, last: %+v", want, s.Status())
	return Status{}
}

// waitForCurrent blocks until the scheduler reports an in-flight request.
func waitForCurrent(t *testing.T, s *Scheduler) *big.Int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if id := s.Status().CurrentRequestID; id != nil {
			return id
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("scheduler never exposed a current request")
	return nil
}

func TestLoopCompletesAfterAcknowledgedPlays(t *testing.T) {
	session := newFakeSession(2)
	player := &fakePlayer{}
	poller := &fakePoller{outcome: settledOutcome}
	bus := newMemBus()
	s := newTestScheduler(session, player, poller, bus)

	require.NoError(t, s.Start(context.Background(), 2))

	// First play settles, then waits for the acknowledgment gate.
	first := waitForCurrent(t, s)
	assert.Equal(t, int64(1001), first.Int64())

	deadline := time.Now().Add(5 * time.Second)
	for s.Status().PlaysCompleted < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 1, s.Status().PlaysCompleted)
	require.Equal(t, 1, player.playCount(), "play 2 must not start before play 1 is acknowledged")

	s.Acknowledge(big.NewInt(1001))

	st := waitForState(t, s, StateCompleted)
	assert.Equal(t, 2, st.PlaysCompleted)
	assert.Equal(t, 0, st.RemainingPlays)
	assert.Empty(t, st.LastError)
	assert.Equal(t, 2, player.playCount())

	// One outcome event per settled play.
	assert.Equal(t, 2, bus.count(ChannelOutcome))
	assert.Greater(t, bus.count(ChannelStatus), 0)
}

func TestLastPlayNeedsNoAcknowledgment(t *testing.T) {
	session := newFakeSession(1)
	s := newTestScheduler(session, &fakePlayer{}, &fakePoller{outcome: settledOutcome}, nil)

	require.NoError(t, s.Start(context.Background(), 1))
	st := waitForState(t, s, StateCompleted)
	assert.Equal(t, 1, st.PlaysCompleted)
}

func TestStaleAcknowledgmentIsIgnored(t *testing.T) {
	session := newFakeSession(2)
	player := &fakePlayer{}
	s := newTestScheduler(session, player, &fakePoller{outcome: settledOutcome}, nil)

	require.NoError(t, s.Start(context.Background(), 2))

	deadline := time.Now().Add(5 * time.Second)
	for s.Status().PlaysCompleted < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 1, s.Status().PlaysCompleted)

	// Wrong ID: the gate must hold.
	s.Acknowledge(big.NewInt(9999))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, player.playCount())

	s.Acknowledge(big.NewInt(1001))
	waitForState(t, s, StateCompleted)
}

func TestStartRefusedWhileRunning(t *testing.T) {
	session := newFakeSession(5)
	blocker := &fakePoller{outcome: func(id *big.Int) (domain.GameOutcome, error) {
		time.Sleep(50 * time.Millisecond)
		return settledOutcome(id)
	}}
	s := newTestScheduler(session, &fakePlayer{}, blocker, nil)

	require.NoError(t, s.Start(context.Background(), 1))
	err := s.Start(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrLoopActive)

	waitForState(t, s, StateCompleted)
}

func TestStartWithoutGrantRefused(t *testing.T) {
	session := newFakeSession(0) // exhausted
	s := newTestScheduler(session, &fakePlayer{}, &fakePoller{outcome: settledOutcome}, nil)

	err := s.Start(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNoActiveGrant)
	assert.Equal(t, StateIdle, s.Status().State)
}

func TestStartRejectsNonPositivePlays(t *testing.T) {
	s := newTestScheduler(newFakeSession(1), &fakePlayer{}, &fakePoller{outcome: settledOutcome}, nil)
	err := s.Start(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPlayErrorAbortsLoop(t *testing.T) {
	session := newFakeSession(3)
	player := &fakePlayer{err: errors.New("relay down")}
	s := newTestScheduler(session, player, &fakePoller{outcome: settledOutcome}, nil)

	require.NoError(t, s.Start(context.Background(), 3))
	st := waitForState(t, s, StateAborted)
	assert.Contains(t, st.LastError, "relay down")
	assert.Equal(t, 0, st.PlaysCompleted)
}

func TestPollTimeoutAbortsLoop(t *testing.T) {
	session := newFakeSession(3)
	poller := &fakePoller{outcome: func(*big.Int) (domain.GameOutcome, error) {
		return domain.GameOutcome{}, domain.ErrPollTimeout
	}}
	s := newTestScheduler(session, &fakePlayer{}, poller, nil)

	require.NoError(t, s.Start(context.Background(), 3))
	st := waitForState(t, s, StateAborted)
	assert.Contains(t, st.LastError, domain.ErrPollTimeout.Error())
}

func TestStopAbortsLoop(t *testing.T) {
	session := newFakeSession(5)
	blocker := &ctxPoller{}
	s := newTestScheduler(session, &fakePlayer{}, blocker, nil)

	require.NoError(t, s.Start(context.Background(), 5))
	waitForCurrent(t, s)
	s.Stop()

	st := waitForState(t, s, StateAborted)
	assert.Equal(t, 0, st.PlaysCompleted)
}

func TestUsesExhaustedMidLoopAborts(t *testing.T) {
	// One authorized use but two requested plays: the second iteration finds
	// the grant invalid and aborts.
	session := newFakeSession(1)
	s := newTestScheduler(session, &fakePlayer{}, &fakePoller{outcome: settledOutcome}, nil)

	require.NoError(t, s.Start(context.Background(), 2))

	deadline := time.Now().Add(5 * time.Second)
	for s.Status().PlaysCompleted < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	s.Acknowledge(big.NewInt(1001))

	st := waitForState(t, s, StateAborted)
	assert.Equal(t, 1, st.PlaysCompleted)
	assert.Contains(t, st.LastError, domain.ErrNoActiveGrant.Error())
}

func TestRestartAfterCompletion(t *testing.T) {
	session := newFakeSession(4)
	player := &fakePlayer{}
	s := newTestScheduler(session, player, &fakePoller{outcome: settledOutcome}, nil)

	require.NoError(t, s.Start(context.Background(), 1))
	waitForState(t, s, StateCompleted)

	require.NoError(t, s.Start(context.Background(), 1))
	st := waitForState(t, s, StateCompleted)
	assert.Equal(t, 1, st.PlaysCompleted, "counters reset for the new loop")
	assert.Equal(t, 2, player.playCount())
}
