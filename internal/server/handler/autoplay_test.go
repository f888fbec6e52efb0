package handler

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/autoplay"
	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

type fakeLoop struct {
	status   autoplay.Status
	startErr error
	started  int
	stopped  bool
	acked    *big.Int
	startCtx context.Context
}

func (f *fakeLoop) Start(ctx context.Context, totalPlays int) error {
	f.startCtx = ctx
	if f.startErr != nil {
		return f.startErr
	}
	f.started = totalPlays
	return nil
}

func (f *fakeLoop) Stop() { f.stopped = true }

func (f *fakeLoop) Acknowledge(requestID *big.Int) { f.acked = requestID }

func (f *fakeLoop) Status() autoplay.Status { return f.status }

func TestGetStatus(t *testing.T) {
	loop := &fakeLoop{status: autoplay.Status{State: autoplay.StateRunning, TotalPlays: 5, PlaysCompleted: 2, RemainingPlays: 3}}
	h := NewAutoplayHandler(loop, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/autoplay", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, float64(3), body["remaining_plays"])
}

func TestStartLaunchesOnBaseContext(t *testing.T) {
	type ctxKey struct{}
	baseCtx := context.WithValue(context.Background(), ctxKey{}, "base")
	loop := &fakeLoop{status: autoplay.Status{State: autoplay.StateRunning}}
	h := NewAutoplayHandler(loop, baseCtx, testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/autoplay/start", strings.NewReader(`{"total_plays":5}`)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 5, loop.started)
	assert.Equal(t, "base", loop.startCtx.Value(ctxKey{}), "loop must outlive the request context")
}

func TestStartWhileRunningConflicts(t *testing.T) {
	loop := &fakeLoop{startErr: domain.ErrLoopActive}
	h := NewAutoplayHandler(loop, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/autoplay/start", strings.NewReader(`{"total_plays":5}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartWithoutGrantConflicts(t *testing.T) {
	loop := &fakeLoop{startErr: domain.ErrNoActiveGrant}
	h := NewAutoplayHandler(loop, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/autoplay/start", strings.NewReader(`{"total_plays":5}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopLoop(t *testing.T) {
	loop := &fakeLoop{status: autoplay.Status{State: autoplay.StateAborted}}
	h := NewAutoplayHandler(loop, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/autoplay/stop", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, loop.stopped)
}

func TestAcknowledge(t *testing.T) {
	loop := &fakeLoop{}
	h := NewAutoplayHandler(loop, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.Acknowledge(rec, httptest.NewRequest(http.MethodPost, "/api/autoplay/acknowledge", strings.NewReader(`{"request_id":"1001"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, loop.acked)
	assert.Equal(t, int64(1001), loop.acked.Int64())
}

func TestAcknowledgeMalformedID(t *testing.T) {
	loop := &fakeLoop{}
	h := NewAutoplayHandler(loop, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.Acknowledge(rec, httptest.NewRequest(http.MethodPost, "/api/autoplay/acknowledge", strings.NewReader(`{"request_id":"0x3e9"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, loop.acked)
}
