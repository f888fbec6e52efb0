package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

type fakeManager struct {
	grant        *domain.PermissionGrant
	remaining    int
	supported    bool
	requestErr   error
	lastSettings domain.PermissionSettings
	revoked      bool
}

func (f *fakeManager) RequestPermission(_ context.Context, settings domain.PermissionSettings) (*domain.PermissionGrant, error) {
	f.lastSettings = settings
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return f.grant, nil
}

func (f *fakeManager) Revoke(context.Context) { f.revoked = true }

func (f *fakeManager) Grant() *domain.PermissionGrant { return f.grant }

func (f *fakeManager) RemainingUses() int { return f.remaining }

func (f *fakeManager) IsValid() bool {
	return f.grant.Valid(time.Now(), f.remaining)
}

func (f *fakeManager) Supported() bool { return f.supported }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeGrant() *domain.PermissionGrant {
	return &domain.PermissionGrant{
		SignerAddress:     "0xSigner",
		OwnerAddress:      "0xOwner",
		AllowanceTotalWei: big.NewInt(5000),
		ExpiryTimestamp:   time.Now().Add(time.Hour),
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetSessionActive(t *testing.T) {
	h := NewSessionHandler(&fakeManager{grant: activeGrant(), remaining: 4, supported: true}, testLogger())

	rec := httptest.NewRecorder()
	h.GetSession(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(4), body["remaining_uses"])
	assert.Equal(t, "0xSigner", body["signer_address"])
	assert.Equal(t, "5000", body["allowance_total_wei"])
}

func TestGetSessionNone(t *testing.T) {
	h := NewSessionHandler(&fakeManager{supported: true}, testLogger())

	rec := httptest.NewRecorder()
	h.GetSession(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, false, body["valid"])
}

func TestRequestPermission(t *testing.T) {
	mgr := &fakeManager{grant: activeGrant(), remaining: 5, supported: true}
	h := NewSessionHandler(mgr, testLogger())

	payload := `{"duration_seconds":300,"play_count":5,"value_ceiling_wei":"9000"}`
	rec := httptest.NewRecorder()
	h.RequestPermission(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(payload)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(300), mgr.lastSettings.DurationSeconds)
	assert.Equal(t, 5, mgr.lastSettings.PlayCount)
	require.NotNil(t, mgr.lastSettings.ValueCeilingWei)
	assert.Equal(t, int64(9000), mgr.lastSettings.ValueCeilingWei.Int64())

	body := decodeJSON(t, rec)
	assert.Equal(t, "0xSigner", body["signer_address"])
	assert.Equal(t, "5000", body["allowance_total_wei"])
}

func TestRequestPermissionMalformedBody(t *testing.T) {
	h := NewSessionHandler(&fakeManager{supported: true}, testLogger())

	rec := httptest.NewRecorder()
	h.RequestPermission(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"nope":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.RequestPermission(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"duration_seconds":1,"play_count":1,"value_ceiling_wei":"abc"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestPermissionDomainErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrWalletRejected, http.StatusForbidden},
		{domain.ErrUnsupportedCapability, http.StatusNotImplemented},
		{domain.ErrInvalidRequest, http.StatusBadRequest},
		{domain.ErrLoopActive, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		h := NewSessionHandler(&fakeManager{requestErr: tt.err, supported: true}, testLogger())
		rec := httptest.NewRecorder()
		h.RequestPermission(rec, httptest.NewRequest(http.MethodPost, "/api/session",
			strings.NewReader(`{"duration_seconds":300,"play_count":5}`)))
		assert.Equal(t, tt.status, rec.Code, "error %v", tt.err)
	}
}

func TestRevokeSession(t *testing.T) {
	mgr := &fakeManager{grant: activeGrant(), remaining: 1, supported: true}
	h := NewSessionHandler(mgr, testLogger())

	rec := httptest.NewRecorder()
	h.RevokeSession(rec, httptest.NewRequest(http.MethodDelete, "/api/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, mgr.revoked)
}
