package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// SessionManager is the permission lifecycle surface the handler exposes.
type SessionManager interface {
	RequestPermission(ctx context.Context, settings domain.PermissionSettings) (*domain.PermissionGrant, error)
	Revoke(ctx context.Context)
	Grant() *domain.PermissionGrant
	RemainingUses() int
	IsValid() bool
	Supported() bool
}

// SessionHandler serves the delegated-permission endpoints.
type SessionHandler struct {
	manager SessionManager
	logger  *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(manager SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

// grantRequestBody is the POST /api/session payload.
type grantRequestBody struct {
	DurationSeconds int64  `json:"duration_seconds"`
	PlayCount       int    `json:"play_count"`
	ValueCeilingWei string `json:"value_ceiling_wei,omitempty"`
}

// GetSession reports the current grant status.
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	grant := h.manager.Grant()

	resp := map[string]any{
		"active":         grant != nil,
		"valid":          h.manager.IsValid(),
		"remaining_uses": h.manager.RemainingUses(),
		"supported":      h.manager.Supported(),
	}
	if grant != nil {
		resp["signer_address"] = grant.SignerAddress
		resp["owner_address"] = grant.OwnerAddress
		resp["expiry"] = grant.ExpiryTimestamp.UTC().Format(time.RFC3339)
		resp["time_remaining_seconds"] = int64(grant.TimeRemaining(time.Now()) / time.Second)
		if grant.AllowanceTotalWei != nil {
			resp["allowance_total_wei"] = grant.AllowanceTotalWei.String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// RequestPermission asks the wallet for a new delegated permission.
// POST /api/session
func (h *SessionHandler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	var body grantRequestBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	settings := domain.PermissionSettings{
		DurationSeconds: body.DurationSeconds,
		PlayCount:       body.PlayCount,
	}
	if body.ValueCeilingWei != "" {
		ceiling, ok := new(big.Int).SetString(body.ValueCeilingWei, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "malformed value_ceiling_wei")
			return
		}
		settings.ValueCeilingWei = ceiling
	}

	grant, err := h.manager.RequestPermission(r.Context(), settings)
	if err != nil {
		h.logger.WarnContext(r.Context(), "permission request failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"signer_address":      grant.SignerAddress,
		"expiry":              grant.ExpiryTimestamp.UTC().Format(time.RFC3339),
		"allowance_total_wei": grant.AllowanceTotalWei.String(),
		"remaining_uses":      h.manager.RemainingUses(),
	})
}

// RevokeSession abandons the current grant.
// DELETE /api/session
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	h.manager.Revoke(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
