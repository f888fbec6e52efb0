package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/jackpetlabs/jackpetbot/internal/autoplay"
)

// Loop is the scheduler surface the handler exposes.
type Loop interface {
	Start(ctx context.Context, totalPlays int) error
	Stop()
	Acknowledge(requestID *big.Int)
	Status() autoplay.Status
}

// AutoplayHandler serves the auto-play loop endpoints. Loops are started on
// the handler's base context, not the request context, so they outlive the
// HTTP request that triggered them.
type AutoplayHandler struct {
	loop    Loop
	baseCtx context.Context
	logger  *slog.Logger
}

// NewAutoplayHandler creates an AutoplayHandler. baseCtx is the process run
// context the loop goroutine is bound to.
func NewAutoplayHandler(loop Loop, baseCtx context.Context, logger *slog.Logger) *AutoplayHandler {
	return &AutoplayHandler{loop: loop, baseCtx: baseCtx, logger: logger}
}

// GetStatus reports the loop snapshot.
// GET /api/autoplay
func (h *AutoplayHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loop.Status())
}

// Start launches an auto-play loop.
// POST /api/autoplay/start
func (h *AutoplayHandler) Start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TotalPlays int `json:"total_plays"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	if err := h.loop.Start(h.baseCtx, body.TotalPlays); err != nil {
		h.logger.WarnContext(r.Context(), "loop start refused", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, h.loop.Status())
}

// Stop cancels the active loop.
// POST /api/autoplay/stop
func (h *AutoplayHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.loop.Stop()
	writeJSON(w, http.StatusOK, h.loop.Status())
}

// Acknowledge consumes a pending game result so the loop can advance.
// POST /api/autoplay/acknowledge
func (h *AutoplayHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	requestID, ok := new(big.Int).SetString(body.RequestID, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed request_id")
		return
	}

	h.loop.Acknowledge(requestID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
