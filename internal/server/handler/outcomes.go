package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// OutcomeHandler serves settled game history.
type OutcomeHandler struct {
	store  domain.GameStore
	logger *slog.Logger
}

// NewOutcomeHandler creates an OutcomeHandler.
func NewOutcomeHandler(store domain.GameStore, logger *slog.Logger) *OutcomeHandler {
	return &OutcomeHandler{store: store, logger: logger}
}

// ListOutcomes returns recently settled outcomes, newest first.
// GET /api/outcomes
func (h *OutcomeHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.store.ListSettled(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list outcomes failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		item := map[string]any{
			"request_id":  o.RequestID.String(),
			"player":      o.Player,
			"a":           o.A,
			"b":           o.B,
			"c":           o.C,
			"ticket_rate": o.TicketRate,
			"won":         o.Won(),
			"jackpot_won": o.JackpotWon(),
			"settled_at":  o.SettledAt.UTC().Format(time.RFC3339),
		}
		if o.PayoutWei != nil {
			item["payout_wei"] = o.PayoutWei.String()
		}
		if o.JackpotPayoutWei != nil {
			item["jackpot_payout_wei"] = o.JackpotPayoutWei.String()
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcomes": items,
		"count":    len(items),
	})
}
