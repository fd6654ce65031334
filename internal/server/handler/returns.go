package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// ReturnService dispatches a manual asset return to the home ledger.
type ReturnService interface {
	ReturnAssets(ctx context.Context, user, asset common.Address, amount *big.Int, destChainID uint64, correlationID string) error
}

// ReturnHandler serves the manual asset-return endpoint.
type ReturnHandler struct {
	returns ReturnService
	logger  *slog.Logger
}

// NewReturnHandler creates a ReturnHandler.
func NewReturnHandler(returns ReturnService, logger *slog.Logger) *ReturnHandler {
	return &ReturnHandler{returns: returns, logger: logger}
}

type returnRequest struct {
	User          string `json:"user"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	DestChainID   uint64 `json:"dest_chain_id"`
	CorrelationID string `json:"correlation_id"`
}

// Return sends held funds back to a user on the home ledger, outside any
// position lifecycle. The correlation id ties the transfer to a home-side
// record so redelivery stays idempotent.
// POST /api/returns
func (h *ReturnHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, ok := parseAddress(req.User)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if req.DestChainID == 0 || req.CorrelationID == "" {
		writeError(w, http.StatusBadRequest, "dest_chain_id and correlation_id required")
		return
	}

	if err := h.returns.ReturnAssets(r.Context(), user, asset, amount, req.DestChainID, req.CorrelationID); err != nil {
		h.logger.WarnContext(r.Context(), "handler: manual return rejected",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": req.CorrelationID,
		"status":         "dispatched",
	})
}
