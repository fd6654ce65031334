package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// PendingService defines the pending-position surface the handler requires.
type PendingService interface {
	PendingSet(ctx context.Context, limit int) ([]domain.PendingPosition, error)
}

// CancelService cancels a pending position and returns its deposit.
type CancelService interface {
	Cancel(ctx context.Context, correlationID string, returnChainID uint64) error
}

// PendingHandler serves pending-position endpoints.
type PendingHandler struct {
	pendings PendingService
	cancels  CancelService
	logger   *slog.Logger
}

// NewPendingHandler creates a PendingHandler.
func NewPendingHandler(pendings PendingService, cancels CancelService, logger *slog.Logger) *PendingHandler {
	return &PendingHandler{
		pendings: pendings,
		cancels:  cancels,
		logger:   logger,
	}
}

type listPendingResponse struct {
	Pending []domain.PendingPosition `json:"pending"`
}

// ListPending returns deposits received but not yet executed.
// GET /api/pending
func (h *PendingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	pending, err := h.pendings.PendingSet(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list pending failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pending positions")
		return
	}
	if pending == nil {
		pending = []domain.PendingPosition{}
	}
	writeJSON(w, http.StatusOK, listPendingResponse{Pending: pending})
}

type cancelPendingRequest struct {
	ReturnChainID uint64 `json:"return_chain_id"`
}

// CancelPending abandons a pending position and dispatches its full deposit
// back to the home ledger.
// POST /api/pending/{correlation_id}/cancel
func (h *PendingHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	corr := pathParam(r, "correlation_id")
	if corr == "" {
		writeError(w, http.StatusBadRequest, "correlation id required")
		return
	}

	var req cancelPendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReturnChainID == 0 {
		writeError(w, http.StatusBadRequest, "return_chain_id required")
		return
	}

	if err := h.cancels.Cancel(r.Context(), corr, req.ReturnChainID); err != nil {
		h.logger.WarnContext(r.Context(), "handler: cancel pending rejected",
			slog.String("correlation_id", corr),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"correlation_id": corr,
		"status":         "cancelled",
	})
}
