package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/settlement"
)

// PositionService defines the read surface the position handler requires.
type PositionService interface {
	ByLocalID(ctx context.Context, localID int64) (domain.Position, error)
	ActiveSet(ctx context.Context, limit int) ([]domain.Position, error)
	NeedsAttention(ctx context.Context) ([]domain.Position, error)
}

// LiquidationService triggers operator-initiated liquidations.
type LiquidationService interface {
	ManualLiquidate(ctx context.Context, localID int64, opts settlement.Options) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions    PositionService
	liquidations LiquidationService
	logger       *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, liquidations LiquidationService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions:    positions,
		liquidations: liquidations,
		logger:       logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the monitored (active + out-of-range) positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	positions, err := h.positions.ActiveSet(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position by local id.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.positions.ByLocalID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// NeedsAttention returns failed positions awaiting operator intervention.
// GET /api/positions/needs-attention
func (h *PositionHandler) NeedsAttention(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.NeedsAttention(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: needs-attention query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// liquidateRequest carries optional slippage overrides for a manual
// liquidation. Amounts are decimal strings; zero values fall back to the
// zero-slippage defaults.
type liquidateRequest struct {
	ReturnAsset string `json:"return_asset,omitempty"`
	MinOut0     string `json:"min_out0,omitempty"`
	MinOut1     string `json:"min_out1,omitempty"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

// Liquidate force-liquidates a position regardless of its range state.
// POST /api/positions/{id}/liquidate
func (h *PositionHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	var req liquidateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts, err := req.toOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.liquidations.ManualLiquidate(r.Context(), id, opts); err != nil {
		h.logger.WarnContext(r.Context(), "handler: manual liquidation rejected",
			slog.Int64("local_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"local_id": id, "status": "liquidating"})
}

func (req liquidateRequest) toOptions() (settlement.Options, error) {
	var opts settlement.Options
	if req.ReturnAsset != "" {
		addr, ok := parseAddress(req.ReturnAsset)
		if !ok {
			return opts, errBadField("return_asset")
		}
		opts.ReturnAsset = addr
	}
	var err error
	if opts.MinOut0, err = optionalAmount(req.MinOut0, "min_out0"); err != nil {
		return opts, err
	}
	if opts.MinOut1, err = optionalAmount(req.MinOut1, "min_out1"); err != nil {
		return opts, err
	}
	if opts.LimitPrice, err = optionalAmount(req.LimitPrice, "limit_price"); err != nil {
		return opts, err
	}
	return opts, nil
}

func optionalAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, errBadField(field)
	}
	return v, nil
}

type fieldError string

func (e fieldError) Error() string { return "invalid " + string(e) }

func errBadField(name string) error { return fieldError(name) }
