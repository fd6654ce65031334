package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// RegistryHandler serves runtime settings, the supported-asset set, and the
// chain-destination registry.
type RegistryHandler struct {
	settings domain.SettingsStore
	assets   domain.AssetStore
	chains   domain.ChainStore
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler.
func NewRegistryHandler(settings domain.SettingsStore, assets domain.AssetStore, chains domain.ChainStore, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{
		settings: settings,
		assets:   assets,
		chains:   chains,
		logger:   logger,
	}
}

// --- settings ---

// GetSettings returns the runtime parameters.
// GET /api/settings
func (h *RegistryHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type settingsRequest struct {
	DefaultSlippageBps int64 `json:"default_slippage_bps"`
	BatchSize          int   `json:"batch_size"`
	PollIntervalMs     int64 `json:"poll_interval_ms"`
}

// PutSettings replaces the runtime parameters. Slippage is bounded to
// [0, 10000] bps; batch size and poll interval must be positive.
// PUT /api/settings
func (h *RegistryHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DefaultSlippageBps < 0 || req.DefaultSlippageBps > 10000 {
		writeError(w, http.StatusBadRequest, "default_slippage_bps must be within [0, 10000]")
		return
	}
	if req.BatchSize <= 0 || req.PollIntervalMs <= 0 {
		writeError(w, http.StatusBadRequest, "batch_size and poll_interval_ms must be positive")
		return
	}

	s := domain.Settings{
		DefaultSlippageBps: req.DefaultSlippageBps,
		BatchSize:          req.BatchSize,
		PollInterval:       time.Duration(req.PollIntervalMs) * time.Millisecond,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := h.settings.Put(r.Context(), s); err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: settings updated",
		slog.Int64("slippage_bps", s.DefaultSlippageBps),
		slog.Int("batch_size", s.BatchSize),
		slog.Duration("poll_interval", s.PollInterval),
	)
	writeJSON(w, http.StatusOK, s)
}

// --- supported assets ---

// ListAssets returns the supported-asset set as address → symbol.
// GET /api/assets
func (h *RegistryHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.assets.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make(map[string]string, len(assets))
	for addr, symbol := range assets {
		out[addr.Hex()] = symbol
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

type addAssetRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// AddAsset adds an asset to the supported set.
// POST /api/assets
func (h *RegistryHandler) AddAsset(w http.ResponseWriter, r *http.Request) {
	var req addAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	if err := h.assets.Add(r.Context(), addr, req.Symbol); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": addr.Hex(), "symbol": req.Symbol})
}

// RemoveAsset drops an asset from the supported set. Existing positions in
// the asset are unaffected; new deposits are rejected.
// DELETE /api/assets/{address}
func (h *RegistryHandler) RemoveAsset(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	if err := h.assets.Remove(r.Context(), addr); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- chain destinations ---

// ListChains returns all registered chain destinations.
// GET /api/chains
func (h *RegistryHandler) ListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := h.chains.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if chains == nil {
		chains = []domain.ChainDestination{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}

type chainRequest struct {
	ChainID       uint64 `json:"chain_id"`
	Name          string `json:"name"`
	Encoded       []byte `json:"encoded"`
	Executor      string `json:"executor"`
	TransportAddr string `json:"transport_addr"`
	Supported     bool   `json:"supported"`
}

func (req chainRequest) toDestination() (domain.ChainDestination, string) {
	if req.ChainID == 0 {
		return domain.ChainDestination{}, "chain_id required"
	}
	executor, ok := parseAddress(req.Executor)
	if !ok {
		return domain.ChainDestination{}, "invalid executor address"
	}
	return domain.ChainDestination{
		ChainID:       req.ChainID,
		Name:          req.Name,
		Encoded:       req.Encoded,
		Executor:      executor,
		TransportAddr: req.TransportAddr,
		Supported:     req.Supported,
		UpdatedAt:     time.Now().UTC(),
	}, ""
}

// AddChain registers a new chain destination.
// POST /api/chains
func (h *RegistryHandler) AddChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dest, msg := req.toDestination()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.chains.Add(r.Context(), dest); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dest)
}

// UpdateChain replaces a chain destination. Rejected once the entry is
// frozen.
// PUT /api/chains/{id}
func (h *RegistryHandler) UpdateChain(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil || chainID == 0 {
		writeError(w, http.StatusBadRequest, "invalid chain id")
		return
	}

	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ChainID = chainID
	dest, msg := req.toDestination()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.chains.Update(r.Context(), dest); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dest)
}

// FreezeChain permanently locks a chain destination against further writes.
// POST /api/chains/{id}/freeze
func (h *RegistryHandler) FreezeChain(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil || chainID == 0 {
		writeError(w, http.StatusBadRequest, "invalid chain id")
		return
	}
	if err := h.chains.Freeze(r.Context(), chainID); err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: chain destination frozen",
		slog.Uint64("chain_id", chainID),
	)
	writeJSON(w, http.StatusOK, map[string]any{"chain_id": chainID, "frozen": true})
}
