package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// VaultService defines the home-ledger vault surface the handler requires.
type VaultService interface {
	Deposit(ctx context.Context, user, asset common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, user, asset common.Address, amount *big.Int) error
	Balances(ctx context.Context, user common.Address) ([]domain.UserBalance, error)
	OpenPositions(ctx context.Context, user common.Address) ([]domain.HomePosition, error)
	InvestInPool(ctx context.Context, user common.Address, destChainID uint64, asset common.Address, amount *big.Int, params domain.InvestmentParams) (string, error)
}

// VaultHandler serves home-ledger vault endpoints.
type VaultHandler struct {
	vault  VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(vault VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vault: vault, logger: logger}
}

// queryUser extracts and validates the required user query parameter.
func queryUser(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	user, ok := parseAddress(r.URL.Query().Get("user"))
	if !ok {
		writeError(w, http.StatusBadRequest, "user query parameter required")
		return common.Address{}, false
	}
	return user, true
}

// Balances returns a user's accounted balances.
// GET /api/vault/balances?user=0x...
func (h *VaultHandler) Balances(w http.ResponseWriter, r *http.Request) {
	user, ok := queryUser(w, r)
	if !ok {
		return
	}
	balances, err := h.vault.Balances(r.Context(), user)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balances query failed",
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query balances")
		return
	}
	if balances == nil {
		balances = []domain.UserBalance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

// OpenPositions returns a user's open (invested) cross-ledger positions.
// GET /api/vault/positions?user=0x...
func (h *VaultHandler) OpenPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := queryUser(w, r)
	if !ok {
		return
	}
	positions, err := h.vault.OpenPositions(r.Context(), user)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open positions query failed",
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query positions")
		return
	}
	if positions == nil {
		positions = []domain.HomePosition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

type balanceMutationRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (req balanceMutationRequest) parse() (user, asset common.Address, amount *big.Int, msg string) {
	user, ok := parseAddress(req.User)
	if !ok {
		return user, asset, nil, "invalid user address"
	}
	asset, ok = parseAddress(req.Asset)
	if !ok {
		return user, asset, nil, "invalid asset address"
	}
	amount, ok = parseAmount(req.Amount)
	if !ok {
		return user, asset, nil, "invalid amount"
	}
	return user, asset, amount, ""
}

// Deposit credits a user's balance in a supported asset.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req balanceMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, asset, amount, msg := req.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.vault.Deposit(r.Context(), user, asset, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

// Withdraw debits a user's balance. Fails when the balance does not cover
// the amount.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req balanceMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, asset, amount, msg := req.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.vault.Withdraw(r.Context(), user, asset, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

type investRequest struct {
	User        string                  `json:"user"`
	Asset       string                  `json:"asset"`
	Amount      string                  `json:"amount"`
	DestChainID uint64                  `json:"dest_chain_id"`
	Params      domain.InvestmentParams `json:"params"`
}

// Invest debits the user's balance and dispatches an investment instruction
// to the destination ledger. Returns the assigned correlation id.
// POST /api/vault/invest
func (h *VaultHandler) Invest(w http.ResponseWriter, r *http.Request) {
	var req investRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, asset, amount, msg := balanceMutationRequest{User: req.User, Asset: req.Asset, Amount: req.Amount}.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.DestChainID == 0 {
		writeError(w, http.StatusBadRequest, "dest_chain_id required")
		return
	}

	correlationID, err := h.vault.InvestInPool(r.Context(), user, req.DestChainID, asset, amount, req.Params)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: invest rejected",
			slog.String("user", user.Hex()),
			slog.Uint64("dest_chain_id", req.DestChainID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": correlationID,
		"status":         "dispatched",
	})
}
