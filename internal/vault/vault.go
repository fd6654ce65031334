// Package vault is the home-ledger side of the system: user balance
// accounting, the outbound investment path, and the exactly-once receipt of
// liquidation proceeds.
package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// Service accounts user funds and mirrors outbound investments.
type Service struct {
	balances  domain.BalanceStore
	homes     domain.HomePositionStore
	chains    domain.ChainStore
	assets    domain.AssetStore
	transport domain.Transport
	audit     domain.AuditStore
	alerter   domain.Alerter
	logger    *slog.Logger
}

// New creates a vault Service. audit and alerter may be nil.
func New(
	balances domain.BalanceStore,
	homes domain.HomePositionStore,
	chains domain.ChainStore,
	assets domain.AssetStore,
	transport domain.Transport,
	audit domain.AuditStore,
	alerter domain.Alerter,
	logger *slog.Logger,
) *Service {
	return &Service{
		balances:  balances,
		homes:     homes,
		chains:    chains,
		assets:    assets,
		transport: transport,
		audit:     audit,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "vault")),
	}
}

// Deposit credits a user's balance for a supported asset.
func (s *Service) Deposit(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if err := checkAmount(user, amount); err != nil {
		return err
	}
	supported, err := s.assets.IsSupported(ctx, asset)
	if err != nil {
		return fmt.Errorf("vault: check asset %s: %w", asset, err)
	}
	if !supported {
		return fmt.Errorf("vault: deposit %s: %w", asset, domain.ErrUnsupportedAsset)
	}
	if err := s.balances.Credit(ctx, user, asset, amount); err != nil {
		return fmt.Errorf("vault: deposit: %w", err)
	}
	s.record(ctx, "vault.deposit", map[string]any{
		"user":   user.Hex(),
		"asset":  asset.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// Withdraw debits a user's balance. The store's conditional debit keeps
// balances non-negative; an uncovered withdrawal fails with
// ErrInsufficientFunds.
func (s *Service) Withdraw(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if err := checkAmount(user, amount); err != nil {
		return err
	}
	if err := s.balances.Debit(ctx, user, asset, amount); err != nil {
		return fmt.Errorf("vault: withdraw: %w", err)
	}
	s.record(ctx, "vault.withdraw", map[string]any{
		"user":   user.Hex(),
		"asset":  asset.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// Balances lists a user's balances.
func (s *Service) Balances(ctx context.Context, user common.Address) ([]domain.UserBalance, error) {
	return s.balances.ListByUser(ctx, user)
}

// OpenPositions lists a user's still-invested home positions.
func (s *Service) OpenPositions(ctx context.Context, user common.Address) ([]domain.HomePosition, error) {
	return s.homes.ListOpen(ctx, user)
}

// InvestInPool debits the user, records the outbound investment under a
// fresh correlation id, and dispatches the instruction to the destination
// ledger. A dispatch error is not proof the message never arrived (the
// response can be lost after delivery), so the debit stands and the record
// is parked as Failed for operator reconciliation; once Dispatch succeeds
// the record stays invested until proceeds arrive.
func (s *Service) InvestInPool(ctx context.Context, user common.Address, destChainID uint64, asset common.Address, amount *big.Int, params domain.InvestmentParams) (string, error) {
	if err := checkAmount(user, amount); err != nil {
		return "", err
	}

	dest, err := s.chains.Get(ctx, destChainID)
	if err != nil {
		return "", fmt.Errorf("vault: invest: destination %d: %w", destChainID, err)
	}
	if !dest.Supported {
		return "", fmt.Errorf("vault: invest: %w: destination %d not supported", domain.ErrInvalidParams, destChainID)
	}
	// Checked before the debit so a misconfigured destination fails without
	// any state to unwind.
	if dest.TransportAddr == "" {
		return "", fmt.Errorf("vault: invest: %w: destination %d has no transport address", domain.ErrInvalidParams, destChainID)
	}

	encoded, err := domain.EncodeInvestmentParams(params)
	if err != nil {
		return "", fmt.Errorf("vault: invest: %w", err)
	}

	id := uuid.New()
	correlationID := hex.EncodeToString(id[:])

	if err := s.balances.Debit(ctx, user, asset, amount); err != nil {
		return "", fmt.Errorf("vault: invest: %w", err)
	}
	if err := s.homes.Create(ctx, domain.HomePosition{
		CorrelationID: correlationID,
		User:          user,
		Asset:         asset,
		Amount:        amount,
		DestChainID:   destChainID,
		Status:        domain.HomePositionStatusInvested,
	}); err != nil {
		s.refund(ctx, user, asset, amount, correlationID)
		return "", fmt.Errorf("vault: invest: %w", err)
	}

	_, err = s.transport.Dispatch(ctx, dest, domain.InvestPayload{
		CorrelationID: correlationID,
		Asset:         asset,
		Amount:        amount,
		Owner:         user,
		EncodedParams: encoded,
	})
	if err != nil {
		s.park(ctx, correlationID, user, asset, amount, err)
		return "", fmt.Errorf("vault: invest: dispatch: %w", err)
	}

	s.record(ctx, "vault.invest", map[string]any{
		"correlation_id": correlationID,
		"user":           user.Hex(),
		"asset":          asset.Hex(),
		"amount":         amount.String(),
		"dest_chain_id":  destChainID,
	})
	s.logger.InfoContext(ctx, "investment dispatched",
		slog.String("correlation_id", correlationID),
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("dest_chain_id", destChainID),
	)
	return correlationID, nil
}

// ReceiveProceeds credits the depositor for a returned investment. The
// conditional close is the idempotency gate: a redelivered return message
// finds the record already closed and fails with ErrAlreadyClaimed before
// any credit happens. Records parked as Failed by an unconfirmed dispatch
// are claimable too, since their proceeds prove the delivery succeeded.
func (s *Service) ReceiveProceeds(ctx context.Context, correlationID string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: receive proceeds: %w: negative amount", domain.ErrInvalidParams)
	}

	pos, err := s.homes.Get(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("vault: receive proceeds %s: %w", correlationID, err)
	}
	if err := s.homes.CloseIf(ctx, correlationID, domain.HomePositionStatusInvested, domain.HomePositionStatusReturned, amount); err != nil {
		if !errors.Is(err, domain.ErrAlreadyClaimed) {
			return fmt.Errorf("vault: receive proceeds %s: %w", correlationID, err)
		}
		// A record parked as Failed by a dispatch error can still see its
		// proceeds arrive: the error hid a successful delivery.
		if ferr := s.homes.CloseIf(ctx, correlationID, domain.HomePositionStatusFailed, domain.HomePositionStatusReturned, amount); ferr != nil {
			return fmt.Errorf("vault: receive proceeds %s: %w", correlationID, err)
		}
		s.logger.WarnContext(ctx, "proceeds arrived for parked investment",
			slog.String("correlation_id", correlationID),
		)
	}

	if amount.Sign() > 0 {
		if err := s.balances.Credit(ctx, pos.User, pos.Asset, amount); err != nil {
			// The record is already closed, so nothing retries this
			// credit; surface it loudly for manual recovery.
			s.record(ctx, "vault.proceeds_stranded", map[string]any{
				"correlation_id": correlationID,
				"user":           pos.User.Hex(),
				"asset":          pos.Asset.Hex(),
				"amount":         amount.String(),
				"error":          err.Error(),
			})
			if s.alerter != nil {
				msg := fmt.Sprintf("proceeds credit failed for correlation %s: %s of %s owed to %s: %v",
					correlationID, amount, pos.Asset.Hex(), pos.User.Hex(), err)
				if aerr := s.alerter.Notify(ctx, domain.SeverityCritical, 0, msg); aerr != nil {
					s.logger.WarnContext(ctx, "alert failed", slog.String("error", aerr.Error()))
				}
			}
			return fmt.Errorf("vault: receive proceeds %s: credit: %w", correlationID, err)
		}
	}

	s.record(ctx, "vault.proceeds", map[string]any{
		"correlation_id": correlationID,
		"user":           pos.User.Hex(),
		"asset":          pos.Asset.Hex(),
		"amount":         amount.String(),
	})
	s.logger.InfoContext(ctx, "proceeds received",
		slog.String("correlation_id", correlationID),
		slog.String("user", pos.User.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// refund re-credits a debit after a failure proven local: the investment
// record was never created, so nothing can reach the destination. Refund
// errors are logged, not returned; the original failure is what the caller
// needs to see.
func (s *Service) refund(ctx context.Context, user, asset common.Address, amount *big.Int, correlationID string) {
	if err := s.balances.Credit(ctx, user, asset, amount); err != nil {
		s.logger.ErrorContext(ctx, "refund debit failed",
			slog.String("correlation_id", correlationID),
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// park moves a dispatched-but-unconfirmed investment to Failed. A transport
// error does not prove the message never arrived, so refunding here could
// pay the user twice if the destination executes; the debit stands until an
// operator reconciles the record (or its proceeds arrive after all).
func (s *Service) park(ctx context.Context, correlationID string, user, asset common.Address, amount *big.Int, cause error) {
	if err := s.homes.CloseIf(ctx, correlationID, domain.HomePositionStatusInvested, domain.HomePositionStatusFailed, nil); err != nil {
		s.logger.ErrorContext(ctx, "park investment failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
	s.record(ctx, "vault.invest_failed", map[string]any{
		"correlation_id": correlationID,
		"user":           user.Hex(),
		"asset":          asset.Hex(),
		"amount":         amount.String(),
		"error":          cause.Error(),
	})
	if s.alerter != nil {
		msg := fmt.Sprintf("investment %s dispatch failed, %s of %s held for reconciliation: %v",
			correlationID, amount, asset.Hex(), cause)
		if err := s.alerter.Notify(ctx, domain.SeverityCritical, 0, msg); err != nil {
			s.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func checkAmount(user common.Address, amount *big.Int) error {
	if user == (common.Address{}) {
		return fmt.Errorf("vault: %w: user address required", domain.ErrInvalidParams)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: %w: amount must be positive", domain.ErrInvalidParams)
	}
	return nil
}
