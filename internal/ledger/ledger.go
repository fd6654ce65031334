// Package ledger is the canonical record keeper for destination-side
// liquidity positions. It owns the status-transition rules; every mutation
// goes through the store's conditional-write primitive so that concurrent
// claimers (the monitor, an operator, a second monitor replica) compose into
// exactly one winner.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// EventChannel is the signal-bus channel carrying position lifecycle events.
const EventChannel = "positions"

// Service wraps the position and pending stores with the transition rules.
type Service struct {
	positions domain.PositionStore
	pendings  domain.PendingStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	logger    *slog.Logger
}

// New creates a ledger Service. The audit store and signal bus are optional;
// nil disables the corresponding side channel.
func New(positions domain.PositionStore, pendings domain.PendingStore, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *Service {
	return &Service{
		positions: positions,
		pendings:  pendings,
		audit:     audit,
		bus:       bus,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// CreatePending records a received-but-not-executed instruction. At most one
// pending position exists per correlation id; a second create fails with
// ErrDuplicateCorrelation and mutates nothing.
func (s *Service) CreatePending(ctx context.Context, p domain.PendingPosition) error {
	if err := s.pendings.Create(ctx, p); err != nil {
		return err
	}
	s.record(ctx, "pending_created", map[string]any{
		"correlation_id": p.CorrelationID,
		"asset":          p.Asset.Hex(),
		"amount":         p.Amount.String(),
	})
	return nil
}

// Pending loads the pending position for a correlation id.
func (s *Service) Pending(ctx context.Context, correlationID string) (domain.PendingPosition, error) {
	return s.pendings.Get(ctx, correlationID)
}

// PendingSet returns up to limit pending positions in arrival order.
func (s *Service) PendingSet(ctx context.Context, limit int) ([]domain.PendingPosition, error) {
	return s.pendings.List(ctx, limit)
}

// DeletePending removes a pending position after cancellation.
func (s *Service) DeletePending(ctx context.Context, correlationID string) error {
	if err := s.pendings.Delete(ctx, correlationID); err != nil {
		return err
	}
	s.record(ctx, "pending_cancelled", map[string]any{"correlation_id": correlationID})
	return nil
}

// PromoteToActive atomically converts the pending position sharing pos's
// correlation id into an Active position, assigning the next local id.
func (s *Service) PromoteToActive(ctx context.Context, pos domain.Position) (domain.Position, error) {
	pos.Status = domain.PositionStatusActive
	localID, err := s.positions.CreateFromPending(ctx, pos)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: promote %s: %w", pos.CorrelationID, err)
	}
	pos.LocalID = localID

	s.record(ctx, "position_opened", map[string]any{
		"local_id":       localID,
		"correlation_id": pos.CorrelationID,
		"pool":           pos.Pool.Hex(),
		"bottom_tick":    pos.BottomTick,
		"top_tick":       pos.TopTick,
		"liquidity":      pos.Liquidity.String(),
	})
	s.publish(ctx, "position_opened", pos)
	return pos, nil
}

// ByLocalID loads a position by its dense local id.
func (s *Service) ByLocalID(ctx context.Context, localID int64) (domain.Position, error) {
	return s.positions.GetByLocalID(ctx, localID)
}

// ByCorrelationID loads a position by its home-ledger correlation id.
func (s *Service) ByCorrelationID(ctx context.Context, correlationID string) (domain.Position, error) {
	return s.positions.GetByCorrelationID(ctx, correlationID)
}

// ActiveSet returns up to limit Active positions, oldest first.
func (s *Service) ActiveSet(ctx context.Context, limit int) ([]domain.Position, error) {
	return s.positions.ListByStatus(ctx, domain.PositionStatusActive, limit)
}

// NeedsAttention returns every Failed and OutOfRange position for operator
// dashboards and alerting.
func (s *Service) NeedsAttention(ctx context.Context) ([]domain.Position, error) {
	return s.positions.ListByStatuses(ctx, domain.NeedsAttentionStatuses)
}

// ClaimOutOfRange transitions Active -> OutOfRange. It succeeds only if the
// stored status is exactly Active at the instant of the write and fails with
// ErrAlreadyClaimed if a concurrent caller won the race.
func (s *Service) ClaimOutOfRange(ctx context.Context, localID int64) error {
	err := s.positions.UpdateStatusIf(ctx, localID, domain.PositionStatusOutOfRange, domain.PositionStatusActive)
	if err != nil {
		return err
	}
	s.record(ctx, "position_out_of_range", map[string]any{"local_id": localID})
	s.publishID(ctx, "position_out_of_range", localID)
	return nil
}

// ClaimForLiquidation transitions {Active, OutOfRange} -> Liquidating. This
// is the single serialization point for automatic, manual, and
// replica-driven liquidation.
func (s *Service) ClaimForLiquidation(ctx context.Context, localID int64) error {
	err := s.positions.UpdateStatusIf(ctx, localID, domain.PositionStatusLiquidating,
		domain.PositionStatusActive, domain.PositionStatusOutOfRange)
	if err != nil {
		return err
	}
	s.record(ctx, "position_liquidating", map[string]any{"local_id": localID})
	s.publishID(ctx, "position_liquidating", localID)
	return nil
}

// MarkLiquidated transitions Liquidating -> Liquidated (terminal).
func (s *Service) MarkLiquidated(ctx context.Context, localID int64, netAmount string) error {
	err := s.positions.UpdateStatusIf(ctx, localID, domain.PositionStatusLiquidated, domain.PositionStatusLiquidating)
	if err != nil {
		return err
	}
	s.record(ctx, "position_liquidated", map[string]any{"local_id": localID, "net_amount": netAmount})
	s.publishID(ctx, "position_liquidated", localID)
	return nil
}

// MarkFailed transitions Liquidating -> Failed (terminal, needs attention)
// and records the failure reason.
func (s *Service) MarkFailed(ctx context.Context, localID int64, reason string) error {
	err := s.positions.UpdateStatusIf(ctx, localID, domain.PositionStatusFailed, domain.PositionStatusLiquidating)
	if err != nil {
		return err
	}
	if err := s.positions.SetFailReason(ctx, localID, reason); err != nil {
		s.logger.ErrorContext(ctx, "ledger: set fail reason",
			slog.Int64("local_id", localID),
			slog.String("error", err.Error()),
		)
	}
	s.record(ctx, "position_failed", map[string]any{"local_id": localID, "reason": reason})
	s.publishID(ctx, "position_failed", localID)
	return nil
}

// MarkCancelled transitions {Active, OutOfRange} -> Cancelled (terminal).
func (s *Service) MarkCancelled(ctx context.Context, localID int64) error {
	err := s.positions.UpdateStatusIf(ctx, localID, domain.PositionStatusCancelled,
		domain.PositionStatusActive, domain.PositionStatusOutOfRange)
	if err != nil {
		return err
	}
	s.record(ctx, "position_cancelled", map[string]any{"local_id": localID})
	s.publishID(ctx, "position_cancelled", localID)
	return nil
}

// record appends an audit entry. Audit failures are logged, never surfaced.
func (s *Service) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publish(ctx context.Context, event string, pos domain.Position) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":          event,
		"local_id":       pos.LocalID,
		"correlation_id": pos.CorrelationID,
		"status":         pos.Status,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, EventChannel, payload); err != nil {
		s.logger.DebugContext(ctx, "ledger: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publishID(ctx context.Context, event string, localID int64) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"event": event, "local_id": localID})
	if err := s.bus.Publish(ctx, EventChannel, payload); err != nil {
		s.logger.DebugContext(ctx, "ledger: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
