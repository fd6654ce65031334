// Package settlement tears liquidity positions down: burn, fee collection,
// proceeds consolidation, and dispatch of the return instruction to the home
// ledger. A liquidation that fails after the claim terminates in Failed and
// raises an alert; it is never retried automatically, because retrying a
// partially-executed cross-ledger withdrawal risks double payment.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/ledger"
)

// Options tune a single liquidation. Zero values mean zero-slippage-floor
// burn outputs and no price limit on the consolidation swap.
type Options struct {
	// ReturnAsset overrides the position's base asset as the settlement
	// denomination. Zero address keeps the base asset.
	ReturnAsset common.Address
	MinOut0     *big.Int
	MinOut1     *big.Int
	LimitPrice  *big.Int

	// SlippageBps floors the consolidation swap: the swap's minimum output
	// is a fresh quote reduced by this many basis points. Zero leaves the
	// swap unfloored.
	SlippageBps int64
}

// Engine performs liquidations and manual asset returns.
type Engine struct {
	ledger    *ledger.Service
	pool      domain.Pool
	transport domain.Transport
	chains    domain.ChainStore
	alerter   domain.Alerter
	logger    *slog.Logger
}

// New creates a settlement Engine.
func New(
	led *ledger.Service,
	pool domain.Pool,
	transport domain.Transport,
	chains domain.ChainStore,
	alerter domain.Alerter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:    led,
		pool:      pool,
		transport: transport,
		chains:    chains,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "settlement")),
	}
}

// IsOutOfRange reads the pool's current tick and reports whether the
// position's range is breached, together with the breach direction relative
// to the entry tick. The direction affects observability only.
func (e *Engine) IsOutOfRange(ctx context.Context, localID int64) (bool, int32, domain.BreachDirection, error) {
	pos, err := e.ledger.ByLocalID(ctx, localID)
	if err != nil {
		return false, 0, domain.BreachNone, err
	}
	tick, err := e.pool.CurrentTick(ctx, pos.Pool)
	if err != nil {
		return false, 0, domain.BreachNone, fmt.Errorf("settlement: current tick: %w", err)
	}

	breached := tick < pos.BottomTick || tick >= pos.TopTick
	if !breached {
		return false, tick, domain.BreachNone, nil
	}
	direction := domain.BreachStopLoss
	if tick > pos.EntryTick {
		direction = domain.BreachTakeProfit
	}
	return true, tick, direction, nil
}

// LiquidateAndReturn claims the position for liquidation, burns its full
// liquidity, collects owed fees, consolidates proceeds into the return
// asset, and dispatches the return instruction home. The claim reuses the
// ledger's conditional transition, so the monitor, a manual operator call,
// and a second monitor replica compose into exactly one liquidation; losers
// get ErrAlreadyClaimed.
func (e *Engine) LiquidateAndReturn(ctx context.Context, localID int64, opts Options) error {
	pos, err := e.ledger.ByLocalID(ctx, localID)
	if err != nil {
		return err
	}

	if err := e.ledger.ClaimForLiquidation(ctx, localID); err != nil {
		return fmt.Errorf("settlement: liquidate %d: %w", localID, err)
	}

	returnAsset := opts.ReturnAsset
	if returnAsset == (common.Address{}) {
		returnAsset = pos.BaseAsset
	}

	net, err := e.unwind(ctx, pos, returnAsset, opts)
	if err != nil {
		return e.fail(ctx, pos, err)
	}

	dest, err := e.chains.Get(ctx, pos.HomeChainID)
	if err != nil {
		return e.fail(ctx, pos, fmt.Errorf("settlement: home destination %d: %w", pos.HomeChainID, err))
	}
	ref, err := e.transport.Dispatch(ctx, dest, domain.ReturnPayload{
		CorrelationID: pos.CorrelationID,
		Asset:         returnAsset,
		Amount:        net,
		Recipient:     pos.Owner,
	})
	if err != nil {
		return e.fail(ctx, pos, fmt.Errorf("settlement: dispatch return: %w", err))
	}

	if err := e.ledger.MarkLiquidated(ctx, localID, net.String()); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "position liquidated",
		slog.Int64("local_id", localID),
		slog.String("correlation_id", pos.CorrelationID),
		slog.String("net_amount", net.String()),
		slog.String("message_ref", ref),
	)
	return nil
}

// ReturnAssets moves already-held balance to a user directly, bypassing any
// position. Operator-only recovery path for funds stranded by a failed
// liquidation.
func (e *Engine) ReturnAssets(ctx context.Context, user common.Address, asset common.Address, amount *big.Int, destChainID uint64, correlationID string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("settlement: %w: amount must be positive", domain.ErrInvalidParams)
	}
	held, err := e.pool.Balance(ctx, asset)
	if err != nil {
		return fmt.Errorf("settlement: balance %s: %w", asset, err)
	}
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("settlement: return assets: %w", domain.ErrInsufficientFunds)
	}

	dest, err := e.chains.Get(ctx, destChainID)
	if err != nil {
		return fmt.Errorf("settlement: destination %d: %w", destChainID, err)
	}
	ref, err := e.transport.Dispatch(ctx, dest, domain.ReturnPayload{
		CorrelationID: correlationID,
		Asset:         asset,
		Amount:        amount,
		Recipient:     user,
	})
	if err != nil {
		return fmt.Errorf("settlement: dispatch manual return: %w", err)
	}

	e.logger.InfoContext(ctx, "manual asset return dispatched",
		slog.String("user", user.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("message_ref", ref),
	)
	return nil
}

// unwind burns the position, collects fees, and consolidates everything into
// the return asset. Returns the net amount denominated in returnAsset.
func (e *Engine) unwind(ctx context.Context, pos domain.Position, returnAsset common.Address, opts Options) (*big.Int, error) {
	amount0, amount1, err := e.pool.Burn(ctx, pos.Pool, pos.Handle)
	if err != nil {
		return nil, fmt.Errorf("settlement: burn: %w", err)
	}
	if opts.MinOut0 != nil && amount0.Cmp(opts.MinOut0) < 0 {
		return nil, fmt.Errorf("settlement: burn output0 below minimum: %w", domain.ErrSlippageExceeded)
	}
	if opts.MinOut1 != nil && amount1.Cmp(opts.MinOut1) < 0 {
		return nil, fmt.Errorf("settlement: burn output1 below minimum: %w", domain.ErrSlippageExceeded)
	}

	fee0, fee1, err := e.pool.Collect(ctx, pos.Pool, pos.Handle)
	if err != nil {
		return nil, fmt.Errorf("settlement: collect: %w", err)
	}
	amount0 = new(big.Int).Add(amount0, fee0)
	amount1 = new(big.Int).Add(amount1, fee1)

	var net, other *big.Int
	var otherToken common.Address
	switch returnAsset {
	case pos.Token0:
		net, other, otherToken = amount0, amount1, pos.Token1
	case pos.Token1:
		net, other, otherToken = amount1, amount0, pos.Token0
	default:
		return nil, fmt.Errorf("settlement: %w: return asset %s not in pool", domain.ErrInvalidParams, returnAsset)
	}

	if other.Sign() > 0 {
		minOut := new(big.Int)
		if opts.SlippageBps > 0 {
			quoted, err := e.pool.Quote(ctx, pos.Pool, otherToken, returnAsset, other)
			if err != nil {
				return nil, fmt.Errorf("settlement: quote %s: %w", otherToken, err)
			}
			minOut = slippageFloor(quoted, opts.SlippageBps)
		}
		swapped, err := e.pool.Swap(ctx, pos.Pool, otherToken, returnAsset, other, minOut, opts.LimitPrice)
		if err != nil {
			return nil, fmt.Errorf("settlement: consolidate %s: %w", otherToken, err)
		}
		net = new(big.Int).Add(net, swapped)
	}
	return net, nil
}

// slippageFloor reduces a quoted amount by bps basis points, rounding down.
func slippageFloor(quoted *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(quoted, big.NewInt(10_000-bps))
	return out.Div(out, big.NewInt(10_000))
}

// fail marks the position Failed, raises an alert, and returns the original
// error. No automatic retry follows.
func (e *Engine) fail(ctx context.Context, pos domain.Position, cause error) error {
	if err := e.ledger.MarkFailed(ctx, pos.LocalID, cause.Error()); err != nil {
		e.logger.ErrorContext(ctx, "settlement: mark failed",
			slog.Int64("local_id", pos.LocalID),
			slog.String("error", err.Error()),
		)
	}
	if e.alerter != nil {
		msg := fmt.Sprintf("liquidation failed for correlation %s: %v", pos.CorrelationID, cause)
		if err := e.alerter.Notify(ctx, domain.SeverityCritical, pos.LocalID, msg); err != nil {
			e.logger.WarnContext(ctx, "settlement: alert failed", slog.String("error", err.Error()))
		}
	}
	e.logger.ErrorContext(ctx, "liquidation failed",
		slog.Int64("local_id", pos.LocalID),
		slog.String("correlation_id", pos.CorrelationID),
		slog.String("error", cause.Error()),
	)
	return fmt.Errorf("settlement: liquidate %d: %w", pos.LocalID, cause)
}
