// Package executor is the destination-side execution engine: it receives
// cross-ledger investment instructions idempotently, turns them into minted
// liquidity positions, and returns unexecuted deposits on cancellation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/ledger"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/rangecalc"
)

// Engine consumes investment instructions and opens liquidity positions.
// Receive is deliberately side-effect-light so delivery can be retried; all
// pool interaction happens in Execute, which is retryable up to the mint.
type Engine struct {
	ledger    *ledger.Service
	pool      domain.Pool
	transport domain.Transport
	chains    domain.ChainStore
	assets    domain.AssetStore
	dedup     *Dedup
	logger    *slog.Logger

	// sweeping is the process-local single-flight guard for the retry
	// sweep. It is advisory; cross-process safety comes from the store's
	// conditional writes.
	sweeping atomic.Bool
}

// New creates an execution Engine.
func New(
	led *ledger.Service,
	pool domain.Pool,
	transport domain.Transport,
	chains domain.ChainStore,
	assets domain.AssetStore,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:    led,
		pool:      pool,
		transport: transport,
		chains:    chains,
		assets:    assets,
		dedup:     NewDedup(10 * time.Minute),
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Receive validates and persists an incoming investment instruction as a
// PendingPosition. It performs no swaps or mints, so the sender can retry
// delivery without risk; a repeated correlation id fails with
// ErrDuplicateCorrelation and leaves the pending set unchanged.
func (e *Engine) Receive(ctx context.Context, correlationID string, asset common.Address, owner common.Address, amount *big.Int, encodedParams []byte) error {
	if correlationID == "" {
		return fmt.Errorf("executor: %w: correlation id required", domain.ErrInvalidParams)
	}
	if e.dedup.Seen(correlationID) {
		return fmt.Errorf("executor: receive %s: %w", correlationID, domain.ErrDuplicateCorrelation)
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("executor: %w: owner required", domain.ErrInvalidParams)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("executor: %w: amount must be positive", domain.ErrInvalidParams)
	}

	supported, err := e.assets.IsSupported(ctx, asset)
	if err != nil {
		return fmt.Errorf("executor: check asset %s: %w", asset, err)
	}
	if !supported {
		return fmt.Errorf("executor: asset %s: %w", asset, domain.ErrUnsupportedAsset)
	}

	params, err := domain.DecodeInvestmentParams(encodedParams)
	if err != nil {
		return fmt.Errorf("executor: receive %s: %w", correlationID, err)
	}

	if err := e.ledger.CreatePending(ctx, domain.PendingPosition{
		CorrelationID: correlationID,
		Asset:         asset,
		Amount:        amount,
		Owner:         owner,
		Params:        params,
	}); err != nil {
		return fmt.Errorf("executor: receive %s: %w", correlationID, err)
	}
	e.dedup.Record(correlationID)

	e.logger.InfoContext(ctx, "instruction received",
		slog.String("correlation_id", correlationID),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("pool", params.Pool.Hex()),
	)
	return nil
}

// Execute opens the liquidity position for a previously received instruction.
// All sub-steps form one logical unit: any failure after the swap leaves the
// funds held by the engine and the PendingPosition intact, so Execute can be
// retried.
func (e *Engine) Execute(ctx context.Context, correlationID string) (domain.Position, error) {
	pending, err := e.ledger.Pending(ctx, correlationID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: execute %s: %w", correlationID, err)
	}
	params := pending.Params

	token0, token1, err := e.pool.Tokens(ctx, params.Pool)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: pool tokens: %w", err)
	}
	if pending.Asset != token0 && pending.Asset != token1 {
		return domain.Position{}, fmt.Errorf("executor: %w: deposited asset %s not in pool", domain.ErrInvalidParams, pending.Asset)
	}

	spacing, err := e.pool.TickSpacing(ctx, params.Pool)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: tick spacing: %w", err)
	}
	entryTick, err := e.pool.CurrentTick(ctx, params.Pool)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: current tick: %w", err)
	}
	bottom, top, err := rangecalc.ComputeBounds(entryTick, spacing, params.LowerRangePct, params.UpperRangePct)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: execute %s: %w", correlationID, err)
	}

	if err := e.rebalanceHoldings(ctx, pending, token0, token1); err != nil {
		return domain.Position{}, err
	}

	// The swap is behind us; from here on every failure leaves the funds
	// held by the engine and the pending record in place for a retry.
	bal0, err := e.pool.Balance(ctx, token0)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: balance %s: %w", token0, err)
	}
	bal1, err := e.pool.Balance(ctx, token1)
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: balance %s: %w", token1, err)
	}
	if bal0.Cmp(params.Amount0Desired) < 0 || bal1.Cmp(params.Amount1Desired) < 0 {
		return domain.Position{}, fmt.Errorf("executor: execute %s: %w", correlationID, domain.ErrInsufficientFunds)
	}

	minted, err := e.pool.Mint(ctx, domain.MintRequest{
		Pool:           params.Pool,
		Token0:         token0,
		Token1:         token1,
		BottomTick:     bottom,
		TopTick:        top,
		Amount0Desired: params.Amount0Desired,
		Amount1Desired: params.Amount1Desired,
		Amount0Min:     applySlippage(params.Amount0Desired, params.SlippageBps),
		Amount1Min:     applySlippage(params.Amount1Desired, params.SlippageBps),
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("executor: mint %s: %w", correlationID, err)
	}

	pos, err := e.ledger.PromoteToActive(ctx, domain.Position{
		CorrelationID: correlationID,
		Owner:         pending.Owner,
		Pool:          params.Pool,
		Token0:        token0,
		Token1:        token1,
		BaseAsset:     params.BaseAsset,
		HomeChainID:   params.HomeChainID,
		BottomTick:    bottom,
		TopTick:       top,
		EntryTick:     entryTick,
		Liquidity:     minted.Liquidity,
		Handle:        minted.Handle,
	})
	if err != nil {
		return domain.Position{}, err
	}

	e.logger.InfoContext(ctx, "position opened",
		slog.Int64("local_id", pos.LocalID),
		slog.String("correlation_id", correlationID),
		slog.Int("bottom_tick", int(bottom)),
		slog.Int("top_tick", int(top)),
		slog.String("liquidity", minted.Liquidity.String()),
	)
	return pos, nil
}

// Cancel returns the held deposit of a still-pending instruction to the home
// ledger and removes the pending record. Valid only while the
// PendingPosition exists.
func (e *Engine) Cancel(ctx context.Context, correlationID string, returnChainID uint64) error {
	pending, err := e.ledger.Pending(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("executor: cancel %s: %w", correlationID, err)
	}

	dest, err := e.chains.Get(ctx, returnChainID)
	if err != nil {
		return fmt.Errorf("executor: cancel %s: destination %d: %w", correlationID, returnChainID, err)
	}
	if !dest.Supported {
		return fmt.Errorf("executor: cancel %s: destination %d not supported", correlationID, returnChainID)
	}

	ref, err := e.transport.Dispatch(ctx, dest, domain.ReturnPayload{
		CorrelationID: correlationID,
		Asset:         pending.Asset,
		Amount:        pending.Amount,
		Recipient:     pending.Owner,
	})
	if err != nil {
		return fmt.Errorf("executor: cancel %s: dispatch return: %w", correlationID, err)
	}

	if err := e.ledger.DeletePending(ctx, correlationID); err != nil {
		return fmt.Errorf("executor: cancel %s: %w", correlationID, err)
	}

	e.logger.InfoContext(ctx, "pending position cancelled",
		slog.String("correlation_id", correlationID),
		slog.String("message_ref", ref),
		slog.String("amount", pending.Amount.String()),
	)
	return nil
}

// RunSweepLoop retries execution of pending positions on a timer until ctx
// is cancelled. A tick that finds a sweep already running is skipped, not
// queued.
func (e *Engine) RunSweepLoop(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.sweeping.CompareAndSwap(false, true) {
				continue
			}
			e.sweep(ctx, batchSize)
			e.sweeping.Store(false)
			e.dedup.Cleanup()
		}
	}
}

// sweep attempts Execute for each pending position. Failures are isolated
// per item; resource errors stay pending for the next sweep.
func (e *Engine) sweep(ctx context.Context, batchSize int) {
	pendings, err := e.ledger.PendingSet(ctx, batchSize)
	if err != nil {
		e.logger.ErrorContext(ctx, "sweep: list pendings", slog.String("error", err.Error()))
		return
	}

	for _, pending := range pendings {
		if _, err := e.Execute(ctx, pending.CorrelationID); err != nil {
			level := slog.LevelError
			if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrSlippageExceeded) {
				level = slog.LevelWarn // retryable, funds held
			}
			e.logger.Log(ctx, level, "sweep: execute failed",
				slog.String("correlation_id", pending.CorrelationID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// rebalanceHoldings swaps part of the deposited asset into the pool's other
// token when the instruction asks for a two-sided entry. The minimum output
// is derived from the instruction's slippage tolerance; an unmet minimum
// surfaces as ErrSlippageExceeded from the pool.
func (e *Engine) rebalanceHoldings(ctx context.Context, pending domain.PendingPosition, token0, token1 common.Address) error {
	params := pending.Params

	var tokenOut common.Address
	var wantOut *big.Int
	switch {
	case pending.Asset == token0 && params.Amount1Desired.Sign() > 0:
		tokenOut, wantOut = token1, params.Amount1Desired
	case pending.Asset == token1 && params.Amount0Desired.Sign() > 0:
		tokenOut, wantOut = token0, params.Amount0Desired
	default:
		return nil // single-sided entry in the held asset
	}

	quoted, err := e.pool.Quote(ctx, params.Pool, pending.Asset, tokenOut, pending.Amount)
	if err != nil {
		return fmt.Errorf("executor: quote: %w", err)
	}
	if quoted.Sign() <= 0 {
		return fmt.Errorf("executor: quote for %s returned zero", tokenOut)
	}

	// Proportional sizing off the quote: the input that should yield
	// wantOut at the quoted price.
	amountIn := new(big.Int).Mul(pending.Amount, wantOut)
	amountIn.Div(amountIn, quoted)
	if amountIn.Cmp(pending.Amount) > 0 {
		amountIn.Set(pending.Amount)
	}
	minOut := applySlippage(wantOut, params.SlippageBps)

	if _, err := e.pool.Swap(ctx, params.Pool, pending.Asset, tokenOut, amountIn, minOut, nil); err != nil {
		return fmt.Errorf("executor: swap %s -> %s: %w", pending.Asset, tokenOut, err)
	}
	return nil
}

// applySlippage scales amount down by bps basis points: amount * (10000-bps) / 10000.
func applySlippage(amount *big.Int, bps int64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(domain.MaxSlippageBps-bps))
	return out.Div(out, big.NewInt(domain.MaxSlippageBps))
}
