// Package monitor polls active positions for range breaches and dispatches
// liquidations. One poll cycle runs at a time; positions are processed
// sequentially so that a single malformed position can never block
// monitoring of the rest.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/ledger"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/settlement"
)

// manualLockTTL bounds how long an operator-triggered liquidation holds the
// submission lock.
const manualLockTTL = 30 * time.Second

// Monitor owns the breach-detection poll loop and the operator controls
// around it.
type Monitor struct {
	ledger     *ledger.Service
	settlement *settlement.Engine
	settings   domain.SettingsStore
	locks      domain.LockManager
	ticks      domain.TickCache
	logger     *slog.Logger

	// running is the single-flight guard: a timer tick that finds a cycle
	// already in progress is skipped, not queued.
	running atomic.Bool
	paused  atomic.Bool
}

// New creates a Monitor. The lock manager and tick cache are optional; nil
// disables operator-call locking and tick caching respectively.
func New(
	led *ledger.Service,
	settle *settlement.Engine,
	settings domain.SettingsStore,
	locks domain.LockManager,
	ticks domain.TickCache,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		ledger:     led,
		settlement: settle,
		settings:   settings,
		locks:      locks,
		ticks:      ticks,
		logger:     logger.With(slog.String("component", "monitor")),
	}
}

// Run polls until ctx is cancelled. The poll interval is re-read from
// settings each cycle so operators can retune a live monitor.
func (m *Monitor) Run(ctx context.Context) error {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("monitor: load settings: %w", err)
	}
	m.logger.InfoContext(ctx, "monitor starting",
		slog.Duration("poll_interval", settings.PollInterval),
		slog.Int("batch_size", settings.BatchSize),
	)

	timer := time.NewTimer(settings.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor stopped")
			return ctx.Err()
		case <-timer.C:
			m.Poll(ctx)
			if s, err := m.settings.Get(ctx); err == nil {
				settings = s
			}
			timer.Reset(settings.PollInterval)
		}
	}
}

// Poll runs one monitoring cycle. A cycle already in progress or a paused
// monitor makes this a silent no-op.
func (m *Monitor) Poll(ctx context.Context) {
	if m.paused.Load() {
		return
	}
	if !m.running.CompareAndSwap(false, true) {
		m.logger.DebugContext(ctx, "poll cycle still running, skipping tick")
		return
	}
	defer m.running.Store(false)

	settings, err := m.settings.Get(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "poll: load settings", slog.String("error", err.Error()))
		return
	}

	batch, err := m.ledger.ActiveSet(ctx, settings.BatchSize)
	if err != nil {
		m.logger.ErrorContext(ctx, "poll: list active positions", slog.String("error", err.Error()))
		return
	}

	for _, pos := range batch {
		// Per-position isolation: an error here is logged with the
		// position identifier and the sweep moves on.
		if err := m.checkOne(ctx, pos, settings); err != nil {
			m.logger.ErrorContext(ctx, "poll: position check failed",
				slog.Int64("local_id", pos.LocalID),
				slog.String("correlation_id", pos.CorrelationID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// checkOne evaluates a single position and liquidates it when breached. A
// lost claim race is expected and treated as success.
func (m *Monitor) checkOne(ctx context.Context, pos domain.Position, settings domain.Settings) error {
	breached, tick, direction, err := m.settlement.IsOutOfRange(ctx, pos.LocalID)
	if err != nil {
		return err
	}
	if m.ticks != nil {
		if err := m.ticks.SetTick(ctx, pos.Pool, tick, time.Now().UTC()); err != nil {
			m.logger.DebugContext(ctx, "tick cache write failed", slog.String("error", err.Error()))
		}
	}
	if !breached {
		return nil
	}

	m.logger.InfoContext(ctx, "range breach detected",
		slog.Int64("local_id", pos.LocalID),
		slog.Int("current_tick", int(tick)),
		slog.Int("bottom_tick", int(pos.BottomTick)),
		slog.Int("top_tick", int(pos.TopTick)),
		slog.String("direction", string(direction)),
	)

	if err := m.ledger.ClaimOutOfRange(ctx, pos.LocalID); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			// Another monitor replica or an operator got there first.
			return nil
		}
		return err
	}

	// Burn floors stay zero: the breach already moved the price, and
	// holding out for a better fill would leave the position exposed. The
	// configured slippage default still floors the consolidation swap.
	opts := settlement.Options{SlippageBps: settings.DefaultSlippageBps}
	if err := m.settlement.LiquidateAndReturn(ctx, pos.LocalID, opts); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return nil
		}
		return err
	}
	return nil
}

// ManualLiquidate runs an operator-triggered liquidation outside the poll
// cycle. It goes through the same claim primitive as the automatic path, so
// racing the monitor is safe; the distributed lock only prevents an operator
// double-click from burning two claim attempts.
func (m *Monitor) ManualLiquidate(ctx context.Context, localID int64, opts settlement.Options) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, fmt.Sprintf("liquidate:%d", localID), manualLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("monitor: manual liquidate %d: %w", localID, domain.ErrAlreadyClaimed)
			}
			return fmt.Errorf("monitor: manual liquidate %d: %w", localID, err)
		}
		defer unlock()
	}
	return m.settlement.LiquidateAndReturn(ctx, localID, opts)
}

// NeedsAttention returns all Failed and OutOfRange positions.
func (m *Monitor) NeedsAttention(ctx context.Context) ([]domain.Position, error) {
	return m.ledger.NeedsAttention(ctx)
}

// Pause stops future poll cycles; a cycle already in flight finishes.
func (m *Monitor) Pause() {
	m.paused.Store(true)
	m.logger.Info("monitoring paused")
}

// Resume re-enables poll cycles.
func (m *Monitor) Resume() {
	m.paused.Store(false)
	m.logger.Info("monitoring resumed")
}

// Paused reports whether the monitor is paused.
func (m *Monitor) Paused() bool {
	return m.paused.Load()
}
