package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/ledger"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/settlement"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/store/memory"
)

var (
	tokenWeth = common.HexToAddress("0x01")
	tokenUsdc = common.HexToAddress("0x02")
	owner     = common.HexToAddress("0x0b")
)

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePool scripts ticks and burn failures per pool address so one position
// can misbehave while another liquidates cleanly.
type fakePool struct {
	mu          sync.Mutex
	ticks       map[common.Address]int32
	burnErrs    map[common.Address]error
	burnAmounts map[common.Address][2]*big.Int
	swapMinOuts []*big.Int
	tickCalls   atomic.Int64
	tickGate    chan struct{} // when non-nil, CurrentTick blocks until closed
}

func (p *fakePool) CurrentTick(ctx context.Context, pool common.Address) (int32, error) {
	p.tickCalls.Add(1)
	if p.tickGate != nil {
		<-p.tickGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks[pool], nil
}

func (p *fakePool) TickSpacing(ctx context.Context, pool common.Address) (int32, error) {
	return 60, nil
}

func (p *fakePool) Tokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	return tokenWeth, tokenUsdc, nil
}

func (p *fakePool) Quote(ctx context.Context, pool, in, out common.Address, amountIn *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amountIn), nil
}

func (p *fakePool) Swap(ctx context.Context, pool, in, out common.Address, amountIn, minOut, limitPrice *big.Int) (*big.Int, error) {
	p.mu.Lock()
	p.swapMinOuts = append(p.swapMinOuts, minOut)
	p.mu.Unlock()
	return new(big.Int).Set(amountIn), nil
}

func (p *fakePool) Mint(ctx context.Context, req domain.MintRequest) (domain.MintResult, error) {
	return domain.MintResult{Handle: big.NewInt(1), Liquidity: big.NewInt(1)}, nil
}

func (p *fakePool) Burn(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.burnErrs[pool]; err != nil {
		return nil, nil, err
	}
	if amounts, ok := p.burnAmounts[pool]; ok {
		return new(big.Int).Set(amounts[0]), new(big.Int).Set(amounts[1]), nil
	}
	return big.NewInt(100), big.NewInt(0), nil
}

func (p *fakePool) Collect(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	return new(big.Int), new(big.Int), nil
}

func (p *fakePool) Balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

type fakeTransport struct {
	mu         sync.Mutex
	dispatches int
}

func (t *fakeTransport) Dispatch(ctx context.Context, dest domain.ChainDestination, payload domain.Payload) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatches++
	return "msg-1", nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	count int
}

func (a *fakeAlerter) Notify(ctx context.Context, sev domain.Severity, positionID int64, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return nil
}

// heldLock always reports the lock as taken.
type heldLock struct{}

func (heldLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type fixture struct {
	monitor   *Monitor
	ledger    *ledger.Service
	pool      *fakePool
	transport *fakeTransport
	alerter   *fakeAlerter
	settings  *memory.SettingsArena
}

func newFixture(t *testing.T, pool *fakePool) *fixture {
	t.Helper()
	arena := memory.NewPositionArena()
	led := ledger.New(arena, arena, memory.NewAuditLog(), nil, testLogger())

	chains := memory.NewChainRegistry()
	if err := chains.Add(context.Background(), domain.ChainDestination{ChainID: 1000, Name: "home", Supported: true}); err != nil {
		t.Fatalf("add chain: %v", err)
	}

	transport := &fakeTransport{}
	alerter := &fakeAlerter{}
	settle := settlement.New(led, pool, transport, chains, alerter, testLogger())
	settings := memory.NewSettingsArena(domain.Settings{
		BatchSize:    50,
		PollInterval: time.Minute,
	})

	return &fixture{
		monitor:   New(led, settle, settings, nil, nil, testLogger()),
		ledger:    led,
		pool:      pool,
		transport: transport,
		alerter:   alerter,
		settings:  settings,
	}
}

func (f *fixture) openPosition(t *testing.T, corr string, pool common.Address) domain.Position {
	t.Helper()
	ctx := context.Background()

	err := f.ledger.CreatePending(ctx, domain.PendingPosition{
		CorrelationID: corr,
		Asset:         tokenWeth,
		Amount:        big.NewInt(1000),
		Owner:         owner,
		Params:        domain.InvestmentParams{Pool: pool, BaseAsset: tokenWeth, HomeChainID: 1000},
	})
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	pos, err := f.ledger.PromoteToActive(ctx, domain.Position{
		CorrelationID: corr,
		Owner:         owner,
		Pool:          pool,
		Token0:        tokenWeth,
		Token1:        tokenUsdc,
		BaseAsset:     tokenWeth,
		HomeChainID:   1000,
		BottomTick:    -1080,
		TopTick:       960,
		EntryTick:     0,
		Liquidity:     big.NewInt(5000),
		Handle:        big.NewInt(7),
	})
	if err != nil {
		t.Fatalf("PromoteToActive: %v", err)
	}
	return pos
}

func TestPollLiquidatesOnlyBreachedPositions(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	poolB := common.HexToAddress("0x0b")
	pool := &fakePool{ticks: map[common.Address]int32{
		poolA: 2000, // above the top
		poolB: 0,    // inside the range
	}}
	f := newFixture(t, pool)
	breached := f.openPosition(t, "corr-a", poolA)
	healthy := f.openPosition(t, "corr-b", poolB)
	ctx := context.Background()

	f.monitor.Poll(ctx)

	got, _ := f.ledger.ByLocalID(ctx, breached.LocalID)
	if got.Status != domain.PositionStatusLiquidated {
		t.Fatalf("breached position status = %q, want liquidated", got.Status)
	}
	got, _ = f.ledger.ByLocalID(ctx, healthy.LocalID)
	if got.Status != domain.PositionStatusActive {
		t.Fatalf("healthy position status = %q, want active", got.Status)
	}
	if f.transport.dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", f.transport.dispatches)
	}
}

func TestPollAppliesConfiguredSlippageDefault(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	pool := &fakePool{
		ticks:       map[common.Address]int32{poolA: 2000},
		burnAmounts: map[common.Address][2]*big.Int{poolA: {big.NewInt(100), big.NewInt(40)}},
	}
	f := newFixture(t, pool)
	ctx := context.Background()
	if err := f.settings.Put(ctx, domain.Settings{
		BatchSize:          50,
		PollInterval:       time.Minute,
		DefaultSlippageBps: 250,
	}); err != nil {
		t.Fatalf("Put settings: %v", err)
	}
	breached := f.openPosition(t, "corr-slip", poolA)

	f.monitor.Poll(ctx)

	got, _ := f.ledger.ByLocalID(ctx, breached.LocalID)
	if got.Status != domain.PositionStatusLiquidated {
		t.Fatalf("status = %q, want liquidated", got.Status)
	}
	// The fake quotes 1:1, so 40 token1 floors at 39 after 250 bps.
	if len(pool.swapMinOuts) != 1 {
		t.Fatalf("swaps = %d, want 1", len(pool.swapMinOuts))
	}
	if pool.swapMinOuts[0] == nil || pool.swapMinOuts[0].Cmp(big.NewInt(39)) != 0 {
		t.Fatalf("swap minOut = %v, want 39 from configured slippage", pool.swapMinOuts[0])
	}
}

func TestPollIsolatesFailingPosition(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	poolB := common.HexToAddress("0x0b")
	pool := &fakePool{
		ticks:    map[common.Address]int32{poolA: 2000, poolB: -5000},
		burnErrs: map[common.Address]error{poolA: errors.New("execution reverted")},
	}
	f := newFixture(t, pool)
	broken := f.openPosition(t, "corr-broken", poolA)
	fine := f.openPosition(t, "corr-fine", poolB)
	ctx := context.Background()

	f.monitor.Poll(ctx)

	got, _ := f.ledger.ByLocalID(ctx, broken.LocalID)
	if got.Status != domain.PositionStatusFailed {
		t.Fatalf("broken position status = %q, want failed", got.Status)
	}
	got, _ = f.ledger.ByLocalID(ctx, fine.LocalID)
	if got.Status != domain.PositionStatusLiquidated {
		t.Fatalf("second position status = %q, want liquidated despite earlier failure", got.Status)
	}
	if f.alerter.count != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerter.count)
	}
}

func TestPollSingleFlight(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	gate := make(chan struct{})
	pool := &fakePool{
		ticks:    map[common.Address]int32{poolA: 0},
		tickGate: gate,
	}
	f := newFixture(t, pool)
	f.openPosition(t, "corr-a", poolA)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		f.monitor.Poll(ctx) // blocks inside CurrentTick
		close(done)
	}()
	for pool.tickCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A tick arriving mid-cycle is skipped, not queued.
	f.monitor.Poll(ctx)
	if got := pool.tickCalls.Load(); got != 1 {
		t.Fatalf("tick calls = %d, want 1 (second poll must be skipped)", got)
	}

	close(gate)
	<-done
}

func TestPollRespectsPause(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	pool := &fakePool{ticks: map[common.Address]int32{poolA: 2000}}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-a", poolA)
	ctx := context.Background()

	f.monitor.Pause()
	f.monitor.Poll(ctx)

	got, _ := f.ledger.ByLocalID(ctx, pos.LocalID)
	if got.Status != domain.PositionStatusActive {
		t.Fatalf("status = %q, want active while paused", got.Status)
	}

	f.monitor.Resume()
	f.monitor.Poll(ctx)
	got, _ = f.ledger.ByLocalID(ctx, pos.LocalID)
	if got.Status != domain.PositionStatusLiquidated {
		t.Fatalf("status = %q, want liquidated after resume", got.Status)
	}
}

func TestManualLiquidateLostClaim(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	pool := &fakePool{ticks: map[common.Address]int32{poolA: 2000}}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-a", poolA)
	ctx := context.Background()

	// Another actor claimed the position first.
	if err := f.ledger.ClaimForLiquidation(ctx, pos.LocalID); err != nil {
		t.Fatalf("ClaimForLiquidation: %v", err)
	}
	err := f.monitor.ManualLiquidate(ctx, pos.LocalID, settlement.Options{})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestManualLiquidateLockHeld(t *testing.T) {
	poolA := common.HexToAddress("0x0a")
	pool := &fakePool{ticks: map[common.Address]int32{poolA: 2000}}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-a", poolA)

	locked := New(f.ledger, f.monitor.settlement, f.monitor.settings, heldLock{}, nil, testLogger())
	err := locked.ManualLiquidate(context.Background(), pos.LocalID, settlement.Options{})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed when lock is held", err)
	}
}
