package settlement

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/ledger"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/store/memory"
)

var (
	poolAddr  = common.HexToAddress("0x0a")
	tokenWeth = common.HexToAddress("0x01")
	tokenUsdc = common.HexToAddress("0x02")
	owner     = common.HexToAddress("0x0b")
)

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePool scripts pool responses per test.
type fakePool struct {
	tick     int32
	burn0    *big.Int
	burn1    *big.Int
	fee0     *big.Int
	fee1     *big.Int
	swapOut  *big.Int
	balance  *big.Int
	burnErr  error
	swapErr  error
	burns    int
	swaps    int
	collects int

	swapMinOut *big.Int // last minOut passed to Swap
}

func (p *fakePool) CurrentTick(ctx context.Context, pool common.Address) (int32, error) {
	return p.tick, nil
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
	p.swaps++
	p.swapMinOut = minOut
	if p.swapErr != nil {
		return nil, p.swapErr
	}
	return new(big.Int).Set(p.swapOut), nil
}

func (p *fakePool) Mint(ctx context.Context, req domain.MintRequest) (domain.MintResult, error) {
	return domain.MintResult{Handle: big.NewInt(1), Liquidity: big.NewInt(1)}, nil
}

func (p *fakePool) Burn(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	p.burns++
	if p.burnErr != nil {
		return nil, nil, p.burnErr
	}
	return new(big.Int).Set(p.burn0), new(big.Int).Set(p.burn1), nil
}

func (p *fakePool) Collect(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	p.collects++
	return new(big.Int).Set(p.fee0), new(big.Int).Set(p.fee1), nil
}

func (p *fakePool) Balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	if p.balance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(p.balance), nil
}

type fakeTransport struct {
	err      error
	payloads []domain.Payload
}

func (t *fakeTransport) Dispatch(ctx context.Context, dest domain.ChainDestination, payload domain.Payload) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.payloads = append(t.payloads, payload)
	return "msg-1", nil
}

type fakeAlerter struct {
	severities []domain.Severity
	messages   []string
}

func (a *fakeAlerter) Notify(ctx context.Context, sev domain.Severity, positionID int64, msg string) error {
	a.severities = append(a.severities, sev)
	a.messages = append(a.messages, msg)
	return nil
}

type fixture struct {
	engine    *Engine
	ledger    *ledger.Service
	pool      *fakePool
	transport *fakeTransport
	alerter   *fakeAlerter
}

func newFixture(t *testing.T, pool *fakePool) *fixture {
	t.Helper()
	arena := memory.NewPositionArena()
	led := ledger.New(arena, arena, memory.NewAuditLog(), nil, testLogger())

	chains := memory.NewChainRegistry()
	if err := chains.Add(context.Background(), domain.ChainDestination{
		ChainID:   1000,
		Name:      "home",
		Supported: true,
	}); err != nil {
		t.Fatalf("add chain: %v", err)
	}

	transport := &fakeTransport{}
	alerter := &fakeAlerter{}
	return &fixture{
		engine:    New(led, pool, transport, chains, alerter, testLogger()),
		ledger:    led,
		pool:      pool,
		transport: transport,
		alerter:   alerter,
	}
}

func (f *fixture) openPosition(t *testing.T, corr string) domain.Position {
	t.Helper()
	ctx := context.Background()

	err := f.ledger.CreatePending(ctx, domain.PendingPosition{
		CorrelationID: corr,
		Asset:         tokenWeth,
		Amount:        big.NewInt(1000),
		Owner:         owner,
		Params:        domain.InvestmentParams{Pool: poolAddr, BaseAsset: tokenWeth, HomeChainID: 1000},
	})
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	pos, err := f.ledger.PromoteToActive(ctx, domain.Position{
		CorrelationID: corr,
		Owner:         owner,
		Pool:          poolAddr,
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

func TestIsOutOfRange(t *testing.T) {
	tests := []struct {
		name      string
		tick      int32
		breached  bool
		direction domain.BreachDirection
	}{
		{"inside range", 0, false, domain.BreachNone},
		{"at bottom boundary stays in", -1080, false, domain.BreachNone},
		{"below bottom is stop loss", -1081, true, domain.BreachStopLoss},
		{"top boundary is excluded", 960, true, domain.BreachTakeProfit},
		{"above top is take profit", 2000, true, domain.BreachTakeProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{tick: tt.tick}
			f := newFixture(t, pool)
			pos := f.openPosition(t, "corr-range")

			breached, tick, direction, err := f.engine.IsOutOfRange(context.Background(), pos.LocalID)
			if err != nil {
				t.Fatalf("IsOutOfRange: %v", err)
			}
			if breached != tt.breached || direction != tt.direction {
				t.Fatalf("breached=%v direction=%q, want %v %q", breached, direction, tt.breached, tt.direction)
			}
			if tick != tt.tick {
				t.Fatalf("tick = %d, want %d", tick, tt.tick)
			}
		})
	}
}

func TestLiquidateConsolidatesAndDispatches(t *testing.T) {
	pool := &fakePool{
		tick:    2000,
		burn0:   big.NewInt(600),
		burn1:   big.NewInt(400),
		fee0:    big.NewInt(10),
		fee1:    big.NewInt(5),
		swapOut: big.NewInt(390), // 405 USDC swapped into WETH
	}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-liq")
	ctx := context.Background()

	if err := f.engine.LiquidateAndReturn(ctx, pos.LocalID, Options{}); err != nil {
		t.Fatalf("LiquidateAndReturn: %v", err)
	}

	if pool.burns != 1 || pool.collects != 1 || pool.swaps != 1 {
		t.Fatalf("burns=%d collects=%d swaps=%d, want 1 each", pool.burns, pool.collects, pool.swaps)
	}
	if len(f.transport.payloads) != 1 {
		t.Fatalf("dispatched %d payloads, want 1", len(f.transport.payloads))
	}
	ret, ok := f.transport.payloads[0].(domain.ReturnPayload)
	if !ok {
		t.Fatalf("payload type %T, want ReturnPayload", f.transport.payloads[0])
	}
	// 600 + 10 burn+fee WETH, plus 390 from consolidating 405 USDC.
	if want := big.NewInt(1000); ret.Amount.Cmp(want) != 0 {
		t.Fatalf("returned amount = %s, want %s", ret.Amount, want)
	}
	if ret.Asset != tokenWeth || ret.Recipient != owner || ret.CorrelationID != "corr-liq" {
		t.Fatalf("return payload fields wrong: %+v", ret)
	}

	got, err := f.ledger.ByLocalID(ctx, pos.LocalID)
	if err != nil {
		t.Fatalf("ByLocalID: %v", err)
	}
	if got.Status != domain.PositionStatusLiquidated {
		t.Fatalf("status = %q, want liquidated", got.Status)
	}
}

func TestLiquidateFloorsSwapWithSlippageBps(t *testing.T) {
	pool := &fakePool{
		tick:    2000,
		burn0:   big.NewInt(600),
		burn1:   big.NewInt(400),
		fee0:    new(big.Int),
		fee1:    new(big.Int),
		swapOut: big.NewInt(395),
	}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-slip")
	ctx := context.Background()

	if err := f.engine.LiquidateAndReturn(ctx, pos.LocalID, Options{SlippageBps: 250}); err != nil {
		t.Fatalf("LiquidateAndReturn: %v", err)
	}

	// The fake quotes 1:1, so 400 USDC quotes to 400 WETH; 250 bps off
	// that is a floor of 390.
	if pool.swapMinOut == nil || pool.swapMinOut.Cmp(big.NewInt(390)) != 0 {
		t.Fatalf("swap minOut = %v, want 390", pool.swapMinOut)
	}
}

func TestLiquidateZeroSlippageLeavesSwapUnfloored(t *testing.T) {
	pool := &fakePool{
		tick:    2000,
		burn0:   big.NewInt(600),
		burn1:   big.NewInt(400),
		fee0:    new(big.Int),
		fee1:    new(big.Int),
		swapOut: big.NewInt(1),
	}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-noslip")

	if err := f.engine.LiquidateAndReturn(context.Background(), pos.LocalID, Options{}); err != nil {
		t.Fatalf("LiquidateAndReturn: %v", err)
	}
	if pool.swapMinOut == nil || pool.swapMinOut.Sign() != 0 {
		t.Fatalf("swap minOut = %v, want 0", pool.swapMinOut)
	}
}

func TestLiquidateSkipsSwapWhenSingleSided(t *testing.T) {
	pool := &fakePool{
		tick:  2000,
		burn0: big.NewInt(600),
		burn1: big.NewInt(0),
		fee0:  big.NewInt(0),
		fee1:  big.NewInt(0),
	}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-single")

	if err := f.engine.LiquidateAndReturn(context.Background(), pos.LocalID, Options{}); err != nil {
		t.Fatalf("LiquidateAndReturn: %v", err)
	}
	if pool.swaps != 0 {
		t.Fatalf("swaps = %d, want 0 for single-sided proceeds", pool.swaps)
	}
}

func TestLiquidateDispatchFailureMarksFailed(t *testing.T) {
	pool := &fakePool{
		tick:    2000,
		burn0:   big.NewInt(600),
		burn1:   big.NewInt(0),
		fee0:    big.NewInt(0),
		fee1:    big.NewInt(0),
		swapOut: big.NewInt(0),
	}
	f := newFixture(t, pool)
	f.transport.err = errors.New("relayer unreachable")
	pos := f.openPosition(t, "corr-fail")
	ctx := context.Background()

	err := f.engine.LiquidateAndReturn(ctx, pos.LocalID, Options{})
	if err == nil {
		t.Fatal("LiquidateAndReturn succeeded despite dispatch failure")
	}

	got, err2 := f.ledger.ByLocalID(ctx, pos.LocalID)
	if err2 != nil {
		t.Fatalf("ByLocalID: %v", err2)
	}
	if got.Status != domain.PositionStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.FailReason == "" {
		t.Fatal("fail reason not recorded")
	}

	if len(f.alerter.severities) != 1 || f.alerter.severities[0] != domain.SeverityCritical {
		t.Fatalf("alerts = %v, want one critical", f.alerter.severities)
	}

	attention, err2 := f.ledger.NeedsAttention(ctx)
	if err2 != nil {
		t.Fatalf("NeedsAttention: %v", err2)
	}
	if len(attention) != 1 || attention[0].LocalID != pos.LocalID {
		t.Fatalf("needs attention = %v, want the failed position", attention)
	}

	// Failed is terminal: no automatic or manual retry can reclaim it.
	err = f.engine.LiquidateAndReturn(ctx, pos.LocalID, Options{})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second LiquidateAndReturn err = %v, want ErrAlreadyClaimed", err)
	}
	if pool.burns != 1 {
		t.Fatalf("burns = %d, want 1 (no retry after failure)", pool.burns)
	}
}

func TestLiquidateBurnBelowMinimum(t *testing.T) {
	pool := &fakePool{
		tick:  2000,
		burn0: big.NewInt(100),
		burn1: big.NewInt(0),
		fee0:  big.NewInt(0),
		fee1:  big.NewInt(0),
	}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-min")

	err := f.engine.LiquidateAndReturn(context.Background(), pos.LocalID, Options{
		MinOut0: big.NewInt(500),
	})
	if !errors.Is(err, domain.ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}

	got, _ := f.ledger.ByLocalID(context.Background(), pos.LocalID)
	if got.Status != domain.PositionStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestLiquidateSecondCallerLosesClaim(t *testing.T) {
	pool := &fakePool{
		tick:    2000,
		burn0:   big.NewInt(600),
		burn1:   big.NewInt(0),
		fee0:    big.NewInt(0),
		fee1:    big.NewInt(0),
		swapOut: big.NewInt(0),
	}
	f := newFixture(t, pool)
	pos := f.openPosition(t, "corr-race")
	ctx := context.Background()

	if err := f.engine.LiquidateAndReturn(ctx, pos.LocalID, Options{}); err != nil {
		t.Fatalf("first LiquidateAndReturn: %v", err)
	}
	err := f.engine.LiquidateAndReturn(ctx, pos.LocalID, Options{})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second LiquidateAndReturn err = %v, want ErrAlreadyClaimed", err)
	}
	if pool.burns != 1 || len(f.transport.payloads) != 1 {
		t.Fatalf("burns=%d dispatches=%d, want exactly one liquidation", pool.burns, len(f.transport.payloads))
	}
}

func TestReturnAssetsChecksHeldBalance(t *testing.T) {
	pool := &fakePool{balance: big.NewInt(50)}
	f := newFixture(t, pool)
	ctx := context.Background()

	err := f.engine.ReturnAssets(ctx, owner, tokenWeth, big.NewInt(100), 1000, "corr-ret")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	if err := f.engine.ReturnAssets(ctx, owner, tokenWeth, big.NewInt(40), 1000, "corr-ret"); err != nil {
		t.Fatalf("ReturnAssets: %v", err)
	}
	if len(f.transport.payloads) != 1 {
		t.Fatalf("dispatched %d payloads, want 1", len(f.transport.payloads))
	}
}
