package executor

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

// fakePool tracks per-token balances so a swap moves funds and the mint
// coverage check sees the result.
type fakePool struct {
	tick     int32
	spacing  int32
	balances map[common.Address]*big.Int
	swapErr  error
	mintErr  error
	mints    []domain.MintRequest
	swaps    int
}

func newFakePool() *fakePool {
	return &fakePool{
		tick:     0,
		spacing:  60,
		balances: map[common.Address]*big.Int{},
	}
}

func (p *fakePool) CurrentTick(ctx context.Context, pool common.Address) (int32, error) {
	return p.tick, nil
}

func (p *fakePool) TickSpacing(ctx context.Context, pool common.Address) (int32, error) {
	return p.spacing, nil
}

func (p *fakePool) Tokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	return tokenWeth, tokenUsdc, nil
}

func (p *fakePool) Quote(ctx context.Context, pool, in, out common.Address, amountIn *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amountIn), nil // 1:1 price
}

func (p *fakePool) Swap(ctx context.Context, pool, in, out common.Address, amountIn, minOut, limitPrice *big.Int) (*big.Int, error) {
	p.swaps++
	if p.swapErr != nil {
		return nil, p.swapErr
	}
	bal, ok := p.balances[in]
	if !ok || bal.Cmp(amountIn) < 0 {
		return nil, domain.ErrInsufficientFunds
	}
	bal.Sub(bal, amountIn)
	p.credit(out, amountIn)
	return new(big.Int).Set(amountIn), nil
}

func (p *fakePool) Mint(ctx context.Context, req domain.MintRequest) (domain.MintResult, error) {
	if p.mintErr != nil {
		return domain.MintResult{}, p.mintErr
	}
	p.mints = append(p.mints, req)
	return domain.MintResult{
		Handle:    big.NewInt(int64(len(p.mints))),
		Liquidity: big.NewInt(9999),
		Amount0:   req.Amount0Desired,
		Amount1:   req.Amount1Desired,
	}, nil
}

func (p *fakePool) Burn(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	return new(big.Int), new(big.Int), nil
}

func (p *fakePool) Collect(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	return new(big.Int), new(big.Int), nil
}

func (p *fakePool) Balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	if bal, ok := p.balances[asset]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (p *fakePool) credit(asset common.Address, amount *big.Int) {
	if bal, ok := p.balances[asset]; ok {
		bal.Add(bal, amount)
		return
	}
	p.balances[asset] = new(big.Int).Set(amount)
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

type fixture struct {
	engine    *Engine
	ledger    *ledger.Service
	pool      *fakePool
	transport *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	arena := memory.NewPositionArena()
	led := ledger.New(arena, arena, memory.NewAuditLog(), nil, testLogger())

	chains := memory.NewChainRegistry()
	if err := chains.Add(context.Background(), domain.ChainDestination{ChainID: 1000, Name: "home", Supported: true}); err != nil {
		t.Fatalf("add chain: %v", err)
	}
	assets := memory.NewAssetRegistry(map[common.Address]string{
		tokenWeth: "WETH",
		tokenUsdc: "USDC",
	})

	pool := newFakePool()
	transport := &fakeTransport{}
	return &fixture{
		engine:    New(led, pool, transport, chains, assets, testLogger()),
		ledger:    led,
		pool:      pool,
		transport: transport,
	}
}

func encodedParams(t *testing.T, amount0, amount1 int64) []byte {
	t.Helper()
	data, err := domain.EncodeInvestmentParams(domain.InvestmentParams{
		Pool:           poolAddr,
		BaseAsset:      tokenWeth,
		Amount0Desired: big.NewInt(amount0),
		Amount1Desired: big.NewInt(amount1),
		LowerRangePct:  -100_000,
		UpperRangePct:  100_000,
		SlippageBps:    50,
		HomeChainID:    1000,
	})
	if err != nil {
		t.Fatalf("EncodeInvestmentParams: %v", err)
	}
	return data
}

func TestReceiveIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := encodedParams(t, 500, 500)

	if err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), params); err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), params)
	if !errors.Is(err, domain.ErrDuplicateCorrelation) {
		t.Fatalf("second Receive err = %v, want ErrDuplicateCorrelation", err)
	}

	pendings, err := f.ledger.PendingSet(ctx, 0)
	if err != nil {
		t.Fatalf("PendingSet: %v", err)
	}
	if len(pendings) != 1 {
		t.Fatalf("pending set has %d entries, want 1", len(pendings))
	}
}

func TestReceiveRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := encodedParams(t, 500, 500)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty correlation id", func() error {
			return f.engine.Receive(ctx, "", tokenWeth, owner, big.NewInt(1), params)
		}, domain.ErrInvalidParams},
		{"zero amount", func() error {
			return f.engine.Receive(ctx, "c1", tokenWeth, owner, big.NewInt(0), params)
		}, domain.ErrInvalidParams},
		{"unsupported asset", func() error {
			return f.engine.Receive(ctx, "c2", common.HexToAddress("0xff"), owner, big.NewInt(1), params)
		}, domain.ErrUnsupportedAsset},
		{"malformed params", func() error {
			return f.engine.Receive(ctx, "c3", tokenWeth, owner, big.NewInt(1), []byte(`{"version":9}`))
		}, domain.ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	pendings, _ := f.ledger.PendingSet(ctx, 0)
	if len(pendings) != 0 {
		t.Fatalf("pending set has %d entries, want 0 after rejected receives", len(pendings))
	}
}

func TestExecuteOpensPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pool.credit(tokenWeth, big.NewInt(1000))

	if err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), encodedParams(t, 500, 500)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	pos, err := f.engine.Execute(ctx, "corr-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if pos.Status != domain.PositionStatusActive {
		t.Fatalf("status = %q, want active", pos.Status)
	}
	// ±10% around tick 0 at spacing 60.
	if pos.BottomTick != -1080 || pos.TopTick != 960 {
		t.Fatalf("range = [%d, %d), want [-1080, 960)", pos.BottomTick, pos.TopTick)
	}
	if pos.EntryTick != 0 {
		t.Fatalf("entry tick = %d, want 0", pos.EntryTick)
	}
	if f.pool.swaps != 1 {
		t.Fatalf("swaps = %d, want 1 for a two-sided entry", f.pool.swaps)
	}
	if len(f.pool.mints) != 1 {
		t.Fatalf("mints = %d, want 1", len(f.pool.mints))
	}
	req := f.pool.mints[0]
	// 0.5% slippage on 500 desired.
	if want := big.NewInt(497); req.Amount0Min.Cmp(want) != 0 {
		t.Fatalf("Amount0Min = %s, want %s", req.Amount0Min, want)
	}

	// The pending record is consumed by promotion.
	if _, err := f.ledger.Pending(ctx, "corr-1"); !errors.Is(err, domain.ErrPendingNotFound) {
		t.Fatalf("Pending after Execute err = %v, want ErrPendingNotFound", err)
	}
}

func TestExecuteInsufficientFundsStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// No holdings credited: the rebalance swap cannot cover the entry.
	f.pool.swapErr = domain.ErrInsufficientFunds

	if err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), encodedParams(t, 500, 500)); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	_, err := f.engine.Execute(ctx, "corr-1")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Execute err = %v, want ErrInsufficientFunds", err)
	}

	// The instruction survives for a retry; once funds arrive, the same
	// correlation id yields exactly one position.
	f.pool.swapErr = nil
	f.pool.credit(tokenWeth, big.NewInt(1000))
	if _, err := f.engine.Execute(ctx, "corr-1"); err != nil {
		t.Fatalf("retry Execute: %v", err)
	}

	pos, err := f.ledger.ByCorrelationID(ctx, "corr-1")
	if err != nil {
		t.Fatalf("ByCorrelationID: %v", err)
	}
	if pos.LocalID != 1 {
		t.Fatalf("local id = %d, want 1 (exactly one position)", pos.LocalID)
	}
	if _, err := f.engine.Execute(ctx, "corr-1"); !errors.Is(err, domain.ErrPendingNotFound) {
		t.Fatalf("third Execute err = %v, want ErrPendingNotFound", err)
	}
}

func TestExecuteSingleSidedSkipsSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pool.credit(tokenWeth, big.NewInt(1000))

	if err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), encodedParams(t, 800, 0)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, err := f.engine.Execute(ctx, "corr-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.pool.swaps != 0 {
		t.Fatalf("swaps = %d, want 0 for a single-sided entry in the held asset", f.pool.swaps)
	}
}

func TestCancelReturnsDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), encodedParams(t, 500, 500)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := f.engine.Cancel(ctx, "corr-1", 1000); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if len(f.transport.payloads) != 1 {
		t.Fatalf("dispatched %d payloads, want 1", len(f.transport.payloads))
	}
	ret, ok := f.transport.payloads[0].(domain.ReturnPayload)
	if !ok {
		t.Fatalf("payload type %T, want ReturnPayload", f.transport.payloads[0])
	}
	if ret.Amount.Cmp(big.NewInt(1000)) != 0 || ret.Recipient != owner {
		t.Fatalf("return payload = %+v, want full deposit to owner", ret)
	}

	// Once cancelled, the instruction can be neither executed nor
	// cancelled again.
	if _, err := f.engine.Execute(ctx, "corr-1"); !errors.Is(err, domain.ErrPendingNotFound) {
		t.Fatalf("Execute after Cancel err = %v, want ErrPendingNotFound", err)
	}
	if err := f.engine.Cancel(ctx, "corr-1", 1000); !errors.Is(err, domain.ErrPendingNotFound) {
		t.Fatalf("second Cancel err = %v, want ErrPendingNotFound", err)
	}
}

func TestCancelDispatchFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.transport.err = errors.New("relayer unreachable")

	if err := f.engine.Receive(ctx, "corr-1", tokenWeth, owner, big.NewInt(1000), encodedParams(t, 500, 500)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := f.engine.Cancel(ctx, "corr-1", 1000); err == nil {
		t.Fatal("Cancel succeeded despite dispatch failure")
	}

	// The deposit is not orphaned: the pending record remains.
	if _, err := f.ledger.Pending(ctx, "corr-1"); err != nil {
		t.Fatalf("Pending after failed Cancel: %v", err)
	}
}
