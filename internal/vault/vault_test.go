package vault

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/store/memory"
)

var (
	alice     = common.HexToAddress("0xa1")
	tokenWeth = common.HexToAddress("0x01")
	poolAddr  = common.HexToAddress("0x0a")
)

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTransport struct {
	err      error
	payloads []domain.Payload
}

func (t *fakeTransport) Dispatch(ctx context.Context, dest domain.ChainDestination, payload domain.Payload) (string, error) {
	t.payloads = append(t.payloads, payload)
	if t.err != nil {
		return "", t.err
	}
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
	vault     *Service
	balances  *memory.BalanceArena
	homes     *memory.HomePositionArena
	transport *fakeTransport
	alerter   *fakeAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chains := memory.NewChainRegistry()
	if err := chains.Add(context.Background(), domain.ChainDestination{
		ChainID:       2000,
		Name:          "dest",
		TransportAddr: "http://dest.example:8000",
		Supported:     true,
	}); err != nil {
		t.Fatalf("add chain: %v", err)
	}
	balances := memory.NewBalanceArena()
	homes := memory.NewHomePositionArena()
	assets := memory.NewAssetRegistry(map[common.Address]string{tokenWeth: "WETH"})
	transport := &fakeTransport{}
	alerter := &fakeAlerter{}

	return &fixture{
		vault:     New(balances, homes, chains, assets, transport, memory.NewAuditLog(), alerter, testLogger()),
		balances:  balances,
		homes:     homes,
		transport: transport,
		alerter:   alerter,
	}
}

// parkedRecord fetches the home record behind the last dispatch attempt.
func (f *fixture) parkedRecord(t *testing.T) domain.HomePosition {
	t.Helper()
	if len(f.transport.payloads) == 0 {
		t.Fatal("no dispatch attempts recorded")
	}
	inv, ok := f.transport.payloads[len(f.transport.payloads)-1].(domain.InvestPayload)
	if !ok {
		t.Fatalf("last payload type %T, want InvestPayload", f.transport.payloads[len(f.transport.payloads)-1])
	}
	pos, err := f.homes.Get(context.Background(), inv.CorrelationID)
	if err != nil {
		t.Fatalf("home position %s: %v", inv.CorrelationID, err)
	}
	return pos
}

func (f *fixture) balance(t *testing.T, user, asset common.Address) *big.Int {
	t.Helper()
	b, err := f.balances.Get(context.Background(), user, asset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return new(big.Int)
		}
		t.Fatalf("balance get: %v", err)
	}
	return b.Amount
}

func investParams() domain.InvestmentParams {
	return domain.InvestmentParams{
		Pool:           poolAddr,
		BaseAsset:      tokenWeth,
		Amount0Desired: big.NewInt(500),
		Amount1Desired: big.NewInt(500),
		LowerRangePct:  -100_000,
		UpperRangePct:  100_000,
		SlippageBps:    50,
		HomeChainID:    1000,
	}
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := f.vault.Withdraw(ctx, alice, tokenWeth, big.NewInt(400)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("balance = %s, want 600", got)
	}

	err := f.vault.Withdraw(ctx, alice, tokenWeth, big.NewInt(601))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraw err = %v, want ErrInsufficientFunds", err)
	}
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("balance after failed withdraw = %s, want unchanged 600", got)
	}
}

func TestDepositRejectsUnsupportedAsset(t *testing.T) {
	f := newFixture(t)
	err := f.vault.Deposit(context.Background(), alice, common.HexToAddress("0xff"), big.NewInt(1))
	if !errors.Is(err, domain.ErrUnsupportedAsset) {
		t.Fatalf("err = %v, want ErrUnsupportedAsset", err)
	}
}

func TestInvestDebitsAndDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	corr, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(700), investParams())
	if err != nil {
		t.Fatalf("InvestInPool: %v", err)
	}
	if corr == "" {
		t.Fatal("empty correlation id")
	}
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance = %s, want 300 after debit", got)
	}

	if len(f.transport.payloads) != 1 {
		t.Fatalf("dispatched %d payloads, want 1", len(f.transport.payloads))
	}
	inv, ok := f.transport.payloads[0].(domain.InvestPayload)
	if !ok {
		t.Fatalf("payload type %T, want InvestPayload", f.transport.payloads[0])
	}
	if inv.CorrelationID != corr || inv.Owner != alice || inv.Amount.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("invest payload = %+v", inv)
	}
	if _, err := domain.DecodeInvestmentParams(inv.EncodedParams); err != nil {
		t.Fatalf("dispatched params do not round-trip: %v", err)
	}

	pos, err := f.homes.Get(ctx, corr)
	if err != nil {
		t.Fatalf("home position: %v", err)
	}
	if pos.Status != domain.HomePositionStatusInvested || pos.DestChainID != 2000 {
		t.Fatalf("home position = %+v", pos)
	}

	// Distinct calls get distinct correlation ids.
	corr2, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(100), investParams())
	if err != nil {
		t.Fatalf("second InvestInPool: %v", err)
	}
	if corr2 == corr {
		t.Fatal("correlation id reused across investments")
	}
}

func TestInvestInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	_, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(500), investParams())
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(f.transport.payloads) != 0 {
		t.Fatal("dispatch happened despite failed debit")
	}
}

func TestInvestDispatchFailureParksRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	f.transport.err = errors.New("relayer timeout")

	_, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(700), investParams())
	if err == nil {
		t.Fatal("InvestInPool succeeded despite dispatch failure")
	}

	// A dispatch error can hide a delivered message, so the debit must
	// stand and the record must be parked, never refunded.
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance = %s, want 300 (debit kept)", got)
	}
	parked := f.parkedRecord(t)
	if parked.Status != domain.HomePositionStatusFailed {
		t.Fatalf("status = %q, want failed", parked.Status)
	}
	if len(f.alerter.severities) != 1 || f.alerter.severities[0] != domain.SeverityCritical {
		t.Fatalf("alerts = %v, want one critical", f.alerter.severities)
	}
}

func TestProceedsCreditParkedInvestment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	f.transport.err = errors.New("relayer timeout")
	if _, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(700), investParams()); err == nil {
		t.Fatal("InvestInPool succeeded despite dispatch failure")
	}
	corr := f.parkedRecord(t).CorrelationID

	// The destination executed after all; its return must still credit
	// the depositor exactly once.
	if err := f.vault.ReceiveProceeds(ctx, corr, big.NewInt(750)); err != nil {
		t.Fatalf("ReceiveProceeds: %v", err)
	}
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(1050)) != 0 {
		t.Fatalf("balance = %s, want 1050", got)
	}
	err := f.vault.ReceiveProceeds(ctx, corr, big.NewInt(750))
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("redelivery err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestInvestRejectsDestinationWithoutTransportAddr(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chains := memory.NewChainRegistry()
	if err := chains.Add(ctx, domain.ChainDestination{ChainID: 3000, Name: "dark", Supported: true}); err != nil {
		t.Fatalf("add chain: %v", err)
	}
	f.vault.chains = chains
	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	_, err := f.vault.InvestInPool(ctx, alice, 3000, tokenWeth, big.NewInt(700), investParams())
	if !errors.Is(err, domain.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
	// Caught before the debit: nothing to unwind.
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("balance = %s, want untouched 1000", got)
	}
}

func TestReceiveProceedsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	corr, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(700), investParams())
	if err != nil {
		t.Fatalf("InvestInPool: %v", err)
	}

	if err := f.vault.ReceiveProceeds(ctx, corr, big.NewInt(750)); err != nil {
		t.Fatalf("ReceiveProceeds: %v", err)
	}
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(1050)) != 0 {
		t.Fatalf("balance = %s, want 1050 (300 + 750 proceeds)", got)
	}

	pos, err := f.homes.Get(ctx, corr)
	if err != nil {
		t.Fatalf("home position: %v", err)
	}
	if pos.Status != domain.HomePositionStatusReturned {
		t.Fatalf("status = %q, want returned", pos.Status)
	}
	if pos.ReturnedAmount == nil || pos.ReturnedAmount.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("returned amount = %v, want 750", pos.ReturnedAmount)
	}

	// A redelivered return message must not credit twice.
	err = f.vault.ReceiveProceeds(ctx, corr, big.NewInt(750))
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second ReceiveProceeds err = %v, want ErrAlreadyClaimed", err)
	}
	if got := f.balance(t, alice, tokenWeth); got.Cmp(big.NewInt(1050)) != 0 {
		t.Fatalf("balance = %s, want unchanged 1050", got)
	}
}

func TestReceiveProceedsUnknownCorrelation(t *testing.T) {
	f := newFixture(t)
	err := f.vault.ReceiveProceeds(context.Background(), "nope", big.NewInt(1))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// failingCredits rejects credits on demand so the proceeds path can be
// driven into its stranded-credit branch.
type failingCredits struct {
	*memory.BalanceArena
	fail bool
}

func (f *failingCredits) Credit(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if f.fail {
		return errors.New("balance store down")
	}
	return f.BalanceArena.Credit(ctx, user, asset, amount)
}

func TestReceiveProceedsCreditFailureAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	balances := &failingCredits{BalanceArena: f.balances}
	f.vault.balances = balances

	if err := f.vault.Deposit(ctx, alice, tokenWeth, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	corr, err := f.vault.InvestInPool(ctx, alice, 2000, tokenWeth, big.NewInt(700), investParams())
	if err != nil {
		t.Fatalf("InvestInPool: %v", err)
	}

	balances.fail = true
	if err := f.vault.ReceiveProceeds(ctx, corr, big.NewInt(750)); err == nil {
		t.Fatal("ReceiveProceeds succeeded despite credit failure")
	}

	// The record closed before the credit failed, so nothing will retry
	// it; the operator must hear about the stranded amount.
	if len(f.alerter.severities) != 1 || f.alerter.severities[0] != domain.SeverityCritical {
		t.Fatalf("alerts = %v, want one critical", f.alerter.severities)
	}
	pos, err := f.homes.Get(ctx, corr)
	if err != nil {
		t.Fatalf("home position: %v", err)
	}
	if pos.Status != domain.HomePositionStatusReturned {
		t.Fatalf("status = %q, want returned", pos.Status)
	}
}
