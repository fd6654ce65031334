package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

type balanceKey struct {
	user  common.Address
	asset common.Address
}

// BalanceArena holds home-ledger user balances. Debits are conditional so a
// balance can never go negative.
type BalanceArena struct {
	mu       sync.Mutex
	balances map[balanceKey]*big.Int
}

// NewBalanceArena creates an empty balance arena.
func NewBalanceArena() *BalanceArena {
	return &BalanceArena{balances: make(map[balanceKey]*big.Int)}
}

func (a *BalanceArena) Get(ctx context.Context, user, asset common.Address) (domain.UserBalance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	amt, ok := a.balances[balanceKey{user, asset}]
	if !ok {
		amt = new(big.Int)
	}
	return domain.UserBalance{User: user, Asset: asset, Amount: new(big.Int).Set(amt), UpdatedAt: now()}, nil
}

func (a *BalanceArena) Credit(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: credit amount must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := balanceKey{user, asset}
	cur, ok := a.balances[key]
	if !ok {
		cur = new(big.Int)
		a.balances[key] = cur
	}
	cur.Add(cur, amount)
	return nil
}

func (a *BalanceArena) Debit(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: debit amount must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := balanceKey{user, asset}
	cur, ok := a.balances[key]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("memory: debit %s: %w", user, domain.ErrInsufficientFunds)
	}
	cur.Sub(cur, amount)
	return nil
}

func (a *BalanceArena) ListByUser(ctx context.Context, user common.Address) ([]domain.UserBalance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.UserBalance
	for key, amt := range a.balances {
		if key.user == user && amt.Sign() > 0 {
			out = append(out, domain.UserBalance{User: key.user, Asset: key.asset, Amount: new(big.Int).Set(amt), UpdatedAt: now()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Hex() < out[j].Asset.Hex() })
	return out, nil
}

// HomePositionArena holds the home-side mirror records of outbound
// investments keyed by correlation id.
type HomePositionArena struct {
	mu      sync.Mutex
	records map[string]domain.HomePosition
}

// NewHomePositionArena creates an empty record arena.
func NewHomePositionArena() *HomePositionArena {
	return &HomePositionArena{records: make(map[string]domain.HomePosition)}
}

func (a *HomePositionArena) Create(ctx context.Context, p domain.HomePosition) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[p.CorrelationID]; ok {
		return fmt.Errorf("memory: home position %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	a.records[p.CorrelationID] = p
	return nil
}

func (a *HomePositionArena) Get(ctx context.Context, correlationID string) (domain.HomePosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.records[correlationID]
	if !ok {
		return domain.HomePosition{}, fmt.Errorf("memory: home position %s: %w", correlationID, domain.ErrNotFound)
	}
	return p, nil
}

func (a *HomePositionArena) CloseIf(ctx context.Context, correlationID string, expected, next domain.HomePositionStatus, returned *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.records[correlationID]
	if !ok {
		return fmt.Errorf("memory: home position %s: %w", correlationID, domain.ErrNotFound)
	}
	if p.Status != expected {
		return fmt.Errorf("memory: home position %s is %s: %w", correlationID, p.Status, domain.ErrAlreadyClaimed)
	}
	ts := now()
	p.Status = next
	p.ReturnedAmount = returned
	p.ClosedAt = &ts
	a.records[correlationID] = p
	return nil
}

func (a *HomePositionArena) Delete(ctx context.Context, correlationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[correlationID]; !ok {
		return fmt.Errorf("memory: home position %s: %w", correlationID, domain.ErrNotFound)
	}
	delete(a.records, correlationID)
	return nil
}

func (a *HomePositionArena) ListOpen(ctx context.Context, user common.Address) ([]domain.HomePosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.HomePosition
	for _, p := range a.records {
		if p.User == user && p.Status == domain.HomePositionStatusInvested {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var (
	_ domain.BalanceStore      = (*BalanceArena)(nil)
	_ domain.HomePositionStore = (*HomePositionArena)(nil)
)
