package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// ChainRegistry holds chain-destination entries. Frozen entries reject all
// further writes.
type ChainRegistry struct {
	mu     sync.Mutex
	chains map[uint64]domain.ChainDestination
}

// NewChainRegistry creates an empty chain registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{chains: make(map[uint64]domain.ChainDestination)}
}

func (r *ChainRegistry) Add(ctx context.Context, dest domain.ChainDestination) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[dest.ChainID]; ok {
		return fmt.Errorf("memory: chain %d: %w", dest.ChainID, domain.ErrDuplicateCorrelation)
	}
	dest.Frozen = false
	dest.UpdatedAt = now()
	r.chains[dest.ChainID] = dest
	return nil
}

func (r *ChainRegistry) Update(ctx context.Context, dest domain.ChainDestination) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.chains[dest.ChainID]
	if !ok {
		return fmt.Errorf("memory: chain %d: %w", dest.ChainID, domain.ErrNotFound)
	}
	if cur.Frozen {
		return fmt.Errorf("memory: chain %d: %w", dest.ChainID, domain.ErrFrozen)
	}
	dest.Frozen = false
	dest.UpdatedAt = now()
	r.chains[dest.ChainID] = dest
	return nil
}

func (r *ChainRegistry) Freeze(ctx context.Context, chainID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.chains[chainID]
	if !ok {
		return fmt.Errorf("memory: chain %d: %w", chainID, domain.ErrNotFound)
	}
	if cur.Frozen {
		return fmt.Errorf("memory: chain %d: %w", chainID, domain.ErrFrozen)
	}
	cur.Frozen = true
	cur.UpdatedAt = now()
	r.chains[chainID] = cur
	return nil
}

func (r *ChainRegistry) Get(ctx context.Context, chainID uint64) (domain.ChainDestination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dest, ok := r.chains[chainID]
	if !ok {
		return domain.ChainDestination{}, fmt.Errorf("memory: chain %d: %w", chainID, domain.ErrNotFound)
	}
	return dest, nil
}

func (r *ChainRegistry) List(ctx context.Context) ([]domain.ChainDestination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ChainDestination, 0, len(r.chains))
	for _, dest := range r.chains {
		out = append(out, dest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

// AssetRegistry holds the supported-asset set.
type AssetRegistry struct {
	mu     sync.Mutex
	assets map[common.Address]string
}

// NewAssetRegistry creates an asset registry pre-populated with the given
// assets.
func NewAssetRegistry(assets map[common.Address]string) *AssetRegistry {
	reg := &AssetRegistry{assets: make(map[common.Address]string, len(assets))}
	for addr, symbol := range assets {
		reg.assets[addr] = symbol
	}
	return reg
}

func (r *AssetRegistry) Add(ctx context.Context, asset common.Address, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset] = symbol
	return nil
}

func (r *AssetRegistry) Remove(ctx context.Context, asset common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[asset]; !ok {
		return fmt.Errorf("memory: asset %s: %w", asset, domain.ErrNotFound)
	}
	delete(r.assets, asset)
	return nil
}

func (r *AssetRegistry) IsSupported(ctx context.Context, asset common.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.assets[asset]
	return ok, nil
}

func (r *AssetRegistry) List(ctx context.Context) (map[common.Address]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[common.Address]string, len(r.assets))
	for addr, symbol := range r.assets {
		out[addr] = symbol
	}
	return out, nil
}

// SettingsArena holds the operator-tunable runtime settings.
type SettingsArena struct {
	mu       sync.Mutex
	settings domain.Settings
}

// NewSettingsArena creates a settings arena seeded with defaults.
func NewSettingsArena(defaults domain.Settings) *SettingsArena {
	return &SettingsArena{settings: defaults}
}

func (a *SettingsArena) Get(ctx context.Context) (domain.Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings, nil
}

func (a *SettingsArena) Put(ctx context.Context, s domain.Settings) error {
	if s.DefaultSlippageBps < 0 || s.DefaultSlippageBps > domain.MaxSlippageBps {
		return fmt.Errorf("memory: slippage %d bps out of range", s.DefaultSlippageBps)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s.UpdatedAt = now()
	a.settings = s
	return nil
}

// AuditLog is an append-only in-process audit log.
type AuditLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{nextID: 1}
}

func (l *AuditLog) Log(ctx context.Context, event string, detail map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, domain.AuditEntry{
		ID:        l.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: now(),
	})
	l.nextID++
	return nil
}

func (l *AuditLog) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := opts.Offset
	if start > len(l.entries) {
		start = len(l.entries)
	}
	end := len(l.entries)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	out := make([]domain.AuditEntry, end-start)
	copy(out, l.entries[start:end])
	return out, nil
}

var (
	_ domain.ChainStore    = (*ChainRegistry)(nil)
	_ domain.AssetStore    = (*AssetRegistry)(nil)
	_ domain.SettingsStore = (*SettingsArena)(nil)
	_ domain.AuditStore    = (*AuditLog)(nil)
)
