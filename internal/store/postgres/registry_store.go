package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// ChainStore implements domain.ChainStore using PostgreSQL. Freeze is
// one-way: a frozen row rejects every further write.
type ChainStore struct {
	pool *pgxpool.Pool
}

// NewChainStore creates a ChainStore backed by the given connection pool.
func NewChainStore(pool *pgxpool.Pool) *ChainStore {
	return &ChainStore{pool: pool}
}

const chainCols = `chain_id, name, encoded, executor, transport_addr, supported, frozen, updated_at`

func scanChain(row pgx.Row) (domain.ChainDestination, error) {
	var d domain.ChainDestination
	var executor string
	err := row.Scan(&d.ChainID, &d.Name, &d.Encoded, &executor,
		&d.TransportAddr, &d.Supported, &d.Frozen, &d.UpdatedAt)
	if err != nil {
		return domain.ChainDestination{}, err
	}
	d.Executor = common.HexToAddress(executor)
	return d, nil
}

// Add inserts a destination entry.
func (s *ChainStore) Add(ctx context.Context, dest domain.ChainDestination) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_destinations (chain_id, name, encoded, executor, transport_addr, supported, frozen, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW())`,
		dest.ChainID, dest.Name, dest.Encoded, dest.Executor.Hex(), dest.TransportAddr, dest.Supported)
	if err != nil {
		return fmt.Errorf("postgres: add chain %d: %w", dest.ChainID, err)
	}
	return nil
}

// Update rewrites a destination entry unless it is frozen.
func (s *ChainStore) Update(ctx context.Context, dest domain.ChainDestination) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chain_destinations
		SET name = $2, encoded = $3, executor = $4, transport_addr = $5, supported = $6, updated_at = NOW()
		WHERE chain_id = $1 AND NOT frozen`,
		dest.ChainID, dest.Name, dest.Encoded, dest.Executor.Hex(), dest.TransportAddr, dest.Supported)
	if err != nil {
		return fmt.Errorf("postgres: update chain %d: %w", dest.ChainID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.writeRefused(ctx, dest.ChainID)
	}
	return nil
}

// Freeze permanently locks a destination entry against writes.
func (s *ChainStore) Freeze(ctx context.Context, chainID uint64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE chain_destinations SET frozen = TRUE, updated_at = NOW() WHERE chain_id = $1 AND NOT frozen",
		chainID)
	if err != nil {
		return fmt.Errorf("postgres: freeze chain %d: %w", chainID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.writeRefused(ctx, chainID)
	}
	return nil
}

func (s *ChainStore) writeRefused(ctx context.Context, chainID uint64) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM chain_destinations WHERE chain_id = $1)", chainID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: chain %d: %w", chainID, err)
	}
	if !exists {
		return fmt.Errorf("postgres: chain %d: %w", chainID, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: chain %d: %w", chainID, domain.ErrFrozen)
}

// Get fetches a destination entry.
func (s *ChainStore) Get(ctx context.Context, chainID uint64) (domain.ChainDestination, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+chainCols+" FROM chain_destinations WHERE chain_id = $1", chainID)
	d, err := scanChain(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChainDestination{}, fmt.Errorf("postgres: chain %d: %w", chainID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ChainDestination{}, fmt.Errorf("postgres: get chain %d: %w", chainID, err)
	}
	return d, nil
}

// List returns all destination entries ordered by chain id.
func (s *ChainStore) List(ctx context.Context) ([]domain.ChainDestination, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+chainCols+" FROM chain_destinations ORDER BY chain_id")
	if err != nil {
		return nil, fmt.Errorf("postgres: list chains: %w", err)
	}
	defer rows.Close()

	var out []domain.ChainDestination
	for rows.Next() {
		d, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AssetStore implements domain.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *pgxpool.Pool
}

// NewAssetStore creates an AssetStore backed by the given connection pool.
func NewAssetStore(pool *pgxpool.Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

// Add registers an asset; re-adding updates the symbol.
func (s *AssetStore) Add(ctx context.Context, asset common.Address, symbol string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO supported_assets (address, symbol) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET symbol = EXCLUDED.symbol`,
		asset.Hex(), symbol)
	if err != nil {
		return fmt.Errorf("postgres: add asset %s: %w", asset.Hex(), err)
	}
	return nil
}

// Remove unregisters an asset.
func (s *AssetStore) Remove(ctx context.Context, asset common.Address) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM supported_assets WHERE address = $1", asset.Hex())
	if err != nil {
		return fmt.Errorf("postgres: remove asset %s: %w", asset.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: asset %s: %w", asset.Hex(), domain.ErrNotFound)
	}
	return nil
}

// IsSupported reports whether the asset is registered.
func (s *AssetStore) IsSupported(ctx context.Context, asset common.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM supported_assets WHERE address = $1)", asset.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check asset %s: %w", asset.Hex(), err)
	}
	return exists, nil
}

// List returns all registered assets keyed by address.
func (s *AssetStore) List(ctx context.Context) (map[common.Address]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT address, symbol FROM supported_assets")
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Address]string)
	for rows.Next() {
		var address, symbol string
		if err := rows.Scan(&address, &symbol); err != nil {
			return nil, err
		}
		out[common.HexToAddress(address)] = symbol
	}
	return out, rows.Err()
}

// SettingsStore implements domain.SettingsStore on a single-row table.
type SettingsStore struct {
	pool     *pgxpool.Pool
	defaults domain.Settings
}

// NewSettingsStore creates a SettingsStore. defaults fill in when no row has
// been written yet.
func NewSettingsStore(pool *pgxpool.Pool, defaults domain.Settings) *SettingsStore {
	return &SettingsStore{pool: pool, defaults: defaults}
}

// Get returns the stored settings, or the defaults before first Put.
func (s *SettingsStore) Get(ctx context.Context) (domain.Settings, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT default_slippage_bps, batch_size, poll_interval_ms, updated_at FROM settings WHERE id = 1")

	var out domain.Settings
	var pollMs int64
	err := row.Scan(&out.DefaultSlippageBps, &out.BatchSize, &pollMs, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}
	out.PollInterval = time.Duration(pollMs) * time.Millisecond
	return out, nil
}

// Put replaces the stored settings.
func (s *SettingsStore) Put(ctx context.Context, v domain.Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, default_slippage_bps, batch_size, poll_interval_ms, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			default_slippage_bps = EXCLUDED.default_slippage_bps,
			batch_size = EXCLUDED.batch_size,
			poll_interval_ms = EXCLUDED.poll_interval_ms,
			updated_at = NOW()`,
		v.DefaultSlippageBps, v.BatchSize, v.PollInterval.Milliseconds())
	if err != nil {
		return fmt.Errorf("postgres: put settings: %w", err)
	}
	return nil
}

// AuditStore implements domain.AuditStore as an append-only table.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO audit_log (event, detail) VALUES ($1, $2)", event, payload); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		"SELECT id, event, detail, created_at FROM audit_log ORDER BY id DESC LIMIT $1 OFFSET $2",
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("postgres: audit detail: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ domain.ChainStore    = (*ChainStore)(nil)
	_ domain.AssetStore    = (*AssetStore)(nil)
	_ domain.SettingsStore = (*SettingsStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)
