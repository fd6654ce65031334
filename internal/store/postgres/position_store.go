package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// PositionStore implements domain.PositionStore and domain.PendingStore on a
// shared pool, so CreateFromPending can span both tables in one transaction.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Amounts are NUMERIC(78,0) in the schema; they cross the wire as text so the
// driver never has to map numeric onto a Go type.
const positionSelectCols = `local_id, correlation_id, owner_addr, pool, token0, token1,
	base_asset, home_chain_id, bottom_tick, top_tick, entry_tick,
	liquidity::text, handle::text, status, fail_reason, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var owner, pool, token0, token1, baseAsset, liquidity, handle, status string

	err := row.Scan(
		&p.LocalID, &p.CorrelationID, &owner, &pool, &token0, &token1,
		&baseAsset, &p.HomeChainID, &p.BottomTick, &p.TopTick, &p.EntryTick,
		&liquidity, &handle, &status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Owner = common.HexToAddress(owner)
	p.Pool = common.HexToAddress(pool)
	p.Token0 = common.HexToAddress(token0)
	p.Token1 = common.HexToAddress(token1)
	p.BaseAsset = common.HexToAddress(baseAsset)
	p.Status = domain.PositionStatus(status)
	if p.Liquidity, err = parseBig(liquidity); err != nil {
		return domain.Position{}, fmt.Errorf("liquidity: %w", err)
	}
	if p.Handle, err = parseBig(handle); err != nil {
		return domain.Position{}, fmt.Errorf("handle: %w", err)
	}
	return p, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed numeric %q", s)
	}
	return v, nil
}

// CreateFromPending inserts the position and deletes the pending row sharing
// its correlation id in one transaction, returning the assigned local id.
func (s *PositionStore) CreateFromPending(ctx context.Context, p domain.Position) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin promote: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"DELETE FROM pending_positions WHERE correlation_id = $1", p.CorrelationID)
	if err != nil {
		return 0, fmt.Errorf("postgres: consume pending %s: %w", p.CorrelationID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("postgres: promote %s: %w", p.CorrelationID, domain.ErrPendingNotFound)
	}

	const insert = `
		INSERT INTO positions (
			correlation_id, owner_addr, pool, token0, token1, base_asset,
			home_chain_id, bottom_tick, top_tick, entry_tick,
			liquidity, handle, status
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11::numeric, $12::numeric, $13
		) RETURNING local_id`

	var localID int64
	err = tx.QueryRow(ctx, insert,
		p.CorrelationID, p.Owner.Hex(), p.Pool.Hex(), p.Token0.Hex(), p.Token1.Hex(), p.BaseAsset.Hex(),
		p.HomeChainID, p.BottomTick, p.TopTick, p.EntryTick,
		bigText(p.Liquidity), bigText(p.Handle), string(p.Status),
	).Scan(&localID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("postgres: promote %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
		}
		return 0, fmt.Errorf("postgres: insert position %s: %w", p.CorrelationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit promote %s: %w", p.CorrelationID, err)
	}
	return localID, nil
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// GetByLocalID fetches a position by its local id.
func (s *PositionStore) GetByLocalID(ctx context.Context, localID int64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE local_id = $1", localID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %d: %w", localID, domain.ErrPositionNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", localID, err)
	}
	return p, nil
}

// GetByCorrelationID fetches a position by correlation id.
func (s *PositionStore) GetByCorrelationID(ctx context.Context, correlationID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE correlation_id = $1", correlationID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", correlationID, domain.ErrPositionNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", correlationID, err)
	}
	return p, nil
}

// ListByStatus lists positions in a status, oldest first, up to limit
// (0 = no limit).
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, limit int) ([]domain.Position, error) {
	query := "SELECT " + positionSelectCols + " FROM positions WHERE status = $1 ORDER BY local_id"
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListByStatuses lists positions in any of the given statuses, oldest first.
func (s *PositionStore) ListByStatuses(ctx context.Context, statuses []domain.PositionStatus) ([]domain.Position, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE status = ANY($1) ORDER BY local_id", names)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by statuses: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListTerminalSince lists positions that reached a terminal status at or
// after since.
func (s *PositionStore) ListTerminalSince(ctx context.Context, since time.Time, limit int) ([]domain.Position, error) {
	terminal := []string{
		string(domain.PositionStatusLiquidated),
		string(domain.PositionStatusFailed),
		string(domain.PositionStatusCancelled),
	}
	query := "SELECT " + positionSelectCols + " FROM positions WHERE status = ANY($1) AND updated_at >= $2 ORDER BY updated_at"
	args := []any{terminal, since}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateStatusIf moves the position to next only when its stored status is
// one of expected at the instant of the write. A losing racer gets
// ErrAlreadyClaimed.
func (s *PositionStore) UpdateStatusIf(ctx context.Context, localID int64, next domain.PositionStatus, expected ...domain.PositionStatus) error {
	names := make([]string, len(expected))
	for i, st := range expected {
		names[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE positions SET status = $2, updated_at = NOW() WHERE local_id = $1 AND status = ANY($3)",
		localID, string(next), names)
	if err != nil {
		return fmt.Errorf("postgres: transition position %d: %w", localID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE local_id = $1)", localID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: transition position %d: %w", localID, err)
		}
		if !exists {
			return fmt.Errorf("postgres: position %d: %w", localID, domain.ErrPositionNotFound)
		}
		return fmt.Errorf("postgres: transition position %d to %s: %w", localID, next, domain.ErrAlreadyClaimed)
	}
	return nil
}

// SetFailReason records why a position failed.
func (s *PositionStore) SetFailReason(ctx context.Context, localID int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE positions SET fail_reason = $2, updated_at = NOW() WHERE local_id = $1",
		localID, reason)
	if err != nil {
		return fmt.Errorf("postgres: set fail reason %d: %w", localID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %d: %w", localID, domain.ErrPositionNotFound)
	}
	return nil
}

// Create inserts a pending position.
func (s *PositionStore) Create(ctx context.Context, p domain.PendingPosition) error {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal params %s: %w", p.CorrelationID, err)
	}

	// The guard subquery keeps an already-promoted correlation id from
	// re-entering the pending set and executing twice.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pending_positions (correlation_id, asset, amount, owner_addr, params)
		SELECT $1, $2, $3::numeric, $4, $5
		WHERE NOT EXISTS (SELECT 1 FROM positions WHERE correlation_id = $1)`,
		p.CorrelationID, p.Asset.Hex(), bigText(p.Amount), p.Owner.Hex(), params)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: pending %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
		}
		return fmt.Errorf("postgres: create pending %s: %w", p.CorrelationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pending %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
	}
	return nil
}

// Get fetches a pending position by correlation id.
func (s *PositionStore) Get(ctx context.Context, correlationID string) (domain.PendingPosition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT correlation_id, asset, amount::text, owner_addr, params, received_at
		FROM pending_positions WHERE correlation_id = $1`, correlationID)

	p, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingPosition{}, fmt.Errorf("postgres: pending %s: %w", correlationID, domain.ErrPendingNotFound)
	}
	if err != nil {
		return domain.PendingPosition{}, fmt.Errorf("postgres: get pending %s: %w", correlationID, err)
	}
	return p, nil
}

// Delete removes a pending position.
func (s *PositionStore) Delete(ctx context.Context, correlationID string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM pending_positions WHERE correlation_id = $1", correlationID)
	if err != nil {
		return fmt.Errorf("postgres: delete pending %s: %w", correlationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pending %s: %w", correlationID, domain.ErrPendingNotFound)
	}
	return nil
}

// List returns pending positions oldest first, up to limit (0 = no limit).
func (s *PositionStore) List(ctx context.Context, limit int) ([]domain.PendingPosition, error) {
	query := `
		SELECT correlation_id, asset, amount::text, owner_addr, params, received_at
		FROM pending_positions ORDER BY received_at`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingPosition
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPending(row pgx.Row) (domain.PendingPosition, error) {
	var p domain.PendingPosition
	var asset, amount, owner string
	var params []byte

	if err := row.Scan(&p.CorrelationID, &asset, &amount, &owner, &params, &p.ReceivedAt); err != nil {
		return domain.PendingPosition{}, err
	}
	p.Asset = common.HexToAddress(asset)
	p.Owner = common.HexToAddress(owner)

	var err error
	if p.Amount, err = parseBig(amount); err != nil {
		return domain.PendingPosition{}, fmt.Errorf("amount: %w", err)
	}
	if err := json.Unmarshal(params, &p.Params); err != nil {
		return domain.PendingPosition{}, fmt.Errorf("params: %w", err)
	}
	return p, nil
}

var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.PendingStore  = (*PositionStore)(nil)
)
