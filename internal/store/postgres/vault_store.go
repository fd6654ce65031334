package postgres

import (
	"context"
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

// BalanceStore implements domain.BalanceStore using PostgreSQL. The CHECK
// constraint and the conditional debit together keep balances non-negative
// under concurrent writers.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get fetches one (user, asset) balance.
func (s *BalanceStore) Get(ctx context.Context, user, asset common.Address) (domain.UserBalance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT amount::text, updated_at
		FROM balances WHERE user_addr = $1 AND asset = $2`,
		user.Hex(), asset.Hex())

	var amount string
	var updatedAt time.Time
	err := row.Scan(&amount, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserBalance{}, fmt.Errorf("postgres: balance %s/%s: %w", user.Hex(), asset.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("postgres: get balance: %w", err)
	}

	v, err := parseBig(amount)
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("postgres: balance amount: %w", err)
	}
	return domain.UserBalance{User: user, Asset: asset, Amount: v, UpdatedAt: updatedAt}, nil
}

// Credit adds amount to the balance, creating the row on first deposit.
func (s *BalanceStore) Credit(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balances (user_addr, asset, amount, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (user_addr, asset)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		user.Hex(), asset.Hex(), bigText(amount))
	if err != nil {
		return fmt.Errorf("postgres: credit %s/%s: %w", user.Hex(), asset.Hex(), err)
	}
	return nil
}

// Debit subtracts amount only when the stored balance covers it.
func (s *BalanceStore) Debit(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balances
		SET amount = amount - $3::numeric, updated_at = NOW()
		WHERE user_addr = $1 AND asset = $2 AND amount >= $3::numeric`,
		user.Hex(), asset.Hex(), bigText(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %s/%s: %w", user.Hex(), asset.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s/%s: %w", user.Hex(), asset.Hex(), domain.ErrInsufficientFunds)
	}
	return nil
}

// ListByUser lists all balances of one user.
func (s *BalanceStore) ListByUser(ctx context.Context, user common.Address) ([]domain.UserBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset, amount::text, updated_at
		FROM balances WHERE user_addr = $1 ORDER BY asset`,
		user.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.UserBalance
	for rows.Next() {
		var asset, amount string
		var updatedAt time.Time
		if err := rows.Scan(&asset, &amount, &updatedAt); err != nil {
			return nil, err
		}
		v, err := parseBig(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: balance amount: %w", err)
		}
		out = append(out, domain.UserBalance{
			User:      user,
			Asset:     common.HexToAddress(asset),
			Amount:    v,
			UpdatedAt: updatedAt,
		})
	}
	return out, rows.Err()
}

// HomePositionStore implements domain.HomePositionStore using PostgreSQL.
type HomePositionStore struct {
	pool *pgxpool.Pool
}

// NewHomePositionStore creates a HomePositionStore backed by the given pool.
func NewHomePositionStore(pool *pgxpool.Pool) *HomePositionStore {
	return &HomePositionStore{pool: pool}
}

const homePositionCols = `correlation_id, user_addr, asset, amount::text,
	dest_chain_id, status, returned_amount::text, created_at, closed_at`

func scanHomePosition(row pgx.Row) (domain.HomePosition, error) {
	var p domain.HomePosition
	var user, asset, amount, status string
	var returned *string

	err := row.Scan(&p.CorrelationID, &user, &asset, &amount,
		&p.DestChainID, &status, &returned, &p.CreatedAt, &p.ClosedAt)
	if err != nil {
		return domain.HomePosition{}, err
	}
	p.User = common.HexToAddress(user)
	p.Asset = common.HexToAddress(asset)
	p.Status = domain.HomePositionStatus(status)
	if p.Amount, err = parseBig(amount); err != nil {
		return domain.HomePosition{}, fmt.Errorf("amount: %w", err)
	}
	if returned != nil {
		if p.ReturnedAmount, err = parseBig(*returned); err != nil {
			return domain.HomePosition{}, fmt.Errorf("returned amount: %w", err)
		}
	}
	return p, nil
}

// Create inserts a home position record.
func (s *HomePositionStore) Create(ctx context.Context, p domain.HomePosition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO home_positions (correlation_id, user_addr, asset, amount, dest_chain_id, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		p.CorrelationID, p.User.Hex(), p.Asset.Hex(), bigText(p.Amount), p.DestChainID, string(p.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: home position %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
		}
		return fmt.Errorf("postgres: create home position %s: %w", p.CorrelationID, err)
	}
	return nil
}

// Get fetches a home position by correlation id.
func (s *HomePositionStore) Get(ctx context.Context, correlationID string) (domain.HomePosition, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+homePositionCols+" FROM home_positions WHERE correlation_id = $1", correlationID)
	p, err := scanHomePosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HomePosition{}, fmt.Errorf("postgres: home position %s: %w", correlationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.HomePosition{}, fmt.Errorf("postgres: get home position %s: %w", correlationID, err)
	}
	return p, nil
}

// CloseIf moves the record to next only when its status is expected,
// recording the returned amount. A redelivered close loses with
// ErrAlreadyClaimed.
func (s *HomePositionStore) CloseIf(ctx context.Context, correlationID string, expected, next domain.HomePositionStatus, returned *big.Int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE home_positions
		SET status = $3, returned_amount = $4::numeric, closed_at = NOW()
		WHERE correlation_id = $1 AND status = $2`,
		correlationID, string(expected), string(next), bigText(returned))
	if err != nil {
		return fmt.Errorf("postgres: close home position %s: %w", correlationID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM home_positions WHERE correlation_id = $1)", correlationID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: close home position %s: %w", correlationID, err)
		}
		if !exists {
			return fmt.Errorf("postgres: home position %s: %w", correlationID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: home position %s: %w", correlationID, domain.ErrAlreadyClaimed)
	}
	return nil
}

// Delete removes a home position record.
func (s *HomePositionStore) Delete(ctx context.Context, correlationID string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM home_positions WHERE correlation_id = $1", correlationID)
	if err != nil {
		return fmt.Errorf("postgres: delete home position %s: %w", correlationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: home position %s: %w", correlationID, domain.ErrNotFound)
	}
	return nil
}

// ListOpen lists a user's still-invested records, oldest first.
func (s *HomePositionStore) ListOpen(ctx context.Context, user common.Address) ([]domain.HomePosition, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+homePositionCols+" FROM home_positions WHERE user_addr = $1 AND status = $2 ORDER BY created_at",
		user.Hex(), string(domain.HomePositionStatusInvested))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open home positions: %w", err)
	}
	defer rows.Close()

	var out []domain.HomePosition
	for rows.Next() {
		p, err := scanHomePosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ domain.BalanceStore      = (*BalanceStore)(nil)
	_ domain.HomePositionStore = (*HomePositionStore)(nil)
)
