package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// PositionStore persists destination-side positions. UpdateStatusIf is the
// system's sole concurrency-safety primitive: the write succeeds only when
// the stored status is one of the expected values at the instant of the
// write, and fails with ErrAlreadyClaimed otherwise. Positions are never
// deleted; terminal rows are retained for audit and the needs-attention
// queue.
type PositionStore interface {
	// CreateFromPending atomically inserts the position and removes the
	// pending row sharing its correlation id, assigning the next dense
	// local id.
	CreateFromPending(ctx context.Context, pos Position) (int64, error)
	GetByLocalID(ctx context.Context, localID int64) (Position, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (Position, error)
	ListByStatus(ctx context.Context, status PositionStatus, limit int) ([]Position, error)
	ListByStatuses(ctx context.Context, statuses []PositionStatus) ([]Position, error)
	ListTerminalSince(ctx context.Context, since time.Time, limit int) ([]Position, error)
	UpdateStatusIf(ctx context.Context, localID int64, next PositionStatus, expected ...PositionStatus) error
	SetFailReason(ctx context.Context, localID int64, reason string) error
}

// PendingStore persists pending positions keyed by correlation id. Create
// fails with ErrDuplicateCorrelation when the key is already present; Delete
// fails with ErrPendingNotFound when it is not.
type PendingStore interface {
	Create(ctx context.Context, p PendingPosition) error
	Get(ctx context.Context, correlationID string) (PendingPosition, error)
	Delete(ctx context.Context, correlationID string) error
	List(ctx context.Context, limit int) ([]PendingPosition, error)
}

// BalanceStore persists home-ledger user balances. Debit is conditional: it
// succeeds only when the stored balance covers the amount, and fails with
// ErrInsufficientFunds otherwise, so a balance can never go negative.
type BalanceStore interface {
	Get(ctx context.Context, user, asset common.Address) (UserBalance, error)
	Credit(ctx context.Context, user, asset common.Address, amount *big.Int) error
	Debit(ctx context.Context, user, asset common.Address, amount *big.Int) error
	ListByUser(ctx context.Context, user common.Address) ([]UserBalance, error)
}

// HomePositionStore persists the home-side mirror records of outbound
// investments. CloseIf is conditional on the current status so that proceeds
// credit the depositor exactly once.
type HomePositionStore interface {
	Create(ctx context.Context, p HomePosition) error
	Get(ctx context.Context, correlationID string) (HomePosition, error)
	CloseIf(ctx context.Context, correlationID string, expected, next HomePositionStatus, returned *big.Int) error
	Delete(ctx context.Context, correlationID string) error
	ListOpen(ctx context.Context, user common.Address) ([]HomePosition, error)
}

// ChainStore persists the chain-destination registry. Update and Freeze fail
// with ErrFrozen once the entry has been frozen.
type ChainStore interface {
	Add(ctx context.Context, dest ChainDestination) error
	Update(ctx context.Context, dest ChainDestination) error
	Freeze(ctx context.Context, chainID uint64) error
	Get(ctx context.Context, chainID uint64) (ChainDestination, error)
	List(ctx context.Context) ([]ChainDestination, error)
}

// AssetStore persists the supported-asset set.
type AssetStore interface {
	Add(ctx context.Context, asset common.Address, symbol string) error
	Remove(ctx context.Context, asset common.Address) error
	IsSupported(ctx context.Context, asset common.Address) (bool, error)
	List(ctx context.Context) (map[common.Address]string, error)
}

// Settings are the operator-tunable runtime parameters.
type Settings struct {
	DefaultSlippageBps int64         `json:"default_slippage_bps"` // 0..10000
	BatchSize          int           `json:"batch_size"`
	PollInterval       time.Duration `json:"poll_interval"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// SettingsStore persists runtime settings.
type SettingsStore interface {
	Get(ctx context.Context) (Settings, error)
	Put(ctx context.Context, s Settings) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
