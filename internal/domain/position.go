// Package domain defines the core types, sentinel errors, and the store and
// capability interfaces shared by the home-vault, executor, settlement and
// monitoring components.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus is the lifecycle state of a destination-side liquidity
// position. Transitions form a DAG; terminal states are never left.
type PositionStatus string

const (
	PositionStatusActive      PositionStatus = "active"
	PositionStatusOutOfRange  PositionStatus = "out_of_range"
	PositionStatusLiquidating PositionStatus = "liquidating"
	PositionStatusLiquidated  PositionStatus = "liquidated"
	PositionStatusFailed      PositionStatus = "failed"
	PositionStatusCancelled   PositionStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s PositionStatus) Terminal() bool {
	switch s {
	case PositionStatusLiquidated, PositionStatusFailed, PositionStatusCancelled:
		return true
	}
	return false
}

// Liquidatable reports whether a position in this status may be claimed for
// liquidation.
func (s PositionStatus) Liquidatable() bool {
	return s == PositionStatusActive || s == PositionStatusOutOfRange
}

// Position is the authoritative record of an opened liquidity position on the
// destination ledger. LocalID is assigned densely by the store and never
// reused; CorrelationID links the position back to the originating home-ledger
// deposit and is unique across all positions.
type Position struct {
	LocalID       int64          `json:"local_id"`
	CorrelationID string         `json:"correlation_id"`
	Owner         common.Address `json:"owner"`
	Pool          common.Address `json:"pool"`
	Token0        common.Address `json:"token0"`
	Token1        common.Address `json:"token1"`
	BaseAsset     common.Address `json:"base_asset"`
	HomeChainID   uint64         `json:"home_chain_id"`
	BottomTick    int32          `json:"bottom_tick"`
	TopTick       int32          `json:"top_tick"`
	EntryTick     int32          `json:"entry_tick"`
	Liquidity     *big.Int       `json:"liquidity"`
	Handle        *big.Int       `json:"handle"` // opaque token id returned by the pool manager on mint
	Status        PositionStatus `json:"status"`
	FailReason    string         `json:"fail_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PendingPosition exists between instruction receipt and execution (or
// cancellation). At most one pending position exists per correlation id.
type PendingPosition struct {
	CorrelationID string           `json:"correlation_id"`
	Asset         common.Address   `json:"asset"`
	Amount        *big.Int         `json:"amount"`
	Owner         common.Address   `json:"owner"`
	Params        InvestmentParams `json:"params"`
	ReceivedAt    time.Time        `json:"received_at"`
}

// BreachDirection classifies a range breach relative to the position's entry
// tick. It affects observability only, never the liquidation mechanics.
type BreachDirection string

const (
	BreachNone       BreachDirection = "none"
	BreachTakeProfit BreachDirection = "take_profit"
	BreachStopLoss   BreachDirection = "stop_loss"
)

// NeedsAttentionStatuses are the statuses surfaced to operators for manual
// review: liquidation failures and breached-but-not-yet-liquidated positions.
var NeedsAttentionStatuses = []PositionStatus{PositionStatusFailed, PositionStatusOutOfRange}
