package domain

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MintRequest describes a liquidity mint over a tick interval.
type MintRequest struct {
	Pool           common.Address
	Token0         common.Address
	Token1         common.Address
	BottomTick     int32
	TopTick        int32
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
}

// MintResult is the pool manager's response to a mint: the opaque position
// handle, the liquidity actually minted, and the amounts consumed.
type MintResult struct {
	Handle    *big.Int
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// Pool is the consumed AMM capability: price observation, quoting, swapping,
// and position mint/burn/collect. Implementations talk to the concrete pool
// engine; the rest of the system never sees pool internals.
type Pool interface {
	CurrentTick(ctx context.Context, pool common.Address) (int32, error)
	TickSpacing(ctx context.Context, pool common.Address) (int32, error)
	Tokens(ctx context.Context, pool common.Address) (token0, token1 common.Address, err error)
	Quote(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn, minOut, limitPrice *big.Int) (*big.Int, error)
	Mint(ctx context.Context, req MintRequest) (MintResult, error)
	Burn(ctx context.Context, pool common.Address, handle *big.Int) (amount0, amount1 *big.Int, err error)
	Collect(ctx context.Context, pool common.Address, handle *big.Int) (fee0, fee1 *big.Int, err error)
	// Balance reports the executor's holdings of an asset on the
	// destination ledger. Used to verify post-swap coverage before a mint.
	Balance(ctx context.Context, asset common.Address) (*big.Int, error)
}

// Transport is the consumed cross-ledger message channel. Dispatch makes at
// most one delivery attempt and returns a local message reference; there is
// no delivery confirmation, and an error does not prove the message went
// undelivered.
type Transport interface {
	Dispatch(ctx context.Context, dest ChainDestination, payload Payload) (messageRef string, err error)
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alerter is the consumed fire-and-forget alerting capability.
type Alerter interface {
	Notify(ctx context.Context, severity Severity, positionID int64, message string) error
}

// RateLimiter provides distributed rate limiting for the operator API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. It guards operator-initiated
// actions against double submission; the correctness mechanism for
// liquidation remains the PositionStore's conditional transition.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// TickCache stores the last observed tick per pool for dashboards.
type TickCache interface {
	SetTick(ctx context.Context, pool common.Address, tick int32, ts time.Time) error
	GetTick(ctx context.Context, pool common.Address) (int32, time.Time, error)
}

// BlobInfo describes one stored archive object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves and enumerates archived objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SignalBus provides pub/sub for position lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
