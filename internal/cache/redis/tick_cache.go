package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// TickCache implements domain.TickCache using Redis hashes. Each pool's last
// observed tick lives at "tick:{pool}" with fields "tick" and "ts" (Unix
// nanoseconds). The cache feeds dashboards; the monitor always reads the
// pool directly.
type TickCache struct {
	rdb *redis.Client
}

// NewTickCache creates a TickCache backed by the given Client.
func NewTickCache(c *Client) *TickCache {
	return &TickCache{rdb: c.Underlying()}
}

func tickKey(pool common.Address) string {
	return "tick:" + pool.Hex()
}

// SetTick stores the last observed tick and timestamp for a pool.
func (tc *TickCache) SetTick(ctx context.Context, pool common.Address, tick int32, ts time.Time) error {
	fields := map[string]interface{}{
		"tick": strconv.FormatInt(int64(tick), 10),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := tc.rdb.HSet(ctx, tickKey(pool), fields).Err(); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", pool.Hex(), err)
	}
	return nil
}

// GetTick retrieves the last observed tick and its timestamp for a pool. It
// returns domain.ErrNotFound when the pool has never been observed.
func (tc *TickCache) GetTick(ctx context.Context, pool common.Address) (int32, time.Time, error) {
	vals, err := tc.rdb.HGetAll(ctx, tickKey(pool)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get tick %s: %w", pool.Hex(), err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	tickStr, ok := vals["tick"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tick, err := strconv.ParseInt(tickStr, 10, 32)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse tick %s: %w", pool.Hex(), err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse tick ts %s: %w", pool.Hex(), err)
	}

	return int32(tick), time.Unix(0, tsNano), nil
}

var _ domain.TickCache = (*TickCache)(nil)
