// Package rangecalc converts human percentage bands into pool-aligned tick
// bounds for concentrated-liquidity positions.
package rangecalc

import (
	"fmt"
	"math"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// tickBase is the per-tick price ratio of the pool's logarithmic coordinate
// system: price(tick) = 1.0001^tick.
const tickBase = 1.0001

// ComputeBounds maps a percentage band around the current price to a
// [bottomTick, topTick) interval aligned to the pool's tick spacing.
//
// Percent values use domain.PercentScale (1e6 = 100%). Each bound's price
// ratio is 1 + pct/1e6; the tick offset from the current tick is
// log_1.0001 of that ratio (the square root of the ratio is the sqrt-price
// multiplier, and ticks are log-sqrt-price coordinates, so the two
// formulations coincide). Each bound is mapped to its nearest tick, then the
// lower bound rounds down to a spacing multiple and the upper bound rounds
// up, so a non-empty range always contains the current price. If rounding
// collapses the interval, the upper bound is widened by exactly one spacing
// increment.
func ComputeBounds(currentTick, tickSpacing int32, lowerPct, upperPct int64) (bottomTick, topTick int32, err error) {
	if tickSpacing <= 0 {
		return 0, 0, fmt.Errorf("rangecalc: tick spacing %d must be positive", tickSpacing)
	}
	if lowerPct >= 0 || upperPct <= 0 {
		return 0, 0, fmt.Errorf("%w: band [%d, %d] must straddle the current price", domain.ErrInvalidRange, lowerPct, upperPct)
	}
	if lowerPct <= -domain.PercentScale {
		return 0, 0, fmt.Errorf("%w: lower bound %d implies a non-positive price", domain.ErrInvalidRange, lowerPct)
	}

	cur := int64(currentTick)
	spacing := int64(tickSpacing)

	lowerTick := int64(math.Round(float64(cur) + tickOffset(lowerPct)))
	upperTick := int64(math.Round(float64(cur) + tickOffset(upperPct)))

	bottom := floorToSpacing(lowerTick, spacing)
	top := ceilToSpacing(upperTick, spacing)

	// Very narrow band relative to spacing: keep the range non-empty.
	if bottom == top {
		top += spacing
	}
	// A sub-spacing upper offset can round onto the current tick itself;
	// the interval is half-open, so push the top out one increment.
	if top <= cur {
		top += spacing
	}

	return int32(bottom), int32(top), nil
}

// tickOffset is the signed tick distance equivalent to a percentage move:
// log_1.0001(1 + pct/1e6).
func tickOffset(pct int64) float64 {
	return math.Log1p(float64(pct)/domain.PercentScale) / math.Log(tickBase)
}

func floorToSpacing(tick, spacing int64) int64 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

func ceilToSpacing(tick, spacing int64) int64 {
	q := tick / spacing
	if tick%spacing != 0 && tick > 0 {
		q++
	}
	return q * spacing
}
