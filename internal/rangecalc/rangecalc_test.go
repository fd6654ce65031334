package rangecalc

import (
	"errors"
	"testing"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

func TestComputeBounds(t *testing.T) {
	tests := []struct {
		name        string
		currentTick int32
		spacing     int32
		lowerPct    int64
		upperPct    int64
		wantBottom  int32
		wantTop     int32
	}{
		{
			name:        "ten percent band around zero",
			currentTick: 0,
			spacing:     60,
			lowerPct:    -100_000,
			upperPct:    100_000,
			wantBottom:  -1080,
			wantTop:     960,
		},
		{
			name:        "asymmetric band away from zero",
			currentTick: 1000,
			spacing:     10,
			lowerPct:    -50_000,
			upperPct:    20_000,
			wantBottom:  480,
			wantTop:     1200,
		},
		{
			name:        "narrow band collapses and widens by one spacing",
			currentTick: 60,
			spacing:     60,
			lowerPct:    -10,
			upperPct:    10,
			wantBottom:  60,
			wantTop:     120,
		},
		{
			name:        "upper bound rounding onto current tick pushes top out",
			currentTick: 60,
			spacing:     60,
			lowerPct:    -200_000,
			upperPct:    10,
			wantBottom:  -2220,
			wantTop:     120,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bottom, top, err := ComputeBounds(tt.currentTick, tt.spacing, tt.lowerPct, tt.upperPct)
			if err != nil {
				t.Fatalf("ComputeBounds: %v", err)
			}
			if bottom != tt.wantBottom || top != tt.wantTop {
				t.Errorf("ComputeBounds = [%d, %d), want [%d, %d)", bottom, top, tt.wantBottom, tt.wantTop)
			}
		})
	}
}

func TestComputeBoundsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		lowerPct int64
		upperPct int64
	}{
		{"zero lower", 0, 100_000},
		{"positive lower", 50_000, 100_000},
		{"zero upper", -100_000, 0},
		{"negative upper", -100_000, -1},
		{"lower at negative full scale", -domain.PercentScale, 100_000},
		{"lower below negative full scale", -2 * domain.PercentScale, 100_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ComputeBounds(0, 60, tt.lowerPct, tt.upperPct)
			if !errors.Is(err, domain.ErrInvalidRange) {
				t.Errorf("ComputeBounds err = %v, want ErrInvalidRange", err)
			}
		})
	}

	if _, _, err := ComputeBounds(0, 0, -100_000, 100_000); err == nil {
		t.Error("ComputeBounds with zero spacing: want error")
	}
}

// TestComputeBoundsProperties sweeps a grid of valid inputs and checks the
// structural invariants: both bounds are spacing multiples, the interval is
// non-empty, and the current tick lies inside [bottom, top).
func TestComputeBoundsProperties(t *testing.T) {
	spacings := []int32{1, 10, 60, 200}
	currents := []int32{-887220, -50000, -61, -1, 0, 1, 59, 60, 50000, 887220}
	bands := []struct{ lower, upper int64 }{
		{-1, 1},
		{-100, 50},
		{-10_000, 10_000},
		{-100_000, 100_000},
		{-500_000, 1_000_000},
		{-999_999, 2_000_000},
	}

	for _, spacing := range spacings {
		for _, cur := range currents {
			for _, band := range bands {
				bottom, top, err := ComputeBounds(cur, spacing, band.lower, band.upper)
				if err != nil {
					t.Fatalf("ComputeBounds(%d, %d, %d, %d): %v", cur, spacing, band.lower, band.upper, err)
				}
				if bottom >= top {
					t.Fatalf("ComputeBounds(%d, %d, %d, %d): empty interval [%d, %d)", cur, spacing, band.lower, band.upper, bottom, top)
				}
				if bottom%spacing != 0 || top%spacing != 0 {
					t.Fatalf("ComputeBounds(%d, %d, %d, %d): bounds [%d, %d) not aligned to spacing", cur, spacing, band.lower, band.upper, bottom, top)
				}
				if cur < bottom || cur >= top {
					t.Fatalf("ComputeBounds(%d, %d, %d, %d): current tick outside [%d, %d)", cur, spacing, band.lower, band.upper, bottom, top)
				}
			}
		}
	}
}
