package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/store/memory"
)

func newTestLedger() (*Service, *memory.PositionArena) {
	arena := memory.NewPositionArena()
	logger := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(arena, arena, memory.NewAuditLog(), nil, logger), arena
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func pendingFixture(corr string) domain.PendingPosition {
	return domain.PendingPosition{
		CorrelationID: corr,
		Asset:         common.HexToAddress("0x01"),
		Amount:        big.NewInt(100),
		Owner:         common.HexToAddress("0x02"),
		Params: domain.InvestmentParams{
			Pool:          common.HexToAddress("0x03"),
			BaseAsset:     common.HexToAddress("0x01"),
			LowerRangePct: -100_000,
			UpperRangePct: 100_000,
			SlippageBps:   50,
			HomeChainID:   1000,
		},
	}
}

func openPosition(t *testing.T, s *Service, corr string) domain.Position {
	t.Helper()
	ctx := context.Background()

	if err := s.CreatePending(ctx, pendingFixture(corr)); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	pos, err := s.PromoteToActive(ctx, domain.Position{
		CorrelationID: corr,
		Owner:         common.HexToAddress("0x02"),
		Pool:          common.HexToAddress("0x03"),
		BottomTick:    -1080,
		TopTick:       960,
		Liquidity:     big.NewInt(5000),
		Handle:        big.NewInt(7),
	})
	if err != nil {
		t.Fatalf("PromoteToActive: %v", err)
	}
	return pos
}

func TestCreatePendingDuplicateCorrelation(t *testing.T) {
	s, _ := newTestLedger()
	ctx := context.Background()

	if err := s.CreatePending(ctx, pendingFixture("abc")); err != nil {
		t.Fatalf("first CreatePending: %v", err)
	}
	err := s.CreatePending(ctx, pendingFixture("abc"))
	if !errors.Is(err, domain.ErrDuplicateCorrelation) {
		t.Fatalf("second CreatePending err = %v, want ErrDuplicateCorrelation", err)
	}

	// The rejected call must not disturb the pending set.
	pendings, err := s.PendingSet(ctx, 0)
	if err != nil {
		t.Fatalf("PendingSet: %v", err)
	}
	if len(pendings) != 1 {
		t.Fatalf("pending set size = %d, want 1", len(pendings))
	}
}

func TestPromoteAssignsDenseLocalIDs(t *testing.T) {
	s, _ := newTestLedger()

	p1 := openPosition(t, s, "c1")
	p2 := openPosition(t, s, "c2")

	if p1.LocalID != 1 || p2.LocalID != 2 {
		t.Errorf("local ids = %d, %d; want 1, 2", p1.LocalID, p2.LocalID)
	}
	if p1.Status != domain.PositionStatusActive {
		t.Errorf("status = %s, want active", p1.Status)
	}

	// The pending record is consumed by the promotion.
	if _, err := s.Pending(context.Background(), "c1"); !errors.Is(err, domain.ErrPendingNotFound) {
		t.Errorf("Pending after promote err = %v, want ErrPendingNotFound", err)
	}
}

func TestClaimForLiquidationExactlyOnce(t *testing.T) {
	s, _ := newTestLedger()
	pos := openPosition(t, s, "race")
	ctx := context.Background()

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.ClaimForLiquidation(ctx, pos.LocalID)
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrAlreadyClaimed):
			conflicts++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 || conflicts != claimers-1 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and %d", wins, conflicts, claimers-1)
	}
}

func TestClaimFromOutOfRange(t *testing.T) {
	s, _ := newTestLedger()
	pos := openPosition(t, s, "oor")
	ctx := context.Background()

	if err := s.ClaimOutOfRange(ctx, pos.LocalID); err != nil {
		t.Fatalf("ClaimOutOfRange: %v", err)
	}
	// OutOfRange positions are still liquidatable.
	if err := s.ClaimForLiquidation(ctx, pos.LocalID); err != nil {
		t.Fatalf("ClaimForLiquidation from out_of_range: %v", err)
	}
	// A second out-of-range claim loses.
	if err := s.ClaimOutOfRange(ctx, pos.LocalID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("ClaimOutOfRange on liquidating err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestTerminalStatusesAreFinal(t *testing.T) {
	ctx := context.Background()

	terminalVia := map[string]func(*Service, int64) error{
		"liquidated": func(s *Service, id int64) error {
			if err := s.ClaimForLiquidation(ctx, id); err != nil {
				return err
			}
			return s.MarkLiquidated(ctx, id, "100")
		},
		"failed": func(s *Service, id int64) error {
			if err := s.ClaimForLiquidation(ctx, id); err != nil {
				return err
			}
			return s.MarkFailed(ctx, id, "burn reverted")
		},
		"cancelled": func(s *Service, id int64) error {
			return s.MarkCancelled(ctx, id)
		},
	}

	for name, reach := range terminalVia {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestLedger()
			pos := openPosition(t, s, "term-"+name)
			if err := reach(s, pos.LocalID); err != nil {
				t.Fatalf("reach terminal: %v", err)
			}

			moves := []func() error{
				func() error { return s.ClaimOutOfRange(ctx, pos.LocalID) },
				func() error { return s.ClaimForLiquidation(ctx, pos.LocalID) },
				func() error { return s.MarkLiquidated(ctx, pos.LocalID, "1") },
				func() error { return s.MarkFailed(ctx, pos.LocalID, "x") },
				func() error { return s.MarkCancelled(ctx, pos.LocalID) },
			}
			for i, move := range moves {
				if err := move(); !errors.Is(err, domain.ErrAlreadyClaimed) {
					t.Errorf("move %d out of terminal err = %v, want ErrAlreadyClaimed", i, err)
				}
			}
		})
	}
}

func TestNeedsAttention(t *testing.T) {
	s, _ := newTestLedger()
	ctx := context.Background()

	healthy := openPosition(t, s, "healthy")
	breached := openPosition(t, s, "breached")
	failed := openPosition(t, s, "failed")

	if err := s.ClaimOutOfRange(ctx, breached.LocalID); err != nil {
		t.Fatalf("ClaimOutOfRange: %v", err)
	}
	if err := s.ClaimForLiquidation(ctx, failed.LocalID); err != nil {
		t.Fatalf("ClaimForLiquidation: %v", err)
	}
	if err := s.MarkFailed(ctx, failed.LocalID, "dispatch failed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	attention, err := s.NeedsAttention(ctx)
	if err != nil {
		t.Fatalf("NeedsAttention: %v", err)
	}
	if len(attention) != 2 {
		t.Fatalf("needs attention size = %d, want 2", len(attention))
	}
	for _, pos := range attention {
		if pos.LocalID == healthy.LocalID {
			t.Errorf("healthy position %d should not need attention", healthy.LocalID)
		}
	}

	got, err := s.ByLocalID(ctx, failed.LocalID)
	if err != nil {
		t.Fatalf("ByLocalID: %v", err)
	}
	if got.FailReason != "dispatch failed" {
		t.Errorf("fail reason = %q, want %q", got.FailReason, "dispatch failed")
	}
}

func TestActiveSetBounded(t *testing.T) {
	s, _ := newTestLedger()

	for _, corr := range []string{"a", "b", "c", "d"} {
		openPosition(t, s, corr)
	}
	active, err := s.ActiveSet(context.Background(), 2)
	if err != nil {
		t.Fatalf("ActiveSet: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("batch size = %d, want 2", len(active))
	}
}
