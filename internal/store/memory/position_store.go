package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// PositionArena holds destination-side positions and their pending
// counterparts under a single mutex, so promoting a pending position into an
// active one is atomic. Local ids are dense and never reused.
type PositionArena struct {
	mu       sync.Mutex
	nextID   int64
	byLocal  map[int64]domain.Position
	byCorr   map[string]int64
	pendings map[string]domain.PendingPosition
}

// NewPositionArena creates an empty arena. Local ids start at 1.
func NewPositionArena() *PositionArena {
	return &PositionArena{
		nextID:   1,
		byLocal:  make(map[int64]domain.Position),
		byCorr:   make(map[string]int64),
		pendings: make(map[string]domain.PendingPosition),
	}
}

// --- domain.PendingStore ---

func (a *PositionArena) Create(ctx context.Context, p domain.PendingPosition) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pendings[p.CorrelationID]; ok {
		return fmt.Errorf("memory: pending %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
	}
	if _, ok := a.byCorr[p.CorrelationID]; ok {
		return fmt.Errorf("memory: pending %s: %w", p.CorrelationID, domain.ErrDuplicateCorrelation)
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = now()
	}
	a.pendings[p.CorrelationID] = p
	return nil
}

func (a *PositionArena) Get(ctx context.Context, correlationID string) (domain.PendingPosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pendings[correlationID]
	if !ok {
		return domain.PendingPosition{}, fmt.Errorf("memory: pending %s: %w", correlationID, domain.ErrPendingNotFound)
	}
	return p, nil
}

func (a *PositionArena) Delete(ctx context.Context, correlationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pendings[correlationID]; !ok {
		return fmt.Errorf("memory: pending %s: %w", correlationID, domain.ErrPendingNotFound)
	}
	delete(a.pendings, correlationID)
	return nil
}

func (a *PositionArena) List(ctx context.Context, limit int) ([]domain.PendingPosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.PendingPosition, 0, len(a.pendings))
	for _, p := range a.pendings {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- domain.PositionStore ---

func (a *PositionArena) CreateFromPending(ctx context.Context, pos domain.Position) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pendings[pos.CorrelationID]; !ok {
		return 0, fmt.Errorf("memory: promote %s: %w", pos.CorrelationID, domain.ErrPendingNotFound)
	}
	if _, ok := a.byCorr[pos.CorrelationID]; ok {
		return 0, fmt.Errorf("memory: promote %s: %w", pos.CorrelationID, domain.ErrDuplicateCorrelation)
	}

	pos.LocalID = a.nextID
	a.nextID++
	ts := now()
	pos.CreatedAt = ts
	pos.UpdatedAt = ts

	a.byLocal[pos.LocalID] = pos
	a.byCorr[pos.CorrelationID] = pos.LocalID
	delete(a.pendings, pos.CorrelationID)
	return pos.LocalID, nil
}

func (a *PositionArena) GetByLocalID(ctx context.Context, localID int64) (domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.byLocal[localID]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %d: %w", localID, domain.ErrPositionNotFound)
	}
	return pos, nil
}

func (a *PositionArena) GetByCorrelationID(ctx context.Context, correlationID string) (domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.byCorr[correlationID]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", correlationID, domain.ErrPositionNotFound)
	}
	return a.byLocal[id], nil
}

func (a *PositionArena) ListByStatus(ctx context.Context, status domain.PositionStatus, limit int) ([]domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.Position
	for _, id := range a.sortedIDs() {
		pos := a.byLocal[id]
		if pos.Status == status {
			out = append(out, pos)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (a *PositionArena) ListByStatuses(ctx context.Context, statuses []domain.PositionStatus) ([]domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := make(map[domain.PositionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.Position
	for _, id := range a.sortedIDs() {
		if pos := a.byLocal[id]; want[pos.Status] {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (a *PositionArena) ListTerminalSince(ctx context.Context, since time.Time, limit int) ([]domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.Position
	for _, id := range a.sortedIDs() {
		pos := a.byLocal[id]
		if pos.Status.Terminal() && pos.UpdatedAt.After(since) {
			out = append(out, pos)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (a *PositionArena) UpdateStatusIf(ctx context.Context, localID int64, next domain.PositionStatus, expected ...domain.PositionStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.byLocal[localID]
	if !ok {
		return fmt.Errorf("memory: position %d: %w", localID, domain.ErrPositionNotFound)
	}
	for _, exp := range expected {
		if pos.Status == exp {
			pos.Status = next
			pos.UpdatedAt = now()
			a.byLocal[localID] = pos
			return nil
		}
	}
	return fmt.Errorf("memory: position %d is %s: %w", localID, pos.Status, domain.ErrAlreadyClaimed)
}

func (a *PositionArena) SetFailReason(ctx context.Context, localID int64, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.byLocal[localID]
	if !ok {
		return fmt.Errorf("memory: position %d: %w", localID, domain.ErrPositionNotFound)
	}
	pos.FailReason = reason
	pos.UpdatedAt = now()
	a.byLocal[localID] = pos
	return nil
}

// sortedIDs returns local ids in ascending order. Callers must hold mu.
func (a *PositionArena) sortedIDs() []int64 {
	ids := make([]int64, 0, len(a.byLocal))
	for id := range a.byLocal {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Compile-time interface checks.
var (
	_ domain.PositionStore = (*PositionArena)(nil)
	_ domain.PendingStore  = (*PositionArena)(nil)
)
