package executor

import (
	"sync"
	"time"
)

// Dedup is a process-local fast path that rejects redelivered instructions
// within a time-to-live window without a store round trip. It is advisory
// only; the pending store's unique correlation-id constraint remains the
// authoritative duplicate check. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // correlationID -> recorded time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers correlation ids for the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether the correlation id was recorded within the TTL window.
func (d *Dedup) Seen(correlationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.seen[correlationID]
	return ok && time.Since(last) < d.ttl
}

// Record marks a correlation id as processed. Called only after the pending
// position has been persisted, so a failed receive can be retried.
func (d *Dedup) Record(correlationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[correlationID] = time.Now()
}

// Cleanup removes entries older than the TTL. Call periodically to prevent
// unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
