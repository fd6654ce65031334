package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// archiveBatch caps how many terminal positions one archive pass snapshots.
const archiveBatch = 5000

// PositionArchiveStore is the read surface the archiver needs from the
// position store: terminal rows that entered their final status at or after
// a point in time.
type PositionArchiveStore interface {
	ListTerminalSince(ctx context.Context, since time.Time, limit int) ([]domain.Position, error)
}

// Archiver periodically snapshots terminal positions to cold storage as
// JSONL. Rows are never deleted from the primary store; the archive exists
// so the needs-attention queue and dashboards can be truncated by retention
// policy without losing history.
type Archiver struct {
	writer    domain.BlobWriter
	positions PositionArchiveStore
	audit     domain.AuditStore
	logger    *slog.Logger

	lastRun time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, positions PositionArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePositions snapshots positions that reached a terminal status at or
// after since, uploads them to archive/positions/YYYY-MM-DD.jsonl, and
// records the event in the audit log. Returns the number of archived rows.
func (a *Archiver) ArchivePositions(ctx context.Context, since time.Time) (int64, error) {
	rows, err := a.positions.ListTerminalSince(ctx, since, archiveBatch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", time.Now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":  path,
		"count": count,
		"since": since.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}
	return count, nil
}

// Run archives on a fixed interval until the context is cancelled. Each pass
// covers positions finalized since the previous successful pass; errors are
// logged and the next tick retries the same window.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	a.lastRun = time.Now().UTC().Add(-interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now().UTC()
			count, err := a.ArchivePositions(ctx, a.lastRun)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
				continue
			}
			a.lastRun = start
			if count > 0 {
				a.logger.InfoContext(ctx, "archive pass complete", slog.Int64("count", count))
			}
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by day.
//
//	archive/positions/2026-09-01.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
