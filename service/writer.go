package service

import (
	"context"
	"fmt"
	"time"

	"campaign-tracker/models"
	"campaign-tracker/store"
)

// statusWriter queues terminal row updates and writes them in groups so a batch
// costs one store round trip per group rather than one per row.
type statusWriter struct {
	store   store.RowStore
	sheet   string
	size    int
	timeout time.Duration
	pending []models.RowUpdate
}

func newStatusWriter(st store.RowStore, sheet string, size int, timeout time.Duration) *statusWriter {
	if size <= 0 {
		size = 1
	}
	return &statusWriter{store: st, sheet: sheet, size: size, timeout: timeout}
}

// Queue adds an update and flushes once the group is full.
func (w *statusWriter) Queue(ctx context.Context, row int, cells map[string]string) error {
	w.pending = append(w.pending, models.RowUpdate{Row: row, Cells: cells})
	if len(w.pending) < w.size {
		return nil
	}
	return w.Flush(ctx)
}

// Flush writes everything queued. It ignores cancellation of ctx: once a send
// has happened its outcome must be recorded. Failed updates stay queued for the
// next flush.
func (w *statusWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	if err := w.store.UpdateCells(ctx, w.sheet, w.pending...); err != nil {
		return fmt.Errorf("failed to write %d status updates to %s: %w", len(w.pending), w.sheet, err)
	}
	w.pending = w.pending[:0]
	return nil
}

// Pending is the number of queued updates.
func (w *statusWriter) Pending() int {
	return len(w.pending)
}
