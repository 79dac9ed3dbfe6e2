// Package store abstracts the shared tabular store that the dispatcher and the
// open-tracking receiver rendezvous through.
package store

import (
	"context"

	"campaign-tracker/models"
)

// RowStore is the narrow interface the tracking and dispatch logic depend on.
type RowStore interface {
	// GetRow returns the campaign row at the 1-based sheet position. It returns
	// models.ErrRowNotFound for the header row, blank rows and rows past the end.
	GetRow(ctx context.Context, sheet string, row int) (*models.CampaignRow, error)

	// ListPendingRows returns every row whose send status is unset, in sheet order.
	ListPendingRows(ctx context.Context, sheet string) ([]*models.CampaignRow, error)

	// UpdateCells applies all updates in as few round trips as the backend allows.
	UpdateCells(ctx context.Context, sheet string, updates ...models.RowUpdate) error

	// Records returns the non-blank rows of an arbitrary sheet keyed by header.
	Records(ctx context.Context, sheet string) ([]map[string]string, error)

	Close() error
}

// ConditionalWriter is implemented by stores that can perform single-row
// compare-and-swap updates. Callers fall back to a lock around read-then-write
// when a store does not implement it.
type ConditionalWriter interface {
	// MarkOpened sets Open? and Open Timestamp only if the row is sent and not yet
	// opened. It reports whether the write happened.
	MarkOpened(ctx context.Context, sheet string, row int, openedAt string) (bool, error)

	// ClaimRow moves an unset row to Processing. It reports whether the claim won.
	ClaimRow(ctx context.Context, sheet string, row int) (bool, error)
}
