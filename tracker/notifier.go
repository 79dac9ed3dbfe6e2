package tracker

import (
	"context"

	"campaign-tracker/models"
)

// OpenNotifier is told about every committed open.
type OpenNotifier interface {
	NotifyOpen(ctx context.Context, event models.OpenEvent) error
}

// NotifierFunc adapts a function to OpenNotifier.
type NotifierFunc func(ctx context.Context, event models.OpenEvent) error

func (f NotifierFunc) NotifyOpen(ctx context.Context, event models.OpenEvent) error {
	return f(ctx, event)
}
