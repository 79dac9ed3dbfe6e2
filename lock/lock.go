// Package lock provides short-lived leases used to serialize read-then-write
// sequences on a single row or batch.
package lock

import (
	"context"
	"strconv"
	"time"
)

// Locker hands out exclusive, expiring leases by key.
type Locker interface {
	// TryLock acquires key for ttl without waiting. ok is false when another
	// holder owns an unexpired lease.
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Lease is a held lock. Releasing an expired or stolen lease is a no-op.
type Lease interface {
	Release(ctx context.Context) error
}

// OpenKey is the lease key guarding the open transition of a row.
func OpenKey(sheet string, row int) string {
	return "open:" + sheet + ":" + strconv.Itoa(row)
}

// DispatchKey is the lease key guarding a dispatch pass over a batch.
func DispatchKey(sheet string) string {
	return "dispatch:" + sheet
}
