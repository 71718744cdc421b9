package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLeaseConflict means another holder owns an unexpired lease.
	ErrLeaseConflict = errors.New("lease: held by another owner")
	// ErrLeaseLost means the caller no longer owns the lease.
	ErrLeaseLost = errors.New("lease: lost")
	// ErrResourceNotFound means the leased resource does not exist.
	ErrResourceNotFound = errors.New("lease: resource not found")
)

// Leaser is a time-bounded exclusive lease over named resources.
type Leaser interface {
	// EnsureResource creates the resource if absent.
	EnsureResource(ctx context.Context, resource string) error
	// Acquire takes the lease under leaseID for d, or fails with ErrLeaseConflict.
	Acquire(ctx context.Context, resource, leaseID string, d time.Duration) error
	// Renew extends a lease held under leaseID by d.
	Renew(ctx context.Context, resource, leaseID string, d time.Duration) error
	// Release gives up a lease held under leaseID.
	Release(ctx context.Context, resource, leaseID string) error
}
