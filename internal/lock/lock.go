// Package lock provides TTL-based mutual exclusion across server instances.
// Every scheduled entry point acquires a lease keyed by job name before doing
// work; leases expire on their own so a crashed holder cannot deadlock future
// acquisitions.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrBusy means another holder currently owns the resource. Callers treat it
// as "someone else is already running this job": a no-op, not a failure.
var ErrBusy = errors.New("lock: busy")

// Lease is a held claim on a resource key. Release is idempotent from the
// caller's perspective: releasing an already-expired lease is not an error.
type Lease interface {
	// Key returns the resource key this lease covers.
	Key() string
	// Release gives up the claim. Only the holder's own claim is removed;
	// a lease that expired and was re-acquired elsewhere is left alone.
	Release(ctx context.Context) error
}

// Manager acquires leases. Acquisition is an atomic test-and-set against the
// shared store: it succeeds only when the key is absent or its recorded
// lease has expired.
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
