package lock

import (
	"context"
	"time"
)

// Manager provides keyed mutual exclusion with TTL-based expiry. A token is
// returned on acquisition and must be presented to release or extend, so a
// holder whose lock expired cannot stomp on the next owner.
type Manager interface {
	// Acquire takes the lock for key, returning an owner token. A held,
	// unexpired key returns ErrNotAcquired; that is contention, not a fault.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Release frees the lock only when token matches the current owner.
	Release(ctx context.Context, key, token string) bool

	// Extend refreshes the expiry only when token matches the current owner.
	Extend(ctx context.Context, key, token string, ttl time.Duration) bool

	// IsLocked reports whether a non-expired lock exists for key.
	IsLocked(ctx context.Context, key string) bool
}
