package lock

import (
	"fmt"
	"time"
)

// Default lock parameters
const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxRetries = 5
	DefaultRetryDelay = 50 * time.Millisecond
)

// Key prefix shared by both backends
const keyPrefix = "lock:"

// WithdrawalKey is the lock key guarding withdrawal creation for a
// (user, wallet) pair. The security monitor probes the same key.
func WithdrawalKey(userID, walletID uint) string {
	return fmt.Sprintf("withdraw:%d:%d", userID, walletID)
}

// SweepKey guards the stuck-transaction sweep so a single instance runs it
// across the fleet.
const SweepKey = "sweep:stuck-transactions"
