package lock

import "errors"

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrInvalidTTL  = errors.New("lock ttl must be positive")
)
