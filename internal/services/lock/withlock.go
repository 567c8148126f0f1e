package lock

import (
	"context"
	"math/rand"
	"time"
)

// Options configures a WithLock attempt.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
}

// WithLock acquires key with bounded exponential backoff and jitter, runs
// fn, and releases on every exit path, fn panics included. Returns
// ErrNotAcquired when every attempt found the lock held.
func WithLock(ctx context.Context, m Manager, key string, opts Options, fn func(ctx context.Context) error) error {
	opts.applyDefaults()

	var token string
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		t, err := m.Acquire(ctx, key, opts.TTL)
		if err == nil {
			token = t
			break
		}
		if err != ErrNotAcquired {
			return err
		}
		if attempt == opts.MaxRetries {
			return ErrNotAcquired
		}

		// Exponential backoff with jitter: delay * 2^attempt, plus up to
		// half of that again, so callers colliding on the same key spread.
		backoff := opts.RetryDelay << uint(attempt)
		backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	defer m.Release(ctx, key, token)
	return fn(ctx)
}
