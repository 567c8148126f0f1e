package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// breakerStore wraps a CounterStore with a circuit breaker. When the
// backing store is unhealthy the limiter must not take all withdrawals
// down with it; callers treat breaker errors as a fail-open signal.
// ErrNotFound passes through untouched: a missing counter is not a fault.
type breakerStore struct {
	inner  CounterStore
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewBreakerStore wraps store with a circuit breaker.
func NewBreakerStore(store CounterStore, logger *zap.Logger) CounterStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rate-limit store breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &breakerStore{inner: store, cb: cb, logger: logger}
}

func (s *breakerStore) GetWindow(ctx context.Context, key string) (*WindowCounter, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		w, err := s.inner.GetWindow(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return w, err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res.(*WindowCounter), nil
}

func (s *breakerStore) SetWindow(ctx context.Context, key string, w *WindowCounter, ttl time.Duration) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.SetWindow(ctx, key, w, ttl)
	})
	return err
}

func (s *breakerStore) DeleteWindow(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.DeleteWindow(ctx, key)
	})
	return err
}

func (s *breakerStore) GetBlock(ctx context.Context, userID uint) (*BlockRecord, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		b, err := s.inner.GetBlock(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res.(*BlockRecord), nil
}

func (s *breakerStore) SetBlock(ctx context.Context, b *BlockRecord, ttl time.Duration) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.SetBlock(ctx, b, ttl)
	})
	return err
}
