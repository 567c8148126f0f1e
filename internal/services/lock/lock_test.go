package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *memoryManager {
	t.Helper()
	m := NewMemoryManager()
	t.Cleanup(m.Close)
	return m
}

func TestMemoryManager_Acquire(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	t.Run("single holder per key", func(t *testing.T) {
		token, err := m.Acquire(ctx, "a", time.Minute)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		_, err = m.Acquire(ctx, "a", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)
	})

	t.Run("distinct keys are independent", func(t *testing.T) {
		_, err := m.Acquire(ctx, "b", time.Minute)
		require.NoError(t, err)
		_, err = m.Acquire(ctx, "c", time.Minute)
		assert.NoError(t, err)
	})

	t.Run("zero ttl rejected", func(t *testing.T) {
		_, err := m.Acquire(ctx, "d", 0)
		assert.ErrorIs(t, err, ErrInvalidTTL)
	})
}

func TestMemoryManager_Release(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)

	t.Run("wrong token does not unlock", func(t *testing.T) {
		assert.False(t, m.Release(ctx, "a", "not-the-token"))
		assert.True(t, m.IsLocked(ctx, "a"))
	})

	t.Run("correct token allows immediate reacquisition", func(t *testing.T) {
		assert.True(t, m.Release(ctx, "a", token))
		assert.False(t, m.IsLocked(ctx, "a"))

		_, err := m.Acquire(ctx, "a", time.Minute)
		assert.NoError(t, err)
	})
}

func TestMemoryManager_TTLExpiry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "a", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	// Expired without explicit release: acquirable by another caller.
	assert.False(t, m.IsLocked(ctx, "a"))
	token2, err := m.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)

	// The stale holder's token must not release the new owner's lock.
	assert.False(t, m.Release(ctx, "a", token))
	assert.True(t, m.Release(ctx, "a", token2))
}

func TestMemoryManager_Extend(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "a", 50*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, m.Extend(ctx, "a", token, time.Minute))
	assert.False(t, m.Extend(ctx, "a", "wrong", time.Minute))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, m.IsLocked(ctx, "a"), "extend should have outlived the original ttl")
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("runs fn and releases", func(t *testing.T) {
		m := newTestManager(t)
		ran := false
		err := WithLock(ctx, m, "a", Options{TTL: time.Minute}, func(ctx context.Context) error {
			ran = true
			assert.True(t, m.IsLocked(ctx, "a"))
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.False(t, m.IsLocked(ctx, "a"))
	})

	t.Run("releases on fn error", func(t *testing.T) {
		m := newTestManager(t)
		err := WithLock(ctx, m, "a", Options{TTL: time.Minute}, func(ctx context.Context) error {
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.False(t, m.IsLocked(ctx, "a"))
	})

	t.Run("releases on panic", func(t *testing.T) {
		m := newTestManager(t)
		assert.Panics(t, func() {
			_ = WithLock(ctx, m, "a", Options{TTL: time.Minute}, func(ctx context.Context) error {
				panic("boom")
			})
		})
		assert.False(t, m.IsLocked(ctx, "a"))
	})

	t.Run("gives up after bounded retries", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.Acquire(ctx, "a", time.Minute)
		require.NoError(t, err)

		err = WithLock(ctx, m, "a", Options{
			TTL:        time.Minute,
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		}, func(ctx context.Context) error {
			t.Fatal("fn must not run when the lock is never acquired")
			return nil
		})
		assert.ErrorIs(t, err, ErrNotAcquired)
	})

	t.Run("retries until holder releases", func(t *testing.T) {
		m := newTestManager(t)
		token, err := m.Acquire(ctx, "a", time.Minute)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			m.Release(ctx, "a", token)
		}()

		err = WithLock(ctx, m, "a", Options{
			TTL:        time.Minute,
			MaxRetries: 10,
			RetryDelay: 2 * time.Millisecond,
		}, func(ctx context.Context) error { return nil })
		assert.NoError(t, err)
		wg.Wait()
	})
}
