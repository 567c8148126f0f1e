package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// memoryManager is the in-process backend: a mutex-guarded map with a
// janitor that reclaims expired entries. Suitable for tests and single
// instance deployments; once more than one instance runs, the Redis
// backend is the one that counts.
type memoryManager struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryManager creates an in-process lock manager. Close stops its
// janitor goroutine.
func NewMemoryManager() *memoryManager {
	m := &memoryManager{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *memoryManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[key]; ok && e.expiresAt.After(now) {
		return "", ErrNotAcquired
	}

	token := uuid.NewString()
	m.entries[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

func (m *memoryManager) Release(ctx context.Context, key, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.token != token {
		return false
	}
	delete(m.entries, key)
	return true
}

func (m *memoryManager) Extend(ctx context.Context, key, token string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.token != token || !e.expiresAt.After(time.Now()) {
		return false
	}
	e.expiresAt = time.Now().Add(ttl)
	m.entries[key] = e
	return true
}

func (m *memoryManager) IsLocked(ctx context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	return ok && e.expiresAt.After(time.Now())
}

// janitor sweeps expired entries. Correctness does not depend on it;
// Acquire treats expired entries as absent. This is memory hygiene only.
func (m *memoryManager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, e := range m.entries {
				if !e.expiresAt.After(now) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *memoryManager) Close() {
	m.once.Do(func() { close(m.done) })
}
