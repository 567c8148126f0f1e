package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by stores when no counter or block exists.
var ErrNotFound = errors.New("not found")

// CounterStore persists window counters and block records so limits survive
// restarts. Hot-path reads go through the service's in-process cache; the
// store sees first touches and write-backs.
type CounterStore interface {
	GetWindow(ctx context.Context, key string) (*WindowCounter, error)
	SetWindow(ctx context.Context, key string, w *WindowCounter, ttl time.Duration) error
	DeleteWindow(ctx context.Context, key string) error

	GetBlock(ctx context.Context, userID uint) (*BlockRecord, error)
	SetBlock(ctx context.Context, b *BlockRecord, ttl time.Duration) error
}

func windowKey(userID uint, kind string) string {
	return fmt.Sprintf("ratelimit:%d:%s", userID, kind)
}

func channelKind(channel string) string {
	return WindowChannel + ":" + channel
}

// memoryStore is the in-process store for tests and single-instance runs.
type memoryStore struct {
	mu      sync.Mutex
	windows map[string]WindowCounter
	blocks  map[uint]BlockRecord
}

// NewMemoryStore creates an in-process counter store.
func NewMemoryStore() CounterStore {
	return &memoryStore{
		windows: make(map[string]WindowCounter),
		blocks:  make(map[uint]BlockRecord),
	}
}

func (s *memoryStore) GetWindow(ctx context.Context, key string) (*WindowCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := w
	return &cp, nil
}

func (s *memoryStore) SetWindow(ctx context.Context, key string, w *WindowCounter, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = *w
	return nil
}

func (s *memoryStore) DeleteWindow(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

func (s *memoryStore) GetBlock(ctx context.Context, userID uint) (*BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := b
	return &cp, nil
}

func (s *memoryStore) SetBlock(ctx context.Context, b *BlockRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.UserID] = *b
	return nil
}
