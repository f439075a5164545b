package guard

import (
	"context"
	"sync"
)

// Memory is a process-local Guard. Suitable for single-node deployments
// and tests; multi-node deployments use the Redis guard.
type Memory struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ Guard = (*Memory)(nil)

// NewMemory creates an in-process guard.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]chan struct{})}
}

// Acquire takes the lock for key, waiting until it is free or ctx expires.
func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	sem, ok := m.locks[key]
	if !ok {
		// Size-1 channel as the per-key semaphore, so waiting composes
		// with context cancellation.
		sem = make(chan struct{}, 1)
		m.locks[key] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-sem })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
