package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// Memory is an in-process Store with TTL expiry, for single-node
// deployments and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	maxBody int

	done chan struct{}
	once sync.Once

	nowFunc func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an in-process idempotency store and starts its janitor.
// maxBody caps the cached response size; non-positive uses DefaultMaxBody.
func NewMemory(ttl time.Duration, maxBody int) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		maxBody: maxBody,
		done:    make(chan struct{}),
		nowFunc: time.Now,
	}
	go m.janitor()
	return m
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.nowFunc()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) Lookup(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.nowFunc().After(e.expiresAt) {
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}

func (m *Memory) Save(_ context.Context, key string, rec Record) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{rec: Clamp(rec, m.maxBody), expiresAt: m.nowFunc().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}
