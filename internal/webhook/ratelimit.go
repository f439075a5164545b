package webhook

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter applies a token-bucket rate limit per key. The voice path
// keys by tenant, the asynchronous path by source address, so one noisy
// tenant or source never starves another. Idle entries are swept so the
// map does not grow with key churn.
type KeyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int

	done chan struct{}
	once sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleEviction is how long an unused key survives before the sweeper
// drops it.
const idleEviction = 10 * time.Minute

// NewKeyedLimiter creates a per-key limiter and starts its sweeper.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	l := &KeyedLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Close stops the sweeper.
func (l *KeyedLimiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// Allow reports whether a request under key may proceed now.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

func (l *KeyedLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleEviction)
			l.mu.Lock()
			for k, e := range l.entries {
				if e.lastSeen.Before(cutoff) {
					delete(l.entries, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
