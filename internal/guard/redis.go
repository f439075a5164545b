package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the stored token matches, so a
// holder whose lease expired cannot release a lock someone else now holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// lockTTL bounds how long a crashed holder can keep a lock. Well above any
// sane critical section on the routing path.
const lockTTL = 30 * time.Second

// retryInterval is how often a waiter re-attempts acquisition.
const retryInterval = 25 * time.Millisecond

// Redis is a Guard backed by a shared Redis, for multi-node deployments.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Guard = (*Redis)(nil)

// NewRedis creates a Redis-backed guard. Keys are namespaced under prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("%s:lock:%s", r.prefix, key)
}

// Acquire takes the lock for key, retrying until it is free or ctx expires.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	full := r.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, full, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release outlives the caller's (possibly expired) context.
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(rctx, r.client, []string{full}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
