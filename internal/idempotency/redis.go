package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store on a shared Redis, so a retry landing on a different
// node still replays the recorded response.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxBody int
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed idempotency store. maxBody caps the
// cached response size; non-positive uses DefaultMaxBody.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, maxBody int) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, maxBody: maxBody}
}

func (r *Redis) key(key string) string {
	return r.prefix + ":idem:" + key
}

func (r *Redis) Lookup(ctx context.Context, key string) (*Record, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *Redis) Save(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(Clamp(rec, r.maxBody))
	if err != nil {
		return fmt.Errorf("encoding idempotency record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	return nil
}
