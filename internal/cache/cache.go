// Package cache provides the read-through configuration cache sitting in
// front of the database on the routing hot path. The cache is an
// optimization only: every backend failure fails open to the database, and
// correctness never depends on the cache being present.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Backend stores serialized cache entries. Implementations must be safe
// for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key under prefix. Used for tenant-wide
	// invalidation.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key layout. Every key is namespaced by tenant so invalidation for one
// tenant never touches another's entries.
func tenantPrefix(tenantID string) string {
	return "cfg:" + tenantID + ":"
}

func didKey(tenantID, number string) string {
	return tenantPrefix(tenantID) + "did:" + number
}

func extensionKey(tenantID, extension string) string {
	return tenantPrefix(tenantID) + "ext:" + extension
}

func scheduleKey(tenantID string, id int64) string {
	return tenantPrefix(tenantID) + "sched:" + itoa(id)
}

func ringGroupKey(tenantID string, id int64) string {
	return tenantPrefix(tenantID) + "rg:" + itoa(id)
}

func conferenceKey(tenantID string, id int64) string {
	return tenantPrefix(tenantID) + "conf:" + itoa(id)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
