// Package guard provides bounded mutual exclusion keyed by string. Routing
// reads and administrative writes on the same ring group take the same key,
// so a member replacement is never observed half-done.
package guard

import "context"

// Guard acquires named locks. Acquire blocks until the lock is held or the
// context expires; the returned function releases it. Callers bound the
// wait through the context, never by polling themselves.
type Guard interface {
	Acquire(ctx context.Context, key string) (func(), error)
}
