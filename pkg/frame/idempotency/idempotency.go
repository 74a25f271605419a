// Package idempotency implements the tool-call result cache keyed by
// (idempotency key, tool name, canonical argument JSON). It adapts
// pkg/kv.Store's in-memory implementation as the backing map: process
// scoped, no TTL, safe for concurrent callers.
package idempotency

import (
	"context"

	"github.com/relaygrid/framegate/pkg/kv"
)

// Cache is the process-lifetime idempotency cache for tool results.
type Cache struct {
	store kv.Store
}

// New creates a Cache backed by an in-memory kv.Store: entries live for
// the life of the process, with no TTL or eviction.
func New() *Cache {
	return &Cache{store: kv.NewMemory(nil)}
}

// Key builds the hierarchical composite key for one cached invocation.
func Key(idemKey, toolName, canonicalArgs string) kv.Key {
	return kv.Key{idemKey, toolName, canonicalArgs}
}

// Get returns the cached result for the given composite key, if present.
func (c *Cache) Get(ctx context.Context, idemKey, toolName, canonicalArgs string) ([]byte, bool) {
	v, err := c.store.Get(ctx, Key(idemKey, toolName, canonicalArgs))
	if err != nil {
		return nil, false
	}
	return v, true
}

// Put stores the result for the given composite key.
func (c *Cache) Put(ctx context.Context, idemKey, toolName, canonicalArgs string, result []byte) error {
	return c.store.Set(ctx, Key(idemKey, toolName, canonicalArgs), result)
}
