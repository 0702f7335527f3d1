// Package cache provides the process-local configuration cache. Entries
// are advisory: a miss or a cache failure always degrades to recomputing
// from the store, never to serving stale state.
package cache

import (
	"context"
	"time"
)

// Cache is the TTL cache consumed by the config store and the rule
// resolver. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached value for key, or nil and false on a miss.
	Get(ctx context.Context, key string) (any, bool)
	// Set stores value under key for the configured TTL.
	Set(ctx context.Context, key string, value any)
	// Delete removes the entry for key if present.
	Delete(ctx context.Context, key string)
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string)
	// Clear removes all entries.
	Clear(ctx context.Context)
	// Len returns the number of live entries.
	Len(ctx context.Context) int
	// Keys returns the live keys, used by the stats endpoint.
	Keys(ctx context.Context) []string
}

// DefaultTTL is used when the configured TTL is zero.
const DefaultTTL = 5 * time.Minute
