package cache

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache is the default Cache implementation, backed by an
// in-process TTL cache. State is instance-local: in a multi-instance
// deployment each process holds its own entries.
type MemoryCache struct {
	inner *ttlcache.Cache[string, any]
}

// NewMemoryCache creates a memory cache with the given TTL and starts its
// expiration loop.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	inner := ttlcache.New(
		ttlcache.WithTTL[string, any](ttl),
	)
	go inner.Start()
	return &MemoryCache{inner: inner}
}

func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	item := c.inner.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *MemoryCache) Set(_ context.Context, key string, value any) {
	c.inner.Set(key, value, ttlcache.DefaultTTL)
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.inner.Delete(key)
}

func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) {
	var doomed []string
	c.inner.Range(func(item *ttlcache.Item[string, any]) bool {
		if strings.HasPrefix(item.Key(), prefix) {
			doomed = append(doomed, item.Key())
		}
		return true
	})
	for _, key := range doomed {
		c.inner.Delete(key)
	}
}

func (c *MemoryCache) Clear(_ context.Context) {
	c.inner.DeleteAll()
}

func (c *MemoryCache) Len(_ context.Context) int {
	return c.inner.Len()
}

func (c *MemoryCache) Keys(_ context.Context) []string {
	return c.inner.Keys()
}

// Stop terminates the expiration loop.
func (c *MemoryCache) Stop() {
	c.inner.Stop()
}

var _ Cache = (*MemoryCache)(nil)
