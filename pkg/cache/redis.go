package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache implements Cache on a Redis instance. Values are stored as
// JSON under a namespace prefix so several services can share one Redis.
// Note that sharing the cache does not widen the broadcast scope: the
// realtime gateway still only reaches subscribers connected to the
// instance that received the write.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisCache wraps client as a Cache. Errors from Redis are logged and
// treated as misses so an unavailable Redis degrades to recompute.
func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client:    client,
		namespace: namespace + ":",
		ttl:       ttl,
		logger:    logger.Named("redis-cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (any, bool) {
	data, err := c.client.Get(ctx, c.namespace+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return json.RawMessage(data), true
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache set: marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.namespace+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.namespace+key).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, c.namespace+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("cache delete failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func (c *RedisCache) Clear(ctx context.Context) {
	c.DeletePrefix(ctx, "")
}

func (c *RedisCache) Len(ctx context.Context) int {
	return len(c.Keys(ctx))
}

func (c *RedisCache) Keys(ctx context.Context) []string {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.namespace+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(c.namespace):])
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", zap.Error(err))
	}
	return keys
}

var _ Cache = (*RedisCache)(nil)

// GetAs fetches key and decodes it as T. Memory-cached values are type
// asserted directly; Redis-cached values arrive as raw JSON and are
// unmarshalled. Any mismatch counts as a miss.
func GetAs[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var zero T
	value, ok := c.Get(ctx, key)
	if !ok {
		return zero, false
	}
	if typed, ok := value.(T); ok {
		return typed, true
	}
	if raw, ok := value.(json.RawMessage); ok {
		var decoded T
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return zero, false
		}
		return decoded, true
	}
	return zero, false
}
