package retrieval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the retrieval cache with Redis so multiple gateway
// instances share one context cache. Redis errors degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing Redis client. ttl <= 0 uses the 300s default.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "vj:rag:"}
}

func (c *RedisCache) Get(ctx context.Context, mode, query string) (Result, bool) {
	raw, err := c.client.Get(ctx, c.prefix+CacheKey(mode, query)).Bytes()
	if err != nil {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func (c *RedisCache) Set(ctx context.Context, mode, query string, res Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+CacheKey(mode, query), raw, c.ttl).Err()
}
