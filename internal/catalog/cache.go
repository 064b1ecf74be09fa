package catalog

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores catalog responses.  Implementations fail open: a miss or a
// backend error both report ok == false.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// RedisCache keeps movie details in Redis under prefix.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "catalog"
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, c.prefix+":"+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	_ = c.rdb.Set(ctx, c.prefix+":"+key, val, ttl).Err()
}
