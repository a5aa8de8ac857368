package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Service using Redis. Every key is stored under prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache validates the config, dials Redis and pings it.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	cfg := defaultRedisConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, opError("ping", cfg.Addr(), err)
	}

	return NewRedisCacheWithClient(client, cfg.Prefix), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Client returns underlying redis client.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return opError("set", key, err)
	}
	return opError("set", key, c.client.Set(ctx, c.wrapKey(key), data, expiration).Err())
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return opError("get", key, err)
	}
	return opError("get", key, decode(data, dest))
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return opError("delete", keys[0], c.client.Unlink(ctx, c.wrapKeys(keys...)...).Err())
}

// DeleteByPattern scans instead of KEYS so large keyspaces do not block Redis.
func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, c.wrapKey(pattern), 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
				return opError("delete_pattern", pattern, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return opError("scan", pattern, err)
	}
	if len(batch) == 0 {
		return nil
	}
	return opError("delete_pattern", pattern, c.client.Unlink(ctx, batch...).Err())
}

// IncrementTTL runs INCR and EXPIRE in one MULTI block.
func (c *RedisCache) IncrementTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := c.wrapKey(key)
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		if isNotInteger(err) {
			return 0, opError("incr", key, ErrNotCounter)
		}
		return 0, opError("incr", key, err)
	}
	return incr.Val(), nil
}

func (c *RedisCache) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return make(map[string]string), nil
	}

	results, err := c.client.MGet(ctx, c.wrapKeys(keys...)...).Result()
	if err != nil {
		return nil, opError("mget", keys[0], err)
	}

	out := make(map[string]string, len(keys))
	for i, key := range keys {
		if val, ok := results[i].(string); ok {
			out[key] = val
		}
	}
	return out, nil
}

func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.wrapKey(key), "locked", ttl).Result()
	return ok, opError("lock", key, err)
}

func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	return opError("unlock", key, c.client.Del(ctx, c.wrapKey(key)).Err())
}

func (c *RedisCache) wrapKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *RedisCache) wrapKeys(keys ...string) []string {
	wrapped := make([]string, len(keys))
	for i, key := range keys {
		wrapped[i] = c.wrapKey(key)
	}
	return wrapped
}

func isNotInteger(err error) bool {
	return strings.Contains(err.Error(), "not an integer")
}
