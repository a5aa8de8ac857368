package cache

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// RedisOption configures NewRedisCache.
type RedisOption func(*RedisConfig)

// RedisConfig is the connection and keyspace layout of the shared store.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	// Prefix namespaces every key, so several deployments can share a DB.
	Prefix string
}

func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 2,
		Prefix:       "signalgate",
	}
}

// Addr is host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate rejects settings go-redis would accept but fail on later.
func (c RedisConfig) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: redis host is empty", ErrInvalidConfig)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: redis port %d", ErrInvalidConfig, c.Port)
	case c.DB < 0:
		return fmt.Errorf("%w: redis db %d", ErrInvalidConfig, c.DB)
	case c.PoolSize < 0 || c.MinIdleConns < 0:
		return fmt.Errorf("%w: redis pool %d/%d", ErrInvalidConfig, c.PoolSize, c.MinIdleConns)
	case c.MinIdleConns > c.PoolSize && c.PoolSize > 0:
		return fmt.Errorf("%w: %d idle conns exceed pool of %d", ErrInvalidConfig, c.MinIdleConns, c.PoolSize)
	}
	return nil
}

func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
		c.Port = port
	}
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sizes the connection pool. Zero values keep the defaults.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if poolSize != 0 {
			c.PoolSize = poolSize
		}
		if minIdleConns != 0 {
			c.MinIdleConns = minIdleConns
		}
		if timeout != 0 {
			c.PoolTimeout = timeout
		}
	}
}

// WithRedisPrefix sets the key namespace. An empty prefix stores keys bare.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// MemoryOption configures NewMemoryCache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process store used by tests and dry runs.
type MemoryConfig struct {
	// MaxSize caps stored keys; the least recently used key goes first.
	// Zero or less means unbounded.
	MaxSize         int
	CleanupInterval time.Duration
	Clock           func() time.Time
}

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSize = size
	}
}

// WithMemoryCleanup sets the sweep interval. Zero disables sweeping;
// expired keys are still dropped on access.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.CleanupInterval = interval
	}
}

// WithMemoryClock overrides the time source. Expiry and candle-aligned TTLs
// are computed against it.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) {
		if now != nil {
			c.Clock = now
		}
	}
}
