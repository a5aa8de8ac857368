package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrCacheMiss     = errors.New("cache: key not found")
	ErrNotCounter    = errors.New("cache: value is not a counter")
	ErrInvalidConfig = errors.New("cache: invalid config")
)

// OpError ties a backend failure to the operation and caller key.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return "cache " + e.Op + ": " + e.Err.Error()
	}
	return "cache " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Key: key, Err: err}
}

// Service is the keyed store behind validation results, switches, invalid
// streaks and symbol locks. Implementations must be safe for concurrent use.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	// IncrementTTL bumps the counter under key and, when ttl > 0, resets its
	// expiry to ttl in the same step. A missing key starts at zero.
	IncrementTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// MGetTyped reads keys in one round trip and decodes each JSON value. Keys
// that are missing or fail to decode are left out of the result.
func MGetTyped[T any](ctx context.Context, c Service, keys ...string) (map[string]T, error) {
	if len(keys) == 0 {
		return make(map[string]T), nil
	}

	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(raw))
	for key, value := range raw {
		var obj T
		if err := json.Unmarshal([]byte(value), &obj); err != nil {
			continue
		}
		out[key] = obj
	}
	return out, nil
}
