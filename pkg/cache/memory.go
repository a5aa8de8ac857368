package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time // zero means no expiry
	lastUsed time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && !now.Before(m.expireAt)
}

// MemoryCache implements Service in process. Values are stored encoded the
// same way RedisCache stores them so both backends behave alike.
type MemoryCache struct {
	data    map[string]*memoryItem
	mutex   sync.Mutex
	maxSize int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         10000,
		CleanupInterval: time.Minute,
		Clock:           time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:    make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		now:     cfg.Clock,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go mc.cleanupExpired(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return opError("set", key, err)
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.setLocked(key, data, expiration)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item, ok := mc.lookupLocked(key)
	var data []byte
	if ok {
		data = item.data
	}
	mc.mutex.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return opError("get", key, decode(data, dest))
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

// DeleteByPattern removes keys matching a glob pattern.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	for key := range mc.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(mc.data, key)
		}
	}
	return nil
}

// IncrementTTL behaves like INCR followed by EXPIRE under one lock.
func (mc *MemoryCache) IncrementTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.lookupLocked(key)
	if !ok {
		mc.setLocked(key, []byte("1"), ttl)
		return 1, nil
	}
	n, err := strconv.ParseInt(string(item.data), 10, 64)
	if err != nil {
		return 0, opError("incr", key, ErrNotCounter)
	}
	n++
	item.data = []byte(strconv.FormatInt(n, 10))
	if ttl > 0 {
		item.expireAt = mc.now().Add(ttl)
	}
	return n, nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	results := make(map[string]string, len(keys))
	for _, key := range keys {
		if item, ok := mc.lookupLocked(key); ok {
			results[key] = string(item.data)
		}
	}
	return results, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, ok := mc.lookupLocked(key); ok {
		return false, nil
	}
	mc.setLocked(key, []byte("locked"), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) setLocked(key string, data []byte, expiration time.Duration) {
	now := mc.now()
	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	item := &memoryItem{data: data, lastUsed: now}
	if expiration > 0 {
		item.expireAt = now.Add(expiration)
	}
	mc.data[key] = item
}

func (mc *MemoryCache) lookupLocked(key string) (*memoryItem, bool) {
	item, ok := mc.data[key]
	if !ok {
		return nil, false
	}
	now := mc.now()
	if item.expired(now) {
		delete(mc.data, key)
		return nil, false
	}
	item.lastUsed = now
	return item, true
}

func (mc *MemoryCache) evictLRU() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, item := range mc.data {
		if oldestKey == "" || item.lastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.lastUsed
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mc.mutex.Lock()
			now := mc.now()
			for key, item := range mc.data {
				if item.expired(now) {
					delete(mc.data, key)
				}
			}
			mc.mutex.Unlock()
		case <-mc.stop:
			return
		}
	}
}
