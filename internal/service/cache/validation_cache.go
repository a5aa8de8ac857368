package cache

import (
	"context"
	"errors"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	pkgcache "SignalGate/pkg/cache"
	"SignalGate/pkg/logger"
)

// ValidationCache stores timeframe decisions until the close of the candle
// they were computed in. Store failures degrade to a miss.
type ValidationCache struct {
	store   pkgcache.Service
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

func NewValidationCache(store pkgcache.Service, log *logger.Logger, metrics repository.Metrics, opts ...Option) *ValidationCache {
	o := buildOptions(opts)
	return &ValidationCache{store: store, log: log, metrics: metrics, now: o.now}
}

// Get returns the cached decision for the current candle of tf. An entry from
// an earlier period, or past its expiry, is deleted and reported as a miss.
func (c *ValidationCache) Get(ctx context.Context, profile, symbol string, tf models.Timeframe) (models.TimeframeDecision, bool) {
	key := ValidationKey(profile, symbol, tf)

	var entry models.CacheEntry
	if err := c.store.Get(ctx, key, &entry); err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			c.log.Warn("validation cache read failed", logger.String("key", key), logger.Error(err))
			c.metrics.RecordError("cache_read")
		}
		c.metrics.RecordCacheLookup(false)
		return models.TimeframeDecision{}, false
	}

	now := c.now()
	if !c.current(entry, tf, now) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn("validation cache delete failed", logger.String("key", key), logger.Error(err))
		}
		c.log.Debug("validation cache entry expired",
			logger.String("key", key),
			logger.Time("expires_at", entry.ExpiresAt),
		)
		c.metrics.RecordCacheLookup(false)
		return models.TimeframeDecision{}, false
	}

	c.metrics.RecordCacheLookup(true)
	d := entry.Decision
	d.FromCache = true
	return d, true
}

func (c *ValidationCache) current(e models.CacheEntry, tf models.Timeframe, now time.Time) bool {
	if e.ExpiresAt.IsZero() || now.After(e.ExpiresAt) {
		return false
	}
	return e.SourceCandleTime.Equal(tf.CandleOpen(now))
}

// Put stores d until the last second of the current tf candle. Transient
// verdicts are skipped and reported as not stored.
func (c *ValidationCache) Put(ctx context.Context, profile, symbol string, tf models.Timeframe, d models.TimeframeDecision) bool {
	if !d.Valid && d.InvalidReason.Transient() {
		return false
	}

	now := c.now()
	expires := tf.NextClose(now)
	ttl := expires.Sub(now)
	if ttl <= 0 {
		return false
	}

	key := ValidationKey(profile, symbol, tf)
	d.FromCache = false
	entry := models.CacheEntry{
		Key:              key,
		Valid:            d.Valid,
		Side:             d.Signal,
		SourceCandleTime: tf.CandleOpen(now),
		ExpiresAt:        expires,
		Decision:         d,
	}
	if err := c.store.Set(ctx, key, entry, ttl); err != nil {
		c.log.Warn("validation cache write failed", logger.String("key", key), logger.Error(err))
		c.metrics.RecordError("cache_write")
		return false
	}
	return true
}

// Invalidate drops every cached decision of profile.
func (c *ValidationCache) Invalidate(ctx context.Context, profile string) error {
	return c.store.DeleteByPattern(ctx, pkgcache.BuildPattern(pkgcache.GenerateKey(validationPrefix, profile)+":"))
}
