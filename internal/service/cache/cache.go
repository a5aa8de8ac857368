// Package cache holds the domain stores kept in the shared KV store: candle
// aligned validation results, kill-switches, invalid streaks and symbol locks.
package cache

import (
	"time"

	"SignalGate/internal/domain/models"
	pkgcache "SignalGate/pkg/cache"
)

const (
	validationPrefix = "validation"
	switchPrefix     = "switch"
	streakPrefix     = "streak"
	lockPrefix       = "lock"
)

// Option configures the stores in this package.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ValidationKey is validation:<profile>:<symbol>:<tf>.
func ValidationKey(profile, symbol string, tf models.Timeframe) string {
	return pkgcache.GenerateKey(validationPrefix, profile, symbol, tf)
}

func switchKey(k models.SwitchKey) string {
	return pkgcache.GenerateKey(switchPrefix, string(k))
}

func streakKey(symbol string) string {
	return pkgcache.GenerateKey(streakPrefix, symbol)
}

func lockKey(symbol string) string {
	return pkgcache.GenerateKey(lockPrefix, symbol)
}
