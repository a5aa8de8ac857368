package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	pkgcache "SignalGate/pkg/cache"
)

// streakTTL bounds how long an invalid streak survives without a new INVALID.
const streakTTL = 7 * 24 * time.Hour

// SwitchStore keeps kill-switches, invalid streak counters and per-symbol
// advisory locks in the shared store.
type SwitchStore struct {
	store pkgcache.Service
	now   func() time.Time
}

func NewSwitchStore(store pkgcache.Service, opts ...Option) *SwitchStore {
	o := buildOptions(opts)
	return &SwitchStore{store: store, now: o.now}
}

// Get returns the switch under key; a missing or expired switch is inactive.
func (s *SwitchStore) Get(ctx context.Context, key models.SwitchKey) (models.Switch, error) {
	var sw models.Switch
	if err := s.store.Get(ctx, switchKey(key), &sw); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return models.Switch{Key: key}, nil
		}
		return models.Switch{Key: key}, fmt.Errorf("get switch %s: %w", key, err)
	}
	if !sw.Engaged(s.now()) {
		return models.Switch{Key: key}, nil
	}
	return sw, nil
}

// Engage turns key on for d. A zero d means until cleared.
func (s *SwitchStore) Engage(ctx context.Context, key models.SwitchKey, reason string, d time.Duration) (models.Switch, error) {
	sw := models.Switch{Key: key, Active: true, Reason: reason}
	if d > 0 {
		sw.ExpiresAt = s.now().Add(d).UTC()
	}
	if err := s.store.Set(ctx, switchKey(key), sw, d); err != nil {
		return sw, fmt.Errorf("set switch %s: %w", key, err)
	}
	return sw, nil
}

// Clear removes key.
func (s *SwitchStore) Clear(ctx context.Context, key models.SwitchKey) error {
	if err := s.store.Delete(ctx, switchKey(key)); err != nil {
		return fmt.Errorf("clear switch %s: %w", key, err)
	}
	return nil
}

// State reads GLOBAL, SYMBOL:<symbol> and SYMBOL_TF:<symbol>:<tf> for every
// tf in one MGet. Missing, undecodable or expired switches are inactive.
func (s *SwitchStore) State(ctx context.Context, symbol string, tfs []models.Timeframe) (models.SwitchState, error) {
	scopes := make([]models.SwitchKey, 0, len(tfs)+2)
	scopes = append(scopes, models.GlobalSwitch, models.SymbolSwitch(symbol))
	for _, tf := range tfs {
		scopes = append(scopes, models.SymbolTFSwitch(symbol, tf))
	}
	keys := make([]string, len(scopes))
	for i, k := range scopes {
		keys[i] = switchKey(k)
	}

	var st models.SwitchState
	found, err := pkgcache.MGetTyped[models.Switch](ctx, s.store, keys...)
	if err != nil {
		return st, fmt.Errorf("read switches %s: %w", symbol, err)
	}

	now := s.now()
	for i, k := range scopes[:2] {
		if sw, ok := found[keys[i]]; ok && sw.Engaged(now) {
			sw.Key = k
			st.Blocking = &sw
			return st, nil
		}
	}
	for i, tf := range tfs {
		sw, ok := found[keys[i+2]]
		if !ok || !sw.Engaged(now) {
			continue
		}
		if st.Timeframes == nil {
			st.Timeframes = make(map[models.Timeframe]models.Switch)
		}
		sw.Key = scopes[i+2]
		st.Timeframes[tf] = sw
	}
	return st, nil
}

// RecordInvalid bumps the consecutive INVALID counter of symbol. Every bump
// pushes the streak expiry out to streakTTL.
func (s *SwitchStore) RecordInvalid(ctx context.Context, symbol string) (int64, error) {
	n, err := s.store.IncrementTTL(ctx, streakKey(symbol), streakTTL)
	if err != nil {
		return 0, fmt.Errorf("increment streak %s: %w", symbol, err)
	}
	return n, nil
}

// ResetInvalid clears the streak after a non-INVALID verdict.
func (s *SwitchStore) ResetInvalid(ctx context.Context, symbol string) error {
	if err := s.store.Delete(ctx, streakKey(symbol)); err != nil {
		return fmt.Errorf("reset streak %s: %w", symbol, err)
	}
	return nil
}

// TryLock takes the advisory lock for symbol.
func (s *SwitchStore) TryLock(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	return s.store.TryLock(ctx, lockKey(symbol), ttl)
}

func (s *SwitchStore) Unlock(ctx context.Context, symbol string) error {
	return s.store.Unlock(ctx, lockKey(symbol))
}
