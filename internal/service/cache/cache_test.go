package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	pkgcache "SignalGate/pkg/cache"
	"SignalGate/pkg/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type countingMetrics struct {
	hits, misses int
	errors       []string
}

func (m *countingMetrics) RecordSymbolResult(string)     {}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordRun(*models.RunSummary)  {}
func (m *countingMetrics) RecordError(t string)          { m.errors = append(m.errors, t) }
func (m *countingMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.hits++
		return
	}
	m.misses++
}

func newStores(clock *fakeClock) (*ValidationCache, *SwitchStore, *countingMetrics) {
	mem := pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clock.Now), pkgcache.WithMemoryCleanup(0))
	m := &countingMetrics{}
	return NewValidationCache(mem, logger.Nop(), m, WithClock(clock.Now)),
		NewSwitchStore(mem, WithClock(clock.Now)),
		m
}

func longDecision(tf models.Timeframe, at time.Time) models.TimeframeDecision {
	return models.NewValidDecision(models.DecisionInput{
		Symbol:      "BTCUSDT",
		Timeframe:   tf,
		Phase:       models.PhaseContext,
		RulesPassed: []string{"trend_up"},
		EvaluatedAt: at,
	}, models.SignalLong)
}

func TestValidationCacheHitWithinCandle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)}
	vc, _, m := newStores(clock)

	require.True(t, vc.Put(ctx, "default", "BTCUSDT", models.TF1h, longDecision(models.TF1h, clock.Now())))

	clock.Set(time.Date(2024, 3, 1, 10, 59, 58, 0, time.UTC))
	d, ok := vc.Get(ctx, "default", "BTCUSDT", models.TF1h)
	require.True(t, ok)
	assert.True(t, d.FromCache)
	assert.Equal(t, models.SignalLong, d.Signal)
	assert.Equal(t, 1, m.hits)
}

func TestValidationCacheExpiresAtCandleClose(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)}
	vc, _, m := newStores(clock)

	require.True(t, vc.Put(ctx, "default", "BTCUSDT", models.TF15m, longDecision(models.TF15m, clock.Now())))

	clock.Set(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC))
	_, ok := vc.Get(ctx, "default", "BTCUSDT", models.TF15m)
	assert.False(t, ok)
	assert.Equal(t, 1, m.misses)
}

func TestValidationCacheDropsEntryFromEarlierPeriod(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)}
	mem := pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clock.Now), pkgcache.WithMemoryCleanup(0))
	vc := NewValidationCache(mem, logger.Nop(), &countingMetrics{}, WithClock(clock.Now))

	key := ValidationKey("default", "BTCUSDT", models.TF1h)
	stale := models.CacheEntry{
		Key:              key,
		Valid:            true,
		Side:             models.SignalLong,
		SourceCandleTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		ExpiresAt:        time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		Decision:         longDecision(models.TF1h, clock.Now()),
	}
	require.NoError(t, mem.Set(ctx, key, stale, time.Hour))

	_, ok := vc.Get(ctx, "default", "BTCUSDT", models.TF1h)
	assert.False(t, ok)
	var raw string
	assert.ErrorIs(t, mem.Get(ctx, key, &raw), pkgcache.ErrCacheMiss)
}

func TestValidationCacheSkipsTransientVerdicts(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 10, 0, time.UTC)}
	vc, _, _ := newStores(clock)

	in := models.DecisionInput{Symbol: "BTCUSDT", Timeframe: models.TF1h, EvaluatedAt: clock.Now()}
	for _, r := range []models.InvalidReason{models.ReasonGraceWindow, models.ReasonNoKlines, models.ReasonStaleKlines, models.ReasonSwitchedOff} {
		assert.False(t, vc.Put(ctx, "default", "BTCUSDT", models.TF1h, models.NewInvalidDecision(in, r)), r)
	}

	assert.True(t, vc.Put(ctx, "default", "BTCUSDT", models.TF1h, models.NewInvalidDecision(in, models.ReasonNoLongNoShort)))
	d, ok := vc.Get(ctx, "default", "BTCUSDT", models.TF1h)
	require.True(t, ok)
	assert.True(t, d.Neutral())
}

func TestValidationCacheKeysAreProfileScoped(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)}
	vc, _, _ := newStores(clock)

	require.True(t, vc.Put(ctx, "default", "BTCUSDT", models.TF4h, longDecision(models.TF4h, clock.Now())))
	_, ok := vc.Get(ctx, "strict_swing", "BTCUSDT", models.TF4h)
	assert.False(t, ok)

	require.NoError(t, vc.Invalidate(ctx, "default"))
	_, ok = vc.Get(ctx, "default", "BTCUSDT", models.TF4h)
	assert.False(t, ok)
}

func TestValidationCacheStoreFailureIsMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	store := pkgcache.NewRedisCacheWithClient(rdb, "sg")
	m := &countingMetrics{}
	vc := NewValidationCache(store, logger.Nop(), m)

	mock.ExpectGet("sg:validation:default:BTCUSDT:1h").SetErr(errors.New("connection refused"))

	_, ok := vc.Get(context.Background(), "default", "BTCUSDT", models.TF1h)
	assert.False(t, ok)
	assert.Equal(t, []string{"cache_read"}, m.errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func symbolBlocked(t *testing.T, ss *SwitchStore, symbol string) (models.Switch, bool) {
	t.Helper()
	st, err := ss.State(context.Background(), symbol, nil)
	require.NoError(t, err)
	if !st.Blocked() {
		return models.Switch{}, false
	}
	return *st.Blocking, true
}

func TestSwitchStoreScopes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	_, ss, _ := newStores(clock)

	_, blocked := symbolBlocked(t, ss, "ETHUSDT")
	assert.False(t, blocked)

	_, err := ss.Engage(ctx, models.SymbolSwitch("ETHUSDT"), "exposure", 4*time.Hour)
	require.NoError(t, err)
	sw, blocked := symbolBlocked(t, ss, "ETHUSDT")
	assert.True(t, blocked)
	assert.Equal(t, "exposure", sw.Reason)
	assert.Equal(t, models.SymbolSwitch("ETHUSDT"), sw.Key)

	_, blocked = symbolBlocked(t, ss, "BTCUSDT")
	assert.False(t, blocked)

	_, err = ss.Engage(ctx, models.GlobalSwitch, "maintenance", 0)
	require.NoError(t, err)
	sw, blocked = symbolBlocked(t, ss, "ETHUSDT")
	assert.True(t, blocked)
	assert.Equal(t, models.GlobalSwitch, sw.Key)

	require.NoError(t, ss.Clear(ctx, models.GlobalSwitch))
	_, blocked = symbolBlocked(t, ss, "BTCUSDT")
	assert.False(t, blocked)

	clock.Set(clock.Now().Add(4 * time.Hour))
	_, blocked = symbolBlocked(t, ss, "ETHUSDT")
	assert.False(t, blocked)
}

func TestSwitchStoreTimeframeScope(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	_, ss, _ := newStores(clock)

	_, err := ss.Engage(ctx, models.SymbolTFSwitch("BTCUSDT", models.TF5m), "manual", time.Hour)
	require.NoError(t, err)
	_, err = ss.Engage(ctx, models.SymbolTFSwitch("BTCUSDT", models.TF15m), "manual", time.Minute)
	require.NoError(t, err)
	clock.Set(clock.Now().Add(time.Minute))

	st, err := ss.State(ctx, "BTCUSDT", []models.Timeframe{models.TF15m, models.TF5m, models.TF1m})
	require.NoError(t, err)
	assert.False(t, st.Blocked())
	assert.True(t, st.TimeframeOff(models.TF5m))
	assert.Equal(t, models.SymbolTFSwitch("BTCUSDT", models.TF5m), st.Timeframes[models.TF5m].Key)
	assert.False(t, st.TimeframeOff(models.TF15m), "expired")
	assert.False(t, st.TimeframeOff(models.TF1m))

	st, err = ss.State(ctx, "ETHUSDT", []models.Timeframe{models.TF5m})
	require.NoError(t, err)
	assert.False(t, st.TimeframeOff(models.TF5m))
}

func TestSwitchStoreInvalidStreak(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	_, ss, _ := newStores(clock)

	for want := int64(1); want <= 3; want++ {
		n, err := ss.RecordInvalid(ctx, "SOLUSDT")
		require.NoError(t, err)
		assert.Equal(t, want, n)
		clock.Set(clock.Now().Add(6 * 24 * time.Hour))
	}
	require.NoError(t, ss.ResetInvalid(ctx, "SOLUSDT"))
	n, err := ss.RecordInvalid(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Set(clock.Now().Add(streakTTL))
	n, err = ss.RecordInvalid(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "streak lapses after a quiet week")
}

func TestSwitchStoreLocks(t *testing.T) {
	ctx := context.Background()
	_, ss, _ := newStores(&fakeClock{t: time.Now()})

	ok, err := ss.TryLock(ctx, "BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = ss.TryLock(ctx, "BTCUSDT", time.Minute)
	assert.False(t, ok)
	require.NoError(t, ss.Unlock(ctx, "BTCUSDT"))
	ok, _ = ss.TryLock(ctx, "BTCUSDT", time.Minute)
	assert.True(t, ok)
}

func TestSwitchStoreRedisKeys(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ss := NewSwitchStore(pkgcache.NewRedisCacheWithClient(rdb, "sg"), WithClock(func() time.Time { return now }))

	mock.ExpectMGet("sg:switch:GLOBAL", "sg:switch:SYMBOL:BTCUSDT", "sg:switch:SYMBOL_TF:BTCUSDT:1h", "sg:switch:SYMBOL_TF:BTCUSDT:5m").
		SetVal([]interface{}{nil, nil, `{"key":"SYMBOL_TF:BTCUSDT:5m","active":true,"reason":"manual"}`, nil})
	mock.ExpectTxPipeline()
	mock.ExpectIncr("sg:streak:BTCUSDT").SetVal(2)
	mock.ExpectExpire("sg:streak:BTCUSDT", streakTTL).SetVal(true)
	mock.ExpectTxPipelineExec()

	st, err := ss.State(context.Background(), "BTCUSDT", []models.Timeframe{models.TF1h, models.TF5m})
	require.NoError(t, err)
	assert.False(t, st.Blocked())
	assert.False(t, st.TimeframeOff(models.TF1h))
	assert.True(t, st.TimeframeOff(models.TF5m))

	n, err := ss.RecordInvalid(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwitchStoreStreakFailureSurfaces(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	ss := NewSwitchStore(pkgcache.NewRedisCacheWithClient(rdb, "sg"))

	mock.ExpectTxPipeline()
	mock.ExpectIncr("sg:streak:BTCUSDT").SetErr(errors.New("connection reset"))
	mock.ExpectExpire("sg:streak:BTCUSDT", streakTTL).SetVal(true)
	mock.ExpectTxPipelineExec()

	_, err := ss.RecordInvalid(context.Background(), "BTCUSDT")
	assert.ErrorContains(t, err, "increment streak BTCUSDT")
}

func TestSwitchStoreReadFailure(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	ss := NewSwitchStore(pkgcache.NewRedisCacheWithClient(rdb, "sg"))

	mock.ExpectMGet("sg:switch:GLOBAL", "sg:switch:SYMBOL:BTCUSDT").SetErr(errors.New("connection refused"))

	st, err := ss.State(context.Background(), "BTCUSDT", nil)
	assert.ErrorContains(t, err, "read switches BTCUSDT")
	assert.False(t, st.Blocked())
}
