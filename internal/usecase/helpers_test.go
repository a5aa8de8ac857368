package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	svccache "SignalGate/internal/service/cache"
	svcmetrics "SignalGate/internal/service/metrics"
	"SignalGate/internal/services/decision"
	pkgcache "SignalGate/pkg/cache"
	"SignalGate/pkg/logger"
)

const testProfiles = `
default:
  mode: pragmatic
  context_timeframes: [4h, 1h]
  execution_timeframes: [15m, 5m, 1m]
  rules:
    trend_up: {op: gt, value: close, ref: ema.50}
    trend_down: {op: lt, value: close, ref: ema.50}
    rsi_bull: {op: gte, value: rsi, threshold: 55}
    rsi_bear: {op: lte, value: rsi, threshold: 45}
    volume_ratio_ok: {op: gte, value: volume_ratio, threshold: 1}
    long_setup: {all_of: [trend_up, rsi_bull]}
    short_setup: {all_of: [trend_down, rsi_bear]}
  timeframes:
    4h: {long: long_setup, short: short_setup}
    1h: {long: long_setup, short: short_setup}
    15m: {long: long_setup, short: short_setup}
    5m: {long: long_setup, short: short_setup}
    1m: {long: long_setup, short: short_setup}
  filters_mandatory: [volume_ratio_ok]
`

var testNow = time.Date(2024, 5, 6, 12, 30, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func snap(tf models.Timeframe, close, rsi, volume float64, at time.Time) *models.IndicatorSnapshot {
	return &models.IndicatorSnapshot{
		Timeframe:  tf,
		CandleTime: tf.LastClosedOpen(at),
		Values:     map[string]float64{"close": close, "ema.50": 100, "rsi": rsi, "volume_ratio": volume},
	}
}

func long(tf models.Timeframe) *models.IndicatorSnapshot    { return snap(tf, 110, 62, 1.4, testNow) }
func short(tf models.Timeframe) *models.IndicatorSnapshot   { return snap(tf, 90, 38, 1.4, testNow) }
func neutral(tf models.Timeframe) *models.IndicatorSnapshot { return snap(tf, 100, 50, 1.4, testNow) }

// scenarioA: context long on 4h and 1h, only 1m aligned for execution.
func scenarioA() map[models.Timeframe]*models.IndicatorSnapshot {
	return map[models.Timeframe]*models.IndicatorSnapshot{
		models.TF4h:  long(models.TF4h),
		models.TF1h:  long(models.TF1h),
		models.TF15m: neutral(models.TF15m),
		models.TF5m:  neutral(models.TF5m),
		models.TF1m:  long(models.TF1m),
	}
}

type fakeProvider struct {
	mu       sync.Mutex
	snaps    map[string]map[models.Timeframe]*models.IndicatorSnapshot
	fallback map[models.Timeframe]*models.IndicatorSnapshot
	errs     map[string]error
	panics   map[string]bool
	calls    map[string]int
	fetched  map[string][]models.Timeframe
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		snaps:   map[string]map[models.Timeframe]*models.IndicatorSnapshot{},
		errs:    map[string]error{},
		panics:  map[string]bool{},
		calls:   map[string]int{},
		fetched: map[string][]models.Timeframe{},
	}
}

func (f *fakeProvider) GetIndicators(_ context.Context, symbol string, tfs []models.Timeframe, _ time.Time) (map[models.Timeframe]*models.IndicatorSnapshot, error) {
	f.mu.Lock()
	f.calls[symbol]++
	f.fetched[symbol] = append([]models.Timeframe(nil), tfs...)
	err, doPanic := f.errs[symbol], f.panics[symbol]
	src, ok := f.snaps[symbol]
	if !ok {
		src = f.fallback
	}
	f.mu.Unlock()

	if doPanic {
		panic("provider exploded")
	}
	if err != nil {
		return nil, err
	}
	out := make(map[models.Timeframe]*models.IndicatorSnapshot, len(tfs))
	for _, tf := range tfs {
		if s, ok := src[tf]; ok {
			cp := *s
			cp.Symbol = symbol
			out[tf] = &cp
		}
	}
	return out, nil
}

func (f *fakeProvider) Calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

type fakePositions struct {
	positions []models.Position
	orders    []models.Order
	err       error
}

func (f *fakePositions) GetOpenPositions(context.Context, string) ([]models.Position, error) {
	return f.positions, f.err
}

func (f *fakePositions) GetOpenOrders(context.Context, string) ([]models.Order, error) {
	return f.orders, f.err
}

type fakeSink struct {
	mu        sync.Mutex
	decisions []models.TradeDecision
	err       error
}

func (s *fakeSink) Publish(_ context.Context, d models.TradeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *fakeSink) Close() error { return nil }

type fakeAuditStore struct {
	mu      sync.Mutex
	records []models.AuditRecord
	states  []models.StateRecord
	err     error
}

func (s *fakeAuditStore) AppendAudit(_ context.Context, r []models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r...)
	return nil
}

func (s *fakeAuditStore) UpsertStates(_ context.Context, st []models.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.states = append(s.states, st...)
	return nil
}

func (s *fakeAuditStore) Health(context.Context) error { return s.err }

type env struct {
	clock     *testClock
	profile   *decision.Profile
	profiles  map[string]*decision.Profile
	provider  *fakeProvider
	positions *fakePositions
	sink      *fakeSink
	store     *fakeAuditStore
	cache     *svccache.ValidationCache
	switches  *svccache.SwitchStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	profiles, err := decision.ParseProfiles([]byte(testProfiles))
	require.NoError(t, err)
	clock := &testClock{t: testNow}
	mem := pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clock.Now), pkgcache.WithMemoryCleanup(0))
	return &env{
		clock:     clock,
		profile:   profiles["default"],
		profiles:  profiles,
		provider:  newFakeProvider(),
		positions: &fakePositions{},
		sink:      &fakeSink{},
		store:     &fakeAuditStore{},
		cache:     svccache.NewValidationCache(mem, logger.Nop(), svcmetrics.Nop{}, svccache.WithClock(clock.Now)),
		switches:  svccache.NewSwitchStore(mem, svccache.WithClock(clock.Now)),
	}
}

func (e *env) pipeline(opts ...PipelineOption) *Pipeline {
	opts = append([]PipelineOption{WithPipelineClock(e.clock.Now)}, opts...)
	return NewPipeline(e.profile, e.provider, e.cache, e.switches, svcmetrics.Nop{}, logger.Nop(), opts...)
}

func (e *env) orchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = "default"
	}
	projector := NewAuditProjector(e.store, e.sink, svcmetrics.Nop{}, logger.Nop())
	n := 0
	return NewOrchestrator(cfg, e.profiles, e.provider, e.positions, e.cache, e.switches, projector,
		NewRunRegistry(10), svcmetrics.Nop{}, logger.Nop(),
		WithOrchestratorClock(e.clock.Now),
		WithRunIDFunc(func() string {
			n++
			return fmt.Sprintf("run-%d", n)
		}),
	)
}

func (e *env) blocked(t *testing.T, symbol string) (models.Switch, bool) {
	t.Helper()
	st, err := e.switches.State(context.Background(), symbol, nil)
	require.NoError(t, err)
	if !st.Blocked() {
		return models.Switch{}, false
	}
	return *st.Blocking, true
}

var errBoom = errors.New("boom")
