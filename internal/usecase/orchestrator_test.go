package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/decision"
)

func batch(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("S%03dUSDT", i)
	}
	return out
}

func TestOrchestratorBatchWithExposure(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	symbols := batch(100)
	for _, s := range symbols[:10] {
		e.positions.positions = append(e.positions.positions, models.Position{Symbol: s, Side: "long", Quantity: 1})
	}
	o := e.orchestrator(OrchestratorConfig{Workers: 4, ExposureCooldown: 4 * time.Hour})

	var events []models.ProgressEvent
	summary, err := o.Run(context.Background(), RunRequest{Symbols: symbols}, func(ev models.ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunDone, summary.State)
	assert.Equal(t, 100, summary.SymbolsRequested)
	assert.Equal(t, 90, summary.SymbolsProcessed)
	assert.Equal(t, 90, summary.Counts[models.StatusReady])
	assert.Equal(t, 10, summary.Counts[models.StatusIgnored])
	assert.Equal(t, ReasonExposed, summary.Results["S003USDT"].Reason)
	assert.Equal(t, 1.0, summary.SuccessRate)
	assert.Equal(t, 0, ExitCode(summary))

	assert.Zero(t, e.provider.Calls("S003USDT"))
	assert.Len(t, e.sink.decisions, 90)
	assert.Len(t, e.store.records, 100)

	require.Len(t, events, 90)
	assert.Equal(t, 100.0, events[len(events)-1].Percent)
	assert.Equal(t, "run-1", events[0].RunID)

	sw, blocked := e.blocked(t, "S003USDT")
	assert.True(t, blocked)
	assert.Equal(t, "exposure", sw.Reason)

	stored, ok := o.Runs().Get("run-1")
	require.True(t, ok)
	assert.Equal(t, models.RunDone, stored.State)
}

func TestOrchestratorHandoffKey(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	o := e.orchestrator(OrchestratorConfig{})

	_, err := o.Run(context.Background(), RunRequest{Symbols: []string{"btcusdt"}}, nil)
	require.NoError(t, err)

	require.Len(t, e.sink.decisions, 1)
	d := e.sink.decisions[0]
	candle := time.Date(2024, 5, 6, 12, 29, 0, 0, time.UTC)
	assert.Equal(t, fmt.Sprintf("BTCUSDT:long:1m:%d", candle.Unix()), d.DecisionKey)
	assert.Equal(t, candle, d.CandleTime)
	assert.Equal(t, "run-1", d.RunID)
}

func TestOrchestratorDryRun(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	e.positions.orders = []models.Order{{Symbol: "ethusdt", OrderID: "1", Side: "buy"}}
	o := e.orchestrator(OrchestratorConfig{ExposureCooldown: time.Hour})

	summary, err := o.Run(context.Background(), RunRequest{Symbols: []string{"BTCUSDT", "ETHUSDT"}, DryRun: true}, nil)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Counts[models.StatusReady])
	assert.Equal(t, ReasonExposed, summary.Results["ETHUSDT"].Reason)
	assert.Empty(t, e.sink.decisions)
	require.Len(t, e.store.records, 2)
	assert.True(t, e.store.records[0].DryRun)

	_, blocked := e.blocked(t, "ETHUSDT")
	assert.False(t, blocked)
}

func TestOrchestratorCancelledBeforeDispatch(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	e.positions.positions = []models.Position{{Symbol: "ETHUSDT", Quantity: 2}}
	o := e.orchestrator(OrchestratorConfig{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := o.Run(ctx, RunRequest{Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunCancelled, summary.State)
	assert.Zero(t, summary.SymbolsProcessed)
	assert.Equal(t, 1, summary.Counts[models.StatusIgnored])
	assert.Zero(t, e.provider.Calls("BTCUSDT"))
	assert.Empty(t, e.store.records)
	assert.Empty(t, e.sink.decisions)
	assert.Equal(t, 1, ExitCode(summary))
}

func TestOrchestratorIsolatesSymbolFailures(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	e.provider.errs["ETHUSDT"] = errBoom
	e.provider.panics["SOLUSDT"] = true
	o := e.orchestrator(OrchestratorConfig{Workers: 3})

	summary, err := o.Run(context.Background(), RunRequest{Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunDone, summary.State)
	assert.Equal(t, 2, summary.Counts[models.StatusReady])
	assert.Equal(t, 2, summary.Counts[models.StatusError])
	assert.Equal(t, ReasonFetchFailed, summary.Results["ETHUSDT"].Reason)
	assert.Equal(t, ReasonPanic, summary.Results["SOLUSDT"].Reason)
	assert.InDelta(t, 0.5, summary.SuccessRate, 1e-9)
	assert.Equal(t, 1, ExitCode(summary))
	assert.Len(t, e.sink.decisions, 2)
}

func TestOrchestratorPrefilterFailureFailsClosed(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	e.positions.err = errBoom
	o := e.orchestrator(OrchestratorConfig{})

	summary, err := o.Run(context.Background(), RunRequest{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Counts[models.StatusError])
	assert.Equal(t, reasonPrefilterFailed, summary.Results["BTCUSDT"].Reason)
	assert.Zero(t, e.provider.Calls("BTCUSDT"))
	assert.Empty(t, e.sink.decisions)
	assert.Equal(t, 1, ExitCode(summary))
}

func TestOrchestratorInvalidStreakSwitchesSymbolOff(t *testing.T) {
	e := newEnv(t)
	conflict := scenarioA()
	conflict[models.TF1h] = short(models.TF1h)
	e.provider.snaps["BTCUSDT"] = conflict
	e.provider.fallback = scenarioA()
	o := e.orchestrator(OrchestratorConfig{StreakThreshold: 2, SwitchDuration: 24 * time.Hour})
	ctx := context.Background()
	req := RunRequest{Symbols: []string{"BTCUSDT", "ETHUSDT"}, AutoSwitchInvalid: true, SwitchDuration: 12 * time.Hour}

	for i := 0; i < 2; i++ {
		summary, err := o.Run(ctx, req, nil)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInvalid, summary.Results["BTCUSDT"].Status)
	}

	sw, blocked := e.blocked(t, "BTCUSDT")
	require.True(t, blocked)
	assert.Equal(t, "invalid_streak", sw.Reason)
	assert.True(t, testNow.Add(12*time.Hour).Equal(sw.ExpiresAt))

	summary, err := o.Run(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIgnored, summary.Results["BTCUSDT"].Status)
	assert.Equal(t, models.StatusReady, summary.Results["ETHUSDT"].Status)

	_, blocked = e.blocked(t, "ETHUSDT")
	assert.False(t, blocked)
}

func TestOrchestratorLaggingSnapshotKeepsStreak(t *testing.T) {
	e := newEnv(t)
	boundary := time.Date(2024, 5, 6, 12, 0, 10, 0, time.UTC)
	e.clock.Set(boundary)
	e.provider.fallback = map[models.Timeframe]*models.IndicatorSnapshot{
		models.TF4h:  snap(models.TF4h, 110, 62, 1.4, boundary),
		models.TF1h:  snap(models.TF1h, 110, 62, 1.4, boundary.Add(-time.Hour)),
		models.TF15m: snap(models.TF15m, 110, 62, 1.4, boundary),
		models.TF5m:  snap(models.TF5m, 110, 62, 1.4, boundary),
		models.TF1m:  snap(models.TF1m, 110, 62, 1.4, boundary),
	}
	o := e.orchestrator(OrchestratorConfig{GraceWindow: 30 * time.Second, StreakThreshold: 2, SwitchDuration: 24 * time.Hour})
	ctx := context.Background()
	req := RunRequest{Symbols: []string{"BTCUSDT"}, AutoSwitchInvalid: true}

	for i := 0; i < 3; i++ {
		summary, err := o.Run(ctx, req, nil)
		require.NoError(t, err)
		res := summary.Results["BTCUSDT"]
		require.Equal(t, models.StatusInvalid, res.Status)
		assert.Equal(t, models.ReasonGraceWindow, res.Context.PerTimeframe[models.TF1h].InvalidReason)
	}

	_, blocked := e.blocked(t, "BTCUSDT")
	assert.False(t, blocked)

	// a market verdict still counts from zero
	n, err := e.switches.RecordInvalid(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOrchestratorStreakNeedsOptIn(t *testing.T) {
	e := newEnv(t)
	conflict := scenarioA()
	conflict[models.TF1h] = short(models.TF1h)
	e.provider.fallback = conflict
	o := e.orchestrator(OrchestratorConfig{StreakThreshold: 1, SwitchDuration: time.Hour})

	_, err := o.Run(context.Background(), RunRequest{Symbols: []string{"BTCUSDT"}}, nil)
	require.NoError(t, err)

	_, blocked := e.blocked(t, "BTCUSDT")
	assert.False(t, blocked)
}

func TestOrchestratorSymbolLock(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	ctx := context.Background()
	held, err := e.switches.TryLock(ctx, "BTCUSDT", time.Minute)
	require.NoError(t, err)
	require.True(t, held)
	o := e.orchestrator(OrchestratorConfig{SymbolLock: true, LockTTL: time.Minute})

	summary, err := o.Run(ctx, RunRequest{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusIgnored, summary.Results["BTCUSDT"].Status)
	assert.Equal(t, ReasonLocked, summary.Results["BTCUSDT"].Reason)
	assert.Equal(t, models.StatusReady, summary.Results["ETHUSDT"].Status)

	free, err := e.switches.TryLock(ctx, "ETHUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, free, "lock is released after evaluation")
}

func TestOrchestratorRejectsBadRequests(t *testing.T) {
	e := newEnv(t)
	o := e.orchestrator(OrchestratorConfig{})
	ctx := context.Background()

	_, err := o.Run(ctx, RunRequest{Profile: "swing", Symbols: []string{"BTCUSDT"}}, nil)
	assert.ErrorIs(t, err, decision.ErrProfileNotFound)

	_, err = o.Run(ctx, RunRequest{Symbols: []string{" ", ""}}, nil)
	assert.ErrorIs(t, err, ErrNoSymbols)

	_, err = o.Run(ctx, RunRequest{Symbols: []string{"BTCUSDT"}, Timeframe: "7m"}, nil)
	assert.Error(t, err)

	_, err = o.Run(ctx, RunRequest{Symbols: []string{"BTCUSDT"}, Timeframe: models.TF1h}, nil)
	assert.ErrorContains(t, err, "not an execution timeframe")

	o.active.Store(true)
	_, err = o.Run(ctx, RunRequest{Symbols: []string{"BTCUSDT"}}, nil)
	assert.ErrorIs(t, err, ErrRunActive)
	_, err = o.Submit(RunRequest{Symbols: []string{"BTCUSDT"}})
	assert.ErrorIs(t, err, ErrRunActive)
}

func TestOrchestratorSubmit(t *testing.T) {
	e := newEnv(t)
	e.provider.fallback = scenarioA()
	o := e.orchestrator(OrchestratorConfig{})
	defer o.Close()

	id, err := o.Submit(RunRequest{RunID: "manual-1", Symbols: []string{"BTCUSDT"}, Timeframe: models.TF1m})
	require.NoError(t, err)
	assert.Equal(t, "manual-1", id)
	o.Wait()

	got, ok := o.Runs().Get(id)
	require.True(t, ok)
	assert.Equal(t, models.RunDone, got.State)
	assert.Equal(t, 1, got.Counts[models.StatusReady])
	assert.False(t, o.active.Load())
}

func TestPartitionRoundRobin(t *testing.T) {
	parts := partition([]string{"A", "B", "C", "D", "E"}, 2)
	assert.Equal(t, [][]string{{"A", "C", "E"}, {"B", "D"}}, parts)
}
