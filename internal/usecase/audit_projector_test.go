package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	svcmetrics "SignalGate/internal/service/metrics"
	"SignalGate/pkg/logger"
)

func readyResult(symbol string) models.SymbolResult {
	in := func(tf models.Timeframe, phase models.Phase) models.DecisionInput {
		return models.DecisionInput{
			Symbol:      symbol,
			Timeframe:   tf,
			Phase:       phase,
			EvaluatedAt: tf.LastClosedOpen(testNow).Add(tf.Duration()),
		}
	}
	return models.SymbolResult{
		Symbol:             symbol,
		Status:             models.StatusReady,
		Side:               models.SignalShort,
		ExecutionTimeframe: models.TF5m,
		Context: &models.ConsensusDecision{Valid: true, Bias: models.SignalShort, PerTimeframe: map[models.Timeframe]models.TimeframeDecision{
			models.TF1h: models.NewValidDecision(in(models.TF1h, models.PhaseContext), models.SignalShort),
			models.TF4h: models.NewValidDecision(in(models.TF4h, models.PhaseContext), models.SignalShort),
		}},
		Execution: &models.ExecutionSelection{Timeframe: models.TF5m, Side: models.SignalShort, PerTimeframe: map[models.Timeframe]models.TimeframeDecision{
			models.TF5m:  models.NewValidDecision(in(models.TF5m, models.PhaseExecution), models.SignalShort),
			models.TF15m: models.NewInvalidDecision(in(models.TF15m, models.PhaseExecution), models.ReasonNoLongNoShort),
		}},
		FinishedAt: testNow,
	}
}

func TestDecisionKey(t *testing.T) {
	candle := time.Date(2024, 5, 6, 12, 25, 0, 0, time.UTC)
	assert.Equal(t, "BTCUSDT:short:5m:1714998300", DecisionKey("BTCUSDT", models.SignalShort, models.TF5m, candle))
}

func TestProjectHandsOffReadyResults(t *testing.T) {
	sink, store := &fakeSink{}, &fakeAuditStore{}
	a := NewAuditProjector(store, sink, svcmetrics.Nop{}, logger.Nop())
	a.now = func() time.Time { return testNow }

	results := []models.SymbolResult{
		readyResult("BTCUSDT"),
		{Symbol: "ETHUSDT", Status: models.StatusInvalid, Reason: "pragmatic_context_all_neutral"},
		{Symbol: "SOLUSDT", Status: models.StatusError, Reason: ReasonFetchFailed, Error: "boom"},
	}
	stats := a.Project(context.Background(), "run-9", results, false)

	assert.Equal(t, ProjectionStats{Handoffs: 1, AuditRows: 3, StateRows: 4}, stats)
	require.Len(t, sink.decisions, 1)
	d := sink.decisions[0]
	assert.Equal(t, DecisionKey("BTCUSDT", models.SignalShort, models.TF5m, time.Date(2024, 5, 6, 12, 25, 0, 0, time.UTC)), d.DecisionKey)
	assert.Equal(t, testNow, d.CreatedAt)

	require.Len(t, store.records, 3)
	tfs := make([]models.Timeframe, 0, 4)
	for _, dec := range store.records[0].Decisions {
		tfs = append(tfs, dec.Timeframe)
	}
	assert.Equal(t, []models.Timeframe{models.TF4h, models.TF1h, models.TF15m, models.TF5m}, tfs)
	assert.Equal(t, "boom", store.records[2].Error)

	require.Len(t, store.states, 4)
	assert.Equal(t, time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC), store.states[0].CandleTime)
	assert.Equal(t, models.ReasonNoLongNoShort, store.states[2].Reason)
}

func TestProjectPersistenceFailureKeepsHandoff(t *testing.T) {
	sink, store := &fakeSink{}, &fakeAuditStore{err: errBoom}
	a := NewAuditProjector(store, sink, svcmetrics.Nop{}, logger.Nop())

	stats := a.Project(context.Background(), "run-1", []models.SymbolResult{readyResult("BTCUSDT")}, false)

	assert.True(t, stats.PersistFailed)
	assert.Equal(t, 1, stats.Handoffs)
	assert.Zero(t, stats.AuditRows)
	assert.Len(t, sink.decisions, 1)
}

func TestProjectHandoffFailureIsCounted(t *testing.T) {
	sink, store := &fakeSink{err: errBoom}, &fakeAuditStore{}
	a := NewAuditProjector(store, sink, svcmetrics.Nop{}, logger.Nop())

	stats := a.Project(context.Background(), "run-1", []models.SymbolResult{readyResult("BTCUSDT"), readyResult("ETHUSDT")}, false)

	assert.Equal(t, 2, stats.HandoffFailures)
	assert.Zero(t, stats.Handoffs)
	assert.Len(t, store.records, 2)
}

func TestStateRowsLaterPhaseWins(t *testing.T) {
	ctxIn := models.DecisionInput{Symbol: "BTCUSDT", Timeframe: models.TF1h, Phase: models.PhaseContext}
	execIn := ctxIn
	execIn.Phase = models.PhaseExecution

	rows := stateRows([]models.TimeframeDecision{
		models.NewValidDecision(ctxIn, models.SignalLong),
		models.NewInvalidDecision(execIn, models.ReasonNoKlines),
	}, testNow)

	require.Len(t, rows, 1)
	assert.Equal(t, models.PhaseExecution, rows[0].Phase)
	assert.False(t, rows[0].Valid)
	assert.True(t, rows[0].CandleTime.IsZero())
}
