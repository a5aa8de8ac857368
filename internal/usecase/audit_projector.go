package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"
)

// ProjectionStats counts what a projection wrote.
type ProjectionStats struct {
	Handoffs        int
	HandoffFailures int
	AuditRows       int
	StateRows       int
	PersistFailed   bool
}

// AuditProjector hands READY results to the decision sink and persists audit
// and timeframe state rows. Persistence never blocks the handoff.
type AuditProjector struct {
	store   domrepo.AuditStore
	sink    domrepo.DecisionSink
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewAuditProjector(store domrepo.AuditStore, sink domrepo.DecisionSink, metrics domrepo.Metrics, log *logger.Logger) *AuditProjector {
	return &AuditProjector{store: store, sink: sink, metrics: metrics, log: log, now: time.Now}
}

// DecisionKey is <symbol>:<side>:<tf>:<candle unix>, stable within a candle.
func DecisionKey(symbol string, side models.Signal, tf models.Timeframe, candle time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", symbol, side, tf, candle.Unix())
}

// Project runs the handoff first, then audit and state persistence. In dry-run
// nothing is handed off.
func (a *AuditProjector) Project(ctx context.Context, runID string, results []models.SymbolResult, dryRun bool) ProjectionStats {
	var stats ProjectionStats
	now := a.now().UTC()

	if !dryRun {
		for _, r := range results {
			if !r.Tradable() {
				continue
			}
			d := a.tradeDecision(runID, r, now)
			if err := a.sink.Publish(ctx, d); err != nil {
				stats.HandoffFailures++
				a.metrics.RecordError("handoff")
				a.log.Error("decision handoff failed",
					logger.String("decision_key", d.DecisionKey),
					logger.Error(err),
				)
				continue
			}
			stats.Handoffs++
		}
	}

	records := make([]models.AuditRecord, 0, len(results))
	var states []models.StateRecord
	for _, r := range results {
		decisions := resultDecisions(r)
		records = append(records, models.AuditRecord{
			RunID:              runID,
			Symbol:             r.Symbol,
			Status:             r.Status,
			Side:               r.Side,
			ExecutionTimeframe: r.ExecutionTimeframe,
			Reason:             r.Reason,
			Decisions:          decisions,
			Error:              r.Error,
			DryRun:             dryRun,
			CreatedAt:          now,
		})
		states = append(states, stateRows(decisions, now)...)
	}

	if err := a.store.AppendAudit(ctx, records); err != nil {
		stats.PersistFailed = true
		a.metrics.RecordError("audit_persist")
		a.log.Error("audit persist failed", logger.String("run_id", runID), logger.Error(err))
	} else {
		stats.AuditRows = len(records)
	}
	if err := a.store.UpsertStates(ctx, states); err != nil {
		stats.PersistFailed = true
		a.metrics.RecordError("state_persist")
		a.log.Error("state persist failed", logger.String("run_id", runID), logger.Error(err))
	} else {
		stats.StateRows = len(states)
	}
	return stats
}

func (a *AuditProjector) tradeDecision(runID string, r models.SymbolResult, now time.Time) models.TradeDecision {
	var candle time.Time
	if r.Execution != nil {
		if d, ok := r.Execution.PerTimeframe[r.ExecutionTimeframe]; ok {
			candle = candleTime(d)
		}
	}
	if candle.IsZero() {
		candle = r.ExecutionTimeframe.LastClosedOpen(r.FinishedAt)
	}
	return models.TradeDecision{
		DecisionKey: DecisionKey(r.Symbol, r.Side, r.ExecutionTimeframe, candle),
		RunID:       runID,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Timeframe:   r.ExecutionTimeframe,
		CandleTime:  candle,
		CreatedAt:   now,
	}
}

// candleTime recovers the snapshot candle from a decision; zero when the
// decision was made without a snapshot.
func candleTime(d models.TimeframeDecision) time.Time {
	if d.EvaluatedAt.IsZero() {
		return time.Time{}
	}
	return d.EvaluatedAt.Add(-d.Timeframe.Duration()).UTC()
}

// resultDecisions flattens context then execution decisions, coarse to fine.
func resultDecisions(r models.SymbolResult) []models.TimeframeDecision {
	var out []models.TimeframeDecision
	for _, per := range []map[models.Timeframe]models.TimeframeDecision{contextOf(r), executionOf(r)} {
		start := len(out)
		for _, d := range per {
			out = append(out, d)
		}
		part := out[start:]
		sort.Slice(part, func(i, j int) bool {
			return part[j].Timeframe.Finer(part[i].Timeframe)
		})
	}
	return out
}

func contextOf(r models.SymbolResult) map[models.Timeframe]models.TimeframeDecision {
	if r.Context == nil {
		return nil
	}
	return r.Context.PerTimeframe
}

func executionOf(r models.SymbolResult) map[models.Timeframe]models.TimeframeDecision {
	if r.Execution == nil {
		return nil
	}
	return r.Execution.PerTimeframe
}

// stateRows keeps one row per timeframe; a later phase overwrites an earlier one.
func stateRows(decisions []models.TimeframeDecision, now time.Time) []models.StateRecord {
	idx := make(map[models.Timeframe]int, len(decisions))
	var out []models.StateRecord
	for _, d := range decisions {
		row := models.StateRecord{
			Symbol:     d.Symbol,
			Timeframe:  d.Timeframe,
			Phase:      d.Phase,
			Side:       d.Signal,
			Valid:      d.Valid,
			Reason:     d.InvalidReason,
			CandleTime: candleTime(d),
			UpdatedAt:  now,
		}
		if i, ok := idx[d.Timeframe]; ok {
			out[i] = row
			continue
		}
		idx[d.Timeframe] = len(out)
		out = append(out, row)
	}
	return out
}
