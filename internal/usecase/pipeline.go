package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/decision"
	"SignalGate/pkg/logger"
)

// Reasons attached to non-decision outcomes.
const (
	ReasonFetchFailed = "FETCH_FAILED"
	ReasonPanic       = "PANIC"
	ReasonExposed     = "EXPOSED"
	ReasonLocked      = "locked"
)

// DecisionCache is the read-through store for timeframe decisions.
type DecisionCache interface {
	Get(ctx context.Context, profile, symbol string, tf models.Timeframe) (models.TimeframeDecision, bool)
	Put(ctx context.Context, profile, symbol string, tf models.Timeframe, d models.TimeframeDecision) bool
}

// SwitchStore holds kill-switches, invalid streaks and symbol locks.
type SwitchStore interface {
	State(ctx context.Context, symbol string, tfs []models.Timeframe) (models.SwitchState, error)
	Engage(ctx context.Context, key models.SwitchKey, reason string, d time.Duration) (models.Switch, error)
	RecordInvalid(ctx context.Context, symbol string) (int64, error)
	ResetInvalid(ctx context.Context, symbol string) error
	TryLock(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, symbol string) error
}

// Pipeline evaluates one symbol against a profile: switches, cached and
// fresh timeframe decisions, context consensus and the execution cascade.
// A Pipeline holds no per-symbol state and is safe for concurrent use.
type Pipeline struct {
	profile  *decision.Profile
	provider domrepo.IndicatorProvider
	cache    DecisionCache
	switches SwitchStore
	metrics  domrepo.Metrics
	log      *logger.Logger

	execTFs []models.Timeframe
	grace   time.Duration
	timeout time.Duration
	now     func() time.Time
}

// PipelineOption configures Pipeline.
type PipelineOption func(*Pipeline)

// WithTimeframeFilter restricts the execution cascade to tf.
func WithTimeframeFilter(tf models.Timeframe) PipelineOption {
	return func(p *Pipeline) {
		if tf == "" {
			return
		}
		var out []models.Timeframe
		for _, t := range p.execTFs {
			if t == tf {
				out = append(out, t)
			}
		}
		p.execTFs = out
	}
}

// WithGraceWindow sets how long after a candle boundary a snapshot one candle
// behind yields GRACE_WINDOW instead of STALE_KLINES. Zero allows no lag.
func WithGraceWindow(g time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.grace = g
	}
}

// WithSymbolTimeout bounds one symbol evaluation.
func WithSymbolTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithPipelineClock overrides the wall clock.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

func NewPipeline(
	profile *decision.Profile,
	provider domrepo.IndicatorProvider,
	cache DecisionCache,
	switches SwitchStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		profile:  profile,
		provider: provider,
		cache:    cache,
		switches: switches,
		metrics:  metrics,
		log:      log,
		execTFs:  append([]models.Timeframe(nil), profile.ExecutionTimeframes...),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate never fails: errors and panics become an ERROR result.
func (p *Pipeline) Evaluate(ctx context.Context, symbol string) (res models.SymbolResult) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("symbol evaluation panic",
				logger.String("symbol", symbol),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			p.metrics.RecordError("pipeline_panic")
			res = models.SymbolResult{
				Symbol: symbol,
				Status: models.StatusError,
				Reason: ReasonPanic,
				Error:  fmt.Sprintf("panic: %v", r),
			}
		}
		res.StartedAt = start
		res.FinishedAt = p.now()
		p.metrics.RecordLatency("symbol_evaluation", res.FinishedAt.Sub(start).Seconds())
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res, err := p.evaluate(ctx, symbol)
	if err != nil {
		p.log.Error("symbol evaluation failed", logger.String("symbol", symbol), logger.Error(err))
		p.metrics.RecordError("pipeline_fetch")
		return models.SymbolResult{
			Symbol: symbol,
			Status: models.StatusError,
			Reason: ReasonFetchFailed,
			Error:  err.Error(),
		}
	}
	p.log.Info("symbol evaluated",
		logger.String("symbol", symbol),
		logger.String("status", string(res.Status)),
		logger.String("side", string(res.Side)),
		logger.String("execution_tf", string(res.ExecutionTimeframe)),
		logger.String("reason", res.Reason),
	)
	return res
}

func (p *Pipeline) evaluate(ctx context.Context, symbol string) (models.SymbolResult, error) {
	res := models.SymbolResult{Symbol: symbol}
	ctxTFs := p.profile.ContextTimeframes
	all := union(ctxTFs, p.execTFs)

	sw, err := p.switches.State(ctx, symbol, all)
	if err != nil {
		p.log.Warn("switch read failed", logger.String("symbol", symbol), logger.Error(err))
		p.metrics.RecordError("switch_read")
	}
	if sw.Blocked() {
		res.Status = models.StatusIgnored
		res.Reason = string(models.ReasonSwitchedOff)
		p.log.Info("symbol switched off",
			logger.String("symbol", symbol),
			logger.String("switch", string(sw.Blocking.Key)),
			logger.String("switch_reason", sw.Blocking.Reason),
		)
		return res, nil
	}

	now := p.now()
	decisions := make(map[models.Timeframe]models.TimeframeDecision)
	var misses []models.Timeframe
	for _, tf := range all {
		if sw.TimeframeOff(tf) {
			decisions[tf] = models.NewInvalidDecision(models.DecisionInput{
				Symbol:    symbol,
				Timeframe: tf,
				Phase:     p.phaseOf(tf),
			}, models.ReasonSwitchedOff)
			continue
		}
		if d, ok := p.cache.Get(ctx, p.profile.Name, symbol, tf); ok {
			decisions[tf] = d
			continue
		}
		misses = append(misses, tf)
	}

	// One fetch covers both phases; execution misses are only judged once
	// the context agrees.
	snaps := map[models.Timeframe]*models.IndicatorSnapshot{}
	if fetch := union(misses, p.profile.GateTimeframes()); len(fetch) > 0 {
		start := time.Now()
		snaps, err = p.provider.GetIndicators(ctx, symbol, fetch, now)
		p.metrics.RecordLatency("indicator_fetch", time.Since(start).Seconds())
		if err != nil {
			return res, err
		}
	}

	p.decide(ctx, symbol, ctxTFs, decisions, snaps, now)
	ctxDecisions := make(map[models.Timeframe]models.TimeframeDecision, len(ctxTFs))
	for _, tf := range ctxTFs {
		d := decisions[tf].WithPhase(models.PhaseContext)
		ctxDecisions[tf] = d
		p.logDecision(d)
	}
	consensus := decision.ResolveConsensus(p.profile.Mode, ctxTFs, ctxDecisions)
	res.Context = &consensus
	if !consensus.Valid {
		res.Status = models.StatusInvalid
		res.Reason = consensus.ReasonText
		return res, nil
	}

	p.decide(ctx, symbol, p.execTFs, decisions, snaps, now)
	execDecisions := make(map[models.Timeframe]models.TimeframeDecision, len(p.execTFs))
	for _, tf := range p.execTFs {
		d := decisions[tf].WithPhase(models.PhaseExecution)
		execDecisions[tf] = d
		p.logDecision(d)
	}
	sel := decision.SelectFrom(symbol, p.execTFs, p.profile.Gates, execDecisions, snaps, consensus)
	res.Execution = &sel
	if !sel.Selected() {
		res.Status = models.StatusInvalid
		res.Reason = sel.Reason
		return res, nil
	}

	res.Status = models.StatusReady
	res.ExecutionTimeframe = sel.Timeframe
	res.Side = sel.Side
	return res, nil
}

// decide validates and caches every tf in tfs that has no decision yet.
func (p *Pipeline) decide(ctx context.Context, symbol string, tfs []models.Timeframe, decisions map[models.Timeframe]models.TimeframeDecision, snaps map[models.Timeframe]*models.IndicatorSnapshot, now time.Time) {
	for _, tf := range tfs {
		if _, ok := decisions[tf]; ok {
			continue
		}
		d := p.evaluateTimeframe(symbol, tf, snaps[tf], now)
		p.cache.Put(ctx, p.profile.Name, symbol, tf, d)
		decisions[tf] = d
	}
}

func (p *Pipeline) evaluateTimeframe(symbol string, tf models.Timeframe, snap *models.IndicatorSnapshot, now time.Time) models.TimeframeDecision {
	phase := p.phaseOf(tf)
	if snap != nil {
		if reason := freshness(tf, snap, now, p.grace); reason != models.ReasonNone {
			return models.NewInvalidDecision(models.DecisionInput{
				Symbol:      symbol,
				Timeframe:   tf,
				Phase:       phase,
				EvaluatedAt: snap.CandleTime.Add(tf.Duration()),
			}, reason)
		}
	}
	return decision.ValidateTimeframe(symbol, tf, phase, p.profile, snap)
}

// freshness compares the snapshot candle with the last closed candle at now.
// One candle behind within the grace window is GRACE_WINDOW, anything older
// is STALE_KLINES.
func freshness(tf models.Timeframe, snap *models.IndicatorSnapshot, now time.Time, grace time.Duration) models.InvalidReason {
	want := tf.LastClosedOpen(now)
	if !snap.CandleTime.Before(want) {
		return models.ReasonNone
	}
	if snap.CandleTime.Equal(want.Add(-tf.Duration())) && now.Sub(tf.CandleOpen(now)) < grace {
		return models.ReasonGraceWindow
	}
	return models.ReasonStaleKlines
}

func (p *Pipeline) phaseOf(tf models.Timeframe) models.Phase {
	for _, c := range p.profile.ContextTimeframes {
		if c == tf {
			return models.PhaseContext
		}
	}
	return models.PhaseExecution
}

func (p *Pipeline) logDecision(d models.TimeframeDecision) {
	p.log.Debug("timeframe decision",
		logger.String("symbol", d.Symbol),
		logger.String("timeframe", string(d.Timeframe)),
		logger.String("phase", string(d.Phase)),
		logger.Bool("valid", d.Valid),
		logger.String("signal", string(d.Signal)),
		logger.String("reason", string(d.InvalidReason)),
		logger.Bool("from_cache", d.FromCache),
		logger.Strings("rules_passed", d.RulesPassed),
		logger.Strings("rules_failed", d.RulesFailed),
	)
}

func union(lists ...[]models.Timeframe) []models.Timeframe {
	seen := make(map[models.Timeframe]struct{})
	var out []models.Timeframe
	for _, list := range lists {
		for _, tf := range list {
			if _, ok := seen[tf]; ok {
				continue
			}
			seen[tf] = struct{}{}
			out = append(out, tf)
		}
	}
	return out
}
