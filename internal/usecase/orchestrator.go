package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/decision"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

var (
	// ErrRunActive is returned when a run is requested while another is in progress.
	ErrRunActive = errors.New("a run is already in progress")
	// ErrNoSymbols is returned for a run without symbols.
	ErrNoSymbols = errors.New("no symbols to evaluate")
)

const (
	reasonPrefilterFailed = "PREFILTER_FAILED"
	finalizeTimeout       = 30 * time.Second
)

// RunRequest describes one batch evaluation.
type RunRequest struct {
	RunID             string           `json:"run_id,omitempty"`
	Profile           string           `json:"profile,omitempty"`
	Symbols           []string         `json:"symbols"`
	DryRun            bool             `json:"dry_run"`
	Workers           int              `json:"workers,omitempty"`
	Timeframe         models.Timeframe `json:"tf,omitempty"`
	AutoSwitchInvalid bool             `json:"auto_switch_invalid"`
	SwitchDuration    time.Duration    `json:"switch_duration,omitempty"`
}

// OrchestratorConfig holds run defaults and policies.
type OrchestratorConfig struct {
	DefaultProfile   string
	Workers          int
	SymbolLock       bool
	LockTTL          time.Duration
	GraceWindow      time.Duration
	SymbolTimeout    time.Duration
	ExposureCooldown time.Duration
	StreakThreshold  int
	SwitchDuration   time.Duration
}

// ProgressFunc receives one event per finished symbol.
type ProgressFunc func(models.ProgressEvent)

// Orchestrator drives a run through PENDING, PRE_FILTERING, DISPATCHING,
// COLLECTING, FINALIZING and DONE. Only one run is active at a time.
type Orchestrator struct {
	cfg       OrchestratorConfig
	profiles  map[string]*decision.Profile
	provider  domrepo.IndicatorProvider
	positions domrepo.PositionProvider
	cache     DecisionCache
	switches  SwitchStore
	projector *AuditProjector
	registry  *RunRegistry
	metrics   domrepo.Metrics
	log       *logger.Logger

	active atomic.Bool
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	newID  func() string
	now    func() time.Time
}

type runPlan struct {
	id             string
	profile        *decision.Profile
	symbols        []string
	dryRun         bool
	workers        int
	tf             models.Timeframe
	autoSwitch     bool
	switchDuration time.Duration
}

// OrchestratorOption configures Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRunIDFunc overrides run ID generation.
func WithRunIDFunc(f func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newID = f
	}
}

// WithOrchestratorClock overrides the wall clock for runs and their pipelines.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	profiles map[string]*decision.Profile,
	provider domrepo.IndicatorProvider,
	positions domrepo.PositionProvider,
	cache DecisionCache,
	switches SwitchStore,
	projector *AuditProjector,
	registry *RunRegistry,
	metrics domrepo.Metrics,
	log *logger.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StreakThreshold <= 0 {
		cfg.StreakThreshold = 3
	}
	o := &Orchestrator{
		cfg:       cfg,
		profiles:  profiles,
		provider:  provider,
		positions: positions,
		cache:     cache,
		switches:  switches,
		projector: projector,
		registry:  registry,
		metrics:   metrics,
		log:       log,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.root, o.cancel = context.WithCancel(context.Background())
	return o
}

// Runs exposes the registry of recent runs.
func (o *Orchestrator) Runs() *RunRegistry {
	return o.registry
}

// Run executes req synchronously. The error is non-nil only for requests
// that cannot start; per-symbol failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, progress ProgressFunc) (*models.RunSummary, error) {
	plan, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	if !o.active.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer o.active.Store(false)
	return o.execute(ctx, plan, progress), nil
}

// Submit starts req in the background and returns its run ID.
func (o *Orchestrator) Submit(req RunRequest) (string, error) {
	plan, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	if !o.active.CompareAndSwap(false, true) {
		return "", ErrRunActive
	}
	o.registry.Put(&models.RunSummary{
		RunID:            plan.id,
		State:            models.RunPending,
		DryRun:           plan.dryRun,
		SymbolsRequested: len(plan.symbols),
		StartedAt:        o.now(),
	})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.active.Store(false)
		o.execute(o.root, plan, nil)
	}()
	return plan.id, nil
}

// Wait blocks until background runs finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels background runs and waits for them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) prepare(req RunRequest) (*runPlan, error) {
	name := req.Profile
	if name == "" {
		name = o.cfg.DefaultProfile
	}
	profile, err := decision.Lookup(o.profiles, name)
	if err != nil {
		return nil, err
	}
	symbols := util.NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if req.Timeframe != "" {
		if !req.Timeframe.Valid() {
			return nil, fmt.Errorf("unsupported timeframe %q", req.Timeframe)
		}
		if !containsTF(profile.ExecutionTimeframes, req.Timeframe) {
			return nil, fmt.Errorf("timeframe %s is not an execution timeframe of profile %s", req.Timeframe, profile.Name)
		}
	}

	plan := &runPlan{
		id:             req.RunID,
		profile:        profile,
		symbols:        symbols,
		dryRun:         req.DryRun,
		workers:        req.Workers,
		tf:             req.Timeframe,
		autoSwitch:     req.AutoSwitchInvalid,
		switchDuration: req.SwitchDuration,
	}
	if plan.id == "" {
		plan.id = o.newID()
	}
	if plan.workers <= 0 {
		plan.workers = o.cfg.Workers
	}
	if plan.switchDuration <= 0 {
		plan.switchDuration = o.cfg.SwitchDuration
	}
	return plan, nil
}

func (o *Orchestrator) execute(ctx context.Context, plan *runPlan, progress ProgressFunc) *models.RunSummary {
	log := o.log.With(logger.String("run_id", plan.id))
	run := &models.RunSummary{
		RunID:            plan.id,
		DryRun:           plan.dryRun,
		SymbolsRequested: len(plan.symbols),
		StartedAt:        o.now(),
	}
	o.setState(run, models.RunPending)
	log.Info("run started",
		logger.String("profile", plan.profile.Name),
		logger.Int("symbols", len(plan.symbols)),
		logger.Int("workers", plan.workers),
		logger.Bool("dry_run", plan.dryRun),
	)

	o.setState(run, models.RunPreFiltering)
	results := make(map[string]models.SymbolResult, len(plan.symbols))
	dispatch, exposed, err := o.preFilter(ctx, plan.symbols)
	if err != nil {
		log.Error("pre-filter failed", logger.Error(err))
		o.metrics.RecordError("prefilter")
		now := o.now()
		for _, s := range plan.symbols {
			results[s] = models.SymbolResult{
				Symbol:     s,
				Status:     models.StatusError,
				Reason:     reasonPrefilterFailed,
				Error:      err.Error(),
				StartedAt:  now,
				FinishedAt: now,
			}
		}
	}
	for _, s := range exposed {
		now := o.now()
		results[s] = models.SymbolResult{Symbol: s, Status: models.StatusIgnored, Reason: ReasonExposed, StartedAt: now, FinishedAt: now}
	}

	o.setState(run, models.RunDispatching)
	pipeline := NewPipeline(plan.profile, o.provider, o.cache, o.switches, o.metrics, log,
		WithTimeframeFilter(plan.tf),
		WithGraceWindow(o.cfg.GraceWindow),
		WithSymbolTimeout(o.cfg.SymbolTimeout),
		WithPipelineClock(o.now),
	)
	collected := o.dispatch(ctx, plan, pipeline, dispatch, progress)

	if ctx.Err() != nil {
		// in-flight results are dropped; only pre-filter verdicts remain
		summarize(run, results, 0, o.now())
		o.setState(run, models.RunCancelled)
		o.metrics.RecordRun(run)
		log.Warn("run cancelled", logger.Int("discarded", len(collected)))
		return run
	}

	o.setState(run, models.RunCollecting)
	for _, r := range collected {
		if !mergeResult(results, r) {
			log.Warn("stale duplicate result dropped", logger.String("symbol", r.Symbol))
		}
	}

	o.setState(run, models.RunFinalizing)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	ordered := orderedResults(plan.symbols, results)
	stats := o.projector.Project(fctx, plan.id, ordered, plan.dryRun)
	if !plan.dryRun {
		o.coolDown(fctx, log, exposed)
		if plan.autoSwitch {
			o.applyStreaks(fctx, log, plan, ordered)
		}
	}

	summarize(run, results, len(dispatch), o.now())
	for _, r := range ordered {
		o.metrics.RecordSymbolResult(string(r.Status))
	}
	o.setState(run, models.RunDone)
	o.metrics.RecordRun(run)
	log.Info("run finished",
		logger.Int("processed", run.SymbolsProcessed),
		logger.Int("ready", run.Counts[models.StatusReady]),
		logger.Int("invalid", run.Counts[models.StatusInvalid]),
		logger.Int("ignored", run.Counts[models.StatusIgnored]),
		logger.Int("error", run.Counts[models.StatusError]),
		logger.Int("handoffs", stats.Handoffs),
		logger.Duration("duration_ms", run.Duration),
	)
	return run
}

func (o *Orchestrator) setState(run *models.RunSummary, state models.RunState) {
	run.State = state
	o.registry.Put(run)
}

// preFilter queries exposure once for the whole batch.
func (o *Orchestrator) preFilter(ctx context.Context, symbols []string) (dispatch, exposed []string, err error) {
	positions, err := o.positions.GetOpenPositions(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("positions: %w", err)
	}
	orders, err := o.positions.GetOpenOrders(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("orders: %w", err)
	}

	open := make(map[string]struct{}, len(positions)+len(orders))
	for _, p := range positions {
		open[strings.ToUpper(p.Symbol)] = struct{}{}
	}
	for _, ord := range orders {
		open[strings.ToUpper(ord.Symbol)] = struct{}{}
	}
	for _, s := range symbols {
		if _, ok := open[s]; ok {
			exposed = append(exposed, s)
			continue
		}
		dispatch = append(dispatch, s)
	}
	return dispatch, exposed, nil
}

// dispatch splits symbols into static partitions, one per worker. Workers
// check for cancellation before each symbol and report over a bounded channel.
func (o *Orchestrator) dispatch(ctx context.Context, plan *runPlan, p *Pipeline, symbols []string, progress ProgressFunc) []models.SymbolResult {
	if len(symbols) == 0 {
		return nil
	}
	workers := plan.workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	out := make(chan models.SymbolResult, workers*2)
	var g errgroup.Group
	for _, part := range partition(symbols, workers) {
		g.Go(func() error {
			for _, sym := range part {
				if ctx.Err() != nil {
					return nil
				}
				out <- o.evaluateOne(ctx, p, sym)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()

	collected := make([]models.SymbolResult, 0, len(symbols))
	for r := range out {
		collected = append(collected, r)
		if progress != nil {
			progress(models.ProgressEvent{
				RunID:   plan.id,
				Symbol:  r.Symbol,
				Percent: float64(len(collected)) / float64(len(symbols)) * 100,
				Status:  r.Status,
			})
		}
	}
	return collected
}

func (o *Orchestrator) evaluateOne(ctx context.Context, p *Pipeline, symbol string) (res models.SymbolResult) {
	defer func() {
		if r := recover(); r != nil {
			now := o.now()
			o.metrics.RecordError("worker_panic")
			res = models.SymbolResult{
				Symbol:     symbol,
				Status:     models.StatusError,
				Reason:     ReasonPanic,
				Error:      fmt.Sprintf("worker panic: %v", r),
				StartedAt:  now,
				FinishedAt: now,
			}
		}
	}()

	if o.cfg.SymbolLock {
		locked, err := o.switches.TryLock(ctx, symbol, o.cfg.LockTTL)
		switch {
		case err != nil:
			o.log.Warn("symbol lock failed", logger.String("symbol", symbol), logger.Error(err))
			o.metrics.RecordError("symbol_lock")
		case !locked:
			now := o.now()
			return models.SymbolResult{Symbol: symbol, Status: models.StatusIgnored, Reason: ReasonLocked, StartedAt: now, FinishedAt: now}
		default:
			defer func() {
				_ = o.switches.Unlock(context.WithoutCancel(ctx), symbol)
			}()
		}
	}
	return p.Evaluate(ctx, symbol)
}

// coolDown switches exposed symbols off for the exposure cool-down.
func (o *Orchestrator) coolDown(ctx context.Context, log *logger.Logger, exposed []string) {
	if o.cfg.ExposureCooldown <= 0 {
		return
	}
	for _, s := range exposed {
		if _, err := o.switches.Engage(ctx, models.SymbolSwitch(s), "exposure", o.cfg.ExposureCooldown); err != nil {
			log.Warn("cool-down switch failed", logger.String("symbol", s), logger.Error(err))
			o.metrics.RecordError("switch_write")
		}
	}
}

// applyStreaks counts consecutive INVALID runs per symbol and switches a
// symbol off once its streak reaches the threshold. READY resets the streak;
// verdicts still waiting for data leave it untouched.
func (o *Orchestrator) applyStreaks(ctx context.Context, log *logger.Logger, plan *runPlan, results []models.SymbolResult) {
	for _, r := range results {
		switch {
		case r.Status == models.StatusReady:
			if err := o.switches.ResetInvalid(ctx, r.Symbol); err != nil {
				log.Warn("reset streak failed", logger.String("symbol", r.Symbol), logger.Error(err))
			}
		case r.AwaitingData():
			log.Debug("streak unchanged, verdict awaits data",
				logger.String("symbol", r.Symbol),
				logger.String("reason", r.Reason),
			)
		case r.Status == models.StatusInvalid:
			n, err := o.switches.RecordInvalid(ctx, r.Symbol)
			if err != nil {
				log.Warn("record streak failed", logger.String("symbol", r.Symbol), logger.Error(err))
				o.metrics.RecordError("switch_write")
				continue
			}
			if n < int64(o.cfg.StreakThreshold) {
				continue
			}
			if _, err := o.switches.Engage(ctx, models.SymbolSwitch(r.Symbol), "invalid_streak", plan.switchDuration); err != nil {
				log.Warn("invalid streak switch failed", logger.String("symbol", r.Symbol), logger.Error(err))
				o.metrics.RecordError("switch_write")
				continue
			}
			_ = o.switches.ResetInvalid(ctx, r.Symbol)
			log.Info("symbol switched off after invalid streak",
				logger.String("symbol", r.Symbol),
				logger.Int64("streak", n),
				logger.Duration("duration_ms", plan.switchDuration),
			)
		}
	}
}

// partition deals symbols round-robin into n static slices.
func partition(symbols []string, n int) [][]string {
	parts := make([][]string, n)
	for i, s := range symbols {
		parts[i%n] = append(parts[i%n], s)
	}
	return parts
}

func orderedResults(symbols []string, results map[string]models.SymbolResult) []models.SymbolResult {
	out := make([]models.SymbolResult, 0, len(results))
	for _, s := range symbols {
		if r, ok := results[s]; ok {
			out = append(out, r)
		}
	}
	return out
}

func containsTF(list []models.Timeframe, tf models.Timeframe) bool {
	for _, t := range list {
		if t == tf {
			return true
		}
	}
	return false
}
