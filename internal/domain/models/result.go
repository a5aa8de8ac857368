package models

import "time"

// SymbolStatus is the final verdict for one symbol in one run.
type SymbolStatus string

const (
	StatusReady   SymbolStatus = "READY"
	StatusInvalid SymbolStatus = "INVALID"
	StatusIgnored SymbolStatus = "IGNORED"
	StatusError   SymbolStatus = "ERROR"
)

// SymbolResult is the aggregate produced per symbol per run.
type SymbolResult struct {
	Symbol             string              `json:"symbol"`
	Status             SymbolStatus        `json:"status"`
	ExecutionTimeframe Timeframe           `json:"execution_timeframe,omitempty"`
	Side               Signal              `json:"side,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	Context            *ConsensusDecision  `json:"context,omitempty"`
	Execution          *ExecutionSelection `json:"execution,omitempty"`
	Error              string              `json:"error,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	FinishedAt         time.Time           `json:"finished_at"`
}

// Tradable reports whether the result should be handed off for execution.
func (r SymbolResult) Tradable() bool {
	return r.Status == StatusReady && r.ExecutionTimeframe != "" && r.Side.Directional()
}

// AwaitingData reports whether an INVALID verdict rests on late, missing or
// switched-off data rather than on market conditions: every context
// timeframe that rejected did so for a transient reason, or, with a valid
// context, some execution timeframe could not be judged yet.
func (r SymbolResult) AwaitingData() bool {
	if r.Status != StatusInvalid {
		return false
	}
	if r.Context != nil && !r.Context.Valid {
		if r.Context.Reason != ConsensusTFInvalid {
			return false
		}
		transient := false
		for _, d := range r.Context.PerTimeframe {
			if d.Valid || d.Neutral() {
				continue
			}
			if !d.InvalidReason.Transient() {
				return false
			}
			transient = true
		}
		return transient
	}
	if r.Execution != nil {
		for _, d := range r.Execution.PerTimeframe {
			if !d.Valid && d.InvalidReason.Transient() {
				return true
			}
		}
	}
	return false
}

// RunState is the orchestrator state machine position.
type RunState string

const (
	RunPending      RunState = "PENDING"
	RunPreFiltering RunState = "PRE_FILTERING"
	RunDispatching  RunState = "DISPATCHING"
	RunCollecting   RunState = "COLLECTING"
	RunFinalizing   RunState = "FINALIZING"
	RunDone         RunState = "DONE"
	RunCancelled    RunState = "CANCELLED"
)

// RunSummary aggregates a run.
type RunSummary struct {
	RunID            string                  `json:"run_id"`
	State            RunState                `json:"state"`
	DryRun           bool                    `json:"dry_run"`
	SymbolsRequested int                     `json:"symbols_requested"`
	SymbolsProcessed int                     `json:"symbols_processed"`
	Counts           map[SymbolStatus]int    `json:"counts"`
	SuccessRate      float64                 `json:"success_rate"`
	StartedAt        time.Time               `json:"started_at"`
	FinishedAt       time.Time               `json:"finished_at"`
	Duration         time.Duration           `json:"duration"`
	Results          map[string]SymbolResult `json:"results"`
}

// HasErrors reports whether any symbol ended in ERROR.
func (s *RunSummary) HasErrors() bool {
	return s.Counts[StatusError] > 0
}

// ProgressEvent reports run progress, decoupled from results.
type ProgressEvent struct {
	RunID   string       `json:"run_id"`
	Symbol  string       `json:"symbol"`
	Percent float64      `json:"percent"`
	Status  SymbolStatus `json:"status"`
}
