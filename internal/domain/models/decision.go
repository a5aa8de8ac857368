package models

import (
	"sort"
	"time"
)

// Signal is the directional outcome of a timeframe evaluation.
type Signal string

const (
	SignalLong    Signal = "long"
	SignalShort   Signal = "short"
	SignalInvalid Signal = "invalid"
)

// Directional reports whether s is long or short.
func (s Signal) Directional() bool {
	return s == SignalLong || s == SignalShort
}

// Phase tells which stage of the pipeline produced a decision.
type Phase string

const (
	PhaseContext   Phase = "context"
	PhaseExecution Phase = "execution"
)

// InvalidReason explains why a timeframe decision is not tradable.
type InvalidReason string

const (
	ReasonNone          InvalidReason = ""
	ReasonNoConfigForTF InvalidReason = "NO_CONFIG_FOR_TF"
	ReasonNoLongNoShort InvalidReason = "NO_LONG_NO_SHORT"
	ReasonLongAndShort  InvalidReason = "LONG_AND_SHORT"
	ReasonFiltersFailed InvalidReason = "FILTERS_MANDATORY_FAILED"
	ReasonNoKlines      InvalidReason = "NO_KLINES"
	ReasonStaleKlines   InvalidReason = "STALE_KLINES"
	ReasonGraceWindow   InvalidReason = "GRACE_WINDOW"
	ReasonSwitchedOff   InvalidReason = "SWITCHED_OFF"
)

// Transient reports whether the reason depends on data availability rather than
// market conditions. Transient verdicts are never cached.
func (r InvalidReason) Transient() bool {
	switch r {
	case ReasonGraceWindow, ReasonNoKlines, ReasonStaleKlines, ReasonSwitchedOff:
		return true
	default:
		return false
	}
}

// RuleTrace records one rule outcome for audit/replay.
type RuleTrace struct {
	Name      string  `json:"name"`
	Side      string  `json:"side"` // long, short or filter
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// TimeframeDecision is the verdict for one (symbol, timeframe, phase).
// Build it with NewValidDecision or NewInvalidDecision only.
type TimeframeDecision struct {
	Symbol        string        `json:"symbol"`
	Timeframe     Timeframe     `json:"timeframe"`
	Phase         Phase         `json:"phase"`
	Signal        Signal        `json:"signal"`
	Valid         bool          `json:"valid"`
	InvalidReason InvalidReason `json:"invalid_reason,omitempty"`
	RulesPassed   []string      `json:"rules_passed"`
	RulesFailed   []string      `json:"rules_failed"`
	Rules         []RuleTrace   `json:"rules,omitempty"`
	EvaluatedAt   time.Time     `json:"evaluated_at"`
	FromCache     bool          `json:"from_cache,omitempty"`
}

// DecisionInput carries the fields shared by both constructors.
type DecisionInput struct {
	Symbol      string
	Timeframe   Timeframe
	Phase       Phase
	RulesPassed []string
	RulesFailed []string
	Rules       []RuleTrace
	EvaluatedAt time.Time
}

// NewValidDecision builds a tradable decision. A non-directional signal degrades
// to an invalid decision so the valid/signal invariant cannot be broken.
func NewValidDecision(in DecisionInput, signal Signal) TimeframeDecision {
	if !signal.Directional() {
		return NewInvalidDecision(in, ReasonNoLongNoShort)
	}
	d := newDecision(in)
	d.Signal = signal
	d.Valid = true
	return d
}

// NewInvalidDecision builds a non-tradable decision.
func NewInvalidDecision(in DecisionInput, reason InvalidReason) TimeframeDecision {
	d := newDecision(in)
	d.Signal = SignalInvalid
	d.Valid = false
	d.InvalidReason = reason
	return d
}

func newDecision(in DecisionInput) TimeframeDecision {
	return TimeframeDecision{
		Symbol:      in.Symbol,
		Timeframe:   in.Timeframe,
		Phase:       in.Phase,
		RulesPassed: nameSet(in.RulesPassed),
		RulesFailed: nameSet(in.RulesFailed),
		Rules:       in.Rules,
		EvaluatedAt: in.EvaluatedAt,
	}
}

// WithPhase returns a copy of d attributed to another phase.
func (d TimeframeDecision) WithPhase(p Phase) TimeframeDecision {
	d.Phase = p
	return d
}

// Neutral reports whether the timeframe was directionally silent. A
// conflicting long and short verdict carries no direction either.
func (d TimeframeDecision) Neutral() bool {
	return !d.Valid && (d.InvalidReason == ReasonNoLongNoShort || d.InvalidReason == ReasonLongAndShort)
}

func nameSet(names []string) []string {
	if len(names) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ConsensusMode selects how context timeframes are reconciled.
type ConsensusMode string

const (
	ModePragmatic ConsensusMode = "pragmatic"
	ModeStrict    ConsensusMode = "strict"
)

// ConsensusReason explains a rejected consensus.
type ConsensusReason string

const (
	ConsensusOK                ConsensusReason = ""
	ConsensusNoContextTF       ConsensusReason = "NO_CONTEXT_TF"
	ConsensusTFInvalid         ConsensusReason = "TF_INVALID"
	ConsensusAllNeutral        ConsensusReason = "ALL_NEUTRAL"
	ConsensusSideConflict      ConsensusReason = "SIDE_CONFLICT"
	ConsensusNeutralNotAllowed ConsensusReason = "NEUTRAL_NOT_ALLOWED"
)

// ConsensusDecision is the reconciled bias across context timeframes.
type ConsensusDecision struct {
	Valid        bool                            `json:"valid"`
	Mode         ConsensusMode                   `json:"mode"`
	Bias         Signal                          `json:"bias,omitempty"`
	Reason       ConsensusReason                 `json:"reason,omitempty"`
	ReasonText   string                          `json:"reason_text,omitempty"`
	PerTimeframe map[Timeframe]TimeframeDecision `json:"per_timeframe"`
}

// ExecutionSelection is the outcome of the execution cascade.
type ExecutionSelection struct {
	Timeframe    Timeframe                       `json:"timeframe,omitempty"`
	Side         Signal                          `json:"side,omitempty"`
	Reason       string                          `json:"reason,omitempty"`
	PerTimeframe map[Timeframe]TimeframeDecision `json:"per_timeframe"`
	Rejections   map[Timeframe]string            `json:"rejections,omitempty"`
}

// Selected reports whether an execution timeframe was chosen.
func (s ExecutionSelection) Selected() bool {
	return s.Timeframe != "" && s.Side != ""
}

const ReasonNoExecTFAligned = "NO_EXEC_TF_ALIGNED"
