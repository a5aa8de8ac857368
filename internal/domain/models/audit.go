package models

import "time"

// AuditRecord is one append-only row per symbol result.
type AuditRecord struct {
	RunID              string
	Symbol             string
	Status             SymbolStatus
	Side               Signal
	ExecutionTimeframe Timeframe
	Reason             string
	Decisions          []TimeframeDecision
	Error              string
	DryRun             bool
	CreatedAt          time.Time
}

// StateRecord is the last known state per (symbol, timeframe).
type StateRecord struct {
	Symbol     string
	Timeframe  Timeframe
	Phase      Phase
	Side       Signal
	Valid      bool
	Reason     InvalidReason
	CandleTime time.Time
	UpdatedAt  time.Time
}

// TradeDecision is the handoff message for a tradable verdict.
type TradeDecision struct {
	DecisionKey string    `json:"decision_key"`
	RunID       string    `json:"run_id"`
	Symbol      string    `json:"symbol"`
	Side        Signal    `json:"side"`
	Timeframe   Timeframe `json:"timeframe"`
	CandleTime  time.Time `json:"candle_time"`
	CreatedAt   time.Time `json:"created_at"`
}
