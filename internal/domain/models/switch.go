package models

import (
	"fmt"
	"time"
)

// SwitchKey identifies a kill-switch scope.
type SwitchKey string

const GlobalSwitch SwitchKey = "GLOBAL"

// SymbolSwitch scopes a switch to one symbol.
func SymbolSwitch(symbol string) SwitchKey {
	return SwitchKey(fmt.Sprintf("SYMBOL:%s", symbol))
}

// SymbolTFSwitch scopes a switch to one symbol/timeframe pair.
func SymbolTFSwitch(symbol string, tf Timeframe) SwitchKey {
	return SwitchKey(fmt.Sprintf("SYMBOL_TF:%s:%s", symbol, tf))
}

// Switch is a time-boxed kill-switch. Active means evaluation is disabled.
type Switch struct {
	Key       SwitchKey `json:"key"`
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Engaged reports whether the switch disables evaluation at now.
func (s Switch) Engaged(now time.Time) bool {
	if !s.Active {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// SwitchState is the kill-switch view of one symbol at one instant.
type SwitchState struct {
	// Blocking is the engaged GLOBAL or SYMBOL switch, GLOBAL first.
	Blocking   *Switch
	Timeframes map[Timeframe]Switch
}

// Blocked reports whether the whole symbol is switched off.
func (s SwitchState) Blocked() bool { return s.Blocking != nil }

// TimeframeOff reports whether SYMBOL_TF switched tf off.
func (s SwitchState) TimeframeOff(tf Timeframe) bool {
	_, ok := s.Timeframes[tf]
	return ok
}

// CacheEntry is a stored timeframe verdict bound to a candle period.
type CacheEntry struct {
	Key              string            `json:"key"`
	Valid            bool              `json:"valid"`
	Side             Signal            `json:"side"`
	SourceCandleTime time.Time         `json:"source_candle_time"` // open time of the period the verdict covers
	ExpiresAt        time.Time         `json:"expires_at"`
	Decision         TimeframeDecision `json:"decision"`
}
