package models

import (
	"math"
	"time"
)

// IndicatorSnapshot holds precomputed indicator values for one symbol/timeframe
// as of the latest closed candle. Consumers must treat it as read-only.
type IndicatorSnapshot struct {
	Symbol     string             `json:"symbol"`
	Timeframe  Timeframe          `json:"timeframe"`
	CandleTime time.Time          `json:"candle_time"` // open time of the closed candle
	Values     map[string]float64 `json:"values"`
}

// Value returns a named value; NaN counts as absent.
func (s *IndicatorSnapshot) Value(name string) (float64, bool) {
	if s == nil || s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
