package models

import (
	"fmt"
	"time"
)

// Timeframe represents a candle resolution.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF2h:  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF6h:  6 * time.Hour,
	TF8h:  8 * time.Hour,
	TF12h: 12 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// ParseTimeframe validates a raw timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unsupported timeframe: %q", s)
	}
	return tf, nil
}

// Valid returns true if tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

// Duration returns the candle width, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return tfDurations[tf]
}

// CandleOpen floors t to the timeframe grid in UTC.
// time.Truncate counts from the zero time (a Monday), so weekly candles open on Monday.
func (tf Timeframe) CandleOpen(t time.Time) time.Time {
	d := tf.Duration()
	if d <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}

// NextClose returns the last second of the candle containing t.
func (tf Timeframe) NextClose(t time.Time) time.Time {
	return tf.CandleOpen(t).Add(tf.Duration() - time.Second)
}

// LastClosedOpen returns the open time of the most recent fully closed candle at t.
func (tf Timeframe) LastClosedOpen(t time.Time) time.Time {
	return tf.CandleOpen(t).Add(-tf.Duration())
}

// Finer reports whether tf is a smaller resolution than other.
func (tf Timeframe) Finer(other Timeframe) bool {
	return tf.Duration() < other.Duration()
}

func (tf Timeframe) String() string { return string(tf) }
