package rules

import (
	"math"

	"SignalGate/internal/domain/models"
)

// Reason explains a failed evaluation that is not a plain false comparison.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonUnknownRule  Reason = "UNKNOWN_RULE"
	ReasonMissingValue Reason = "MISSING_VALUE"
)

// Result is the outcome of one rule node. Children hold only the nodes that
// were actually evaluated, in declaration order.
type Result struct {
	Name      string
	Passed    bool
	Value     float64
	Threshold float64
	Reason    Reason
	Children  []Result
}

// Evaluator is a compiled rule.
type Evaluator func(tf models.Timeframe, snap *models.IndicatorSnapshot) Result

func compileLeaf(name string, l Leaf) Evaluator {
	if name == "" {
		name = l.defaultName()
	}
	return func(tf models.Timeframe, snap *models.IndicatorSnapshot) Result {
		res := Result{Name: name}

		cur, ok := snap.Value(l.Value)
		if !ok {
			res.Reason = ReasonMissingValue
			return res
		}
		res.Value = cur

		if l.Op == OpBetween {
			res.Threshold = *l.Min
			res.Passed = cur >= *l.Min && cur <= *l.Max
			return res
		}

		t, ok := l.resolve(tf, snap)
		if !ok {
			res.Reason = ReasonMissingValue
			return res
		}
		res.Threshold = t

		switch l.Op {
		case OpGT:
			res.Passed = cur > t
		case OpLT:
			res.Passed = cur < t
		case OpGTE:
			res.Passed = cur >= t
		case OpLTE:
			res.Passed = cur <= t
		case OpCrossUp, OpCrossDown:
			prev, ok := snap.Value(l.prevKey())
			if !ok {
				res.Reason = ReasonMissingValue
				return res
			}
			prevT := l.resolvePrev(t, snap)
			if l.Op == OpCrossUp {
				res.Passed = prev <= prevT && cur > t+l.Hysteresis
			} else {
				res.Passed = prev >= prevT && cur < t-l.Hysteresis
			}
		}
		return res
	}
}

// resolve picks the comparison operand for tf. A ref reads another snapshot value.
func (l *Leaf) resolve(tf models.Timeframe, snap *models.IndicatorSnapshot) (float64, bool) {
	if l.Ref != "" {
		return snap.Value(l.Ref)
	}
	t, ok := l.threshold(tf)
	if !ok || math.IsNaN(t) {
		return 0, false
	}
	return t, true
}

// resolvePrev returns the operand on the previous candle. Only refs move.
func (l *Leaf) resolvePrev(cur float64, snap *models.IndicatorSnapshot) float64 {
	if l.Ref == "" {
		return cur
	}
	if v, ok := snap.Value(l.Ref + ".prev"); ok {
		return v
	}
	return cur
}
