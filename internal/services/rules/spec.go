package rules

import (
	"fmt"

	"SignalGate/internal/domain/models"
)

// Kind tags a Spec node.
type Kind int

const (
	KindRef Kind = iota
	KindLeaf
	KindAllOf
	KindAnyOf
)

func (k Kind) String() string {
	switch k {
	case KindRef:
		return "ref"
	case KindLeaf:
		return "leaf"
	case KindAllOf:
		return "all_of"
	case KindAnyOf:
		return "any_of"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operator is a leaf comparison.
type Operator string

const (
	OpGT        Operator = "gt"
	OpLT        Operator = "lt"
	OpGTE       Operator = "gte"
	OpLTE       Operator = "lte"
	OpCrossUp   Operator = "cross_up"
	OpCrossDown Operator = "cross_down"
	OpBetween   Operator = "between"
)

// Spec is an immutable rule tree node: a reference to a named rule, a leaf
// condition, or an ordered all_of/any_of composition.
type Spec struct {
	Name     string
	Kind     Kind
	Leaf     *Leaf
	Children []Spec
}

// Leaf compares a snapshot value against a threshold.
// Threshold precedence: Ref, Thresholds[tf], Thresholds["default"], Threshold.
type Leaf struct {
	Op         Operator
	Value      string
	Ref        string
	Threshold  *float64
	Thresholds map[string]float64
	Min        *float64
	Max        *float64
	Prev       string // previous-candle key for cross ops, defaults to Value + ".prev"
	Hysteresis float64
}

// Ref builds a reference to a named rule.
func Ref(name string) Spec {
	return Spec{Name: name, Kind: KindRef}
}

// AllOf builds an all_of composite.
func AllOf(children ...Spec) Spec {
	return Spec{Kind: KindAllOf, Children: children}
}

// AnyOf builds an any_of composite.
func AnyOf(children ...Spec) Spec {
	return Spec{Kind: KindAnyOf, Children: children}
}

// Cond builds a named leaf.
func Cond(name string, leaf Leaf) Spec {
	return Spec{Name: name, Kind: KindLeaf, Leaf: &leaf}
}

// Float returns a pointer for optional thresholds.
func Float(v float64) *float64 { return &v }

func (l *Leaf) threshold(tf models.Timeframe) (float64, bool) {
	if v, ok := l.Thresholds[string(tf)]; ok {
		return v, true
	}
	if v, ok := l.Thresholds["default"]; ok {
		return v, true
	}
	if l.Threshold != nil {
		return *l.Threshold, true
	}
	return 0, false
}

func (l *Leaf) prevKey() string {
	if l.Prev != "" {
		return l.Prev
	}
	return l.Value + ".prev"
}

func (l *Leaf) validate() error {
	if l.Value == "" {
		return fmt.Errorf("leaf %s: value is required", l.Op)
	}
	switch l.Op {
	case OpGT, OpLT, OpGTE, OpLTE, OpCrossUp, OpCrossDown:
		if l.Ref == "" && l.Threshold == nil && len(l.Thresholds) == 0 {
			return fmt.Errorf("leaf %s %s: threshold, thresholds or ref is required", l.Value, l.Op)
		}
	case OpBetween:
		if l.Min == nil || l.Max == nil {
			return fmt.Errorf("leaf %s between: min and max are required", l.Value)
		}
		if *l.Min > *l.Max {
			return fmt.Errorf("leaf %s between: min > max", l.Value)
		}
	default:
		return fmt.Errorf("leaf %s: unknown operator %q", l.Value, l.Op)
	}
	if l.Hysteresis < 0 {
		return fmt.Errorf("leaf %s: hysteresis must be >= 0", l.Value)
	}
	return nil
}

func (l *Leaf) defaultName() string {
	switch {
	case l.Ref != "":
		return fmt.Sprintf("%s_%s_%s", l.Value, l.Op, l.Ref)
	case l.Op == OpBetween:
		return fmt.Sprintf("%s_between", l.Value)
	default:
		return fmt.Sprintf("%s_%s", l.Value, l.Op)
	}
}
