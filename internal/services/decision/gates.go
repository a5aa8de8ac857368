package decision

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/rules"
)

// GateInput is what a gate sees for one execution candidate.
type GateInput struct {
	Symbol    string
	Candidate models.Timeframe
	Side      models.Signal
	Snapshots map[models.Timeframe]*models.IndicatorSnapshot
}

// Gate is an extra predicate a candidate must pass before it is accepted.
// Gates fail closed: missing data rejects.
type Gate interface {
	Name() string
	Allow(in GateInput) (bool, string)
}

// GateFactory builds a gate anchored on tf with compiled conditions.
type GateFactory func(tf models.Timeframe, conds []rules.Evaluator) (Gate, error)

var (
	gateMu        sync.RWMutex
	gateFactories = map[string]GateFactory{
		"stay_if":            newStayIfGate,
		"forbid_drop_if_any": newForbidDropGate,
		"allow_if_any":       newAllowIfAnyGate,
	}
)

// RegisterGate adds a gate kind. Call it before profiles are loaded.
func RegisterGate(kind string, f GateFactory) {
	gateMu.Lock()
	defer gateMu.Unlock()
	gateFactories[kind] = f
}

// GateKinds lists registered kinds.
func GateKinds() []string {
	gateMu.RLock()
	defer gateMu.RUnlock()
	out := make([]string, 0, len(gateFactories))
	for k := range gateFactories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewGate builds a gate of the given kind.
func NewGate(kind string, tf models.Timeframe, conds []rules.Evaluator) (Gate, error) {
	gateMu.RLock()
	f, ok := gateFactories[kind]
	gateMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown gate kind %q (known: %s)", kind, strings.Join(GateKinds(), ", "))
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("gate %s: unsupported timeframe %q", kind, tf)
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("gate %s: no conditions", kind)
	}
	return f(tf, conds)
}

type conditionGate struct {
	kind  string
	tf    models.Timeframe
	conds []rules.Evaluator
}

func (g *conditionGate) Name() string {
	return fmt.Sprintf("%s(%s)", g.kind, g.tf)
}

// eval returns (all passed, any passed, snapshot present).
func (g *conditionGate) eval(in GateInput) (bool, bool, bool) {
	snap, ok := in.Snapshots[g.tf]
	if !ok || snap == nil {
		return false, false, false
	}
	all, anyOf := true, false
	for _, c := range g.conds {
		if c(g.tf, snap).Passed {
			anyOf = true
		} else {
			all = false
		}
	}
	return all, anyOf, true
}

// stayIfGate keeps selection at tf or coarser when every condition holds on tf.
type stayIfGate struct{ conditionGate }

func newStayIfGate(tf models.Timeframe, conds []rules.Evaluator) (Gate, error) {
	return &stayIfGate{conditionGate{kind: "stay_if", tf: tf, conds: conds}}, nil
}

func (g *stayIfGate) Allow(in GateInput) (bool, string) {
	if !in.Candidate.Finer(g.tf) {
		return true, ""
	}
	all, _, present := g.eval(in)
	if !present {
		return false, fmt.Sprintf("no snapshot for %s", g.tf)
	}
	if all {
		return false, fmt.Sprintf("stay on %s", g.tf)
	}
	return true, ""
}

// forbidDropGate blocks finer candidates when any condition holds on tf.
type forbidDropGate struct{ conditionGate }

func newForbidDropGate(tf models.Timeframe, conds []rules.Evaluator) (Gate, error) {
	return &forbidDropGate{conditionGate{kind: "forbid_drop_if_any", tf: tf, conds: conds}}, nil
}

func (g *forbidDropGate) Allow(in GateInput) (bool, string) {
	if !in.Candidate.Finer(g.tf) {
		return true, ""
	}
	_, anyOf, present := g.eval(in)
	if !present {
		return false, fmt.Sprintf("no snapshot for %s", g.tf)
	}
	if anyOf {
		return false, fmt.Sprintf("drop below %s forbidden", g.tf)
	}
	return true, ""
}

// allowIfAnyGate accepts tf itself only when some condition holds.
type allowIfAnyGate struct{ conditionGate }

func newAllowIfAnyGate(tf models.Timeframe, conds []rules.Evaluator) (Gate, error) {
	return &allowIfAnyGate{conditionGate{kind: "allow_if_any", tf: tf, conds: conds}}, nil
}

func (g *allowIfAnyGate) Allow(in GateInput) (bool, string) {
	if in.Candidate != g.tf {
		return true, ""
	}
	_, anyOf, present := g.eval(in)
	if !present {
		return false, fmt.Sprintf("no snapshot for %s", g.tf)
	}
	if !anyOf {
		return false, "no condition met"
	}
	return true, ""
}
