package rules

import (
	"fmt"
	"sort"
	"sync"

	"SignalGate/internal/domain/models"
)

// Registry maps rule names to compiled evaluators. Definitions are registered
// once at profile load; lookups afterwards are read-only.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Evaluator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Evaluator)}
}

// Register adds a programmatic evaluator under name.
func (r *Registry) Register(name string, ev Evaluator) error {
	if name == "" {
		return fmt.Errorf("register rule: empty name")
	}
	if ev == nil {
		return fmt.Errorf("register rule %s: nil evaluator", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[name]; exists {
		return fmt.Errorf("register rule %s: already defined", name)
	}
	r.rules[name] = ev
	return nil
}

// Define compiles and registers named rule trees. References between
// definitions may appear in any order; cycles are rejected.
func (r *Registry) Define(defs map[string]Spec) error {
	if err := checkCycles(defs); err != nil {
		return err
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := defs[name]
		if spec.Name == "" {
			spec.Name = name
		}
		ev, err := r.Compile(spec)
		if err != nil {
			return fmt.Errorf("define rule %s: %w", name, err)
		}
		if err := r.Register(name, ev); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Unresolved lists references in spec with no registered rule.
func (r *Registry) Unresolved(spec Spec) []string {
	var out []string
	walkRefs(spec, func(name string) {
		if !r.Has(name) {
			out = append(out, name)
		}
	})
	return out
}

// Compile turns a spec into an evaluator. References are resolved when the
// evaluator runs, so an unknown name fails closed with UNKNOWN_RULE.
func (r *Registry) Compile(spec Spec) (Evaluator, error) {
	switch spec.Kind {
	case KindRef:
		name := spec.Name
		if name == "" {
			return nil, fmt.Errorf("empty rule reference")
		}
		return func(tf models.Timeframe, snap *models.IndicatorSnapshot) Result {
			ev, ok := r.lookup(name)
			if !ok {
				return Result{Name: name, Reason: ReasonUnknownRule}
			}
			res := ev(tf, snap)
			if res.Name == "" {
				res.Name = name
			}
			return res
		}, nil

	case KindLeaf:
		if spec.Leaf == nil {
			return nil, fmt.Errorf("leaf %s: missing condition", spec.Name)
		}
		if err := spec.Leaf.validate(); err != nil {
			return nil, err
		}
		return compileLeaf(spec.Name, *spec.Leaf), nil

	case KindAllOf, KindAnyOf:
		if len(spec.Children) == 0 {
			return nil, fmt.Errorf("%s %s: no children", spec.Kind, spec.Name)
		}
		children := make([]Evaluator, 0, len(spec.Children))
		for i, c := range spec.Children {
			ev, err := r.Compile(c)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", spec.Kind, i, err)
			}
			children = append(children, ev)
		}
		return compileComposite(spec.Name, spec.Kind == KindAllOf, children), nil

	default:
		return nil, fmt.Errorf("unknown rule kind %s", spec.Kind)
	}
}

func (r *Registry) lookup(name string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.rules[name]
	return ev, ok
}

// compileComposite stops at the first failure (all) or first success (any).
func compileComposite(name string, all bool, children []Evaluator) Evaluator {
	return func(tf models.Timeframe, snap *models.IndicatorSnapshot) Result {
		res := Result{Name: name, Passed: all}
		res.Children = make([]Result, 0, len(children))
		for _, ev := range children {
			c := ev(tf, snap)
			res.Children = append(res.Children, c)
			if all && !c.Passed {
				res.Passed = false
				return res
			}
			if !all && c.Passed {
				res.Passed = true
				return res
			}
		}
		return res
	}
}

func walkRefs(spec Spec, fn func(string)) {
	switch spec.Kind {
	case KindRef:
		fn(spec.Name)
	case KindAllOf, KindAnyOf:
		for _, c := range spec.Children {
			walkRefs(c, fn)
		}
	}
}

func checkCycles(defs map[string]Spec) error {
	const (
		visiting = iota + 1
		done
	)
	state := make(map[string]int, len(defs))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		spec, ok := defs[name]
		if !ok {
			return nil
		}
		switch state[name] {
		case visiting:
			return fmt.Errorf("rule cycle: %v", append(path, name))
		case done:
			return nil
		}
		state[name] = visiting
		var err error
		walkRefs(spec, func(ref string) {
			if err == nil {
				err = visit(ref, append(path, name))
			}
		})
		if err != nil {
			return err
		}
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}
