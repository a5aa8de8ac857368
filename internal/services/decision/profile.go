package decision

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/rules"
)

// ErrProfileNotFound is returned when a run names an unknown profile.
var ErrProfileNotFound = errors.New("profile not found")

// SideRules is the YAML block for one timeframe.
type SideRules struct {
	Long  rules.Spec `yaml:"long"`
	Short rules.Spec `yaml:"short"`
}

// PolicyConfig declares one execution gate.
type PolicyConfig struct {
	Kind       string           `yaml:"kind"`
	Timeframe  models.Timeframe `yaml:"timeframe"`
	Conditions []rules.Spec     `yaml:"conditions"`
}

// ProfileConfig is the on-disk form of a rule profile.
type ProfileConfig struct {
	Mode                models.ConsensusMode           `yaml:"mode"`
	ContextTimeframes   []models.Timeframe             `yaml:"context_timeframes"`
	ExecutionTimeframes []models.Timeframe             `yaml:"execution_timeframes"`
	Rules               map[string]rules.Spec          `yaml:"rules"`
	Timeframes          map[models.Timeframe]SideRules `yaml:"timeframes"`
	FiltersMandatory    []rules.Spec                   `yaml:"filters_mandatory"`
	ExecutionPolicies   []PolicyConfig                 `yaml:"execution_policies"`
}

type sideEvaluators struct {
	long  rules.Evaluator
	short rules.Evaluator
}

// Profile is a compiled, immutable rule profile shared by all workers.
type Profile struct {
	Name                string
	Mode                models.ConsensusMode
	ContextTimeframes   []models.Timeframe
	ExecutionTimeframes []models.Timeframe
	Gates               []Gate

	// Unresolved lists referenced rule names with no definition. They fail
	// closed at evaluation time.
	Unresolved []string

	timeframes map[models.Timeframe]sideEvaluators
	filters    []rules.Evaluator
	gateTFs    []models.Timeframe
}

// NewProfile compiles cfg. Rule trees are compiled once here.
func NewProfile(name string, cfg ProfileConfig) (*Profile, error) {
	p := &Profile{
		Name:       name,
		Mode:       cfg.Mode,
		timeframes: make(map[models.Timeframe]sideEvaluators, len(cfg.Timeframes)),
	}
	if p.Mode == "" {
		p.Mode = models.ModePragmatic
	}
	if p.Mode != models.ModePragmatic && p.Mode != models.ModeStrict {
		return nil, fmt.Errorf("profile %s: unknown mode %q", name, cfg.Mode)
	}

	for _, tf := range cfg.ContextTimeframes {
		if !tf.Valid() {
			return nil, fmt.Errorf("profile %s: context timeframe %q unsupported", name, tf)
		}
	}
	for i, tf := range cfg.ExecutionTimeframes {
		if !tf.Valid() {
			return nil, fmt.Errorf("profile %s: execution timeframe %q unsupported", name, tf)
		}
		if i > 0 && !tf.Finer(cfg.ExecutionTimeframes[i-1]) {
			return nil, fmt.Errorf("profile %s: execution timeframes must be ordered coarse to fine", name)
		}
	}
	p.ContextTimeframes = append([]models.Timeframe(nil), cfg.ContextTimeframes...)
	p.ExecutionTimeframes = append([]models.Timeframe(nil), cfg.ExecutionTimeframes...)

	reg := rules.NewRegistry()
	if err := reg.Define(cfg.Rules); err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}

	unresolved := map[string]struct{}{}
	compile := func(where string, spec rules.Spec) (rules.Evaluator, error) {
		if isZero(spec) {
			return nil, nil
		}
		ev, err := reg.Compile(spec)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %s: %w", name, where, err)
		}
		for _, ref := range reg.Unresolved(spec) {
			unresolved[ref] = struct{}{}
		}
		return ev, nil
	}
	for _, spec := range cfg.Rules {
		for _, ref := range reg.Unresolved(spec) {
			unresolved[ref] = struct{}{}
		}
	}

	for tf, side := range cfg.Timeframes {
		if !tf.Valid() {
			return nil, fmt.Errorf("profile %s: timeframe %q unsupported", name, tf)
		}
		long, err := compile(string(tf)+".long", side.Long)
		if err != nil {
			return nil, err
		}
		short, err := compile(string(tf)+".short", side.Short)
		if err != nil {
			return nil, err
		}
		p.timeframes[tf] = sideEvaluators{long: long, short: short}
	}

	for i, f := range cfg.FiltersMandatory {
		ev, err := compile(fmt.Sprintf("filters_mandatory[%d]", i), f)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			p.filters = append(p.filters, ev)
		}
	}

	seen := map[models.Timeframe]struct{}{}
	for i, pc := range cfg.ExecutionPolicies {
		conds := make([]rules.Evaluator, 0, len(pc.Conditions))
		for j, c := range pc.Conditions {
			ev, err := compile(fmt.Sprintf("execution_policies[%d].conditions[%d]", i, j), c)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				conds = append(conds, ev)
			}
		}
		g, err := NewGate(pc.Kind, pc.Timeframe, conds)
		if err != nil {
			return nil, fmt.Errorf("profile %s: execution_policies[%d]: %w", name, i, err)
		}
		p.Gates = append(p.Gates, g)
		if _, ok := seen[pc.Timeframe]; !ok {
			seen[pc.Timeframe] = struct{}{}
			p.gateTFs = append(p.gateTFs, pc.Timeframe)
		}
	}

	for ref := range unresolved {
		p.Unresolved = append(p.Unresolved, ref)
	}
	sort.Strings(p.Unresolved)
	return p, nil
}

// GateTimeframes lists the timeframes execution gates read snapshots from.
func (p *Profile) GateTimeframes() []models.Timeframe {
	return append([]models.Timeframe(nil), p.gateTFs...)
}

// ParseProfiles decodes a name -> profile YAML mapping.
func ParseProfiles(data []byte) (map[string]*Profile, error) {
	var raw map[string]ProfileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	return compileAll(raw)
}

// DecodeProfiles compiles profiles embedded as YAML nodes in the app config.
func DecodeProfiles(nodes map[string]yaml.Node) (map[string]*Profile, error) {
	raw := make(map[string]ProfileConfig, len(nodes))
	for name, node := range nodes {
		var pc ProfileConfig
		if err := node.Decode(&pc); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", name, err)
		}
		raw[name] = pc
	}
	return compileAll(raw)
}

// Lookup returns the named profile or ErrProfileNotFound.
func Lookup(profiles map[string]*Profile, name string) (*Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

func compileAll(raw map[string]ProfileConfig) (map[string]*Profile, error) {
	out := make(map[string]*Profile, len(raw))
	for name, pc := range raw {
		p, err := NewProfile(name, pc)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

func isZero(spec rules.Spec) bool {
	return spec.Kind == rules.KindRef && spec.Name == ""
}
