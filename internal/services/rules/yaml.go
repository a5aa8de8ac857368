package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// leafYAML is the on-disk form of a leaf condition.
type leafYAML struct {
	Name       string             `yaml:"name"`
	Op         string             `yaml:"op"`
	Value      string             `yaml:"value"`
	Ref        string             `yaml:"ref"`
	Threshold  *float64           `yaml:"threshold"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	Min        *float64           `yaml:"min"`
	Max        *float64           `yaml:"max"`
	Prev       string             `yaml:"prev"`
	Hysteresis float64            `yaml:"hysteresis"`
}

type compositeYAML struct {
	Name  string `yaml:"name"`
	AllOf []Spec `yaml:"all_of"`
	AnyOf []Spec `yaml:"any_of"`
}

// UnmarshalYAML decodes a rule node:
//
//	ema_trend_up                       # reference to a named rule
//	{all_of: [a, b]} / {any_of: [...]} # composite
//	{op: gte, value: rsi, threshold: 55}
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		if name == "" {
			return fmt.Errorf("line %d: empty rule reference", node.Line)
		}
		*s = Ref(name)
		return nil
	case yaml.MappingNode:
		if hasKey(node, "all_of") || hasKey(node, "any_of") {
			if hasKey(node, "all_of") && hasKey(node, "any_of") {
				return fmt.Errorf("line %d: all_of and any_of are exclusive", node.Line)
			}
			var c compositeYAML
			if err := node.Decode(&c); err != nil {
				return err
			}
			if hasKey(node, "all_of") {
				*s = AllOf(c.AllOf...)
			} else {
				*s = AnyOf(c.AnyOf...)
			}
			if len(s.Children) == 0 {
				return fmt.Errorf("line %d: empty %s", node.Line, s.Kind)
			}
			s.Name = c.Name
			return nil
		}
		var l leafYAML
		if err := node.Decode(&l); err != nil {
			return err
		}
		leaf := Leaf{
			Op:         Operator(l.Op),
			Value:      l.Value,
			Ref:        l.Ref,
			Threshold:  l.Threshold,
			Thresholds: l.Thresholds,
			Min:        l.Min,
			Max:        l.Max,
			Prev:       l.Prev,
			Hysteresis: l.Hysteresis,
		}
		if err := leaf.validate(); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*s = Cond(l.Name, leaf)
		return nil
	default:
		return fmt.Errorf("line %d: rule must be a name or a mapping", node.Line)
	}
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
