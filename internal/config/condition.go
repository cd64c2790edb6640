package config

import (
	"fmt"

	"github.com/fieldservice/concierge/internal/transition"
	"gopkg.in/yaml.v3"
)

// ConditionDoc is the YAML shape of a transition.Condition. Exactly one of
// its variant groups should be populated: (Path, Op[, Value]) for
// deterministic, (AllOf | AnyOf) for compound, or Text for semantic.
type ConditionDoc struct {
	Path  string `yaml:"path,omitempty"`
	Op    string `yaml:"op,omitempty"`
	Value any    `yaml:"value,omitempty"`

	AllOf []ConditionDoc `yaml:"all_of,omitempty"`
	AnyOf []ConditionDoc `yaml:"any_of,omitempty"`

	Text string `yaml:"text,omitempty"`
}

func (c ConditionDoc) toCondition() (transition.Condition, error) {
	switch {
	case c.Path != "":
		if c.Op == "" {
			return transition.Condition{}, fmt.Errorf("deterministic condition on %q is missing op", c.Path)
		}
		return transition.NewDeterministic(c.Path, transition.Op(c.Op), yamlToPlain(c.Value)), nil
	case len(c.AllOf) > 0:
		subs, err := toConditions(c.AllOf)
		if err != nil {
			return transition.Condition{}, err
		}
		return transition.AllOf(subs...), nil
	case len(c.AnyOf) > 0:
		subs, err := toConditions(c.AnyOf)
		if err != nil {
			return transition.Condition{}, err
		}
		return transition.AnyOf(subs...), nil
	case c.Text != "":
		return transition.NewSemantic(c.Text), nil
	default:
		return transition.Condition{}, fmt.Errorf("condition has no recognized variant (path/all_of/any_of/text)")
	}
}

func toConditions(docs []ConditionDoc) ([]transition.Condition, error) {
	out := make([]transition.Condition, 0, len(docs))
	for _, d := range docs {
		c, err := d.toCondition()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// yamlToPlain normalizes yaml.v3's decoded scalar types (it decodes integers
// as int, not float64) to the float64/string/bool shapes the rest of the
// module (internal/memory, internal/transition) expects from JSON-derived
// values.
func yamlToPlain(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case yaml.Node:
		var out any
		_ = x.Decode(&out)
		return yamlToPlain(out)
	default:
		return v
	}
}
