// Package validation checks operation parameters against domain rules grouped
// by target category (linear elements, openings, areas) and produces a
// bounded score a reviewer can read back as a list of violations.
package validation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harrison/gatekeeper/internal/models"
)

// Severity classifies how much a violated rule matters.
type Severity string

const (
	HardFail    Severity = "hard_fail"
	SoftWarning Severity = "soft_warning"
	Advisory    Severity = "advisory"
)

// Operator is the comparison a rule applies to its property.
type Operator string

const (
	OpMin    Operator = "min"
	OpMax    Operator = "max"
	OpRange  Operator = "range"
	OpEquals Operator = "equals"
	OpOneOf  Operator = "one_of"
)

// Rule constrains one named property.
type Rule struct {
	Property string   `yaml:"property" json:"property"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`
	Min      float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max      float64  `yaml:"max,omitempty" json:"max,omitempty"`
	Values   []string `yaml:"values,omitempty" json:"values,omitempty"`
	Severity Severity `yaml:"severity" json:"severity"`
	Message  string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// RuleSet is the rules for one category. Category is matched as a
// case-insensitive substring of the operation name.
type RuleSet struct {
	Category string `yaml:"category" json:"category"`
	Rules    []Rule `yaml:"rules" json:"rules"`
}

// Violation is one failed rule.
type Violation struct {
	Property string   `json:"property"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Property, v.Message)
}

// check evaluates the rule. A missing property is not a violation.
func (r Rule) check(params models.Params) (Violation, bool) {
	if !params.Has(r.Property) {
		return Violation{}, false
	}

	fail := func(detail string) (Violation, bool) {
		msg := detail
		if r.Message != "" {
			msg = r.Message + " (" + detail + ")"
		}
		return Violation{Property: r.Property, Severity: r.Severity, Message: msg}, true
	}

	switch r.Operator {
	case OpMin, OpMax, OpRange:
		v, ok := params.GetDouble(r.Property)
		if !ok {
			return fail(fmt.Sprintf("value %s is not numeric", models.FormatValue(params[r.Property])))
		}
		if (r.Operator == OpMin || r.Operator == OpRange) && v < r.Min {
			return fail(fmt.Sprintf("%g is below minimum %g", v, r.Min))
		}
		if (r.Operator == OpMax || r.Operator == OpRange) && v > r.Max {
			return fail(fmt.Sprintf("%g is above maximum %g", v, r.Max))
		}
	case OpEquals:
		got := models.FormatValue(params[r.Property])
		want := models.FormatValue(r.Value)
		if !strings.EqualFold(got, want) {
			return fail(fmt.Sprintf("expected %s, got %s", want, got))
		}
	case OpOneOf:
		got, _ := params.GetString(r.Property)
		for _, allowed := range r.Values {
			if strings.EqualFold(got, allowed) {
				return Violation{}, false
			}
		}
		return fail(fmt.Sprintf("%q is not one of %s", got, strings.Join(r.Values, ", ")))
	default:
		return fail(fmt.Sprintf("unknown operator %q", r.Operator))
	}
	return Violation{}, false
}

// DefaultRuleSets covers linear elements, openings and areas.
func DefaultRuleSets() []RuleSet {
	return []RuleSet{
		{
			Category: "wall",
			Rules: []Rule{
				{Property: "height", Operator: OpRange, Min: 0.1, Max: 20, Severity: HardFail, Message: "wall height out of buildable range"},
				{Property: "thickness", Operator: OpMin, Min: 0.05, Severity: SoftWarning, Message: "wall thinner than typical partition"},
				{Property: "length", Operator: OpMin, Min: 0.1, Severity: HardFail, Message: "wall length too short"},
			},
		},
		{
			Category: "door",
			Rules: []Rule{
				{Property: "width", Operator: OpRange, Min: 0.6, Max: 3, Severity: HardFail, Message: "door width outside standard range"},
				{Property: "height", Operator: OpRange, Min: 1.8, Max: 4, Severity: SoftWarning, Message: "unusual door height"},
			},
		},
		{
			Category: "window",
			Rules: []Rule{
				{Property: "width", Operator: OpRange, Min: 0.3, Max: 5, Severity: HardFail, Message: "window width outside standard range"},
				{Property: "sill_height", Operator: OpMax, Max: 3, Severity: Advisory, Message: "high sill"},
			},
		},
		{
			Category: "room",
			Rules: []Rule{
				{Property: "area", Operator: OpMin, Min: 0.5, Severity: HardFail, Message: "room area too small"},
				{Property: "occupancy", Operator: OpOneOf, Values: []string{"residential", "office", "storage", "circulation"}, Severity: Advisory, Message: "unrecognised occupancy"},
			},
		},
		{
			Category: "area",
			Rules: []Rule{
				{Property: "area", Operator: OpMin, Min: 0.5, Severity: HardFail, Message: "area too small"},
			},
		},
	}
}

// LoadRuleSets reads rule sets from a yaml document of the form
// {rule_sets: [{category, rules: [...]}]}.
func LoadRuleSets(path string) ([]RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule sets: %w", err)
	}
	var doc struct {
		RuleSets []RuleSet `yaml:"rule_sets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule sets: %w", err)
	}
	for _, rs := range doc.RuleSets {
		if rs.Category == "" {
			return nil, fmt.Errorf("rule set with empty category")
		}
		for _, r := range rs.Rules {
			switch r.Severity {
			case HardFail, SoftWarning, Advisory:
			default:
				return nil, fmt.Errorf("rule set %s: property %s: unknown severity %q", rs.Category, r.Property, r.Severity)
			}
		}
	}
	return doc.RuleSets, nil
}
