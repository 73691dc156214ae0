package validation

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison/gatekeeper/internal/models"
)

func TestValidateScoring(t *testing.T) {
	v := NewValidator(nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		operation  string
		params     models.Params
		wantScore  float64
		wantPassed bool
		wantCount  int
	}{
		{
			name:       "valid wall",
			operation:  "create_wall",
			params:     models.Params{"height": 3.0, "thickness": 0.2, "length": 5.0},
			wantScore:  1,
			wantPassed: true,
		},
		{
			name:       "wall too tall is a hard fail",
			operation:  "create_wall",
			params:     models.Params{"height": 40.0},
			wantScore:  0.7,
			wantPassed: false,
			wantCount:  1,
		},
		{
			name:       "thin wall only warns",
			operation:  "CreateWall",
			params:     models.Params{"height": 3.0, "thickness": 0.01},
			wantScore:  0.9,
			wantPassed: true,
			wantCount:  1,
		},
		{
			name:       "advisory barely moves the score",
			operation:  "place_window",
			params:     models.Params{"width": 1.2, "sill_height": 3.5},
			wantScore:  0.98,
			wantPassed: true,
			wantCount:  1,
		},
		{
			name:       "non numeric value violates at rule severity",
			operation:  "create_wall",
			params:     models.Params{"height": "tall"},
			wantScore:  0.7,
			wantPassed: false,
			wantCount:  1,
		},
		{
			name:       "unknown category passes",
			operation:  "set_parameter",
			params:     models.Params{"height": 1000.0},
			wantScore:  1,
			wantPassed: true,
		},
		{
			name:       "missing properties are skipped",
			operation:  "create_room",
			params:     models.Params{},
			wantScore:  1,
			wantPassed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(ctx, tt.operation, tt.params)
			if math.Abs(res.Score-tt.wantScore) > 1e-9 {
				t.Errorf("Score = %v, want %v", res.Score, tt.wantScore)
			}
			if res.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", res.Passed, tt.wantPassed)
			}
			if len(res.Violations) != tt.wantCount {
				t.Errorf("Violations = %d (%v), want %d", len(res.Violations), res.Violations, tt.wantCount)
			}
		})
	}
}

func TestValidateScoreFloorsAtZero(t *testing.T) {
	rules := make([]Rule, 0, 5)
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		rules = append(rules, Rule{Property: p, Operator: OpMin, Min: 10, Severity: HardFail})
	}
	v := NewValidator([]RuleSet{{Category: "beam", Rules: rules}})

	res := v.Validate(context.Background(), "create_beam", models.Params{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1})
	if res.Score != 0 {
		t.Errorf("Score = %v, want 0", res.Score)
	}
	if res.HardFails != 5 {
		t.Errorf("HardFails = %d, want 5", res.HardFails)
	}
}

func TestRouteLongestCategoryWins(t *testing.T) {
	v := NewValidator([]RuleSet{
		{Category: "wall", Rules: []Rule{{Property: "x", Operator: OpMax, Max: 1, Severity: HardFail}}},
		{Category: "curtain_wall", Rules: []Rule{{Property: "x", Operator: OpMax, Max: 100, Severity: HardFail}}},
	})

	res := v.Validate(context.Background(), "create_curtain_wall", models.Params{"x": 50})
	if res.Category != "curtain_wall" {
		t.Errorf("Category = %q, want curtain_wall", res.Category)
	}
	if !res.Passed {
		t.Errorf("Expected pass under curtain_wall rules, got %v", res.Violations)
	}
}

func TestOneOfAndEquals(t *testing.T) {
	v := NewValidator([]RuleSet{{
		Category: "room",
		Rules: []Rule{
			{Property: "occupancy", Operator: OpOneOf, Values: []string{"office"}, Severity: SoftWarning},
			{Property: "level", Operator: OpEquals, Value: "L1", Severity: Advisory},
		},
	}})

	res := v.Validate(context.Background(), "create_room", models.Params{"occupancy": "OFFICE", "level": "L2"})
	if res.Warnings != 0 {
		t.Errorf("one_of should match case-insensitively, got %v", res.Violations)
	}
	if res.Advisories != 1 {
		t.Errorf("Advisories = %d, want 1", res.Advisories)
	}
}

func TestLoadRuleSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `rule_sets:
  - category: column
    rules:
      - property: height
        operator: range
        min: 1
        max: 10
        severity: hard_fail
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	sets, err := LoadRuleSets(path)
	if err != nil {
		t.Fatalf("LoadRuleSets failed: %v", err)
	}
	if len(sets) != 1 || sets[0].Category != "column" || sets[0].Rules[0].Max != 10 {
		t.Fatalf("Unexpected rule sets: %+v", sets)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("rule_sets:\n  - category: x\n    rules:\n      - property: y\n        severity: fatal\n"), 0644)
	if _, err := LoadRuleSets(bad); err == nil {
		t.Error("Expected error for unknown severity")
	}
}
