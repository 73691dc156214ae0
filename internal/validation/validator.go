package validation

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/harrison/gatekeeper/internal/models"
)

// Penalty weights per violation severity.
const (
	hardFailPenalty = 0.3
	warningPenalty  = 0.1
	advisoryPenalty = 0.02
)

// Result is the outcome of validating one operation.
type Result struct {
	Category   string      `json:"category,omitempty"`
	Score      float64     `json:"score"`
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
	HardFails  int         `json:"hard_fails"`
	Warnings   int         `json:"warnings"`
	Advisories int         `json:"advisories"`
}

// Validator routes operations to rule sets by category name.
type Validator struct {
	mu       sync.RWMutex
	ruleSets []RuleSet
}

// NewValidator creates a validator. A nil slice installs DefaultRuleSets.
func NewValidator(ruleSets []RuleSet) *Validator {
	if ruleSets == nil {
		ruleSets = DefaultRuleSets()
	}
	return &Validator{ruleSets: ruleSets}
}

// AddRuleSet registers or replaces the rules for a category.
func (v *Validator) AddRuleSet(rs RuleSet) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.ruleSets {
		if strings.EqualFold(v.ruleSets[i].Category, rs.Category) {
			v.ruleSets[i] = rs
			return
		}
	}
	v.ruleSets = append(v.ruleSets, rs)
}

// route picks the rule set whose category is the longest substring match.
func (v *Validator) route(operation string) (RuleSet, bool) {
	op := strings.ToLower(operation)
	var best RuleSet
	found := false
	for _, rs := range v.ruleSets {
		cat := strings.ToLower(rs.Category)
		if cat == "" || !strings.Contains(op, cat) {
			continue
		}
		if !found || len(cat) > len(best.Category) {
			best = rs
			found = true
		}
	}
	return best, found
}

// Validate checks params against the operation's category rules.
// Operations without a matching category pass with a perfect score.
func (v *Validator) Validate(_ context.Context, operation string, params models.Params) Result {
	v.mu.RLock()
	rs, ok := v.route(operation)
	v.mu.RUnlock()

	if !ok {
		return Result{Score: 1, Passed: true}
	}

	res := Result{Category: rs.Category}
	for _, rule := range rs.Rules {
		violation, failed := rule.check(params)
		if !failed {
			continue
		}
		res.Violations = append(res.Violations, violation)
		switch violation.Severity {
		case HardFail:
			res.HardFails++
		case SoftWarning:
			res.Warnings++
		default:
			res.Advisories++
		}
	}

	penalty := hardFailPenalty*float64(res.HardFails) +
		warningPenalty*float64(res.Warnings) +
		advisoryPenalty*float64(res.Advisories)
	res.Score = math.Max(0, 1-penalty)
	res.Passed = res.HardFails == 0
	return res
}
