package learning

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/gatekeeper/internal/models"
)

// Session adjustments per human decision.
const (
	ApproveAdjustment = 0.15
	ModifyAdjustment  = 0.05
	RejectAdjustment  = -0.20
)

// maxConditionKeys caps the trigger conditions of a session pattern.
const maxConditionKeys = 4

// freeTextKeys never become trigger conditions.
var freeTextKeys = map[string]bool{
	"comment":     true,
	"comments":    true,
	"description": true,
	"name":        true,
	"notes":       true,
}

// StructuralParams returns the sorted names of parameters that describe the
// operation's structure: scalar strings and booleans, and id-shaped values.
// Free text and plain numbers are excluded, at most four names are kept.
func StructuralParams(params models.Params) []string {
	var keys []string
	for _, k := range params.Keys() {
		if freeTextKeys[strings.ToLower(k)] {
			continue
		}
		switch v := params[k].(type) {
		case string, bool:
			keys = append(keys, k)
		default:
			if models.IsIDKey(k) {
				if _, ok := models.ParseID(v); ok {
					keys = append(keys, k)
				}
			}
		}
		if len(keys) == maxConditionKeys {
			break
		}
	}
	return keys
}

// conditionsFor builds a trigger condition map from the structural params.
func conditionsFor(params models.Params) map[string]string {
	keys := StructuralParams(params)
	if len(keys) == 0 {
		return nil
	}
	conds := make(map[string]string, len(keys))
	for _, k := range keys {
		conds[k] = models.FormatValue(params[k])
	}
	return conds
}

// decisionAdjustment maps a decision to its session adjustment.
func decisionAdjustment(d models.Decision) (float64, bool) {
	switch d {
	case models.DecisionApprove:
		return ApproveAdjustment, true
	case models.DecisionModify:
		return ModifyAdjustment, true
	case models.DecisionReject:
		return RejectAdjustment, true
	}
	return 0, false
}

// FromReviewDecision derives a session pattern from a resolved review item.
// Skipped and undecided items yield nothing.
func FromReviewDecision(item *models.ReviewItem, now time.Time) (models.LearnedPattern, bool) {
	if item == nil || item.Envelope == nil {
		return models.LearnedPattern{}, false
	}
	adj, ok := decisionAdjustment(item.Decision)
	if !ok {
		return models.LearnedPattern{}, false
	}
	return models.LearnedPattern{
		ID:                   uuid.NewString(),
		Method:               item.Envelope.Operation,
		Conditions:           conditionsFor(OriginalParams(item)),
		ConfidenceAdjustment: adj,
		SampleCount:          1,
		Source:               models.PatternSession,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, true
}

// OriginalParams returns the parameters as proposed, before any human
// modification was applied to the envelope.
func OriginalParams(item *models.ReviewItem) models.Params {
	if opt, ok := item.Option(models.OptionApprove); ok && opt.Params != nil {
		return opt.Params
	}
	if item.Envelope != nil {
		return item.Envelope.Params
	}
	return models.Params{}
}

// ExtractCharacteristics flattens the attributes later pattern matching
// looks at: method, scalar parameter values and factor scores.
func ExtractCharacteristics(item *models.ReviewItem) map[string]any {
	env := item.Envelope
	chars := map[string]any{
		"method":     env.Operation,
		"confidence": env.OverallConfidence,
		"pass":       env.Pass,
	}
	params := OriginalParams(item)
	for _, k := range params.Keys() {
		if v := params[k]; models.IsScalar(v) {
			chars["param."+k] = v
		}
	}
	for _, f := range env.Factors {
		chars["factor."+f.Name] = f.Score
	}
	return chars
}

// mergePattern folds src into dst, averaging adjustments weighted by samples.
func mergePattern(dst *models.LearnedPattern, src models.LearnedPattern, now time.Time) {
	total := dst.SampleCount + src.SampleCount
	if total <= 0 {
		return
	}
	dst.ConfidenceAdjustment = (dst.ConfidenceAdjustment*float64(dst.SampleCount) +
		src.ConfidenceAdjustment*float64(src.SampleCount)) / float64(total)
	dst.SampleCount = total
	dst.UpdatedAt = now
}

func sortPatterns(patterns []models.LearnedPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Method != patterns[j].Method {
			return patterns[i].Method < patterns[j].Method
		}
		return patterns[i].Key() < patterns[j].Key()
	})
}
