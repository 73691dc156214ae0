package models

import (
	"fmt"
	"strings"
	"time"
)

// AllMethods is the method name of patterns that apply to every operation.
const AllMethods = "all"

// FeedbackRecord is the immutable audit record of a resolved review item.
type FeedbackRecord struct {
	ID                 string         `json:"id"`
	ReviewItemID       string         `json:"review_item_id"`
	Operation          string         `json:"operation"`
	OriginalParams     Params         `json:"original_params"`
	ApprovedParams     Params         `json:"approved_params,omitempty"`
	OriginalConfidence float64        `json:"original_confidence"`
	Decision           Decision       `json:"decision"`
	AICorrect          bool           `json:"ai_correct"`
	Rationale          string         `json:"rationale,omitempty"`
	Characteristics    map[string]any `json:"characteristics"`
	RecordedAt         time.Time      `json:"recorded_at"`
}

// PatternSource distinguishes durable patterns from session-scoped ones.
// PatternErrorRate marks the method-wide pattern derived from a method's
// feedback error rate; it is kept apart from promoted session patterns.
type PatternSource string

const (
	PatternDurable   PatternSource = "durable"
	PatternSession   PatternSource = "session"
	PatternErrorRate PatternSource = "error_rate"
)

// LearnedPattern is a (condition -> confidence adjustment) rule.
type LearnedPattern struct {
	ID                   string            `json:"id"`
	Method               string            `json:"method"`
	Conditions           map[string]string `json:"conditions,omitempty"`
	ConfidenceAdjustment float64           `json:"confidence_adjustment"`
	SampleCount          int               `json:"sample_count"`
	Source               PatternSource     `json:"source"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Matches reports whether the pattern applies to an operation and its params.
// Every condition must equal the formatted parameter value.
func (p *LearnedPattern) Matches(method string, params Params) bool {
	if p.Method != AllMethods && !strings.EqualFold(p.Method, method) {
		return false
	}
	for key, want := range p.Conditions {
		if !params.Has(key) || FormatValue(params[key]) != want {
			return false
		}
	}
	return true
}

// Key identifies equivalent patterns: same method and same condition map.
// Error-rate patterns carry a source prefix so they never share a key with
// a condition-free session pattern.
func (p *LearnedPattern) Key() string {
	var sb strings.Builder
	if p.Source == PatternErrorRate {
		sb.WriteString(string(PatternErrorRate) + ":")
	}
	sb.WriteString(strings.ToLower(p.Method))
	for _, k := range Params(stringMapToAny(p.Conditions)).Keys() {
		sb.WriteString(fmt.Sprintf("|%s=%s", k, p.Conditions[k]))
	}
	return sb.String()
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
