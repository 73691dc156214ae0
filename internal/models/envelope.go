// Package models holds the data types shared across the pipeline: the scored
// operation envelope, its confidence factors and reasoning trace, execution
// and verification results, processing passes, review items and learned
// patterns.
package models

import (
	"fmt"
	"math"
	"time"
)

// Status is the processing state of an envelope.
type Status string

const (
	StatusPending             Status = "pending"
	StatusPass1Queued         Status = "pass1_queued"
	StatusPass2Queued         Status = "pass2_queued"
	StatusPass3Queued         Status = "pass3_queued"
	StatusExecuting           Status = "executing"
	StatusExecuted            Status = "executed"
	StatusVerified            Status = "verified"
	StatusVerificationFailed  Status = "verification_failed"
	StatusFailed              Status = "failed"
	StatusInReview            Status = "in_review"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
	StatusSkipped             Status = "skipped"
	StatusNeedsReverification Status = "needs_reverification"
)

// rank orders statuses along the state machine. A transition to a lower rank
// is a regression and is only allowed through Envelope.Invalidate.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPass1Queued:
		return 1
	case StatusPass2Queued:
		return 2
	case StatusPass3Queued:
		return 3
	case StatusExecuting:
		return 10
	case StatusExecuted:
		return 11
	case StatusVerificationFailed:
		return 12
	case StatusNeedsReverification:
		return 12
	case StatusVerified, StatusFailed:
		return 13
	case StatusInReview:
		return 20
	case StatusApproved, StatusRejected, StatusSkipped:
		return 21
	}
	return -1
}

// IsTerminal reports whether no further automatic transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusApproved, StatusRejected, StatusSkipped:
		return true
	}
	return false
}

// IsSuccess reports whether s is a terminal success: verified after
// execution, or approved by a reviewer.
func (s Status) IsSuccess() bool {
	return s == StatusVerified || s == StatusApproved
}

// IsQueued reports whether s is one of the per-pass holding statuses.
func (s Status) IsQueued() bool {
	switch s {
	case StatusPending, StatusPass1Queued, StatusPass2Queued, StatusPass3Queued:
		return true
	}
	return false
}

// IsExecutedLike reports whether the operation has mutated the external model.
func (s Status) IsExecutedLike() bool {
	switch s {
	case StatusExecuted, StatusVerified, StatusVerificationFailed, StatusNeedsReverification:
		return true
	}
	return false
}

// QueuedStatusForPass returns the holding status for a pass number (1-based).
// Passes beyond the third share the Pass3Queued status.
func QueuedStatusForPass(pass int) Status {
	switch {
	case pass <= 1:
		return StatusPass1Queued
	case pass == 2:
		return StatusPass2Queued
	default:
		return StatusPass3Queued
	}
}

// Canonical factor names.
const (
	FactorParameterCompleteness = "parameter_completeness"
	FactorReferenceValidation   = "reference_validation"
	FactorCorrectionHistory     = "correction_history"
	FactorPreflightCheck        = "preflight_check"
	FactorPatternMatch          = "pattern_match"
	FactorDomainValidation      = "domain_validation"
	FactorError                 = "error"
)

// ConfidenceFactor is one weighted signal contributing to overall confidence.
type ConfidenceFactor struct {
	Name   string         `json:"name"`
	Score  float64        `json:"score"`
	Weight float64        `json:"weight"`
	Reason string         `json:"reason"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Contribution is the factor's weighted share of the overall score.
func (f ConfidenceFactor) Contribution() float64 {
	return f.Score * f.Weight
}

// Alternative is a different parameter interpretation with its own confidence.
type Alternative struct {
	Params      Params  `json:"params"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
	Description string  `json:"description,omitempty"`
}

// ExecutionResult is the opaque outcome reported by the method registry.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// newIDKeys are the result fields checked, in order, for a created element id.
var newIDKeys = []string{"new_id", "element_id", "id", "created_id"}

// NewID returns the id of the element the execution created, if any.
func (r ExecutionResult) NewID() (int64, bool) {
	for _, key := range newIDKeys {
		if v, ok := r.Data[key]; ok {
			if id, ok := ParseID(v); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// Envelope is the scored, stateful wrapper around one proposed operation.
type Envelope struct {
	ID                string              `json:"id"`
	BatchID           string              `json:"batch_id,omitempty"`
	Operation         string              `json:"operation"`
	Params            Params              `json:"params"`
	OverallConfidence float64             `json:"overall_confidence"`
	Factors           []ConfidenceFactor  `json:"factors"`
	Alternatives      []Alternative       `json:"alternatives,omitempty"`
	Pass              int                 `json:"pass"`
	Status            Status              `json:"status"`
	DependsOn         []string            `json:"depends_on,omitempty"`
	Result            *ExecutionResult    `json:"result,omitempty"`
	Error             string              `json:"error,omitempty"`
	Reasoning         *ReasoningChain     `json:"reasoning,omitempty"`
	Verification      *VerificationReport `json:"verification,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	ProcessedAt       time.Time           `json:"processed_at,omitempty"`

	// Boosts records context boosts applied after scoring. The reasoning
	// chain is frozen at that point, so they are kept alongside it.
	Boosts []ReasoningStep `json:"boosts,omitempty"`

	// ResolvedDependencies tracks dependencies whose boost was already applied.
	ResolvedDependencies []string `json:"resolved_dependencies,omitempty"`
}

// HasScore reports whether OverallConfidence is meaningful.
func (e *Envelope) HasScore() bool {
	return len(e.Factors) > 0
}

// WeightedSum recomputes the factor sum without any learned adjustment.
func (e *Envelope) WeightedSum() float64 {
	var sum float64
	for _, f := range e.Factors {
		sum += f.Contribution()
	}
	return sum
}

// Factor returns the named factor.
func (e *Envelope) Factor(name string) (ConfidenceFactor, bool) {
	for _, f := range e.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return ConfidenceFactor{}, false
}

// LowFactors returns the factors scoring below threshold, in evaluation order.
func (e *Envelope) LowFactors(threshold float64) []ConfidenceFactor {
	var low []ConfidenceFactor
	for _, f := range e.Factors {
		if f.Score < threshold {
			low = append(low, f)
		}
	}
	return low
}

// Transition moves the envelope to a new status, rejecting regressions.
func (e *Envelope) Transition(to Status) error {
	if to.rank() < 0 {
		return fmt.Errorf("envelope %s: unknown status %q", e.ID, to)
	}
	if e.Status.IsTerminal() && e.Status != to {
		return fmt.Errorf("envelope %s: cannot leave terminal status %s for %s", e.ID, e.Status, to)
	}
	if to.rank() < e.Status.rank() {
		return fmt.Errorf("envelope %s: status regression %s -> %s", e.ID, e.Status, to)
	}
	e.Status = to
	e.ProcessedAt = time.Now()
	return nil
}

// Invalidate forces a status change outside the monotonic state machine.
// Only cascade invalidation may call this.
func (e *Envelope) Invalidate(to Status) {
	e.Status = to
	e.ProcessedAt = time.Now()
}

// AddConfidence shifts OverallConfidence by delta, clamped to [0,1].
func (e *Envelope) AddConfidence(delta float64) {
	e.OverallConfidence = Clamp01(e.OverallConfidence + delta)
}

// ApplyBoost raises confidence by delta and records why.
func (e *Envelope) ApplyBoost(factor string, delta float64, observation string) {
	e.AddConfidence(delta)
	e.Boosts = append(e.Boosts, ReasoningStep{
		Factor:      factor,
		Observation: observation,
		Evidence:    fmt.Sprintf("+%.3f", delta),
		Score:       e.OverallConfidence,
		At:          time.Now(),
	})
}

// DependencyResolved reports whether the boost for dep was already applied.
func (e *Envelope) DependencyResolved(dep string) bool {
	for _, d := range e.ResolvedDependencies {
		if d == dep {
			return true
		}
	}
	return false
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampAbs bounds v to [-limit, limit].
func ClampAbs(v, limit float64) float64 {
	if limit < 0 {
		limit = -limit
	}
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-limit, math.Min(limit, v))
}
