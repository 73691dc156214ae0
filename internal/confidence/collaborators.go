package confidence

import (
	"context"

	"github.com/harrison/gatekeeper/internal/models"
	"github.com/harrison/gatekeeper/internal/validation"
)

// MethodCatalog knows the required parameters of statically known methods.
type MethodCatalog interface {
	// RequiredParams returns the required parameter names and whether the
	// method is known at all.
	RequiredParams(method string) ([]string, bool)
}

// ElementResolver answers whether an element id exists in the external model.
type ElementResolver interface {
	ElementExists(ctx context.Context, id int64) (bool, error)
}

// CorrectionHistoryProvider exposes documented human corrections per method.
type CorrectionHistoryProvider interface {
	CorrectionCount(ctx context.Context, method string) (int, error)
	CorrectedAlternatives(ctx context.Context, method string, params models.Params) ([]models.Alternative, error)
}

// PreflightResult is the outcome of a dry run.
type PreflightResult struct {
	CanProceed bool     `json:"can_proceed"`
	Warnings   []string `json:"warnings,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// PreflightChecker simulates an operation without mutating the model.
type PreflightChecker interface {
	Check(ctx context.Context, method string, params models.Params) (PreflightResult, error)
}

// AccuracySource reports accuracy observed in the current process.
type AccuracySource interface {
	Accuracy(method string) (rate float64, samples int)
}

// HistoricalAccuracy reports accuracy remembered across sessions.
type HistoricalAccuracy interface {
	Accuracy(ctx context.Context, method string) (rate float64, calls int, err error)
}

// DomainValidator checks parameters against domain rules.
type DomainValidator interface {
	Validate(ctx context.Context, method string, params models.Params) validation.Result
}

// AdjustmentProvider returns the learned confidence adjustment for an operation.
type AdjustmentProvider interface {
	GetConfidenceAdjustment(method string, params models.Params) float64
}

// PatternAlternatives proposes parameter interpretations from learned decisions.
type PatternAlternatives interface {
	Alternatives(method string, params models.Params) []models.Alternative
}

// Logger is the subset of logging the calculator needs.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}
