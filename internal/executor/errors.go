package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionPhase represents the phase of batch processing where an error occurred.
type ExecutionPhase int

const (
	// PhaseScore represents errors while scoring operations.
	PhaseScore ExecutionPhase = iota
	// PhaseOrder represents errors during dependency ordering.
	PhaseOrder
	// PhasePass represents errors while running a pass.
	PhasePass
	// PhaseExecute represents errors reported by the method registry.
	PhaseExecute
	// PhaseVerify represents errors during post-execution verification.
	PhaseVerify
	// PhaseReview represents errors while escalating to human review.
	PhaseReview
)

// String returns the string representation of ExecutionPhase.
func (p ExecutionPhase) String() string {
	switch p {
	case PhaseScore:
		return "score"
	case PhaseOrder:
		return "order"
	case PhasePass:
		return "pass"
	case PhaseExecute:
		return "execute"
	case PhaseVerify:
		return "verify"
	case PhaseReview:
		return "review"
	default:
		return "unknown"
	}
}

// OperationError represents an error for one operation of a batch.
type OperationError struct {
	EnvelopeID string    // Envelope that failed
	Operation  string    // Operation name
	Message    string    // Human-readable error message
	Err        error     // Underlying error (optional)
	Timestamp  time.Time // When the error occurred
}

// NewOperationError creates a new OperationError with the current timestamp.
func NewOperationError(envelopeID, operation, msg string, err error) *OperationError {
	return &OperationError{
		EnvelopeID: envelopeID,
		Operation:  operation,
		Message:    msg,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface for OperationError.
func (e *OperationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("operation %s (%s): %s", e.Operation, shortID(e.EnvelopeID), e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// BatchError aggregates the operation errors of one batch.
type BatchError struct {
	Phase           ExecutionPhase    // Phase where errors occurred
	OperationErrors []*OperationError // Individual operation errors
	TotalOperations int               // Operations in the batch
	FailedOps       int               // Operations that failed
}

// NewBatchError creates a new BatchError for the given phase.
func NewBatchError(phase ExecutionPhase, total int) *BatchError {
	return &BatchError{
		Phase:           phase,
		OperationErrors: []*OperationError{},
		TotalOperations: total,
	}
}

// Add adds an operation error and increments the failed count.
func (e *BatchError) Add(opErr *OperationError) {
	e.OperationErrors = append(e.OperationErrors, opErr)
	e.FailedOps++
}

// Error implements the error interface for BatchError.
func (e *BatchError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("batch failed in %s phase: %d/%d operations failed",
		e.Phase, e.FailedOps, e.TotalOperations))

	if len(e.OperationErrors) > 0 {
		sb.WriteString(":")
		for _, opErr := range e.OperationErrors {
			sb.WriteString(fmt.Sprintf("\n  - %s", opErr.Error()))
		}
	}

	return sb.String()
}

// Unwrap returns the operation errors so errors.Is and errors.As can
// traverse them.
func (e *BatchError) Unwrap() []error {
	if len(e.OperationErrors) == 0 {
		return nil
	}

	errs := make([]error, len(e.OperationErrors))
	for i, opErr := range e.OperationErrors {
		errs[i] = opErr
	}
	return errs
}

// IsOperationError checks if the error is or wraps an OperationError.
func IsOperationError(err error) bool {
	if err == nil {
		return false
	}
	var oe *OperationError
	return errors.As(err, &oe)
}

// IsBatchError checks if the error is or wraps a BatchError.
func IsBatchError(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	return errors.As(err, &be)
}

// IsCancelled checks if the error stems from batch cancellation or deadline.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
