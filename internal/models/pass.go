package models

import "time"

// ProcessingPass is one iteration of the batch life cycle.
type ProcessingPass struct {
	Number       int           `json:"number"`
	Threshold    float64       `json:"threshold"`
	ContextBoost float64       `json:"context_boost"`
	Queued       []string      `json:"queued"`
	Executed     []string      `json:"executed"`
	Held         []string      `json:"held"`
	SentToReview []string      `json:"sent_to_review"`
	Failed       []string      `json:"failed,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	AvgScore     float64       `json:"avg_score"`
	closed       bool
}

// NewProcessingPass opens a pass.
func NewProcessingPass(number int, threshold, boost float64) *ProcessingPass {
	return &ProcessingPass{
		Number:       number,
		Threshold:    threshold,
		ContextBoost: boost,
		StartedAt:    time.Now(),
	}
}

// Queue records an envelope scheduled for this pass.
func (p *ProcessingPass) Queue(id string) {
	if !p.closed {
		p.Queued = append(p.Queued, id)
	}
}

// MarkExecuted records an envelope executed during this pass.
func (p *ProcessingPass) MarkExecuted(id string) {
	if !p.closed {
		p.Executed = append(p.Executed, id)
	}
}

// MarkHeld records an envelope deferred to the next pass.
func (p *ProcessingPass) MarkHeld(id string) {
	if !p.closed {
		p.Held = append(p.Held, id)
	}
}

// MarkReview records an envelope escalated to review during this pass.
func (p *ProcessingPass) MarkReview(id string) {
	if !p.closed {
		p.SentToReview = append(p.SentToReview, id)
	}
}

// MarkFailed records an envelope whose execution failed during this pass.
func (p *ProcessingPass) MarkFailed(id string) {
	if !p.closed {
		p.Failed = append(p.Failed, id)
	}
}

// Close stamps timing and the average score of the queued envelopes.
// A closed pass ignores further updates.
func (p *ProcessingPass) Close(scores []float64) {
	if p.closed {
		return
	}
	p.Duration = time.Since(p.StartedAt)
	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		p.AvgScore = sum / float64(len(scores))
	}
	p.closed = true
}

// Closed reports whether Close was called.
func (p *ProcessingPass) Closed() bool {
	return p.closed
}

// WorkflowStatus is the derived status of a batch.
type WorkflowStatus string

const (
	WorkflowInProgress     WorkflowStatus = "in_progress"
	WorkflowCompleted      WorkflowStatus = "completed"
	WorkflowAwaitingReview WorkflowStatus = "awaiting_review"
	WorkflowFailed         WorkflowStatus = "failed"
)

// WorkflowState is a named batch of envelopes and its completed passes.
type WorkflowState struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Envelopes   []*Envelope       `json:"envelopes"`
	Passes      []*ProcessingPass `json:"passes"`
	CurrentPass int               `json:"current_pass"`
	MaxPasses   int               `json:"max_passes"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`

	// CycleDetected is set when dependency ordering fell back to input order.
	CycleDetected []string `json:"cycle_detected,omitempty"`
}

// Envelope returns the envelope with the given id.
func (w *WorkflowState) Envelope(id string) (*Envelope, bool) {
	for _, e := range w.Envelopes {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Status derives the batch status from its envelopes:
// any in review -> AwaitingReview; all failed -> Failed;
// all verified or approved -> Completed; otherwise InProgress.
// Rejected and skipped operations are settled but not successful, so a
// batch holding any of them, or any failure, never reports Completed.
func (w *WorkflowState) Status() WorkflowStatus {
	if len(w.Envelopes) == 0 {
		return WorkflowCompleted
	}
	failed, succeeded := 0, 0
	for _, e := range w.Envelopes {
		switch {
		case e.Status == StatusInReview:
			return WorkflowAwaitingReview
		case e.Status == StatusFailed:
			failed++
		case e.Status.IsSuccess():
			succeeded++
		}
	}
	switch n := len(w.Envelopes); {
	case failed == n:
		return WorkflowFailed
	case succeeded == n:
		return WorkflowCompleted
	default:
		return WorkflowInProgress
	}
}

// WorkflowCounts tallies envelopes by outcome bucket.
type WorkflowCounts struct {
	Total    int `json:"total"`
	Executed int `json:"executed"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
	InReview int `json:"in_review"`
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
}

// Counts buckets every envelope exactly once.
func (w *WorkflowState) Counts() WorkflowCounts {
	c := WorkflowCounts{Total: len(w.Envelopes)}
	for _, e := range w.Envelopes {
		switch e.Status {
		case StatusExecuted, StatusNeedsReverification:
			c.Executed++
		case StatusVerified:
			c.Verified++
		case StatusFailed:
			c.Failed++
		case StatusInReview, StatusVerificationFailed:
			c.InReview++
		case StatusApproved, StatusRejected, StatusSkipped:
			c.Resolved++
		default:
			c.Pending++
		}
	}
	return c
}
