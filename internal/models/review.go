package models

import (
	"strings"
	"time"
)

// Decision is a human reviewer's outcome for a review item.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionModify  Decision = "modify"
	DecisionReject  Decision = "reject"
	DecisionSkip    Decision = "skip"
)

// ParseDecision accepts the decision names case-insensitively.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, true
	case DecisionModify:
		return DecisionModify, true
	case DecisionReject:
		return DecisionReject, true
	case DecisionSkip:
		return DecisionSkip, true
	}
	return DecisionNone, false
}

// Option ids generated for every review item.
const (
	OptionApprove = "approve"
	OptionReject  = "reject"
)

// ReviewOption is one selectable answer offered to the reviewer.
type ReviewOption struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Params      Params  `json:"params,omitempty"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// ReviewItem wraps one envelope for human attention.
type ReviewItem struct {
	ID             string         `json:"id"`
	Envelope       *Envelope      `json:"envelope"`
	Reason         string         `json:"reason"`
	Questions      []string       `json:"questions"`
	Options        []ReviewOption `json:"options"`
	Recommendation string         `json:"recommendation,omitempty"`
	QueuedAt       time.Time      `json:"queued_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ReviewedAt     time.Time      `json:"reviewed_at,omitempty"`
	Decision       Decision       `json:"decision,omitempty"`
	ModifiedParams Params         `json:"modified_params,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

// Reviewed reports whether a decision was recorded.
func (r *ReviewItem) Reviewed() bool {
	return r.Decision != DecisionNone
}

// Expired reports whether the item passed its expiry without review.
func (r *ReviewItem) Expired(now time.Time) bool {
	return !r.Reviewed() && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Pending reports whether the item still awaits a decision.
func (r *ReviewItem) Pending(now time.Time) bool {
	return !r.Reviewed() && !r.Expired(now)
}

// Option returns the option with the given id.
func (r *ReviewItem) Option(id string) (ReviewOption, bool) {
	for _, o := range r.Options {
		if o.ID == id {
			return o, true
		}
	}
	return ReviewOption{}, false
}
