package models

import (
	"strings"
	"time"
)

// VerificationCheck is the outcome of one named post-execution check.
type VerificationCheck struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Expected  string  `json:"expected,omitempty"`
	Actual    string  `json:"actual,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Deviation float64 `json:"deviation,omitempty"`
	Message   string  `json:"message"`
}

// VerificationReport aggregates every check run against one envelope.
type VerificationReport struct {
	EnvelopeID string              `json:"envelope_id"`
	Checks     []VerificationCheck `json:"checks"`
	AllPassed  bool                `json:"all_passed"`
	VerifiedAt time.Time           `json:"verified_at"`
}

// Add appends a check and recomputes AllPassed.
func (r *VerificationReport) Add(check VerificationCheck) {
	r.Checks = append(r.Checks, check)
	r.AllPassed = true
	for _, c := range r.Checks {
		if !c.Passed {
			r.AllPassed = false
			break
		}
	}
}

// Failures returns the failing checks.
func (r *VerificationReport) Failures() []VerificationCheck {
	var failed []VerificationCheck
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// FailureMessages joins the messages of failing checks with "; ".
func (r *VerificationReport) FailureMessages() string {
	failed := r.Failures()
	msgs := make([]string, 0, len(failed))
	for _, c := range failed {
		msgs = append(msgs, c.Name+": "+c.Message)
	}
	return strings.Join(msgs, "; ")
}
