package models

import (
	"fmt"
	"strings"
	"time"
)

// CriticalFactorThreshold marks a reasoning step as a source of uncertainty.
const CriticalFactorThreshold = 0.7

// ReasoningStep records one factor evaluation.
type ReasoningStep struct {
	Factor      string    `json:"factor"`
	Observation string    `json:"observation"`
	Evidence    string    `json:"evidence"`
	Inference   string    `json:"inference,omitempty"`
	Uncertainty string    `json:"uncertainty,omitempty"`
	Score       float64   `json:"score"`
	At          time.Time `json:"at"`
}

// ReasoningChain is an append-only trace of factor evaluations.
type ReasoningChain struct {
	Steps              []ReasoningStep `json:"steps"`
	CriticalFactors    []string        `json:"critical_factors,omitempty"`
	PrimaryEvidence    string          `json:"primary_evidence,omitempty"`
	PrimaryUncertainty string          `json:"primary_uncertainty,omitempty"`
	Finalized          bool            `json:"finalized"`
}

// NewReasoningChain returns an empty, open chain.
func NewReasoningChain() *ReasoningChain {
	return &ReasoningChain{}
}

// Add appends a step. Returns false once the chain is finalized.
func (c *ReasoningChain) Add(step ReasoningStep) bool {
	if c == nil || c.Finalized {
		return false
	}
	if step.At.IsZero() {
		step.At = time.Now()
	}
	c.Steps = append(c.Steps, step)
	if step.Score < CriticalFactorThreshold && step.Factor != "" && !c.isCritical(step.Factor) {
		c.CriticalFactors = append(c.CriticalFactors, step.Factor)
	}
	return true
}

func (c *ReasoningChain) isCritical(factor string) bool {
	for _, f := range c.CriticalFactors {
		if f == factor {
			return true
		}
	}
	return false
}

// Finalize derives the primary evidence (highest-scoring step) and primary
// uncertainty (lowest-scoring critical step) and freezes the chain.
func (c *ReasoningChain) Finalize() {
	if c == nil || c.Finalized {
		return
	}
	var best, worst *ReasoningStep
	for i := range c.Steps {
		s := &c.Steps[i]
		if best == nil || s.Score > best.Score {
			best = s
		}
		if s.Score < CriticalFactorThreshold && (worst == nil || s.Score < worst.Score) {
			worst = s
		}
	}
	if best != nil {
		c.PrimaryEvidence = best.Evidence
	}
	if worst != nil {
		c.PrimaryUncertainty = worst.Observation
		if worst.Uncertainty != "" {
			c.PrimaryUncertainty = worst.Uncertainty
		}
	}
	c.Finalized = true
}

// Summary renders the chain as a compact multi-line string.
func (c *ReasoningChain) Summary() string {
	if c == nil || len(c.Steps) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range c.Steps {
		sb.WriteString(fmt.Sprintf("%d. [%s %.2f] %s", i+1, s.Factor, s.Score, s.Observation))
		if s.Inference != "" {
			sb.WriteString(" => " + s.Inference)
		}
		sb.WriteString("\n")
	}
	if c.PrimaryUncertainty != "" {
		sb.WriteString("Primary uncertainty: " + c.PrimaryUncertainty + "\n")
	}
	return sb.String()
}
