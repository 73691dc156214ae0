package review

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/gatekeeper/internal/models"
)

const (
	// lowFactorThreshold marks factors worth asking the reviewer about.
	lowFactorThreshold    = models.CriticalFactorThreshold
	maxAlternativeOptions = 3
	// approveFloor is the confidence below which rejection is recommended.
	approveFloor = 0.5
)

// factorQuestions phrases the reviewer question for each canonical factor.
var factorQuestions = map[string]string{
	models.FactorParameterCompleteness: "Parameters look incomplete (%s). Which values should be used?",
	models.FactorReferenceValidation:   "Referenced elements could not be confirmed (%s). Are the targets correct?",
	models.FactorCorrectionHistory:     "This operation has been corrected before (%s). Does the proposal repeat a known mistake?",
	models.FactorPreflightCheck:        "The dry run raised concerns (%s). Is it safe to proceed?",
	models.FactorPatternMatch:          "Similar operations have a weak track record (%s). Does this one look right?",
	models.FactorDomainValidation:      "Domain rules flagged the parameters (%s). Are these values intended?",
	models.FactorError:                 "Confidence could not be computed (%s). Should the operation run as proposed?",
}

// GenerateQuestions derives reviewer-facing questions from the envelope's
// weak factors, domain violations and failed verification checks.
func GenerateQuestions(env *models.Envelope) []string {
	var questions []string

	for _, f := range env.LowFactors(lowFactorThreshold) {
		if f.Name == models.FactorDomainValidation && len(violationMessages(f)) > 0 {
			continue
		}
		format, ok := factorQuestions[f.Name]
		if !ok {
			format = "Factor " + f.Name + " is low (%s). Should the operation proceed?"
		}
		questions = append(questions, fmt.Sprintf(format, f.Reason))
	}

	if f, ok := env.Factor(models.FactorDomainValidation); ok {
		for _, msg := range violationMessages(f) {
			questions = append(questions, fmt.Sprintf("Domain rule violated: %s. Is this value intended?", msg))
		}
	}

	if env.Verification != nil {
		for _, check := range env.Verification.Failures() {
			questions = append(questions, fmt.Sprintf("Verification %q failed: %s. Does the model reflect what was intended?", check.Name, check.Message))
		}
	}

	if len(questions) == 0 {
		questions = append(questions, fmt.Sprintf("Confidence %.2f did not reach the execution threshold. Should %s run as proposed?", env.OverallConfidence, env.Operation))
	}
	return questions
}

// violationMessages reads the violation list from a domain factor's detail,
// whether it came straight from the validator or back from a JSON snapshot.
func violationMessages(f models.ConfidenceFactor) []string {
	switch v := f.Detail["violations"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

// GenerateOptions offers approve-as-proposed, up to three alternatives by
// descending confidence, and reject.
func GenerateOptions(env *models.Envelope) []models.ReviewOption {
	options := []models.ReviewOption{{
		ID:          models.OptionApprove,
		Label:       "Approve as proposed",
		Params:      env.Params.Clone(),
		Confidence:  env.OverallConfidence,
		Description: describeParams(env.Params),
	}}

	alts := append([]models.Alternative(nil), env.Alternatives...)
	sort.SliceStable(alts, func(i, j int) bool { return alts[i].Confidence > alts[j].Confidence })
	if len(alts) > maxAlternativeOptions {
		alts = alts[:maxAlternativeOptions]
	}
	for i, alt := range alts {
		desc := alt.Description
		if desc == "" {
			desc = describeChanges(env.Params, alt.Params)
		}
		options = append(options, models.ReviewOption{
			ID:          fmt.Sprintf("alternative-%d", i+1),
			Label:       fmt.Sprintf("Use alternative %d (%s)", i+1, alt.Source),
			Params:      alt.Params.Clone(),
			Confidence:  alt.Confidence,
			Description: desc,
		})
	}

	options = append(options, models.ReviewOption{
		ID:          models.OptionReject,
		Label:       "Reject",
		Confidence:  models.Clamp01(1 - env.OverallConfidence),
		Description: "Do not execute this operation",
	})
	return options
}

// Recommend picks the option the pipeline would choose: an alternative that
// outranks the proposal, else approve when confidence is at least 0.5.
func Recommend(env *models.Envelope, options []models.ReviewOption) string {
	best := ""
	bestConf := env.OverallConfidence
	for _, o := range options {
		if o.ID == models.OptionApprove || o.ID == models.OptionReject {
			continue
		}
		if o.Confidence > bestConf {
			best, bestConf = o.ID, o.Confidence
		}
	}
	if best != "" {
		return best
	}
	if env.OverallConfidence >= approveFloor {
		return models.OptionApprove
	}
	return models.OptionReject
}

func describeParams(p models.Params) string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%s", k, models.FormatValue(p[k])))
	}
	return strings.Join(parts, ", ")
}

func describeChanges(from, to models.Params) string {
	var parts []string
	for _, k := range to.Keys() {
		nv := models.FormatValue(to[k])
		if ov, ok := from[k]; ok {
			if models.FormatValue(ov) != nv {
				parts = append(parts, fmt.Sprintf("%s: %s -> %s", k, models.FormatValue(ov), nv))
			}
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: (unset) -> %s", k, nv))
	}
	if len(parts) == 0 {
		return "same parameters"
	}
	return strings.Join(parts, ", ")
}
