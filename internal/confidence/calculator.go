// Package confidence scores proposed operations by combining independent,
// weighted signals into one confidence value in [0,1].
package confidence

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/gatekeeper/internal/models"
)

// Canonical factor weights. They sum to 1.0.
const (
	WeightParameterCompleteness = 0.18
	WeightReferenceValidation   = 0.14
	WeightCorrectionHistory     = 0.22
	WeightPreflightCheck        = 0.22
	WeightPatternMatch          = 0.14
	WeightDomainValidation      = 0.10
)

// FactorWeights lists the canonical factors in evaluation order.
var FactorWeights = []struct {
	Name   string
	Weight float64
}{
	{models.FactorParameterCompleteness, WeightParameterCompleteness},
	{models.FactorReferenceValidation, WeightReferenceValidation},
	{models.FactorCorrectionHistory, WeightCorrectionHistory},
	{models.FactorPreflightCheck, WeightPreflightCheck},
	{models.FactorPatternMatch, WeightPatternMatch},
	{models.FactorDomainValidation, WeightDomainValidation},
}

const (
	// degradedScore replaces a factor whose computation failed.
	degradedScore = 0.5

	noPreflightScore     = 0.8
	preflightWarnPenalty = 0.1
	preflightFloor       = 0.5

	correctionPenalty = 0.1
	correctionFloor   = 0.3

	neutralPatternScore = 0.7
	minLocalSamples     = 3
	localBlendWeight    = 0.7
	historyOnlyDiscount = 0.9

	// StepLearnedAdjustment names the reasoning step for a learned adjustment.
	StepLearnedAdjustment = "learned_adjustment"
	// StepHardFailCap names the reasoning step for the domain hard-fail cap.
	StepHardFailCap = "domain_hard_fail_cap"
)

// Options configures a Calculator. Every collaborator is optional; a missing
// collaborator yields the factor's documented default.
type Options struct {
	Catalog     MethodCatalog
	Resolver    ElementResolver
	Corrections CorrectionHistoryProvider
	Preflight   PreflightChecker
	Session     AccuracySource
	History     HistoricalAccuracy
	Validator   DomainValidator
	Adjustments AdjustmentProvider
	Patterns    PatternAlternatives
	Logger      Logger

	// HighThreshold is the score at or above which no alternatives are attached.
	HighThreshold float64
	// MaxAlternatives bounds attached alternatives. Negative disables them.
	MaxAlternatives int
	// MaxAdjustment bounds the learned adjustment magnitude.
	MaxAdjustment float64
	// AdjustmentEpsilon is the smallest adjustment recorded as a reasoning step.
	AdjustmentEpsilon float64
	// HardFailCap caps overall confidence when domain validation hard-fails.
	// Negative disables the cap.
	HardFailCap float64
	// CollaboratorTimeout bounds each collaborator call. Zero means no bound.
	CollaboratorTimeout time.Duration
}

// Calculator computes envelopes for proposed operations.
type Calculator struct {
	opts Options
	now  func() time.Time
}

// NewCalculator creates a calculator, filling zero-valued thresholds with defaults.
func NewCalculator(opts Options) *Calculator {
	if opts.HighThreshold <= 0 {
		opts.HighThreshold = 0.85
	}
	if opts.MaxAlternatives == 0 {
		opts.MaxAlternatives = 3
	}
	if opts.MaxAdjustment <= 0 {
		opts.MaxAdjustment = 0.2
	}
	if opts.AdjustmentEpsilon <= 0 {
		opts.AdjustmentEpsilon = 0.001
	}
	if opts.HardFailCap == 0 {
		opts.HardFailCap = 0.4
	}
	return &Calculator{opts: opts, now: time.Now}
}

// HighThreshold returns the configured high-confidence threshold.
func (c *Calculator) HighThreshold() float64 {
	return c.opts.HighThreshold
}

// outcome is what one factor computation produces.
type outcome struct {
	score     float64
	reason    string
	inference string
	detail    map[string]any
}

type factorFunc func(ctx context.Context, method string, params models.Params) (outcome, error)

// Calculate scores one proposed operation. It never fails: factor errors
// degrade that factor and a panic anywhere yields overall confidence 0.5.
func (c *Calculator) Calculate(ctx context.Context, method string, params models.Params) (env *models.Envelope) {
	if params == nil {
		params = models.Params{}
	}
	env = &models.Envelope{
		ID:        uuid.NewString(),
		Operation: method,
		Params:    params,
		Status:    models.StatusPending,
		CreatedAt: c.now(),
		Reasoning: models.NewReasoningChain(),
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("confidence calculation panicked: %v", r)
			c.logWarn(fmt.Sprintf("%s: %s", method, msg))
			env.Factors = []models.ConfidenceFactor{{
				Name:   models.FactorError,
				Score:  degradedScore,
				Weight: 1.0,
				Reason: msg,
			}}
			env.OverallConfidence = degradedScore
			env.Alternatives = nil
			env.Reasoning = models.NewReasoningChain()
			env.Reasoning.Add(models.ReasoningStep{
				Factor:      models.FactorError,
				Observation: msg,
				Evidence:    "default confidence",
				Uncertainty: msg,
				Score:       degradedScore,
			})
			env.Reasoning.Finalize()
		}
	}()

	funcs := map[string]factorFunc{
		models.FactorParameterCompleteness: c.parameterCompleteness,
		models.FactorReferenceValidation:   c.referenceValidation,
		models.FactorCorrectionHistory:     c.correctionHistory,
		models.FactorPreflightCheck:        c.preflightCheck,
		models.FactorPatternMatch:          c.patternMatch,
		models.FactorDomainValidation:      c.domainValidation,
	}
	for _, fw := range FactorWeights {
		factor, step := c.evaluate(ctx, fw.Name, fw.Weight, method, params, funcs[fw.Name])
		env.Factors = append(env.Factors, factor)
		env.Reasoning.Add(step)
	}

	overall := env.WeightedSum()

	if adj := c.adjustment(method, params); math.Abs(adj) > c.opts.AdjustmentEpsilon {
		overall += adj
		env.Reasoning.Add(models.ReasoningStep{
			Factor:      StepLearnedAdjustment,
			Observation: fmt.Sprintf("learned patterns adjust confidence by %+.3f", adj),
			Evidence:    "feedback from past human decisions",
			Score:       models.Clamp01(overall),
		})
	}

	if c.opts.HardFailCap > 0 {
		if f, ok := env.Factor(models.FactorDomainValidation); ok && hardFails(f) > 0 && overall > c.opts.HardFailCap {
			overall = c.opts.HardFailCap
			env.Reasoning.Add(models.ReasoningStep{
				Factor:      StepHardFailCap,
				Observation: fmt.Sprintf("domain rule hard-failed; confidence capped at %.2f", c.opts.HardFailCap),
				Evidence:    f.Reason,
				Uncertainty: f.Reason,
				Score:       c.opts.HardFailCap,
			})
		}
	}

	env.OverallConfidence = models.Clamp01(overall)
	env.Reasoning.Finalize()

	if env.OverallConfidence < c.opts.HighThreshold && c.opts.MaxAlternatives > 0 {
		env.Alternatives = c.alternatives(ctx, method, params)
	}
	return env
}

// evaluate runs one factor, converting errors and panics into a degraded score.
func (c *Calculator) evaluate(ctx context.Context, name string, weight float64, method string, params models.Params, fn factorFunc) (factor models.ConfidenceFactor, step models.ReasoningStep) {
	factor = models.ConfidenceFactor{Name: name, Weight: weight}

	res, err := func() (res outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx, method, params)
	}()
	if err != nil {
		c.logWarn(fmt.Sprintf("%s: factor %s degraded: %v", method, name, err))
		res = outcome{
			score:  degradedScore,
			reason: fmt.Sprintf("could not evaluate: %v", err),
			detail: map[string]any{"error": err.Error()},
		}
	}

	factor.Score = models.Clamp01(res.score)
	factor.Reason = res.reason
	factor.Detail = res.detail

	step = models.ReasoningStep{
		Factor:      name,
		Observation: res.reason,
		Evidence:    fmt.Sprintf("score %.2f x weight %.2f = %.3f", factor.Score, weight, factor.Contribution()),
		Inference:   res.inference,
		Score:       factor.Score,
	}
	if factor.Score < models.CriticalFactorThreshold {
		step.Uncertainty = res.reason
	}
	return factor, step
}

func (c *Calculator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CollaboratorTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CollaboratorTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Calculator) parameterCompleteness(_ context.Context, method string, params models.Params) (outcome, error) {
	if c.opts.Catalog == nil {
		return outcome{score: 1, reason: "no method catalog; parameters assumed complete"}, nil
	}
	required, known := c.opts.Catalog.RequiredParams(method)
	if !known {
		return outcome{score: 1, reason: "method not in catalog; treated as complete"}, nil
	}
	if len(required) == 0 {
		return outcome{score: 1, reason: "method has no required parameters"}, nil
	}

	var missing []string
	for _, name := range required {
		if v, ok := params[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	score := 1 - float64(len(missing))/float64(len(required))
	if len(missing) == 0 {
		return outcome{score: score, reason: fmt.Sprintf("all %d required parameters present", len(required))}, nil
	}
	return outcome{
		score:     score,
		reason:    fmt.Sprintf("missing required parameters: %s", strings.Join(missing, ", ")),
		inference: "the operation may fall back to defaults the caller did not intend",
		detail:    map[string]any{"missing": missing, "required": len(required)},
	}, nil
}

func (c *Calculator) referenceValidation(ctx context.Context, _ string, params models.Params) (outcome, error) {
	type ref struct {
		key string
		id  int64
		ok  bool
	}
	var refs []ref
	for _, key := range params.Keys() {
		if !models.IsIDKey(key) {
			continue
		}
		v := params[key]
		if id, ok := models.ParseID(v); ok {
			refs = append(refs, ref{key: key, id: id, ok: true})
		} else if isNumber(v) {
			// Zero and negative numbers are never valid element ids.
			refs = append(refs, ref{key: key})
		}
	}
	if len(refs) == 0 {
		return outcome{score: 1, reason: "no element references to validate"}, nil
	}
	if c.opts.Resolver == nil {
		return outcome{score: 1, reason: fmt.Sprintf("%d references not checked; no resolver", len(refs))}, nil
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	resolved := 0
	var unresolved []string
	for _, r := range refs {
		exists := false
		if r.ok {
			var err error
			exists, err = c.opts.Resolver.ElementExists(ctx, r.id)
			if err != nil {
				return outcome{}, fmt.Errorf("resolve %s=%d: %w", r.key, r.id, err)
			}
		}
		if exists {
			resolved++
		} else {
			unresolved = append(unresolved, r.key)
		}
	}
	score := float64(resolved) / float64(len(refs))
	if len(unresolved) == 0 {
		return outcome{score: score, reason: fmt.Sprintf("all %d references resolve", len(refs))}, nil
	}
	return outcome{
		score:     score,
		reason:    fmt.Sprintf("unresolved references: %s", strings.Join(unresolved, ", ")),
		inference: "the operation targets elements that do not exist",
		detail:    map[string]any{"unresolved": unresolved, "checked": len(refs)},
	}, nil
}

func (c *Calculator) correctionHistory(ctx context.Context, method string, _ models.Params) (outcome, error) {
	if c.opts.Corrections == nil {
		return outcome{score: 1, reason: "no correction history available"}, nil
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	count, err := c.opts.Corrections.CorrectionCount(ctx, method)
	if err != nil {
		return outcome{}, fmt.Errorf("correction count: %w", err)
	}
	score := math.Max(correctionFloor, 1-correctionPenalty*float64(count))
	if count == 0 {
		return outcome{score: score, reason: "no documented corrections for this method"}, nil
	}
	return outcome{
		score:     score,
		reason:    fmt.Sprintf("%d documented corrections for this method", count),
		inference: "reviewers have had to fix this operation before",
		detail:    map[string]any{"corrections": count},
	}, nil
}

func (c *Calculator) preflightCheck(ctx context.Context, method string, params models.Params) (outcome, error) {
	if c.opts.Preflight == nil {
		return outcome{score: noPreflightScore, reason: "no pre-flight check available"}, nil
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	res, err := c.opts.Preflight.Check(ctx, method, params)
	if err != nil {
		return outcome{}, fmt.Errorf("pre-flight: %w", err)
	}
	detail := map[string]any{}
	if len(res.Warnings) > 0 {
		detail["warnings"] = res.Warnings
	}
	if len(res.Errors) > 0 {
		detail["errors"] = res.Errors
	}
	if len(detail) == 0 {
		detail = nil
	}

	switch {
	case len(res.Errors) > 0:
		return outcome{
			score:     0,
			reason:    "pre-flight errors: " + strings.Join(res.Errors, "; "),
			inference: "execution is expected to fail",
			detail:    detail,
		}, nil
	case !res.CanProceed:
		return outcome{score: 0, reason: "pre-flight check refused the operation", detail: detail}, nil
	case len(res.Warnings) > 0:
		score := math.Max(preflightFloor, 1-preflightWarnPenalty*float64(len(res.Warnings)))
		return outcome{
			score:  score,
			reason: "pre-flight warnings: " + strings.Join(res.Warnings, "; "),
			detail: detail,
		}, nil
	}
	return outcome{score: 1, reason: "pre-flight check passed"}, nil
}

func (c *Calculator) patternMatch(ctx context.Context, method string, _ models.Params) (outcome, error) {
	var localRate float64
	var localSamples int
	if c.opts.Session != nil {
		localRate, localSamples = c.opts.Session.Accuracy(method)
	}

	var histRate float64
	var histCalls int
	if c.opts.History != nil {
		hctx, cancel := c.callCtx(ctx)
		rate, calls, err := c.opts.History.Accuracy(hctx, method)
		cancel()
		if err != nil {
			c.logDebug(fmt.Sprintf("%s: historical accuracy unavailable: %v", method, err))
		} else {
			histRate, histCalls = rate, calls
		}
	}
	hasHistory := histCalls > 0
	detail := map[string]any{"local_samples": localSamples, "history_calls": histCalls}

	switch {
	case hasHistory && localSamples >= minLocalSamples:
		score := localBlendWeight*localRate + (1-localBlendWeight)*histRate
		return outcome{
			score:  score,
			reason: fmt.Sprintf("session accuracy %.0f%% over %d calls blended with history %.0f%% over %d", localRate*100, localSamples, histRate*100, histCalls),
			detail: detail,
		}, nil
	case localSamples >= minLocalSamples:
		return outcome{score: localRate, reason: fmt.Sprintf("session accuracy %.0f%% over %d calls", localRate*100, localSamples), detail: detail}, nil
	case hasHistory:
		return outcome{
			score:  histRate * historyOnlyDiscount,
			reason: fmt.Sprintf("historical accuracy %.0f%% over %d calls (discounted)", histRate*100, histCalls),
			detail: detail,
		}, nil
	case localSamples > 0:
		return outcome{score: localRate, reason: fmt.Sprintf("session accuracy %.0f%% over %d calls", localRate*100, localSamples), detail: detail}, nil
	}
	return outcome{score: neutralPatternScore, reason: "no accuracy data for this method"}, nil
}

func (c *Calculator) domainValidation(ctx context.Context, method string, params models.Params) (outcome, error) {
	if c.opts.Validator == nil {
		return outcome{score: 1, reason: "no domain rules configured"}, nil
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	res := c.opts.Validator.Validate(ctx, method, params)
	if len(res.Violations) == 0 {
		reason := "no domain rules apply"
		if res.Category != "" {
			reason = fmt.Sprintf("all %s rules pass", res.Category)
		}
		return outcome{score: res.Score, reason: reason}, nil
	}

	messages := make([]string, len(res.Violations))
	for i, v := range res.Violations {
		messages[i] = v.String()
	}
	out := outcome{
		score:  res.Score,
		reason: fmt.Sprintf("%d domain rule violations: %s", len(res.Violations), strings.Join(messages, "; ")),
		detail: map[string]any{
			"category":   res.Category,
			"violations": messages,
			"hard_fails": res.HardFails,
			"warnings":   res.Warnings,
			"advisories": res.Advisories,
		},
	}
	if !res.Passed {
		out.inference = "a hard domain rule is violated"
	}
	return out, nil
}

// adjustment returns the bounded learned adjustment, tolerating a panicking provider.
func (c *Calculator) adjustment(method string, params models.Params) (adj float64) {
	if c.opts.Adjustments == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			c.logWarn(fmt.Sprintf("%s: learned adjustment failed: %v", method, r))
			adj = 0
		}
	}()
	return models.ClampAbs(c.opts.Adjustments.GetConfidenceAdjustment(method, params), c.opts.MaxAdjustment)
}

// alternatives collects interpretations from correction history and learned
// patterns, dropping duplicates of the proposal, best first.
func (c *Calculator) alternatives(ctx context.Context, method string, params models.Params) []models.Alternative {
	var candidates []models.Alternative

	if c.opts.Corrections != nil {
		actx, cancel := c.callCtx(ctx)
		alts, err := c.opts.Corrections.CorrectedAlternatives(actx, method, params)
		cancel()
		if err != nil {
			c.logDebug(fmt.Sprintf("%s: corrected alternatives unavailable: %v", method, err))
		}
		candidates = append(candidates, alts...)
	}
	if c.opts.Patterns != nil {
		candidates = append(candidates, c.patternAlternatives(method, params)...)
	}

	var out []models.Alternative
	for _, alt := range candidates {
		if alt.Params == nil || alt.Params.Equal(params) {
			continue
		}
		dup := false
		for _, existing := range out {
			if existing.Params.Equal(alt.Params) {
				dup = true
				break
			}
		}
		if !dup {
			alt.Confidence = models.Clamp01(alt.Confidence)
			out = append(out, alt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > c.opts.MaxAlternatives {
		out = out[:c.opts.MaxAlternatives]
	}
	return out
}

func (c *Calculator) patternAlternatives(method string, params models.Params) (alts []models.Alternative) {
	defer func() {
		if r := recover(); r != nil {
			c.logWarn(fmt.Sprintf("%s: pattern alternatives failed: %v", method, r))
			alts = nil
		}
	}()
	return c.opts.Patterns.Alternatives(method, params)
}

// ApplyBoost raises env's confidence by delta with its own reasoning record.
func ApplyBoost(env *models.Envelope, factor string, delta float64, reason string) {
	if env == nil || delta == 0 {
		return
	}
	env.ApplyBoost(factor, delta, reason)
}

func hardFails(f models.ConfidenceFactor) int {
	switch n := f.Detail["hard_fails"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func (c *Calculator) logWarn(msg string) {
	if c.opts.Logger != nil {
		c.opts.Logger.LogWarn(msg)
	}
}

func (c *Calculator) logDebug(msg string) {
	if c.opts.Logger != nil {
		c.opts.Logger.LogDebug(msg)
	}
}

// IsDegraded reports whether factor was replaced by the degraded default.
func IsDegraded(f models.ConfidenceFactor) bool {
	_, ok := f.Detail["error"]
	return ok
}
