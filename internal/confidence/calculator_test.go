package confidence

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/harrison/gatekeeper/internal/models"
	"github.com/harrison/gatekeeper/internal/validation"
)

const eps = 1e-9

type stubCatalog map[string][]string

func (s stubCatalog) RequiredParams(method string) ([]string, bool) {
	req, ok := s[method]
	return req, ok
}

type stubResolver map[int64]bool

func (s stubResolver) ElementExists(_ context.Context, id int64) (bool, error) {
	return s[id], nil
}

type stubCorrections struct {
	count int
	err   error
	alts  []models.Alternative
	panic bool
}

func (s *stubCorrections) CorrectionCount(context.Context, string) (int, error) {
	return s.count, s.err
}

func (s *stubCorrections) CorrectedAlternatives(context.Context, string, models.Params) ([]models.Alternative, error) {
	if s.panic {
		panic("corrupt correction record")
	}
	return s.alts, nil
}

type stubPreflight struct {
	res   PreflightResult
	err   error
	panic bool
}

func (s *stubPreflight) Check(context.Context, string, models.Params) (PreflightResult, error) {
	if s.panic {
		panic("simulator crashed")
	}
	return s.res, s.err
}

type stubSession struct {
	rate    float64
	samples int
}

func (s stubSession) Accuracy(string) (float64, int) { return s.rate, s.samples }

type stubHistory struct {
	rate  float64
	calls int
	err   error
}

func (s stubHistory) Accuracy(context.Context, string) (float64, int, error) {
	return s.rate, s.calls, s.err
}

type stubAdjustments float64

func (s stubAdjustments) GetConfidenceAdjustment(string, models.Params) float64 { return float64(s) }

type stubPatterns []models.Alternative

func (s stubPatterns) Alternatives(string, models.Params) []models.Alternative { return s }

// baseline with no collaborators: 0.18 + 0.14 + 0.22 + 0.22*0.8 + 0.14*0.7 + 0.10
const defaultOverall = 0.914

func TestFactorWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, fw := range FactorWeights {
		sum += fw.Weight
	}
	if math.Abs(sum-1.0) > eps {
		t.Errorf("factor weights sum to %v, want 1.0", sum)
	}
}

func TestCalculateWithoutCollaborators(t *testing.T) {
	calc := NewCalculator(Options{})
	env := calc.Calculate(context.Background(), "create_wall", models.Params{"height": 3.0})

	if env.ID == "" {
		t.Error("expected envelope id")
	}
	if env.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", env.Status)
	}
	if len(env.Factors) != len(FactorWeights) {
		t.Fatalf("got %d factors, want %d", len(env.Factors), len(FactorWeights))
	}
	for i, fw := range FactorWeights {
		if env.Factors[i].Name != fw.Name {
			t.Errorf("factor %d = %s, want %s", i, env.Factors[i].Name, fw.Name)
		}
	}
	if math.Abs(env.OverallConfidence-defaultOverall) > eps {
		t.Errorf("overall = %v, want %v", env.OverallConfidence, defaultOverall)
	}
	if env.Reasoning == nil || !env.Reasoning.Finalized {
		t.Fatal("expected finalized reasoning chain")
	}
	if len(env.Reasoning.Steps) != len(FactorWeights) {
		t.Errorf("got %d reasoning steps, want %d", len(env.Reasoning.Steps), len(FactorWeights))
	}
	if env.Reasoning.Add(models.ReasoningStep{Factor: "late"}) {
		t.Error("finalized chain accepted a new step")
	}
}

func TestParameterCompleteness(t *testing.T) {
	catalog := stubCatalog{
		"create_wall": {"level_id", "height"},
		"ping":        {},
	}
	tests := []struct {
		name   string
		method string
		params models.Params
		want   float64
	}{
		{"complete", "create_wall", models.Params{"level_id": 1, "height": 3.0}, 1},
		{"one missing", "create_wall", models.Params{"level_id": 1}, 0.5},
		{"nil value counts as missing", "create_wall", models.Params{"level_id": 1, "height": nil}, 0.5},
		{"all missing", "create_wall", models.Params{}, 0},
		{"unknown method is complete", "create_roof", models.Params{}, 1},
		{"no required params", "ping", models.Params{}, 1},
	}

	calc := NewCalculator(Options{Catalog: catalog})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := calc.Calculate(context.Background(), tt.method, tt.params)
			f, _ := env.Factor(models.FactorParameterCompleteness)
			if math.Abs(f.Score-tt.want) > eps {
				t.Errorf("score = %v, want %v (%s)", f.Score, tt.want, f.Reason)
			}
		})
	}
}

func TestSingleFactorChangeMovesOverallByWeightedDelta(t *testing.T) {
	calc := NewCalculator(Options{Catalog: stubCatalog{"create_wall": {"level_id", "height"}}})
	ctx := context.Background()

	full := calc.Calculate(ctx, "create_wall", models.Params{"level_id": "L1", "height": 3.0})
	partial := calc.Calculate(ctx, "create_wall", models.Params{"level_id": "L1"})

	want := 0.5 * WeightParameterCompleteness
	got := full.OverallConfidence - partial.OverallConfidence
	if math.Abs(got-want) > eps {
		t.Errorf("overall delta = %v, want %v", got, want)
	}
}

func TestReferenceValidation(t *testing.T) {
	calc := NewCalculator(Options{Resolver: stubResolver{1: true, 2: true}})
	tests := []struct {
		name   string
		params models.Params
		want   float64
	}{
		{"no references", models.Params{"height": 3.0, "name": "A"}, 1},
		{"all resolve", models.Params{"host_id": 1, "levelId": "2"}, 1},
		{"half resolve", models.Params{"host_id": 1, "level_id": 99}, 0.5},
		{"negative id is unresolved", models.Params{"wall_id": -1}, 0},
		{"non numeric id-like values are ignored", models.Params{"valid": true, "grid": "A"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := calc.Calculate(context.Background(), "create_door", tt.params)
			f, _ := env.Factor(models.FactorReferenceValidation)
			if math.Abs(f.Score-tt.want) > eps {
				t.Errorf("score = %v, want %v (%s)", f.Score, tt.want, f.Reason)
			}
		})
	}
}

func TestCorrectionHistory(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 1},
		{3, 0.7},
		{7, 0.3},
		{12, 0.3},
	}
	for _, tt := range tests {
		calc := NewCalculator(Options{Corrections: &stubCorrections{count: tt.count}})
		env := calc.Calculate(context.Background(), "create_wall", nil)
		f, _ := env.Factor(models.FactorCorrectionHistory)
		if math.Abs(f.Score-tt.want) > eps {
			t.Errorf("count %d: score = %v, want %v", tt.count, f.Score, tt.want)
		}
	}
}

func TestPreflightCheck(t *testing.T) {
	tests := []struct {
		name      string
		preflight *stubPreflight
		want      float64
		degraded  bool
	}{
		{"passes", &stubPreflight{res: PreflightResult{CanProceed: true}}, 1, false},
		{"two warnings", &stubPreflight{res: PreflightResult{CanProceed: true, Warnings: []string{"a", "b"}}}, 0.8, false},
		{"warnings floor", &stubPreflight{res: PreflightResult{CanProceed: true, Warnings: make([]string, 9)}}, 0.5, false},
		{"errors zero the factor", &stubPreflight{res: PreflightResult{Errors: []string{"no host"}}}, 0, false},
		{"refused", &stubPreflight{res: PreflightResult{CanProceed: false}}, 0, false},
		{"collaborator error degrades", &stubPreflight{err: errors.New("timeout")}, 0.5, true},
		{"collaborator panic degrades", &stubPreflight{panic: true}, 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := NewCalculator(Options{Preflight: tt.preflight})
			env := calc.Calculate(context.Background(), "create_wall", nil)
			f, _ := env.Factor(models.FactorPreflightCheck)
			if math.Abs(f.Score-tt.want) > eps {
				t.Errorf("score = %v, want %v (%s)", f.Score, tt.want, f.Reason)
			}
			if IsDegraded(f) != tt.degraded {
				t.Errorf("degraded = %v, want %v", IsDegraded(f), tt.degraded)
			}
			if env.OverallConfidence < 0 || env.OverallConfidence > 1 {
				t.Errorf("overall %v out of range", env.OverallConfidence)
			}
		})
	}
}

func TestPatternMatchBlend(t *testing.T) {
	tests := []struct {
		name    string
		session AccuracySource
		history HistoricalAccuracy
		want    float64
	}{
		{"no data", nil, nil, 0.7},
		{"blend", stubSession{rate: 1.0, samples: 4}, stubHistory{rate: 0.5, calls: 20}, 0.85},
		{"history only", nil, stubHistory{rate: 0.8, calls: 20}, 0.72},
		{"history with few local samples", stubSession{rate: 0.0, samples: 1}, stubHistory{rate: 0.8, calls: 20}, 0.72},
		{"local only", stubSession{rate: 0.6, samples: 5}, nil, 0.6},
		{"local only few samples", stubSession{rate: 0.5, samples: 2}, nil, 0.5},
		{"history error falls back", stubSession{rate: 0.9, samples: 3}, stubHistory{err: errors.New("unavailable")}, 0.9},
		{"empty history ignored", nil, stubHistory{rate: 0, calls: 0}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := NewCalculator(Options{Session: tt.session, History: tt.history})
			env := calc.Calculate(context.Background(), "create_wall", nil)
			f, _ := env.Factor(models.FactorPatternMatch)
			if math.Abs(f.Score-tt.want) > eps {
				t.Errorf("score = %v, want %v (%s)", f.Score, tt.want, f.Reason)
			}
		})
	}
}

func TestDomainValidationHardFailCapsConfidence(t *testing.T) {
	calc := NewCalculator(Options{Validator: validation.NewValidator(nil)})
	env := calc.Calculate(context.Background(), "create_wall", models.Params{"height": 30.0})

	f, ok := env.Factor(models.FactorDomainValidation)
	if !ok {
		t.Fatal("missing domain factor")
	}
	if math.Abs(f.Score-0.7) > eps {
		t.Errorf("domain score = %v, want 0.7", f.Score)
	}
	if !strings.Contains(f.Reason, "height") {
		t.Errorf("reason should name the violated property: %q", f.Reason)
	}
	if env.OverallConfidence != 0.4 {
		t.Errorf("overall = %v, want hard-fail cap 0.4", env.OverallConfidence)
	}
	last := env.Reasoning.Steps[len(env.Reasoning.Steps)-1]
	if last.Factor != StepHardFailCap {
		t.Errorf("last step = %s, want %s", last.Factor, StepHardFailCap)
	}
}

func TestDomainValidationWarningDoesNotCap(t *testing.T) {
	calc := NewCalculator(Options{Validator: validation.NewValidator(nil)})
	env := calc.Calculate(context.Background(), "create_wall", models.Params{"height": 3.0, "thickness": 0.01})

	f, _ := env.Factor(models.FactorDomainValidation)
	if math.Abs(f.Score-0.9) > eps {
		t.Errorf("domain score = %v, want 0.9", f.Score)
	}
	want := defaultOverall - 0.1*WeightDomainValidation
	if math.Abs(env.OverallConfidence-want) > eps {
		t.Errorf("overall = %v, want %v", env.OverallConfidence, want)
	}
}

func TestLearnedAdjustmentIsBounded(t *testing.T) {
	tests := []struct {
		name string
		adj  float64
		want float64
		step bool
	}{
		{"positive clamp", 5, 1, true},
		{"negative clamp", -5, defaultOverall - 0.2, true},
		{"within bound", -0.1, defaultOverall - 0.1, true},
		{"below epsilon", 0.0001, defaultOverall, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := NewCalculator(Options{Adjustments: stubAdjustments(tt.adj), MaxAdjustment: 0.2})
			env := calc.Calculate(context.Background(), "create_wall", nil)
			if math.Abs(env.OverallConfidence-tt.want) > eps {
				t.Errorf("overall = %v, want %v", env.OverallConfidence, tt.want)
			}
			hasStep := false
			for _, s := range env.Reasoning.Steps {
				if s.Factor == StepLearnedAdjustment {
					hasStep = true
				}
			}
			if hasStep != tt.step {
				t.Errorf("adjustment step present = %v, want %v", hasStep, tt.step)
			}
		})
	}
}

func TestAlternativesBelowHighThreshold(t *testing.T) {
	proposed := models.Params{"height": 30.0}
	corrections := &stubCorrections{alts: []models.Alternative{
		{Params: models.Params{"height": 3.0}, Confidence: 0.75, Source: "correction_history"},
		{Params: models.Params{"height": 30.0}, Confidence: 0.9, Source: "correction_history"},
	}}
	patterns := stubPatterns{
		{Params: models.Params{"height": 3.0}, Confidence: 0.6, Source: "pattern"},
		{Params: models.Params{"height": 2.7}, Confidence: 0.8, Source: "pattern"},
		{Params: models.Params{"height": 2.4}, Confidence: 0.5, Source: "pattern"},
	}
	calc := NewCalculator(Options{
		Corrections:     corrections,
		Patterns:        patterns,
		Preflight:       &stubPreflight{res: PreflightResult{Errors: []string{"bad"}}},
		MaxAlternatives: 2,
	})

	env := calc.Calculate(context.Background(), "create_wall", proposed)
	if env.OverallConfidence >= calc.HighThreshold() {
		t.Fatalf("setup: overall %v should be below high threshold", env.OverallConfidence)
	}
	if len(env.Alternatives) != 2 {
		t.Fatalf("got %d alternatives, want 2: %+v", len(env.Alternatives), env.Alternatives)
	}
	if h, _ := env.Alternatives[0].Params.GetDouble("height"); h != 2.7 {
		t.Errorf("best alternative height = %v, want 2.7", h)
	}
	if h, _ := env.Alternatives[1].Params.GetDouble("height"); h != 3.0 {
		t.Errorf("second alternative height = %v, want 3", h)
	}
}

func TestNoAlternativesAtHighConfidence(t *testing.T) {
	calc := NewCalculator(Options{
		Preflight: &stubPreflight{res: PreflightResult{CanProceed: true}},
		Session:   stubSession{rate: 1, samples: 10},
		Patterns:  stubPatterns{{Params: models.Params{"height": 2.0}, Confidence: 0.9}},
	})
	env := calc.Calculate(context.Background(), "create_wall", models.Params{"height": 3.0})
	if env.OverallConfidence < 0.85 {
		t.Fatalf("setup: overall %v should be high", env.OverallConfidence)
	}
	if len(env.Alternatives) != 0 {
		t.Errorf("expected no alternatives, got %d", len(env.Alternatives))
	}
}

func TestTopLevelPanicDefaultsToHalf(t *testing.T) {
	calc := NewCalculator(Options{
		Corrections: &stubCorrections{panic: true},
		Preflight:   &stubPreflight{res: PreflightResult{Errors: []string{"bad"}}},
	})
	env := calc.Calculate(context.Background(), "create_wall", nil)

	if env.OverallConfidence != 0.5 {
		t.Errorf("overall = %v, want 0.5", env.OverallConfidence)
	}
	if len(env.Factors) != 1 || env.Factors[0].Name != models.FactorError {
		t.Fatalf("expected a single error factor, got %+v", env.Factors)
	}
	if !strings.Contains(env.Factors[0].Reason, "corrupt correction record") {
		t.Errorf("error factor should carry the panic message: %q", env.Factors[0].Reason)
	}
	if !env.Reasoning.Finalized {
		t.Error("reasoning chain should be finalized")
	}
}

func TestApplyBoost(t *testing.T) {
	env := &models.Envelope{OverallConfidence: 0.97}
	ApplyBoost(env, "context_boost", 0.05, "held for one pass")
	if env.OverallConfidence != 1 {
		t.Errorf("overall = %v, want clamped 1", env.OverallConfidence)
	}
	if len(env.Boosts) != 1 || env.Boosts[0].Observation != "held for one pass" {
		t.Errorf("boost not recorded: %+v", env.Boosts)
	}

	ApplyBoost(env, "context_boost", 0, "nothing")
	if len(env.Boosts) != 1 {
		t.Error("zero boost should not be recorded")
	}
}

func TestCalculatorUsesSessionAccuracy(t *testing.T) {
	session := NewSessionAccuracy()
	calc := NewCalculator(Options{Session: session})

	env := calc.Calculate(context.Background(), "create_wall", nil)
	if f, _ := env.Factor(models.FactorPatternMatch); math.Abs(f.Score-0.7) > eps {
		t.Errorf("score before any calls = %v, want neutral 0.7", f.Score)
	}

	session.Record("create_wall", true)
	session.Record("create_wall", true)
	session.Record("create_wall", false)
	session.Record("create_door", false)

	env = calc.Calculate(context.Background(), "create_wall", nil)
	f, _ := env.Factor(models.FactorPatternMatch)
	if math.Abs(f.Score-2.0/3.0) > eps {
		t.Errorf("score = %v, want 0.667 (%s)", f.Score, f.Reason)
	}
	if !strings.Contains(f.Reason, "over 3 calls") {
		t.Errorf("reason should cite the session sample count, got %q", f.Reason)
	}
}
