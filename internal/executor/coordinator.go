// Package executor drives batches of scored operations through a fixed
// number of confidence-gated passes, executing what is confident enough,
// holding the rest for context to accumulate, and escalating whatever is
// still uncertain to human review.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/gatekeeper/internal/confidence"
	"github.com/harrison/gatekeeper/internal/config"
	"github.com/harrison/gatekeeper/internal/graph"
	"github.com/harrison/gatekeeper/internal/learning"
	"github.com/harrison/gatekeeper/internal/metrics"
	"github.com/harrison/gatekeeper/internal/models"
	"github.com/harrison/gatekeeper/internal/registry"
	"github.com/harrison/gatekeeper/internal/telemetry"
	"github.com/harrison/gatekeeper/internal/verify"
)

// Boost step names recorded on envelopes.
const (
	StepContextBoost    = "context_boost"
	StepDependencyBoost = "dependency_boost"
)

// Scorer computes the initial envelope for a proposed operation.
type Scorer interface {
	Calculate(ctx context.Context, method string, params models.Params) *models.Envelope
}

// Verifier checks an executed operation against the model.
type Verifier interface {
	RunVerifications(ctx context.Context, env *models.Envelope) *models.VerificationReport
}

// Escalator receives the operations the pipeline cannot resolve itself.
type Escalator interface {
	Enqueue(env *models.Envelope, reason string) *models.ReviewItem
	GetPendingItems() []*models.ReviewItem
}

// SessionLearner scopes session patterns to a batch and its reviews.
type SessionLearner interface {
	StartSession(id string)
	SessionID() string
	EndSession() learning.MergeSummary
}

// OutcomeTracker tallies outcomes per method for the running process.
type OutcomeTracker interface {
	Record(method string, success bool)
}

// OutcomeRecorder remembers outcomes across sessions. Calls are best effort.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, method string, success bool, confidence float64) error
}

// Options configures a Coordinator.
type Options struct {
	Passes  config.PassConfig
	Logger  Logger
	Session OutcomeTracker
	Memory  OutcomeRecorder
	Now     func() time.Time
}

// Request is one proposed operation of a batch.
type Request struct {
	// ID optionally names the request so others can depend on it.
	ID        string
	Operation string
	Params    models.Params
	// DependsOn lists request IDs or zero-based request indices.
	DependsOn []string
}

// Coordinator runs batches through the pass state machine. One batch runs
// sequentially; concurrent ProcessBatch calls must use separate graphs.
type Coordinator struct {
	scorer   Scorer
	graph    *graph.DependencyGraph
	registry registry.MethodRegistry
	verifier Verifier
	queue    Escalator
	learner  SessionLearner
	opts     Options
}

// NewCoordinator creates a Coordinator. The scorer and registry are
// required; a nil graph or verifier gets a default one, and a nil queue or
// learner disables escalation bookkeeping or session learning respectively.
func NewCoordinator(scorer Scorer, g *graph.DependencyGraph, reg registry.MethodRegistry, verifier Verifier, queue Escalator, learner SessionLearner, opts Options) *Coordinator {
	if scorer == nil {
		panic("scorer cannot be nil")
	}
	if reg == nil {
		panic("method registry cannot be nil")
	}
	if g == nil {
		g = graph.New()
	}
	if verifier == nil {
		verifier = verify.NewVerifier()
	}
	defaults := config.DefaultConfig().Passes
	if len(opts.Passes.Thresholds) == 0 {
		opts.Passes.Thresholds = defaults.Thresholds
	}
	if opts.Passes.MaxPasses < 1 {
		opts.Passes.MaxPasses = len(opts.Passes.Thresholds)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		scorer:   scorer,
		graph:    g,
		registry: reg,
		verifier: verifier,
		queue:    queue,
		learner:  learner,
		opts:     opts,
	}
}

// Graph returns the dependency graph of the last batch.
func (c *Coordinator) Graph() *graph.DependencyGraph {
	return c.graph
}

// ProcessSingle runs one operation through the passes.
func (c *Coordinator) ProcessSingle(ctx context.Context, operation string, params models.Params) (*models.Envelope, error) {
	state, err := c.ProcessBatch(ctx, []Request{{Operation: operation, Params: params}}, "")
	if len(state.Envelopes) == 0 {
		return nil, err
	}
	return state.Envelopes[0], err
}

// ProcessBatch scores, orders and runs requests through at most MaxPasses
// passes. The returned state is always non-nil. The error is ctx.Err() when
// the batch was cancelled between passes, a *BatchError when operations
// failed to execute, and nil otherwise. Every envelope ends executed,
// verified, failed or in review.
func (c *Coordinator) ProcessBatch(ctx context.Context, requests []Request, description string) (*models.WorkflowState, error) {
	state := &models.WorkflowState{
		ID:          uuid.NewString(),
		Description: description,
		MaxPasses:   c.opts.Passes.MaxPasses,
		StartedAt:   c.opts.Now(),
	}
	ctx, span := telemetry.StartBatchSpan(ctx, state.ID, len(requests), state.MaxPasses)

	c.beginSession(state.ID)
	c.intake(ctx, state, requests)
	order := c.order(state, requests)
	if c.opts.Logger != nil {
		c.opts.Logger.LogBatchStart(state)
	}

	batchErr := NewBatchError(PhaseExecute, len(requests))
	runErr := c.runPasses(ctx, state, order, batchErr)
	c.escalateRemaining(state, runErr)

	state.CompletedAt = c.opts.Now()
	if c.queue != nil {
		metrics.SetReviewQueueDepth(len(c.queue.GetPendingItems()))
	}
	if c.opts.Logger != nil {
		c.opts.Logger.LogBatchComplete(state)
	}

	var err error
	switch {
	case runErr != nil:
		err = runErr
	case batchErr.FailedOps > 0:
		err = batchErr
	}
	telemetry.EndSpan(span, string(state.Status()), err)
	return state, err
}

// EndSession closes the learner session, promoting reinforced patterns.
func (c *Coordinator) EndSession() learning.MergeSummary {
	if c.learner == nil {
		return learning.MergeSummary{}
	}
	summary := c.learner.EndSession()
	c.logDebug(fmt.Sprintf("learning session %s ended: %d merged, %d inserted, %d discarded",
		summary.SessionID, summary.Merged, summary.Inserted, summary.Discarded))
	return summary
}

// beginSession opens a learner session unless one is already active, so
// decisions on an earlier batch's reviews keep reinforcing the same session.
func (c *Coordinator) beginSession(batchID string) {
	if c.learner == nil || c.learner.SessionID() != "" {
		return
	}
	c.learner.StartSession(batchID)
}

// intake scores every request and queues it for pass 1.
func (c *Coordinator) intake(ctx context.Context, state *models.WorkflowState, requests []Request) {
	for _, r := range requests {
		env := c.scorer.Calculate(ctx, r.Operation, r.Params)
		env.BatchID = state.ID
		env.Pass = 1
		c.transition(env, models.StatusPass1Queued)
		state.Envelopes = append(state.Envelopes, env)
		metrics.ObserveConfidence(env.OverallConfidence)
		c.logDebug(fmt.Sprintf("scored %s (%s): %.3f", env.Operation, shortID(env.ID), env.OverallConfidence))
	}
}

// order registers declared dependencies and returns envelopes in execution
// order. A cycle falls back to input order and is recorded on the state.
func (c *Coordinator) order(state *models.WorkflowState, requests []Request) []*models.Envelope {
	keys := make(map[string]string, 2*len(requests))
	for i, r := range requests {
		id := state.Envelopes[i].ID
		keys[strconv.Itoa(i)] = id
		if r.ID != "" {
			keys[r.ID] = id
		}
	}

	c.graph.Clear()
	for i, r := range requests {
		env := state.Envelopes[i]
		for _, dep := range r.DependsOn {
			depID, ok := keys[dep]
			if !ok {
				c.logWarn(fmt.Sprintf("%s depends on unknown request %q, ignoring", env.Operation, dep))
				continue
			}
			if depID == env.ID {
				continue
			}
			env.DependsOn = append(env.DependsOn, depID)
			c.graph.RegisterDependency(env.ID, depID)
		}
	}

	ids := c.graph.GetExecutionOrder(state.Envelopes)
	if cycle := c.graph.LastCycle(); cycle != nil {
		state.CycleDetected = cycle.Path
		c.logWarn(fmt.Sprintf("%v, running in submission order", cycle))
	}

	ordered := make([]*models.Envelope, 0, len(ids))
	for _, id := range ids {
		if env, ok := state.Envelope(id); ok {
			ordered = append(ordered, env)
		}
	}
	return ordered
}

// runPasses runs passes until nothing is queued or MaxPasses is reached.
// Cancellation is checked between passes only.
func (c *Coordinator) runPasses(ctx context.Context, state *models.WorkflowState, order []*models.Envelope, batchErr *BatchError) error {
	for pass := 1; pass <= c.opts.Passes.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var queued []*models.Envelope
		for _, env := range order {
			if env.Status.IsQueued() {
				queued = append(queued, env)
			}
		}
		if len(queued) == 0 {
			return nil
		}
		c.runPass(ctx, state, pass, queued, batchErr)
	}
	return nil
}

func (c *Coordinator) runPass(ctx context.Context, state *models.WorkflowState, pass int, queued []*models.Envelope, batchErr *BatchError) {
	threshold := c.opts.Passes.ThresholdFor("", pass)
	p := models.NewProcessingPass(pass, threshold, float64(pass-1)*c.opts.Passes.BoostPerPass)
	state.CurrentPass = pass

	passCtx, span := telemetry.StartPassSpan(ctx, pass, threshold, len(queued))
	if c.opts.Logger != nil {
		c.opts.Logger.LogPassStart(p, len(queued))
	}

	scores := make([]float64, 0, len(queued))
	for _, env := range queued {
		// A failure earlier in this pass may have reset or escalated it.
		if !env.Status.IsQueued() {
			continue
		}
		p.Queue(env.ID)
		env.Pass = pass
		c.applyBoosts(state, env, pass)
		scores = append(scores, env.OverallConfidence)

		switch th := c.opts.Passes.ThresholdFor(env.Operation, pass); {
		case env.OverallConfidence >= th:
			c.execute(passCtx, state, env, p, batchErr)
		case pass < c.opts.Passes.MaxPasses:
			c.transition(env, models.QueuedStatusForPass(pass+1))
			p.MarkHeld(env.ID)
			c.logOperation(env, OutcomeHeld)
		default:
			c.escalate(env, fmt.Sprintf("confidence %.2f below threshold %.2f after %d passes",
				env.OverallConfidence, th, pass))
			p.MarkReview(env.ID)
		}
	}

	p.Close(scores)
	state.Passes = append(state.Passes, p)
	metrics.ObservePass(pass, p.Duration)
	if c.opts.Logger != nil {
		c.opts.Logger.LogPassComplete(p)
	}
	telemetry.EndSpan(span, "closed", nil)
}

// applyBoosts adds the per-pass context boost for a held envelope and a
// dependency boost for every dependency resolved since its last evaluation.
func (c *Coordinator) applyBoosts(state *models.WorkflowState, env *models.Envelope, pass int) {
	if pass > 1 {
		confidence.ApplyBoost(env, StepContextBoost, c.opts.Passes.BoostPerPass,
			fmt.Sprintf("held into pass %d", pass))
	}
	for _, depID := range env.DependsOn {
		if env.DependencyResolved(depID) {
			continue
		}
		dep, ok := state.Envelope(depID)
		if !ok {
			continue
		}
		if dep.Status != models.StatusExecuted && dep.Status != models.StatusVerified {
			continue
		}
		env.ResolvedDependencies = append(env.ResolvedDependencies, depID)
		confidence.ApplyBoost(env, StepDependencyBoost, c.opts.Passes.DependencyBoost,
			fmt.Sprintf("dependency %s (%s) is %s", dep.Operation, shortID(dep.ID), dep.Status))
	}
}

// execute runs env against the registry and verifies the result.
func (c *Coordinator) execute(ctx context.Context, state *models.WorkflowState, env *models.Envelope, p *models.ProcessingPass, batchErr *BatchError) {
	opCtx, span := telemetry.StartOperationSpan(ctx, env.ID, env.Operation, env.OverallConfidence)

	c.transition(env, models.StatusExecuting)
	res, err := c.call(opCtx, env)
	env.Result = &res

	if err != nil || !res.Success {
		msg := res.Error
		if msg == "" && err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = "execution reported failure"
		}
		env.Error = msg
		c.transition(env, models.StatusFailed)
		p.MarkFailed(env.ID)
		batchErr.Add(NewOperationError(env.ID, env.Operation, msg, err))
		c.recordOutcome(ctx, env, false)
		c.logOperation(env, OutcomeFailed)
		metrics.ObserveEnvelope(metrics.OutcomeFailed)

		cascade := c.graph.InvalidateDecision(env.ID, state)
		if len(cascade.Affected) > 0 {
			c.logWarn(fmt.Sprintf("%s failed: %d dependents marked for re-verification, %d reset to pass 1, %d left in review",
				env.Operation, cascade.Reverify, cascade.Reset, cascade.Skipped))
		}
		telemetry.EndSpan(span, string(env.Status), errors.New(msg))
		return
	}

	c.transition(env, models.StatusExecuted)
	p.MarkExecuted(env.ID)
	c.logOperation(env, OutcomeExecuted)

	report := c.verifier.RunVerifications(opCtx, env)
	env.Verification = report
	if report != nil && !report.AllPassed {
		c.transition(env, models.StatusVerificationFailed)
		c.recordOutcome(ctx, env, false)
		c.logOperation(env, OutcomeUnchecked)
		c.escalate(env, "verification failed: "+report.FailureMessages())
		telemetry.EndSpan(span, string(env.Status), nil)
		return
	}

	c.transition(env, models.StatusVerified)
	c.recordOutcome(ctx, env, true)
	c.logOperation(env, OutcomeVerified)
	metrics.ObserveEnvelope(metrics.OutcomeVerified)
	telemetry.EndSpan(span, string(env.Status), nil)
}

// call executes env, converting a registry panic into an error.
func (c *Coordinator) call(ctx context.Context, env *models.Envelope) (res models.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = models.ExecutionResult{Success: false}
			err = fmt.Errorf("method registry panicked: %v", r)
		}
	}()
	return c.registry.Execute(ctx, env.Operation, env.Params.Clone())
}

// escalate hands env to the review queue.
func (c *Coordinator) escalate(env *models.Envelope, reason string) {
	if c.queue != nil {
		c.queue.Enqueue(env, reason)
	} else {
		c.transition(env, models.StatusInReview)
	}
	if c.opts.Logger != nil {
		c.opts.Logger.LogEscalation(env, reason)
	}
	metrics.ObserveEnvelope(metrics.OutcomeReview)
}

// escalateRemaining force-enqueues every envelope the passes left unresolved.
func (c *Coordinator) escalateRemaining(state *models.WorkflowState, runErr error) {
	for _, env := range state.Envelopes {
		if !env.Status.IsQueued() && env.Status != models.StatusExecuting {
			continue
		}
		reason := fmt.Sprintf("unresolved after %d passes (confidence %.2f)", state.CurrentPass, env.OverallConfidence)
		if runErr != nil {
			reason = fmt.Sprintf("batch interrupted before pass %d: %v", state.CurrentPass+1, runErr)
		}
		c.escalate(env, reason)
	}
}

// recordOutcome feeds session accuracy and cross-session memory.
func (c *Coordinator) recordOutcome(ctx context.Context, env *models.Envelope, success bool) {
	if c.opts.Session != nil {
		c.opts.Session.Record(env.Operation, success)
	}
	if c.opts.Memory != nil {
		if err := c.opts.Memory.RecordOutcome(context.WithoutCancel(ctx), env.Operation, success, env.OverallConfidence); err != nil {
			c.logDebug(fmt.Sprintf("memory: record outcome for %s: %v", env.Operation, err))
		}
	}
}

func (c *Coordinator) transition(env *models.Envelope, to models.Status) {
	if err := env.Transition(to); err != nil {
		c.logWarn(err.Error())
	}
}

func (c *Coordinator) logOperation(env *models.Envelope, outcome string) {
	if c.opts.Logger != nil {
		c.opts.Logger.LogOperation(env, outcome)
	}
}

func (c *Coordinator) logDebug(msg string) {
	if c.opts.Logger != nil {
		c.opts.Logger.LogDebug(msg)
	}
}

func (c *Coordinator) logWarn(msg string) {
	if c.opts.Logger != nil {
		c.opts.Logger.LogWarn(msg)
	}
}
