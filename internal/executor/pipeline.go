package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrison/gatekeeper/internal/graph"
	"github.com/harrison/gatekeeper/internal/learning"
	"github.com/harrison/gatekeeper/internal/memory"
	"github.com/harrison/gatekeeper/internal/models"
	"github.com/harrison/gatekeeper/internal/review"
)

// CorrectionStore remembers human corrections across sessions.
type CorrectionStore interface {
	StoreCorrection(ctx context.Context, c memory.Correction) error
}

// Pipeline ties a Coordinator to the review queue and the feedback learner:
// every review decision is recorded as feedback, learned from, and, when it
// changes the proposal, remembered as a correction and cascaded to the
// operations that depend on it.
type Pipeline struct {
	coord   *Coordinator
	queue   *review.Queue
	learner *learning.Learner
	memory  CorrectionStore
	logger  Logger

	mu    sync.Mutex
	batch *models.WorkflowState
}

// NewPipeline wires queue decisions to learner and memory. learner and mem
// may be nil.
func NewPipeline(coord *Coordinator, queue *review.Queue, learner *learning.Learner, mem CorrectionStore, logger Logger) *Pipeline {
	if coord == nil {
		panic("coordinator cannot be nil")
	}
	p := &Pipeline{coord: coord, queue: queue, learner: learner, memory: mem, logger: logger}
	if queue != nil {
		queue.OnDecision(p.HandleDecision)
	}
	return p
}

// ProcessBatch runs a batch and remembers it for decision cascades.
func (p *Pipeline) ProcessBatch(ctx context.Context, requests []Request, description string) (*models.WorkflowState, error) {
	state, err := p.coord.ProcessBatch(ctx, requests, description)
	p.mu.Lock()
	p.batch = state
	p.mu.Unlock()
	return state, err
}

// ProcessSingle runs one operation.
func (p *Pipeline) ProcessSingle(ctx context.Context, operation string, params models.Params) (*models.Envelope, error) {
	state, err := p.ProcessBatch(ctx, []Request{{Operation: operation, Params: params}}, "")
	if len(state.Envelopes) == 0 {
		return nil, err
	}
	return state.Envelopes[0], err
}

// Queue returns the review queue.
func (p *Pipeline) Queue() *review.Queue {
	return p.queue
}

// Graph returns the dependency graph of the last batch.
func (p *Pipeline) Graph() *graph.DependencyGraph {
	return p.coord.Graph()
}

// HandleDecision records a resolved review item. It runs as the queue's
// decision callback.
func (p *Pipeline) HandleDecision(item *models.ReviewItem) {
	if item == nil || item.Envelope == nil {
		return
	}
	env := item.Envelope

	if p.learner != nil {
		if _, err := p.learner.RecordFeedback(item); err != nil {
			p.logWarn(fmt.Sprintf("record feedback for %s: %v", env.Operation, err))
		}
		if pattern, ok := p.learner.LearnFromDecision(item); ok {
			p.logDebug(fmt.Sprintf("session pattern for %s now %+.2f over %d decisions",
				pattern.Method, pattern.ConfidenceAdjustment, pattern.SampleCount))
		}
	}

	if item.Decision == models.DecisionModify && p.memory != nil {
		corr := memory.Correction{
			Method:          env.Operation,
			OriginalParams:  learning.OriginalParams(item),
			CorrectedParams: item.ModifiedParams.Clone(),
			Reason:          item.Notes,
			CreatedAt:       item.ReviewedAt,
		}
		if err := p.memory.StoreCorrection(context.Background(), corr); err != nil {
			p.logDebug(fmt.Sprintf("memory: store correction for %s: %v", env.Operation, err))
		}
	}

	if item.Decision == models.DecisionModify || item.Decision == models.DecisionReject {
		p.cascade(env)
	}
}

// cascade invalidates dependents of env when it belongs to the last batch.
func (p *Pipeline) cascade(env *models.Envelope) {
	p.mu.Lock()
	batch := p.batch
	p.mu.Unlock()
	if batch == nil || batch.ID != env.BatchID {
		return
	}
	res := p.coord.Graph().InvalidateDecision(env.ID, batch)
	if len(res.Affected) > 0 {
		p.logWarn(fmt.Sprintf("decision on %s affects %d dependents: %d to re-verify, %d reset",
			env.Operation, len(res.Affected), res.Reverify, res.Reset))
	}
}

// Close ends the learning session, promoting reinforced session patterns.
func (p *Pipeline) Close() learning.MergeSummary {
	return p.coord.EndSession()
}

func (p *Pipeline) logDebug(msg string) {
	if p.logger != nil {
		p.logger.LogDebug(msg)
	}
}

func (p *Pipeline) logWarn(msg string) {
	if p.logger != nil {
		p.logger.LogWarn(msg)
	}
}
