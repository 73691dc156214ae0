// Package graph tracks declared dependencies between operations, orders a
// batch so dependencies run first, and propagates invalidation to dependents.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harrison/gatekeeper/internal/models"
)

// ErrCycle reports that ordering fell back to input order.
var ErrCycle = errors.New("dependency cycle detected")

// CycleDiagnostic describes the cycle found by the last ordering attempt.
type CycleDiagnostic struct {
	// Path lists the operations on the cycle, first element repeated at the end.
	Path []string
}

func (c *CycleDiagnostic) Error() string {
	return fmt.Sprintf("%v: %v", ErrCycle, c.Path)
}

func (c *CycleDiagnostic) Unwrap() error { return ErrCycle }

// CascadeResult summarizes one cascade invalidation.
type CascadeResult struct {
	Source   string   `json:"source"`
	Affected []string `json:"affected"`
	Reverify int      `json:"reverify"`
	Reset    int      `json:"reset"`
	Skipped  int      `json:"skipped"`
}

// DependencyGraph holds directed edges operation -> depends-on plus the
// inverse index. All methods take the graph lock for their full body.
type DependencyGraph struct {
	mu         sync.Mutex
	dependsOn  map[string][]string // op -> prerequisites
	dependents map[string][]string // prerequisite -> ops that depend on it
	lastCycle  *CycleDiagnostic
}

// New creates an empty graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		dependsOn:  make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// RegisterDependency records that op depends on dependsOn.
// Self-dependencies and duplicates are ignored.
func (g *DependencyGraph) RegisterDependency(op, dependsOn string) {
	if op == "" || dependsOn == "" || op == dependsOn {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.dependsOn[op] {
		if existing == dependsOn {
			return
		}
	}
	g.dependsOn[op] = append(g.dependsOn[op], dependsOn)
	g.dependents[dependsOn] = append(g.dependents[dependsOn], op)
}

// Dependencies returns the direct prerequisites of op.
func (g *DependencyGraph) Dependencies(op string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dependsOn[op]...)
}

// Dependents returns the operations that directly depend on op.
func (g *DependencyGraph) Dependents(op string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dependents[op]...)
}

// Clear removes every edge. Call between unrelated batches.
func (g *DependencyGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dependsOn = make(map[string][]string)
	g.dependents = make(map[string][]string)
	g.lastCycle = nil
}

// LastCycle returns the diagnostic from the most recent GetExecutionOrder
// call, or nil if that call found no cycle.
func (g *DependencyGraph) LastCycle() *CycleDiagnostic {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCycle
}

// GetExecutionOrder returns envelope ids so every operation precedes the
// operations that depend on it. Edges leaving the batch are ignored. On a
// cycle the input order is returned unchanged and LastCycle is set.
func (g *DependencyGraph) GetExecutionOrder(envelopes []*models.Envelope) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	input := make([]string, 0, len(envelopes))
	inBatch := make(map[string]bool, len(envelopes))
	for _, e := range envelopes {
		input = append(input, e.ID)
		inBatch[e.ID] = true
	}
	g.lastCycle = nil

	const (
		white = 0 // not visited
		gray  = 1 // visiting
		black = 2 // visited
	)
	colors := make(map[string]int, len(input))
	order := make([]string, 0, len(input))
	var stack []string
	var cycle []string

	// Walk prerequisites first; post-order over dependsOn yields
	// prerequisites before dependents.
	var visit func(string) bool
	visit = func(node string) bool {
		colors[node] = gray
		stack = append(stack, node)
		for _, dep := range g.dependsOn[node] {
			if !inBatch[dep] {
				continue
			}
			switch colors[dep] {
			case gray:
				cycle = cyclePath(stack, dep)
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[node] = black
		order = append(order, node)
		return true
	}

	for _, id := range input {
		if colors[id] == white && !visit(id) {
			g.lastCycle = &CycleDiagnostic{Path: cycle}
			return input
		}
	}
	return order
}

func cyclePath(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			path := append([]string(nil), stack[i:]...)
			return append(path, start)
		}
	}
	return []string{start, start}
}

// GetAffectedByChange returns every transitive dependent of op in
// breadth-first order.
func (g *DependencyGraph) GetAffectedByChange(op string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.affected(op)
}

func (g *DependencyGraph) affected(op string) []string {
	seen := map[string]bool{op: true}
	var out []string
	queue := []string{op}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := append([]string(nil), g.dependents[cur]...)
		sort.Strings(next)
		for _, d := range next {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	return out
}

// InvalidateDecision cascades a changed decision on op to its transitive
// dependents in batch: executed or verified dependents are marked for
// re-verification, still-pending ones are reset to pass 1. Dependents in
// review or already resolved by a human are left alone.
func (g *DependencyGraph) InvalidateDecision(op string, batch *models.WorkflowState) CascadeResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := CascadeResult{Source: op}
	for _, id := range g.affected(op) {
		if batch == nil {
			break
		}
		env, ok := batch.Envelope(id)
		if !ok {
			continue
		}
		res.Affected = append(res.Affected, id)
		switch {
		case env.Status.IsExecutedLike():
			env.Invalidate(models.StatusNeedsReverification)
			res.Reverify++
		case env.Status.IsQueued():
			env.Invalidate(models.StatusPass1Queued)
			env.Pass = 1
			res.Reset++
		default:
			res.Skipped++
		}
	}
	return res
}
