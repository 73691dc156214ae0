package graph

import (
	"errors"
	"testing"

	"github.com/harrison/gatekeeper/internal/models"
)

func envelopes(ids ...string) []*models.Envelope {
	out := make([]*models.Envelope, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Envelope{ID: id, Status: models.StatusPending})
	}
	return out
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestGetExecutionOrderAcyclic(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges [][2]string // op, dependsOn
	}{
		{
			name:  "chain given in reverse",
			ids:   []string{"c", "b", "a"},
			edges: [][2]string{{"c", "b"}, {"b", "a"}},
		},
		{
			name:  "diamond",
			ids:   []string{"d", "c", "b", "a"},
			edges: [][2]string{{"b", "a"}, {"c", "a"}, {"d", "b"}, {"d", "c"}},
		},
		{
			name:  "edge to operation outside batch is ignored",
			ids:   []string{"b", "a"},
			edges: [][2]string{{"b", "a"}, {"a", "external"}},
		},
		{
			name: "no edges keeps input order",
			ids:  []string{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, e := range tt.edges {
				g.RegisterDependency(e[0], e[1])
			}

			order := g.GetExecutionOrder(envelopes(tt.ids...))
			if len(order) != len(tt.ids) {
				t.Fatalf("Expected %d ids, got %v", len(tt.ids), order)
			}
			for _, e := range tt.edges {
				op, dep := indexOf(order, e[0]), indexOf(order, e[1])
				if dep < 0 {
					continue
				}
				if dep > op {
					t.Errorf("%s must precede %s, got %v", e[1], e[0], order)
				}
			}
			if g.LastCycle() != nil {
				t.Errorf("Unexpected cycle diagnostic: %v", g.LastCycle())
			}
			if len(tt.edges) == 0 {
				for i := range tt.ids {
					if order[i] != tt.ids[i] {
						t.Errorf("Expected input order %v, got %v", tt.ids, order)
						break
					}
				}
			}
		})
	}
}

func TestGetExecutionOrderCycleReturnsInput(t *testing.T) {
	g := New()
	g.RegisterDependency("a", "b")
	g.RegisterDependency("b", "c")
	g.RegisterDependency("c", "a")

	ids := []string{"c", "a", "b", "d"}
	order := g.GetExecutionOrder(envelopes(ids...))
	for i := range ids {
		if order[i] != ids[i] {
			t.Fatalf("Expected input order %v on cycle, got %v", ids, order)
		}
	}

	diag := g.LastCycle()
	if diag == nil {
		t.Fatal("Expected cycle diagnostic")
	}
	if !errors.Is(diag, ErrCycle) {
		t.Error("Diagnostic should wrap ErrCycle")
	}
	if len(diag.Path) < 3 || diag.Path[0] != diag.Path[len(diag.Path)-1] {
		t.Errorf("Cycle path should start and end on the same node, got %v", diag.Path)
	}
}

func TestSelfDependencyIgnored(t *testing.T) {
	g := New()
	g.RegisterDependency("a", "a")
	g.RegisterDependency("b", "a")
	g.RegisterDependency("b", "a")

	if deps := g.Dependencies("a"); len(deps) != 0 {
		t.Errorf("Self dependency should be ignored, got %v", deps)
	}
	if deps := g.Dependencies("b"); len(deps) != 1 {
		t.Errorf("Duplicate dependency should be ignored, got %v", deps)
	}
	order := g.GetExecutionOrder(envelopes("b", "a"))
	if order[0] != "a" {
		t.Errorf("Expected a first, got %v", order)
	}
}

func TestGetAffectedByChange(t *testing.T) {
	g := New()
	g.RegisterDependency("b", "a")
	g.RegisterDependency("c", "b")
	g.RegisterDependency("d", "a")
	g.RegisterDependency("e", "x")

	affected := g.GetAffectedByChange("a")
	want := map[string]bool{"b": true, "c": true, "d": true}
	if len(affected) != len(want) {
		t.Fatalf("Expected %d affected, got %v", len(want), affected)
	}
	for _, id := range affected {
		if !want[id] {
			t.Errorf("Unexpected affected op %s", id)
		}
	}
	if indexOf(affected, "c") < indexOf(affected, "b") {
		t.Errorf("Breadth-first order expected b before c, got %v", affected)
	}
}

func TestInvalidateDecision(t *testing.T) {
	g := New()
	g.RegisterDependency("b", "a")
	g.RegisterDependency("c", "a")
	g.RegisterDependency("d", "c")
	g.RegisterDependency("e", "a")

	batch := &models.WorkflowState{Envelopes: []*models.Envelope{
		{ID: "a", Status: models.StatusFailed},
		{ID: "b", Status: models.StatusVerified},
		{ID: "c", Status: models.StatusPass2Queued, Pass: 2},
		{ID: "d", Status: models.StatusExecuted},
		{ID: "e", Status: models.StatusInReview},
	}}

	res := g.InvalidateDecision("a", batch)

	if res.Reverify != 2 {
		t.Errorf("Reverify = %d, want 2", res.Reverify)
	}
	if res.Reset != 1 {
		t.Errorf("Reset = %d, want 1", res.Reset)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}

	b, _ := batch.Envelope("b")
	if b.Status != models.StatusNeedsReverification {
		t.Errorf("b status = %s, want needs_reverification", b.Status)
	}
	c, _ := batch.Envelope("c")
	if c.Status != models.StatusPass1Queued || c.Pass != 1 {
		t.Errorf("c should be reset to pass 1, got %s pass %d", c.Status, c.Pass)
	}
	e, _ := batch.Envelope("e")
	if e.Status != models.StatusInReview {
		t.Errorf("e in review should be untouched, got %s", e.Status)
	}
}

func TestClear(t *testing.T) {
	g := New()
	g.RegisterDependency("b", "a")
	g.Clear()
	if len(g.Dependents("a")) != 0 {
		t.Error("Clear should drop all edges")
	}
}
