package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrison/gatekeeper/internal/models"
)

// decideOnce escalates a wall and rejects it, leaving one feedback record.
func decideOnce(t *testing.T, home string) {
	t.Helper()
	id := seedReview(t, home)
	if _, err := executeCommand(t, home, "review", "decide", id, "reject", "--notes", "too tall"); err != nil {
		t.Fatalf("decide: %v", err)
	}
}

func TestLearningStatsEmpty(t *testing.T) {
	output, err := executeCommand(t, t.TempDir(), "learning", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	assertContains(t, output, "=== Feedback by Method ===", "No feedback recorded yet.", "=== Call Accuracy ===")
}

func TestLearningStatsShowsCallAccuracy(t *testing.T) {
	home := t.TempDir()
	if _, err := executeCommand(t, home, "run", writeBatchFile(t, wallBatch)); err != nil {
		t.Fatalf("run: %v", err)
	}
	output, err := executeCommand(t, home, "learning", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	assertContains(t, output, "create_wall: 100.0% over 1 calls")
}

func TestLearningStatsDisabled(t *testing.T) {
	home := t.TempDir()
	writeHomeFile(t, home, "config.yaml", "learning:\n  enabled: false\nmemory:\n  enabled: false\n")
	output, err := executeCommand(t, home, "learning", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	assertContains(t, output, "Learning is disabled.")
	if strings.Contains(output, "Call Accuracy") {
		t.Errorf("call accuracy needs memory:\n%s", output)
	}
}

func TestLearningPatternsEmpty(t *testing.T) {
	output, err := executeCommand(t, t.TempDir(), "learning", "patterns")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	assertContains(t, output, "No learned patterns.")
}

func TestPrintPatterns(t *testing.T) {
	var sb strings.Builder
	printPatterns(&sb, []models.LearnedPattern{
		{Method: "create_wall", ConfidenceAdjustment: -0.2, Source: models.PatternDurable, SampleCount: 3},
		{Method: "create_door", ConfidenceAdjustment: 0.05, Source: models.PatternSession, SampleCount: 1,
			Conditions: map[string]string{"swing": "left", "host_id": "present"}},
	})
	assertContains(t, sb.String(),
		"create_wall        -0.20  durable    3 samples  any parameters",
		"create_door        +0.05  session    1 samples  host_id=present, swing=left",
	)
}

func TestLearningExportJSON(t *testing.T) {
	home := t.TempDir()
	decideOnce(t, home)

	out := filepath.Join(t.TempDir(), "feedback.json")
	if _, err := executeCommand(t, home, "learning", "export", "--output", out); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var records []models.FeedbackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(records) != 1 || records[0].Decision != models.DecisionReject || records[0].Rationale != "too tall" {
		t.Errorf("unexpected records %+v", records)
	}
}

func TestLearningExportCSV(t *testing.T) {
	home := t.TempDir()
	decideOnce(t, home)

	output, err := executeCommand(t, home, "learning", "export", "--format", "csv")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got:\n%s", output)
	}
	if !strings.HasPrefix(lines[0], "id,operation,decision,ai_correct") {
		t.Errorf("unexpected header %q", lines[0])
	}
	assertContains(t, lines[1], ",create_wall,reject,false,", "too tall")
}

func TestLearningExportInvalidFormat(t *testing.T) {
	_, err := executeCommand(t, t.TempDir(), "learning", "export", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "format must be 'json' or 'csv'") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestLearningClear(t *testing.T) {
	home := t.TempDir()
	decideOnce(t, home)

	output, err := executeCommandWithInput(t, home, "n\n", "learning", "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	assertContains(t, output, "WARNING", "Operation cancelled.")
	if _, err := os.Stat(filepath.Join(home, "feedback.json")); err != nil {
		t.Fatalf("cancelled clear must keep feedback: %v", err)
	}

	output, err = executeCommand(t, home, "learning", "clear", "--yes")
	if err != nil {
		t.Fatalf("clear --yes: %v", err)
	}
	assertContains(t, output, "Removed ")
	for _, name := range []string{"feedback.json", "memory.db"} {
		if _, err := os.Stat(filepath.Join(home, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed, stat err = %v", name, err)
		}
	}

	output, err = executeCommand(t, home, "learning", "stats")
	if err != nil {
		t.Fatalf("stats after clear: %v", err)
	}
	assertContains(t, output, "No feedback recorded yet.")
}
