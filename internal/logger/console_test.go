package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/gatekeeper/internal/models"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestConsole(buf *bytes.Buffer, level string) *ConsoleLogger {
	cl := NewConsoleLogger(buf, level)
	cl.now = fixedClock
	return cl
}

func sampleBatch() *models.WorkflowState {
	started := fixedClock()
	return &models.WorkflowState{
		ID:          "0f3c2a9e-1111-2222-3333-444444444444",
		Description: "ground floor",
		MaxPasses:   3,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Envelopes: []*models.Envelope{
			{ID: "aaaaaaaa-1", Operation: "create_wall", Status: models.StatusVerified, OverallConfidence: 0.95, Pass: 1},
			{ID: "bbbbbbbb-2", Operation: "create_door", Status: models.StatusFailed, OverallConfidence: 0.80, Pass: 2, Error: "host missing"},
			{ID: "cccccccc-3", Operation: "create_room", Status: models.StatusInReview, OverallConfidence: 0.40, Pass: 3},
		},
		Passes: []*models.ProcessingPass{{Number: 1}, {Number: 2}, {Number: 3}},
	}
}

func TestNewConsoleLogger(t *testing.T) {
	t.Run("with valid writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewConsoleLogger(buf, "DEBUG")
		if logger.writer != buf {
			t.Error("writer not set correctly")
		}
		if logger.level != LevelDebug {
			t.Errorf("expected level %v, got %v", LevelDebug, logger.level)
		}
		if logger.color {
			t.Error("a buffer is never a terminal")
		}
	})

	t.Run("with nil writer", func(t *testing.T) {
		logger := NewConsoleLogger(nil, "bogus")
		if logger.level != LevelInfo {
			t.Errorf("invalid level should default to info, got %v", logger.level)
		}
		// Must not panic.
		logger.LogInfo("discarded")
		logger.LogBatchComplete(sampleBatch())
	})
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		expected []string
		absent   []string
	}{
		{level: "trace", expected: []string{"[TRACE] t", "[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"}},
		{level: "info", expected: []string{"[INFO] i", "[WARN] w", "[ERROR] e"}, absent: []string{"[DEBUG]", "[TRACE]"}},
		{level: "error", expected: []string{"[ERROR] e"}, absent: []string{"[INFO]", "[WARN]"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cl := newTestConsole(buf, tt.level)
			cl.LogTrace("t")
			cl.LogDebug("d")
			cl.LogInfo("i")
			cl.LogWarn("w")
			cl.LogError("e")

			out := buf.String()
			for _, want := range tt.expected {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in output:\n%s", want, out)
				}
			}
			for _, notWant := range tt.absent {
				if strings.Contains(out, notWant) {
					t.Errorf("did not expect %q in output:\n%s", notWant, out)
				}
			}
		})
	}
}

func TestTimestampPrefix(t *testing.T) {
	buf := &bytes.Buffer{}
	newTestConsole(buf, "info").LogInfo("hello")
	if got := buf.String(); got != "[09:26:53] [INFO] hello\n" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestLogBatchStartAndPasses(t *testing.T) {
	buf := &bytes.Buffer{}
	cl := newTestConsole(buf, "info")

	cl.LogBatchStart(sampleBatch())
	cl.LogPassStart(&models.ProcessingPass{Number: 2, Threshold: 0.75, ContextBoost: 0.05}, 4)
	cl.LogPassComplete(&models.ProcessingPass{
		Number:       2,
		Queued:       []string{"a", "b", "c", "d"},
		Executed:     []string{"a", "b"},
		Held:         []string{"c"},
		SentToReview: []string{"d"},
		Duration:     1500 * time.Millisecond,
		AvgScore:     0.71,
	})

	out := buf.String()
	for _, want := range []string{
		"Starting batch 0f3c2a9e (ground floor): 3 operations, up to 3 passes",
		"Pass 2: 4 queued, threshold 0.75, context boost +0.05",
		"Pass 2 complete (1s): [=====>>???] 3/4 settled (75%)",
		"executed: 2, held: 1, review: 1, avg: 0.71",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestLogOperationLevels(t *testing.T) {
	env := &models.Envelope{ID: "12345678-abcd", Operation: "create_door", Pass: 2, OverallConfidence: 0.8}

	buf := &bytes.Buffer{}
	cl := newTestConsole(buf, "info")
	cl.LogOperation(env, "verified")
	if buf.Len() != 0 {
		t.Errorf("successful operations log at debug, got %q", buf.String())
	}

	env.Error = "host missing"
	cl.LogOperation(env, "failed")
	want := "create_door [12345678] pass 2 confidence 0.80: failed (host missing)"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("expected %q in %q", want, buf.String())
	}
}

func TestLogEscalation(t *testing.T) {
	buf := &bytes.Buffer{}
	newTestConsole(buf, "warn").LogEscalation(&models.Envelope{ID: "abcdefgh-1", Operation: "create_room"}, "confidence 0.40 below threshold 0.65 after 3 passes")
	want := "review: create_room [abcdefgh] confidence 0.40 below threshold 0.65 after 3 passes"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("expected %q in %q", want, buf.String())
	}
}

func TestLogBatchComplete(t *testing.T) {
	buf := &bytes.Buffer{}
	state := sampleBatch()
	state.CycleDetected = []string{"aaaaaaaa-1", "bbbbbbbb-2"}
	newTestConsole(buf, "info").LogBatchComplete(state)

	out := buf.String()
	for _, want := range []string{
		"=== Batch Summary ===",
		"Status: awaiting_review",
		"Operations: 3 over 3 passes",
		"Verified: 1",
		"In review: 1",
		"Failed: 1",
		"Duration: 2s",
		"Dependency cycle: aaaaaaaa -> bbbbbbbb",
		"- create_door [bbbbbbbb]: host missing",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{2 * time.Minute, "2m"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{3 * time.Hour, "3h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConsoleLoggerConcurrentWrites(t *testing.T) {
	buf := &bytes.Buffer{}
	cl := newTestConsole(buf, "info")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cl.LogInfo("line")
		}()
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "\n"); got != 20 {
		t.Errorf("expected 20 complete lines, got %d", got)
	}
}

func TestColorSchemeDisabledIsPlain(t *testing.T) {
	scheme := newColorScheme(false)
	if got := scheme.confidence(0.9); got != "0.90" {
		t.Errorf("confidence = %q", got)
	}
	if got := scheme.outcome("failed"); got != "failed" {
		t.Errorf("outcome = %q", got)
	}
	if got := scheme.countOrPlain(scheme.fail, "Failed", 2); got != "Failed: 2" {
		t.Errorf("countOrPlain = %q", got)
	}
}

func TestColorSchemeEnabledAddsEscapes(t *testing.T) {
	scheme := newColorScheme(true)
	if got := scheme.confidence(0.3); !strings.Contains(got, "\x1b[") {
		t.Errorf("expected ANSI escape in %q", got)
	}
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	m := NewMultiLogger(newTestConsole(a, "info"), nil, newTestConsole(b, "info"))
	if len(m) != 2 {
		t.Fatalf("nil sinks should be dropped, got %d", len(m))
	}
	m.LogWarn("both")
	m.LogBatchStart(sampleBatch())
	for name, buf := range map[string]*bytes.Buffer{"a": a, "b": b} {
		if !strings.Contains(buf.String(), "[WARN] both") || !strings.Contains(buf.String(), "Starting batch") {
			t.Errorf("sink %s missed events:\n%s", name, buf.String())
		}
	}
}

func TestNoOpLogger(t *testing.T) {
	var s Sink = NewNoOpLogger()
	s.LogBatchStart(sampleBatch())
	s.LogError("ignored")
}
