// Package logger provides logging implementations for batch processing.
//
// The logger package reports batch, pass and operation progress. Implementations
// are thread-safe and support various output destinations (console, file).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/gatekeeper/internal/models"
)

// ConsoleLogger writes "[HH:MM:SS]"-stamped pipeline events to a writer.
// Color is used only when the writer is a terminal.
type ConsoleLogger struct {
	writer io.Writer
	level  Level
	color  bool
	mutex  sync.Mutex
	now    func() time.Time
}

// NewConsoleLogger returns a console logger at the named level; unknown
// names log at info. A nil writer discards everything.
func NewConsoleLogger(writer io.Writer, level string) *ConsoleLogger {
	l, _ := ParseLevel(level)
	return &ConsoleLogger{
		writer: writer,
		level:  l,
		color:  isTerminal(writer),
		now:    time.Now,
	}
}

// isTerminal reports whether w is a color-capable terminal. NO_COLOR disables
// color through fatih/color.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) enabled(l Level) bool {
	return cl.writer != nil && cl.level.Enables(l)
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.message(LevelTrace, message) }

// LogDebug writes "[HH:MM:SS] [DEBUG] <message>".
func (cl *ConsoleLogger) LogDebug(message string) { cl.message(LevelDebug, message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.message(LevelInfo, message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.message(LevelWarn, message) }
func (cl *ConsoleLogger) LogError(message string) { cl.message(LevelError, message) }

func (cl *ConsoleLogger) message(l Level, message string) {
	cl.write(l, func(c bool) string {
		return fmt.Sprintf("[%s] %s", l.tag(c), message)
	})
}

// LogBatchStart logs the start of a batch at INFO level.
// Format: "[HH:MM:SS] Starting batch <id>: <n> operations, up to <m> passes"
func (cl *ConsoleLogger) LogBatchStart(state *models.WorkflowState) {
	if state == nil {
		return
	}
	name := shortID(state.ID)
	if state.Description != "" {
		name = fmt.Sprintf("%s (%s)", name, state.Description)
	}
	cl.write(LevelInfo, func(c bool) string {
		if c {
			name = color.New(color.Bold).Sprint(name)
		}
		return fmt.Sprintf("Starting batch %s: %d operations, up to %d passes", name, len(state.Envelopes), state.MaxPasses)
	})
}

// LogPassStart logs a pass opening at INFO level.
func (cl *ConsoleLogger) LogPassStart(pass *models.ProcessingPass, queued int) {
	if pass == nil {
		return
	}
	cl.write(LevelInfo, func(c bool) string {
		label := fmt.Sprintf("Pass %d", pass.Number)
		if c {
			label = color.New(color.Bold).Sprint(label)
		}
		return fmt.Sprintf("%s: %d queued, threshold %.2f, context boost %+.2f", label, queued, pass.Threshold, pass.ContextBoost)
	})
}

// LogPassComplete logs pass totals at INFO level.
// Format: "[HH:MM:SS] Pass <n> complete (<duration>): <pass bar> executed: N, held: N, review: N, avg: 0.00"
func (cl *ConsoleLogger) LogPassComplete(pass *models.ProcessingPass) {
	if pass == nil {
		return
	}
	cl.write(LevelInfo, func(c bool) string {
		scheme := newColorScheme(c)
		bar := NewPassBar(pass, 10, c)
		return fmt.Sprintf("Pass %d %s (%s): %s %s",
			pass.Number, scheme.success.Sprint("complete"), formatDuration(pass.Duration),
			bar.Render(), formatPassCounts(pass, scheme))
	})
}

// LogOperation logs one operation outcome at DEBUG level, or WARN for failures.
// Format: "[HH:MM:SS] <operation> [<id>] pass <n> confidence 0.00: <outcome>"
func (cl *ConsoleLogger) LogOperation(env *models.Envelope, outcome string) {
	if env == nil {
		return
	}
	level := LevelDebug
	if outcome == "failed" || outcome == "verification_failed" {
		level = LevelWarn
	}
	cl.write(level, func(c bool) string {
		scheme := newColorScheme(c)
		msg := fmt.Sprintf("%s [%s] pass %d confidence %s: %s",
			env.Operation, shortID(env.ID), env.Pass, scheme.confidence(env.OverallConfidence), scheme.outcome(outcome))
		if env.Error != "" {
			msg += " (" + env.Error + ")"
		}
		return msg
	})
}

// LogEscalation logs an operation sent to human review at WARN level.
func (cl *ConsoleLogger) LogEscalation(env *models.Envelope, reason string) {
	if env == nil {
		return
	}
	cl.write(LevelWarn, func(c bool) string {
		label := "review"
		if c {
			label = color.New(color.FgYellow, color.Bold).Sprint(label)
		}
		return fmt.Sprintf("%s: %s [%s] %s", label, env.Operation, shortID(env.ID), reason)
	})
}

// LogBatchComplete logs the batch summary at INFO level.
func (cl *ConsoleLogger) LogBatchComplete(state *models.WorkflowState) {
	if state == nil || !cl.enabled(LevelInfo) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := cl.timestamp()
	scheme := newColorScheme(cl.color)
	counts := state.Counts()
	duration := time.Duration(0)
	if !state.CompletedAt.IsZero() {
		duration = state.CompletedAt.Sub(state.StartedAt)
	}

	header := "=== Batch Summary ==="
	if cl.color {
		header = color.New(color.Bold).Sprint(header)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, header)
	fmt.Fprintf(&b, "[%s] %s\n", ts, formatColorizedMetric("Status", string(state.Status()), scheme))
	fmt.Fprintf(&b, "[%s] Operations: %d over %d passes\n", ts, counts.Total, len(state.Passes))
	fmt.Fprintf(&b, "[%s] %s\n", ts, scheme.success.Sprintf("Verified: %d", counts.Verified))
	fmt.Fprintf(&b, "[%s] Executed: %d\n", ts, counts.Executed)
	fmt.Fprintf(&b, "[%s] %s\n", ts, scheme.countOrPlain(scheme.warn, "In review", counts.InReview))
	fmt.Fprintf(&b, "[%s] %s\n", ts, scheme.countOrPlain(scheme.fail, "Failed", counts.Failed))
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(duration))
	if len(state.CycleDetected) > 0 {
		fmt.Fprintf(&b, "[%s] %s\n", ts, scheme.warn.Sprintf("Dependency cycle: %s", strings.Join(shortIDs(state.CycleDetected), " -> ")))
	}
	for _, env := range state.Envelopes {
		if env.Status == models.StatusFailed {
			fmt.Fprintf(&b, "[%s]   - %s [%s]: %s\n", ts, scheme.fail.Sprint(env.Operation), shortID(env.ID), env.Error)
		}
	}
	io.WriteString(cl.writer, b.String())
}

// write formats and emits one timestamped line at level.
func (cl *ConsoleLogger) write(level Level, format func(colored bool) string) {
	if !cl.enabled(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	fmt.Fprintf(cl.writer, "[%s] %s\n", cl.timestamp(), format(cl.color))
}

func (cl *ConsoleLogger) timestamp() string {
	return cl.now().Format("15:04:05")
}

// formatDuration renders d as "850ms", "5s", "1m30s" or "2h15m".
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}

// NoOpLogger discards every event.
type NoOpLogger struct{}

// NewNoOpLogger returns a logger for tests and disabled output.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogBatchStart(*models.WorkflowState)      {}
func (n *NoOpLogger) LogPassStart(*models.ProcessingPass, int) {}
func (n *NoOpLogger) LogPassComplete(*models.ProcessingPass)   {}
func (n *NoOpLogger) LogOperation(*models.Envelope, string)    {}
func (n *NoOpLogger) LogEscalation(*models.Envelope, string)   {}
func (n *NoOpLogger) LogBatchComplete(*models.WorkflowState)   {}
func (n *NoOpLogger) LogDebug(string)                          {}
func (n *NoOpLogger) LogInfo(string)                           {}
func (n *NoOpLogger) LogWarn(string)                           {}
func (n *NoOpLogger) LogError(string)                          {}
