package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/gatekeeper/internal/models"
)

// FileLogger logs batch events to files in a log directory.
// It creates timestamped per-run log files, per-batch detailed logs,
// and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and implements the executor.Logger interface.
type FileLogger struct {
	logDir     string
	runLog     *os.File
	runFile    string
	batchesDir string
	level      Level
	mu         sync.Mutex
}

// NewFileLogger creates a FileLogger writing to logDir at the given level.
// It creates the directory if needed, opens a timestamped run log file and
// points latest.log at it.
func NewFileLogger(logDir string, levelName string) (*FileLogger, error) {
	level, _ := ParseLevel(levelName)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	batchesDir := filepath.Join(logDir, "batches")
	if err := os.MkdirAll(batchesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create batches directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:     logDir,
		runLog:     file,
		runFile:    runFile,
		batchesDir: batchesDir,
		level:      level,
	}

	fl.writeRunLog("=== Gatekeeper Run Log ===\n")
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return fl, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) LogDebug(message string) { fl.message(LevelDebug, message) }
func (fl *FileLogger) LogInfo(message string)  { fl.message(LevelInfo, message) }
func (fl *FileLogger) LogWarn(message string)  { fl.message(LevelWarn, message) }
func (fl *FileLogger) LogError(message string) { fl.message(LevelError, message) }

func (fl *FileLogger) message(l Level, message string) {
	if !fl.level.Enables(l) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), l, message))
}

// LogBatchStart logs the start of a batch at INFO level.
func (fl *FileLogger) LogBatchStart(state *models.WorkflowState) {
	if state == nil || !fl.level.Enables(LevelInfo) {
		return
	}
	opLabel := "operation"
	if len(state.Envelopes) != 1 {
		opLabel = "operations"
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Starting batch %s: %d %s (max passes: %d)\n",
		time.Now().Format("15:04:05"), state.ID, len(state.Envelopes), opLabel, state.MaxPasses))
}

// LogPassStart logs a pass opening at INFO level.
func (fl *FileLogger) LogPassStart(pass *models.ProcessingPass, queued int) {
	if pass == nil || !fl.level.Enables(LevelInfo) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Pass %d: %d queued (threshold %.2f, boost %+.2f)\n",
		time.Now().Format("15:04:05"), pass.Number, queued, pass.Threshold, pass.ContextBoost))
}

// LogPassComplete logs pass totals at INFO level.
func (fl *FileLogger) LogPassComplete(pass *models.ProcessingPass) {
	if pass == nil || !fl.level.Enables(LevelInfo) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Pass %d complete: duration %.1fs, executed %d, held %d, review %d, failed %d, avg %.2f\n",
		time.Now().Format("15:04:05"), pass.Number, pass.Duration.Seconds(),
		len(pass.Executed), len(pass.Held), len(pass.SentToReview), len(pass.Failed), pass.AvgScore))
}

// LogOperation logs one operation outcome at DEBUG level.
func (fl *FileLogger) LogOperation(env *models.Envelope, outcome string) {
	if env == nil || !fl.level.Enables(LevelDebug) {
		return
	}
	msg := fmt.Sprintf("[%s] %s %s pass %d confidence %.3f: %s",
		time.Now().Format("15:04:05"), env.Operation, env.ID, env.Pass, env.OverallConfidence, outcome)
	if env.Error != "" {
		msg += " (" + env.Error + ")"
	}
	fl.writeRunLog(msg + "\n")
}

// LogEscalation logs an operation sent to review at WARN level.
func (fl *FileLogger) LogEscalation(env *models.Envelope, reason string) {
	if env == nil || !fl.level.Enables(LevelWarn) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [REVIEW] %s %s: %s\n", time.Now().Format("15:04:05"), env.Operation, env.ID, reason))
}

// LogBatchComplete writes the summary to the run log and the full envelope
// detail to batches/batch-<id>.log.
func (fl *FileLogger) LogBatchComplete(state *models.WorkflowState) {
	if state == nil {
		return
	}
	if fl.level.Enables(LevelInfo) {
		ts := time.Now().Format("15:04:05")
		c := state.Counts()
		fl.writeRunLog(fmt.Sprintf(
			"\n[%s] === BATCH SUMMARY ===\n"+
				"[%s] Batch:        %s\n"+
				"[%s] Operations:   %d\n"+
				"[%s] Verified:     %d\n"+
				"[%s] Executed:     %d\n"+
				"[%s] In review:    %d\n"+
				"[%s] Failed:       %d\n"+
				"[%s] Status:       %s\n",
			ts, ts, state.ID, ts, c.Total, ts, c.Verified, ts, c.Executed, ts, c.InReview, ts, c.Failed, ts, state.Status()))
	}
	if err := fl.writeBatchLog(state); err != nil {
		fl.LogWarn(err.Error())
	}
}

func (fl *FileLogger) writeBatchLog(state *models.WorkflowState) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	path := filepath.Join(fl.batchesDir, fmt.Sprintf("batch-%s.log", state.ID))
	var b strings.Builder
	fmt.Fprintf(&b, "=== Batch %s ===\n", state.ID)
	if state.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", state.Description)
	}
	fmt.Fprintf(&b, "Status: %s\n", state.Status())
	if len(state.CycleDetected) > 0 {
		fmt.Fprintf(&b, "Dependency cycle: %s\n", strings.Join(state.CycleDetected, " -> "))
	}
	b.WriteString("\n")

	for _, pass := range state.Passes {
		fmt.Fprintf(&b, "#### Pass %d (threshold %.2f, boost %+.2f)\n", pass.Number, pass.Threshold, pass.ContextBoost)
		fmt.Fprintf(&b, "Queued: %d, Executed: %d, Held: %d, Review: %d, Failed: %d\n\n",
			len(pass.Queued), len(pass.Executed), len(pass.Held), len(pass.SentToReview), len(pass.Failed))
	}

	for _, env := range state.Envelopes {
		fmt.Fprintf(&b, "=== %s %s ===\n", env.Operation, env.ID)
		fmt.Fprintf(&b, "Status: %s (pass %d)\n", env.Status, env.Pass)
		fmt.Fprintf(&b, "Confidence: %.3f\n", env.OverallConfidence)
		fmt.Fprintf(&b, "Params: %s\n", formatParams(env.Params))
		if len(env.DependsOn) > 0 {
			fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(env.DependsOn, ", "))
		}
		for _, f := range env.Factors {
			fmt.Fprintf(&b, "  %-24s %.2f x %.2f  %s\n", f.Name, f.Score, f.Weight, f.Reason)
		}
		for _, boost := range env.Boosts {
			fmt.Fprintf(&b, "  boost %s: %s\n", boost.Factor, boost.Observation)
		}
		if env.Verification != nil {
			for _, check := range env.Verification.Checks {
				verdict := "PASS"
				if !check.Passed {
					verdict = "FAIL"
				}
				fmt.Fprintf(&b, "  verify %s: %s %s\n", check.Name, verdict, check.Message)
			}
		}
		if env.Error != "" {
			fmt.Fprintf(&b, "Error:\n%s\n", env.Error)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Completed at: %s\n", time.Now().Format(time.RFC3339))

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write batch log: %w", err)
	}
	return nil
}

// formatParams renders params with sorted keys.
func formatParams(p models.Params) string {
	keys := p.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + models.FormatValue(p[k])
	}
	return strings.Join(parts, ", ")
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
