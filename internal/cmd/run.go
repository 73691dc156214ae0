package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/gatekeeper/internal/executor"
	"github.com/harrison/gatekeeper/internal/models"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <batch-file>",
		Short: "Process a batch of operations",
		Long: `Process a batch of operations through the confidence-gated passes.

Each operation is scored before it runs. Operations above the pass
threshold execute and are verified; the rest wait for a later pass with
a lower threshold and the context gained from earlier successes. What
still falls short after the last pass goes to the review queue.

The batch file is YAML:

  description: ground floor walls
  elements:                      # seeded as ids 100, 101, ...
    - category: level
      props: {name: "Level 1", elevation: 0}
    - category: wall
      props: {level_id: 100, length: 6.0, height: 3.0}
  operations:
    - id: wall
      method: create_wall
      params: {level_id: 100, length: 4.0, height: 3.0}
    - id: door
      method: create_door
      params: {host_id: 101, width: 0.9}
      depends_on: [wall]

Examples:
  gatekeeper run batch.yaml
  gatekeeper run --dry-run batch.yaml       # Score without executing
  gatekeeper run --timeout 30s batch.yaml   # Bound the whole batch
  gatekeeper run --log-dir ./logs batch.yaml
  gatekeeper run --trace batch.yaml         # Export spans over OTLP/gRPC`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().Bool("dry-run", false, "Score every operation without executing")
	cmd.Flags().String("timeout", "", "Maximum processing time (e.g., 30s, 5m)")
	cmd.Flags().String("log-dir", "", "Directory for run and batch log files")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics while running")
	cmd.Flags().Bool("trace", false, "Export OpenTelemetry spans to the configured OTLP endpoint")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	batch, err := LoadBatchFile(args[0])
	if err != nil {
		return err
	}

	opts := appOptions{}
	opts.logLevel, _ = cmd.Flags().GetString("log-level")
	opts.logDir, _ = cmd.Flags().GetString("log-dir")
	if cmd.Flags().Changed("metrics") {
		enabled, _ := cmd.Flags().GetBool("metrics")
		opts.metrics = &enabled
	}
	if cmd.Flags().Changed("trace") {
		enabled, _ := cmd.Flags().GetBool("trace")
		opts.tracing = &enabled
	}

	var timeout time.Duration
	if raw, _ := cmd.Flags().GetString("timeout"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
	}

	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	seeded := batch.Seed(a.model)
	if len(seeded) > 0 {
		a.log.LogDebug(fmt.Sprintf("seeded %d elements: %v", len(seeded), seeded))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// An interrupt stops the batch between operations; whatever has not run
	// yet is sent to review instead of being dropped.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			a.log.LogWarn("Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return dryRunBatch(ctx, a, batch)
	}

	state, err := a.pipeline.ProcessBatch(ctx, batch.Requests(), batch.Description)
	if state != nil {
		printBatchResult(a.out, batch, state)
	}
	if err != nil {
		if executor.IsCancelled(err) {
			return fmt.Errorf("batch cancelled: %w", err)
		}
		var be *executor.BatchError
		if errors.As(err, &be) {
			return fmt.Errorf("%d of %d operations failed", be.FailedOps, be.TotalOperations)
		}
		return err
	}
	return nil
}

// dryRunBatch scores each operation once, as the first pass would, and
// prints the factor breakdown.
func dryRunBatch(ctx context.Context, a *app, batch *BatchFile) error {
	w := a.out
	cyan := color.New(color.FgCyan, color.Bold)
	threshold := a.cfg.ThresholdFor("", 1)

	cyan.Fprintf(w, "Dry run: %d operations, pass 1 threshold %.2f\n", len(batch.Operations), threshold)
	requests := batch.Requests()
	for i, op := range batch.Operations {
		env := a.calc.Calculate(ctx, op.Method, requests[i].Params)
		opThreshold := a.cfg.ThresholdFor(op.Method, 1)
		verdict := "would execute"
		if env.OverallConfidence < opThreshold {
			verdict = "would be held"
		}
		fmt.Fprintf(w, "\n%s %s: ", labelFor(op, i), op.Method)
		confidenceColor(env.OverallConfidence).Fprintf(w, "%.3f", env.OverallConfidence)
		fmt.Fprintf(w, " (%s)\n", verdict)
		for _, f := range env.Factors {
			fmt.Fprintf(w, "  %-24s %.2f x %.2f  %s\n", f.Name, f.Score, f.Weight, f.Reason)
		}
		for _, alt := range env.Alternatives {
			fmt.Fprintf(w, "  alternative (%s, %.2f): %s\n", alt.Source, alt.Confidence, alt.Description)
		}
	}
	return nil
}

func printBatchResult(w io.Writer, batch *BatchFile, state *models.WorkflowState) {
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Fprintf(w, "\n=== Batch %s ===\n", state.ID)
	for i, env := range state.Envelopes {
		label := fmt.Sprintf("#%d", i)
		if i < len(batch.Operations) {
			label = labelFor(batch.Operations[i], i)
		}
		fmt.Fprintf(w, "  %-10s %-18s pass %d  ", label, env.Operation, env.Pass)
		confidenceColor(env.OverallConfidence).Fprintf(w, "%.2f", env.OverallConfidence)
		fmt.Fprint(w, "  ")
		statusColor(env.Status).Fprint(w, env.Status)
		if env.Error != "" {
			fmt.Fprintf(w, "  %s", env.Error)
		}
		fmt.Fprintln(w)
	}

	counts := state.Counts()
	fmt.Fprintf(w, "\nStatus: %s (%d verified, %d in review, %d failed)\n",
		state.Status(), counts.Verified, counts.InReview, counts.Failed)
	if counts.InReview > 0 {
		fmt.Fprintln(w, "Run 'gatekeeper review list' to decide on held operations.")
	}
}

func labelFor(op BatchOperation, i int) string {
	if op.ID != "" {
		return op.ID
	}
	return fmt.Sprintf("#%d", i)
}

func confidenceColor(score float64) *color.Color {
	switch {
	case score >= 0.85:
		return color.New(color.FgGreen)
	case score >= 0.65:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func statusColor(s models.Status) *color.Color {
	switch s {
	case models.StatusVerified, models.StatusExecuted, models.StatusApproved:
		return color.New(color.FgGreen)
	case models.StatusFailed, models.StatusVerificationFailed, models.StatusRejected:
		return color.New(color.FgRed)
	case models.StatusInReview, models.StatusNeedsReverification:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}
