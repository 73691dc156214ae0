package cmd

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/gatekeeper/internal/config"
	"github.com/harrison/gatekeeper/internal/models"
)

// NewLearningCommand creates the 'gatekeeper learning' parent command
func NewLearningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Feedback learning commands",
		Long: `Commands for viewing and managing what the pipeline has learned.

Every review decision is recorded as feedback. Methods whose proposals
are often modified or rejected lose confidence; reinforced session
patterns are promoted to durable ones when a session ends.`,
	}

	cmd.AddCommand(newLearningStatsCommand())
	cmd.AddCommand(newLearningPatternsCommand())
	cmd.AddCommand(newLearningExportCommand())
	cmd.AddCommand(newLearningClearCommand())

	return cmd
}

func newLearningStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show feedback and call accuracy per method",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				printLearningStats(cmd.Context(), a)
				return nil
			})
		},
	}
}

func printLearningStats(ctx context.Context, a *app) {
	w := a.out
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	cyan.Fprintf(w, "\n=== Feedback by Method ===\n\n")
	if a.learner == nil {
		fmt.Fprintln(w, "  Learning is disabled.")
	} else if stats := a.learner.AllMethodStats(); len(stats) == 0 {
		fmt.Fprintln(w, "  No feedback recorded yet.")
	} else {
		for _, s := range stats {
			fmt.Fprintf(w, "  %s: %d decisions (approved %d, modified %d, rejected %d, skipped %d), error rate ",
				s.Method, s.Records, s.Approved, s.Modified, s.Rejected, s.Skipped)
			switch {
			case s.ErrorRate < 0.2:
				green.Fprintf(w, "%.0f%%\n", s.ErrorRate*100)
			case s.ErrorRate < 0.5:
				yellow.Fprintf(w, "%.0f%%\n", s.ErrorRate*100)
			default:
				red.Fprintf(w, "%.0f%%\n", s.ErrorRate*100)
			}
		}
	}

	if a.store == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	methods, err := a.store.Methods(ctx)
	if err != nil {
		a.log.LogWarn(fmt.Sprintf("read call history: %v", err))
		return
	}
	cyan.Fprintf(w, "\n=== Call Accuracy ===\n\n")
	if len(methods) == 0 {
		fmt.Fprintln(w, "  No calls recorded yet.")
		return
	}
	for _, m := range methods {
		fmt.Fprintf(w, "  %s: %.1f%% over %d calls\n", m.Method, m.AccuracyRate*100, m.TotalCalls)
	}
}

func newLearningPatternsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List learned confidence adjustments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if a.learner == nil {
					fmt.Fprintln(a.out, "Learning is disabled.")
					return nil
				}
				printPatterns(a.out, a.learner.Patterns())
				return nil
			})
		},
	}
}

func printPatterns(w io.Writer, patterns []models.LearnedPattern) {
	if len(patterns) == 0 {
		fmt.Fprintln(w, "No learned patterns.")
		return
	}
	for _, p := range patterns {
		conds := "any parameters"
		if len(p.Conditions) > 0 {
			parts := make([]string, 0, len(p.Conditions))
			for _, k := range sortedKeys(p.Conditions) {
				parts = append(parts, k+"="+p.Conditions[k])
			}
			conds = strings.Join(parts, ", ")
		}
		fmt.Fprintf(w, "  %-18s %+.2f  %-8s %3d samples  %s\n",
			p.Method, p.ConfidenceAdjustment, p.Source, p.SampleCount, conds)
	}
}

func newLearningExportCommand() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export feedback records to JSON or CSV",
		Long: `Export feedback records to JSON or CSV for external analysis or backup.

Examples:
  gatekeeper learning export --format json --output feedback.json
  gatekeeper learning export --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("invalid format '%s': format must be 'json' or 'csv'", format)
			}
			return withApp(cmd, func(a *app) error {
				if a.learner == nil {
					return fmt.Errorf("learning is disabled")
				}
				w := a.out
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create output file: %w", err)
					}
					defer f.Close()
					w = f
				}
				records := a.learner.Records()
				if format == "json" {
					return exportRecordsJSON(w, records)
				}
				return exportRecordsCSV(w, records)
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Export format (json|csv)")
	cmd.Flags().StringVar(&output, "output", "", "Output file (default: stdout)")

	return cmd
}

func exportRecordsJSON(w io.Writer, records []models.FeedbackRecord) error {
	if records == nil {
		records = []models.FeedbackRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	return nil
}

func exportRecordsCSV(w io.Writer, records []models.FeedbackRecord) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "operation", "decision", "ai_correct", "original_confidence", "original_params", "approved_params", "rationale", "recorded_at"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.Operation,
			string(r.Decision),
			strconv.FormatBool(r.AICorrect),
			strconv.FormatFloat(r.OriginalConfidence, 'f', 3, 64),
			formatParams(r.OriginalParams),
			formatParams(r.ApprovedParams),
			r.Rationale,
			r.RecordedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func newLearningClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete feedback history and cross-session memory",
		Long: `Delete the feedback history and the memory database.

Examples:
  gatekeeper learning clear        # asks for confirmation
  gatekeeper learning clear --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := resolveHome(cmd)
			if err != nil {
				return err
			}
			output := cmd.OutOrStdout()
			if !yes {
				fmt.Fprintf(output, "WARNING: This will delete ALL learned feedback and memory under %s.\n", home)
				if !confirmAction(cmd.InOrStdin(), output) {
					fmt.Fprintln(output, "Operation cancelled.")
					return nil
				}
			}

			cfg, err := config.LoadConfigFromDir(home)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			db := cfg.Memory.DBPath
			paths := []string{cfg.Learning.Path}
			if db != "" {
				paths = append(paths, db, db+"-wal", db+"-shm")
			}

			removed := 0
			for _, p := range paths {
				if p == "" {
					continue
				}
				if err := os.Remove(p); err == nil {
					removed++
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("remove %s: %w", p, err)
				}
			}
			fmt.Fprintf(output, "Removed %d learning files\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}

// confirmAction reads a y/yes answer from in.
func confirmAction(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Continue? (y/N): ")
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
