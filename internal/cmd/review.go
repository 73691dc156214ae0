package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/gatekeeper/internal/models"
	"github.com/harrison/gatekeeper/internal/review"
)

// NewReviewCommand creates the 'gatekeeper review' parent command
func NewReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and decide on held operations",
		Long: `Commands for the human review queue.

Operations that stay below the execution threshold after the last pass,
or that violate a domain rule, wait here with the questions the pipeline
could not answer and the options it considered. Every decision is
recorded as feedback and adjusts future confidence for the method.`,
	}

	cmd.AddCommand(newReviewListCommand())
	cmd.AddCommand(newReviewShowCommand())
	cmd.AddCommand(newReviewDecideCommand())
	cmd.AddCommand(newReviewAcceptCommand())
	cmd.AddCommand(newReviewExportCommand())
	cmd.AddCommand(newReviewStatsCommand())
	cmd.AddCommand(newReviewPurgeCommand())

	return cmd
}

// withApp builds the app for a subcommand and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	level, _ := cmd.Flags().GetString("log-level")
	a, err := newApp(cmd, appOptions{logLevel: level})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newReviewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending review items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				printPendingItems(a.out, a.queue.GetPendingItems())
				return nil
			})
		},
	}
}

func printPendingItems(w io.Writer, items []*models.ReviewItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing awaits review.")
		return
	}
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "%d pending review items:\n", len(items))
	for _, item := range items {
		env := item.Envelope
		fmt.Fprintf(w, "  %s  %-18s ", shortItemID(item.ID), env.Operation)
		confidenceColor(env.OverallConfidence).Fprintf(w, "%.2f", env.OverallConfidence)
		fmt.Fprintf(w, "  %s\n", item.Reason)
	}
}

func newReviewShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show the questions, options and factors of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				item, ok := a.queue.Get(args[0])
				if !ok {
					return fmt.Errorf("review item %q not found", args[0])
				}
				printReviewItem(a.out, item)
				return nil
			})
		},
	}
}

func printReviewItem(w io.Writer, item *models.ReviewItem) {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)
	env := item.Envelope

	cyan.Fprintf(w, "%s %s\n", env.Operation, item.ID)
	fmt.Fprintf(w, "  Reason:     %s\n", item.Reason)
	fmt.Fprintf(w, "  Confidence: ")
	confidenceColor(env.OverallConfidence).Fprintf(w, "%.3f\n", env.OverallConfidence)
	fmt.Fprintf(w, "  Params:     %s\n", formatParams(env.Params))
	if item.Reviewed() {
		fmt.Fprintf(w, "  Decision:   %s at %s\n", item.Decision, item.ReviewedAt.Format("2006-01-02 15:04"))
	} else if !item.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "  Expires:    %s\n", item.ExpiresAt.Format("2006-01-02 15:04"))
	}

	fmt.Fprintln(w)
	cyan.Fprintln(w, "Questions:")
	for _, q := range item.Questions {
		fmt.Fprintf(w, "  - %s\n", q)
	}

	fmt.Fprintln(w)
	cyan.Fprintln(w, "Options:")
	for _, opt := range item.Options {
		marker := " "
		if opt.ID == item.Recommendation {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %-15s %.2f  %s\n", marker, opt.ID, opt.Confidence, opt.Label)
		if opt.Description != "" {
			gray.Fprintf(w, "      %s\n", opt.Description)
		}
	}

	if len(env.Factors) > 0 {
		fmt.Fprintln(w)
		cyan.Fprintln(w, "Factors:")
		for _, f := range env.Factors {
			fmt.Fprintf(w, "  %-24s %.2f x %.2f  %s\n", f.Name, f.Score, f.Weight, f.Reason)
		}
	}
	if env.Reasoning != nil && len(env.Reasoning.CriticalFactors) > 0 {
		fmt.Fprintf(w, "\nCritical: %s\n", strings.Join(env.Reasoning.CriticalFactors, ", "))
	}
}

func newReviewDecideCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide <item-id> [approve|modify|reject|skip]",
		Short: "Record a decision for one item",
		Long: `Record a decision for one review item.

Either name a decision or pick one of the item's options with --option.
A modify decision starts from the proposed parameters and overrides
each --param given; values parse as YAML scalars.

Examples:
  gatekeeper review decide 3f2a approve
  gatekeeper review decide 3f2a modify --param height=5 --notes "meant 5m"
  gatekeeper review decide 3f2a --option alternative-1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runReviewDecide,
	}
	cmd.Flags().StringArray("param", nil, "Parameter override for modify (key=value, repeatable)")
	cmd.Flags().String("option", "", "Choose one of the item's options by id")
	cmd.Flags().String("notes", "", "Reason for the decision")
	return cmd
}

func runReviewDecide(cmd *cobra.Command, args []string) error {
	optionID, _ := cmd.Flags().GetString("option")
	notes, _ := cmd.Flags().GetString("notes")
	rawParams, _ := cmd.Flags().GetStringArray("param")

	if optionID == "" && len(args) < 2 {
		return fmt.Errorf("a decision or --option is required")
	}
	if optionID != "" && len(args) == 2 {
		return fmt.Errorf("give either a decision or --option, not both")
	}

	return withApp(cmd, func(a *app) error {
		item, ok := a.queue.Get(args[0])
		if !ok {
			return fmt.Errorf("review item %q not found", args[0])
		}

		if optionID != "" {
			if err := a.queue.SubmitOption(item.ID, optionID, notes); err != nil {
				return fmt.Errorf("submit option: %w", err)
			}
			fmt.Fprintf(a.out, "Recorded option %s for %s\n", optionID, shortItemID(item.ID))
			return nil
		}

		decision, ok := models.ParseDecision(args[1])
		if !ok {
			return fmt.Errorf("unknown decision %q (want approve, modify, reject or skip)", args[1])
		}
		var modified models.Params
		if decision == models.DecisionModify {
			if len(rawParams) == 0 {
				return fmt.Errorf("modify requires at least one --param")
			}
			overrides, err := parseParamOverrides(rawParams)
			if err != nil {
				return err
			}
			modified = item.Envelope.Params.Clone()
			for k, v := range overrides {
				modified[k] = v
			}
		}

		if item.Reviewed() {
			return fmt.Errorf("%w: %s", review.ErrAlreadyReviewed, shortItemID(item.ID))
		}
		if !a.queue.SubmitDecision(item.ID, decision, modified, notes) {
			return fmt.Errorf("decision for %s was not recorded (item expired?)", shortItemID(item.ID))
		}
		fmt.Fprintf(a.out, "Recorded %s for %s (%s)\n", decision, shortItemID(item.ID), item.Envelope.Operation)
		return nil
	})
}

// parseParamOverrides turns key=value pairs into typed params.
func parseParamOverrides(raw []string) (models.Params, error) {
	out := models.Params{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", kv)
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
			parsed = value
		}
		out[key] = parsed
	}
	return out, nil
}

func newReviewAcceptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-recommended",
		Short: "Apply the recommended option to every pending item",
		Long: `Apply the recommended option to every pending item whose
recommendation is to approve or to use an alternative. Items the pipeline
recommends rejecting are left for a human.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				accepted := 0
				for _, item := range a.queue.GetPendingItems() {
					if item.Recommendation == "" || item.Recommendation == models.OptionReject {
						continue
					}
					if err := a.queue.SubmitOption(item.ID, item.Recommendation, "accepted recommendation"); err != nil {
						if errors.Is(err, review.ErrExpired) {
							continue
						}
						return err
					}
					accepted++
				}
				fmt.Fprintf(a.out, "Accepted %d recommendations\n", accepted)
				return nil
			})
		},
	}
}

func newReviewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export pending items as a markdown or HTML report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asHTML, _ := cmd.Flags().GetBool("html")
			outPath, _ := cmd.Flags().GetString("out")
			return withApp(cmd, func(a *app) error {
				report := a.queue.Export()
				if asHTML {
					html, err := a.queue.ExportHTML()
					if err != nil {
						return err
					}
					report = html
				}
				if outPath == "" {
					fmt.Fprint(a.out, report)
					return nil
				}
				if err := os.WriteFile(outPath, []byte(report), 0644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(a.out, "Wrote review report to %s\n", outPath)
				return nil
			})
		},
	}
	cmd.Flags().Bool("html", false, "Render HTML instead of markdown")
	cmd.Flags().String("out", "", "Write the report to a file")
	return cmd
}

func newReviewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count review items by state and decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				s := a.queue.Stats()
				fmt.Fprintf(a.out, "Total:    %d\n", s.Total)
				fmt.Fprintf(a.out, "Pending:  %d\n", s.Pending)
				fmt.Fprintf(a.out, "Expired:  %d\n", s.Expired)
				fmt.Fprintf(a.out, "Reviewed: %d\n", s.Reviewed)
				for _, d := range []models.Decision{models.DecisionApprove, models.DecisionModify, models.DecisionReject, models.DecisionSkip} {
					if n := s.ByDecision[d]; n > 0 {
						fmt.Fprintf(a.out, "  %-8s %d\n", d, n)
					}
				}
				return nil
			})
		},
	}
}

func newReviewPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop expired items that were never decided",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				n := a.queue.PurgeExpired()
				fmt.Fprintf(a.out, "Purged %d expired items\n", n)
				return nil
			})
		},
	}
}

func formatParams(p models.Params) string {
	if len(p) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, k+"="+models.FormatValue(p[k]))
	}
	return strings.Join(parts, ", ")
}

func shortItemID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
