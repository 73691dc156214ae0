package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for gatekeeper
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Confidence-gated multi-pass operation pipeline",
		Long: `Gatekeeper scores each requested operation before it touches the model,
executes only what it is confident about, and verifies every result.

Operations run in up to three passes with decreasing thresholds. What
remains uncertain goes to a human review queue, and every review decision
feeds back into future confidence.

State lives in the home directory (--home, $GATEKEEPER_HOME, or
./.gatekeeper), configured by config.yaml there.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("home", "", "Home directory for config and state (default: $GATEKEEPER_HOME or ./.gatekeeper)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewReviewCommand())
	cmd.AddCommand(NewLearningCommand())
	cmd.AddCommand(newMethodsCommand())

	return cmd
}

func newMethodsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the methods the catalog knows and their required parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				for _, m := range a.catalog.Methods() {
					fmt.Fprintf(a.out, "  %-16s %-40s requires: %s\n", m.Name, m.Description, joinOrNone(m.Required))
				}
				return nil
			})
		},
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
