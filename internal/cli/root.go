// Package cli implements the bfqd command-line interface using Cobra.
// Each subcommand maps to one capability of the scheduler core: running a
// workload against it, reading/writing its tunable surface, and inspecting
// dispatch history.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bfqd",
	Short: "bfqd — a proportional-share block I/O scheduler",
	Long: `bfqd runs a hierarchical, budget-driven block I/O scheduler core
against a synthetic or trace-file workload, exposes its tunable surface,
and records a replayable journal of dispatch decisions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
