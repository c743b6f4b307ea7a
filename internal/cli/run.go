package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bfqcore/bfqd/internal/daemon"
)

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to config.toml (defaults to ~/.bfqd/config.toml)")
	runCmd.Flags().StringVar(&runPattern, "pattern", "", "Synthetic workload pattern: sequential, random, seeky (overrides config)")
	runCmd.Flags().IntVar(&runCount, "count", 0, "Number of requests to submit before stopping (overrides config)")
	runCmd.Flags().StringVar(&runTraceFile, "trace-file", "", "CSV trace file to replay instead of the synthetic generator")
	runCmd.Flags().BoolVar(&runPrometheus, "metrics", false, "Serve Prometheus /metrics")
	rootCmd.AddCommand(runCmd)
}

var (
	runConfigPath string
	runPattern    string
	runCount      int
	runTraceFile  string
	runPrometheus bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler against a workload until the process is stopped",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(runConfigPath)
	if err != nil {
		return err
	}
	if runPattern != "" {
		cfg.Workload.Pattern = runPattern
	}
	if runCount > 0 {
		cfg.Workload.RequestCount = runCount
	}
	if runTraceFile != "" {
		cfg.Workload.TraceFile = runTraceFile
	}
	if runPrometheus {
		cfg.Telemetry.Prometheus = true
	}

	r, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	return r.Serve(context.Background())
}
