package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bfqcore/bfqd/internal/daemon"
)

func init() {
	tuneCmd.PersistentFlags().StringVar(&tuneConfigPath, "config", "", "Path to config.toml (defaults to ~/.bfqd/config.toml)")
	tuneCmd.AddCommand(tuneGetCmd, tuneSetCmd)
	rootCmd.AddCommand(tuneCmd)
}

var tuneConfigPath string

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Read or write the bfq tunable surface persisted in config.toml",
}

var tuneGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current tunable values",
	Args:  cobra.NoArgs,
	RunE:  runTuneGet,
}

var tuneSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set one tunable and persist it to config.toml",
	Args:  cobra.ExactArgs(2),
	RunE:  runTuneSet,
}

func runTuneGet(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(tuneConfigPath)
	if err != nil {
		return err
	}
	b := cfg.BFQ
	fmt.Printf("quantum             = %d\n", b.Quantum)
	fmt.Printf("fifo_expire_sync    = %s\n", b.FIFOExpireSync)
	fmt.Printf("fifo_expire_async   = %s\n", b.FIFOExpireAsync)
	fmt.Printf("back_seek_max_sectors = %d\n", b.BackSeekMaxSectors)
	fmt.Printf("back_seek_penalty   = %d\n", b.BackSeekPenalty)
	fmt.Printf("slice_idle          = %s\n", b.SliceIdle)
	fmt.Printf("max_budget          = %d%s\n", b.MaxBudget, autoSuffix(b.MaxBudget))
	fmt.Printf("max_budget_async_rq = %d\n", b.MaxBudgetAsyncRQ)
	fmt.Printf("timeout_sync        = %s\n", b.TimeoutSync)
	fmt.Printf("timeout_async       = %s\n", b.TimeoutAsync)
	fmt.Printf("desktop             = %t\n", b.Desktop)
	return nil
}

func autoSuffix(maxBudget int64) string {
	if maxBudget == 0 {
		return " (auto)"
	}
	return ""
}

// runTuneSet implements the elevator-level tunable write semantics of
// spec.md §6: setting max_budget = 0 switches back to auto.
func runTuneSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	cfg, err := daemon.LoadConfig(tuneConfigPath)
	if err != nil {
		return err
	}

	switch key {
	case "quantum":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse quantum: %w", err)
		}
		cfg.BFQ.Quantum = n
	case "fifo_expire_sync":
		cfg.BFQ.FIFOExpireSync = value
	case "fifo_expire_async":
		cfg.BFQ.FIFOExpireAsync = value
	case "back_seek_max_sectors":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse back_seek_max_sectors: %w", err)
		}
		cfg.BFQ.BackSeekMaxSectors = n
	case "back_seek_penalty":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse back_seek_penalty: %w", err)
		}
		cfg.BFQ.BackSeekPenalty = n
	case "slice_idle":
		cfg.BFQ.SliceIdle = value
	case "max_budget":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse max_budget: %w", err)
		}
		cfg.BFQ.MaxBudget = n
	case "max_budget_async_rq":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse max_budget_async_rq: %w", err)
		}
		cfg.BFQ.MaxBudgetAsyncRQ = n
	case "timeout_sync":
		cfg.BFQ.TimeoutSync = value
	case "timeout_async":
		cfg.BFQ.TimeoutAsync = value
	case "desktop":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse desktop: %w", err)
		}
		cfg.BFQ.Desktop = b
	default:
		return fmt.Errorf("unknown tunable %q", key)
	}

	if err := daemon.SaveConfig(cfg, tuneConfigPath); err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", key, value)
	return nil
}
