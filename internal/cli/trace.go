package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bfqcore/bfqd/internal/daemon"
	"github.com/bfqcore/bfqd/internal/infra/trace"
)

func init() {
	traceCmd.Flags().StringVar(&traceDir, "dir", "", "Journal directory (defaults to config's trace.dir)")
	traceCmd.Flags().IntVar(&traceLimit, "limit", 20, "Number of recent dispatch events to show")
	rootCmd.AddCommand(traceCmd)
}

var (
	traceDir   string
	traceLimit int
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect the SQLite dispatch-event journal recorded by a previous run",
	RunE:  runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	dir := traceDir
	if dir == "" {
		cfg, err := daemon.LoadConfig("")
		if err != nil {
			return err
		}
		dir = cfg.Trace.Dir
	}

	j, err := trace.Open(dir)
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.RecentDispatches(traceLimit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No dispatch events recorded yet. Run with trace.enabled = true first.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DISPATCHED\tPID\tSECTOR\tSECTORS\tSYNC\tCLASS")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\t%s\n",
				time.Unix(0, ev.DispatchedAt).Format("15:04:05.000"),
				ev.PID, ev.Sector, ev.Sectors, ev.Sync, ev.IOPrioClass)
		}
		w.Flush()
		fmt.Println()
	}

	counts, err := j.ExpirationCountsByReason()
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println("Expirations by reason:")
		for reason, n := range counts {
			fmt.Printf("  %-24s %d\n", reason, n)
		}
	}

	return nil
}
