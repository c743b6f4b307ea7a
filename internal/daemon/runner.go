package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bfqcore/bfqd/internal/domain"
	"github.com/bfqcore/bfqd/internal/infra/iosched"
	"github.com/bfqcore/bfqd/internal/infra/trace"
	"github.com/bfqcore/bfqd/internal/infra/workload"
)

// Runner is the bfqd process: a Scheduler, its optional event journal, the
// workload producer driving it, and an optional Prometheus listener. It
// plays the role the teacher's Daemon plays — New/NewWithConfig/Serve/Close
// — generalized to this repository's much smaller service surface.
type Runner struct {
	Config    Config
	Scheduler *iosched.Scheduler
	Journal   *trace.Journal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Runner from config on disk (or defaults).
func New() (*Runner, error) {
	cfg, err := LoadConfig("")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Runner from an already-resolved Config.
func NewWithConfig(cfg Config) (*Runner, error) {
	sched := iosched.NewScheduler(nil)
	sched.SetTunables(cfg.BFQ.ToTunables())

	r := &Runner{Config: cfg, Scheduler: sched}

	if cfg.Trace.Enabled {
		j, err := trace.Open(cfg.Trace.Dir)
		if err != nil {
			return nil, fmt.Errorf("open trace journal: %w", err)
		}
		r.Journal = j
		sched.SetJournal(j)
	}

	return r, nil
}

// Serve drives the configured workload against the scheduler and, if
// enabled, serves Prometheus metrics, until ctx is cancelled or the process
// receives SIGINT/SIGTERM. It blocks until shutdown completes.
func (r *Runner) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	var httpServer *http.Server
	if r.Config.Telemetry.Prometheus {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf("%s:%d", r.Config.Telemetry.Host, r.Config.Telemetry.Port)
		httpServer = &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[daemon] metrics server error: %v", err)
			}
		}()
		fmt.Printf("bfqd metrics on http://%s/metrics\n", addr)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.runWorkload(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[daemon] workload producer stopped: %v", err)
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.dispatchLoop(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	cancel()
	r.wg.Wait()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if r.Journal != nil {
		_ = r.Journal.Close()
	}
	return nil
}

// RunWorkloadToCompletion drives the configured workload into the scheduler
// until it is exhausted or ctx is done, without starting the metrics
// listener or signal handling Serve sets up. Used by the `stats` CLI
// subcommand for a bounded, one-shot run.
func (r *Runner) RunWorkloadToCompletion(ctx context.Context) error {
	return r.runWorkload(ctx)
}

// runWorkload drives either the configured trace file or the synthetic
// generator against the scheduler (SPEC_FULL.md §4.10).
func (r *Runner) runWorkload(ctx context.Context) error {
	wc := r.Config.Workload
	if wc.TraceFile != "" {
		tf, err := workload.LoadTraceFile(wc.TraceFile)
		if err != nil {
			return fmt.Errorf("load trace file: %w", err)
		}
		return tf.Run(ctx, r.Scheduler)
	}

	p := workload.NewSyntheticProducer("bfqd-synthetic", patternFromString(wc.Pattern), wc.Seed)
	if wc.TransferSectors != 0 {
		p.TransferSectors = wc.TransferSectors
	}
	if wc.DeviceSectors != 0 {
		p.DeviceSectors = wc.DeviceSectors
	}
	if d := parseDuration(wc.Interval, 0); d != 0 {
		p.Interval = d
	}
	count := wc.RequestCount
	if count <= 0 {
		count = 1000
	}
	return p.Run(ctx, r.Scheduler, count)
}

func patternFromString(s string) workload.AccessPattern {
	switch s {
	case "random":
		return workload.PatternRandom
	case "seeky":
		return workload.PatternSeeky
	default:
		return workload.PatternSequential
	}
}

// dispatchLoop periodically drains the scheduler, standing in for the real
// block layer's unplug/dispatch work item (spec.md §5), and feeds every
// dispatched request through the simulated-device completion model so
// Activate/Deactivate/Completed (spec.md §4.6/§4.7) get a real caller.
func (r *Runner) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SimulateCompletions(ctx, r.Scheduler.Dispatch(ctx))
		}
	}
}

// SimulateCompletions stands in for the real block device's completion
// interrupt (SPEC_FULL.md §4.10): it immediately calls Activate for every
// just-dispatched request, then after a sectors-per-millisecond service
// delay calls Deactivate and Completed, feeding the NCQ and think-time
// estimators the way a real driver's IRQ handler would. Shared
// by the background dispatch loop and the `stats` CLI's bounded run so
// both exercise the same completion path. Exported for internal/cli.
func (r *Runner) SimulateCompletions(ctx context.Context, reqs []domain.Request) {
	if len(reqs) == 0 {
		return
	}
	rate := r.Config.Workload.ServiceRateSectorsPerMS
	if rate <= 0 {
		rate = DefaultServiceRateSectorsPerMS
	}
	for _, req := range reqs {
		r.Scheduler.Activate(req)
		r.wg.Add(1)
		go r.simulateCompletion(ctx, req, rate)
	}
}

func (r *Runner) simulateCompletion(ctx context.Context, req domain.Request, ratePerMS int64) {
	defer r.wg.Done()
	select {
	case <-ctx.Done():
		r.Scheduler.Deactivate(req)
		return
	case <-time.After(serviceDuration(req, ratePerMS)):
	}
	completedAt := time.Now()
	r.Scheduler.Deactivate(req)
	servedAt := req.DispatchedAt
	if servedAt.IsZero() {
		servedAt = completedAt
	}
	r.Scheduler.Completed(req, servedAt.UnixMilli(), completedAt.UnixMilli())
}

// serviceDuration is a trivial sectors-per-millisecond service-time model
// standing in for a real device's transfer latency.
func serviceDuration(req domain.Request, ratePerMS int64) time.Duration {
	if ratePerMS <= 0 {
		ratePerMS = 1
	}
	ms := req.Sectors / ratePerMS
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// Close cancels the Runner and releases the journal, without waiting for
// Serve's own signal-driven shutdown path. Safe to call even if Serve was
// never started.
func (r *Runner) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.Journal != nil {
		_ = r.Journal.Close()
	}
}
