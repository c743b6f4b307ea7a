// Package daemon wires the scheduler core and its ambient stack (config,
// workload driving, metrics, the trace journal) into a single runnable
// process, the way the teacher's daemon package wires its own services.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bfqcore/bfqd/internal/infra/iosched"
)

// Config holds everything needed to construct and run a Runner. It maps
// directly onto the `[bfq]`/`[workload]`/`[telemetry]`/`[trace]` TOML tables
// (SPEC_FULL.md §4.9/DOMAIN STACK).
type Config struct {
	BFQ       BFQConfig       `toml:"bfq"`
	Workload  WorkloadConfig  `toml:"workload"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Trace     TraceConfig     `toml:"trace"`
}

// BFQConfig mirrors iosched.Tunables at the config boundary. Durations are
// TOML strings ("125ms") parsed with time.ParseDuration, matching the
// teacher's NetworkConfig.HeartbeatInterval convention rather than relying
// on toml.Unmarshaler for time.Duration.
type BFQConfig struct {
	Quantum            int    `toml:"quantum"`
	FIFOExpireSync     string `toml:"fifo_expire_sync"`
	FIFOExpireAsync    string `toml:"fifo_expire_async"`
	BackSeekMaxSectors int64  `toml:"back_seek_max_sectors"`
	BackSeekPenalty    int    `toml:"back_seek_penalty"`
	SliceIdle          string `toml:"slice_idle"`
	MaxBudget          int64  `toml:"max_budget"` // 0 => auto (spec.md §6)
	MaxBudgetAsyncRQ   int    `toml:"max_budget_async_rq"`
	TimeoutSync        string `toml:"timeout_sync"`
	TimeoutAsync       string `toml:"timeout_async"`
	Desktop            bool   `toml:"desktop"`
}

// ToTunables converts the TOML-facing config into the iosched.Tunables the
// scheduler actually runs with, falling back to DefaultTunables for any
// duration field that fails to parse.
func (c BFQConfig) ToTunables() iosched.Tunables {
	t := iosched.DefaultTunables()
	t.Quantum = c.Quantum
	t.FIFOExpireSync = parseDuration(c.FIFOExpireSync, t.FIFOExpireSync)
	t.FIFOExpireAsync = parseDuration(c.FIFOExpireAsync, t.FIFOExpireAsync)
	if c.BackSeekMaxSectors != 0 {
		t.BackSeekMaxSectors = c.BackSeekMaxSectors
	}
	if c.BackSeekPenalty != 0 {
		t.BackSeekPenalty = c.BackSeekPenalty
	}
	t.SliceIdle = parseDuration(c.SliceIdle, t.SliceIdle)
	t.MaxBudget = c.MaxBudget
	t.UserMaxBudget = c.MaxBudget
	if c.MaxBudgetAsyncRQ != 0 {
		t.MaxBudgetAsyncRQ = c.MaxBudgetAsyncRQ
	}
	t.TimeoutSync = parseDuration(c.TimeoutSync, t.TimeoutSync)
	t.TimeoutAsync = parseDuration(c.TimeoutAsync, t.TimeoutAsync)
	t.Desktop = c.Desktop
	return t
}

// WorkloadConfig selects and parameterizes the workload/producer this
// process drives the scheduler with (SPEC_FULL.md §4.10). TraceFile, when
// set, takes precedence over the synthetic Pattern.
type WorkloadConfig struct {
	Pattern         string `toml:"pattern"` // "sequential" | "random" | "seeky"
	Seed            int64  `toml:"seed"`
	TransferSectors int64  `toml:"transfer_sectors"`
	DeviceSectors   int64  `toml:"device_sectors"`
	Interval        string `toml:"interval"`
	RequestCount    int    `toml:"request_count"`
	TraceFile       string `toml:"trace_file"`

	// ServiceRateSectorsPerMS drives the simulated device's service time for
	// each dispatched request (sectors / rate, floored at 1ms), the stand-in
	// a real block device's completion interrupt would otherwise provide
	// (SPEC_FULL.md §4.10). 0 falls back to DefaultServiceRateSectorsPerMS.
	ServiceRateSectorsPerMS int64 `toml:"service_rate_sectors_per_ms"`
}

// DefaultServiceRateSectorsPerMS is roughly 256 MB/s (512 sectors/ms at 512
// bytes/sector), a plausible SSD-class random-I/O rate for the synthetic
// completion model.
const DefaultServiceRateSectorsPerMS = 512

// TelemetryConfig controls the Prometheus /metrics listener.
type TelemetryConfig struct {
	Prometheus bool   `toml:"prometheus"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
}

// TraceConfig controls the SQLite dispatch-event journal.
type TraceConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// DefaultConfig returns the defaults this process starts from absent a
// config file on disk.
func DefaultConfig() Config {
	return Config{
		BFQ: BFQConfig{
			Quantum:            4,
			FIFOExpireSync:     "125ms",
			FIFOExpireAsync:    "250ms",
			BackSeekMaxSectors: 16 * 1024 * 2,
			BackSeekPenalty:    2,
			SliceIdle:          "8ms",
			MaxBudget:          0,
			MaxBudgetAsyncRQ:   250,
			TimeoutSync:        "125ms",
			TimeoutAsync:       "250ms",
			Desktop:            true,
		},
		Workload: WorkloadConfig{
			Pattern:                 "sequential",
			Seed:                    1,
			TransferSectors:         8,
			DeviceSectors:           1 << 24,
			Interval:                "1ms",
			RequestCount:            1000,
			ServiceRateSectorsPerMS: DefaultServiceRateSectorsPerMS,
		},
		Telemetry: TelemetryConfig{
			Prometheus: false,
			Host:       "127.0.0.1",
			Port:       9090,
		},
		Trace: TraceConfig{
			Enabled: false,
			Dir:     filepath.Join(bfqdHome(), "trace"),
		},
	}
}

// LoadConfig reads config from path (~/.bfqd/config.toml when path is empty),
// returning DefaultConfig when that file does not exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = filepath.Join(bfqdHome(), "config.toml")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path (or ~/.bfqd/config.toml when path is empty).
func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = filepath.Join(bfqdHome(), "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// bfqdHome returns the data directory this process persists under.
func bfqdHome() string {
	if env := os.Getenv("BFQD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bfqd")
}

// BfqdHome is exported for use by other packages (internal/cli).
func BfqdHome() string {
	return bfqdHome()
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
