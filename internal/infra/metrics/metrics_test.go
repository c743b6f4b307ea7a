package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestDispatchCounters(t *testing.T) {
	RequestsDispatched.WithLabelValues("BE", "sync").Inc()
	SectorsDispatched.WithLabelValues("BE", "sync").Add(8)
	DispatchLatency.Observe(0.0002)
	QueueExpirations.WithLabelValues("BUDGET_TIMEOUT").Inc()

	names := gatheredNames(t)
	expected := []string{
		"bfqd_requests_dispatched_total",
		"bfqd_sectors_dispatched_total",
		"bfqd_dispatch_latency_seconds",
		"bfqd_queue_expirations_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestBudgetMetrics(t *testing.T) {
	BudgetGranted.Observe(4096)
	BudgetsAssigned.Inc()
	SystemMaxBudget.Set(32768)

	names := gatheredNames(t)
	expected := []string{
		"bfqd_budget_granted_sectors",
		"bfqd_budgets_assigned_total",
		"bfqd_system_max_budget_sectors",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestPeakRateMetrics(t *testing.T) {
	PeakRate.Set(123456)
	HWTagDetected.Set(1)

	names := gatheredNames(t)
	if !names["bfqd_peak_rate_raw"] {
		t.Error("bfqd_peak_rate_raw not found")
	}
	if !names["bfqd_hw_tag_detected"] {
		t.Error("bfqd_hw_tag_detected not found")
	}
}

func TestHierarchyOccupancyMetrics(t *testing.T) {
	BusyQueues.WithLabelValues("root").Set(3)
	QueuedRequests.WithLabelValues("reader").Set(5)
	IdleWindowsArmed.WithLabelValues("root").Inc()
	PriorityBoosts.Inc()

	names := gatheredNames(t)
	expected := []string{
		"bfqd_busy_queues",
		"bfqd_queued_requests",
		"bfqd_idle_windows_armed_total",
		"bfqd_priority_boosts_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	names := gatheredNames(t)
	bfqdMetrics := 0
	for name := range names {
		if len(name) > 5 && name[:5] == "bfqd_" {
			bfqdMetrics++
		}
	}
	if bfqdMetrics < 12 {
		t.Errorf("expected at least 12 bfqd_ metrics, got %d", bfqdMetrics)
	}
}
