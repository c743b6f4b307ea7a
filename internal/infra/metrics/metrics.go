// Package metrics provides Prometheus metrics for the scheduler daemon:
// counters, gauges, and histograms for dispatch, budgets, the peak-rate
// estimator, and hierarchy occupancy (spec.md §6 "Observability").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Dispatch ───────────────────────────────────────────────────────────────

// RequestsDispatched tracks dispatched requests by class and direction.
var RequestsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bfqd",
	Name:      "requests_dispatched_total",
	Help:      "Total requests dispatched, by I/O priority class and direction.",
}, []string{"class", "direction"})

// SectorsDispatched tracks sectors served by class and direction.
var SectorsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bfqd",
	Name:      "sectors_dispatched_total",
	Help:      "Total sectors dispatched, by I/O priority class and direction.",
}, []string{"class", "direction"})

// DispatchLatency tracks the time spent inside one Dispatch call.
var DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "bfqd",
	Name:      "dispatch_latency_seconds",
	Help:      "Wall time spent selecting and draining the dispatch loop.",
	Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
})

// QueueExpirations tracks queue expirations by reason.
var QueueExpirations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bfqd",
	Name:      "queue_expirations_total",
	Help:      "Total active-queue expirations by reason (TOO_IDLE, BUDGET_TIMEOUT, BUDGET_EXHAUSTED, NO_MORE_REQUESTS).",
}, []string{"reason"})

// ─── Budgets ────────────────────────────────────────────────────────────────

// BudgetGranted tracks the budget, in sectors, granted at each activation.
var BudgetGranted = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "bfqd",
	Name:      "budget_granted_sectors",
	Help:      "Budget in sectors granted to a queue at activation.",
	Buckets:   prometheus.ExponentialBuckets(64, 2, 12),
})

// BudgetsAssigned tracks the running count of sync-budget assignments (feeds
// the minBudgetsBeforeTrust gate).
var BudgetsAssigned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bfqd",
	Name:      "budgets_assigned_total",
	Help:      "Total sync-queue budget assignments since startup.",
})

// SystemMaxBudget tracks the currently resolved system_max_budget, in
// sectors.
var SystemMaxBudget = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "bfqd",
	Name:      "system_max_budget_sectors",
	Help:      "Currently resolved system_max_budget in sectors.",
})

// ─── Peak rate / NCQ ────────────────────────────────────────────────────────

// PeakRate tracks the estimated device bandwidth, in sectors/usec scaled by
// VTimeScale.
var PeakRate = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "bfqd",
	Name:      "peak_rate_raw",
	Help:      "Estimated device bandwidth, fixed-point sectors/usec.",
})

// HWTagDetected reports whether the device has been classified as NCQ-capable
// (1) or not (0); unset until hw_tag_decided.
var HWTagDetected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "bfqd",
	Name:      "hw_tag_detected",
	Help:      "1 if the device was classified NCQ-capable, 0 otherwise.",
})

// ─── Hierarchy occupancy ────────────────────────────────────────────────────

// BusyQueues tracks the number of currently active leaf/group entities per
// group.
var BusyQueues = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "bfqd",
	Name:      "busy_queues",
	Help:      "Number of busy descendants currently tracked per group.",
}, []string{"group"})

// QueuedRequests tracks requests currently pending per producer queue.
var QueuedRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "bfqd",
	Name:      "queued_requests",
	Help:      "Requests currently pending, per producer pid.",
}, []string{"pid"})

// IdleWindowsArmed tracks anticipatory idle-window timers armed, by group.
var IdleWindowsArmed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bfqd",
	Name:      "idle_windows_armed_total",
	Help:      "Total anticipatory idle-window timers armed.",
}, []string{"group"})

// PriorityBoosts tracks fs-exclusive priority boosts applied to IDLE-class
// queues.
var PriorityBoosts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bfqd",
	Name:      "priority_boosts_total",
	Help:      "Total fs-exclusive priority boosts applied to IDLE-class queues.",
})
