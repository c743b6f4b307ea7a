package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Allocation / back-pressure errors (spec.md §7)
	ErrQueueAllocFailed = errors.New("queue allocation failed — retry after unplug")
	ErrIOContextGone    = errors.New("io context no longer registered")
	ErrMustAlloc        = errors.New("producer promised a slice but has not yet allocated")

	// Priority parsing
	ErrPriorityParseFailed = errors.New("priority parse failed — falling back to nice-derived priority")

	// Invariant violations — fatal in debug builds, recoverable in production (§7)
	ErrEntityWrongTree     = errors.New("entity on wrong service tree")
	ErrDanglingRef         = errors.New("dangling queue reference")
	ErrNoActiveQueue       = errors.New("dispatch requested with no active queue")
	ErrTimerWithNoSchedule = errors.New("idle timer fired with no scheduler state")

	// Queue / request lifecycle
	ErrQueueNotFound   = errors.New("queue not found")
	ErrRequestNotFound = errors.New("request not found in queue")
	ErrAliasedRequest  = errors.New("request aliases an existing request at the same sector")

	// Tunable surface (spec.md §6)
	ErrInvalidTunable = errors.New("invalid tunable value")
)
