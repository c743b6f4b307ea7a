package domain

import "context"

// ─── Boundary Interfaces ────────────────────────────────────────────────────
// These interfaces define the edge of the scheduler core (spec.md §6).
// Infrastructure on the other side — the real block layer, a per-task
// I/O context, and control-group membership — is out of scope (spec.md §1);
// the core depends only on these boundaries.

// RequestSource is anything that can submit requests to the scheduler,
// standing in for block-layer request submission. Workload producers
// (internal/infra/workload) implement this; a real driver adapter would too.
type RequestSource interface {
	// Submit hands a request to the scheduler for insertion (spec.md §4.2).
	Submit(ctx context.Context, req Request) error
}

// ElevatorOps is the driver-facing surface a block-layer elevator would call
// (spec.md §6). iosched.Scheduler implements it.
type ElevatorOps interface {
	// MergeLookup finds a mergeable request by end-sector equal to the
	// given start sector, in any queue. Returns ok=false if none found.
	MergeLookup(startSector int64) (req *Request, ok bool)

	// Merged notifies the scheduler that two requests were merged;
	// the survivor inherits the earlier FIFO deadline and is repositioned
	// in its queue's sector tree.
	Merged(survivor, absorbed *Request)

	// AllowMerge reports whether a bio may merge into an in-flight request:
	// never a sync bio into an async request, and only into the queue
	// currently associated with the requesting producer.
	AllowMerge(pid string, req *Request, bioSync bool) bool

	// Dispatch selects and returns up to maxDispatch requests to hand to
	// the driver (spec.md §4.4). Returns an empty slice, not an error,
	// when nothing is eligible yet.
	Dispatch(ctx context.Context) []Request

	// Activate records that a request entered the driver: updates
	// rq_in_driver and last_position (spec.md §3, §6).
	Activate(req Request)

	// Deactivate records that a request left the driver.
	Deactivate(req Request)

	// QueueEmpty reports whether a producer's queue currently has no
	// pending requests.
	QueueEmpty(pid string) bool

	// Completed notifies the scheduler a request finished, feeding the
	// producer's think-time estimator (spec.md §4.7).
	Completed(req Request, servedAt, completedAt int64)

	// SetRequest allocates a queue reference for a newly admitted
	// request; PutRequest releases it.
	SetRequest(pid string, req *Request) error
	PutRequest(req *Request)

	// MayQueue is the back-pressure signal: returns MustAlloc when the
	// producer has been promised a slice but has not yet allocated.
	MayQueue(pid string) MayQueueHint
}

// MayQueueHint is the result of the may-queue back-pressure protocol
// (spec.md §6, §7).
type MayQueueHint int

const (
	MayQueueOK MayQueueHint = iota
	MayQueueMustAlloc
)

// IOContext is per-producer state: think-time / seek-distance estimators,
// live-task tracking, and the fs-exclusive flag that drives priority boost
// (spec.md §4.7, §4.8). Modeled as an injected interface per spec.md §9,
// Open Question (iii) — never a package-global flag.
type IOContext interface {
	// PID identifies the owning producer.
	PID() string

	// RecordThinkTime folds a new think-time sample (now - last completion)
	// into the EWMA (spec.md §4.7).
	RecordThinkTime(sample int64, sliceIdleCap int64)

	// RecordSeekDistance folds a new |new_pos - last_pos| sample into the
	// seek EWMA (spec.md §4.7, and Open Question (i): a zero-sample seek
	// at a non-zero offset is distance 0, not a seek).
	RecordSeekDistance(distance int64)

	// ThinkTimeMean returns the mean think time (total/samples).
	ThinkTimeMean() int64

	// IsSeeky reports whether the mean seek distance exceeds the seeky
	// threshold (8 KiB, spec.md §4.7).
	IsSeeky() bool

	// HasLiveTasks reports whether the owning producer still has live
	// tasks (gates idle-window eligibility, spec.md §4.7).
	HasLiveTasks() bool

	// FSExclusive reports whether the producer currently holds
	// filesystem-exclusive resources (spec.md §4.8).
	FSExclusive() bool
}

// GroupMapper maps a producer to its containment-hierarchy Group. Real
// control-group integration is out of scope (spec.md §1); this core ships
// only a flat default-group mapper.
type GroupMapper interface {
	// GroupFor returns the hierarchy node a producer's requests should be
	// charged against.
	GroupFor(pid string) string
}
