package iosched

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bfqcore/bfqd/internal/domain"
	"github.com/bfqcore/bfqd/internal/infra/metrics"
	"github.com/bfqcore/bfqd/internal/infra/trace"
)

// Scheduler is the device-wide scheduling state of spec.md §3 "Scheduler
// Data": the root group, the currently active queue and I/O context,
// device-wide counters, tunables, and the peak-rate/NCQ estimators. It
// implements domain.ElevatorOps, the driver-facing surface of spec.md §6.
//
// Scheduling model: single-threaded cooperative with respect to core state
// (spec.md §5) — every method here acquires mu before touching any of the
// core data structures, standing in for "the device's submission-queue
// lock held" of the original design.
type Scheduler struct {
	mu sync.Mutex

	root *Group

	queuesByPID map[string]*Queue
	ioCtxByPID  map[string]*Profile
	groups      map[string]*Group

	groupMapper domain.GroupMapper

	active       *Queue
	activeIOCtx  *Profile
	activeExpiry ExpireReason // pending forced-reclassification bookkeeping

	busyQueues      int
	queuedTotal     int
	rqInDriverSync  int
	rqInDriverAsync int
	syncFlight      int

	lastPosition      int64
	lastBudgetStart   time.Time
	lastIdlingStart   time.Time
	dispatchedThisAct int

	peakRate peakRateState

	budgetsAssigned int64

	tunables Tunables

	idleTimer *time.Timer

	now func() time.Time

	log *log.Logger

	journal *trace.Journal // optional; nil disables durable event recording
}

// ExpireReason is an alias kept local to iosched for readability; the
// canonical type lives in domain (spec.md §4.4/§4.5 reason taxonomy).
type ExpireReason = domain.ExpireReason

// NewScheduler constructs a Scheduler with a fresh root group and default
// tunables. mapper may be nil, in which case every producer is charged
// against the root group directly (spec.md §1: group mapping is external;
// this core ships only a flat default).
func NewScheduler(mapper domain.GroupMapper) *Scheduler {
	s := &Scheduler{
		root:        newGroup("root", nil),
		queuesByPID: make(map[string]*Queue),
		ioCtxByPID:  make(map[string]*Profile),
		groups:      make(map[string]*Group),
		groupMapper: mapper,
		tunables:    DefaultTunables(),
		now:         time.Now,
		log:         log.New(log.Writer(), "[iosched] ", log.LstdFlags),
	}
	return s
}

// Tunables returns a copy of the current tunable surface.
func (s *Scheduler) Tunables() Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunables
}

// SetTunables replaces the tunable surface wholesale (used by config
// reload, spec.md §6).
func (s *Scheduler) SetTunables(t Tunables) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunables = t
}

// systemMaxBudget resolves max_budget, honoring a user pin or falling back
// to the peak-rate estimator (spec.md §4.6, §6: "0 => auto").
func (s *Scheduler) systemMaxBudget() int64 {
	if s.tunables.UserMaxBudget != 0 {
		return s.tunables.UserMaxBudget
	}
	if s.tunables.MaxBudget != 0 {
		return s.tunables.MaxBudget
	}
	return s.peakRate.systemMaxBudgetFromPeakRate(s.tunables.TimeoutSync.Milliseconds())
}

// recomputeMaxBudgetFromPeakRate is the recompute callback Tunables.
// SetTimeoutSync invokes when in auto mode (spec.md §6).
func (s *Scheduler) recomputeMaxBudgetFromPeakRate() {
	s.tunables.MaxBudget = s.peakRate.systemMaxBudgetFromPeakRate(s.tunables.TimeoutSync.Milliseconds())
}

// groupFor resolves the Group a pid's requests are charged against.
func (s *Scheduler) groupFor(pid string) *Group {
	if s.groupMapper == nil {
		return s.root
	}
	name := s.groupMapper.GroupFor(pid)
	if name == "" || name == s.root.name {
		return s.root
	}
	// Flat containment: a named group is created once under root and
	// reused. Nested hierarchies are a GroupMapper concern this core does
	// not interpret (spec.md §1 "out of scope").
	if g, ok := s.groups[name]; ok {
		return g
	}
	g := newGroup(name, s.root)
	s.groups[name] = g
	return g
}

// queueFor returns (creating if necessary) the leaf queue for a producer's
// sync direction, applying group routing and default async-queue sharing
// (spec.md §3 "Lifecycle": "Leaf queues are created on first I/O from a
// producer in a group").
func (s *Scheduler) queueFor(pid string, sync bool, class domain.IOPrioClass, ioprio int) *Queue {
	if sync {
		if q, ok := s.queuesByPID[pid]; ok {
			return q
		}
		g := s.groupFor(pid)
		q := newQueue(s, pid, true, defaultBudget(s))
		q.ent.ioprioClass = class
		q.ent.ioprio = ioprio
		q.ent.weight = ioprioWeight(class, ioprio)
		q.ioCtx = s.ioContextFor(pid)
		g.addChild(q)
		s.queuesByPID[pid] = q
		return q
	}
	g := s.groupFor(pid)
	q := g.asyncQueueFor(s, class, ioprio)
	// Async queues are shared across every producer writing at this
	// (group, priority) pair (spec.md §3 "Group"), but pid-keyed lookups
	// (PutRequest, AllowMerge, QueueEmpty) need some queue to resolve to
	// for an async producer too, so every pid that has routed through a
	// shared async queue is registered against it as well.
	s.queuesByPID[pid] = q
	return q
}

// SetJournal attaches (or detaches, with nil) the durable dispatch-event
// journal (spec.md §6 "Observability"). Journal writes are best-effort: a
// write failure is logged but never blocks dispatch.
func (s *Scheduler) SetJournal(j *trace.Journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

// groupNameFor returns the name of the group a queue's entity reports up
// through, for metrics labeling.
func (s *Scheduler) groupNameFor(q *Queue) string {
	if q.ent.parent == nil {
		return s.root.name
	}
	return q.ent.parent.name
}

func (s *Scheduler) ioContextFor(pid string) *Profile {
	ctx, ok := s.ioCtxByPID[pid]
	if !ok {
		ctx = NewProfile(pid)
		s.ioCtxByPID[pid] = ctx
	}
	return ctx
}

// ─── domain.ElevatorOps ─────────────────────────────────────────────────────

// MergeLookup implements spec.md §6: find a request whose end-sector equals
// startSector in any queue.
func (s *Scheduler) MergeLookup(startSector int64) (*domain.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queuesByPID {
		for _, ent := range q.byID {
			if ent.req.EndSector() == startSector {
				return ent.req, true
			}
		}
	}
	return nil, false
}

// Merged implements spec.md §6: the survivor inherits the earlier FIFO
// deadline and is repositioned in its queue's sector tree.
func (s *Scheduler) Merged(survivor, absorbed *domain.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queuesByPID[survivor.PID]
	if !ok {
		return
	}
	se, sok := q.byID[survivor.ID]
	ae, aok := q.byID[absorbed.ID]
	if !sok {
		return
	}
	if aok && ae.deadline.Before(se.deadline) {
		se.deadline = ae.deadline
	}
	cfg := s.tunables.view()
	q.sortList.Remove(se.sortNode)
	se.req.Sector = survivor.Sector
	se.req.Sectors = survivor.Sectors
	se.sortNode = q.sortList.Insert(se)
	if aok {
		q.remove(cfg, s.now(), absorbed.ID)
	}
}

// AllowMerge implements spec.md §6: never a sync bio into an async request;
// only merge into the queue currently associated with the requesting task.
func (s *Scheduler) AllowMerge(pid string, req *domain.Request, bioSync bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bioSync && !req.Sync {
		return false
	}
	q, ok := s.queuesByPID[pid]
	if !ok {
		return false
	}
	_, exists := q.byID[req.ID]
	return exists
}

// Activate records that a request entered the driver (spec.md §6): updates
// rq_in_driver and last_position.
func (s *Scheduler) Activate(req domain.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Sync {
		s.rqInDriverSync++
	} else {
		s.rqInDriverAsync++
	}
	s.lastPosition = req.EndSector()
	s.peakRate.recordInDriverSample(s.rqInDriverSync+s.rqInDriverAsync, s.queuedTotal)
}

// Deactivate records that a request left the driver.
func (s *Scheduler) Deactivate(req domain.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Sync {
		if s.rqInDriverSync > 0 {
			s.rqInDriverSync--
		}
	} else if s.rqInDriverAsync > 0 {
		s.rqInDriverAsync--
	}
}

// QueueEmpty reports whether a producer's queue has no pending requests.
func (s *Scheduler) QueueEmpty(pid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queuesByPID[pid]
	if !ok {
		return true
	}
	return q.Queued() == 0
}

// Completed drops the sync in-flight count and records a think-time sample
// for the producer. Budget feedback and peak-rate sampling run at queue
// expiration (expireLocked), not here.
func (s *Scheduler) Completed(req domain.Request, servedAt, completedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Sync {
		if s.syncFlight > 0 {
			s.syncFlight--
		}
	}
	if ctx, ok := s.ioCtxByPID[req.PID]; ok {
		if completedAt > servedAt {
			sample := completedAt - servedAt
			ctx.RecordThinkTime(sample, 2*s.tunables.SliceIdle.Milliseconds())
		}
	}
}

// SetRequest allocates a queue reference for a newly admitted request
// (spec.md §6).
func (s *Scheduler) SetRequest(pid string, req *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ioprio := req.IOPrioClass, req.IOPrio
	q := s.queueFor(pid, req.Sync, class, ioprio)
	q.ref++
	s.queuedTotal++
	err := s.insertLocked(q, req)
	metrics.QueuedRequests.WithLabelValues(pid).Set(float64(q.Queued()))
	return err
}

// PutRequest releases the queue reference taken by SetRequest.
func (s *Scheduler) PutRequest(req *domain.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queuesByPID[req.PID]
	if !ok {
		return
	}
	if q.ref > 0 {
		q.ref--
	}
}

// MayQueue implements the back-pressure protocol of spec.md §6/§7: returns
// MustAlloc whenever the producer has no queue object yet, MayQueueOK
// otherwise.
func (s *Scheduler) MayQueue(pid string) domain.MayQueueHint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queuesByPID[pid]; !ok {
		return domain.MayQueueMustAlloc
	}
	return domain.MayQueueOK
}

// Submit implements domain.RequestSource, letting a workload producer push
// directly into the scheduler without going through a separate block-layer
// adapter (spec.md §1: the real block layer is out of scope, so this is the
// only submission path this repository ships).
func (s *Scheduler) Submit(ctx context.Context, req domain.Request) error {
	r := req
	return s.SetRequest(req.PID, &r)
}

// Dispatch implements spec.md §4.4 in full: select an active queue if
// needed, enforce budget/timeout, and run the bounded dispatch loop.
func (s *Scheduler) Dispatch(ctx context.Context) []domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.now()
	out := s.dispatchLocked()
	metrics.DispatchLatency.Observe(s.now().Sub(start).Seconds())
	return out
}
