package iosched

import (
	"time"

	"github.com/bfqcore/bfqd/internal/domain"
	"github.com/bfqcore/bfqd/internal/infra/metrics"
)

// insertLocked implements spec.md §4.2 "Insertion": on add, insert into the
// queue's sector tree and FIFO, then either activate a newly-busy queue or
// resize and reactivate an already-busy, non-active queue whose next_rq
// changed. Must be called with s.mu held.
func (s *Scheduler) insertLocked(q *Queue, req *domain.Request) error {
	now := s.now()
	cfg := s.tunables.view()

	if q == s.active && s.idleTimer != nil {
		// Incoming request cancels the idle timer and kicks the parked
		// active queue (spec.md §4.4 "Idle arming").
		s.cancelIdleTimer()
	}

	busyChanged, nextChanged, alias := q.insert(cfg, now, req)
	if alias != nil {
		return domain.ErrAliasedRequest
	}

	switch {
	case busyChanged:
		s.applyPriorityBoostFor(q)
		q.ent.budget = budgetFor(q)
		activateEntity(q.ent)
	case nextChanged && q != s.active:
		// "Never resize the budget of the currently active queue — doing
		// so would break the WF2Q+ guarantees" (spec.md §4.2).
		s.applyPriorityBoostFor(q)
		q.ent.budget = budgetFor(q)
		activateEntity(q.ent)
	}
	return nil
}

// applyPriorityBoostFor stages a priority-boost change (spec.md §4.8) for q
// ahead of an activation or reactivation, reading the scheduler-wide
// fs-exclusive predicate (Tunables.FSExclusivePredicate, spec.md §9 Open
// Question (iii)). The staged change takes effect via commitPrioChange at
// the activation/reactivation that follows.
func (s *Scheduler) applyPriorityBoostFor(q *Queue) {
	applyPriorityBoost(q, s.tunables.FSExclusivePredicate())
}

// budgetFor computes max(queue.max_budget, next_rq.sectors), the activation
// budget rule of spec.md §4.2.
func budgetFor(q *Queue) int64 {
	budget := q.maxBudget
	if nrq := q.NextRequest(); nrq != nil && nrq.Sectors > budget {
		budget = nrq.Sectors
	}
	return budget
}

// maxDispatchFor implements spec.md §4.4 "Compute max_dispatch": quantum
// for sync queues, max_budget_async_rq for async queues, 1 for IDLE class.
func (s *Scheduler) maxDispatchFor(q *Queue) int {
	if q.ent.ioprioClass == domain.IOPrioClassIdle {
		return 1
	}
	if q.syncQueue {
		return s.tunables.Quantum
	}
	return s.tunables.MaxBudgetAsyncRQ
}

// anotherSyncQueueBusy reports whether some sync queue other than q has
// pending work, gating the async-dispatch-cap exception of spec.md §4.4.
func (s *Scheduler) anotherSyncQueueBusy(q *Queue) bool {
	for _, other := range s.queuesByPID {
		if other != q && other.syncQueue && other.Busy() && other.Queued() > 0 {
			return true
		}
	}
	return false
}

// extraDispatchStop implements the additional termination conditions of
// spec.md §4.4 beyond the plain max_dispatch count: an async queue capped
// while sync queues are busy, and a sync queue paused while an async queue
// is in flight and the sync queue is using its idle window.
func (s *Scheduler) extraDispatchStop(q *Queue) bool {
	if q.syncQueue {
		return s.rqInDriverAsync > 0 && q.idleWindow
	}
	return s.dispatchedThisAct >= s.tunables.MaxBudgetAsyncRQ && s.anotherSyncQueueBusy(q)
}

// idleDuration returns slice_idle, shortened to BFQ_MIN_TT if the queue's
// producer is classified seeky (spec.md §4.4 "Idle arming").
func (s *Scheduler) idleDuration(q *Queue) time.Duration {
	if prof, ok := q.ioCtx.(*Profile); ok && prof.IsSeeky() {
		return minTTMillis * time.Millisecond
	}
	return s.tunables.SliceIdle
}

func (s *Scheduler) armIdleTimer(q *Queue, d time.Duration) {
	metrics.IdleWindowsArmed.WithLabelValues(s.groupNameFor(q)).Inc()
	s.idleTimer = time.AfterFunc(d, func() { s.fireIdleTimer(q) })
}

func (s *Scheduler) cancelIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// fireIdleTimer is the timer callback. It must tolerate active_queue having
// been replaced or cleared since the timer was armed (spec.md §5): in that
// case it simply returns without further action, deferring to whatever
// reselection already happened.
func (s *Scheduler) fireIdleTimer(q *Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != q {
		return
	}
	now := s.now()
	reason := domain.ExpireTooIdle
	if !q.budgetTimeout.IsZero() && !now.Before(q.budgetTimeout) {
		reason = domain.ExpireBudgetTimeout
	}
	s.expireLocked(q, reason, now)
}

// armActive makes q the device's active queue, arming its wall-clock
// budget timeout (spec.md §3 "budget_timeout", §4.4).
func (s *Scheduler) armActive(q *Queue, now time.Time) {
	s.active = q
	if ctx, ok := s.ioCtxByPID[q.pid]; ok {
		s.activeIOCtx = ctx
		ctx.Pin()
	}
	s.dispatchedThisAct = 0
	s.lastBudgetStart = now
	timeout := s.tunables.TimeoutAsync
	if q.syncQueue {
		timeout = s.tunables.TimeoutSync
	}
	q.budgetTimeout = now.Add(timeout)
	metrics.BudgetGranted.Observe(float64(q.ent.budget))
}

// selectActiveQueue implements spec.md §4.4 "Select active queue": pick one
// if none is active, enforce the budget timeout and exhaustion checks, and
// decide whether to park the active queue for anticipation or expire it and
// pick anew. Returns nil when nothing is presently dispatchable (either the
// hierarchy is empty, or the active queue is parked awaiting its idle
// window).
func (s *Scheduler) selectActiveQueue(now time.Time) *Queue {
	guard := len(s.queuesByPID) + 1
	for i := 0; i < guard; i++ {
		if s.active == nil {
			q := selectLeaf(s.root)
			if q == nil {
				return nil
			}
			s.armActive(q, now)
			return q
		}

		q := s.active
		if !q.budgetTimeout.IsZero() && !now.Before(q.budgetTimeout) {
			s.expireLocked(q, domain.ExpireBudgetTimeout, now)
			continue
		}

		cfg := s.tunables.view()
		nrq := q.chooseNext(cfg, q.lastPosition(), now)
		if nrq == nil {
			elig := idleWindowEligible(q, &s.tunables, s.peakRate.hwTag)
			q.idleWindow = elig
			if elig {
				if s.idleTimer == nil {
					s.armIdleTimer(q, s.idleDuration(q))
				}
				return nil
			}
			s.expireLocked(q, domain.ExpireNoMoreRequests, now)
			continue
		}

		remaining := q.ent.budget - q.ent.service
		if nrq.req.Sectors > remaining {
			s.expireLocked(q, domain.ExpireBudgetExhausted, now)
			continue
		}
		return q
	}
	return nil
}

// expireLocked implements spec.md §4.4/§4.5: run the seeky-reclassification
// check, adjust the queue's learned budget, feed the peak-rate estimator,
// move the entity off the active tree, prune the idle tree, and either
// reactivate the queue (it still has pending work) or fully deactivate it.
func (s *Scheduler) expireLocked(q *Queue, reason domain.ExpireReason, now time.Time) {
	s.cancelIdleTimer()

	elapsedUsec := now.Sub(s.lastBudgetStart).Microseconds()
	timeout := s.tunables.TimeoutAsync
	if q.syncQueue {
		timeout = s.tunables.TimeoutSync
	}
	reason, reclassified := reclassifyIfSeeky(q, reason, q.ent.service, elapsedUsec, timeout.Microseconds())
	adjustBudget(s, q, reason)

	if q.syncQueue {
		if sampled := s.peakRate.recordDispatchSample(q.ent.service, elapsedUsec); sampled && s.tunables.UserMaxBudget == 0 {
			s.recomputeMaxBudgetFromPeakRate()
		}
		metrics.PeakRate.Set(float64(s.peakRate.peakRate))
		if s.peakRate.hwTagDecided {
			hw := 0.0
			if s.peakRate.hwTag {
				hw = 1.0
			}
			metrics.HWTagDetected.Set(hw)
		}
	}
	metrics.SystemMaxBudget.Set(float64(s.systemMaxBudget()))

	metrics.QueueExpirations.WithLabelValues(reason.String()).Inc()
	if s.journal != nil {
		if err := s.journal.RecordExpiration(q.pid, reason, q.ent.service, q.ent.budget, now.UnixNano()); err != nil {
			s.log.Printf("journal: record expiration: %v", err)
		}
	}

	tree := q.ent.parent.Tree(q.ent.ioprioClass)
	tree.Expire(q.ent, reclassified)
	tree.PruneIdle()

	q.budgetTimeout = time.Time{}
	q.fifoOverrideUsed = false
	q.idleWindow = false

	if s.activeIOCtx != nil && q == s.active {
		s.activeIOCtx.Unpin()
		s.activeIOCtx = nil
	}
	if q == s.active {
		s.active = nil
	}

	if q.Queued() > 0 {
		s.applyPriorityBoostFor(q)
		commitPrioChange(q.ent)
		q.ent.budget = budgetFor(q)
		tree.Reactivate(q.ent)
	} else {
		deactivateEntity(q.ent)
		q.busy = false
	}
}

// pickRequestLocked implements spec.md §4.4 dispatch-loop step 1: "FIFO-
// expired head if eligible, else next_rq", recomputed fresh each round
// (spec.md §4.2 "FIFO aging": "on each service round, before picking
// next_rq, check if the head of fifo has expired").
func (s *Scheduler) pickRequestLocked(q *Queue, now time.Time) *domain.Request {
	cfg := s.tunables.view()
	ent := q.chooseNext(cfg, q.lastPosition(), now)
	if ent == nil {
		return nil
	}
	return ent.req
}

// dispatchOneLocked implements spec.md §4.4 dispatch-loop steps 2-4: move
// the request to the driver's dispatch list, charge service up the
// ancestor chain, and update the round-local and device-wide counters.
func (s *Scheduler) dispatchOneLocked(q *Queue, req *domain.Request, now time.Time) {
	cfg := s.tunables.view()
	s.queuedTotal--
	q.remove(cfg, now, req.ID)

	req.DispatchedAt = now
	chargeUp(q.ent, req.Sectors)

	s.dispatchedThisAct++
	q.dispatched++
	if req.Sync {
		s.syncFlight++
	}
	recordDispatchMetrics(q, req)
	metrics.QueuedRequests.WithLabelValues(q.pid).Set(float64(q.Queued()))
	if s.journal != nil {
		if err := s.journal.RecordDispatch(*req); err != nil {
			s.log.Printf("journal: record dispatch: %v", err)
		}
	}
}

// recordDispatchMetrics feeds one dispatched request into the Prometheus
// counters (spec.md §6 "Observability").
func recordDispatchMetrics(q *Queue, req *domain.Request) {
	direction := "async"
	if req.Sync {
		direction = "sync"
	}
	class := q.ent.ioprioClass.String()
	metrics.RequestsDispatched.WithLabelValues(class, direction).Inc()
	metrics.SectorsDispatched.WithLabelValues(class, direction).Add(float64(req.Sectors))
}

// dispatchLocked implements the whole of spec.md §4.4: repeatedly select an
// active queue, bound its service by budget/timeout, and dispatch requests
// up to max_dispatch, expiring and reselecting as needed. The loop is
// bounded by the number of requests pending at call time — it can never
// dispatch more than that, so the bound is not an arbitrary cap.
func (s *Scheduler) dispatchLocked() []domain.Request {
	now := s.now()
	var out []domain.Request
	guard := s.queuedTotal + 1

	for len(out) < guard {
		q := s.selectActiveQueue(now)
		if q == nil {
			return out
		}

		req := s.pickRequestLocked(q, now)
		if req == nil {
			return out
		}

		remaining := q.ent.budget - q.ent.service
		if req.Sectors > remaining {
			s.expireLocked(q, domain.ExpireBudgetExhausted, now)
			continue
		}

		s.dispatchOneLocked(q, req, now)
		out = append(out, *req)

		if s.dispatchedThisAct >= s.maxDispatchFor(q) {
			return out
		}
		if s.extraDispatchStop(q) {
			return out
		}
	}
	return out
}

// ForceDrain implements spec.md §4.4 "Forced dispatch": on barrier or
// scheduler swap, expire the active queue, then flush every busy queue's
// requests to the driver regardless of budget, reset max_budget to the
// default, and prune every class's idle tree.
func (s *Scheduler) ForceDrain() []domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.active != nil {
		s.expireLocked(s.active, domain.ExpireNoMoreRequests, now)
	}

	var out []domain.Request
	for _, q := range s.queuesByPID {
		for q.Queued() > 0 {
			req := s.pickRequestLocked(q, now)
			if req == nil {
				break
			}
			cfg := s.tunables.view()
			s.queuedTotal--
			q.remove(cfg, now, req.ID)
			req.DispatchedAt = now
			chargeUp(q.ent, req.Sectors)
			q.dispatched++
			if req.Sync {
				s.syncFlight++
			}
			out = append(out, *req)
		}
		q.maxBudget = defaultBudget(s)
		if q.Queued() == 0 && q.ent.onST {
			deactivateEntity(q.ent)
			q.busy = false
		}
	}

	for class := domain.IOPrioClass(0); int(class) < domain.NumClasses; class++ {
		s.root.Tree(class).PruneIdle()
		for _, g := range s.groups {
			g.Tree(class).PruneIdle()
		}
	}
	return out
}
