package iosched

import (
	"container/list"
	"time"

	"github.com/bfqcore/bfqd/internal/domain"
	"github.com/bfqcore/bfqd/internal/infra/vtree"
)

// reqEntry wraps a domain.Request for storage in a Queue's sector-ordered
// tree and FIFO list, holding the handles needed for O(log N) sector removal
// and O(1) FIFO removal (spec.md §3: "sort_list ... fifo ... next_rq").
type reqEntry struct {
	req      *domain.Request
	deadline time.Time
	sortNode *vtree.Node
	fifoElem *list.Element
}

// Key/AugValue implement vtree.Item: entries are ordered in sort_list by
// starting sector (spec.md §3).
func (r *reqEntry) Key() int64      { return r.req.Sector }
func (r *reqEntry) AugValue() int64 { return r.req.Sector }

// Queue is a leaf Entity's payload: a per-producer request store ordered by
// sector, with FIFO deadline aging and a cached next-serve candidate
// (spec.md §3, §4.2).
type Queue struct {
	ent  *Entity
	bfqd *Scheduler
	pid  string

	sortList vtree.Tree
	fifo     *list.List // of *reqEntry, oldest at Front
	byID     map[string]*reqEntry
	nextRQ   *reqEntry

	queuedSync, queuedAsync int
	dispatched              int

	maxBudget     int64
	budgetTimeout time.Time

	busy             bool
	syncQueue        bool
	idleWindow       bool
	waitRequest      bool
	mustAlloc        bool
	budgetNew        bool
	fifoOverrideUsed bool // single FIFO-override consumed this activation
	prioChanged      bool
	metaPending      int

	ref int32

	ioCtx domain.IOContext
}

// newQueue creates an unattached leaf queue for the given producer.
func newQueue(bfqd *Scheduler, pid string, sync bool, defaultBudget int64) *Queue {
	q := &Queue{
		bfqd:      bfqd,
		pid:       pid,
		fifo:      list.New(),
		byID:      make(map[string]*reqEntry),
		syncQueue: sync,
		maxBudget: defaultBudget,
		ref:       1,
	}
	q.ent = &Entity{kind: kindQueue, leaf: q, weight: 1}
	return q
}

// Queued returns the total number of pending requests.
func (q *Queue) Queued() int { return q.queuedSync + q.queuedAsync }

// Busy reports whether the queue has been marked busy (has, or recently had,
// pending work this activation).
func (q *Queue) Busy() bool { return q.busy }

// NextRequest returns the cached next-to-serve candidate, or nil.
func (q *Queue) NextRequest() *domain.Request {
	if q.nextRQ == nil {
		return nil
	}
	return q.nextRQ.req
}

// fifoHead returns the oldest pending request entry, or nil.
func (q *Queue) fifoHead() *reqEntry {
	front := q.fifo.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*reqEntry)
}

// fifoExpired reports whether the FIFO head has passed its deadline and the
// queue has not already consumed its single FIFO-override this activation
// (spec.md §4.2: "FIFO aging").
func (q *Queue) fifoExpired(now time.Time) bool {
	if q.fifoOverrideUsed {
		return false
	}
	head := q.fifoHead()
	return head != nil && !now.Before(head.deadline)
}

// insert adds req to the queue's sort tree and FIFO list, updates next_rq
// via the head-biased chooser, and reports whether this is the queue's
// first pending request (busyChanged) and whether next_rq changed
// (nextChanged) — both drive activation decisions in insertLocked
// (spec.md §4.2 "Insertion"). alias is non-nil if this insertion aliases an
// existing request at the identical starting sector (spec.md §4.2 "Alias
// handling"); in that case the request is NOT inserted into the tree and
// the caller must dispatch it directly, bypassing the scheduler.
func (q *Queue) insert(cfg tunablesView, now time.Time, req *domain.Request) (busyChanged, nextChanged bool, alias *domain.Request) {
	var aliased *reqEntry
	q.sortList.Walk(func(it vtree.Item) {
		if e := it.(*reqEntry); e.req.Sector == req.Sector {
			aliased = e
		}
	})
	if aliased != nil {
		return false, false, aliased.req
	}

	fifoExpire := cfg.FIFOExpireAsync
	if req.Sync {
		fifoExpire = cfg.FIFOExpireSync
	}
	ent := &reqEntry{req: req, deadline: now.Add(fifoExpire)}
	ent.sortNode = q.sortList.Insert(ent)
	ent.fifoElem = q.fifo.PushBack(ent)
	q.byID[req.ID] = ent

	if req.Sync {
		q.queuedSync++
	} else {
		q.queuedAsync++
	}

	wasBusy := q.busy
	prevNext := q.nextRQ
	q.nextRQ = q.chooseNext(cfg, q.lastPosition(), now)
	nextChanged = q.nextRQ != prevNext

	if !wasBusy {
		q.busy = true
		busyChanged = true
	}
	return busyChanged, nextChanged, nil
}

// remove deletes the request with the given ID from the queue. Reports
// whether next_rq was the removed request (the caller must recompute
// activation state) and whether the queue became empty.
func (q *Queue) remove(cfg tunablesView, now time.Time, id string) (wasNextRQ, becameEmpty bool) {
	ent, ok := q.byID[id]
	if !ok {
		return false, false
	}
	delete(q.byID, id)
	q.sortList.Remove(ent.sortNode)
	q.fifo.Remove(ent.fifoElem)

	if ent.req.Sync {
		q.queuedSync--
	} else {
		q.queuedAsync--
	}

	wasNextRQ = q.nextRQ == ent
	if wasNextRQ {
		q.nextRQ = q.chooseNext(cfg, q.lastPosition(), now)
	}
	becameEmpty = q.Queued() == 0
	return wasNextRQ, becameEmpty
}

// lastPosition returns the scheduler's last-known head position, used by
// the chooser's seek-distance calculation (spec.md §4.3).
func (q *Queue) lastPosition() int64 {
	if q.bfqd == nil {
		return 0
	}
	return q.bfqd.lastPosition
}

// chooseNext picks the best next-to-serve candidate from the sector tree
// around the current queue head, honoring FIFO expiry first (spec.md §4.2:
// "check if the head of fifo has expired ... if so, serve that request
// next"). now is always the scheduler's injected clock, never time.Now(),
// so FIFO aging stays deterministic under a fake clock in tests.
func (q *Queue) chooseNext(cfg tunablesView, last int64, now time.Time) *reqEntry {
	if head := q.fifoHead(); head != nil && q.fifoExpired(now) {
		return head
	}
	return q.nearestBySector(cfg, last)
}

// nearestBySector finds the two sector-tree neighbours of `last` and applies
// the head-biased chooser (spec.md §4.3) to pick between them.
func (q *Queue) nearestBySector(cfg tunablesView, last int64) *reqEntry {
	if q.sortList.Empty() {
		return nil
	}

	// Walk the whole tree once to find the in-order predecessor/successor of
	// `last` by sector. The tree is small per queue (bounded by in-flight
	// requests for one producer) so a linear scan is acceptable and keeps
	// this function independent of EligibleFloor's vtime semantics, which
	// are specific to service trees, not sector trees.
	var before, after *reqEntry
	q.sortList.Walk(func(it vtree.Item) {
		e := it.(*reqEntry)
		if e.req.Sector <= last {
			if before == nil || e.req.Sector > before.req.Sector {
				before = e
			}
		} else {
			if after == nil || e.req.Sector < after.req.Sector {
				after = e
			}
		}
	})

	switch {
	case before == nil:
		return after
	case after == nil:
		return before
	default:
		return pickHeadBiased(cfg, last, before, after)
	}
}

// pickHeadBiased implements the total order of spec.md §4.3 between two
// candidate requests given the last-served sector.
func pickHeadBiased(cfg tunablesView, last int64, a, b *reqEntry) *reqEntry {
	if a.req.Sync != b.req.Sync {
		if a.req.Sync {
			return a
		}
		return b
	}
	if a.req.Meta != b.req.Meta {
		if a.req.Meta {
			return a
		}
		return b
	}

	da, wrapA := seekDistance(cfg, last, a.req.Sector)
	db, wrapB := seekDistance(cfg, last, b.req.Sector)

	switch {
	case !wrapA && !wrapB:
		if da != db {
			if da < db {
				return a
			}
			return b
		}
		if a.req.Sector > b.req.Sector {
			return a
		}
		return b
	case wrapA && !wrapB:
		return b
	case !wrapA && wrapB:
		return a
	default: // both wrap: pick the higher sector (shorter back seek)
		if a.req.Sector > b.req.Sector {
			return a
		}
		return b
	}
}

// seekDistance computes the signed forward distance from `last` to sector,
// applying the back-seek penalty, and reports whether the request "wraps"
// (is further behind last than back_max) per spec.md §4.3 step 3.
func seekDistance(cfg tunablesView, last, sector int64) (distance int64, wraps bool) {
	if sector >= last {
		return sector - last, false
	}
	back := last - sector
	if back <= cfg.BackSeekMaxSectors {
		return back * int64(cfg.BackSeekPenalty), false
	}
	return back, true
}
