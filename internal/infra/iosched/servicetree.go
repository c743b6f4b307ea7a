package iosched

import "github.com/bfqcore/bfqd/internal/infra/vtree"

// ServiceTree holds one I/O priority class's worth of scheduling state for a
// single Group: the active and idle augmented RB-trees keyed by finish time,
// and the class's virtual clock (spec.md §3, §4.1).
type ServiceTree struct {
	active vtree.Tree
	idle   vtree.Tree
	vtime  int64
}

// VTime returns the class's current virtual time.
func (st *ServiceTree) VTime() int64 { return st.vtime }

// Activate inserts e into the active tree, computing its start from
// max(e.finish, st.vtime) and its finish from start + budget/weight (spec.md
// §4.1: "start is set to max(prev_finish, class_vtime) on (re)activation").
func (st *ServiceTree) Activate(e *Entity) {
	if e.treeState != treeNone {
		st.detach(e)
	}
	prevFinish := e.finish
	start := prevFinish
	if st.vtime > start {
		start = st.vtime
	}
	e.start = start
	e.finish = start + finishDelta(e.budget, e.Weight())
	e.service = 0
	e.treeState = treeActive
	e.onST = true
	e.node = st.active.Insert(e)
}

// detach removes e from whichever of active/idle currently holds it,
// without touching its scheduling fields. Internal helper preserving
// spec.md §3's "on at most one RB-tree at a time" invariant.
func (st *ServiceTree) detach(e *Entity) {
	switch e.treeState {
	case treeActive:
		st.active.Remove(e.node)
	case treeIdle:
		st.idle.Remove(e.node)
	}
	e.node = nil
	e.treeState = treeNone
}

// Select finds the eligible entity with the smallest finish time in the
// active tree (the EEVDF query, spec.md §4.1) and advances the class vtime
// to max(vtime, selected.start). Returns nil if nothing is eligible.
func (st *ServiceTree) Select() *Entity {
	node := st.active.EligibleFloor(st.vtime)
	if node == nil {
		return nil
	}
	e := node.Item().(*Entity)
	if e.start > st.vtime {
		st.vtime = e.start
	}
	return e
}

// Charge records that sectors were served by e in its current activation.
func (st *ServiceTree) Charge(e *Entity, sectors int64) {
	e.service += sectors
}

// Expire removes e from the active tree, recomputes its finish from the
// sectors actually served (not the granted budget), and moves it to the
// idle tree to preserve vtime ordering until it is forgotten (spec.md
// §4.1: "recompute finish using actual sectors served, move to idle").
//
// If fullBudget is true, finish is computed from the full granted budget
// instead of actual service — used when a queue is reclassified
// TOO_IDLE -> BUDGET_TIMEOUT (spec.md §4.5) so its finish reflects the wall
// time it occupied rather than the (possibly tiny) service it performed.
func (st *ServiceTree) Expire(e *Entity, fullBudget bool) {
	if e.treeState == treeActive {
		st.active.Remove(e.node)
	}
	e.node = nil

	served := e.service
	if fullBudget {
		served = e.budget
	}
	e.finish = e.start + serviceDelta(served, e.Weight())
	e.treeState = treeIdle
	e.node = st.idle.Insert(e)
}

// Reactivate is called when an expired (idle-tree) entity gets new work
// before being forgotten: it is detached from idle and re-inserted into
// active via Activate, recomputing start/finish against the current vtime.
func (st *ServiceTree) Reactivate(e *Entity) {
	if e.treeState == treeIdle {
		st.idle.Remove(e.node)
		e.node = nil
		e.treeState = treeNone
	}
	st.Activate(e)
}

// Deactivate removes e from the tree entirely (no pending work, not
// rearmed). Used when a queue has no more requests and the idle window is
// not armed (spec.md §4.1, §4.4).
func (st *ServiceTree) Deactivate(e *Entity) {
	st.detach(e)
	e.onST = false
}

// PruneIdle removes idle-tree entries whose finish has fallen behind the
// class vtime — they can no longer affect ordering and are "forgotten"
// (spec.md §4.1: "called opportunistically at expiration and on forced
// drain").
func (st *ServiceTree) PruneIdle() {
	var stale []*vtree.Node
	st.idle.Walk(func(it vtree.Item) {
		e := it.(*Entity)
		if e.finish <= st.vtime {
			stale = append(stale, e.node)
		}
	})
	for _, n := range stale {
		e := n.Item().(*Entity)
		st.idle.Remove(n)
		e.node = nil
		e.treeState = treeNone
		e.onST = false
	}
}

// Busy reports whether the active tree has any entities.
func (st *ServiceTree) Busy() bool { return !st.active.Empty() }

// NumActive returns the count of entities on the active tree (diagnostic).
func (st *ServiceTree) NumActive() int { return st.active.Len() }

// NumIdle returns the count of entities on the idle tree (diagnostic).
func (st *ServiceTree) NumIdle() int { return st.idle.Len() }
