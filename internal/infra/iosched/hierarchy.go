package iosched

import "github.com/bfqcore/bfqd/internal/infra/metrics"

// This file implements spec.md §4.1's "Hierarchical recursion": activation,
// deactivation, and service charging propagate from a leaf up to the root,
// updating weights, virtual times, and tree membership at each level.
//
// Inner-group entities do not receive a per-request budget the way leaf
// queues do (spec.md §4.2 assigns a queue's budget from max_budget/next_rq
// at insertion time; nothing analogous exists for a Group, which has no
// requests of its own). This implementation activates a group entity with a
// minimal one-sector budget — just enough to be immediately eligible — and
// lets chargeUp's continuous finish recomputation (below) carry it forward
// as its descendants are actually charged service. This is an engineering
// decision filling a gap the spec leaves implementation-defined; see
// DESIGN.md.
const minGroupBudget = 1

// A Group exposes a single Entity to its own parent rather than one per
// priority class. Every walk below stamps that entity's ioprioClass with
// the class of whichever leaf triggered the walk before touching a tree, so
// a group always participates in the one class tree matching its most
// recently active descendant. This is a documented simplification of the
// real per-class-per-group accounting (see DESIGN.md): it keeps §8's
// per-activation fairness invariants intact at the cost of not letting one
// group serve two classes through its parent simultaneously.

// activateEntity makes e eligible in its parent's service tree for class
// e.ioprioClass, recursing upward through any Group ancestors that are not
// already active (spec.md §4.1 "Hierarchical recursion").
func activateEntity(e *Entity) {
	commitPrioChange(e)

	parent := e.parent
	if parent == nil {
		return // root has no parent tree to join
	}
	parent.ent.ioprioClass = e.ioprioClass
	tree := parent.Tree(e.ioprioClass)

	alreadyActive := e.onST && e.treeState == treeActive
	if e.kind == kindGroup && e.budget == 0 {
		e.budget = minGroupBudget
	}
	tree.Activate(e)

	if !alreadyActive {
		parent.busyQueues++
		metrics.BusyQueues.WithLabelValues(parent.name).Set(float64(parent.busyQueues))
		if parent.ent.parent != nil {
			activateEntity(parent.ent)
		}
	}
}

// deactivateEntity removes e from its parent's service tree and, if that
// empties the parent group of busy descendants, recurses upward to
// deactivate the parent's own entity too.
func deactivateEntity(e *Entity) {
	parent := e.parent
	if parent == nil {
		return
	}
	tree := parent.Tree(e.ioprioClass)
	wasActive := e.onST && e.treeState == treeActive
	tree.Deactivate(e)

	if wasActive {
		parent.busyQueues--
		metrics.BusyQueues.WithLabelValues(parent.name).Set(float64(parent.busyQueues))
		if parent.busyQueues <= 0 && parent.ent.parent != nil {
			deactivateEntity(parent.ent)
		}
	}
}

// chargeUp propagates sectors of service from a leaf queue to every
// ancestor on the path to the root (spec.md §4.1: "Service charged to a
// leaf queue is propagated to every ancestor on the same path, advancing
// each parent's vtime"). Each ancestor's finish is recomputed from its
// accumulated service and, since that changes its key in the parent's
// service tree, the entity is detached and reinserted to preserve tree
// ordering (spec.md §8 invariant 3).
func chargeUp(leaf *Entity, sectors int64) {
	class := leaf.ioprioClass
	e := leaf
	for {
		parent := e.parent
		if parent == nil {
			return
		}
		parent.ent.ioprioClass = class
		tree := parent.Tree(class)
		tree.Charge(e, sectors)

		if e.treeState == treeActive {
			tree.active.Remove(e.node)
			e.finish = e.start + finishDelta(e.service, e.Weight())
			e.node = tree.active.Insert(e)
		}

		if parent.ent.parent == nil {
			return
		}
		e = parent.ent
	}
}

// selectLeaf walks the hierarchy from a root group down through priority
// classes RT -> BE -> IDLE (spec.md §4.1: "Selection at the root walks the
// class trees in priority order"), recursing into any Group entity it
// selects, and returns the first leaf Queue reachable. Returns nil if the
// whole hierarchy has no eligible work.
func selectLeaf(root *Group) *Queue {
	g := root
	for {
		var selected *Entity
		for class := 0; class < domainNumClasses; class++ {
			st := g.trees[class]
			if !st.Busy() {
				continue
			}
			if e := st.Select(); e != nil {
				selected = e
				break
			}
		}
		if selected == nil {
			return nil
		}
		if selected.kind == kindQueue {
			return selected.leaf
		}
		g = selected.inner
	}
}

// domainNumClasses avoids importing the domain package just for the one
// constant this file needs beyond what group.go/entity.go already pull in.
const domainNumClasses = 3
