package iosched

import (
	"github.com/bfqcore/bfqd/internal/domain"
	"github.com/bfqcore/bfqd/internal/infra/metrics"
)

// applyPriorityBoost implements spec.md §4.8: while the caller holds
// filesystem-exclusive resources, an IDLE-class queue is temporarily
// elevated to BE class capped at IOPRIO_NORM, so it cannot block other
// producers waiting on shared locks. Changes are staged in new_ioprio* and
// take effect at the queue's next (re)activation (spec.md §3: "plus pending
// new_* variants applied at next (re)activation").
func applyPriorityBoost(q *Queue, fsExclusive bool) {
	e := q.ent
	if fsExclusive {
		if e.ioprioClass == domain.IOPrioClassIdle {
			e.newIOPrioClass = domain.IOPrioClassBE
			e.newIOPrio = domain.IOPrioNorm
			e.prioChanged = true
			metrics.PriorityBoosts.Inc()
		}
		return
	}
	// Exiting fs-exclusive state: undo a boost that is still staged. A boost
	// already applied by commitPrioChange is not undone; the entity stays BE.
	if e.prioChanged && e.newIOPrioClass == domain.IOPrioClassBE {
		e.newIOPrioClass = e.ioprioClass
		e.newIOPrio = e.ioprio
	}
}

// commitPrioChange applies any staged new_ioprio/new_ioprio_class to an
// entity, to be called at (re)activation (spec.md §4.8 "Changes take effect
// at the next (re)activation").
func commitPrioChange(e *Entity) {
	if !e.prioChanged {
		return
	}
	e.ioprioClass = e.newIOPrioClass
	e.ioprio = e.newIOPrio
	e.weight = ioprioWeight(e.ioprioClass, e.ioprio)
	e.prioChanged = false
}

// ioprioWeight derives an entity's scheduling weight from its I/O priority
// (spec.md §3: "weight ... derived from I/O priority"). Lower ioprio values
// are higher priority; IOPRIO_NORM (4) maps to weight 1, each step above NORM
// doubles the weight, and every level below NORM also gets weight 1.
func ioprioWeight(class domain.IOPrioClass, ioprio int) uint32 {
	if class == domain.IOPrioClassIdle {
		return 1
	}
	delta := domain.IOPrioNorm - ioprio
	if delta > 0 {
		return uint32(1 << uint(delta))
	}
	// Lower-priority levels would divide toward zero; floor at weight 1.
	return 1
}
