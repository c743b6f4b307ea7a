package iosched

import "github.com/bfqcore/bfqd/internal/domain"

// Group is an inner Entity: it owns one ServiceTree per I/O priority class
// and the set of child queues scheduled through them, plus the shared async
// queues every producer in the group writes asynchronously through
// (spec.md §3 "Group").
type Group struct {
	ent *Entity

	trees [domain.NumClasses]*ServiceTree

	children   map[*Queue]struct{}
	busyQueues int

	// One async queue per (sync=false, BE ioprio level); shared by all
	// producers in the group writing asynchronously at that priority
	// (spec.md §3 "Group": "arrays of per-priority async queues").
	asyncQueues [domain.IOPrioNumLevels]*Queue
	asyncIdle   *Queue

	name string // hierarchy-node identifier (external cgroup mapping, §6)
}

// newGroup creates a Group with an empty service tree per priority class.
func newGroup(name string, parent *Group) *Group {
	g := &Group{
		children: make(map[*Queue]struct{}),
		name:     name,
	}
	for i := range g.trees {
		g.trees[i] = &ServiceTree{}
	}
	g.ent = &Entity{kind: kindGroup, inner: g, weight: 1, parent: parent}
	return g
}

// Tree returns the service tree for the given priority class.
func (g *Group) Tree(class domain.IOPrioClass) *ServiceTree {
	return g.trees[class]
}

// addChild registers q as a child of g (does not activate it).
func (g *Group) addChild(q *Queue) {
	g.children[q] = struct{}{}
	q.ent.parent = g
}

// removeChild unregisters q from g.
func (g *Group) removeChild(q *Queue) {
	delete(g.children, q)
}

// asyncQueueFor returns (creating if necessary) the shared async queue for
// the given BE ioprio level, or the async-idle queue for IDLE class.
func (g *Group) asyncQueueFor(bfqd *Scheduler, class domain.IOPrioClass, ioprio int) *Queue {
	if class == domain.IOPrioClassIdle {
		if g.asyncIdle == nil {
			g.asyncIdle = newQueue(bfqd, "async-idle:"+g.name, false, bfqd.tunables.MaxBudget)
			g.asyncIdle.ent.ioprioClass = domain.IOPrioClassIdle
			g.addChild(g.asyncIdle)
		}
		return g.asyncIdle
	}
	if ioprio < 0 {
		ioprio = 0
	}
	if ioprio >= domain.IOPrioNumLevels {
		ioprio = domain.IOPrioNumLevels - 1
	}
	if g.asyncQueues[ioprio] == nil {
		q := newQueue(bfqd, "async:"+g.name, false, bfqd.tunables.MaxBudget)
		q.ent.ioprioClass = domain.IOPrioClassBE
		q.ent.ioprio = ioprio
		g.asyncQueues[ioprio] = q
		g.addChild(q)
	}
	return g.asyncQueues[ioprio]
}
