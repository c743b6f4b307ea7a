package iosched

import (
	"testing"

	"github.com/bfqcore/bfqd/internal/domain"
)

func TestActivateEntity_PropagatesBusyCountUpTwoLevels(t *testing.T) {
	root := newGroup("root", nil)
	mid := newGroup("mid", root)
	q := newQueue(nil, "p", true, 100)
	q.ent.ioprioClass = domain.IOPrioClassBE
	mid.addChild(q)
	mid.ent.parent = root

	activateEntity(q.ent)

	if mid.busyQueues != 1 {
		t.Fatalf("mid.busyQueues = %d, want 1 after leaf activation", mid.busyQueues)
	}
	if root.busyQueues != 1 {
		t.Fatalf("root.busyQueues = %d, want 1 after recursing past mid", root.busyQueues)
	}
	if mid.ent.treeState != treeActive {
		t.Fatalf("mid's own entity should have been activated in root's tree")
	}
	if root.trees[domain.IOPrioClassBE].NumActive() == 0 {
		t.Fatalf("expected mid's entity on root's BE active tree")
	}
}

func TestActivateEntity_SecondLeafInSameGroupDoesNotDoubleCountParent(t *testing.T) {
	root := newGroup("root", nil)
	mid := newGroup("mid", root)
	mid.ent.parent = root
	a := newQueue(nil, "a", true, 100)
	a.ent.ioprioClass = domain.IOPrioClassBE
	b := newQueue(nil, "b", true, 100)
	b.ent.ioprioClass = domain.IOPrioClassBE
	mid.addChild(a)
	mid.addChild(b)

	activateEntity(a.ent)
	activateEntity(b.ent)

	if mid.busyQueues != 2 {
		t.Fatalf("mid.busyQueues = %d, want 2 (two active leaves)", mid.busyQueues)
	}
	if root.busyQueues != 1 {
		t.Fatalf("root.busyQueues = %d, want 1 (mid activates at root only once)", root.busyQueues)
	}
}

func TestDeactivateEntity_OnlyPropagatesWhenGroupEmpties(t *testing.T) {
	root := newGroup("root", nil)
	mid := newGroup("mid", root)
	mid.ent.parent = root
	a := newQueue(nil, "a", true, 100)
	a.ent.ioprioClass = domain.IOPrioClassBE
	b := newQueue(nil, "b", true, 100)
	b.ent.ioprioClass = domain.IOPrioClassBE
	mid.addChild(a)
	mid.addChild(b)
	activateEntity(a.ent)
	activateEntity(b.ent)

	deactivateEntity(a.ent)
	if root.busyQueues != 1 {
		t.Fatalf("root.busyQueues = %d, want still 1 (mid still has a busy descendant)", root.busyQueues)
	}

	deactivateEntity(b.ent)
	if root.busyQueues != 0 {
		t.Fatalf("root.busyQueues = %d, want 0 after mid's last leaf deactivates", root.busyQueues)
	}
	if mid.ent.treeState == treeActive {
		t.Fatalf("mid's entity should have left root's active tree once empty")
	}
}

func TestChargeUp_AdvancesEveryAncestorFinish(t *testing.T) {
	root := newGroup("root", nil)
	mid := newGroup("mid", root)
	mid.ent.parent = root
	q := newQueue(nil, "p", true, 1000)
	q.ent.ioprioClass = domain.IOPrioClassBE
	mid.addChild(q)

	activateEntity(q.ent)
	midFinishBefore := mid.ent.finish

	chargeUp(q.ent, 500)

	if mid.ent.finish == midFinishBefore {
		t.Fatalf("expected mid's finish to advance after charging its descendant leaf")
	}
	if mid.ent.service == 0 {
		t.Fatalf("expected mid's own entity to accumulate service from the leaf's charge")
	}
}

func TestChargeUp_StampsClassOntoAncestors(t *testing.T) {
	root := newGroup("root", nil)
	mid := newGroup("mid", root)
	mid.ent.parent = root
	q := newQueue(nil, "p", true, 1000)
	q.ent.ioprioClass = domain.IOPrioClassRT
	mid.addChild(q)

	activateEntity(q.ent)
	chargeUp(q.ent, 10)

	if mid.ent.ioprioClass != domain.IOPrioClassRT {
		t.Fatalf("expected mid's entity class stamped to RT from the triggering leaf")
	}
}

func TestSelectLeaf_PrefersHigherPriorityClassAtEachLevel(t *testing.T) {
	root := newGroup("root", nil)
	rt := newQueue(nil, "rt", true, 100)
	rt.ent.ioprioClass = domain.IOPrioClassRT
	be := newQueue(nil, "be", true, 100)
	be.ent.ioprioClass = domain.IOPrioClassBE
	root.addChild(rt)
	root.addChild(be)

	activateEntity(rt.ent)
	activateEntity(be.ent)

	got := selectLeaf(root)
	if got != rt {
		t.Fatalf("expected RT-class leaf to be selected ahead of BE")
	}
}

func TestSelectLeaf_RecursesIntoSelectedGroup(t *testing.T) {
	root := newGroup("root", nil)
	mid := newGroup("mid", root)
	mid.ent.parent = root
	q := newQueue(nil, "p", true, 100)
	q.ent.ioprioClass = domain.IOPrioClassBE
	mid.addChild(q)

	activateEntity(q.ent)

	got := selectLeaf(root)
	if got != q {
		t.Fatalf("expected selectLeaf to recurse through mid down to its only leaf")
	}
}

func TestSelectLeaf_NilWhenNothingBusy(t *testing.T) {
	root := newGroup("root", nil)
	if got := selectLeaf(root); got != nil {
		t.Fatalf("expected nil from an empty hierarchy, got %v", got)
	}
}
