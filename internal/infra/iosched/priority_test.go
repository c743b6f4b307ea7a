package iosched

import (
	"testing"

	"github.com/bfqcore/bfqd/internal/domain"
)

func TestIoprioWeight_NormIsWeightOne(t *testing.T) {
	if w := ioprioWeight(domain.IOPrioClassBE, domain.IOPrioNorm); w != 1 {
		t.Fatalf("weight at IOPRIO_NORM = %d, want 1", w)
	}
}

func TestIoprioWeight_HigherPriorityDoublesPerLevel(t *testing.T) {
	w := ioprioWeight(domain.IOPrioClassBE, domain.IOPrioNorm-2)
	if w != 4 {
		t.Fatalf("weight two levels above norm = %d, want 4", w)
	}
}

func TestIoprioWeight_LowerPriorityFloorsAtOne(t *testing.T) {
	w := ioprioWeight(domain.IOPrioClassBE, domain.IOPrioNorm+3)
	if w != 1 {
		t.Fatalf("weight below norm = %d, want floored at 1", w)
	}
}

func TestIoprioWeight_IdleClassAlwaysWeightOne(t *testing.T) {
	if w := ioprioWeight(domain.IOPrioClassIdle, 0); w != 1 {
		t.Fatalf("IDLE class weight = %d, want 1 regardless of ioprio level", w)
	}
}

func TestApplyPriorityBoost_StagesIdleToBE(t *testing.T) {
	e := &Entity{kind: kindQueue, ioprioClass: domain.IOPrioClassIdle, ioprio: 7}
	q := &Queue{ent: e}
	applyPriorityBoost(q, true)
	if !e.prioChanged || e.newIOPrioClass != domain.IOPrioClassBE || e.newIOPrio != domain.IOPrioNorm {
		t.Fatalf("expected IDLE queue to stage a BE boost at IOPRIO_NORM, got class=%v prio=%d changed=%v",
			e.newIOPrioClass, e.newIOPrio, e.prioChanged)
	}
}

func TestApplyPriorityBoost_LeavesNonIdleAlone(t *testing.T) {
	e := &Entity{kind: kindQueue, ioprioClass: domain.IOPrioClassBE, ioprio: domain.IOPrioNorm}
	q := &Queue{ent: e}
	applyPriorityBoost(q, true)
	if e.prioChanged {
		t.Fatalf("non-IDLE queue should not be boosted by fs-exclusive state")
	}
}

func TestApplyPriorityBoost_RestoresOnExit(t *testing.T) {
	e := &Entity{kind: kindQueue, ioprioClass: domain.IOPrioClassIdle, ioprio: 7}
	q := &Queue{ent: e}
	applyPriorityBoost(q, true)  // enter fs-exclusive: staged to BE/NORM
	applyPriorityBoost(q, false) // exit: restore original
	if e.newIOPrioClass != domain.IOPrioClassIdle || e.newIOPrio != 7 {
		t.Fatalf("expected restore to original class/level, got class=%v prio=%d", e.newIOPrioClass, e.newIOPrio)
	}
}

func TestCommitPrioChange_AppliesStagedValuesAndRecomputesWeight(t *testing.T) {
	e := &Entity{kind: kindQueue, ioprioClass: domain.IOPrioClassIdle, ioprio: 7,
		prioChanged: true, newIOPrioClass: domain.IOPrioClassBE, newIOPrio: domain.IOPrioNorm - 1}
	commitPrioChange(e)
	if e.prioChanged {
		t.Fatalf("prioChanged should be cleared after commit")
	}
	if e.ioprioClass != domain.IOPrioClassBE || e.ioprio != domain.IOPrioNorm-1 {
		t.Fatalf("commit did not apply staged class/level")
	}
	if e.weight != 2 {
		t.Fatalf("weight after commit = %d, want 2 (one level above norm)", e.weight)
	}
}

func TestCommitPrioChange_NoOpWhenNothingStaged(t *testing.T) {
	e := &Entity{kind: kindQueue, ioprioClass: domain.IOPrioClassBE, ioprio: domain.IOPrioNorm, weight: 1}
	commitPrioChange(e)
	if e.ioprioClass != domain.IOPrioClassBE || e.weight != 1 {
		t.Fatalf("commit with nothing staged should not alter the entity")
	}
}
