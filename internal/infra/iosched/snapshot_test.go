package iosched

import (
	"testing"

	"github.com/bfqcore/bfqd/internal/domain"
)

func TestEntitySnapshot_ReportsKindAndSchedulingFields(t *testing.T) {
	q := newQueue(nil, "p", true, 256)
	q.ent.service = 10
	q.ent.budget = 256
	q.ent.start = 100
	q.ent.finish = 200

	snap := q.ent.Snapshot()
	if snap.Kind != "queue" {
		t.Errorf("Kind = %q, want %q", snap.Kind, "queue")
	}
	if snap.Service != 10 || snap.Budget != 256 {
		t.Errorf("unexpected service/budget: %+v", snap)
	}
	if snap.Start != 100 || snap.Finish != 200 {
		t.Errorf("unexpected start/finish: %+v", snap)
	}
}

func TestEntitySnapshot_ReportsGroupKind(t *testing.T) {
	g := newGroup("billing", nil)
	if got := g.ent.Snapshot().Kind; got != "group" {
		t.Errorf("Kind = %q, want %q", got, "group")
	}
}

func TestQueueSnapshot_IncludesPIDAndCounters(t *testing.T) {
	q := newQueue(nil, "reader-1", true, 256)
	q.dispatched = 3
	q.busy = true

	snap := q.Snapshot()
	if snap.PID != "reader-1" {
		t.Errorf("PID = %q, want %q", snap.PID, "reader-1")
	}
	if snap.Dispatched != 3 {
		t.Errorf("Dispatched = %d, want 3", snap.Dispatched)
	}
	if !snap.Busy {
		t.Errorf("expected Busy = true")
	}
	if snap.Entity.Kind != "queue" {
		t.Errorf("Entity.Kind = %q, want %q", snap.Entity.Kind, "queue")
	}
}

func TestSchedulerSnapshot_ReflectsLiveQueues(t *testing.T) {
	s := newTestScheduler()
	submit(t, s, "p1", 0, 8, true, domain.IOPrioClassBE)

	snap := s.Snapshot()
	if len(snap.Queues) != 1 {
		t.Fatalf("Queues = %d, want 1", len(snap.Queues))
	}
	if snap.QueuedTotal != 1 {
		t.Errorf("QueuedTotal = %d, want 1", snap.QueuedTotal)
	}
	if snap.Queues[0].PID != "p1" {
		t.Errorf("Queues[0].PID = %q, want %q", snap.Queues[0].PID, "p1")
	}
}
