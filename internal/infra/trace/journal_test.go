package trace

import (
	"testing"
	"time"

	"github.com/bfqcore/bfqd/internal/domain"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndReplayDispatches(t *testing.T) {
	j := openTestJournal(t)

	req := domain.Request{
		ID: "r1", PID: "reader", Sector: 100, Sectors: 8,
		Sync: true, IOPrioClass: domain.IOPrioClassBE,
		DispatchedAt: time.Unix(1000, 0),
	}
	if err := j.RecordDispatch(req); err != nil {
		t.Fatalf("RecordDispatch: %v", err)
	}

	events, err := j.RecentDispatches(10)
	if err != nil {
		t.Fatalf("RecentDispatches: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].PID != "reader" || events[0].Sector != 100 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestJournal_RecentDispatchesRespectsLimitAndOrder(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		req := domain.Request{
			ID: "r", PID: "p", Sector: int64(i * 8), Sectors: 8,
			Sync: true, IOPrioClass: domain.IOPrioClassBE,
			DispatchedAt: time.Unix(int64(1000+i), 0),
		}
		if err := j.RecordDispatch(req); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}

	events, err := j.RecentDispatches(3)
	if err != nil {
		t.Fatalf("RecentDispatches: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Chronological order: the last three sectors submitted were 16, 24, 32.
	if events[0].Sector != 16 || events[2].Sector != 32 {
		t.Fatalf("unexpected chronological order: %+v", events)
	}
}

func TestJournal_ExpirationCountsByReason(t *testing.T) {
	j := openTestJournal(t)

	if err := j.RecordExpiration("reader", domain.ExpireBudgetTimeout, 500, 1000, 1234); err != nil {
		t.Fatalf("RecordExpiration: %v", err)
	}
	if err := j.RecordExpiration("reader", domain.ExpireBudgetTimeout, 500, 1000, 1235); err != nil {
		t.Fatalf("RecordExpiration: %v", err)
	}
	if err := j.RecordExpiration("writer", domain.ExpireNoMoreRequests, 100, 100, 1236); err != nil {
		t.Fatalf("RecordExpiration: %v", err)
	}

	counts, err := j.ExpirationCountsByReason()
	if err != nil {
		t.Fatalf("ExpirationCountsByReason: %v", err)
	}
	if counts["BUDGET_TIMEOUT"] != 2 {
		t.Fatalf("BUDGET_TIMEOUT count = %d, want 2", counts["BUDGET_TIMEOUT"])
	}
	if counts["NO_MORE_REQUESTS"] != 1 {
		t.Fatalf("NO_MORE_REQUESTS count = %d, want 1", counts["NO_MORE_REQUESTS"])
	}
}
