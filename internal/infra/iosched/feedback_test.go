package iosched

import (
	"testing"

	"github.com/bfqcore/bfqd/internal/domain"
)

func schedulerWithPinnedMax(max int64) *Scheduler {
	s := NewScheduler(nil)
	s.tunables.MaxBudget = max
	s.tunables.UserMaxBudget = max
	s.budgetsAssigned = minBudgetsBeforeTrust
	return s
}

func TestAdjustBudget_TooIdleStepsDown(t *testing.T) {
	s := schedulerWithPinnedMax(1500) // min_budget = 750, below 1000-STEP
	q := newQueue(s, "p", true, 1000)
	adjustBudget(s, q, domain.ExpireTooIdle)
	want := int64(1000 - STEP)
	if q.maxBudget != want {
		t.Fatalf("maxBudget = %d, want %d", q.maxBudget, want)
	}
}

func TestAdjustBudget_TooIdleFloorsAtMinBudget(t *testing.T) {
	s := schedulerWithPinnedMax(1000) // min_budget = 500
	q := newQueue(s, "p", true, 510)
	adjustBudget(s, q, domain.ExpireTooIdle)
	if q.maxBudget != 500 {
		t.Fatalf("maxBudget = %d, want floor of 500", q.maxBudget)
	}
}

func TestAdjustBudget_BudgetExhaustedGrowsBy8Step(t *testing.T) {
	s := schedulerWithPinnedMax(1_000_000)
	q := newQueue(s, "p", true, 1000)
	adjustBudget(s, q, domain.ExpireBudgetExhausted)
	want := int64(1000 + 8*STEP)
	if q.maxBudget != want {
		t.Fatalf("maxBudget = %d, want %d", q.maxBudget, want)
	}
}

func TestAdjustBudget_BudgetExhaustedCapsAtSystemMax(t *testing.T) {
	s := schedulerWithPinnedMax(1000)
	q := newQueue(s, "p", true, 999)
	adjustBudget(s, q, domain.ExpireBudgetExhausted)
	if q.maxBudget != 1000 {
		t.Fatalf("maxBudget = %d, want capped at system max 1000", q.maxBudget)
	}
}

func TestAdjustBudget_NoMoreRequestsUnchanged(t *testing.T) {
	s := schedulerWithPinnedMax(10000)
	q := newQueue(s, "p", true, 1234)
	adjustBudget(s, q, domain.ExpireNoMoreRequests)
	if q.maxBudget != 1234 {
		t.Fatalf("maxBudget changed on NO_MORE_REQUESTS: got %d", q.maxBudget)
	}
}

func TestAdjustBudget_AsyncAlwaysUsesSystemMax(t *testing.T) {
	s := schedulerWithPinnedMax(5000)
	q := newQueue(s, "p", false, 1)
	adjustBudget(s, q, domain.ExpireBudgetExhausted)
	if q.maxBudget != 5000 {
		t.Fatalf("async maxBudget = %d, want system_max_budget 5000", q.maxBudget)
	}
}

func TestReclassifyIfSeeky_ProjectsShortfallToBudgetTimeout(t *testing.T) {
	q := newQueue(nil, "p", true, 1000)
	q.ent.budget = 1000
	// served 100 sectors over half the timeout window: projected full
	// service over the whole timeout is 200, well under the 1000 budget.
	reason, changed := reclassifyIfSeeky(q, domain.ExpireTooIdle, 100, 500, 1000)
	if !changed || reason != domain.ExpireBudgetTimeout {
		t.Fatalf("expected reclassification to BUDGET_TIMEOUT, got reason=%v changed=%v", reason, changed)
	}
}

func TestReclassifyIfSeeky_LeavesFastQueueAlone(t *testing.T) {
	q := newQueue(nil, "p", true, 1000)
	q.ent.budget = 500
	// served 1000 sectors in the first tenth of the timeout window:
	// projected full service is 10000, comfortably over budget.
	reason, changed := reclassifyIfSeeky(q, domain.ExpireTooIdle, 1000, 100, 1000)
	if changed || reason != domain.ExpireTooIdle {
		t.Fatalf("expected no reclassification, got reason=%v changed=%v", reason, changed)
	}
}
