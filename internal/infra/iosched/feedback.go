package iosched

import (
	"github.com/bfqcore/bfqd/internal/domain"
	"github.com/bfqcore/bfqd/internal/infra/metrics"
)

// minBudgetsBeforeTrust gates when the learned max_budget bound may be
// trusted over the safe default (spec.md §9 Open Question (ii): "the exact
// threshold gating budgets_assigned >= 194 ... preserve the literal
// constant"). Preserved literally rather than re-derived.
const minBudgetsBeforeTrust = 194

// defaultBudget and minBudget implement spec.md §4.5:
// "default_budget = system_max * 3/4 ... min_budget = system_max / 2".
func defaultBudget(s *Scheduler) int64 {
	if (s.budgetsAssigned < minBudgetsBeforeTrust && s.tunables.UserMaxBudget == 0) || s.systemMaxBudget() == 0 {
		return safeDefaultBudget
	}
	return (s.systemMaxBudget() * 3) / 4
}

func minBudget(s *Scheduler) int64 {
	return s.systemMaxBudget() / 2
}

// safeDefaultBudget is used in place of default_budget until
// minBudgetsBeforeTrust budgets have been assigned (unless max_budget is
// user-pinned), or while
// system_max_budget is still 0 (spec.md §4.5). Chosen as a conservative mid-range budget independent of
// any peak-rate estimate.
const safeDefaultBudget = 16384

// adjustBudget implements the budget-feedback table of spec.md §4.5,
// mutating q.maxBudget in place according to why the queue expired. Only
// sync queues are adjusted; async queues always run at system_max_budget
// (spec.md §4.5: "Async queues always use system_max_budget").
func adjustBudget(s *Scheduler, q *Queue, why domain.ExpireReason) {
	if !q.syncQueue {
		q.maxBudget = s.systemMaxBudget()
		return
	}
	switch why {
	case domain.ExpireTooIdle:
		next := q.maxBudget - STEP
		if m := minBudget(s); next < m {
			next = m
		}
		q.maxBudget = next
	case domain.ExpireBudgetTimeout:
		q.maxBudget = defaultBudget(s)
	case domain.ExpireBudgetExhausted:
		next := q.maxBudget + 8*STEP
		if sm := s.systemMaxBudget(); next > sm {
			next = sm
		}
		q.maxBudget = next
	case domain.ExpireNoMoreRequests:
		// unchanged
	}
	s.budgetsAssigned++
	metrics.BudgetsAssigned.Inc()
}

// reclassifyIfSeeky implements spec.md §4.5: "if the queue consumed service
// at a rate that would not have let it finish its budget before its
// timeout, reclassify TOO_IDLE -> BUDGET_TIMEOUT (seeky pseudo-idle) and
// charge it the full budget". served is the entity's accumulated service,
// elapsed is the wall-clock duration of the activation, and timeout is the
// budget's wall-clock bound.
func reclassifyIfSeeky(q *Queue, why domain.ExpireReason, served int64, elapsed, timeout int64) (domain.ExpireReason, bool) {
	if why != domain.ExpireTooIdle || timeout <= 0 {
		return why, false
	}
	projectedFullService := served
	if elapsed > 0 {
		projectedFullService = served * timeout / elapsed
	}
	if projectedFullService < q.ent.budget {
		return domain.ExpireBudgetTimeout, true
	}
	return why, false
}
