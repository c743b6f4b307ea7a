package iosched

import "time"

// tunablesView is the subset of Tunables the queue/chooser layer needs,
// passed by value so queue.go never has to reach back through a Scheduler
// pointer while mutating its own state (spec.md §5: "strictly sequential"
// mutation within one locked section).
type tunablesView struct {
	FIFOExpireSync, FIFOExpireAsync time.Duration
	BackSeekMaxSectors              int64
	BackSeekPenalty                 int
}

// Tunables is the device-wide tunable-attribute surface of spec.md §6,
// read/written under Scheduler.mu. All durations are ms-valued at the
// config/CLI boundary; sector-valued fields are sectors.
type Tunables struct {
	Quantum int // max sync requests dispatched per round (spec.md §4.4)

	FIFOExpireSync  time.Duration
	FIFOExpireAsync time.Duration

	BackSeekMaxSectors int64 // back_seek_max, in sectors
	BackSeekPenalty    int   // back_seek_penalty

	SliceIdle time.Duration

	MaxBudget        int64 // sectors; 0 means auto (peak-rate driven)
	UserMaxBudget    int64 // 0 if user has not pinned it; mirrors MaxBudget otherwise
	MaxBudgetAsyncRQ int

	TimeoutSync, TimeoutAsync time.Duration

	Desktop bool

	// FSExclusivePredicate reports whether the caller currently holds
	// filesystem-exclusive resources, driving priority boost (spec.md §4.8,
	// §9 Open Question (iii): injected, never a package-global flag).
	FSExclusivePredicate func() bool
}

// DefaultTunables returns the tunable defaults named throughout spec.md
// §4-§6 (STEP=128, slice_idle, fifo_expire, back_seek defaults mirror the
// values spec.md's constants imply; values not pinned by the spec use
// conservative, widely-cited defaults for this scheduler family).
func DefaultTunables() Tunables {
	return Tunables{
		Quantum:              4,
		FIFOExpireSync:       125 * time.Millisecond,
		FIFOExpireAsync:      250 * time.Millisecond,
		BackSeekMaxSectors:   16 * 1024 * 2, // 16 MiB in 512-byte sectors
		BackSeekPenalty:      2,
		SliceIdle:            8 * time.Millisecond,
		MaxBudget:            0, // auto
		UserMaxBudget:        0,
		MaxBudgetAsyncRQ:     250,
		TimeoutSync:          125 * time.Millisecond,
		TimeoutAsync:         250 * time.Millisecond,
		Desktop:              true,
		FSExclusivePredicate: func() bool { return false },
	}
}

func (t Tunables) view() tunablesView {
	return tunablesView{
		FIFOExpireSync:     t.FIFOExpireSync,
		FIFOExpireAsync:    t.FIFOExpireAsync,
		BackSeekMaxSectors: t.BackSeekMaxSectors,
		BackSeekPenalty:    t.BackSeekPenalty,
	}
}

// SetMaxBudget implements the tunable write semantics of spec.md §6:
// "Setting max_budget = 0 switches to auto".
func (t *Tunables) SetMaxBudget(sectors int64) {
	t.UserMaxBudget = sectors
	t.MaxBudget = sectors
}

// SetTimeoutSync implements spec.md §6: "setting timeout_sync while in auto
// recomputes max_budget". recompute is supplied by the caller (Scheduler),
// which knows the current peak-rate estimate.
func (t *Tunables) SetTimeoutSync(d time.Duration, recompute func()) {
	t.TimeoutSync = d
	if t.UserMaxBudget == 0 && recompute != nil {
		recompute()
	}
}
