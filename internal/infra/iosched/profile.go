package iosched

import (
	"sync/atomic"

	"github.com/bfqcore/bfqd/internal/domain"
)

// seekyThresholdSectors is "8 KiB" expressed in 512-byte sectors (spec.md
// §4.7: "A producer is seeky if seek_mean > 8 KiB").
const seekyThresholdSectors = 8 * 1024 / 512

// minTTMillis is BFQ_MIN_TT, the shortened idle-timer duration used for a
// producer already classified seeky (spec.md §4.4 "Idle arming").
const minTTMillis = 2

// earlySeekSamples is the number of seek samples below which the estimator
// is still "early-sampling" and idle-window eligibility defaults open
// (spec.md §4.7: "or is in early-sampling state").
const earlySeekSamples = 7

// Profile is the default domain.IOContext implementation: per-producer
// think-time and seek-distance EWMA estimators plus live-task and
// fs-exclusive state (spec.md §4.7, §4.8). Fields not guarded by the
// scheduler's own lock (liveTasks, fsExclusive) use atomics because
// completion paths and external callers may touch them without holding it
// (spec.md §5: "reference counts are atomic ... completion paths on another
// CPU").
type Profile struct {
	pid string

	// Think time EWMA: x <- (7x + 256*sample)/8, fixed-point scaled by 256
	// (spec.md §4.7 "Smoothing").
	ttAccum int64
	ttTotal int64
	ttCount int64

	// Seek distance EWMA, same smoothing constant.
	seekAccum int64
	seekCount int64

	liveTasks   atomic.Bool
	fsExclusive atomic.Bool
	ref         atomic.Int32
}

// NewProfile creates a producer profile with live tasks assumed present
// (a producer with no live tasks would not be submitting requests).
func NewProfile(pid string) *Profile {
	p := &Profile{pid: pid}
	p.liveTasks.Store(true)
	return p
}

func (p *Profile) PID() string { return p.pid }

// RecordThinkTime folds a think-time sample into the EWMA, capping it at
// sliceIdleCap first (spec.md §4.7: "capped at 2*slice_idle").
func (p *Profile) RecordThinkTime(sample int64, sliceIdleCap int64) {
	if sample > sliceIdleCap {
		sample = sliceIdleCap
	}
	if p.ttCount == 0 {
		p.ttAccum = sample * 256
	} else {
		p.ttAccum = (7*p.ttAccum + 256*sample) / 8
	}
	p.ttTotal += sample
	p.ttCount++
}

// ThinkTimeMean returns total/samples (spec.md §4.7 "mean = total/samples"),
// or 0 when no samples exist yet.
func (p *Profile) ThinkTimeMean() int64 {
	if p.ttCount == 0 {
		return 0
	}
	return p.ttTotal / p.ttCount
}

// RecordSeekDistance folds a |new_pos - last_pos| sample into the seek EWMA.
// Per spec.md §9 Open Question (i), a sample recorded while seekCount is
// still zero is never itself treated as a seek: the very first sample at a
// producer is recorded as distance 0 whatever distance is passed, so
// the estimator starts from "not really a seek" rather than being skewed by
// an unrepresentative opening read.
func (p *Profile) RecordSeekDistance(distance int64) {
	if p.seekCount == 0 {
		distance = 0
	}
	if p.seekCount == 0 {
		p.seekAccum = distance * 256
	} else {
		p.seekAccum = (7*p.seekAccum + 256*distance) / 8
	}
	p.seekCount++
}

// seekMean returns the current seek-distance EWMA mean, in sectors.
func (p *Profile) seekMean() int64 {
	if p.seekCount == 0 {
		return 0
	}
	return p.seekAccum / 256
}

// IsSeeky reports whether the mean seek distance exceeds the seeky
// threshold (spec.md §4.7).
func (p *Profile) IsSeeky() bool {
	return p.seekMean() > seekyThresholdSectors
}

// earlySampling reports whether the seek estimator has not yet collected
// enough samples to be trusted (spec.md §4.7 "early-sampling state").
func (p *Profile) earlySampling() bool {
	return p.seekCount < earlySeekSamples
}

func (p *Profile) HasLiveTasks() bool { return p.liveTasks.Load() }

// SetLiveTasks updates whether the owning producer still has live tasks.
func (p *Profile) SetLiveTasks(v bool) { p.liveTasks.Store(v) }

func (p *Profile) FSExclusive() bool { return p.fsExclusive.Load() }

// Pin and Unpin hold/release a reference to the I/O context while it is the
// active producer (spec.md §4.4 step 4: "Pin the active I/O context"). The
// refcount is atomic because completion paths may race with the dispatch
// path that pins it (spec.md §5).
func (p *Profile) Pin()   { p.ref.Add(1) }
func (p *Profile) Unpin() { p.ref.Add(-1) }

// SetFSExclusive updates the fs-exclusive flag (spec.md §4.8); the injected
// predicate in Tunables.FSExclusivePredicate is the usual driver of this,
// but a profile can also be updated directly by tests or workload drivers.
func (p *Profile) SetFSExclusive(v bool) { p.fsExclusive.Store(v) }

// idleWindowEligible implements spec.md §4.7's idle-window enablement rule:
// sync, non-IDLE class, producer has live tasks, and either the think-time
// mean is within slice_idle and it is not (seeky and hw_tag and not desktop),
// or the estimator is still in its early-sampling window.
func idleWindowEligible(q *Queue, t *Tunables, hwTag bool) bool {
	if !q.syncQueue || q.ent.ioprioClass == domain.IOPrioClassIdle {
		return false
	}
	if q.ioCtx == nil {
		return false
	}
	prof, ok := q.ioCtx.(*Profile)
	if !ok {
		return q.ioCtx.HasLiveTasks()
	}
	if !prof.HasLiveTasks() {
		return false
	}
	if prof.earlySampling() {
		return true
	}
	slow := prof.ThinkTimeMean() <= t.SliceIdle.Milliseconds()
	penalized := prof.IsSeeky() && hwTag && !t.Desktop
	return slow && !penalized
}
