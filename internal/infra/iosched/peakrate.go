package iosched

// peakRateSamples is PEAK_RATE_SAMPLES (spec.md §4.6).
const peakRateSamples = 32

// hwQueueThreshold is HW_QUEUE_THRESHOLD (spec.md §4.6).
const hwQueueThreshold = 4

// hwQueueSamples is HW_QUEUE_SAMPLES (spec.md §4.6).
const hwQueueSamples = 32

// minSampleUsecsForPeakRate is the "served duration >= 20ms" gate on taking
// a peak-rate sample (spec.md §4.6).
const minSampleUsecsForPeakRate = 20_000

// peakRateState tracks the estimator state described in spec.md §4.6:
// the highest bandwidth sample seen so far (a running maximum that is never
// lowered) and NCQ/hw_tag detection.
type peakRateState struct {
	peakRate     int64 // sectors/usec, fixed-point RateShift
	peakRateSeen int

	maxRQInDriver int
	hwTagSamples  int
	hwTag         bool
	hwTagDecided  bool
}

// recordDispatchSample feeds one sync-queue expiration into the peak-rate
// estimator (spec.md §4.6: "On each sync-queue expiration with a served
// duration >= 20ms, compute bw = service << RATE_SHIFT / usecs"). Returns
// true if the estimator now has a full window of samples and the caller
// should recompute system_max_budget (when not user-pinned).
func (p *peakRateState) recordDispatchSample(servedSectors int64, elapsedUsecs int64) (sampled bool) {
	if elapsedUsecs < minSampleUsecsForPeakRate {
		return false
	}
	bw := (servedSectors << RateShift) / elapsedUsecs
	if bw > p.peakRate {
		p.peakRate = bw
	}
	p.peakRateSeen++
	if p.peakRateSeen >= peakRateSamples {
		p.peakRateSeen = 0
		return true
	}
	return false
}

// systemMaxBudgetFromPeakRate implements spec.md §4.6: "system_max_budget =
// peak_rate * 1000 * timeout_sync * 0.75 >> RATE_SHIFT (sectors transferable
// in 3/4 of a sync timeout)". timeoutSyncMillis is timeout_sync in
// milliseconds.
func (p *peakRateState) systemMaxBudgetFromPeakRate(timeoutSyncMillis int64) int64 {
	if p.peakRate == 0 {
		return 0
	}
	num := p.peakRate * 1000 * timeoutSyncMillis * 3
	return (num / 4) >> RateShift
}

// recordInDriverSample feeds one in-driver-depth observation into the NCQ
// detector (spec.md §4.6: "Track max_rq_in_driver while in_driver + queued
// >= HW_QUEUE_THRESHOLD; after HW_QUEUE_SAMPLES such samples, set hw_tag =
// (max > threshold)").
func (p *peakRateState) recordInDriverSample(inDriver, queued int) {
	if p.hwTagDecided {
		return
	}
	if inDriver+queued < hwQueueThreshold {
		return
	}
	if inDriver > p.maxRQInDriver {
		p.maxRQInDriver = inDriver
	}
	p.hwTagSamples++
	if p.hwTagSamples >= hwQueueSamples {
		p.hwTag = p.maxRQInDriver > hwQueueThreshold
		p.hwTagDecided = true
	}
}
