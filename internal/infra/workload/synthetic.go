// Package workload provides request producers that drive a scheduler
// without a real block layer underneath it (spec.md §1 notes the block
// layer itself is out of scope; this package is the deterministic stand-in
// the CLI and tests submit load through, grounded on the teacher's
// mock-backend idiom of standing in for real infrastructure behind the same
// interface).
package workload

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/bfqcore/bfqd/internal/domain"
)

// AccessPattern selects how a SyntheticProducer advances its sector
// position between requests (spec.md §8's seed scenarios: "sequential
// reader", "seeky producer").
type AccessPattern int

const (
	// PatternSequential advances forward by the transfer size each request.
	PatternSequential AccessPattern = iota
	// PatternRandom jumps to a uniformly random sector within the device.
	PatternRandom
	// PatternSeeky alternates between two far-apart regions, maximizing
	// seek distance between consecutive requests.
	PatternSeeky
)

// SyntheticProducer generates a stream of synthetic requests for one
// simulated producer (one PID), driving a domain.RequestSource at a fixed
// interval until its context is canceled.
type SyntheticProducer struct {
	PID         string
	Pattern     AccessPattern
	Sync        bool
	IOPrioClass domain.IOPrioClass
	IOPrio      int

	TransferSectors int64
	DeviceSectors   int64
	Interval        time.Duration

	rng *rand.Rand

	pos int64
	low bool // PatternSeeky: which of the two regions we're at
}

// NewSyntheticProducer returns a producer with conservative defaults for any
// zero-valued field.
func NewSyntheticProducer(pid string, pattern AccessPattern, seed int64) *SyntheticProducer {
	return &SyntheticProducer{
		PID:             pid,
		Pattern:         pattern,
		Sync:            true,
		IOPrioClass:     domain.IOPrioClassBE,
		IOPrio:          domain.IOPrioNorm,
		TransferSectors: 8,
		DeviceSectors:   1 << 24, // 8 GiB in 512-byte sectors
		Interval:        time.Millisecond,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Run submits requests to src at Interval until ctx is canceled or count
// requests have been submitted (count <= 0 means unbounded).
func (p *SyntheticProducer) Run(ctx context.Context, src domain.RequestSource, count int) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	submitted := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			req := p.next()
			if err := src.Submit(ctx, req); err != nil {
				return err
			}
			submitted++
			if count > 0 && submitted >= count {
				return nil
			}
		}
	}
}

// next produces the next request and advances this producer's position
// according to its access pattern.
func (p *SyntheticProducer) next() domain.Request {
	sector := p.advance()
	return domain.Request{
		ID:          uuid.NewString(),
		PID:         p.PID,
		Sector:      sector,
		Sectors:     p.TransferSectors,
		Sync:        p.Sync,
		IOPrioClass: p.IOPrioClass,
		IOPrio:      p.IOPrio,
		SubmittedAt: time.Now(),
	}
}

func (p *SyntheticProducer) advance() int64 {
	switch p.Pattern {
	case PatternRandom:
		p.pos = p.rng.Int63n(p.DeviceSectors)
	case PatternSeeky:
		if p.low {
			p.pos = p.TransferSectors
		} else {
			p.pos = p.DeviceSectors - p.TransferSectors
		}
		p.low = !p.low
	default: // PatternSequential
		if p.pos+p.TransferSectors >= p.DeviceSectors {
			p.pos = 0
		} else {
			p.pos += p.TransferSectors
		}
	}
	return p.pos
}
