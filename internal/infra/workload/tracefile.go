package workload

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bfqcore/bfqd/internal/domain"
)

// TraceEvent is one recorded request to be replayed, in submission order.
// OffsetMillis is relative to the first event in the trace.
type TraceEvent struct {
	PID          string
	Sector       int64
	Sectors      int64
	Sync         bool
	Meta         bool
	IOPrioClass  domain.IOPrioClass
	IOPrio       int
	OffsetMillis int64
}

// TraceFileProducer replays a fixed sequence of requests read from a CSV
// trace file, preserving the recorded relative timing (spec.md §8's
// "captured workload" seed scenarios).
type TraceFileProducer struct {
	events []TraceEvent
}

// LoadTraceFile reads a CSV trace with columns
// pid,sector,sectors,sync,meta,class,ioprio,offset_millis (class is
// "RT"/"BE"/"IDLE"; ioprio is the 0-7 level within that class) — the format
// documented in SPEC_FULL.md §4.10.
func LoadTraceFile(path string) (*TraceFileProducer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return parseTraceCSV(bufio.NewReader(f))
}

func parseTraceCSV(r io.Reader) (*TraceFileProducer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 8

	var events []TraceEvent
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse trace csv: %w", err)
		}

		sector, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse sector: %w", err)
		}
		sectors, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse sectors: %w", err)
		}
		sync, err := strconv.ParseBool(rec[3])
		if err != nil {
			return nil, fmt.Errorf("parse sync: %w", err)
		}
		meta, err := strconv.ParseBool(rec[4])
		if err != nil {
			return nil, fmt.Errorf("parse meta: %w", err)
		}
		class, err := parseClass(rec[5])
		if err != nil {
			return nil, err
		}
		ioprio, err := strconv.Atoi(rec[6])
		if err != nil {
			return nil, fmt.Errorf("parse ioprio: %w", err)
		}
		offset, err := strconv.ParseInt(rec[7], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse offset_millis: %w", err)
		}

		events = append(events, TraceEvent{
			PID: rec[0], Sector: sector, Sectors: sectors,
			Sync: sync, Meta: meta, IOPrioClass: class, IOPrio: ioprio,
			OffsetMillis: offset,
		})
	}
	return &TraceFileProducer{events: events}, nil
}

func parseClass(s string) (domain.IOPrioClass, error) {
	switch s {
	case "RT":
		return domain.IOPrioClassRT, nil
	case "BE":
		return domain.IOPrioClassBE, nil
	case "IDLE":
		return domain.IOPrioClassIdle, nil
	default:
		return 0, fmt.Errorf("unknown ioprio class %q", s)
	}
}

// Run submits every event to src at its recorded relative offset, then
// returns once the trace is exhausted.
func (t *TraceFileProducer) Run(ctx context.Context, src domain.RequestSource) error {
	if len(t.events) == 0 {
		return nil
	}
	start := time.Now()
	for _, ev := range t.events {
		target := start.Add(time.Duration(ev.OffsetMillis) * time.Millisecond)
		if d := time.Until(target); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		req := domain.Request{
			ID:          uuid.NewString(),
			PID:         ev.PID,
			Sector:      ev.Sector,
			Sectors:     ev.Sectors,
			Sync:        ev.Sync,
			Meta:        ev.Meta,
			IOPrioClass: ev.IOPrioClass,
			IOPrio:      ev.IOPrio,
			SubmittedAt: time.Now(),
		}
		if err := src.Submit(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of events loaded.
func (t *TraceFileProducer) Len() int { return len(t.events) }
