package workload

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bfqcore/bfqd/internal/domain"
)

const sampleTrace = "reader,100,8,true,false,BE,4,0\n" +
	"writer,0,4,false,true,BE,4,5\n" +
	"reader,108,8,true,false,RT,0,10\n"

func TestParseTraceCSV_ParsesAllFields(t *testing.T) {
	tf, err := parseTraceCSV(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("parseTraceCSV: %v", err)
	}
	if tf.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tf.Len())
	}
	first := tf.events[0]
	if first.PID != "reader" || first.Sector != 100 || first.Sectors != 8 || !first.Sync || first.Meta {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := tf.events[1]
	if second.PID != "writer" || second.Sync || !second.Meta {
		t.Fatalf("unexpected second event: %+v", second)
	}
	third := tf.events[2]
	if third.IOPrioClass != domain.IOPrioClassRT || third.IOPrio != 0 {
		t.Fatalf("unexpected third event class/ioprio: %+v", third)
	}
}

func TestParseTraceCSV_RejectsUnknownClass(t *testing.T) {
	_, err := parseTraceCSV(strings.NewReader("p,0,8,true,false,WAT,4,0\n"))
	if err == nil {
		t.Fatalf("expected an error for an unknown ioprio class")
	}
}

func TestTraceFileProducer_SubmitsAllEventsInOrder(t *testing.T) {
	tf, err := parseTraceCSV(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("parseTraceCSV: %v", err)
	}

	src := &collectingSource{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := tf.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.got) != 3 {
		t.Fatalf("got %d requests, want 3", len(src.got))
	}
	if src.got[0].PID != "reader" || src.got[2].Sector != 108 {
		t.Fatalf("events replayed out of order: %+v", src.got)
	}
}

func TestTraceFileProducer_EmptyTraceReturnsImmediately(t *testing.T) {
	tf, err := parseTraceCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parseTraceCSV: %v", err)
	}
	src := &collectingSource{}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tf.Run(ctx, src); err != nil {
		t.Fatalf("Run on empty trace: %v", err)
	}
	if len(src.got) != 0 {
		t.Fatalf("expected no events submitted")
	}
}
