package iosched

// Snapshot types are diagnostic-only JSON views used by the `stats` CLI
// command (SPEC_FULL.md §3 "Serialization"). They are
// never read back by the scheduler itself — the live core's state remains
// entirely in-memory (spec.md §6 "Persisted state: None").

// EntitySnapshot is a point-in-time view of one Entity's scheduling state.
type EntitySnapshot struct {
	Kind          string `json:"kind"` // "queue" | "group"
	Weight        uint32 `json:"weight"`
	Service       int64  `json:"service"`
	Budget        int64  `json:"budget"`
	Start         int64  `json:"start"`
	Finish        int64  `json:"finish"`
	IOPrioClass   string `json:"ioprio_class"`
	IOPrio        int    `json:"ioprio"`
	OnServiceTree bool   `json:"on_service_tree"`
}

// Snapshot returns a JSON-serializable view of e.
func (e *Entity) Snapshot() EntitySnapshot {
	kindName := "group"
	if e.kind == kindQueue {
		kindName = "queue"
	}
	return EntitySnapshot{
		Kind:          kindName,
		Weight:        e.weight,
		Service:       e.service,
		Budget:        e.budget,
		Start:         e.start,
		Finish:        e.finish,
		IOPrioClass:   e.ioprioClass.String(),
		IOPrio:        e.ioprio,
		OnServiceTree: e.onST,
	}
}

// QueueSnapshot is a point-in-time view of one leaf Queue.
type QueueSnapshot struct {
	PID        string         `json:"pid"`
	Queued     int            `json:"queued"`
	Dispatched int            `json:"dispatched"`
	Busy       bool           `json:"busy"`
	SyncQueue  bool           `json:"sync_queue"`
	IdleWindow bool           `json:"idle_window"`
	MaxBudget  int64          `json:"max_budget"`
	Entity     EntitySnapshot `json:"entity"`
}

// Snapshot returns a JSON-serializable view of q.
func (q *Queue) Snapshot() QueueSnapshot {
	return QueueSnapshot{
		PID:        q.pid,
		Queued:     q.Queued(),
		Dispatched: q.dispatched,
		Busy:       q.busy,
		SyncQueue:  q.syncQueue,
		IdleWindow: q.idleWindow,
		MaxBudget:  q.maxBudget,
		Entity:     q.ent.Snapshot(),
	}
}

// StatsSnapshot is a device-wide diagnostic snapshot, the JSON payload the
// `stats` CLI command prints at the end of its run.
type StatsSnapshot struct {
	BusyQueues      int             `json:"busy_queues"`
	QueuedTotal     int             `json:"queued_total"`
	RQInDriverSync  int             `json:"rq_in_driver_sync"`
	RQInDriverAsync int             `json:"rq_in_driver_async"`
	SyncFlight      int             `json:"sync_flight"`
	PeakRate        int64           `json:"peak_rate"`
	HWTag           bool            `json:"hw_tag"`
	SystemMaxBudget int64           `json:"system_max_budget"`
	BudgetsAssigned int64           `json:"budgets_assigned"`
	Queues          []QueueSnapshot `json:"queues"`
}

// Snapshot returns a device-wide diagnostic snapshot of s.
func (s *Scheduler) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues := make([]QueueSnapshot, 0, len(s.queuesByPID))
	for _, q := range s.queuesByPID {
		queues = append(queues, q.Snapshot())
	}

	return StatsSnapshot{
		BusyQueues:      s.busyQueues,
		QueuedTotal:     s.queuedTotal,
		RQInDriverSync:  s.rqInDriverSync,
		RQInDriverAsync: s.rqInDriverAsync,
		SyncFlight:      s.syncFlight,
		PeakRate:        s.peakRate.peakRate,
		HWTag:           s.peakRate.hwTag,
		SystemMaxBudget: s.systemMaxBudget(),
		BudgetsAssigned: s.budgetsAssigned,
		Queues:          queues,
	}
}
