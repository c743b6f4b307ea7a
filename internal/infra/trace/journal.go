// Package trace provides a SQLite-backed journal of dispatch events for
// offline analysis and replay (spec.md §6 "Observability": "a durable
// record of every dispatch and expiration decision").
// Uses WAL mode for concurrent reads and crash-safe writes.
package trace

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/bfqcore/bfqd/internal/domain"
)

// Journal wraps a SQLite connection with WAL mode and migrations.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/journal.db. Enables WAL
// mode and a 5-second busy timeout.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "journal.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// Close cleanly shuts down the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks database connectivity.
func (j *Journal) Ping() error {
	return j.db.Ping()
}

func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			pid           TEXT NOT NULL,
			request_id    TEXT NOT NULL,
			sector        INTEGER NOT NULL,
			sectors       INTEGER NOT NULL,
			sync          BOOLEAN NOT NULL,
			ioprio_class  TEXT NOT NULL,
			dispatched_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expiration_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			pid         TEXT NOT NULL,
			reason      TEXT NOT NULL,
			served      INTEGER NOT NULL,
			budget      INTEGER NOT NULL,
			expired_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_events_pid ON dispatch_events(pid)`,
		`CREATE INDEX IF NOT EXISTS idx_expiration_events_pid ON expiration_events(pid)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Dispatch events ────────────────────────────────────────────────────────

// RecordDispatch appends one dispatched-request event to the journal
// (spec.md §6: "every dispatch decision is journaled for replay").
func (j *Journal) RecordDispatch(req domain.Request) error {
	_, err := j.db.Exec(
		`INSERT INTO dispatch_events (pid, request_id, sector, sectors, sync, ioprio_class, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.PID, req.ID, req.Sector, req.Sectors, req.Sync, req.IOPrioClass.String(),
		req.DispatchedAt.UnixNano(),
	)
	return err
}

// RecordExpiration appends one queue-expiration event to the journal.
func (j *Journal) RecordExpiration(pid string, reason domain.ExpireReason, served, budget int64, expiredAtUnixNano int64) error {
	_, err := j.db.Exec(
		`INSERT INTO expiration_events (pid, reason, served, budget, expired_at)
		 VALUES (?, ?, ?, ?, ?)`,
		pid, reason.String(), served, budget, expiredAtUnixNano,
	)
	return err
}

// DispatchEvent is a single journaled dispatch record, replayed for
// analysis or synthetic workload regeneration.
type DispatchEvent struct {
	PID          string
	RequestID    string
	Sector       int64
	Sectors      int64
	Sync         bool
	IOPrioClass  string
	DispatchedAt int64
}

// RecentDispatches returns the most recent dispatch events, newest last,
// bounded by limit.
func (j *Journal) RecentDispatches(limit int) ([]DispatchEvent, error) {
	rows, err := j.db.Query(
		`SELECT pid, request_id, sector, sectors, sync, ioprio_class, dispatched_at
		 FROM dispatch_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DispatchEvent
	for rows.Next() {
		var e DispatchEvent
		if err := rows.Scan(&e.PID, &e.RequestID, &e.Sector, &e.Sectors, &e.Sync, &e.IOPrioClass, &e.DispatchedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// ExpirationCountsByReason summarizes how many times each expiration reason
// has fired, for the `trace` CLI subcommand.
func (j *Journal) ExpirationCountsByReason() (map[string]int64, error) {
	rows, err := j.db.Query(`SELECT reason, COUNT(*) FROM expiration_events GROUP BY reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		out[reason] = count
	}
	return out, rows.Err()
}
