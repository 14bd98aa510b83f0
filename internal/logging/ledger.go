package logging

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// ErrDuplicateTurn is returned when a turn id has already been recorded.
var ErrDuplicateTurn = errors.New("turn already recorded")

// #region schema
const auditSchema = `
CREATE TABLE IF NOT EXISTS turn_log (
	turn_id    TEXT PRIMARY KEY,
	branch     TEXT NOT NULL,
	posture    TEXT,
	trace_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS friction_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id    TEXT,
	input      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cycle_log (
	cycle_id          TEXT PRIMARY KEY,
	duration_ms       INTEGER NOT NULL,
	identity_verified INTEGER NOT NULL,
	drift_detected    INTEGER NOT NULL,
	generated         INTEGER NOT NULL,
	promoted          INTEGER NOT NULL,
	report_json       TEXT,
	created_at        TEXT NOT NULL
);`

// #endregion schema

// #region ledger
// Ledger is the offline audit trail. The core only writes to it.
type Ledger struct {
	db *sql.DB
}

// NewLedger migrates the audit tables and returns a Ledger.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if err := store.Migrate(db, auditSchema); err != nil {
		return nil, fmt.Errorf("audit ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// #endregion ledger

// #region record-turn
// RecordTurn writes the trace for one turn. Rows are write-once: recording
// the same turn id twice returns ErrDuplicateTurn.
func (l *Ledger) RecordTurn(entry TurnEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := l.db.Exec(
		`INSERT OR IGNORE INTO turn_log (turn_id, branch, posture, trace_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.TurnID,
		entry.Branch,
		store.NullIfEmpty(entry.Posture),
		entry.TraceJSON,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record turn %s: %w", entry.TurnID, ErrDuplicateTurn)
	}
	return nil
}

// #endregion record-turn

// #region record-friction
// RecordFriction writes one moral-friction exchange.
func (l *Ledger) RecordFriction(entry FrictionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(
		`INSERT INTO friction_log (turn_id, input, reason, response, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		store.NullIfEmpty(entry.TurnID),
		entry.Input,
		entry.Reason,
		entry.Response,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record friction: %w", err)
	}
	return nil
}

// #endregion record-friction

// #region record-cycle
// RecordCycle writes one consolidation report.
func (l *Ledger) RecordCycle(entry CycleEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(
		`INSERT INTO cycle_log (cycle_id, duration_ms, identity_verified, drift_detected, generated, promoted, report_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CycleID,
		entry.DurationMS,
		boolInt(entry.IdentityVerified),
		boolInt(entry.DriftDetected),
		entry.Generated,
		entry.Promoted,
		store.NullIfEmpty(entry.ReportJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// #endregion record-cycle

// #region counts
// Counts returns the number of rows in each audit table, for inspection.
func (l *Ledger) Counts() (turns, frictions, cycles int, err error) {
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"turn_log", &turns},
		{"friction_log", &frictions},
		{"cycle_log", &cycles},
	} {
		if err = l.db.QueryRow("SELECT COUNT(*) FROM " + q.table).Scan(q.dst); err != nil {
			return 0, 0, 0, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return turns, frictions, cycles, nil
}

// #endregion counts

// #region helpers
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
