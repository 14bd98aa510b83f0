package identity

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #region schema
const historySchema = `
CREATE TABLE IF NOT EXISTS evolution_history (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id     TEXT NOT NULL UNIQUE,
	version      INTEGER NOT NULL,
	source       TEXT NOT NULL,
	fields       TEXT NOT NULL,
	before_json  TEXT NOT NULL,
	after_json   TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
`

// HistoryCap is the number of evolution entries retained.
const HistoryCap = 1000

// #endregion schema

// #region entry
// EvolutionEntry is one immutable record of a surface mutation.
type EvolutionEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Version   int       `json:"version" yaml:"version"`
	Source    string    `json:"source" yaml:"source"`
	Fields    []string  `json:"fields" yaml:"fields"`
	Before    Surface   `json:"before" yaml:"before"`
	After     Surface   `json:"after" yaml:"after"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// #endregion entry

// #region history
// History is the append-only evolution ledger, trimmed to the last HistoryCap rows.
type History struct {
	db *sql.DB
}

// NewHistory creates the evolution_history table if needed.
func NewHistory(db *sql.DB) (*History, error) {
	if err := store.Migrate(db, historySchema); err != nil {
		return nil, fmt.Errorf("evolution history: %w", err)
	}
	return &History{db: db}, nil
}

// Append writes e and drops anything older than the newest HistoryCap entries.
func (h *History) Append(e EvolutionEntry) (EvolutionEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return e, fmt.Errorf("marshal fields: %w", err)
	}
	before, err := json.Marshal(e.Before)
	if err != nil {
		return e, fmt.Errorf("marshal before: %w", err)
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return e, fmt.Errorf("marshal after: %w", err)
	}

	tx, err := h.db.Begin()
	if err != nil {
		return e, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO evolution_history (entry_id, version, source, fields, before_json, after_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Version, e.Source, string(fields), string(before), string(after),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return e, fmt.Errorf("insert evolution entry: %w", err)
	}
	_, err = tx.Exec(
		`DELETE FROM evolution_history WHERE seq NOT IN (
			SELECT seq FROM evolution_history ORDER BY seq DESC LIMIT ?
		)`, HistoryCap,
	)
	if err != nil {
		return e, fmt.Errorf("trim evolution history: %w", err)
	}
	return e, tx.Commit()
}

// List returns up to limit entries, newest first.
func (h *History) List(limit int) ([]EvolutionEntry, error) {
	rows, err := h.db.Query(
		`SELECT entry_id, version, source, fields, before_json, after_json, created_at
		 FROM evolution_history ORDER BY seq DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list evolution history: %w", err)
	}
	defer rows.Close()

	var out []EvolutionEntry
	for rows.Next() {
		var e EvolutionEntry
		var fields, before, after, created string
		if err := rows.Scan(&e.ID, &e.Version, &e.Source, &fields, &before, &after, &created); err != nil {
			return nil, fmt.Errorf("scan evolution entry: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		if err := json.Unmarshal([]byte(before), &e.Before); err != nil {
			return nil, fmt.Errorf("unmarshal before: %w", err)
		}
		if err := json.Unmarshal([]byte(after), &e.After); err != nil {
			return nil, fmt.Errorf("unmarshal after: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of retained entries.
func (h *History) Count() (int, error) {
	var n int
	if err := h.db.QueryRow(`SELECT COUNT(*) FROM evolution_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count evolution history: %w", err)
	}
	return n, nil
}

// #endregion history
