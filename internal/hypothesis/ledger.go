package hypothesis

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #region schema
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS hypotheses (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	pattern          TEXT NOT NULL,
	normalized       TEXT NOT NULL,
	evidence_json    TEXT NOT NULL,
	weight           REAL NOT NULL,
	validation_count INTEGER NOT NULL,
	status           TEXT NOT NULL,
	conditional      TEXT,
	category         TEXT NOT NULL,
	subject          TEXT,
	value            TEXT,
	conflict         INTEGER NOT NULL DEFAULT 0,
	conflict_reason  TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	promoted_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_hypotheses_normalized ON hypotheses(normalized);`

const beliefSchema = `
CREATE TABLE IF NOT EXISTS beliefs (
	id            TEXT PRIMARY KEY,
	hypothesis_id TEXT NOT NULL UNIQUE,
	version       INTEGER NOT NULL,
	pattern       TEXT NOT NULL,
	category      TEXT NOT NULL,
	subject       TEXT,
	value         TEXT,
	conditional   TEXT,
	evidence_json TEXT NOT NULL,
	weight        REAL NOT NULL,
	promoted_at   TEXT NOT NULL
);`

const selectColumns = `id, pattern, evidence_json, weight, validation_count, status, conditional, category,
	subject, value, conflict, conflict_reason, created_at, updated_at, promoted_at`

// #endregion schema

// #region ledger
// Ledger is the append-only hypothesis ledger. Rows are never deleted:
// rejection and promotion only change status columns, and both remove the
// row from every open view.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger migrates the ledger and belief tables.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if err := store.Migrate(db, ledgerSchema, beliefSchema); err != nil {
		return nil, fmt.Errorf("hypothesis ledger: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// SetClock replaces time.Now.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// #endregion ledger

// #region append
// Append stores a new hypothesis. Missing id, timestamps and status are
// filled in; the stored record is returned. Every hypothesis enters the
// ledger pending, so any other status is an invalid transition.
func (l *Ledger) Append(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := l.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	switch r.Status {
	case "":
		r.Status = StatusPending
	case StatusPending:
	default:
		return Record{}, fmt.Errorf("append as %s: %w", r.Status, ErrInvalidTransition)
	}
	if r.Evidence == nil {
		r.Evidence = []string{}
	}
	r.PromotedAt = time.Time{}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return Record{}, fmt.Errorf("marshal evidence: %w", err)
	}

	_, err = l.db.Exec(
		`INSERT INTO hypotheses (id, pattern, normalized, evidence_json, weight, validation_count, status,
			conditional, category, subject, value, conflict, conflict_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pattern, Normalize(r.Pattern), string(evidence), r.Weight, r.ValidationCount, string(r.Status),
		store.NullIfEmpty(r.Conditional), string(r.Category), store.NullIfEmpty(r.Subject),
		store.NullIfEmpty(r.Value), boolInt(r.Conflict), store.NullIfEmpty(r.ConflictReason),
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Record{}, fmt.Errorf("append hypothesis: %w", err)
	}
	return r, nil
}

// #endregion append

// #region lookup
// Get returns the hypothesis with id.
func (l *Ledger) Get(id string) (Record, error) {
	row := l.db.QueryRow(`SELECT `+selectColumns+` FROM hypotheses WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", id, err)
	}
	return r, nil
}

// FindOpen returns the oldest open hypothesis whose pattern normalizes to the
// same text as pattern.
func (l *Ledger) FindOpen(pattern string) (Record, bool, error) {
	row := l.db.QueryRow(
		`SELECT `+selectColumns+` FROM hypotheses
		 WHERE normalized = ? AND status != ? AND promoted_at IS NULL
		 ORDER BY seq ASC LIMIT 1`,
		Normalize(pattern), string(StatusRejected))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("find open: %w", err)
	}
	return r, true, nil
}

// Open returns every hypothesis that is neither rejected nor promoted,
// oldest first.
func (l *Ledger) Open() ([]Record, error) {
	return l.query(
		`SELECT `+selectColumns+` FROM hypotheses
		 WHERE status != ? AND promoted_at IS NULL ORDER BY seq ASC`,
		string(StatusRejected))
}

// ReviewQueue returns at most limit hypotheses awaiting review (pending or
// testing), oldest first.
func (l *Ledger) ReviewQueue(limit int) ([]Record, error) {
	if limit < 1 {
		return nil, nil
	}
	return l.query(
		`SELECT `+selectColumns+` FROM hypotheses
		 WHERE status IN (?, ?) AND promoted_at IS NULL ORDER BY seq ASC LIMIT ?`,
		string(StatusPending), string(StatusTesting), limit)
}

// All returns the newest limit rows regardless of status, for inspection.
func (l *Ledger) All(limit int) ([]Record, error) {
	return l.query(`SELECT `+selectColumns+` FROM hypotheses ORDER BY seq DESC LIMIT ?`, limit)
}

// Promotable returns the open hypotheses that pass the promotion gate.
func (l *Ledger) Promotable() ([]Record, error) {
	open, err := l.Open()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range open {
		if r.Promotable() {
			out = append(out, r)
		}
	}
	return out, nil
}

// #endregion lookup

// #region lifecycle
// Reinforce records one more observation of an open hypothesis: the
// validation count increments, new evidence is merged and a pending
// hypothesis moves to testing.
func (l *Ledger) Reinforce(id string, evidence []string) (Record, error) {
	r, err := l.Get(id)
	if err != nil {
		return Record{}, err
	}
	if r.Status == StatusRejected || r.Promoted() {
		return Record{}, fmt.Errorf("reinforce %s (%s): %w", id, r.Status, ErrInvalidTransition)
	}
	r.ValidationCount++
	r.Evidence = mergeEvidence(r.Evidence, evidence)
	if r.Status == StatusPending {
		r.Status = StatusTesting
	}
	r.UpdatedAt = l.now().UTC()

	raw, err := json.Marshal(r.Evidence)
	if err != nil {
		return Record{}, fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = l.db.Exec(
		`UPDATE hypotheses SET validation_count = ?, evidence_json = ?, status = ?, updated_at = ? WHERE id = ?`,
		r.ValidationCount, string(raw), string(r.Status), r.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return Record{}, fmt.Errorf("reinforce %s: %w", id, err)
	}
	return r, nil
}

// Transition moves a hypothesis to status to.
func (l *Ledger) Transition(id string, to Status) (Record, error) {
	r, err := l.Get(id)
	if err != nil {
		return Record{}, err
	}
	if r.Promoted() || !CanTransition(r.Status, to) {
		return Record{}, fmt.Errorf("%s → %s: %w", r.Status, to, ErrInvalidTransition)
	}
	r.Status = to
	r.UpdatedAt = l.now().UTC()
	_, err = l.db.Exec(`UPDATE hypotheses SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), r.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return Record{}, fmt.Errorf("transition %s: %w", id, err)
	}
	return r, nil
}

// Confirm records the principal's explicit confirmation. A pending
// hypothesis passes through testing first.
func (l *Ledger) Confirm(id string) (Record, error) {
	r, err := l.Get(id)
	if err != nil {
		return Record{}, err
	}
	if r.Status == StatusPending {
		if _, err := l.Transition(id, StatusTesting); err != nil {
			return Record{}, err
		}
	}
	return l.Transition(id, StatusConfirmed)
}

// Reject prunes a hypothesis from every view. The row stays in the ledger.
func (l *Ledger) Reject(id string) (Record, error) {
	return l.Transition(id, StatusRejected)
}

// #endregion lifecycle

// #region promote
// Promote copies a promotable hypothesis into the belief store with the
// next version stamp and marks the ledger row promoted, in one transaction.
func (l *Ledger) Promote(id string) (Belief, error) {
	r, err := l.Get(id)
	if err != nil {
		return Belief{}, err
	}
	if !r.Promotable() {
		return Belief{}, fmt.Errorf("promote %s (%s, count %d): %w", id, r.Status, r.ValidationCount, ErrInvalidTransition)
	}

	now := l.now().UTC()
	raw, err := json.Marshal(r.Evidence)
	if err != nil {
		return Belief{}, fmt.Errorf("marshal evidence: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return Belief{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM beliefs`).Scan(&version); err != nil {
		return Belief{}, fmt.Errorf("next belief version: %w", err)
	}
	b := Belief{
		ID:           uuid.New().String(),
		HypothesisID: r.ID,
		Version:      version,
		Pattern:      r.Pattern,
		Category:     r.Category,
		Subject:      r.Subject,
		Value:        r.Value,
		Conditional:  r.Conditional,
		Evidence:     r.Evidence,
		Weight:       r.Weight,
		PromotedAt:   now,
	}
	_, err = tx.Exec(
		`INSERT INTO beliefs (id, hypothesis_id, version, pattern, category, subject, value, conditional,
			evidence_json, weight, promoted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.HypothesisID, b.Version, b.Pattern, string(b.Category), store.NullIfEmpty(b.Subject),
		store.NullIfEmpty(b.Value), store.NullIfEmpty(b.Conditional), string(raw), b.Weight,
		now.Format(time.RFC3339Nano))
	if err != nil {
		return Belief{}, fmt.Errorf("insert belief: %w", err)
	}
	_, err = tx.Exec(`UPDATE hypotheses SET promoted_at = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), r.ID)
	if err != nil {
		return Belief{}, fmt.Errorf("mark promoted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Belief{}, fmt.Errorf("commit promote: %w", err)
	}
	return b, nil
}

// #endregion promote

// #region scan
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r                                   Record
		evidence, status, category          string
		conditional, subject, value, reason sql.NullString
		createdAt, updatedAt                string
		promotedAt                          sql.NullString
		conflict                            int
	)
	err := row.Scan(&r.ID, &r.Pattern, &evidence, &r.Weight, &r.ValidationCount, &status, &conditional,
		&category, &subject, &value, &conflict, &reason, &createdAt, &updatedAt, &promotedAt)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
		return Record{}, fmt.Errorf("decode evidence: %w", err)
	}
	r.Status = Status(status)
	r.Category = Category(category)
	r.Conditional = conditional.String
	r.Subject = subject.String
	r.Value = value.String
	r.Conflict = conflict != 0
	r.ConflictReason = reason.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if promotedAt.Valid {
		r.PromotedAt, _ = time.Parse(time.RFC3339Nano, promotedAt.String)
	}
	return r, nil
}

func (l *Ledger) query(q string, args ...any) ([]Record, error) {
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query hypotheses: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hypothesis: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion scan

// #region helpers
func mergeEvidence(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	out := append([]string(nil), have...)
	for _, e := range have {
		seen[strings.TrimSpace(e)] = true
	}
	for _, e := range add {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
