package consolidation

// #region imports
import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #endregion imports

// #region types

// Reflection is one cycle's narrative, in the agent's own words.
type Reflection struct {
	CycleID   string    `json:"cycle_id" yaml:"cycle_id"`
	Text      string    `json:"text" yaml:"text"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// #endregion types

// #region journal

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id    TEXT NOT NULL,
	reflection  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_cycle ON journal(cycle_id);
`

// Journal persists consolidation reflections in SQLite. Entries are only
// ever appended.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// NewJournal creates the journal table if needed and returns a store.
func NewJournal(db *sql.DB) (*Journal, error) {
	if err := store.Migrate(db, journalSchema); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Save stores a reflection for the given cycle.
func (j *Journal) Save(cycleID, text string) (Reflection, error) {
	r := Reflection{CycleID: cycleID, Text: text, CreatedAt: j.now().UTC()}
	_, err := j.db.Exec(
		`INSERT INTO journal (cycle_id, reflection, created_at) VALUES (?, ?, ?)`,
		r.CycleID, r.Text, r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Reflection{}, fmt.Errorf("save reflection: %w", err)
	}
	return r, nil
}

// Latest returns the most recent reflection, or nil if none exists.
func (j *Journal) Latest() (*Reflection, error) {
	list, err := j.List(1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// List returns up to limit reflections, newest first.
func (j *Journal) List(limit int) ([]Reflection, error) {
	rows, err := j.db.Query(
		`SELECT cycle_id, reflection, created_at FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	defer rows.Close()

	var out []Reflection
	for rows.Next() {
		var r Reflection
		var createdAt string
		if err := rows.Scan(&r.CycleID, &r.Text, &createdAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion journal

// #region curiosity

var curiosityTriggers = []string{
	"i want to know",
	"i wonder",
	"i'm curious",
	"i am curious",
	"i don't know",
	"i do not know",
	"i'd like to understand",
	"i want to understand",
	"i need to understand",
}

// ExtractCuriosity returns the trigger phrases in a reflection that mark
// something the agent wants to learn about the principal.
func ExtractCuriosity(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, t := range curiosityTriggers {
		if strings.Contains(lower, t) {
			found = append(found, t)
		}
	}
	return found
}

// #endregion curiosity
