package hypothesis

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #region beliefs
// Beliefs reads the long-term belief store. Rows are written only by
// Ledger.Promote.
type Beliefs struct {
	db *sql.DB
}

// NewBeliefs migrates the belief table and returns a reader.
func NewBeliefs(db *sql.DB) (*Beliefs, error) {
	if err := store.Migrate(db, beliefSchema); err != nil {
		return nil, fmt.Errorf("beliefs: %w", err)
	}
	return &Beliefs{db: db}, nil
}

// List returns every belief, newest version first.
func (b *Beliefs) List() ([]Belief, error) {
	rows, err := b.db.Query(
		`SELECT id, hypothesis_id, version, pattern, category, subject, value, conditional,
			evidence_json, weight, promoted_at
		 FROM beliefs ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	defer rows.Close()

	var out []Belief
	for rows.Next() {
		var (
			bl                          Belief
			category, evidence, at      string
			subject, value, conditional sql.NullString
		)
		if err := rows.Scan(&bl.ID, &bl.HypothesisID, &bl.Version, &bl.Pattern, &category, &subject,
			&value, &conditional, &evidence, &bl.Weight, &at); err != nil {
			return nil, fmt.Errorf("scan belief: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &bl.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		bl.Category = Category(category)
		bl.Subject = subject.String
		bl.Value = value.String
		bl.Conditional = conditional.String
		bl.PromotedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, bl)
	}
	return out, rows.Err()
}

// Count returns the number of beliefs.
func (b *Beliefs) Count() (int, error) {
	var n int
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM beliefs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count beliefs: %w", err)
	}
	return n, nil
}

// #endregion beliefs
