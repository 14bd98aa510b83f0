package pipeline

// #region imports
import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #endregion

// #region schema

const strategyOutcomesSchema = `
CREATE TABLE IF NOT EXISTS strategy_outcomes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id     TEXT NOT NULL,
    posture     TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    source      TEXT NOT NULL,
    quality     REAL NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategy_outcomes_posture
ON strategy_outcomes(posture, strategy_id);
`

// minSamples is the number of outcomes a strategy needs before it is trusted.
const minSamples = 3

// halfLife weights recent selections more heavily.
const halfLife = 7 * 24 * time.Hour

// #endregion

// #region memory-struct

// StrategyMemory remembers which strategy convergent selection chose under
// each posture. It is consulted only when the judge fails.
type StrategyMemory struct {
	db     *sql.DB
	now    func() time.Time
	window int
}

// NewStrategyMemory initializes the strategy_outcomes table.
func NewStrategyMemory(db *sql.DB) (*StrategyMemory, error) {
	if err := store.Migrate(db, strategyOutcomesSchema); err != nil {
		return nil, fmt.Errorf("strategy memory: %w", err)
	}
	return &StrategyMemory{db: db, now: time.Now}, nil
}

// SetWindow limits BestStrategy to the newest n outcomes per posture. Zero
// or less means every outcome counts.
func (m *StrategyMemory) SetWindow(n int) { m.window = n }

// #endregion

// #region outcome-record

// OutcomeRecord is one row of strategy_outcomes.
type OutcomeRecord struct {
	TurnID     string
	Posture    affect.Posture
	StrategyID StrategyID
	Source     string
	Quality    float64
	CreatedAt  time.Time
}

// RecordOutcome persists a single selection.
func (m *StrategyMemory) RecordOutcome(rec OutcomeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	_, err := m.db.Exec(`
		INSERT INTO strategy_outcomes (turn_id, posture, strategy_id, source, quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TurnID,
		string(rec.Posture),
		string(rec.StrategyID),
		rec.Source,
		rec.Quality,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// #endregion

// #region best-strategy

// BestStrategy returns the allowed strategy with the highest decay-weighted
// quality for posture. Returns ("", 0, nil) when no strategy has minSamples.
func (m *StrategyMemory) BestStrategy(posture affect.Posture, allowed []StrategyID) (StrategyID, float64, error) {
	limit := m.window
	if limit <= 0 {
		limit = -1
	}
	rows, err := m.db.Query(`
		SELECT strategy_id, quality, created_at
		FROM strategy_outcomes
		WHERE posture = ?
		ORDER BY id DESC
		LIMIT ?`,
		string(posture), limit,
	)
	if err != nil {
		return "", 0, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	type stratAccum struct {
		weightedSum float64
		totalWeight float64
		count       int
	}

	ok := make(map[StrategyID]bool, len(allowed))
	for _, sid := range allowed {
		ok[sid] = true
	}

	now := m.now()
	accum := make(map[StrategyID]*stratAccum)
	for rows.Next() {
		var sid string
		var quality float64
		var createdAtStr string
		if err := rows.Scan(&sid, &quality, &createdAtStr); err != nil {
			return "", 0, fmt.Errorf("scan outcome: %w", err)
		}
		if !ok[StrategyID(sid)] {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		weight := math.Exp(-now.Sub(createdAt).Hours() / halfLife.Hours())

		a, found := accum[StrategyID(sid)]
		if !found {
			a = &stratAccum{}
			accum[StrategyID(sid)] = a
		}
		a.weightedSum += quality * weight
		a.totalWeight += weight
		a.count++
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}

	var bestID StrategyID
	bestScore := -1.0
	// iterate in allowed order so ties resolve deterministically
	for _, sid := range allowed {
		a, found := accum[sid]
		if !found || a.count < minSamples || a.totalWeight == 0 {
			continue
		}
		avg := a.weightedSum / a.totalWeight
		if avg > bestScore {
			bestScore = avg
			bestID = sid
		}
	}
	if bestID == "" {
		return "", 0, nil
	}
	return bestID, bestScore, nil
}

// #endregion
