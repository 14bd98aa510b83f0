package logging

import "time"

// #region turn-entry
// TurnEntry is one row in turn_log. TraceJSON holds the full serialized turn
// trace; the remaining columns are denormalized for offline queries.
type TurnEntry struct {
	TurnID    string
	Branch    string // "normal" | "friction" | "delegation_confirm" | "delegation_execute" | "draft_only" | "apology"
	Posture   string
	TraceJSON string
	CreatedAt time.Time
}

// #endregion turn-entry

// #region friction-entry
// FrictionEntry is one row in friction_log.
type FrictionEntry struct {
	TurnID    string
	Input     string
	Reason    string
	Response  string
	CreatedAt time.Time
}

// #endregion friction-entry

// #region cycle-entry
// CycleEntry is one row in cycle_log, written once per consolidation cycle.
type CycleEntry struct {
	CycleID          string
	DurationMS       int64
	IdentityVerified bool
	DriftDetected    bool
	Generated        int
	Promoted         int
	ReportJSON       string
	CreatedAt        time.Time
}

// #endregion cycle-entry
