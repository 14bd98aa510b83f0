package consolidation

import "time"

// #region step-names
const (
	StepSettle       = "settle_affect"
	StepSummarize    = "summarize_memory"
	StepIdentity     = "verify_identity"
	StepExtract      = "extract_patterns"
	StepConflicts    = "detect_conflicts"
	StepPersist      = "persist_hypotheses"
	StepConsistency  = "check_consistency"
	StepPromote      = "promote_beliefs"
	StepReflect      = "reflect"
	StepReport       = "report"
	consolidatedType = "consolidated_fact"
)

// #endregion step-names

// #region report

// StepResult is the outcome of one cycle step. A failed step never aborts
// the cycle.
type StepResult struct {
	Name     string        `json:"name" yaml:"name"`
	OK       bool          `json:"ok" yaml:"ok"`
	Skipped  bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
}

// Conflict flags a new interest hypothesis that barely overlaps the current
// interests. Conflicts are reported, never resolved automatically.
type Conflict struct {
	HypothesisID string  `json:"hypothesis_id" yaml:"hypothesis_id"`
	Subject      string  `json:"subject" yaml:"subject"`
	Overlap      float64 `json:"overlap" yaml:"overlap"`
	Reason       string  `json:"reason" yaml:"reason"`
}

// Inconsistency is a recorded claim contradicted by observed behavior.
type Inconsistency struct {
	Claim    string  `json:"claim" yaml:"claim"`
	Observed string  `json:"observed" yaml:"observed"`
	Severity float64 `json:"severity" yaml:"severity"`
}

// Report summarizes one maintenance cycle.
type Report struct {
	CycleID             string          `json:"cycle_id" yaml:"cycle_id"`
	StartedAt           time.Time       `json:"started_at" yaml:"started_at"`
	Duration            time.Duration   `json:"duration_ns" yaml:"duration"`
	IdentityVerified    bool            `json:"identity_verified" yaml:"identity_verified"`
	DriftDetected       bool            `json:"drift_detected" yaml:"drift_detected"`
	HypothesesGenerated int             `json:"hypotheses_generated" yaml:"hypotheses_generated"`
	Reinforced          int             `json:"reinforced" yaml:"reinforced"`
	Discarded           int             `json:"discarded" yaml:"discarded"`
	Conflicts           []Conflict      `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	ReviewQueue         []string        `json:"review_queue,omitempty" yaml:"review_queue,omitempty"`
	OpenHypotheses      int             `json:"open_hypotheses" yaml:"open_hypotheses"`
	Inconsistencies     []Inconsistency `json:"inconsistencies,omitempty" yaml:"inconsistencies,omitempty"`
	Promoted            []string        `json:"promoted,omitempty" yaml:"promoted,omitempty"`
	SurfaceUpdates      int             `json:"surface_updates" yaml:"surface_updates"`
	Summary             string          `json:"summary,omitempty" yaml:"summary,omitempty"`
	Reflection          string          `json:"reflection,omitempty" yaml:"reflection,omitempty"`
	Curiosity           []string        `json:"curiosity,omitempty" yaml:"curiosity,omitempty"`
	Steps               []StepResult    `json:"steps" yaml:"steps"`
}

// Step returns the named step result.
func (r Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Failed lists the names of failed steps.
func (r Report) Failed() []string {
	var out []string
	for _, s := range r.Steps {
		if !s.OK {
			out = append(out, s.Name)
		}
	}
	return out
}

// #endregion report
