package hypothesis

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid hypothesis transition")
	// ErrNotFound is returned when no hypothesis has the requested id.
	ErrNotFound = errors.New("hypothesis not found")
	// ErrValidation is returned when a record violates a field invariant.
	ErrValidation = errors.New("invalid hypothesis")
)

// #region status
// Status is the review state of a hypothesis.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTesting   Status = "testing"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// CanTransition reports whether from→to is allowed: pending→testing,
// testing→confirmed, or anything not already rejected → rejected.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusTesting:
		return from == StatusPending
	case StatusConfirmed:
		return from == StatusTesting
	case StatusRejected:
		return from != StatusRejected
	}
	return false
}

// #endregion status

// #region category
// Category groups what a hypothesis is about.
type Category string

const (
	CategoryInterest   Category = "interest"
	CategoryPreference Category = "preference"
	CategoryRoutine    Category = "routine"
	CategoryBehavior   Category = "behavior"
)

// #endregion category

// #region record
// PromotionCount is the validation count at which a hypothesis is promoted
// without explicit confirmation.
const PromotionCount = 3

// Record is one behavioral hypothesis. Subject names the surface key it
// would change (an interest, or a preference key with Value).
type Record struct {
	ID              string    `json:"id" yaml:"id"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
	Pattern         string    `json:"pattern" yaml:"pattern"`
	Evidence        []string  `json:"evidence" yaml:"evidence"`
	Weight          float64   `json:"weight" yaml:"weight"`
	ValidationCount int       `json:"validation_count" yaml:"validation_count"`
	Status          Status    `json:"status" yaml:"status"`
	Conditional     string    `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Category        Category  `json:"category" yaml:"category"`
	Subject         string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Value           string    `json:"value,omitempty" yaml:"value,omitempty"`
	Conflict        bool      `json:"conflict" yaml:"conflict"`
	ConflictReason  string    `json:"conflict_reason,omitempty" yaml:"conflict_reason,omitempty"`
	PromotedAt      time.Time `json:"promoted_at,omitempty" yaml:"promoted_at,omitempty"`
}

// Validate checks field invariants.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("%w: empty pattern", ErrValidation)
	}
	if r.Weight < 0 || r.Weight > 1 {
		return fmt.Errorf("%w: weight %v out of [0,1]", ErrValidation, r.Weight)
	}
	if r.ValidationCount < 0 {
		return fmt.Errorf("%w: negative validation count", ErrValidation)
	}
	switch r.Status {
	case StatusPending, StatusTesting, StatusConfirmed, StatusRejected:
	default:
		return fmt.Errorf("%w: status %q", ErrValidation, r.Status)
	}
	return nil
}

// Promoted reports whether the record has been copied to long-term belief.
func (r Record) Promoted() bool { return !r.PromotedAt.IsZero() }

// Promotable is the promotion gate: enough validations or explicit
// confirmation, never rejected, not yet promoted.
func (r Record) Promotable() bool {
	if r.Status == StatusRejected || r.Promoted() {
		return false
	}
	return r.ValidationCount >= PromotionCount || r.Status == StatusConfirmed
}

// #endregion record

// #region belief
// Belief is a promoted hypothesis in the long-term store. Version increases
// by one with every promotion.
type Belief struct {
	ID           string    `json:"id" yaml:"id"`
	HypothesisID string    `json:"hypothesis_id" yaml:"hypothesis_id"`
	Version      int       `json:"version" yaml:"version"`
	Pattern      string    `json:"pattern" yaml:"pattern"`
	Category     Category  `json:"category" yaml:"category"`
	Subject      string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Value        string    `json:"value,omitempty" yaml:"value,omitempty"`
	Conditional  string    `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Evidence     []string  `json:"evidence" yaml:"evidence"`
	Weight       float64   `json:"weight" yaml:"weight"`
	PromotedAt   time.Time `json:"promoted_at" yaml:"promoted_at"`
}

// #endregion belief

// #region normalize
// Normalize lowercases pattern, strips punctuation and collapses whitespace
// so that restatements of the same pattern match.
func Normalize(pattern string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(pattern) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// #endregion normalize
