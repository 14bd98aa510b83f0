package affect

import (
	"errors"
	"fmt"
	"time"
)

// #region posture
// Posture is the agent's conversational mode.
type Posture string

const (
	PostureCompanion Posture = "COMPANION"
	PostureCoPilot   Posture = "CO_PILOT"
	PosturePeer      Posture = "PEER"
	PostureExpert    Posture = "EXPERT"
)

// Valid reports whether p is one of the four legal postures.
func (p Posture) Valid() bool {
	switch p {
	case PostureCompanion, PostureCoPilot, PosturePeer, PostureExpert:
		return true
	}
	return false
}

// #endregion posture

// #region bounds
const (
	ArousalFloor    = 0.2
	ValenceBaseline = 0.0

	// ArousalDailyDecay is the fraction of arousal lost per elapsed day.
	ArousalDailyDecay = 0.15
	// ValenceHourlyRate is the exponential drift rate toward ValenceBaseline.
	ValenceHourlyRate = 0.1

	ElasticMultiplier = 3.0
	ReunionGap        = 48 * time.Hour
	ReunionArousal    = 0.9

	DoorSlamSentiment = -0.7
	DoorSlamRelease   = 0.3
)

// #endregion bounds

// ErrValidation marks a persisted state that violates its bounds.
var ErrValidation = errors.New("affect validation")

// #region state
// State is the persisted affective record. Trust, Warmth and Arousal live in
// [0,1]; Valence lives in [-1,1].
type State struct {
	Trust   float64 `json:"trust" yaml:"trust"`
	Warmth  float64 `json:"warmth" yaml:"warmth"`
	Arousal float64 `json:"arousal" yaml:"arousal"`
	Valence float64 `json:"valence" yaml:"valence"`

	Posture          Posture   `json:"posture" yaml:"posture"`
	LastInteraction  time.Time `json:"last_interaction" yaml:"last_interaction"`
	LastDecay        time.Time `json:"last_decay,omitempty" yaml:"last_decay,omitempty"`
	InteractionCount int       `json:"interaction_count" yaml:"interaction_count"`
	Flags            []string  `json:"flags" yaml:"flags"`
	DoorSlamActive   bool      `json:"door_slam_active" yaml:"door_slam_active"`
	ElasticMode      bool      `json:"elastic_mode" yaml:"elastic_mode"`
	ElasticUntil     time.Time `json:"elastic_until,omitempty" yaml:"elastic_until,omitempty"`
	Version          int       `json:"version" yaml:"version"`
}

// DefaultState returns the fixed initial record.
func DefaultState(now time.Time) State {
	return State{
		Trust:           0.5,
		Warmth:          0.5,
		Arousal:         0.5,
		Valence:         ValenceBaseline,
		Posture:         PosturePeer,
		LastInteraction: now,
		Flags:           []string{},
	}
}

// Validate checks every bound.
func (s State) Validate() error {
	check := func(name string, v, lo, hi float64) error {
		if v < lo || v > hi || v != v {
			return fmt.Errorf("%w: %s=%v outside [%v,%v]", ErrValidation, name, v, lo, hi)
		}
		return nil
	}
	if err := check("trust", s.Trust, 0, 1); err != nil {
		return err
	}
	if err := check("warmth", s.Warmth, 0, 1); err != nil {
		return err
	}
	if err := check("arousal", s.Arousal, 0, 1); err != nil {
		return err
	}
	if err := check("valence", s.Valence, -1, 1); err != nil {
		return err
	}
	if !s.Posture.Valid() {
		return fmt.Errorf("%w: posture %q", ErrValidation, s.Posture)
	}
	return nil
}

// TrustTier buckets trust into 0..3 for gating autonomous action.
func (s State) TrustTier() int {
	switch {
	case s.Trust < 0.25:
		return 0
	case s.Trust < 0.5:
		return 1
	case s.Trust < 0.75:
		return 2
	default:
		return 3
	}
}

// HasFlag reports whether flag is set.
func (s State) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// #endregion state

// #region delta
// Delta is one requested affective change. Components are unbounded; the
// asymptotic rule and clamping absorb anything out of range.
type Delta struct {
	Trust   float64
	Warmth  float64
	Arousal float64
	Valence float64

	// ForcePosture overrides the current posture when non-nil.
	ForcePosture *Posture
}

// #endregion delta
