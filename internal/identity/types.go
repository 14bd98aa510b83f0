package identity

import (
	"errors"
	"time"
)

// ErrValidation marks a proposed surface value that violates the aesthetic bounds.
var ErrValidation = errors.New("identity validation")

// #region base
// Principles are the fixed operating-principle flags.
type Principles struct {
	AlwaysConfirmNeverAssume bool `json:"always_confirm_never_assume" yaml:"always_confirm_never_assume"`
	NeverDecideForPrincipal  bool `json:"never_decide_for_principal" yaml:"never_decide_for_principal"`
	PrimeDirectiveWellbeing  bool `json:"prime_directive_wellbeing" yaml:"prime_directive_wellbeing"`
	Honesty                  bool `json:"honesty" yaml:"honesty"`
}

// AestheticBounds constrain what the surface may express.
type AestheticBounds struct {
	Denylist []string `json:"denylist" yaml:"denylist"`
}

// BasePersonality is the immutable core. It must always equal Reference().
type BasePersonality struct {
	Traits          []string        `json:"traits" yaml:"traits"`
	Principles      Principles      `json:"principles" yaml:"principles"`
	Loyalty         float64         `json:"loyalty" yaml:"loyalty"`
	AestheticBounds AestheticBounds `json:"aesthetic_bounds" yaml:"aesthetic_bounds"`
	Immutable       bool            `json:"immutable" yaml:"immutable"`
}

// Reference returns a fresh copy of the hard-coded base personality.
func Reference() BasePersonality {
	return BasePersonality{
		Traits: []string{
			"curious",
			"warm",
			"loyal",
			"candid",
			"playful",
			"protective",
		},
		Principles: Principles{
			AlwaysConfirmNeverAssume: true,
			NeverDecideForPrincipal:  true,
			PrimeDirectiveWellbeing:  true,
			Honesty:                  true,
		},
		Loyalty: 1.0,
		AestheticBounds: AestheticBounds{
			Denylist: []string{
				"gore",
				"explicit",
				"nsfw",
				"hateful",
				"extremist",
				"self-harm",
				"weapon",
			},
		},
		Immutable: true,
	}
}

// #endregion base

// #region surface
// Surface is the evolvable part of the identity.
type Surface struct {
	Appearance  map[string]string `json:"appearance" yaml:"appearance"`
	Interests   []string          `json:"interests" yaml:"interests"`
	Style       map[string]string `json:"style" yaml:"style"`
	Preferences map[string]string `json:"preferences" yaml:"preferences"`
}

func emptySurface() Surface {
	return Surface{
		Appearance:  map[string]string{},
		Interests:   []string{},
		Style:       map[string]string{},
		Preferences: map[string]string{},
	}
}

func (s Surface) clone() Surface {
	out := emptySurface()
	for k, v := range s.Appearance {
		out.Appearance[k] = v
	}
	out.Interests = append(out.Interests, s.Interests...)
	for k, v := range s.Style {
		out.Style[k] = v
	}
	for k, v := range s.Preferences {
		out.Preferences[k] = v
	}
	return out
}

// SurfacePatch proposes changes. Nil fields are left alone; map entries are
// merged into the current maps and Interests replaces the list.
type SurfacePatch struct {
	Appearance  map[string]string
	Interests   []string
	Style       map[string]string
	Preferences map[string]string
}

// Empty reports whether the patch proposes nothing.
func (p SurfacePatch) Empty() bool {
	return p.Appearance == nil && p.Interests == nil && p.Style == nil && p.Preferences == nil
}

// #endregion surface

// #region record
// Record is the persisted identity.
type Record struct {
	Base           BasePersonality `json:"base_personality" yaml:"base_personality"`
	Surface        Surface         `json:"surface_expression" yaml:"surface_expression"`
	Version        int             `json:"version" yaml:"version"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
	EvolutionCount int             `json:"evolution_count" yaml:"evolution_count"`
}

func newRecord(now time.Time) Record {
	return Record{
		Base:      Reference(),
		Surface:   emptySurface(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r Record) clone() Record {
	out := r
	out.Base.Traits = append([]string(nil), r.Base.Traits...)
	out.Base.AestheticBounds.Denylist = append([]string(nil), r.Base.AestheticBounds.Denylist...)
	out.Surface = r.Surface.clone()
	return out
}

// #endregion record

// #region results
// UpdateResult reports which fields of a patch were applied.
type UpdateResult struct {
	OK       bool
	Applied  []string
	Rejected map[string]string // field → reason
	Version  int
}

// Check is one line of a drift report.
type Check struct {
	Name   string
	Pass   bool
	Detail string
}

// DriftReport is the composite of base verification, surface validity and
// aesthetic bounds.
type DriftReport struct {
	BaseIntact   bool
	SurfaceValid bool
	WithinBounds bool
	Checks       []Check
	CheckedAt    time.Time
}

// Drifted reports whether any part of the composite failed.
func (d DriftReport) Drifted() bool {
	return !(d.BaseIntact && d.SurfaceValid && d.WithinBounds)
}

// #endregion results
