package affect

import (
	"math"
	"time"
)

// #region posture-table
// DerivePosture maps cognitive load, trust and warmth onto a posture. The
// table is ordered: the first matching row wins.
func DerivePosture(load, trust, warmth float64) Posture {
	switch {
	case load > 0.8:
		return PostureCoPilot
	case load > 0.6:
		return PostureCompanion
	case trust > 0.8 && warmth > 0.7:
		return PosturePeer
	case trust > 0.7:
		return PostureExpert
	default:
		return PosturePeer
	}
}

// DefaultLoad is the load assumed when none is known.
const DefaultLoad = 0.5

// #endregion posture-table

// #region asymptotic
// asymptotic moves a unit-interval value by delta: growth slows near the
// ceiling and decay slows near the floor.
func asymptotic(current, delta float64) float64 {
	var next float64
	switch {
	case delta > 0:
		next = current + delta*(1-current)
	case delta < 0:
		next = current + delta*current
	default:
		next = current
	}
	return clamp(next, 0, 1)
}

// asymptoticBipolar applies the same rule to a [-1,1] value by remapping it
// to [0,1] and back.
func asymptoticBipolar(current, delta float64) float64 {
	unit := (current + 1) / 2
	unit = asymptotic(unit, delta)
	return clamp(unit*2-1, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion asymptotic

// #region apply
// Apply is the pure update function behind Store.ApplyDelta. Elastic mode
// multiplies every component while the onboarding window is open and is
// cleared once the window has passed.
func Apply(old State, d Delta, now time.Time) State {
	next := old
	next.Flags = append([]string(nil), old.Flags...)

	mult := 1.0
	if next.ElasticMode {
		if !next.ElasticUntil.IsZero() && !now.Before(next.ElasticUntil) {
			next.ElasticMode = false
			next.ElasticUntil = time.Time{}
		} else {
			mult = ElasticMultiplier
		}
	}

	next.Trust = asymptotic(clamp(old.Trust, 0, 1), d.Trust*mult)
	next.Warmth = asymptotic(clamp(old.Warmth, 0, 1), d.Warmth*mult)
	next.Arousal = asymptotic(clamp(old.Arousal, 0, 1), d.Arousal*mult)
	next.Valence = asymptoticBipolar(clamp(old.Valence, -1, 1), d.Valence*mult)

	if d.ForcePosture != nil && d.ForcePosture.Valid() {
		next.Posture = *d.ForcePosture
	}
	if !next.Posture.Valid() {
		next.Posture = PosturePeer
	}

	next.LastInteraction = now
	next.InteractionCount++
	next.Version++
	return next
}

// #endregion apply

// #region decay
// ApplyDecay relaxes arousal toward ArousalFloor and valence toward
// ValenceBaseline according to the time elapsed since the later of the last
// interaction and the last decay. At least one hour is always assumed.
func ApplyDecay(old State, now time.Time) State {
	next := old
	next.Flags = append([]string(nil), old.Flags...)

	since := old.LastInteraction
	if old.LastDecay.After(since) {
		since = old.LastDecay
	}
	hours := now.Sub(since).Hours()
	if hours < 1 {
		hours = 1
	}
	days := hours / 24

	if old.Arousal > ArousalFloor {
		drop := old.Arousal * (1 - math.Pow(1-ArousalDailyDecay, days))
		next.Arousal = math.Max(ArousalFloor, old.Arousal-drop)
	}

	drift := (ValenceBaseline - old.Valence) * (1 - math.Exp(-ValenceHourlyRate*hours))
	next.Valence = clamp(old.Valence+drift, -1, 1)

	next.LastDecay = now
	next.Version++
	return next
}

// ApplySettle moves arousal and valence a fixed fraction of the way to their
// resting values, independent of elapsed time.
func ApplySettle(old State, fraction float64, now time.Time) State {
	fraction = clamp(fraction, 0, 1)
	next := old
	next.Flags = append([]string(nil), old.Flags...)
	next.Arousal = clamp(old.Arousal+(ArousalFloor-old.Arousal)*fraction, 0, 1)
	next.Valence = clamp(old.Valence+(ValenceBaseline-old.Valence)*fraction, -1, 1)
	next.LastDecay = now
	next.Version++
	return next
}

// #endregion decay
