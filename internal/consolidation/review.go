package consolidation

// #region imports
import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/hypothesis"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
)

// #endregion imports

// #region consistency

const consistencySystemPrompt = `You compare what is on record about the principal with what they actually did
recently. Reply with JSON only:
{"inconsistencies": [{"claim": "recorded claim", "observed": "contradicting behavior", "severity": 0..1}]}
severity 1 means the record is plainly wrong. Return an empty list when nothing contradicts.`

type consistencyPayload struct {
	Inconsistencies []struct {
		Claim    *string  `json:"claim"`
		Observed *string  `json:"observed"`
		Severity *float64 `json:"severity"`
	} `json:"inconsistencies"`
}

// claims lists what is on record: promoted beliefs and surface preferences.
func claims(beliefs []hypothesis.Belief, surface identity.Surface) []string {
	var out []string
	for _, b := range beliefs {
		out = append(out, b.Pattern)
	}
	keys := make([]string, 0, len(surface.Preferences))
	for k := range surface.Preferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("prefers %s: %s", k, surface.Preferences[k]))
	}
	if len(surface.Interests) > 0 {
		out = append(out, "interested in "+strings.Join(surface.Interests, ", "))
	}
	return out
}

// inconsistencies keeps only the contradictions strictly above threshold.
func (p *Process) inconsistencies(ctx context.Context, claimList []string, log []codec.Snippet) ([]Inconsistency, error) {
	var user strings.Builder
	user.WriteString("On record:\n")
	for _, c := range claimList {
		user.WriteString("- " + c + "\n")
	}
	user.WriteString("\nRecent behavior:\n")
	user.WriteString(logText(log))

	raw := p.llm.Chat(ctx, consistencySystemPrompt, user.String(), codec.ChatOptions{Temperature: 0, ExpectJSON: true})
	if raw == "" {
		return nil, fmt.Errorf("consistency check unavailable")
	}
	var payload consistencyPayload
	if err := codec.DecodeJSON(raw, &payload); err != nil {
		return nil, fmt.Errorf("consistency check: %w", err)
	}
	var out []Inconsistency
	for _, it := range payload.Inconsistencies {
		if it.Severity == nil || deref(it.Claim) == "" {
			continue
		}
		sev := clamp(*it.Severity, 0, 1)
		if sev <= p.opts.SeverityThreshold {
			continue
		}
		out = append(out, Inconsistency{Claim: deref(it.Claim), Observed: deref(it.Observed), Severity: sev})
	}
	return out, nil
}

// #endregion consistency

// #region surface

// surfacePatch maps a promoted hypothesis onto the identity surface.
// Interests flagged as conflicts reach the surface only after explicit
// confirmation. Routines and behaviors stay in the belief store.
func surfacePatch(r hypothesis.Record, current identity.Surface) (identity.SurfacePatch, bool) {
	switch r.Category {
	case hypothesis.CategoryInterest:
		if r.Conflict && r.Status != hypothesis.StatusConfirmed {
			return identity.SurfacePatch{}, false
		}
		subject := r.Subject
		if subject == "" {
			return identity.SurfacePatch{}, false
		}
		for _, in := range current.Interests {
			if strings.EqualFold(in, subject) {
				return identity.SurfacePatch{}, false
			}
		}
		next := append(append([]string(nil), current.Interests...), subject)
		return identity.SurfacePatch{Interests: next}, true
	case hypothesis.CategoryPreference:
		if r.Subject == "" || r.Value == "" {
			return identity.SurfacePatch{}, false
		}
		return identity.SurfacePatch{Preferences: map[string]string{r.Subject: r.Value}}, true
	}
	return identity.SurfacePatch{}, false
}

// #endregion surface

// #region reflection

const reflectionSystemPrompt = `You are the companion writing a short private journal entry after a quiet
maintenance period. Two to four sentences, first person, plain prose. Mention what you noticed about the
principal and anything you are still curious about.`

// reflect writes the narrative for this cycle. A failed call falls back to a
// plain account of the report.
func (p *Process) reflect(ctx context.Context, rep Report) string {
	var user strings.Builder
	fmt.Fprintf(&user, "Summary of the day: %s\n", firstNonEmpty(rep.Summary, "nothing new was summarized"))
	fmt.Fprintf(&user, "New patterns: %d, reinforced: %d, promoted to belief: %d\n",
		rep.HypothesesGenerated, rep.Reinforced, len(rep.Promoted))
	for _, c := range rep.Conflicts {
		fmt.Fprintf(&user, "Unfamiliar interest: %s\n", c.Subject)
	}
	for _, in := range rep.Inconsistencies {
		fmt.Fprintf(&user, "Record may be wrong: %s (observed: %s)\n", in.Claim, in.Observed)
	}
	if text := strings.TrimSpace(p.llm.Chat(ctx, reflectionSystemPrompt, user.String(), codec.ChatOptions{Temperature: 0.7})); text != "" {
		return text
	}

	parts := []string{fmt.Sprintf("I noticed %d new patterns and confirmed %d beliefs.", rep.HypothesesGenerated, len(rep.Promoted))}
	if len(rep.Conflicts) > 0 {
		parts = append(parts, fmt.Sprintf("I wonder about %s; it is new to me.", rep.Conflicts[0].Subject))
	}
	if rep.DriftDetected {
		parts = append(parts, "Something in how I present myself had drifted and was put right.")
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// #endregion reflection
