package consolidation

// #region imports
import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/hypothesis"
)

// #endregion imports

// MinEvidence is the number of distinct evidence items a pattern needs
// before it becomes a hypothesis.
const MinEvidence = 2

// #region recent-log

// recentLog returns the turn memories recorded within the log window, oldest
// first. Memories without a parseable timestamp are not part of the window.
func (p *Process) recentLog(ctx context.Context) ([]codec.Snippet, error) {
	results, err := p.memory.Retrieve(ctx, "recent conversations with the principal", p.opts.RecallLimit, false)
	if err != nil {
		return nil, fmt.Errorf("retrieve recent log: %w", err)
	}
	cutoff := p.now().Add(-p.opts.LogWindow)
	type stamped struct {
		at  time.Time
		snp codec.Snippet
	}
	var kept []stamped
	for _, s := range results {
		if kind, _ := s.Metadata["type"].(string); kind == consolidatedType {
			continue
		}
		raw, _ := s.Metadata["timestamp"].(string)
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil || at.Before(cutoff) || strings.TrimSpace(s.Text) == "" {
			continue
		}
		kept = append(kept, stamped{at, s})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].at.Before(kept[j].at) })

	out := make([]codec.Snippet, len(kept))
	for i, k := range kept {
		out[i] = k.snp
	}
	return out, nil
}

func logText(log []codec.Snippet) string {
	var b strings.Builder
	for _, s := range log {
		ts, _ := s.Metadata["timestamp"].(string)
		fmt.Fprintf(&b, "[%s] %s\n", ts, s.Text)
	}
	return b.String()
}

// #endregion recent-log

// #region extract

const extractSystemPrompt = `You study a day of conversation between an assistant and its principal and
name recurring behavioral patterns. Reply with JSON only:
{"patterns": [{"pattern": "one sentence", "evidence": ["quoted or paraphrased moments"],
  "confidence": 0..1, "category": "interest" | "preference" | "routine" | "behavior",
  "subject": "the interest or preference key", "value": "preference value if any",
  "conditional": "when the pattern holds, if it is conditional"}]}
Only list patterns supported by at least two separate moments.`

// patternPayload mirrors the router's JSON. Every field is optional.
type patternPayload struct {
	Patterns []struct {
		Pattern     *string  `json:"pattern"`
		Evidence    []string `json:"evidence"`
		Confidence  *float64 `json:"confidence"`
		Category    *string  `json:"category"`
		Subject     *string  `json:"subject"`
		Value       *string  `json:"value"`
		Conditional *string  `json:"conditional"`
	} `json:"patterns"`
}

// extract asks the router for patterns in the log and turns the well
// supported ones into pending hypotheses. The second return is the number
// of patterns discarded for thin evidence.
func (p *Process) extract(ctx context.Context, log []codec.Snippet) ([]hypothesis.Record, int, error) {
	raw := p.llm.Chat(ctx, extractSystemPrompt, logText(log), codec.ChatOptions{Temperature: 0.2, ExpectJSON: true})
	if raw == "" {
		return nil, 0, fmt.Errorf("pattern extraction unavailable")
	}
	var payload patternPayload
	if err := codec.DecodeJSON(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("pattern extraction: %w", err)
	}

	var out []hypothesis.Record
	discarded := 0
	for _, pt := range payload.Patterns {
		pattern := deref(pt.Pattern)
		evidence := distinct(pt.Evidence)
		if pattern == "" || len(evidence) < MinEvidence {
			discarded++
			continue
		}
		confidence := 0.5
		if pt.Confidence != nil {
			confidence = clamp(*pt.Confidence, 0, 1)
		}
		out = append(out, hypothesis.Record{
			Pattern:     pattern,
			Evidence:    evidence,
			Weight:      confidence,
			Status:      hypothesis.StatusPending,
			Category:    category(deref(pt.Category)),
			Subject:     deref(pt.Subject),
			Value:       deref(pt.Value),
			Conditional: deref(pt.Conditional),
		})
	}
	if discarded > 0 {
		p.log.Debug("patterns discarded for thin evidence", zap.Int("count", discarded))
	}
	return out, discarded, nil
}

func category(s string) hypothesis.Category {
	switch c := hypothesis.Category(strings.ToLower(strings.TrimSpace(s))); c {
	case hypothesis.CategoryInterest, hypothesis.CategoryPreference, hypothesis.CategoryRoutine, hypothesis.CategoryBehavior:
		return c
	}
	return hypothesis.CategoryBehavior
}

func distinct(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		t := strings.TrimSpace(it)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion extract

// #region overlap

// InterestOverlap is the largest word overlap (intersection over union)
// between subject and any current interest. An empty baseline yields 0.
func InterestOverlap(subject string, current []string) float64 {
	words := wordSet(subject)
	if len(words) == 0 {
		return 0
	}
	best := 0.0
	for _, in := range current {
		other := wordSet(in)
		if len(other) == 0 {
			continue
		}
		shared := 0
		for w := range words {
			if other[w] {
				shared++
			}
		}
		union := len(words) + len(other) - shared
		if o := float64(shared) / float64(union); o > best {
			best = o
		}
	}
	return best
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(hypothesis.Normalize(s)) {
		out[w] = true
	}
	return out
}

// detectConflict flags an interest hypothesis whose subject overlaps the
// current interests less than threshold. With no current interests every
// new interest is a conflict.
func detectConflict(r hypothesis.Record, current []string, threshold float64) (Conflict, bool) {
	if r.Category != hypothesis.CategoryInterest {
		return Conflict{}, false
	}
	subject := r.Subject
	if subject == "" {
		subject = r.Pattern
	}
	if len(current) == 0 {
		return Conflict{Subject: subject, Reason: "no current interests to compare against"}, true
	}
	overlap := InterestOverlap(subject, current)
	if overlap >= threshold {
		return Conflict{}, false
	}
	return Conflict{
		Subject: subject,
		Overlap: overlap,
		Reason:  fmt.Sprintf("overlap %.2f with current interests is below %.2f", overlap, threshold),
	}, true
}

// #endregion overlap
