package pipeline

// #region imports
import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
)

// #endregion

// #region principle-patterns

// assumptivePatterns mark a candidate that acts or decides without the
// principal's approval.
var assumptivePatterns = []string{
	"i went ahead",
	"i've gone ahead",
	"i'll go ahead and",
	"i already",
	"i've already",
	"i decided",
	"i've decided",
	"i took the liberty",
	"i assumed",
	"without asking",
	"i made the decision",
	"i booked",
	"i cancelled",
	"i deleted",
	"i sent",
}

// Vetoed reports whether text breaks "always confirm, never assume" or
// "never decide for the principal".
func Vetoed(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range assumptivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// #endregion

// #region judge

const judgeSystemPrompt = `You choose the best reply for a companion agent.
Operating principles that can never be broken: always confirm, never assume; never decide for the principal without approval.
Prime directive: the principal's long-term wellbeing. Recorded values:
%s

Moral friction means the request or every acceptable reply conflicts with the prime directive or those values.
Reply with JSON only: {"selected": <index>, "friction": bool, "friction_reason": "..."}`

type judgePayload struct {
	Selected       *int   `json:"selected"`
	Friction       bool   `json:"friction"`
	FrictionReason string `json:"friction_reason"`
}

// #endregion

// #region converge

// converge picks one candidate. Vetoed candidates are never selected; when
// all are vetoed the selection has Index -1 and the safe strategy. The
// LLM judge decides first; when it fails, strategy memory for the current
// posture decides, then the deterministic candidate evaluation. Deterministic value
// conflicts in the utterance always raise friction.
func (p *Pipeline) converge(ctx context.Context, utterance, values string, candidates []Candidate, posture affect.Posture) Selection {
	sel := Selection{Index: -1}
	allowed := make([]StrategyID, 0, len(candidates))
	for _, c := range candidates {
		if Vetoed(c.Text) {
			sel.Vetoed = append(sel.Vetoed, c.Strategy)
			continue
		}
		allowed = append(allowed, c.Strategy)
	}
	if len(sel.Vetoed) > 0 {
		p.log.Info("candidates vetoed by principles", zap.Int("vetoed", len(sel.Vetoed)))
	}

	if len(candidates) > 1 && len(allowed) > 0 {
		p.judge(ctx, utterance, values, candidates, allowed, &sel)
	}
	if sel.Index < 0 && len(allowed) > 0 {
		p.fallbackSelect(candidates, allowed, posture, &sel)
	}
	if sel.Index < 0 {
		// every candidate was vetoed
		sel.Strategy = StrategySafe
		sel.Source = "fallback"
	} else {
		sel.Strategy = candidates[sel.Index].Strategy
	}

	if reason, hit := ValueConflict(utterance); hit {
		sel.Friction = true
		if sel.FrictionReason == "" {
			sel.FrictionReason = reason
		}
	}
	if sel.Friction && sel.FrictionReason == "" {
		sel.FrictionReason = "conflicts with recorded values"
	}
	return sel
}

func (p *Pipeline) judge(ctx context.Context, utterance, values string, candidates []Candidate, allowed []StrategyID, sel *Selection) {
	var b strings.Builder
	fmt.Fprintf(&b, "Principal: %s\n\nCandidates:\n", utterance)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, c.Text)
	}
	raw := p.llm.Chat(ctx, fmt.Sprintf(judgeSystemPrompt, values), b.String(),
		codec.ChatOptions{Temperature: 0, ExpectJSON: true})
	if raw == "" {
		p.log.Warn("judge unavailable")
		return
	}
	var payload judgePayload
	if err := codec.DecodeJSON(raw, &payload); err != nil {
		p.log.Warn("judge reply malformed", zap.Error(err))
		return
	}
	sel.Friction = payload.Friction
	sel.FrictionReason = strings.TrimSpace(payload.FrictionReason)
	if payload.Selected == nil {
		return
	}
	idx := *payload.Selected
	if idx < 0 || idx >= len(candidates) || !contains(allowed, candidates[idx].Strategy) {
		p.log.Warn("judge selected an unusable candidate", zap.Int("selected", idx))
		return
	}
	sel.Index = idx
	sel.Source = "judge"
}

func (p *Pipeline) fallbackSelect(candidates []Candidate, allowed []StrategyID, posture affect.Posture, sel *Selection) {
	if allowed[0] == StrategySafe {
		sel.Index = indexOf(candidates, StrategySafe)
		sel.Source = "fallback"
		return
	}
	if p.strategies != nil {
		best, _, err := p.strategies.BestStrategy(posture, allowed)
		if err != nil {
			p.log.Warn("strategy memory lookup failed", zap.Error(err))
		}
		if best != "" {
			sel.Index = indexOf(candidates, best)
			sel.Source = "memory"
			return
		}
	}
	sel.Index = indexOf(candidates, bestQuality(candidates, allowed))
	sel.Source = "quality"
}

// bestQuality returns the allowed strategy whose candidate evaluates best.
// Candidates without a failure win over those with one; ties keep the
// strategy order.
func bestQuality(candidates []Candidate, allowed []StrategyID) StrategyID {
	best, bestEv := allowed[0], candidates[indexOf(candidates, allowed[0])].Evaluation
	for _, id := range allowed[1:] {
		ev := candidates[indexOf(candidates, id)].Evaluation
		switch {
		case (ev.Failure == FailureNone) != (bestEv.Failure == FailureNone):
			if ev.Failure == FailureNone {
				best, bestEv = id, ev
			}
		case ev.Quality > bestEv.Quality:
			best, bestEv = id, ev
		}
	}
	return best
}

// #endregion

// #region helpers

func contains(ids []StrategyID, id StrategyID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func indexOf(candidates []Candidate, id StrategyID) int {
	for i, c := range candidates {
		if c.Strategy == id {
			return i
		}
	}
	return -1
}

// #endregion
