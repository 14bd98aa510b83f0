package pipeline

// #region imports
import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
)

// #endregion

// #region prompt

const perceptionSystemPrompt = `Classify the principal's message. Reply with JSON only:
{"urgency": 0..1, "load": 0..1, "sentiment": -1..1,
 "delegation": {"requested": bool, "confidence": 0..1, "task": "short description"},
 "suggested_posture": "COMPANION" | "CO_PILOT" | "PEER" | "EXPERT"}
load is how cognitively overloaded the principal seems. Omit what you cannot judge.`

// #endregion

// #region payload

// perceptionPayload mirrors the router's JSON. Every field is optional.
type perceptionPayload struct {
	Urgency    *float64 `json:"urgency"`
	Load       *float64 `json:"load"`
	Sentiment  *float64 `json:"sentiment"`
	Delegation *struct {
		Requested  *bool    `json:"requested"`
		Confidence *float64 `json:"confidence"`
		Task       string   `json:"task"`
	} `json:"delegation"`
	SuggestedPosture string `json:"suggested_posture"`
}

// #endregion

// #region perceive

// perceive classifies the utterance. Missing fields take neutral defaults;
// a failed or malformed call yields NeutralPerception.
func (p *Pipeline) perceive(ctx context.Context, utterance string) Perception {
	raw := p.llm.Chat(ctx, perceptionSystemPrompt, utterance, codec.ChatOptions{Temperature: 0, ExpectJSON: true})
	if raw == "" {
		p.log.Warn("perception unavailable, using neutral defaults")
		return NeutralPerception()
	}
	var payload perceptionPayload
	if err := codec.DecodeJSON(raw, &payload); err != nil {
		p.log.Warn("perception malformed, using neutral defaults", zap.Error(err))
		return NeutralPerception()
	}
	return payload.toPerception()
}

func (pl perceptionPayload) toPerception() Perception {
	out := NeutralPerception()
	out.Degraded = false
	if pl.Urgency != nil {
		out.Urgency = clamp(*pl.Urgency, 0, 1)
	}
	if pl.Load != nil {
		out.Load = clamp(*pl.Load, 0, 1)
	}
	if pl.Sentiment != nil {
		out.Sentiment = clamp(*pl.Sentiment, -1, 1)
	}
	if d := pl.Delegation; d != nil {
		if d.Confidence != nil {
			out.DelegationConfidence = clamp(*d.Confidence, 0, 1)
		}
		if d.Requested != nil {
			out.DelegationSignal = *d.Requested
		} else {
			out.DelegationSignal = out.DelegationConfidence > 0
		}
		if !out.DelegationSignal {
			out.DelegationConfidence = 0
		}
		out.Task = strings.TrimSpace(d.Task)
	}
	if posture := affect.Posture(strings.ToUpper(strings.TrimSpace(pl.SuggestedPosture))); posture.Valid() {
		out.SuggestedPosture = posture
	}
	return out
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

// #endregion
