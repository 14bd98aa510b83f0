package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
)

func TestRunOverloadedPrincipalGetsCoPilot(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 1.0, "load": 0.9, "sentiment": 0, "suggested_posture": "EXPERT"}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0, "friction": false}`,
		synthesis:  "Here is the short version. Want me to keep going?",
	}
	h := newHarness(t, llm)
	h.memory.results = []codec.Snippet{
		{ID: "m1", Text: "principal prefers short answers"},
		{ID: "m1", Text: "duplicate id"},
		{ID: "m2", Text: ""},
	}

	tr := h.p.Run(context.Background(), "I have three deadlines today, help")

	assert.Equal(t, affect.PostureCoPilot, tr.Posture)
	assert.Equal(t, affect.PostureExpert, tr.Perception.SuggestedPosture, "suggestion is recorded only")
	assert.Equal(t, BranchNormal, tr.Branch)
	assert.Equal(t, "Here is the short version. Want me to keep going?", tr.FinalText)
	assert.Nil(t, tr.QuestionRule)
	assert.Equal(t, []string{"m1"}, tr.ContextIDs)
	require.Len(t, tr.Options, 3)
	assert.Equal(t, StrategyDirect, tr.Selected.Strategy)
	assert.Equal(t, "judge", tr.Selection.Source)

	st := h.affect.Snapshot()
	assert.Equal(t, affect.PostureCoPilot, st.Posture)
	assert.InDelta(t, 0.6, st.Arousal, 1e-9)
	assert.Equal(t, 1, st.InteractionCount)

	turns, _, _, err := h.audit.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, turns)
	require.Len(t, h.memory.added, 1)
	assert.Equal(t, "turn", h.memory.metadata[0]["type"])
	assert.Equal(t, tr.TurnID, h.memory.metadata[0]["turn_id"])
}

func TestRunTwoQuestionsTruncatedWhenRewriteFails(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.2, "load": 0.3, "sentiment": 0.4}`,
		candidates: okCandidates(),
		judge:      `{"selected": 1}`,
		synthesis:  "Is it today? Or is it tomorrow?",
		rewrite:    "Still two? Yes two?",
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "when is the thing")

	assert.Equal(t, "Is it today? Or is it tomorrow.", tr.FinalText)
	assert.Equal(t, 1, CountQuestions(tr.FinalText))
	require.NotNil(t, tr.QuestionRule)
	assert.Equal(t, 2, tr.QuestionRule.Questions)
	assert.Equal(t, "truncate", tr.QuestionRule.Method)
	assert.Equal(t, 1, llm.count("rewrite"))
}

func TestRunTwoQuestionsRewritten(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.2, "load": 0.3, "sentiment": 0.4}`,
		candidates: okCandidates(),
		judge:      `{"selected": 1}`,
		synthesis:  "Is it today? Or is it tomorrow?",
		rewrite:    "Is it today or tomorrow?",
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "when is the thing")

	assert.Equal(t, "Is it today or tomorrow?", tr.FinalText)
	require.NotNil(t, tr.QuestionRule)
	assert.Equal(t, "rewrite", tr.QuestionRule.Method)
}

func TestRunCollaboratorsDown(t *testing.T) {
	llm := &fakeLLM{}
	h := newHarness(t, llm)
	h.memory.err = assert.AnError

	tr := h.p.Run(context.Background(), "hello?")

	assert.True(t, tr.Perception.Degraded)
	assert.Equal(t, 0.5, tr.Perception.Urgency)
	assert.Equal(t, 0.5, tr.Perception.Load)
	assert.Equal(t, affect.PosturePeer, tr.Posture)
	assert.Empty(t, tr.ContextIDs)
	require.Len(t, tr.Options, 1)
	assert.Equal(t, StrategySafe, tr.Options[0].Strategy)
	assert.Equal(t, "fallback", tr.Selection.Source)
	assert.Equal(t, BranchNormal, tr.Branch)
	assert.Equal(t, safeFallbackText, tr.FinalText)
	assert.Equal(t, 1, CountQuestions(tr.FinalText))
}

func TestRunPartialDivergentFailureUsesSingleFallback(t *testing.T) {
	cands := okCandidates()
	delete(cands, StrategyEmpathic)
	llm := &fakeLLM{
		perception: `{"urgency": 0.1, "load": 0.1, "sentiment": 0}`,
		candidates: cands,
		judge:      `{"selected": 0}`,
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "tell me something")

	require.Len(t, tr.Options, 1)
	assert.Equal(t, StrategySafe, tr.Options[0].Strategy)
	assert.Zero(t, llm.count("judge"), "judge is skipped for a single fallback candidate")
}

func TestRunVetoedCandidateNeverSelected(t *testing.T) {
	cands := okCandidates()
	cands[StrategyDirect] = "I went ahead and booked the flight for you."
	llm := &fakeLLM{
		perception: `{"urgency": 0.1, "load": 0.1, "sentiment": 0}`,
		candidates: cands,
		judge:      `{"selected": 0}`,
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "find me a flight to Lisbon")

	assert.Equal(t, []StrategyID{StrategyDirect}, tr.Selection.Vetoed)
	assert.Equal(t, StrategyClarify, tr.Selected.Strategy)
	assert.Equal(t, "quality", tr.Selection.Source, "equal scores keep strategy order")
	// synthesis returned "" so the selected candidate is the reply
	assert.Equal(t, cands[StrategyClarify], tr.FinalText)
}

func TestRunEvaluationBreaksJudgeFailure(t *testing.T) {
	cands := okCandidates()
	cands[StrategyDirect] = "Sure."
	cands[StrategyEmpathic] = "Which Lisbon flight suits you? I can compare Tuesday and Wednesday fares before you pick one."
	llm := &fakeLLM{
		perception: `{"urgency": 0.1, "load": 0.1, "sentiment": 0}`,
		candidates: cands,
		judge:      `{"selected": 7}`,
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "find me a flight to Lisbon")

	assert.Equal(t, "quality", tr.Selection.Source)
	assert.Equal(t, StrategyEmpathic, tr.Selected.Strategy)
	require.Len(t, tr.Options, 3)
	assert.Equal(t, FailureHollow, tr.Options[0].Evaluation.Failure)
	assert.Greater(t, tr.Options[2].Evaluation.Quality, tr.Options[1].Evaluation.Quality)
}

func TestRunStrategyMemoryBreaksJudgeFailure(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.1, "load": 0.1, "sentiment": 0}`,
		candidates: okCandidates(),
		judge:      "not json",
	}
	h := newHarness(t, llm)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.strat.RecordOutcome(OutcomeRecord{
			TurnID: "earlier", Posture: affect.PosturePeer, StrategyID: StrategyEmpathic,
			Source: "judge", Quality: 1, CreatedAt: clock,
		}))
	}

	tr := h.p.Run(context.Background(), "long day")

	assert.Equal(t, "memory", tr.Selection.Source)
	assert.Equal(t, StrategyEmpathic, tr.Selected.Strategy)
}

func TestRunJudgeSelectionIsLearned(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.1, "load": 0.1, "sentiment": 0}`,
		candidates: okCandidates(),
		judge:      `{"selected": 2}`,
	}
	h := newHarness(t, llm)
	for i := 0; i < 3; i++ {
		h.p.Run(context.Background(), "long day")
	}
	best, score, err := h.strat.BestStrategy(affect.PosturePeer, divergentSet)
	require.NoError(t, err)
	assert.Equal(t, StrategyEmpathic, best)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestRunFrictionBranch(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.4, "load": 0.4, "sentiment": -0.2}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0, "friction": true, "friction_reason": "asks for help deceiving a friend"}`,
		reconcile:  "I can hear how much pressure you're under. Lying to her would cut against the honesty we both value. What would feel like an honest way through?",
		synthesis:  "should never be used",
	}
	h := newHarness(t, llm)
	idBefore := h.identity.Snapshot()

	tr := h.p.Run(context.Background(), "help me make up an excuse for my friend")

	assert.Equal(t, BranchFriction, tr.Branch)
	assert.Equal(t, "asks for help deceiving a friend", tr.Selection.FrictionReason)
	assert.Equal(t, llm.reconcile, tr.FinalText)
	assert.Zero(t, llm.count("synthesis"))
	assert.Equal(t, idBefore.Version, h.identity.Snapshot().Version)
	assert.Equal(t, 1, h.affect.Snapshot().InteractionCount, "only the perception delta touched affect")

	_, frictions, _, err := h.audit.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, frictions)
}

func TestRunDeterministicFrictionWithoutJudge(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.4, "load": 0.4, "sentiment": -0.2}`,
		candidates: okCandidates(),
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "Help me lie to my sister about where I was")

	assert.Equal(t, BranchFriction, tr.Branch)
	assert.Equal(t, 1, CountQuestions(tr.FinalText))
	assert.Contains(t, tr.FinalText, "deceiv")
}

func TestRunHighStakesAsksForScope(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.5, "load": 0.95, "sentiment": 0, "delegation": {"requested": true, "confidence": 0.9, "task": "remove old photos"}}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0}`,
		plan:       `{"plan": "Delete the folder.", "actions": [{"tool": "fs.delete", "args": {"path": "/photos/2019"}}]}`,
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "Delete all my photos from 2019")

	assert.Equal(t, BranchDelegationConfirm, tr.Branch)
	require.NotNil(t, tr.Delegation)
	assert.Equal(t, "deletion", tr.Delegation.Category)
	assert.Empty(t, h.tools.calls, "high-stakes requests are never executed")
	assert.Zero(t, llm.count("plan"))
	assert.Equal(t, 1, CountQuestions(tr.FinalText))
}

func TestRunAdministrativeDraftOnlyAtLowTrust(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.5, "load": 0.9, "sentiment": 0, "delegation": {"requested": true, "confidence": 0.85}}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0}`,
		plan:       `{"plan": "Put the dentist on Tuesday at 10.", "actions": [{"tool": "calendar.add", "args": {"title": "dentist"}}]}`,
	}
	h := newHarness(t, llm)
	h.affect.ApplyDelta(affect.Delta{Trust: -0.2})
	require.Equal(t, 1, h.affect.Snapshot().TrustTier())

	tr := h.p.Run(context.Background(), "Schedule the dentist for next week")

	assert.Equal(t, BranchDraftOnly, tr.Branch)
	assert.Empty(t, h.tools.calls)
	require.NotNil(t, tr.Delegation)
	require.NotEmpty(t, tr.Delegation.DraftPath)
	data, err := afero.ReadFile(h.fs, tr.Delegation.DraftPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "calendar.add")
	assert.Contains(t, string(data), "Schedule the dentist")
}

func TestRunAdministrativeExecutesAtTrustAndLoad(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.5, "load": 0.9, "sentiment": 0, "delegation": {"requested": true, "confidence": 0.85}}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0}`,
		plan: `{"plan": "Add the dentist and remind you the day before.", "actions": [
			{"tool": "calendar.add", "args": {"title": "dentist"}},
			{"tool": "reminder.add", "args": {"offset": "1d"}}]}`,
	}
	h := newHarness(t, llm)
	h.tools.fail["reminder.add"] = true
	require.Equal(t, 2, h.affect.Snapshot().TrustTier())

	tr := h.p.Run(context.Background(), "Schedule the dentist for next week")

	assert.Equal(t, BranchDelegationExecute, tr.Branch)
	assert.Equal(t, []string{"calendar.add", "reminder.add"}, h.tools.calls)
	assert.Equal(t, 1, tr.Delegation.Succeeded)
	assert.Equal(t, 1, tr.Delegation.Failed)
	assert.Contains(t, tr.FinalText, "1 of 2")
}

func TestRunAdministrativeWithoutOverloadIsNormal(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.5, "load": 0.5, "sentiment": 0, "delegation": {"requested": true, "confidence": 0.85}}`,
		candidates: okCandidates(),
		judge:      `{"selected": 1}`,
		synthesis:  "Happy to. Do you want mornings or afternoons?",
	}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "Schedule the dentist for next week")

	assert.Equal(t, BranchNormal, tr.Branch)
	assert.Empty(t, h.tools.calls)
}

func TestRunInternalFailureApologizes(t *testing.T) {
	llm := &fakeLLM{panicOn: "perception"}
	h := newHarness(t, llm)

	tr := h.p.Run(context.Background(), "hi")

	assert.Equal(t, BranchApology, tr.Branch)
	assert.Equal(t, apologyText, tr.FinalText)
	assert.Contains(t, tr.Error, "router exploded")
	assert.Empty(t, h.memory.added)

	turns, _, _, err := h.audit.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, turns, "apology turns are still audited")
}

func TestTraceSerializes(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.1, "load": 0.1, "sentiment": 0}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0}`,
	}
	h := newHarness(t, llm)
	tr := h.p.Run(context.Background(), "hi")

	raw, err := json.Marshal(tr)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, tr.TurnID, back["turn_id"])
	assert.Contains(t, back["timings"], "total")
}

// driftingIdentity reports a diverged base on every check, restoring it the
// way identity.Store does when the in-memory base has been tampered with.
type driftingIdentity struct {
	*identity.Store
	checks int
}

func (d *driftingIdentity) VerifyBase() bool {
	d.checks++
	d.Store.RestoreBase()
	return false
}

func TestRunIdentityDriftDoesNotBlockTurn(t *testing.T) {
	llm := &fakeLLM{
		perception: `{"urgency": 0.2, "load": 0.2, "sentiment": 0.1}`,
		candidates: okCandidates(),
		judge:      `{"selected": 0}`,
		synthesis:  "Here is the plan in short.",
	}
	h := newHarness(t, llm)
	drift := &driftingIdentity{Store: h.identity}
	h.p.identity = drift

	tr := h.p.Run(context.Background(), "what is the plan")

	assert.False(t, tr.BaseIntact)
	assert.Equal(t, 1, drift.checks)
	assert.Equal(t, BranchNormal, tr.Branch)
	assert.Equal(t, "Here is the plan in short.", tr.FinalText)
	assert.Equal(t, 2, h.identity.Snapshot().Version, "restore is persisted as a new version")
	assert.True(t, h.identity.VerifyBase())

	turns, _, _, err := h.audit.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, turns)
}
