package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/hypothesis"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
)

const astronomyPatterns = `{"patterns": [
	{"pattern": "Principal is drawn to astronomy", "evidence": ["meteor shower", "Jupiter's moons"],
	 "confidence": 0.8, "category": "interest", "subject": "astronomy"},
	{"pattern": "Works late", "evidence": ["stayed up"], "confidence": 0.6}
]}`

func TestRunFullCycle(t *testing.T) {
	llm := &fakeLLM{
		summary:    "The principal follows astronomy closely.",
		patterns:   astronomyPatterns,
		reflection: "They light up talking about the sky. I wonder what first drew them to it.",
	}
	h := newHarness(t, llm, Options{})
	old := turn("m3", "Talked about taxes", clock.Add(-7*24*time.Hour))
	fact := turn("m4", "Earlier summary", clock.Add(-time.Hour))
	fact.Metadata["type"] = consolidatedType
	h.memory.results = []codec.Snippet{
		turn("m1", "I stayed up watching the meteor shower", clock.Add(-8*time.Hour)),
		turn("m2", "Asked about Jupiter's moons again", clock.Add(-13*time.Hour)),
		old,
		fact,
		{ID: "m5", Text: "no timestamp"},
	}

	rep := h.p.Run(context.Background())

	assert.Empty(t, rep.Failed())
	assert.NotEmpty(t, rep.CycleID)
	assert.True(t, rep.IdentityVerified)
	assert.False(t, rep.DriftDetected)
	assert.Equal(t, 1, rep.HypothesesGenerated)
	assert.Equal(t, 1, rep.Discarded)
	assert.Equal(t, 1, rep.OpenHypotheses)
	require.Len(t, rep.ReviewQueue, 1)

	// empty interest baseline is always a conflict
	require.Len(t, rep.Conflicts, 1)
	assert.Equal(t, "astronomy", rep.Conflicts[0].Subject)
	assert.Equal(t, rep.ReviewQueue[0], rep.Conflicts[0].HypothesisID)
	stored, err := h.ledger.Get(rep.ReviewQueue[0])
	require.NoError(t, err)
	assert.True(t, stored.Conflict)
	assert.Equal(t, hypothesis.StatusPending, stored.Status)
	assert.Equal(t, 0.8, stored.Weight)

	// only the in-window turns reach the router, oldest first
	user := llm.userFor("extract")
	assert.NotContains(t, user, "taxes")
	assert.NotContains(t, user, "Earlier summary")
	assert.NotContains(t, user, "no timestamp")
	assert.Less(t, strings.Index(user, "Jupiter"), strings.Index(user, "meteor"))

	require.Equal(t, []string{"The principal follows astronomy closely."}, h.memory.added)
	assert.Equal(t, consolidatedType, h.memory.metadata[0]["type"])
	assert.Equal(t, 2, h.memory.metadata[0]["sources"])

	assert.InDelta(t, 0.44, h.affect.Snapshot().Arousal, 1e-9)

	latest, err := h.journal.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, rep.CycleID, latest.CycleID)
	assert.Equal(t, llm.reflection, latest.Text)
	assert.Equal(t, []string{"i wonder"}, rep.Curiosity)

	_, _, cycles, err := h.audit.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, cycles)

	step, ok := rep.Step(StepConsistency)
	require.True(t, ok)
	assert.True(t, step.Skipped, "nothing on record yet")
}

func TestPromotionGate(t *testing.T) {
	h := newHarness(t, &fakeLLM{}, Options{})

	a, err := h.ledger.Append(hypothesis.Record{
		Pattern:         "Prefers tea in the evening",
		Evidence:        []string{"tuesday", "thursday"},
		Weight:          0.7,
		ValidationCount: 2,
		Category:        hypothesis.CategoryPreference,
		Subject:         "evening_drink",
		Value:           "tea",
	})
	require.NoError(t, err)
	b, err := h.ledger.Append(hypothesis.Record{
		Pattern:         "Enjoys astronomy",
		Evidence:        []string{"meteor shower", "telescope"},
		Weight:          0.9,
		ValidationCount: 3,
		Category:        hypothesis.CategoryInterest,
		Subject:         "astronomy",
	})
	require.NoError(t, err)

	rep := h.p.Run(context.Background())
	require.Len(t, rep.Promoted, 1)
	assert.Equal(t, 1, rep.SurfaceUpdates)

	gotA, err := h.ledger.Get(a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.Promoted(), "count 2 stays pending")
	gotB, err := h.ledger.Get(b.ID)
	require.NoError(t, err)
	assert.True(t, gotB.Promoted())

	n, err := h.beliefs.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, h.identity.Snapshot().Surface.Interests, "astronomy")

	entries, err := h.identity.History().List(5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "consolidation", entries[0].Source)

	rep = h.p.Run(context.Background())
	assert.Empty(t, rep.Promoted, "a promoted hypothesis is never promoted twice")
	assert.Equal(t, []string{a.ID}, rep.ReviewQueue)
}

func TestReinforcementAcrossCycles(t *testing.T) {
	llm := &fakeLLM{patterns: `{"patterns": [{"pattern": "Takes coffee with oat milk",
		"evidence": ["ordered oat latte", "asked for oat milk"], "confidence": 0.6,
		"category": "preference", "subject": "coffee", "value": "oat milk"}]}`}
	h := newHarness(t, llm, Options{})
	h.memory.results = []codec.Snippet{
		turn("m1", "Ordered an oat latte", clock.Add(-2*time.Hour)),
		turn("m2", "Asked for oat milk", clock.Add(-time.Hour)),
	}

	rep := h.p.Run(context.Background())
	assert.Equal(t, 1, rep.HypothesesGenerated)
	assert.Empty(t, rep.Conflicts, "preferences are not checked for interest drift")

	for cycle := 2; cycle <= 3; cycle++ {
		rep = h.p.Run(context.Background())
		assert.Zero(t, rep.HypothesesGenerated)
		assert.Equal(t, 1, rep.Reinforced)
		assert.Empty(t, rep.Promoted, "cycle %d", cycle)
	}

	open, err := h.ledger.Open()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].ValidationCount)
	assert.Equal(t, hypothesis.StatusTesting, open[0].Status)

	rep = h.p.Run(context.Background())
	require.Len(t, rep.Promoted, 1)
	assert.Equal(t, "oat milk", h.identity.Snapshot().Surface.Preferences["coffee"])
}

func TestCollaboratorsDown(t *testing.T) {
	h := newHarness(t, &fakeLLM{}, Options{})
	h.memory.err = errors.New("index offline")

	rep := h.p.Run(context.Background())

	assert.Equal(t, []string{StepSummarize, StepExtract, StepConsistency}, rep.Failed())
	assert.True(t, rep.IdentityVerified)
	assert.Zero(t, rep.HypothesesGenerated)
	assert.Contains(t, rep.Reflection, "I noticed 0 new patterns")
	assert.Len(t, rep.Steps, 10)

	latest, err := h.journal.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, rep.Reflection, latest.Text)

	_, _, cycles, err := h.audit.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, cycles)
}

func TestSeverityThreshold(t *testing.T) {
	llm := &fakeLLM{consistency: `{"inconsistencies": [
		{"claim": "prefers coffee: black", "observed": "ordered oat lattes all week", "severity": 0.9},
		{"claim": "prefers coffee: black", "observed": "added sugar once", "severity": 0.7},
		{"claim": "interested in jazz", "observed": "skipped a concert", "severity": 0.4},
		{"claim": "no severity"}
	]}`}
	h := newHarness(t, llm, Options{})
	require.True(t, h.identity.Onboard(identity.SurfacePatch{Preferences: map[string]string{"coffee": "black"}}).OK)
	h.memory.results = []codec.Snippet{turn("m1", "Ordered an oat latte", clock.Add(-time.Hour))}

	rep := h.p.Run(context.Background())

	require.Len(t, rep.Inconsistencies, 1)
	assert.Equal(t, 0.9, rep.Inconsistencies[0].Severity)
	assert.Equal(t, "ordered oat lattes all week", rep.Inconsistencies[0].Observed)
	assert.Contains(t, llm.userFor("consistency"), "prefers coffee: black")
}

func TestInterestConflictAgainstBaseline(t *testing.T) {
	llm := &fakeLLM{patterns: `{"patterns": [
		{"pattern": "Photographs the night sky", "evidence": ["tripod", "long exposure"], "category": "interest", "subject": "astronomy photography"},
		{"pattern": "Talks about climbing", "evidence": ["gym", "bouldering"], "category": "interest", "subject": "rock climbing"}
	]}`}
	h := newHarness(t, llm, Options{})
	require.True(t, h.identity.Onboard(identity.SurfacePatch{Interests: []string{"jazz piano", "astronomy"}}).OK)
	h.memory.results = []codec.Snippet{turn("m1", "Went bouldering", clock.Add(-time.Hour))}

	rep := h.p.Run(context.Background())

	assert.Equal(t, 2, rep.HypothesesGenerated)
	require.Len(t, rep.Conflicts, 1)
	assert.Equal(t, "rock climbing", rep.Conflicts[0].Subject)
	assert.Zero(t, rep.Conflicts[0].Overlap)
}

func TestConflictedInterestNeedsConfirmation(t *testing.T) {
	h := newHarness(t, &fakeLLM{}, Options{})
	_, err := h.ledger.Append(hypothesis.Record{
		Pattern:         "Talks about climbing",
		Evidence:        []string{"gym", "bouldering"},
		Weight:          0.5,
		ValidationCount: 3,
		Category:        hypothesis.CategoryInterest,
		Subject:         "rock climbing",
		Conflict:        true,
	})
	require.NoError(t, err)

	rep := h.p.Run(context.Background())
	require.Len(t, rep.Promoted, 1)
	assert.Zero(t, rep.SurfaceUpdates)
	assert.NotContains(t, h.identity.Snapshot().Surface.Interests, "rock climbing")

	c, err := h.ledger.Append(hypothesis.Record{
		Pattern:  "Loves bouldering",
		Evidence: []string{"gym", "chalk"},
		Weight:   0.5,
		Category: hypothesis.CategoryInterest,
		Subject:  "bouldering",
		Conflict: true,
	})
	require.NoError(t, err)
	_, err = h.ledger.Confirm(c.ID)
	require.NoError(t, err)

	rep = h.p.Run(context.Background())
	require.Len(t, rep.Promoted, 1)
	assert.Equal(t, 1, rep.SurfaceUpdates)
	assert.Contains(t, h.identity.Snapshot().Surface.Interests, "bouldering")
}

func TestReviewQueueCapped(t *testing.T) {
	h := newHarness(t, &fakeLLM{}, Options{PendingCap: 5})
	var ids []string
	for i := 0; i < 7; i++ {
		r, err := h.ledger.Append(hypothesis.Record{
			Pattern:  "pattern " + string(rune('a'+i)),
			Evidence: []string{"x", "y"},
			Weight:   0.5,
			Category: hypothesis.CategoryRoutine,
		})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	rep := h.p.Run(context.Background())
	assert.Equal(t, ids[:5], rep.ReviewQueue)
	assert.Equal(t, 7, rep.OpenHypotheses)
}

func TestPanickingStepDoesNotAbortCycle(t *testing.T) {
	llm := &fakeLLM{panicOn: "extract", reflection: "A quiet day."}
	h := newHarness(t, llm, Options{})
	h.memory.results = []codec.Snippet{turn("m1", "hello", clock.Add(-time.Hour))}

	rep := h.p.Run(context.Background())

	step, ok := rep.Step(StepExtract)
	require.True(t, ok)
	assert.False(t, step.OK)
	assert.Contains(t, step.Error, "panic")
	assert.Equal(t, "A quiet day.", rep.Reflection)
	last := rep.Steps[len(rep.Steps)-1]
	assert.Equal(t, StepReport, last.Name)
	assert.True(t, last.OK)
}

func TestDriftIsReportedNotFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed, err := identity.Open(identityPath, persist.NewWriter(fs), nil, nil)
	require.NoError(t, err)
	rec := seed.Snapshot()
	rec.Surface.Interests = []string{"gore films"}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, identityPath, raw, 0o644))

	h := newHarnessFs(t, fs, &fakeLLM{}, Options{})
	rep := h.p.Run(context.Background())

	assert.True(t, rep.IdentityVerified, "the base itself is intact")
	assert.True(t, rep.DriftDetected)
	assert.Contains(t, rep.Failed(), StepIdentity)
	assert.Len(t, rep.Steps, 10)
}

func TestRunWaitsForAgentLock(t *testing.T) {
	h := newHarness(t, &fakeLLM{}, Options{})
	h.lock.Lock()

	done := make(chan Report, 1)
	go func() { done <- h.p.Run(context.Background()) }()

	select {
	case <-done:
		t.Fatal("cycle ran while a turn held the agent lock")
	case <-time.After(50 * time.Millisecond):
	}
	h.lock.Unlock()

	select {
	case rep := <-done:
		assert.NotEmpty(t, rep.CycleID)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never ran")
	}
}
