package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/logging"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #region fake-llm

// fakeLLM routes each call by the system prompt. Unset handlers return "".
type fakeLLM struct {
	mu         sync.Mutex
	perception string
	candidates map[StrategyID]string
	judge      string
	synthesis  string
	rewrite    string
	plan       string
	reconcile  string
	panicOn    string
	calls      []string
}

func (f *fakeLLM) Chat(_ context.Context, system, user string, _ codec.ChatOptions) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	kind := f.kind(system)
	f.calls = append(f.calls, kind)
	if kind == f.panicOn {
		panic("router exploded")
	}
	switch kind {
	case "perception":
		return f.perception
	case "judge":
		return f.judge
	case "rewrite":
		return f.rewrite
	case "plan":
		return f.plan
	case "reconcile":
		return f.reconcile
	case "synthesis":
		return f.synthesis
	}
	for sid, cfg := range Strategies {
		if cfg.PromptModifier != "" && strings.HasSuffix(system, cfg.PromptModifier) {
			return f.candidates[sid]
		}
	}
	return ""
}

func (f *fakeLLM) kind(system string) string {
	switch {
	case system == perceptionSystemPrompt:
		return "perception"
	case strings.HasPrefix(system, "You choose the best reply"):
		return "judge"
	case system == rewriteSystemPrompt:
		return "rewrite"
	case system == planSystemPrompt:
		return "plan"
	case strings.HasPrefix(system, "The principal asked for something"):
		return "reconcile"
	case strings.Contains(system, "\n\nStrategy: "):
		return "candidate"
	}
	return "synthesis"
}

func (f *fakeLLM) Embed(context.Context, string) []float32 { return nil }

func (f *fakeLLM) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == kind {
			n++
		}
	}
	return n
}

func okCandidates() map[StrategyID]string {
	return map[StrategyID]string{
		StrategyDirect:   "Here is the plan in short.",
		StrategyClarify:  "Before I suggest anything, do you mean this week?",
		StrategyEmpathic: "That sounds like a lot to carry right now.",
	}
}

// #endregion

// #region fake-memory

type fakeMemory struct {
	mu       sync.Mutex
	results  []codec.Snippet
	err      error
	added    []string
	metadata []map[string]any
}

func (m *fakeMemory) Retrieve(context.Context, string, int, bool) ([]codec.Snippet, error) {
	return m.results, m.err
}

func (m *fakeMemory) Add(_ context.Context, text string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, text)
	m.metadata = append(m.metadata, metadata)
	return nil
}

// #endregion

// #region fake-tools

type fakeTools struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (t *fakeTools) Execute(_ context.Context, tool string, _ map[string]any) codec.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, tool)
	if t.fail[tool] {
		return codec.ToolResult{Status: "error", Message: "tool failed"}
	}
	return codec.ToolResult{Status: "ok", Message: "done"}
}

// #endregion

// #region harness

type harness struct {
	p        *Pipeline
	affect   *affect.Store
	identity *identity.Store
	audit    *logging.Ledger
	memory   *fakeMemory
	tools    *fakeTools
	fs       afero.Fs
	strat    *StrategyMemory
}

var clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, llm *fakeLLM) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	writer := persist.NewWriter(fs)
	now := func() time.Time { return clock }

	db, err := store.Open(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	aff, err := affect.Open("/data/affect.json", writer, nil, affect.WithClock(now))
	require.NoError(t, err)
	hist, err := identity.NewHistory(db)
	require.NoError(t, err)
	id, err := identity.Open("/data/identity.json", writer, hist, nil, identity.WithClock(now))
	require.NoError(t, err)
	audit, err := logging.NewLedger(db)
	require.NoError(t, err)
	strat, err := NewStrategyMemory(db)
	require.NoError(t, err)
	strat.now = now

	h := &harness{
		affect:   aff,
		identity: id,
		audit:    audit,
		memory:   &fakeMemory{},
		tools:    &fakeTools{fail: map[string]bool{}},
		fs:       fs,
		strat:    strat,
	}
	h.p = New(Deps{
		Affect:     aff,
		Identity:   id,
		LLM:        llm,
		Memory:     h.memory,
		Tools:      h.tools,
		Strategies: strat,
		Audit:      audit,
		Fs:         fs,
	}, Options{TopK: 3, MaxSnippetLen: 500, DraftsDir: "/data/drafts", Now: now})
	return h
}

// #endregion
