package consolidation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/hypothesis"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/logging"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #region fake-llm

// fakeLLM routes each call by the system prompt. Unset handlers return "".
type fakeLLM struct {
	mu          sync.Mutex
	summary     string
	patterns    string
	consistency string
	reflection  string
	panicOn     string
	users       map[string]string
}

func (f *fakeLLM) Chat(_ context.Context, system, user string, _ codec.ChatOptions) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	kind := ""
	switch system {
	case summarizeSystemPrompt:
		kind = "summary"
	case extractSystemPrompt:
		kind = "extract"
	case consistencySystemPrompt:
		kind = "consistency"
	case reflectionSystemPrompt:
		kind = "reflection"
	}
	if f.users == nil {
		f.users = map[string]string{}
	}
	f.users[kind] = user
	if kind == f.panicOn {
		panic("router exploded")
	}
	switch kind {
	case "summary":
		return f.summary
	case "extract":
		return f.patterns
	case "consistency":
		return f.consistency
	case "reflection":
		return f.reflection
	}
	return ""
}

func (f *fakeLLM) Embed(context.Context, string) []float32 { return nil }

func (f *fakeLLM) userFor(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[kind]
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

func turn(id, text string, at time.Time) codec.Snippet {
	return codec.Snippet{
		ID:   id,
		Text: text,
		Metadata: map[string]any{
			"type":      "turn",
			"timestamp": at.UTC().Format(time.RFC3339),
		},
	}
}

// #endregion

// #region harness

type harness struct {
	p        *Process
	llm      *fakeLLM
	memory   *fakeMemory
	affect   *affect.Store
	identity *identity.Store
	ledger   *hypothesis.Ledger
	beliefs  *hypothesis.Beliefs
	journal  *Journal
	audit    *logging.Ledger
	fs       afero.Fs
	lock     *sync.Mutex
}

var clock = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const identityPath = "/data/identity.json"

func newHarness(t *testing.T, llm *fakeLLM, opts Options) *harness {
	t.Helper()
	return newHarnessFs(t, afero.NewMemMapFs(), llm, opts)
}

func newHarnessFs(t *testing.T, fs afero.Fs, llm *fakeLLM, opts Options) *harness {
	t.Helper()
	writer := persist.NewWriter(fs)
	now := func() time.Time { return clock }

	db, err := store.Open(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	aff, err := affect.Open("/data/affect.json", writer, nil, affect.WithClock(now))
	require.NoError(t, err)
	hist, err := identity.NewHistory(db)
	require.NoError(t, err)
	id, err := identity.Open(identityPath, writer, hist, nil, identity.WithClock(now))
	require.NoError(t, err)
	ledger, err := hypothesis.NewLedger(db)
	require.NoError(t, err)
	ledger.SetClock(now)
	beliefs, err := hypothesis.NewBeliefs(db)
	require.NoError(t, err)
	journal, err := NewJournal(db)
	require.NoError(t, err)
	journal.now = now
	audit, err := logging.NewLedger(db)
	require.NoError(t, err)

	h := &harness{
		llm:      llm,
		memory:   &fakeMemory{},
		affect:   aff,
		identity: id,
		ledger:   ledger,
		beliefs:  beliefs,
		journal:  journal,
		audit:    audit,
		fs:       fs,
		lock:     &sync.Mutex{},
	}
	opts.Now = now
	h.p = New(Deps{
		Affect:   aff,
		Identity: id,
		Ledger:   ledger,
		Beliefs:  beliefs,
		Journal:  journal,
		Audit:    audit,
		LLM:      llm,
		Memory:   h.memory,
		Lock:     h.lock,
	}, opts)
	return h
}

// #endregion
