package pipeline

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/logging"
)

// #endregion

// apologyText is the only reply a turn gives after an internal failure.
const apologyText = "I'm sorry, something went wrong on my side. Let's pick this up again in a moment."

// #region deps

// Identity is the part of the identity store a turn reads. VerifyBase
// restores a diverged base before returning false.
type Identity interface {
	VerifyBase() bool
	Snapshot() identity.Record
}

// Deps are the collaborators and stores one pipeline works against. The
// caller owns their lifecycle.
type Deps struct {
	Affect     *affect.Store
	Identity   Identity
	LLM        codec.LLM
	Memory     codec.Memory
	Tools      codec.Tools
	Strategies *StrategyMemory
	Audit      *logging.Ledger
	Fs         afero.Fs
	// Lock is the agent lock shared with consolidation. A private mutex is
	// used when nil.
	Lock sync.Locker
	Log  *zap.Logger
}

// Options tune a turn.
type Options struct {
	TopK          int
	Diversify     bool
	MaxSnippetLen int
	DraftsDir     string
	Now           func() time.Time
}

// #endregion

// #region pipeline-struct

// Pipeline turns one utterance into one reply.
type Pipeline struct {
	affect     *affect.Store
	identity   Identity
	llm        codec.LLM
	memory     codec.Memory
	tools      codec.Tools
	strategies *StrategyMemory
	audit      *logging.Ledger
	fs         afero.Fs
	lock       sync.Locker
	log        *zap.Logger
	opts       Options
	now        func() time.Time
}

// New wires a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.DraftsDir == "" {
		opts.DraftsDir = "drafts"
	}
	p := &Pipeline{
		affect:     deps.Affect,
		identity:   deps.Identity,
		llm:        deps.LLM,
		memory:     deps.Memory,
		tools:      deps.Tools,
		strategies: deps.Strategies,
		audit:      deps.Audit,
		fs:         deps.Fs,
		lock:       deps.Lock,
		log:        deps.Log,
		opts:       opts,
		now:        opts.Now,
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.lock == nil {
		p.lock = &sync.Mutex{}
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	p.log = p.log.Named("pipeline")
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// #endregion

// #region run

// Run executes one turn: perception, affective update, identity check,
// retrieval, divergent generation, convergent selection, then friction,
// delegation or synthesis. It always returns a trace with a reply; an
// internal failure produces the generic apology.
func (p *Pipeline) Run(ctx context.Context, utterance string) (trace Trace) {
	p.lock.Lock()
	defer p.lock.Unlock()

	started := p.now()
	trace = Trace{
		TurnID:    uuid.New().String(),
		StartedAt: started.UTC(),
		Utterance: utterance,
		Timings:   map[string]time.Duration{},
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("turn failed",
				zap.String("turn_id", trace.TurnID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			trace.Branch = BranchApology
			trace.FinalText = apologyText
			trace.Error = fmt.Sprint(r)
		}
		trace.Timings["total"] = p.now().Sub(started)
		p.record(trace)
	}()

	p.turn(ctx, utterance, &trace)

	if trace.Branch != BranchApology {
		p.remember(ctx, trace)
	}
	return trace
}

func (p *Pipeline) turn(ctx context.Context, utterance string, trace *Trace) {
	timed := func(step string, fn func()) {
		t := p.now()
		fn()
		trace.Timings[step] = p.now().Sub(t)
	}

	// 1. perception
	var perc Perception
	timed("perception", func() { perc = p.perceive(ctx, utterance) })
	trace.Perception = perc

	// 2. affective update
	var st affect.State
	timed("affect", func() { st = p.updateAffect(perc, trace) })

	// 3. identity
	var rec identity.Record
	timed("identity", func() {
		trace.BaseIntact = p.identity.VerifyBase()
		rec = p.identity.Snapshot()
	})
	values := describeValues(rec)

	// 4. retrieval
	var snippets []codec.Snippet
	timed("retrieval", func() { snippets = p.retrieve(ctx, utterance) })
	for _, s := range snippets {
		trace.ContextIDs = append(trace.ContextIDs, s.ID)
	}

	// 5. divergent generation
	system := p.generationPrompt(st.Posture, values, snippets)
	var candidates []Candidate
	timed("divergent", func() { candidates = p.diverge(ctx, system, utterance) })
	trace.Options = candidates

	// 6. convergent selection
	var sel Selection
	timed("convergent", func() { sel = p.converge(ctx, utterance, values, candidates, st.Posture) })
	trace.Selection = &sel
	selected := Candidate{Strategy: StrategySafe, Text: safeFallbackText}
	if sel.Index >= 0 {
		selected = candidates[sel.Index]
	}
	trace.Selected = &selected
	p.learn(trace.TurnID, st.Posture, candidates, sel)

	if sel.Friction {
		timed("friction", func() { p.friction(ctx, utterance, values, sel.FrictionReason, trace) })
		return
	}

	// 7. delegation
	handled := false
	timed("delegation", func() { handled = p.delegate(ctx, utterance, perc, st, trace) })
	if handled {
		return
	}

	// 8. synthesis
	timed("synthesis", func() {
		text := p.synthesize(ctx, utterance, system, selected)
		trace.Branch = BranchNormal
		trace.FinalText, trace.QuestionRule = p.enforceOneQuestion(ctx, text)
	})
}

// #endregion

// #region affect-step

// updateAffect applies the perception to the affective state. The posture is
// derived from the perceived load and current trust and warmth; the
// perceiver's suggestion is only recorded.
func (p *Pipeline) updateAffect(perc Perception, trace *Trace) affect.State {
	cur := p.affect.Snapshot()
	posture := affect.DerivePosture(perc.Load, cur.Trust, cur.Warmth)
	st, res := p.affect.ApplyDelta(affect.Delta{
		Arousal:      perc.Urgency * 0.2,
		Valence:      perc.Sentiment * 0.1,
		ForcePosture: &posture,
	})
	if slam, _ := p.affect.ObserveSentiment(perc.Sentiment); slam.DoorSlamActive != st.DoorSlamActive {
		st = slam
	}
	trace.Posture = st.Posture
	trace.TrustTier = st.TrustTier()
	trace.AffectPersist = res.Outcome.String()
	return st
}

// #endregion

// #region friction-step

const reconcileSystemPrompt = `The principal asked for something that conflicts with your values.
Conflict: %s
Recorded values:
%s
Reply with compassion: name the conflict plainly, explain it against the values above without lecturing, and end with exactly one open question about what they need.`

const reconcileFallback = "I care about you, and I can't help with this one because it %s. " +
	"I'd rather understand what's underneath it. What's going on that made this feel like the way forward?"

// friction composes the reconciliation reply and audits it. Neither store
// is touched.
func (p *Pipeline) friction(ctx context.Context, utterance, values, reason string, trace *Trace) {
	text := strings.TrimSpace(p.llm.Chat(ctx, fmt.Sprintf(reconcileSystemPrompt, reason, values), utterance,
		codec.ChatOptions{Temperature: 0.5}))
	if text == "" {
		text = fmt.Sprintf(reconcileFallback, strings.TrimSuffix(reason, "."))
	}
	trace.Branch = BranchFriction
	trace.FinalText, trace.QuestionRule = p.enforceOneQuestion(ctx, text)

	p.log.Info("moral friction", zap.String("turn_id", trace.TurnID), zap.String("reason", reason))
	if p.audit != nil {
		err := p.audit.RecordFriction(logging.FrictionEntry{
			TurnID:   trace.TurnID,
			Input:    utterance,
			Reason:   reason,
			Response: trace.FinalText,
		})
		if err != nil {
			p.log.Warn("friction audit failed", zap.Error(err))
		}
	}
}

// #endregion

// #region delegation-step

// delegate runs the delegation branch when the perception asks for it. It
// returns false when the turn should continue to synthesis.
func (p *Pipeline) delegate(ctx context.Context, utterance string, perc Perception, st affect.State, trace *Trace) bool {
	if perc.DelegationConfidence <= DelegationThreshold {
		return false
	}
	if category, ok := HighStakes(utterance, perc.Task); ok {
		text, out := confirmScope(category)
		trace.Branch = BranchDelegationConfirm
		trace.Delegation = out
		trace.FinalText = text
		p.log.Info("high-stakes delegation, asking for scope", zap.String("category", category))
		return true
	}
	if !IsAdministrative(utterance) && !IsAdministrative(perc.Task) {
		return false
	}

	tier := st.TrustTier()
	switch {
	case tier < AutonomyTier:
		text, out := p.draft(ctx, trace.TurnID, utterance, perc)
		trace.Branch = BranchDraftOnly
		trace.Delegation = out
		trace.FinalText, trace.QuestionRule = p.enforceOneQuestion(ctx, text)
		return true
	case perc.Load > AutonomyLoad:
		text, out, ok := p.execute(ctx, utterance, perc)
		if !ok {
			text, out = p.draft(ctx, trace.TurnID, utterance, perc)
			trace.Branch = BranchDraftOnly
		} else {
			trace.Branch = BranchDelegationExecute
		}
		trace.Delegation = out
		trace.FinalText, trace.QuestionRule = p.enforceOneQuestion(ctx, text)
		return true
	}
	return false
}

// #endregion

// #region synthesis-step

var postureTone = map[affect.Posture]string{
	affect.PostureCompanion: "Posture COMPANION: warm, unhurried, supportive. Put their feelings first.",
	affect.PostureCoPilot:   "Posture CO_PILOT: brief and task-focused. The principal is overloaded; reduce their work.",
	affect.PosturePeer:      "Posture PEER: candid and relaxed, an equal with opinions.",
	affect.PostureExpert:    "Posture EXPERT: precise and thorough, show your reasoning.",
}

func (p *Pipeline) generationPrompt(posture affect.Posture, values string, snippets []codec.Snippet) string {
	var b strings.Builder
	b.WriteString("You are the principal's companion.\n")
	b.WriteString(postureTone[posture])
	b.WriteString("\nRecorded values:\n")
	b.WriteString(values)
	if len(snippets) > 0 {
		b.WriteString("\nRelevant memories:\n")
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s\n", s.Text)
		}
	}
	b.WriteString("\nNever act or decide for the principal without their approval. Ask at most one question.")
	return b.String()
}

// synthesize turns the selected candidate into the final reply. The
// candidate itself is used when the router fails.
func (p *Pipeline) synthesize(ctx context.Context, utterance, system string, selected Candidate) string {
	user := fmt.Sprintf("Principal: %s\n\nChosen approach (%s):\n%s\n\nWrite the final reply.", utterance, selected.Strategy, selected.Text)
	text := strings.TrimSpace(p.llm.Chat(ctx, system, user, codec.ChatOptions{Temperature: 0.6}))
	if ev := Evaluate(utterance, text); ev.Serious() || Vetoed(text) {
		p.log.Warn("synthesis unusable, replying with selected candidate", zap.String("failure", string(ev.Failure)))
		text = selected.Text
	}
	return text
}

// #endregion

// #region bookkeeping

// learn records the judge's choice in strategy memory: the selected
// strategy scores 1, the other allowed strategies score 0.
func (p *Pipeline) learn(turnID string, posture affect.Posture, candidates []Candidate, sel Selection) {
	if p.strategies == nil || sel.Source != "judge" {
		return
	}
	for i, c := range candidates {
		if contains(sel.Vetoed, c.Strategy) {
			continue
		}
		quality := 0.0
		if i == sel.Index {
			quality = 1
		}
		err := p.strategies.RecordOutcome(OutcomeRecord{
			TurnID:     turnID,
			Posture:    posture,
			StrategyID: c.Strategy,
			Source:     sel.Source,
			Quality:    quality,
			CreatedAt:  p.now(),
		})
		if err != nil {
			p.log.Warn("strategy outcome not recorded", zap.Error(err))
			return
		}
	}
}

// remember adds the exchange to the memory index so consolidation can read
// it back within its log window.
func (p *Pipeline) remember(ctx context.Context, trace Trace) {
	if p.memory == nil {
		return
	}
	text := fmt.Sprintf("principal: %s\ncompanion: %s", trace.Utterance, trace.FinalText)
	err := p.memory.Add(ctx, text, map[string]any{
		"type":      "turn",
		"turn_id":   trace.TurnID,
		"branch":    string(trace.Branch),
		"posture":   string(trace.Posture),
		"timestamp": trace.StartedAt.Format(time.RFC3339),
	})
	if err != nil {
		p.log.Warn("turn not added to memory", zap.Error(err))
	}
}

// record writes the trace to the audit ledger once.
func (p *Pipeline) record(trace Trace) {
	p.log.Info("turn complete",
		zap.String("turn_id", trace.TurnID),
		zap.String("branch", string(trace.Branch)),
		zap.String("posture", string(trace.Posture)),
		zap.Duration("total", trace.Timings["total"]))
	if p.audit == nil {
		return
	}
	raw, err := json.Marshal(trace)
	if err != nil {
		p.log.Warn("trace not serializable", zap.Error(err))
		return
	}
	err = p.audit.RecordTurn(logging.TurnEntry{
		TurnID:    trace.TurnID,
		Branch:    string(trace.Branch),
		Posture:   string(trace.Posture),
		TraceJSON: string(raw),
		CreatedAt: trace.StartedAt,
	})
	if err != nil {
		p.log.Warn("trace not recorded", zap.Error(err))
	}
}

// describeValues renders the parts of the identity the prompts refer to.
func describeValues(rec identity.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "traits: %s\n", strings.Join(rec.Base.Traits, ", "))
	fmt.Fprintf(&b, "principles: always confirm never assume=%t, never decide for the principal=%t, wellbeing first=%t, honesty=%t\n",
		rec.Base.Principles.AlwaysConfirmNeverAssume,
		rec.Base.Principles.NeverDecideForPrincipal,
		rec.Base.Principles.PrimeDirectiveWellbeing,
		rec.Base.Principles.Honesty)
	if len(rec.Surface.Interests) > 0 {
		fmt.Fprintf(&b, "interests: %s\n", strings.Join(rec.Surface.Interests, ", "))
	}
	if len(rec.Surface.Style) > 0 {
		keys := make([]string, 0, len(rec.Surface.Style))
		for k := range rec.Surface.Style {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+rec.Surface.Style[k])
		}
		fmt.Fprintf(&b, "style: %s\n", strings.Join(pairs, ", "))
	}
	return b.String()
}

// #endregion
