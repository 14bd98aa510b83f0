package consolidation

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/hypothesis"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/logging"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
)

// #endregion imports

// errSkipped marks a step with nothing to do.
var errSkipped = errors.New("nothing to do")

// #region deps

// Deps are the stores and collaborators one cycle works against. The caller
// owns their lifecycle.
type Deps struct {
	Affect   *affect.Store
	Identity *identity.Store
	Ledger   *hypothesis.Ledger
	Beliefs  *hypothesis.Beliefs
	Journal  *Journal
	Audit    *logging.Ledger
	LLM      codec.LLM
	Memory   codec.Memory
	// Lock is the agent lock shared with the pipeline.
	Lock sync.Locker
	Log  *zap.Logger
}

// Options tune a cycle. Zero values take the defaults below.
type Options struct {
	LogWindow         time.Duration
	PendingCap        int
	SeverityThreshold float64
	ConflictOverlap   float64
	SettleFraction    float64
	RecallLimit       int
	Now               func() time.Time
}

func (o *Options) defaults() {
	if o.LogWindow <= 0 {
		o.LogWindow = 24 * time.Hour
	}
	if o.PendingCap <= 0 {
		o.PendingCap = 5
	}
	if o.SeverityThreshold <= 0 {
		o.SeverityThreshold = 0.7
	}
	if o.ConflictOverlap <= 0 {
		o.ConflictOverlap = 0.3
	}
	if o.SettleFraction <= 0 {
		o.SettleFraction = 0.2
	}
	if o.RecallLimit <= 0 {
		o.RecallLimit = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// #endregion deps

// #region process-struct

// Process is the periodic maintenance cycle.
type Process struct {
	affect   *affect.Store
	identity *identity.Store
	ledger   *hypothesis.Ledger
	beliefs  *hypothesis.Beliefs
	journal  *Journal
	audit    *logging.Ledger
	llm      codec.LLM
	memory   codec.Memory
	lock     sync.Locker
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

// New wires a process.
func New(deps Deps, opts Options) *Process {
	opts.defaults()
	p := &Process{
		affect:   deps.Affect,
		identity: deps.Identity,
		ledger:   deps.Ledger,
		beliefs:  deps.Beliefs,
		journal:  deps.Journal,
		audit:    deps.Audit,
		llm:      deps.LLM,
		memory:   deps.Memory,
		lock:     deps.Lock,
		log:      deps.Log,
		opts:     opts,
		now:      opts.Now,
	}
	if p.lock == nil {
		p.lock = &sync.Mutex{}
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	p.log = p.log.Named("consolidation")
	return p
}

// #endregion process-struct

// #region run

// Run executes one cycle under the agent lock. Every step logs and carries
// on when it fails; the report records each step's outcome.
func (p *Process) Run(ctx context.Context) Report {
	p.lock.Lock()
	defer p.lock.Unlock()

	started := p.now()
	rep := Report{CycleID: uuid.New().String(), StartedAt: started.UTC()}
	log := p.log.With(zap.String("cycle_id", rep.CycleID))
	log.Info("consolidation started")

	var (
		recent    []codec.Snippet
		logErr    error
		fresh     []hypothesis.Record
		conflicts = map[int]Conflict{}
		logRead   bool
	)
	window := func() ([]codec.Snippet, error) {
		if !logRead {
			recent, logErr = p.recentLog(ctx)
			logRead = true
		}
		return recent, logErr
	}

	p.step(&rep, StepSettle, func() error {
		st, res := p.affect.Settle(p.opts.SettleFraction)
		if res.Outcome == persist.Failed {
			return fmt.Errorf("settle affect: %w", res.Err)
		}
		log.Debug("affect settled", zap.Float64("arousal", st.Arousal), zap.Float64("valence", st.Valence))
		return nil
	})

	p.step(&rep, StepSummarize, func() error {
		entries, err := window()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errSkipped
		}
		summary, err := p.summarize(ctx, rep.CycleID, entries)
		rep.Summary = summary
		return err
	})

	p.step(&rep, StepIdentity, func() error {
		drift := p.identity.CheckDrift()
		rep.IdentityVerified = drift.BaseIntact
		rep.DriftDetected = drift.Drifted()
		if rep.DriftDetected {
			return fmt.Errorf("identity drift detected")
		}
		return nil
	})

	p.step(&rep, StepExtract, func() error {
		entries, err := window()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errSkipped
		}
		candidates, discarded, err := p.extract(ctx, entries)
		rep.Discarded = discarded
		if err != nil {
			return err
		}
		for _, c := range candidates {
			existing, ok, err := p.ledger.FindOpen(c.Pattern)
			if err != nil {
				return err
			}
			if !ok {
				fresh = append(fresh, c)
				continue
			}
			if _, err := p.ledger.Reinforce(existing.ID, c.Evidence); err != nil {
				return err
			}
			rep.Reinforced++
		}
		return nil
	})

	p.step(&rep, StepConflicts, func() error {
		if len(fresh) == 0 {
			return errSkipped
		}
		current := p.identity.Snapshot().Surface.Interests
		for i := range fresh {
			c, hit := detectConflict(fresh[i], current, p.opts.ConflictOverlap)
			if !hit {
				continue
			}
			conflicts[i] = c
			fresh[i].Conflict = true
			fresh[i].ConflictReason = c.Reason
		}
		return nil
	})

	p.step(&rep, StepPersist, func() error {
		var errs []error
		for i, r := range fresh {
			stored, err := p.ledger.Append(r)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rep.HypothesesGenerated++
			if c, ok := conflicts[i]; ok {
				c.HypothesisID = stored.ID
				rep.Conflicts = append(rep.Conflicts, c)
			}
		}
		queue, err := p.ledger.ReviewQueue(p.opts.PendingCap)
		if err != nil {
			errs = append(errs, err)
		}
		for _, r := range queue {
			rep.ReviewQueue = append(rep.ReviewQueue, r.ID)
		}
		open, err := p.ledger.Open()
		if err != nil {
			errs = append(errs, err)
		}
		rep.OpenHypotheses = len(open)
		return errors.Join(errs...)
	})

	p.step(&rep, StepConsistency, func() error {
		entries, err := window()
		if err != nil {
			return err
		}
		var beliefs []hypothesis.Belief
		if p.beliefs != nil {
			if beliefs, err = p.beliefs.List(); err != nil {
				return err
			}
		}
		claimList := claims(beliefs, p.identity.Snapshot().Surface)
		if len(claimList) == 0 || len(entries) == 0 {
			return errSkipped
		}
		found, err := p.inconsistencies(ctx, claimList, entries)
		rep.Inconsistencies = found
		for _, in := range found {
			log.Warn("record contradicts behavior",
				zap.String("claim", in.Claim),
				zap.String("observed", in.Observed),
				zap.Float64("severity", in.Severity))
		}
		return err
	})

	p.step(&rep, StepPromote, func() error {
		ready, err := p.ledger.Promotable()
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			return errSkipped
		}
		var errs []error
		for _, r := range ready {
			b, err := p.ledger.Promote(r.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rep.Promoted = append(rep.Promoted, b.ID)
			log.Info("hypothesis promoted",
				zap.String("hypothesis_id", r.ID),
				zap.Int("belief_version", b.Version),
				zap.String("pattern", r.Pattern))

			patch, ok := surfacePatch(r, p.identity.Snapshot().Surface)
			if !ok {
				continue
			}
			res := p.identity.UpdateSurface(patch, "consolidation")
			if res.OK {
				rep.SurfaceUpdates++
			} else {
				log.Warn("belief not applied to surface",
					zap.String("hypothesis_id", r.ID),
					zap.Any("rejected", res.Rejected))
			}
		}
		return errors.Join(errs...)
	})

	p.step(&rep, StepReflect, func() error {
		rep.Reflection = p.reflect(ctx, rep)
		rep.Curiosity = ExtractCuriosity(rep.Reflection)
		if p.journal == nil {
			return nil
		}
		_, err := p.journal.Save(rep.CycleID, rep.Reflection)
		return err
	})

	rep.Duration = p.now().Sub(started)
	p.step(&rep, StepReport, func() error {
		return p.record(rep)
	})

	log.Info("consolidation finished",
		zap.Duration("duration", rep.Duration),
		zap.Bool("identity_verified", rep.IdentityVerified),
		zap.Bool("drift_detected", rep.DriftDetected),
		zap.Int("hypotheses_generated", rep.HypothesesGenerated),
		zap.Int("reinforced", rep.Reinforced),
		zap.Int("promoted", len(rep.Promoted)),
		zap.Strings("failed_steps", rep.Failed()))
	return rep
}

// step runs fn, recovering panics, and appends its outcome to rep.
func (p *Process) step(rep *Report, name string, fn func() error) {
	t := p.now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("consolidation step panicked",
					zap.String("step", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()

	res := StepResult{Name: name, OK: err == nil || errors.Is(err, errSkipped)}
	switch {
	case errors.Is(err, errSkipped):
		res.Skipped = true
	case err != nil:
		res.Error = err.Error()
		p.log.Warn("consolidation step failed", zap.String("step", name), zap.Error(err))
	}
	res.Duration = p.now().Sub(t)
	rep.Steps = append(rep.Steps, res)
}

// #endregion run

// #region summarize

const summarizeSystemPrompt = `Summarize what happened in these conversations as durable facts about the
principal and open commitments. Plain sentences, no more than five. Leave out small talk.`

// summarize condenses the window into one consolidated fact and stores it
// in memory.
func (p *Process) summarize(ctx context.Context, cycleID string, entries []codec.Snippet) (string, error) {
	summary := strings.TrimSpace(p.llm.Chat(ctx, summarizeSystemPrompt, logText(entries), codec.ChatOptions{Temperature: 0.2}))
	if summary == "" {
		return "", fmt.Errorf("summary unavailable")
	}
	err := p.memory.Add(ctx, summary, map[string]any{
		"type":      consolidatedType,
		"cycle_id":  cycleID,
		"sources":   len(entries),
		"timestamp": p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return summary, fmt.Errorf("store consolidated fact: %w", err)
	}
	return summary, nil
}

// #endregion summarize

// #region record

func (p *Process) record(rep Report) error {
	if p.audit == nil {
		return nil
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return p.audit.RecordCycle(logging.CycleEntry{
		CycleID:          rep.CycleID,
		DurationMS:       rep.Duration.Milliseconds(),
		IdentityVerified: rep.IdentityVerified,
		DriftDetected:    rep.DriftDetected,
		Generated:        rep.HypothesesGenerated,
		Promoted:         len(rep.Promoted),
		ReportJSON:       string(raw),
		CreatedAt:        p.now().UTC(),
	})
}

// #endregion record
