package cli

// #region imports
import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
	"github.com/danielpatrickdp/companion-kernel/internal/codec"
	"github.com/danielpatrickdp/companion-kernel/internal/config"
	"github.com/danielpatrickdp/companion-kernel/internal/consolidation"
	"github.com/danielpatrickdp/companion-kernel/internal/hypothesis"
	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/logging"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
	"github.com/danielpatrickdp/companion-kernel/internal/pipeline"
	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

// #endregion imports

// #region runner-struct

// Runner owns one agent: its stores, its collaborator connection and the
// agent lock that keeps a consolidation cycle from overlapping a turn.
type Runner struct {
	cfg *config.Config
	log *zap.Logger
	fs  afero.Fs
	db  *sql.DB

	Affect     *affect.Store
	Identity   *identity.Store
	Ledger     *hypothesis.Ledger
	Beliefs    *hypothesis.Beliefs
	Journal    *consolidation.Journal
	Audit      *logging.Ledger
	Strategies *pipeline.StrategyMemory

	client *codec.Client
	llm    codec.LLM
	memory codec.Memory
	tools  codec.Tools

	lock sync.Mutex
}

// #endregion runner-struct

// #region open

// OpenRunner opens the database and both record stores under the data
// directory. Collaborators are not contacted until Connect.
func OpenRunner(cfg *config.Config, fs afero.Fs, log *zap.Logger) (*Runner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := fs.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, log: log, fs: fs, db: db}
	if err := r.open(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) open() error {
	writer := persist.NewWriter(r.fs)
	var err error
	if r.Affect, err = affect.Open(r.cfg.AffectPath(), writer, r.log); err != nil {
		return fmt.Errorf("open affect: %w", err)
	}
	history, err := identity.NewHistory(r.db)
	if err != nil {
		return err
	}
	if r.Identity, err = identity.Open(r.cfg.IdentityPath(), writer, history, r.log); err != nil {
		return fmt.Errorf("open identity: %w", err)
	}
	if r.Ledger, err = hypothesis.NewLedger(r.db); err != nil {
		return err
	}
	if r.Beliefs, err = hypothesis.NewBeliefs(r.db); err != nil {
		return err
	}
	if r.Journal, err = consolidation.NewJournal(r.db); err != nil {
		return err
	}
	if r.Audit, err = logging.NewLedger(r.db); err != nil {
		return err
	}
	if r.Strategies, err = pipeline.NewStrategyMemory(r.db); err != nil {
		return err
	}
	r.Strategies.SetWindow(r.cfg.Pipeline.StrategyWindow)
	return nil
}

// Connect dials the collaborator service.
func (r *Runner) Connect() error {
	client, err := codec.Dial(r.cfg.Codec.Address, r.cfg.Codec.Timeout, r.log)
	if err != nil {
		return err
	}
	r.client = client
	r.llm, r.memory, r.tools = client, client, client
	return nil
}

// Close releases the connection and the database.
func (r *Runner) Close() error {
	var errs []error
	if r.client != nil {
		errs = append(errs, r.client.Close())
	}
	errs = append(errs, r.db.Close())
	return errors.Join(errs...)
}

// #endregion open

// #region wiring

// Pipeline builds the turn pipeline over the runner's stores.
func (r *Runner) Pipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Affect:     r.Affect,
		Identity:   r.Identity,
		LLM:        r.llm,
		Memory:     r.memory,
		Tools:      r.tools,
		Strategies: r.Strategies,
		Audit:      r.Audit,
		Fs:         r.fs,
		Lock:       &r.lock,
		Log:        r.log,
	}, pipeline.Options{
		TopK:          r.cfg.Pipeline.TopK,
		Diversify:     r.cfg.Pipeline.Diversify,
		MaxSnippetLen: r.cfg.Pipeline.MaxSnippetLen,
		DraftsDir:     r.cfg.DraftsPath(),
	})
}

// Consolidation builds the maintenance cycle over the runner's stores.
func (r *Runner) Consolidation() *consolidation.Process {
	c := r.cfg.Consolidation
	return consolidation.New(consolidation.Deps{
		Affect:   r.Affect,
		Identity: r.Identity,
		Ledger:   r.Ledger,
		Beliefs:  r.Beliefs,
		Journal:  r.Journal,
		Audit:    r.Audit,
		LLM:      r.llm,
		Memory:   r.memory,
		Lock:     &r.lock,
		Log:      r.log,
	}, consolidation.Options{
		LogWindow:         c.LogWindow,
		PendingCap:        c.PendingCap,
		SeverityThreshold: c.SeverityThreshold,
		ConflictOverlap:   c.ConflictOverlap,
		SettleFraction:    c.SettleFraction,
	})
}

// StartSession relaxes affect for the time away and raises arousal after a
// long absence. Called once before the first turn.
func (r *Runner) StartSession(now time.Time) (reunion bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.Affect.Decay(now)
	if st := r.Affect.Snapshot(); st.HasFlag(onboardingFlag) &&
		(!st.ElasticMode || !now.Before(st.ElasticUntil)) {
		if err := r.closeOnboardingLocked(); err != nil {
			r.log.Warn("onboarding window not closed", zap.Error(err))
		}
	}
	reunion, st, _ := r.Affect.CheckReunion(now)
	if reunion {
		r.log.Info("welcome back", zap.Float64("arousal", st.Arousal))
	}
	return reunion
}

// closeOnboardingLocked ends the elastic window and clears the onboarding
// flag. The caller holds the agent lock.
func (r *Runner) closeOnboardingLocked() error {
	if _, res := r.Affect.StopElastic(); res.Outcome == persist.Failed {
		return fmt.Errorf("stop elastic window: %w", res.Err)
	}
	if _, res := r.Affect.ClearFlag(onboardingFlag); res.Outcome == persist.Failed {
		return fmt.Errorf("clear onboarding flag: %w", res.Err)
	}
	return nil
}

// #endregion wiring
