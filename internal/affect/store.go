package affect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/logging"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
)

// #region store-struct
// Store owns the singleton affective record and its file. All mutations go
// through the mutex and are persisted before the method returns.
type Store struct {
	mu     sync.Mutex
	state  State
	path   string
	writer *persist.Writer
	log    *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// #endregion store-struct

// #region constructor
// Open loads the record at path. A missing file creates the default record;
// a corrupt one is archived and replaced by defaults.
func Open(path string, writer *persist.Writer, log *zap.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		path:   path,
		writer: writer,
		log:    log.Named("affect"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var loaded State
	err := writer.Load(path, &loaded, func() error { return loaded.Validate() })
	switch {
	case err == nil:
		if loaded.Flags == nil {
			loaded.Flags = []string{}
		}
		s.state = loaded
		return s, nil
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("no affective state found, creating defaults", zap.String("path", path))
	case errors.Is(err, persist.ErrCorrupt):
		s.log.Error("affective state failed validation, reset to defaults",
			logging.IntegrityViolation(), zap.String("path", path), zap.Error(err))
	default:
		return nil, fmt.Errorf("load affect: %w", err)
	}

	s.state = DefaultState(s.now().UTC())
	if res := s.persistLocked(); res.Outcome == persist.Failed {
		return nil, fmt.Errorf("persist default affect: %w", res.Err)
	}
	return s, nil
}

// #endregion constructor

// #region read
// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.state
	cp.Flags = append([]string(nil), s.state.Flags...)
	return cp
}

// #endregion read

// #region mutations
// ApplyDelta combines d with the current state using the asymptotic rule,
// clamps, bumps the interaction counters and persists.
func (s *Store) ApplyDelta(d Delta) (State, persist.Result) {
	return s.mutate("apply_delta", func(old State, now time.Time) State {
		return Apply(old, d, now)
	})
}

// Decay relaxes arousal and valence for the time elapsed up to now. Called at
// session start.
func (s *Store) Decay(now time.Time) (State, persist.Result) {
	return s.mutate("decay", func(old State, _ time.Time) State {
		return ApplyDecay(old, now)
	})
}

// Settle moves arousal and valence fraction of the way to rest.
func (s *Store) Settle(fraction float64) (State, persist.Result) {
	return s.mutate("settle", func(old State, now time.Time) State {
		return ApplySettle(old, fraction, now)
	})
}

// CheckReunion raises arousal to at least ReunionArousal when the principal
// returns after ReunionGap or more, and resets the interaction timestamp.
// The bool reports whether a reunion was detected.
func (s *Store) CheckReunion(now time.Time) (bool, State, persist.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.state.LastInteraction) < ReunionGap {
		return false, s.copyLocked(), persist.Result{Outcome: persist.OK, Path: s.path}
	}
	next := s.copyLocked()
	if next.Arousal < ReunionArousal {
		next.Arousal = ReunionArousal
	}
	next.LastInteraction = now
	next.Version++
	res := s.commitLocked(next)
	s.log.Info("reunion detected", zap.Float64("arousal", next.Arousal), zap.Time("at", now))
	return true, s.copyLocked(), res
}

// StartElastic opens the onboarding window during which deltas are
// multiplied by ElasticMultiplier.
func (s *Store) StartElastic(until time.Time) (State, persist.Result) {
	return s.mutate("start_elastic", func(old State, _ time.Time) State {
		old.ElasticMode = true
		old.ElasticUntil = until
		old.Version++
		return old
	})
}

// StopElastic closes the onboarding window early.
func (s *Store) StopElastic() (State, persist.Result) {
	return s.mutate("stop_elastic", func(old State, _ time.Time) State {
		old.ElasticMode = false
		old.ElasticUntil = time.Time{}
		old.Version++
		return old
	})
}

// ObserveSentiment engages door-slam on strongly negative sentiment and
// releases it once sentiment recovers. Nothing is written when the flag does
// not change.
func (s *Store) ObserveSentiment(sentiment float64) (State, persist.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := s.state.DoorSlamActive
	switch {
	case sentiment <= DoorSlamSentiment:
		want = true
	case sentiment >= DoorSlamRelease:
		want = false
	}
	if want == s.state.DoorSlamActive {
		return s.copyLocked(), persist.Result{Outcome: persist.OK, Path: s.path}
	}
	next := s.copyLocked()
	next.DoorSlamActive = want
	next.Version++
	res := s.commitLocked(next)
	s.log.Info("door slam changed", zap.Bool("active", want), zap.Float64("sentiment", sentiment))
	return s.copyLocked(), res
}

// SetFlag adds flag to the flag set.
func (s *Store) SetFlag(flag string) (State, persist.Result) {
	return s.mutate("set_flag", func(old State, _ time.Time) State {
		if !old.HasFlag(flag) {
			old.Flags = append(old.Flags, flag)
			old.Version++
		}
		return old
	})
}

// ClearFlag removes flag from the flag set.
func (s *Store) ClearFlag(flag string) (State, persist.Result) {
	return s.mutate("clear_flag", func(old State, _ time.Time) State {
		kept := old.Flags[:0]
		for _, f := range old.Flags {
			if f != flag {
				kept = append(kept, f)
			}
		}
		if len(kept) != len(old.Flags) {
			old.Version++
		}
		old.Flags = kept
		return old
	})
}

// #endregion mutations

// #region internals
func (s *Store) mutate(op string, fn func(State, time.Time) State) (State, persist.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.copyLocked(), s.now().UTC())
	if err := next.Validate(); err != nil {
		// Apply clamps everything, so this is a programming error.
		s.log.Error("rejected invalid affective transition",
			zap.String("op", op), logging.IntegrityViolation(), zap.Error(err))
		return s.copyLocked(), persist.Result{Outcome: persist.Failed, Err: err}
	}
	res := s.commitLocked(next)
	return s.copyLocked(), res
}

// commitLocked installs next and persists it. A Failed write restores the
// previous record so memory never runs ahead of disk.
func (s *Store) commitLocked(next State) persist.Result {
	prev := s.state
	s.state = next
	res := s.persistLocked()
	if res.Outcome == persist.Failed {
		s.state = prev
	}
	return res
}

func (s *Store) copyLocked() State {
	cp := s.state
	cp.Flags = append([]string(nil), s.state.Flags...)
	return cp
}

func (s *Store) persistLocked() persist.Result {
	res := s.writer.Save(s.path, s.state, func(b []byte) error {
		return verifyBytes(b)
	})
	switch res.Outcome {
	case persist.PersistedWithFallback:
		s.log.Warn("affective state written to backup",
			zap.String("backup", res.Path), zap.Error(res.Err))
	case persist.Failed:
		s.log.Error("affective state not persisted", zap.Error(res.Err))
	}
	return res
}

func verifyBytes(b []byte) error {
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	return st.Validate()
}

// #endregion internals
