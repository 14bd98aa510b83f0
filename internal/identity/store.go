package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/companion-kernel/internal/logging"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
)

// #region store-struct
// Store owns the singleton identity record. The base personality is checked
// against Reference() at load and before every surface mutation.
type Store struct {
	mu      sync.Mutex
	rec     Record
	path    string
	writer  *persist.Writer
	history *History
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// #endregion store-struct

// #region constructor
// Open loads the identity at path, creating it when missing and resetting it
// when corrupt, then verifies the base personality.
func Open(path string, writer *persist.Writer, history *History, log *zap.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		path:    path,
		writer:  writer,
		history: history,
		log:     log.Named("identity"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var loaded Record
	err := writer.Load(path, &loaded, func() error {
		if loaded.Version < 1 {
			return fmt.Errorf("version %d", loaded.Version)
		}
		return nil
	})
	switch {
	case err == nil:
		if loaded.Surface.Appearance == nil {
			loaded.Surface.Appearance = map[string]string{}
		}
		if loaded.Surface.Style == nil {
			loaded.Surface.Style = map[string]string{}
		}
		if loaded.Surface.Preferences == nil {
			loaded.Surface.Preferences = map[string]string{}
		}
		s.rec = loaded
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("no identity found, creating from reference", zap.String("path", path))
		s.rec = newRecord(s.now().UTC())
		if res := s.persistLocked(); res.Outcome == persist.Failed {
			return nil, fmt.Errorf("persist new identity: %w", res.Err)
		}
	case errors.Is(err, persist.ErrCorrupt):
		s.log.Error("identity failed validation, reset from reference",
			logging.IntegrityViolation(), zap.String("path", path), zap.Error(err))
		s.rec = newRecord(s.now().UTC())
		if res := s.persistLocked(); res.Outcome == persist.Failed {
			return nil, fmt.Errorf("persist reset identity: %w", res.Err)
		}
	default:
		return nil, fmt.Errorf("load identity: %w", err)
	}

	s.mu.Lock()
	s.verifyBaseLocked()
	s.mu.Unlock()
	return s, nil
}

// #endregion constructor

// #region read
// Snapshot returns a deep copy of the record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.clone()
}

// History exposes the evolution ledger.
func (s *Store) History() *History {
	return s.history
}

// #endregion read

// #region verify
// VerifyBase compares the base personality with Reference(). On mismatch the
// base is restored and persisted, the structured diff is logged, and false
// is returned.
func (s *Store) VerifyBase() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyBaseLocked()
}

func (s *Store) verifyBaseLocked() bool {
	diff := cmp.Diff(Reference(), s.rec.Base)
	if diff == "" {
		return true
	}
	s.log.Error("base personality diverged from reference",
		logging.IntegrityViolation(),
		zap.String("diff", diff),
		zap.Int("version", s.rec.Version))
	s.restoreBaseLocked()
	return false
}

// RestoreBase overwrites the base personality from Reference() and persists immediately.
func (s *Store) RestoreBase() persist.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreBaseLocked()
}

func (s *Store) restoreBaseLocked() persist.Result {
	s.rec.Base = Reference()
	s.rec.Version++
	s.rec.UpdatedAt = s.now().UTC()
	res := s.persistLocked()
	s.log.Warn("base personality restored", zap.Int("version", s.rec.Version), zap.String("outcome", res.Outcome.String()))
	return res
}

// #endregion verify

// #region update-surface
// UpdateSurface validates and applies patch. A failed base verification
// rejects the whole patch. Otherwise each field is validated on its own: a
// violation rejects only that field. Applied changes bump the version and
// evolution counter, append one evolution entry and persist.
func (s *Store) UpdateSurface(patch SurfacePatch, source string) UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := UpdateResult{Rejected: map[string]string{}, Version: s.rec.Version}
	if !s.verifyBaseLocked() {
		result.Rejected["base"] = "base personality diverged and was restored"
		result.Version = s.rec.Version
		return result
	}
	if patch.Empty() {
		result.Rejected["patch"] = "nothing to apply"
		return result
	}

	bounds := s.rec.Base.AestheticBounds
	prev := s.rec.clone()
	next := s.rec.clone()

	if patch.Appearance != nil {
		if err := validateAppearance(patch.Appearance, bounds); err != nil {
			result.Rejected["appearance"] = err.Error()
		} else {
			for k, v := range patch.Appearance {
				next.Surface.Appearance[k] = v
			}
			result.Applied = append(result.Applied, "appearance")
		}
	}
	if patch.Interests != nil {
		if err := validateInterests(patch.Interests, bounds); err != nil {
			result.Rejected["interests"] = err.Error()
		} else {
			next.Surface.Interests = normalizeInterests(patch.Interests)
			result.Applied = append(result.Applied, "interests")
		}
	}
	if patch.Style != nil {
		if err := checkMap("style", patch.Style, false); err != nil {
			result.Rejected["style"] = err.Error()
		} else {
			for k, v := range patch.Style {
				next.Surface.Style[k] = v
			}
			result.Applied = append(result.Applied, "style")
		}
	}
	if patch.Preferences != nil {
		if err := checkMap("preferences", patch.Preferences, false); err != nil {
			result.Rejected["preferences"] = err.Error()
		} else {
			for k, v := range patch.Preferences {
				next.Surface.Preferences[k] = v
			}
			result.Applied = append(result.Applied, "preferences")
		}
	}

	for field, reason := range result.Rejected {
		s.log.Warn("surface field rejected", zap.String("field", field), zap.String("reason", reason), zap.String("source", source))
	}
	if len(result.Applied) == 0 {
		return result
	}

	now := s.now().UTC()
	next.Version++
	next.EvolutionCount++
	next.UpdatedAt = now
	s.rec = next

	res := s.persistLocked()
	if res.Outcome == persist.Failed {
		s.rec = prev
		result.Rejected["persist"] = res.Err.Error()
		result.Applied = nil
		return result
	}

	sort.Strings(result.Applied)
	if s.history != nil {
		_, err := s.history.Append(EvolutionEntry{
			Version:   next.Version,
			Source:    source,
			Fields:    result.Applied,
			Before:    prev.Surface,
			After:     next.Surface.clone(),
			CreatedAt: now,
		})
		if err != nil {
			s.log.Error("evolution history append failed", zap.Error(err))
		}
	}

	result.OK = true
	result.Version = next.Version
	s.log.Info("surface updated",
		zap.Strings("fields", result.Applied),
		zap.String("source", source),
		zap.Int("version", next.Version))
	return result
}

// Onboard applies the initial surface chosen by the principal.
func (s *Store) Onboard(patch SurfacePatch) UpdateResult {
	return s.UpdateSurface(patch, "onboarding")
}

// #endregion update-surface

// #region drift
// CheckDrift reports base verification, surface validity and aesthetic bounds.
func (s *Store) CheckDrift() DriftReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := DriftReport{CheckedAt: s.now().UTC()}
	report.BaseIntact = s.verifyBaseLocked()
	report.Checks = append(report.Checks, Check{Name: "base_personality", Pass: report.BaseIntact})

	surf := s.rec.Surface
	report.SurfaceValid = true
	for _, c := range []struct {
		name string
		err  error
	}{
		{"appearance_format", checkMap("appearance", surf.Appearance, true)},
		{"interests_format", checkInterests(surf.Interests)},
		{"style_format", checkMap("style", surf.Style, false)},
		{"preferences_format", checkMap("preferences", surf.Preferences, false)},
	} {
		chk := Check{Name: c.name, Pass: c.err == nil}
		if c.err != nil {
			chk.Detail = c.err.Error()
			report.SurfaceValid = false
		}
		report.Checks = append(report.Checks, chk)
	}

	bounds := s.rec.Base.AestheticBounds
	values := append(mapValues(surf.Appearance), surf.Interests...)
	term, hit := deniedTerm(bounds, values...)
	report.WithinBounds = !hit
	chk := Check{Name: "aesthetic_bounds", Pass: !hit}
	if hit {
		chk.Detail = fmt.Sprintf("denied term %q present", term)
	}
	report.Checks = append(report.Checks, chk)

	if report.Drifted() {
		s.log.Error("identity drift detected",
			logging.IntegrityViolation(),
			zap.Bool("base_intact", report.BaseIntact),
			zap.Bool("surface_valid", report.SurfaceValid),
			zap.Bool("within_bounds", report.WithinBounds))
	}
	return report
}

// #endregion drift

// #region export
// ReferenceYAML renders the hard-coded base personality for operators.
func ReferenceYAML() ([]byte, error) {
	return yaml.Marshal(Reference())
}

// #endregion export

// #region internals
func (s *Store) persistLocked() persist.Result {
	res := s.writer.Save(s.path, s.rec, func(b []byte) error {
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return err
		}
		if r.Version != s.rec.Version {
			return fmt.Errorf("version mismatch %d != %d", r.Version, s.rec.Version)
		}
		return nil
	})
	switch res.Outcome {
	case persist.PersistedWithFallback:
		s.log.Warn("identity written to backup", zap.String("backup", res.Path), zap.Error(res.Err))
	case persist.Failed:
		s.log.Error("identity not persisted", zap.Error(res.Err))
	}
	return res
}

// #endregion internals
