package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// #region outcome
// Outcome classifies how a durable write ended.
type Outcome int

const (
	OK Outcome = iota
	PersistedWithFallback
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case PersistedWithFallback:
		return "persisted_with_fallback"
	default:
		return "failed"
	}
}

// Result reports where a record ended up. Path is the primary file on OK and
// the backup file on PersistedWithFallback.
type Result struct {
	Outcome  Outcome
	Path     string
	Attempts int
	Err      error
}

// #endregion outcome

// ErrCorrupt is returned by Load when the file exists but fails to decode or validate.
var ErrCorrupt = errors.New("corrupt record")

const maxAttempts = 3

// #region writer
// Writer performs atomic JSON record writes on an afero filesystem.
type Writer struct {
	fs  afero.Fs
	now func() time.Time
}

// NewWriter creates a writer on fs. A nil fs means the OS filesystem.
func NewWriter(fs afero.Fs) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs, now: time.Now}
}

// Fs exposes the underlying filesystem.
func (w *Writer) Fs() afero.Fs {
	return w.fs
}

// #endregion writer

// #region save
// Save marshals v and writes it to path: temp file, read-back verification,
// atomic rename. Failed attempts are retried up to three times before the
// record is redirected to a timestamped backup next to path. verify may be
// nil; when set it receives the bytes read back from the temp file.
func (w *Writer) Save(path string, v any, verify func([]byte) error) Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Result{Outcome: Failed, Err: fmt.Errorf("marshal: %w", err)}
	}

	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Outcome: Failed, Err: fmt.Errorf("mkdir: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = w.writeAtomic(path, data, verify); lastErr == nil {
			return Result{Outcome: OK, Path: path, Attempts: attempt}
		}
	}

	backup := BackupPath(path, w.now())
	if err := afero.WriteFile(w.fs, backup, data, 0o644); err != nil {
		return Result{
			Outcome:  Failed,
			Attempts: maxAttempts,
			Err:      fmt.Errorf("write backup after %v: %w", lastErr, err),
		}
	}
	return Result{Outcome: PersistedWithFallback, Path: backup, Attempts: maxAttempts, Err: lastErr}
}

func (w *Writer) writeAtomic(path string, data []byte, verify func([]byte) error) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(w.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	back, err := afero.ReadFile(w.fs, tmp)
	if err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("read back: %w", err)
	}
	if string(back) != string(data) {
		w.fs.Remove(tmp)
		return fmt.Errorf("read back: content mismatch")
	}
	if verify != nil {
		if err := verify(back); err != nil {
			w.fs.Remove(tmp)
			return fmt.Errorf("verify: %w", err)
		}
	}
	if err := w.fs.Rename(tmp, path); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// #endregion save

// #region load
// Load decodes path into v and runs validate. A missing file returns
// os.ErrNotExist. A file that fails to decode or validate is moved aside to a
// timestamped .corrupt file and ErrCorrupt is returned so the caller can reset
// to defaults.
func (w *Writer) Load(path string, v any, validate func() error) error {
	data, err := afero.ReadFile(w.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.ErrNotExist
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	cause := json.Unmarshal(data, v)
	if cause == nil && validate != nil {
		cause = validate()
	}
	if cause == nil {
		return nil
	}

	archive := CorruptPath(path, w.now())
	if err := w.fs.Rename(path, archive); err != nil {
		return fmt.Errorf("%w: %v (archive failed: %v)", ErrCorrupt, cause, err)
	}
	return fmt.Errorf("%w: %v (archived to %s)", ErrCorrupt, cause, archive)
}

// #endregion load

// #region paths
// BackupPath names the fallback file used when the primary write keeps failing.
func BackupPath(path string, t time.Time) string {
	return fmt.Sprintf("%s.backup-%s", path, t.UTC().Format("20060102T150405.000000000"))
}

// CorruptPath names the archive for a record that failed load-time validation.
func CorruptPath(path string, t time.Time) string {
	return fmt.Sprintf("%s.corrupt-%s", path, t.UTC().Format("20060102T150405.000000000"))
}

// #endregion paths
