// Package checkpoint persists per-subject pipeline state so an interrupted
// run resumes from the last completed phase instead of repeating work. Each
// subject owns one directory holding one JSON file per phase; a checkpoint
// becomes visible only through an atomic rename, so readers never observe a
// partial write.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"chartrec/internal/logging"
)

// ErrNotFound indicates no checkpoint exists for the subject and phase.
var ErrNotFound = errors.New("checkpoint not found")

// ErrSerialization indicates phase state could not be written. Unrecoverable:
// continuing would strand the run with no resume point.
var ErrSerialization = errors.New("checkpoint serialization failed")

// Envelope wraps phase state on disk with enough metadata to audit a resume.
type Envelope struct {
	SubjectID string          `json:"subject_id"`
	Phase     string          `json:"phase"`
	SavedAt   time.Time       `json:"saved_at"`
	Fallbacks int64           `json:"encoder_fallbacks,omitempty"`
	State     json.RawMessage `json:"state"`
}

// Manager reads and writes checkpoints under a root directory.
type Manager struct {
	root    string
	encoder *Encoder
}

// NewManager creates a manager rooted at dir, typically
// <workspace>/.chartrec/checkpoints.
func NewManager(dir string) *Manager {
	return &Manager{root: dir, encoder: NewEncoder()}
}

// FallbackCount reports how many values the encoder stringified across all
// saves so far.
func (m *Manager) FallbackCount() int64 { return m.encoder.FallbackCount() }

func (m *Manager) subjectDir(subjectID string) string {
	return filepath.Join(m.root, sanitize(subjectID))
}

func (m *Manager) phasePath(subjectID, phase string) string {
	return filepath.Join(m.subjectDir(subjectID), sanitize(phase)+".json")
}

// Save persists phase state for a subject. The file is written to a temporary
// name in the same directory and renamed into place, so a crash mid-write
// leaves the previous checkpoint intact.
func (m *Manager) Save(subjectID, phase string, state interface{}) error {
	log := logging.Get(logging.CategoryCheckpoint)

	dir := m.subjectDir(subjectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSerialization, dir, err)
	}

	before := m.encoder.FallbackCount()
	encoded := m.encoder.Encode(state)
	stateJSON, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("%w: marshal %s/%s state: %v", ErrSerialization, subjectID, phase, err)
	}

	env := Envelope{
		SubjectID: subjectID,
		Phase:     phase,
		SavedAt:   time.Now(),
		Fallbacks: m.encoder.FallbackCount() - before,
		State:     stateJSON,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s/%s envelope: %v", ErrSerialization, subjectID, phase, err)
	}

	tmp, err := os.CreateTemp(dir, "."+sanitize(phase)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %v", ErrSerialization, dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrSerialization, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync %s: %v", ErrSerialization, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", ErrSerialization, tmpName, err)
	}

	final := m.phasePath(subjectID, phase)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: publish %s: %v", ErrSerialization, final, err)
	}

	log.Info("saved checkpoint %s/%s (%d bytes)", subjectID, phase, len(data))
	return nil
}

// Load reads the checkpoint for a subject and phase, decoding its state into
// out. Returns ErrNotFound when the phase was never checkpointed.
func (m *Manager) Load(subjectID, phase string, out interface{}) (Envelope, error) {
	data, err := os.ReadFile(m.phasePath(subjectID, phase))
	if errors.Is(err, os.ErrNotExist) {
		return Envelope{}, fmt.Errorf("%w: %s/%s", ErrNotFound, subjectID, phase)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("read checkpoint %s/%s: %w", subjectID, phase, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode checkpoint %s/%s: %w", subjectID, phase, err)
	}
	if out != nil {
		if err := json.Unmarshal(env.State, out); err != nil {
			return Envelope{}, fmt.Errorf("decode checkpoint state %s/%s: %w", subjectID, phase, err)
		}
	}

	logging.Get(logging.CategoryCheckpoint).Info("loaded checkpoint %s/%s (saved %s)",
		subjectID, phase, env.SavedAt.Format(time.RFC3339))
	return env, nil
}

// Phases lists the checkpointed phases for a subject, sorted by name. Empty
// slice when the subject has no checkpoints.
func (m *Manager) Phases(subjectID string) ([]string, error) {
	entries, err := os.ReadDir(m.subjectDir(subjectID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", subjectID, err)
	}

	var phases []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		phases = append(phases, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(phases)
	return phases, nil
}

// Clear removes every checkpoint for a subject.
func (m *Manager) Clear(subjectID string) error {
	if err := os.RemoveAll(m.subjectDir(subjectID)); err != nil {
		return fmt.Errorf("clear checkpoints for %s: %w", subjectID, err)
	}
	logging.Get(logging.CategoryCheckpoint).Info("cleared checkpoints for %s", subjectID)
	return nil
}

// sanitize keeps subject and phase names safe as path components.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
