// Package state implements the mandated JSON runner-state file (C9):
// the single persisted record of active agents, the daily spend
// counter, and the queued-task snapshot that crash recovery rehydrates
// from. Writes go through a temp-file-plus-rename swap per spec §9's
// crash-atomicity recommendation, even though the reference design
// writes in place.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/obslog"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// State is the full persisted runner state, per spec §3/§6.
type State struct {
	ActiveAgents   map[string]v1.ActiveAgent `json:"activeAgents"`
	DailySpendUSD  float64                   `json:"dailySpendUsd"`
	DailySpendDate string                    `json:"dailySpendDate"`
	QueuedTasks    []v1.QueueEntry           `json:"queuedTasks"`
}

// Default returns an empty state with no active agents, zero spend,
// and an empty queue snapshot.
func Default() *State {
	return &State{
		ActiveAgents: make(map[string]v1.ActiveAgent),
		QueuedTasks:  []v1.QueueEntry{},
	}
}

// Store reads and writes the state file at path, one writer at a
// time from the orchestrator's single coordinating path (the manager),
// so concurrent writes never interleave.
type Store struct {
	path string
	log  *obslog.Logger
}

// NewStore creates a Store rooted at path. The parent directory is
// created on first write if missing.
func NewStore(path string, log *obslog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load reads and parses the state file. A missing file yields Default
// state with no error. A corrupt file is logged once and replaced
// with Default state, per spec §7's "Corrupt persisted state" policy.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("corrupt state file, resetting to defaults", zap.String("path", s.path), zap.Error(err))
		return Default(), nil
	}
	if st.ActiveAgents == nil {
		st.ActiveAgents = make(map[string]v1.ActiveAgent)
	}
	return &st, nil
}

// Save writes st to the state file atomically: a temp file in the
// same directory is written and fsynced, then renamed over the
// destination.
func (s *Store) Save(st *State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".runner-state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, s.path)
}

// DefaultPath resolves the state file path: $STATE_PATH if set,
// otherwise <cwd>/state/runner-state.json.
func DefaultPath() (string, error) {
	if p := os.Getenv("STATE_PATH"); p != "" {
		return p, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, "state", "runner-state.json"), nil
}
