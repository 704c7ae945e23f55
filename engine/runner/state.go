// Package runner drives long, unattended import-and-embed sessions across
// an ordered list of sources. Each source gets a bounded window of work
// per round so progress stays fair under a fixed time budget, and a small
// JSON checkpoint on disk makes the whole session resumable: deleting the
// file restarts from the beginning, a crash loses at most the in-flight
// source's window.
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is the on-disk checkpoint. Offsets count valid records already
// consumed per source and never decrease.
type State struct {
	Round       int              `json:"round"`
	SourceIndex int              `json:"source_index"`
	Offsets     map[string]int64 `json:"offsets"`
}

func newState() State {
	return State{Offsets: make(map[string]int64)}
}

// LoadState reads the checkpoint at path. A missing file is a fresh start,
// not an error. A file that exists but cannot be parsed returns a fresh
// state together with the parse error so the caller can decide whether to
// proceed.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newState(), nil
	}
	if err != nil {
		return newState(), fmt.Errorf("runner: read state %s: %w", path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return newState(), fmt.Errorf("runner: parse state %s: %w", path, err)
	}
	if st.Offsets == nil {
		st.Offsets = make(map[string]int64)
	}
	return st, nil
}

// Save writes the checkpoint atomically: a temp file in the same directory
// is renamed over the target, so a crash mid-write leaves either the old
// state or the new one, never a torn file.
func (s State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("runner: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("runner: temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("runner: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("runner: close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("runner: replace state %s: %w", path, err)
	}
	return nil
}
