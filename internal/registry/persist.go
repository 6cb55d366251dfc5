package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/striemhq/striem/internal/logging"
)

const stateFile = "registry.json"

// persistedState is the sidecar document holding everything that is not the
// rule YAML itself: disable flags and configured sources.
type persistedState struct {
	DisabledRules []string  `json:"disabled_rules"`
	Sources       []*Source `json:"sources"`
}

// persistState writes the sidecar atomically. Persistence failures are
// logged, not propagated: the in-memory registry stays authoritative for the
// running process.
func (r *Registry) persistState(snap *Snapshot) {
	if r.dataDir == "" {
		return
	}
	state := persistedState{}
	for _, e := range snap.ordered {
		if !e.Enabled {
			state.DisabledRules = append(state.DisabledRules, e.Rule.ID)
		}
	}
	state.Sources = snap.Sources()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		r.log.Error("marshal registry state", logging.Error(err))
		return
	}
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		r.log.Error("create data dir", logging.Error(err))
		return
	}
	path := filepath.Join(r.dataDir, stateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.log.Error("write registry state", logging.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		r.log.Error("rename registry state", logging.Error(err))
	}
}

// applyPersistedState folds the sidecar into a snapshot being built.
func (r *Registry) applyPersistedState(snap *Snapshot) {
	if r.dataDir == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(r.dataDir, stateFile))
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("read registry state", logging.Error(err))
		}
		return
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		r.log.Warn("parse registry state", logging.Error(err))
		return
	}
	for _, id := range state.DisabledRules {
		if e, ok := snap.rules[id]; ok {
			snap.rules[id] = &RuleEntry{Rule: e.Rule, Tree: e.Tree, Enabled: false}
		}
	}
	for _, src := range state.Sources {
		snap.sources[src.ID] = src
	}
}
