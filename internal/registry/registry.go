// Package registry owns the rule and source lifecycle: loading Sigma rules
// from disk, tracking enable state out-of-band, persisting collector sources
// and generating the upstream collector configuration. Readers work against
// copy-on-write snapshots published atomically, so the detection hot path
// never takes a lock.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/sigma"
)

// ErrNotFound is returned for unknown rule or source ids.
var ErrNotFound = errors.New("not found")

// RuleEntry is one compiled rule plus its out-of-band enable flag. Rules are
// never mutated in place; uploads insert a new entry and the old one becomes
// unreferenced.
type RuleEntry struct {
	Rule    *sigma.Rule
	Tree    *sigma.Tree
	Enabled bool
}

// RuleSummary is the list view of a rule.
type RuleSummary struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Level       sigma.Level     `json:"level"`
	Enabled     bool            `json:"enabled"`
	Logsource   sigma.Logsource `json:"logsource"`
	ContentHash string          `json:"content_hash"`
}

func summarize(e *RuleEntry) RuleSummary {
	return RuleSummary{
		ID:          e.Rule.ID,
		Title:       e.Rule.Title,
		Description: e.Rule.Description,
		Level:       e.Rule.Level,
		Enabled:     e.Enabled,
		Logsource:   e.Rule.Logsource,
		ContentHash: e.Rule.ContentHash,
	}
}

// Snapshot is an immutable view of the registry. Handles stay valid for the
// caller's lifetime; writers publish replacements atomically.
type Snapshot struct {
	rules   map[string]*RuleEntry
	ordered []*RuleEntry
	sources map[string]*Source
}

// Rules returns all rule entries in stable id order.
func (s *Snapshot) Rules() []*RuleEntry { return s.ordered }

// Rule returns one entry by id.
func (s *Snapshot) Rule(id string) (*RuleEntry, bool) {
	e, ok := s.rules[id]
	return e, ok
}

// EnabledRules returns the enabled subset in stable id order.
func (s *Snapshot) EnabledRules() []*RuleEntry {
	out := make([]*RuleEntry, 0, len(s.ordered))
	for _, e := range s.ordered {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Sources returns all sources sorted by id.
func (s *Snapshot) Sources() []*Source {
	out := make([]*Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Registry is the mutable owner of rule and source state.
type Registry struct {
	rulesDir string
	dataDir  string
	log      *logging.Logger

	mu     sync.Mutex
	snap   atomic.Pointer[Snapshot]
	notify chan struct{}
}

// New creates a registry persisting rules under rulesDir and sidecar state
// under dataDir. Either may be empty to disable that persistence.
func New(rulesDir, dataDir string, log *logging.Logger) *Registry {
	r := &Registry{
		rulesDir: rulesDir,
		dataDir:  dataDir,
		log:      log.With(logging.Component("registry")),
		notify:   make(chan struct{}, 1),
	}
	r.snap.Store(&Snapshot{
		rules:   map[string]*RuleEntry{},
		sources: map[string]*Source{},
	})
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Changes delivers a coalesced signal after each published snapshot.
func (r *Registry) Changes() <-chan struct{} {
	return r.notify
}

func (r *Registry) publish(next *Snapshot) {
	r.snap.Store(next)
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// clone copies the snapshot maps so the mutation never touches a published
// view.
func (r *Registry) clone() *Snapshot {
	cur := r.snap.Load()
	next := &Snapshot{
		rules:   make(map[string]*RuleEntry, len(cur.rules)),
		sources: make(map[string]*Source, len(cur.sources)),
	}
	for id, e := range cur.rules {
		next.rules[id] = e
	}
	for id, s := range cur.sources {
		next.sources[id] = s
	}
	next.reorder()
	return next
}

func (s *Snapshot) reorder() {
	s.ordered = make([]*RuleEntry, 0, len(s.rules))
	for _, e := range s.rules {
		s.ordered = append(s.ordered, e)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		return s.ordered[i].Rule.ID < s.ordered[j].Rule.ID
	})
}

// LoadDir compiles every .yml/.yaml under the given directories. Broken
// rules are skipped with a warning so one bad file cannot block startup.
func (r *Registry) LoadDir(dirs ...string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.clone()
	var loaded int
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isRuleFile(path) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			tree, err := sigma.Compile(data)
			if err != nil {
				r.log.Warn("skipping broken rule", logging.Path(path), logging.Error(err))
				return nil
			}
			next.rules[tree.Rule.ID] = &RuleEntry{Rule: tree.Rule, Tree: tree, Enabled: true}
			loaded++
			return nil
		})
		if err != nil {
			return loaded, err
		}
	}
	r.applyPersistedState(next)
	next.reorder()
	r.publish(next)
	return loaded, nil
}

func isRuleFile(path string) bool {
	return strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")
}

// ListRules returns summaries in stable id order.
func (r *Registry) ListRules() []RuleSummary {
	snap := r.Snapshot()
	out := make([]RuleSummary, 0, len(snap.ordered))
	for _, e := range snap.ordered {
		out = append(out, summarize(e))
	}
	return out
}

// RuleContent is the detail view of a rule.
type RuleContent struct {
	RuleSummary
	Content []byte `json:"content"`
}

// GetRule returns the rule including its original YAML.
func (r *Registry) GetRule(id string) (RuleContent, error) {
	e, ok := r.Snapshot().rules[id]
	if !ok {
		return RuleContent{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return RuleContent{RuleSummary: summarize(e), Content: e.Rule.Raw}, nil
}

// PutRule compiles and inserts a rule, replacing any existing version under
// the same id. Compile errors leave the registry untouched.
func (r *Registry) PutRule(yamlBytes []byte) (RuleSummary, error) {
	tree, err := sigma.Compile(yamlBytes)
	if err != nil {
		return RuleSummary{}, err
	}
	entry := &RuleEntry{Rule: tree.Rule, Tree: tree, Enabled: true}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.snap.Load().rules[tree.Rule.ID]; ok {
		entry.Enabled = prev.Enabled
	}
	if r.rulesDir != "" {
		path := filepath.Join(r.rulesDir, tree.Rule.ID+".yaml")
		if err := os.MkdirAll(r.rulesDir, 0o755); err != nil {
			return RuleSummary{}, err
		}
		if err := os.WriteFile(path, yamlBytes, 0o644); err != nil {
			return RuleSummary{}, err
		}
	}
	next := r.clone()
	next.rules[tree.Rule.ID] = entry
	next.reorder()
	r.publish(next)
	r.persistState(next)
	return summarize(entry), nil
}

// SetRuleEnabled flips the out-of-band enable flag. Setting the current
// value is a no-op.
func (r *Registry) SetRuleEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.snap.Load().rules[id]
	if !ok {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if cur.Enabled == enabled {
		return nil
	}
	next := r.clone()
	next.rules[id] = &RuleEntry{Rule: cur.Rule, Tree: cur.Tree, Enabled: enabled}
	next.reorder()
	r.publish(next)
	r.persistState(next)
	return nil
}

// DeleteRule removes a rule and its persisted YAML.
func (r *Registry) DeleteRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snap.Load().rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	next := r.clone()
	delete(next.rules, id)
	next.reorder()
	if r.rulesDir != "" {
		os.Remove(filepath.Join(r.rulesDir, id+".yaml"))
	}
	r.publish(next)
	r.persistState(next)
	return nil
}
