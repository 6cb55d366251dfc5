// Package detect evaluates every event against the enabled Sigma rule set
// and emits OCSF detection findings for matches. The engine reads rules from
// copy-on-write snapshots: reloads swap the snapshot atomically and in-flight
// evaluations finish against the one they started with.
package detect

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/striemhq/striem/internal/alerts"
	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/metrics"
	"github.com/striemhq/striem/internal/registry"
)

// yieldEvery bounds how many rule evaluations run between scheduler yields,
// so a large rule set cannot monopolize a worker.
const yieldEvery = 1024

// snapshot is the engine's immutable view of the enabled rules, grouped by
// logsource fingerprint for dispatch.
type snapshot struct {
	groups []ruleGroup
}

type ruleGroup struct {
	logsource logsourceKey
	rules     []*registry.RuleEntry
}

type logsourceKey struct {
	category, product, service string
}

func (k logsourceKey) matches(ls event.Logsource) bool {
	match := func(want, got string) bool {
		return want == "" || strings.EqualFold(want, got)
	}
	return match(k.category, ls.Category) &&
		match(k.product, ls.Product) &&
		match(k.service, ls.Service)
}

func buildSnapshot(entries []*registry.RuleEntry) *snapshot {
	byKey := make(map[logsourceKey][]*registry.RuleEntry)
	for _, e := range entries {
		ls := e.Rule.Logsource
		key := logsourceKey{
			category: strings.ToLower(ls.Category),
			product:  strings.ToLower(ls.Product),
			service:  strings.ToLower(ls.Service),
		}
		byKey[key] = append(byKey[key], e)
	}
	snap := &snapshot{groups: make([]ruleGroup, 0, len(byKey))}
	for key, rules := range byKey {
		sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })
		snap.groups = append(snap.groups, ruleGroup{logsource: key, rules: rules})
	}
	sort.Slice(snap.groups, func(i, j int) bool {
		return fingerprintLess(snap.groups[i].logsource, snap.groups[j].logsource)
	})
	return snap
}

func fingerprintLess(a, b logsourceKey) bool {
	if a.category != b.category {
		return a.category < b.category
	}
	if a.product != b.product {
		return a.product < b.product
	}
	return a.service < b.service
}

// Engine is the per-event rule evaluator.
type Engine struct {
	log      *logging.Logger
	reg      *registry.Registry
	store    chan<- []*event.Event
	outbound chan<- []*event.Event
	alerts   *alerts.Store

	snap       atomic.Pointer[snapshot]
	evalsSince int
}

// NewEngine wires the evaluator between the ingest queue and the storage
// queue. outbound and alertStore may be nil.
func NewEngine(reg *registry.Registry, store, outbound chan<- []*event.Event, alertStore *alerts.Store, log *logging.Logger) *Engine {
	e := &Engine{
		log:      log.With(logging.Component("detect")),
		reg:      reg,
		store:    store,
		outbound: outbound,
		alerts:   alertStore,
	}
	e.reload()
	return e
}

// reload swaps in a snapshot built from the registry's current enabled set.
func (e *Engine) reload() {
	entries := e.reg.Snapshot().EnabledRules()
	e.snap.Store(buildSnapshot(entries))
	metrics.SnapshotSwaps.Inc()
	e.log.Debug("rule snapshot swapped", logging.Count(len(entries)))
}

// Run consumes event batches until the channel closes or the context is
// cancelled, swapping snapshots on registry change notifications.
func (e *Engine) Run(ctx context.Context, events <-chan []*event.Event) error {
	changes := e.reg.Changes()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			e.reload()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			e.processBatch(ctx, batch)
		}
	}
}

func (e *Engine) processBatch(ctx context.Context, batch []*event.Event) {
	var findings []*event.Event
	for _, ev := range batch {
		findings = append(findings, e.Evaluate(ev)...)
	}
	if len(findings) == 0 {
		return
	}
	// findings are re-injected as ordinary storage traffic so they are
	// themselves persisted and queryable
	select {
	case e.store <- findings:
	case <-ctx.Done():
		return
	}
	if e.outbound != nil {
		select {
		case e.outbound <- findings:
		case <-ctx.Done():
		}
	}
}

// Evaluate runs every candidate rule against one event and returns the
// findings. Evaluation does not short-circuit on first match: an event may
// produce multiple findings.
func (e *Engine) Evaluate(ev *event.Event) []*event.Event {
	// findings never feed back into detection; otherwise a rule matching
	// finding records would recurse without bound
	if classUID, ok := ev.ClassUID(); ok && classUID == FindingClassUID {
		return nil
	}

	snap := e.snap.Load()
	ls := ev.Logsource()

	var candidates []*registry.RuleEntry
	for _, g := range snap.groups {
		if g.logsource.matches(ls) {
			candidates = append(candidates, g.rules...)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Rule.ID < candidates[j].Rule.ID
	})

	var findings []*event.Event
	now := time.Now()
	for _, entry := range candidates {
		metrics.RuleEvaluations.Inc()
		e.evalsSince++
		if e.evalsSince >= yieldEvery {
			e.evalsSince = 0
			runtime.Gosched()
		}
		if !entry.Tree.Match(ev) {
			continue
		}
		finding := newFinding(ev, entry.Rule, now)
		findings = append(findings, finding)
		metrics.FindingsEmitted.WithLabelValues(string(entry.Rule.Level)).Inc()
		if e.alerts != nil {
			e.alerts.Add(finding, entry.Rule)
		}
		e.log.Debug("rule matched",
			logging.RuleID(entry.Rule.ID),
			"title", entry.Rule.Title)
	}
	return findings
}
