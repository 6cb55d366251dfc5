// Package storage persists OCSF events as partitioned Parquet files. Events
// are grouped by (class_uid, activity_id, date bucket); each partition owns
// one buffered writer that materializes files atomically under the layout
// <root>/<class>/<activity>/<YYYY>/<MM>/<DD>/<ulid>.parquet.
package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/schema"
)

// Options configure the pool's flush policy.
type Options struct {
	Root       string
	MaxRows    int
	MaxBytes   int64
	MaxAge     time.Duration
	DateGrain  time.Duration
	RetryCap   int
	AgeTickers time.Duration
}

// DefaultOptions returns the documented flush thresholds.
func DefaultOptions(root string) Options {
	return Options{
		Root:       root,
		MaxRows:    100_000,
		MaxBytes:   128 << 20,
		MaxAge:     5 * time.Minute,
		DateGrain:  24 * time.Hour,
		RetryCap:   5,
		AgeTickers: 15 * time.Second,
	}
}

func (o *Options) normalize() {
	if o.MaxRows <= 0 {
		o.MaxRows = 100_000
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 128 << 20
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 5 * time.Minute
	}
	if o.DateGrain <= 0 {
		o.DateGrain = 24 * time.Hour
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 5
	}
	if o.AgeTickers <= 0 {
		o.AgeTickers = 15 * time.Second
	}
}

// Pool routes events to per-partition writers. The writer map is guarded by
// a short-lived mutex; each writer carries its own buffer lock so the hot
// path does not contend on the map.
type Pool struct {
	opts    Options
	catalog *schema.Catalog
	log     *logging.Logger
	// token makes temp file names process-unique so concurrent processes
	// sharing a storage root cannot collide
	token string

	mu      sync.Mutex
	writers map[PartitionKey]*Writer
	schemas map[int64]*compiledSchema

	warnMu sync.Mutex
	warned map[int64]bool
}

// NewPool creates a writer pool over the given schema catalog.
func NewPool(catalog *schema.Catalog, opts Options, log *logging.Logger) *Pool {
	opts.normalize()
	return &Pool{
		opts:    opts,
		catalog: catalog,
		log:     log.With(logging.Component("storage")),
		token:   strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		writers: make(map[PartitionKey]*Writer),
		schemas: make(map[int64]*compiledSchema),
		warned:  make(map[int64]bool),
	}
}

// Write buffers one event, flushing its partition when a threshold fires.
func (p *Pool) Write(ev *event.Event) {
	classUID, ok := ev.ClassUID()
	if !ok {
		classUID = 0
	}
	activityID, _ := ev.ActivityID()

	cs := p.schemaFor(classUID)
	key := newPartitionKey(classUID, activityID, ev.Time(), p.opts.DateGrain)
	w := p.writer(key, cs)

	row, estBytes, mismatches := cs.project(ev)
	if trigger, fire := w.append(row, estBytes, mismatches, p.opts); fire {
		if err := w.flush(trigger, p.opts.RetryCap); err != nil {
			p.log.Error("flush failed", logging.Partition(key.String()), logging.Error(err))
		}
	}
}

func (p *Pool) schemaFor(classUID int64) *compiledSchema {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cs, ok := p.schemas[classUID]; ok {
		return cs
	}
	desc, ok := p.catalog.Class(classUID)
	if !ok {
		desc = schema.Generic(classUID)
		p.warnOnce(classUID)
	}
	cs := compileSchema(desc)
	p.schemas[classUID] = cs
	return cs
}

// warnOnce logs the generic-schema downgrade once per class.
func (p *Pool) warnOnce(classUID int64) {
	p.warnMu.Lock()
	defer p.warnMu.Unlock()
	if !p.warned[classUID] {
		p.warned[classUID] = true
		p.log.Warn("no schema for class, using generic layout", logging.ClassUID(classUID))
	}
}

func (p *Pool) writer(key PartitionKey, cs *compiledSchema) *Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[key]; ok {
		return w
	}
	dir := key.dir(p.opts.Root, cs.desc.Name, cs.desc.ActivityName(key.ActivityID))
	w := newWriter(key, dir, cs, p.token)
	p.writers[key] = w
	return w
}

// Run consumes event batches until the channel closes or the context is
// cancelled, then flushes every writer.
func (p *Pool) Run(ctx context.Context, events <-chan []*event.Event) error {
	ticker := time.NewTicker(p.opts.AgeTickers)
	defer ticker.Stop()
	for {
		select {
		case batch, ok := <-events:
			if !ok {
				return p.Close()
			}
			for _, ev := range batch {
				p.Write(ev)
			}
		case <-ticker.C:
			p.flushExpired()
		case <-ctx.Done():
			return p.Close()
		}
	}
}

func (p *Pool) flushExpired() {
	for _, w := range p.snapshotWriters() {
		if w.expired(p.opts.MaxAge) {
			if err := w.flush(triggerAge, p.opts.RetryCap); err != nil {
				p.log.Error("age flush failed", logging.Partition(w.key.String()), logging.Error(err))
			}
		}
		// drop empty writers for partitions no longer receiving events,
		// typically yesterday's date buckets
		if w.idle(2 * p.opts.MaxAge) {
			p.evict(w.key)
		}
	}
}

func (p *Pool) evict(key PartitionKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.writers, key)
}

func (p *Pool) snapshotWriters() []*Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Writer, 0, len(p.writers))
	for _, w := range p.writers {
		out = append(out, w)
	}
	return out
}

// Close flushes all buffered rows. Partial buffers are materialized so an
// accepted event is never lost on clean shutdown.
func (p *Pool) Close() error {
	var firstErr error
	for _, w := range p.snapshotWriters() {
		if err := w.flush(triggerShutdown, p.opts.RetryCap); err != nil {
			p.log.Error("shutdown flush failed", logging.Partition(w.key.String()), logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
