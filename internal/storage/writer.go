package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/striemhq/striem/internal/metrics"
)

// rowGroupTargetBytes bounds row groups inside a materialized file.
const rowGroupTargetBytes = 64 << 20

// flushTrigger names the condition that fired a flush, for logs and metrics.
type flushTrigger string

const (
	triggerRows     flushTrigger = "rows"
	triggerBytes    flushTrigger = "bytes"
	triggerAge      flushTrigger = "age"
	triggerShutdown flushTrigger = "shutdown"
)

// Writer buffers rows for one partition key and materializes them as Parquet
// files. It is the unit of serialization for its partition: all appends and
// flushes go through its lock.
type Writer struct {
	key   PartitionKey
	dir   string
	cs    *compiledSchema
	token string

	mu          sync.Mutex
	rows        []map[string]any
	bytes       int64
	firstAt     time.Time
	lastAppend  time.Time
	mismatches  int64
	failures    int
	quarantined bool
	dropped     int64
}

func newWriter(key PartitionKey, dir string, cs *compiledSchema, token string) *Writer {
	return &Writer{key: key, dir: dir, cs: cs, token: token}
}

// append buffers one row and reports which flush trigger, if any, fired.
func (w *Writer) append(row map[string]any, estBytes, mismatches int64, opts Options) (flushTrigger, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.quarantined {
		w.dropped++
		metrics.EventsDropped.WithLabelValues(w.key.String()).Inc()
		return "", false
	}
	if len(w.rows) == 0 {
		w.firstAt = time.Now()
	}
	w.lastAppend = time.Now()
	w.rows = append(w.rows, row)
	w.bytes += estBytes
	w.mismatches += mismatches
	if mismatches > 0 {
		metrics.TypeMismatches.Add(float64(mismatches))
	}
	switch {
	case len(w.rows) >= opts.MaxRows:
		return triggerRows, true
	case w.bytes >= opts.MaxBytes:
		return triggerBytes, true
	}
	return "", false
}

// expired reports whether the age trigger has fired.
func (w *Writer) expired(maxAge time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows) > 0 && time.Since(w.firstAt) >= maxAge
}

// idle reports whether the writer is empty and has seen no appends for the
// given duration, making it eligible for eviction from the pool map.
func (w *Writer) idle(idleFor time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows) == 0 && !w.quarantined &&
		!w.lastAppend.IsZero() && time.Since(w.lastAppend) >= idleFor
}

// flush materializes the buffer atomically: serialize to a temp file in the
// destination directory, fsync, rename into place. On failure the buffer is
// retained for the next flush tick until the retry cap quarantines the
// partition.
func (w *Writer) flush(trigger flushTrigger, retryCap int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rows) == 0 || w.quarantined {
		return nil
	}

	if err := w.materialize(); err != nil {
		w.failures++
		if w.failures >= retryCap {
			w.quarantined = true
			w.rows = nil
			w.bytes = 0
			metrics.PartitionsQuarantined.Inc()
			return fmt.Errorf("partition %s quarantined after %d failed flushes: %w", w.key, w.failures, err)
		}
		return fmt.Errorf("flush of partition %s failed (attempt %d): %w", w.key, w.failures, err)
	}

	metrics.WriterFlushes.WithLabelValues(string(trigger)).Inc()
	metrics.RowsWritten.Add(float64(len(w.rows)))
	metrics.BytesWritten.Add(float64(w.bytes))
	w.rows = nil
	w.bytes = 0
	w.failures = 0
	return nil
}

func (w *Writer) materialize() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(w.dir, ".tmp-"+w.token+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	pw := parquet.NewGenericWriter[map[string]any](tmp, w.cs.pq,
		parquet.Compression(&parquet.Snappy))

	// bound row groups near the target size using the running estimate
	chunk := len(w.rows)
	if w.bytes > rowGroupTargetBytes {
		chunk = int(int64(len(w.rows)) * rowGroupTargetBytes / w.bytes)
		if chunk < 1 {
			chunk = 1
		}
	}
	for start := 0; start < len(w.rows); start += chunk {
		end := start + chunk
		if end > len(w.rows) {
			end = len(w.rows)
		}
		if _, err := pw.Write(w.rows[start:end]); err != nil {
			cleanup()
			return err
		}
		if end < len(w.rows) {
			if err := pw.Flush(); err != nil {
				cleanup()
				return err
			}
		}
	}
	if err := pw.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	final := filepath.Join(w.dir, ulid.Make().String()+".parquet")
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
