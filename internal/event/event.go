// Package event defines the canonical in-memory event passed between the
// ingest server, the detection engine, and the storage layer. Events are
// immutable once accepted into the pipeline.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata keys the pipeline relies on.
const (
	MetaLogsource = "logsource"
	MetaOCSF      = "ocsf"
	MetaStrIEM    = "striem"
)

// Logsource is the Sigma taxonomy selector attached to an event, used to
// gate which rules are evaluated against it.
type Logsource struct {
	Category string
	Product  string
	Service  string
}

// Event is a self-describing OCSF record plus pipeline metadata.
type Event struct {
	UID      uuid.UUID
	Data     Value
	Metadata map[string]Value
}

// New wraps decoded data in a fresh envelope.
func New(data Value) *Event {
	return &Event{
		UID:      uuid.Must(uuid.NewV7()),
		Data:     data,
		Metadata: make(map[string]Value),
	}
}

// Decode parses a JSON-encoded wire value into an Event. A logsource block
// the collector's remap transforms left under the record's "metadata" key is
// folded into the envelope metadata so rule dispatch sees it; the collector's
// own metadata channel is merged separately via MergeWireMetadata and wins
// over the folded shape.
func Decode(data []byte) (*Event, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	ev := New(v)
	if ls, ok := v.Lookup("metadata." + MetaLogsource); ok && ls.Kind() == KindMap {
		ev.Metadata[MetaLogsource] = ls
	}
	return ev, nil
}

// MergeWireMetadata folds a JSON metadata document from the wire into the
// envelope metadata. This is how the collector's %-namespaced values (the
// Sigma logsource stamped by the logsource transforms) reach the engine.
// Wire values override anything folded from the record body.
func (e *Event) MergeWireMetadata(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	m, ok := v.AsMap()
	if !ok {
		return fmt.Errorf("wire metadata must be an object, got %s", v.Kind())
	}
	for k, val := range m {
		e.Metadata[k] = val
	}
	// the %sigma namespace nests the logsource one level down
	if sig, ok := e.Metadata["sigma"]; ok {
		if ls, ok := sig.Lookup(MetaLogsource); ok {
			e.Metadata[MetaLogsource] = ls
		}
	}
	return nil
}

// ClassUID returns the OCSF class identifier, if declared.
func (e *Event) ClassUID() (int64, bool) {
	v, ok := e.Data.Lookup("class_uid")
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// ActivityID returns the OCSF activity identifier, if declared.
func (e *Event) ActivityID() (int64, bool) {
	v, ok := e.Data.Lookup("activity_id")
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// TimeMillis returns the event time in milliseconds since epoch,
// or zero when absent.
func (e *Event) TimeMillis() int64 {
	v, ok := e.Data.Lookup("time")
	if !ok {
		return 0
	}
	ms, _ := v.AsInt()
	return ms
}

// Time returns the event time as time.Time, or the zero time when absent.
func (e *Event) Time() time.Time {
	ms := e.TimeMillis()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Logsource derives the rule-dispatch fingerprint. The explicit logsource
// metadata set by the collector transforms wins; otherwise the OCSF product
// block stands in for (product, service).
func (e *Event) Logsource() Logsource {
	if ls, ok := e.Metadata[MetaLogsource]; ok {
		var out Logsource
		if v, ok := ls.Lookup("category"); ok {
			out.Category, _ = v.AsString()
		}
		if v, ok := ls.Lookup("product"); ok {
			out.Product, _ = v.AsString()
		}
		if v, ok := ls.Lookup("service"); ok {
			out.Service, _ = v.AsString()
		}
		return out
	}
	var out Logsource
	if v, ok := e.Data.Lookup("metadata.product.vendor_name"); ok {
		out.Product, _ = v.AsString()
	}
	if v, ok := e.Data.Lookup("metadata.product.name"); ok {
		out.Service, _ = v.AsString()
	}
	return out
}

// Field resolves a dotted path against the record data.
func (e *Event) Field(path string) (Value, bool) {
	return e.Data.Lookup(path)
}

// Select implements the detection engine's field access contract: it returns
// a JSON-shaped Go value for matcher consumption.
func (e *Event) Select(path string) (any, bool) {
	v, ok := e.Data.Lookup(path)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

// Keywords returns the scalar leaves of the record for keyword-style rules.
func (e *Event) Keywords() ([]string, bool) {
	var out []string
	collectKeywords(e.Data, &out)
	return out, len(out) > 0
}

func collectKeywords(v Value, out *[]string) {
	switch v.Kind() {
	case KindMap:
		m, _ := v.AsMap()
		for _, e := range m {
			collectKeywords(e, out)
		}
	case KindArray:
		arr, _ := v.AsArray()
		for _, e := range arr {
			collectKeywords(e, out)
		}
	default:
		if s, ok := v.Text(); ok {
			*out = append(*out, s)
		}
	}
}
