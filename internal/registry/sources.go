package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SourceType identifies a supported collector source.
type SourceType string

const (
	SourceAWSCloudtrail SourceType = "aws_cloudtrail"
	SourceOkta          SourceType = "okta"
)

// Source is one configured collector input. The id is derived from the
// canonical JSON form of (type, config), so identical configurations map to
// the same id.
type Source struct {
	ID      string         `json:"id"`
	Type    SourceType     `json:"type"`
	Config  map[string]any `json:"config"`
	Enabled bool           `json:"enabled"`
}

// Name returns a human friendly label.
func (s *Source) Name() string {
	return string(s.Type)
}

// Logsource returns the Sigma taxonomy attached to events from this source.
func (s *Source) Logsource() (product, service string) {
	switch s.Type {
	case SourceAWSCloudtrail:
		return "aws", "cloudtrail"
	case SourceOkta:
		return "okta", "okta"
	default:
		return string(s.Type), ""
	}
}

// sourceSchema lists required and permitted config keys per source type.
type sourceSchema struct {
	required []string
	optional []string
}

var sourceSchemas = map[SourceType]sourceSchema{
	SourceAWSCloudtrail: {
		required: []string{"region", "queue_url"},
		optional: []string{"access_key_id", "secret_access_key", "assume_role", "endpoint"},
	},
	SourceOkta: {
		required: []string{"domain", "token"},
		optional: []string{"poll_interval_secs"},
	},
}

// ValidateSource checks the config against the source type's schema.
func ValidateSource(t SourceType, config map[string]any) error {
	schema, ok := sourceSchemas[t]
	if !ok {
		return fmt.Errorf("unsupported source type %q", t)
	}
	allowed := make(map[string]bool, len(schema.required)+len(schema.optional))
	for _, k := range schema.required {
		allowed[k] = true
		v, ok := config[k]
		if !ok {
			return fmt.Errorf("source %s: missing required key %q", t, k)
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return fmt.Errorf("source %s: key %q is empty", t, k)
		}
	}
	for _, k := range schema.optional {
		allowed[k] = true
	}
	for k := range config {
		if !allowed[k] {
			return fmt.Errorf("source %s: unknown key %q", t, k)
		}
	}
	return nil
}

// sourceID hashes the canonical JSON form of the source definition.
func sourceID(t SourceType, config map[string]any) string {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	fmt.Fprintf(&sb, "{%q:%q", "type", t)
	for _, k := range keys {
		v, _ := json.Marshal(config[k])
		fmt.Fprintf(&sb, ",%q:%s", k, v)
	}
	sb.WriteByte('}')
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}

// ListSources returns all sources in stable id order.
func (r *Registry) ListSources() []*Source {
	return r.Snapshot().Sources()
}

// GetSource returns one source by id.
func (r *Registry) GetSource(id string) (*Source, error) {
	s, ok := r.Snapshot().sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// PutSource validates and inserts a source, producing its stable id.
func (r *Registry) PutSource(t SourceType, config map[string]any) (*Source, error) {
	if err := ValidateSource(t, config); err != nil {
		return nil, err
	}
	src := &Source{
		ID:      sourceID(t, config),
		Type:    t,
		Config:  config,
		Enabled: true,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.clone()
	next.sources[src.ID] = src
	r.publish(next)
	r.persistState(next)
	return src, nil
}

// SetSourceEnabled flips the enable flag; setting the current value is a
// no-op.
func (r *Registry) SetSourceEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.snap.Load().sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if cur.Enabled == enabled {
		return nil
	}
	next := r.clone()
	updated := *cur
	updated.Enabled = enabled
	next.sources[id] = &updated
	r.publish(next)
	r.persistState(next)
	return nil
}

// DeleteSource removes a source.
func (r *Registry) DeleteSource(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snap.Load().sources[id]; !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	next := r.clone()
	delete(next.sources, id)
	r.publish(next)
	r.persistState(next)
	return nil
}
