// Package alerts keeps a bounded in-memory index of recent detection
// findings for the management API. Durable alert history lives in the
// Parquet store; this is only the hot window the UI lists.
package alerts

import (
	"sort"
	"sync"
	"time"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/sigma"
)

// DefaultCapacity bounds the in-memory window.
const DefaultCapacity = 4096

// Alert is the list view of one finding.
type Alert struct {
	ID       string      `json:"id"`
	Time     time.Time   `json:"time"`
	Severity sigma.Level `json:"severity"`
	Title    string      `json:"title"`
	RuleID   string      `json:"rule_id"`
	Data     event.Value `json:"data"`
}

// Store is a fixed-capacity ring of recent alerts.
type Store struct {
	mu   sync.RWMutex
	buf  []*Alert
	next int
	full bool
}

// NewStore creates a store holding up to capacity alerts; zero uses the
// default.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]*Alert, capacity)}
}

// Add records one finding.
func (s *Store) Add(finding *event.Event, rule *sigma.Rule) {
	id := finding.UID.String()
	if v, ok := finding.Data.Lookup("metadata.uid"); ok {
		if str, ok := v.AsString(); ok && str != "" {
			id = str
		}
	}
	alert := &Alert{
		ID:       id,
		Time:     finding.Time(),
		Severity: rule.Level,
		Title:    rule.Title,
		RuleID:   rule.ID,
		Data:     finding.Data,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = alert
	s.next++
	if s.next == len(s.buf) {
		s.next = 0
		s.full = true
	}
}

// List returns alerts within [start, end], newest first. Zero bounds are
// open.
func (s *Store) List(start, end time.Time) []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Alert, 0)
	for _, a := range s.buf {
		if a == nil {
			continue
		}
		if !start.IsZero() && a.Time.Before(start) {
			continue
		}
		if !end.IsZero() && a.Time.After(end) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}

// Get returns one alert by id.
func (s *Store) Get(id string) (*Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.buf {
		if a != nil && a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Len reports how many alerts are buffered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.buf)
	}
	return s.next
}
