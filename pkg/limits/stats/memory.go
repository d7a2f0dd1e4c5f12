package stats

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps counters in process memory. Useful for tests and
// single-instance deployments; counters reset on restart and never expire.
type MemoryStore struct {
	mu      sync.Mutex
	total   Counters
	byRule  map[string]Counters
	byRoute map[string]Counters

	trackRules bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRuleTracking enables per-rule counters.
func WithRuleTracking(track bool) MemoryOption {
	return func(s *MemoryStore) { s.trackRules = track }
}

// NewMemoryStore creates an empty store. Per-rule tracking is on by default.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byRule:     make(map[string]Counters),
		byRoute:    make(map[string]Counters),
		trackRules: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	route := strings.TrimSpace(ev.Method + " " + ev.Path)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)

	if route != "" {
		c := s.byRoute[route]
		c.add(ev.Outcome)
		s.byRoute[route] = c
	}

	if s.trackRules {
		key := ruleKey(ev.Table, ev.Rule)
		c := s.byRule[key]
		c.add(ev.Outcome)
		s.byRule[key] = c
	}
	return nil
}

// Total returns counters across all events.
func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByRule returns counters keyed by "table:rule" ("table:none" for
// unattributed decisions).
func (s *MemoryStore) ByRule() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRule))
	for k, v := range s.byRule {
		out[k] = v
	}
	return out
}

// ByRoute returns counters keyed by "METHOD path".
func (s *MemoryStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}
