// Package stats records admission decisions for offline analysis.
//
// Stores are best-effort sinks: callers log a Record error and carry on,
// the request being admitted or rejected is never affected by it.
//
// Be careful with cardinality. Route and per-rule counters are keyed by
// request method, path and rule index; tracking raw match keys in Redis can
// grow without bound, so per-rule tracking can be switched off.
package stats

import (
	"context"
	"strconv"
	"time"

	"mercator-hq/limitgate/pkg/limits"
)

// Event is one admission decision.
type Event struct {
	// Table is the name of the rule table that decided.
	Table string

	// Rule is the rule index charged, or limits.NoRule.
	Rule int

	// Outcome is limits.Decision.Outcome(): allowed, rejected, free_pass
	// or unmatched.
	Outcome string

	// Method and Path describe the request, when it has them.
	Method string
	Path   string

	At time.Time
}

// NewEvent builds an Event from a decision.
func NewEvent(table string, d limits.Decision, method, path string, at time.Time) Event {
	return Event{
		Table:   table,
		Rule:    d.Rule,
		Outcome: d.Outcome(),
		Method:  method,
		Path:    path,
		At:      at,
	}
}

// Store persists decision events.
type Store interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Record implements Store.
func (Nop) Record(context.Context, Event) error { return nil }

// Counters tallies events by outcome.
type Counters struct {
	Allowed    int64
	Rejected   int64
	FreePasses int64
	Unmatched  int64
}

func (c *Counters) add(outcome string) {
	switch outcome {
	case "allowed":
		c.Allowed++
	case "rejected":
		c.Rejected++
	case "free_pass":
		c.FreePasses++
	default:
		c.Unmatched++
	}
}

// Total returns the number of events counted.
func (c Counters) Total() int64 {
	return c.Allowed + c.Rejected + c.FreePasses + c.Unmatched
}

func ruleKey(table string, rule int) string {
	if rule == limits.NoRule {
		return table + ":none"
	}
	return table + ":" + strconv.Itoa(rule)
}
