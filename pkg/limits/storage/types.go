package storage

import (
	"context"
	"time"

	"mercator-hq/limitgate/pkg/limits"
)

// Backend defines the interface for rule state persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Save persists the state of one rule. Existing state for the same
	// table and rule index is replaced; CreatedAt is kept.
	Save(ctx context.Context, state *RuleState) error

	// Load retrieves the state of one rule.
	// Returns nil if no state exists. Returns error on system failure.
	Load(ctx context.Context, table string, rule int) (*RuleState, error)

	// Delete removes the state of one rule. No-op if it doesn't exist.
	Delete(ctx context.Context, table string, rule int) error

	// List returns all rule states of a table ordered by rule index.
	// An empty table name lists every table.
	List(ctx context.Context, table string) ([]*RuleState, error)

	// Cleanup removes entries last updated before olderThan.
	// Returns the number of entries deleted.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// RuleState is the persisted view of one rule at snapshot time.
type RuleState struct {
	// Table is the name of the rule table.
	Table string `json:"table"`

	// Rule is the rule index within the table.
	Rule int `json:"rule"`

	// Pattern is the rule's regular expression.
	Pattern string `json:"pattern"`

	// Capacity is the permit budget per window.
	Capacity uint `json:"capacity"`

	// Available is the number of permits left at snapshot time.
	Available int64 `json:"available"`

	// Window is the rule's window length.
	Window time.Duration `json:"window"`

	// WindowStart is when the current window opened. Zero if none is open.
	WindowStart time.Time `json:"window_start"`

	// Counters are cumulative since the table was built.
	Counters Counters `json:"counters"`

	// LastUpdated is when this state was last written.
	LastUpdated time.Time `json:"last_updated"`

	// CreatedAt is when this state was first written.
	CreatedAt time.Time `json:"created_at"`
}

// Counters are cumulative admission counters of a rule.
type Counters struct {
	Admitted   uint64 `json:"admitted"`
	Rejected   uint64 `json:"rejected"`
	FreePasses uint64 `json:"free_passes"`
	Released   uint64 `json:"released"`
	Overflows  uint64 `json:"overflows"`
}

// FromStatus converts a live rule status into a RuleState stamped at.
func FromStatus(table string, s limits.RuleStatus, at time.Time) *RuleState {
	state := &RuleState{
		Table:     table,
		Rule:      s.Index,
		Pattern:   s.Pattern,
		Capacity:  s.Capacity,
		Available: s.Available,
		Window:    s.Window,
		Counters: Counters{
			Admitted:   s.Admitted,
			Rejected:   s.Rejected,
			FreePasses: s.FreePasses,
			Released:   s.Released,
			Overflows:  s.Overflows,
		},
		LastUpdated: at,
	}
	if s.Opened {
		state.WindowStart = s.WindowStart
	}
	return state
}

func validateKey(table string, rule int) error {
	if table == "" {
		return errEmptyTable
	}
	if rule < 0 {
		return errNegativeRule
	}
	return nil
}
