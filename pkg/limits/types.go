package limits

import (
	"errors"
	"fmt"
	"time"
)

// NoRule is the rule index reported when a decision is not attributed to
// any rule: the text matched nothing, the table is empty, or the request
// was the free pass granted when a window expired.
const NoRule = -1

// ExpiryPolicy controls what happens to the request that finds a rule's
// window already elapsed.
type ExpiryPolicy string

const (
	// ExpiryFreePass admits the request without charging it to any budget
	// and resets the rule. The next matching request opens a new window.
	ExpiryFreePass ExpiryPolicy = "free_pass"

	// ExpiryStrict resets the rule, opens a new window at the current time
	// and charges the request against the fresh budget.
	ExpiryStrict ExpiryPolicy = "strict"
)

// ParseExpiryPolicy converts a config string to an ExpiryPolicy.
// An empty string selects ExpiryFreePass.
func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch ExpiryPolicy(s) {
	case "", ExpiryFreePass:
		return ExpiryFreePass, nil
	case ExpiryStrict:
		return ExpiryStrict, nil
	default:
		return "", fmt.Errorf("unknown expiry policy %q (expected free_pass or strict)", s)
	}
}

// Decision is the outcome of evaluating one request against a rule table.
type Decision struct {
	// Rule is the index of the rule the request was charged to, or NoRule.
	Rule int

	// Matched reports whether any rule pattern matched the request text.
	// A free pass is matched but carries Rule == NoRule.
	Matched bool

	// Allowed reports whether the request may proceed downstream.
	Allowed bool

	// Expired reports that the matched rule's window had elapsed and the
	// rule was reset by this request.
	Expired bool

	// RetryAfter is the time left in the rule's window when the request
	// was rejected. Zero for admitted requests.
	RetryAfter time.Duration
}

// Outcome returns a short label for the decision, used in metrics and logs.
func (d Decision) Outcome() string {
	switch {
	case !d.Matched:
		return "unmatched"
	case !d.Allowed:
		return "rejected"
	case d.Rule == NoRule:
		return "free_pass"
	default:
		return "allowed"
	}
}

// RuleStatus is a point-in-time view of one rule's runtime state.
type RuleStatus struct {
	Index       int
	Pattern     string
	Capacity    uint
	Available   int64
	Window      time.Duration
	Opened      bool
	WindowStart time.Time
	Admitted    uint64
	Rejected    uint64
	FreePasses  uint64
	Released    uint64
	Overflows   uint64
}

// Common errors.
var (
	// ErrLimitRejected is returned when the matched rule has no permits
	// left in its current window.
	ErrLimitRejected = errors.New("limit rejected")

	// ErrInvalidPattern is returned when a rule pattern is not a valid
	// regular expression.
	ErrInvalidPattern = errors.New("invalid rule pattern")

	// ErrUnknownRule is returned when releasing a rule index that does not
	// exist in the table.
	ErrUnknownRule = errors.New("unknown rule")
)

// ConfigError reports a rule that could not be compiled.
type ConfigError struct {
	Index   int
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule %d: invalid pattern %q: %v", e.Index, e.Pattern, e.Err)
}

// Unwrap exposes both ErrInvalidPattern and the underlying regexp error.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidPattern, e.Err}
}

// RejectedError is returned by Limit.Handle when admission is denied.
// The downstream service is not called.
type RejectedError struct {
	Rule       int
	Pattern    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("limit rejected: rule %d (%s) exhausted, retry after %s",
		e.Rule, e.Pattern, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap returns ErrLimitRejected.
func (e *RejectedError) Unwrap() error {
	return ErrLimitRejected
}

// DownstreamError wraps a failure of the wrapped service.
type DownstreamError struct {
	Err error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	return "downstream: " + e.Err.Error()
}

// Unwrap returns the downstream error.
func (e *DownstreamError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is an admission rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrLimitRejected)
}
