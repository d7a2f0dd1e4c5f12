package limits

import (
	"fmt"
	"regexp"
	"time"
)

// Rule limits requests whose text matches Pattern to Capacity admissions
// per Window.
type Rule struct {
	// Pattern is a Go regular expression (RE2 syntax). It is unanchored
	// unless it anchors itself.
	Pattern string

	// Capacity is the number of permits available in one window.
	// Zero rejects every matching request while a window is open.
	Capacity uint

	// Window is the length of the fixed window, measured from the first
	// matching request.
	Window time.Duration
}

// Compile validates the rule pattern.
func (r Rule) Compile() (*regexp.Regexp, error) {
	return regexp.Compile(r.Pattern)
}

func (r Rule) String() string {
	return fmt.Sprintf("%s (%d per %s)", r.Pattern, r.Capacity, r.Window)
}

type compiledRule struct {
	rule    Rule
	matcher *regexp.Regexp
}

// compileRules compiles every rule in order and stops at the first bad one.
func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		re, err := r.Compile()
		if err != nil {
			return nil, &ConfigError{Index: i, Pattern: r.Pattern, Err: err}
		}
		compiled = append(compiled, compiledRule{rule: r, matcher: re})
	}
	return compiled, nil
}
