package limits

import (
	"regexp"
	"time"

	"mercator-hq/limitgate/pkg/limits/ratelimit"
)

// limitInstance is the runtime state of one rule. All fields other than
// the permit counter are guarded by the owning table's mutex.
type limitInstance struct {
	index   int
	rule    Rule
	matcher *regexp.Regexp
	permits *ratelimit.Permits

	opened      bool
	windowStart time.Time

	admitted   uint64
	rejected   uint64
	freePasses uint64
	released   uint64
	overflows  uint64
}

func newLimitInstance(index int, cr compiledRule) *limitInstance {
	return &limitInstance{
		index:   index,
		rule:    cr.rule,
		matcher: cr.matcher,
		permits: ratelimit.NewPermits(cr.rule.Capacity),
	}
}

// admit decides a request that matched this rule.
//
// The first match opens the window. Inside the window each request takes
// one permit or is rejected. The first request seen after the window has
// elapsed resets the rule; what happens to that request depends on policy.
func (li *limitInstance) admit(now time.Time, policy ExpiryPolicy) Decision {
	if !li.opened {
		li.open(now)
		return li.acquire(now)
	}

	if now.Sub(li.windowStart) > li.rule.Window {
		li.reset()
		if policy == ExpiryStrict {
			li.open(now)
			d := li.acquire(now)
			d.Expired = true
			return d
		}
		li.freePasses++
		return Decision{Rule: NoRule, Matched: true, Allowed: true, Expired: true}
	}

	return li.acquire(now)
}

func (li *limitInstance) open(now time.Time) {
	li.opened = true
	li.windowStart = now
}

func (li *limitInstance) reset() {
	li.opened = false
	li.windowStart = time.Time{}
	li.permits.Reset()
}

func (li *limitInstance) acquire(now time.Time) Decision {
	if li.permits.TryAcquire() {
		li.admitted++
		return Decision{Rule: li.index, Matched: true, Allowed: true}
	}
	li.rejected++
	return Decision{Rule: li.index, Matched: true, RetryAfter: li.remaining(now)}
}

// remaining returns the time left in the open window.
func (li *limitInstance) remaining(now time.Time) time.Duration {
	left := li.rule.Window - now.Sub(li.windowStart)
	if left < 0 {
		return 0
	}
	return left
}

// release returns one permit. Reports false when the rule was already full.
func (li *limitInstance) release() bool {
	if li.permits.Release() {
		li.released++
		return true
	}
	li.overflows++
	return false
}

func (li *limitInstance) status() RuleStatus {
	return RuleStatus{
		Index:       li.index,
		Pattern:     li.rule.Pattern,
		Capacity:    li.rule.Capacity,
		Available:   li.permits.Available(),
		Window:      li.rule.Window,
		Opened:      li.opened,
		WindowStart: li.windowStart,
		Admitted:    li.admitted,
		Rejected:    li.rejected,
		FreePasses:  li.freePasses,
		Released:    li.released,
		Overflows:   li.overflows,
	}
}
