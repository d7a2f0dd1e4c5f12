package limits

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Table or LimitLayer.
type Options struct {
	// Name labels the table in metrics, logs and snapshots.
	// Default: "default".
	Name string

	// Expiry selects how the first request after a window elapses is
	// treated. Default: ExpiryFreePass.
	Expiry ExpiryPolicy

	// AutoRelease makes Limit return the permit when the wrapped service
	// finishes, whether it succeeds, fails or panics. When false the caller
	// must call Release with the rule index from the result.
	AutoRelease bool

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// Metrics receives decision and release metrics. Optional.
	Metrics *Metrics

	// Logger for window resets and releases. Default: slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.Expiry == "" {
		o.Expiry = ExpiryFreePass
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Table is an ordered set of limit rules sharing one lock.
//
// Evaluation scans rules in declaration order and only the first rule whose
// pattern matches is consulted. A single mutex covers the whole scan and
// decision for one request, so decisions are linearizable. The lock is
// never held across downstream work.
type Table struct {
	name      string
	expiry    ExpiryPolicy
	now       func() time.Time
	metrics   *Metrics
	logger    *slog.Logger
	mu        sync.Mutex
	instances []*limitInstance

	// retired tables still serve releases but no longer own the
	// available gauge of their name.
	retired atomic.Bool
}

// NewTable compiles rules and builds a table with every rule at full
// capacity and no window open.
//
// Returns a *ConfigError wrapping ErrInvalidPattern for the first rule whose
// pattern does not compile. An empty rule list yields a table that admits
// everything.
func NewTable(rules []Rule, opts Options) (*Table, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return newTable(compiled, opts), nil
}

func newTable(compiled []compiledRule, opts Options) *Table {
	opts = opts.withDefaults()

	t := &Table{
		name:      opts.Name,
		expiry:    opts.Expiry,
		now:       opts.Now,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "limits", "table", opts.Name),
		instances: make([]*limitInstance, len(compiled)),
	}
	for i, cr := range compiled {
		t.instances[i] = newLimitInstance(i, cr)
		t.recordAvailable(t.instances[i])
	}
	return t
}

// Name returns the table label.
func (t *Table) Name() string {
	return t.name
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.instances)
}

// Rules returns the configured rules in evaluation order.
func (t *Table) Rules() []Rule {
	rules := make([]Rule, len(t.instances))
	for i, inst := range t.instances {
		rules[i] = inst.rule
	}
	return rules
}

// Evaluate decides whether a request with the given text may proceed.
//
// Text that matches no rule is always allowed and charged to nothing.
func (t *Table) Evaluate(text string) Decision {
	begin := time.Now()

	t.mu.Lock()
	now := t.now()
	d := Decision{Rule: NoRule, Allowed: true}
	var matched *limitInstance
	for _, inst := range t.instances {
		if inst.matcher.MatchString(text) {
			matched = inst
			d = inst.admit(now, t.expiry)
			break
		}
	}
	t.mu.Unlock()

	if matched != nil && d.Expired {
		t.logger.Debug("limit window expired",
			"rule", matched.index,
			"pattern", matched.rule.Pattern,
			"policy", string(t.expiry),
		)
	}
	if t.metrics != nil {
		idx := NoRule
		if matched != nil {
			idx = matched.index
			t.recordAvailable(matched)
		}
		t.metrics.RecordDecision(t.name, idx, d, time.Since(begin))
	}
	return d
}

// Admit evaluates text and, when a permit was taken, returns a guard that
// gives it back. The guard is nil for rejected, unmatched and free-pass
// decisions.
func (t *Table) Admit(text string) (Decision, *Permit) {
	d := t.Evaluate(text)
	if !d.Allowed || d.Rule == NoRule {
		return d, nil
	}
	return d, &Permit{table: t, rule: d.Rule}
}

// Release returns one permit to the rule at index. The count never exceeds
// the rule's capacity; releasing a full rule changes nothing.
//
// Releasing NoRule is a no-op. Any other index outside the table returns
// ErrUnknownRule.
func (t *Table) Release(index int) error {
	if index == NoRule {
		return nil
	}
	if index < 0 || index >= len(t.instances) {
		return fmt.Errorf("%w: index %d (table has %d rules)", ErrUnknownRule, index, len(t.instances))
	}

	inst := t.instances[index]
	t.mu.Lock()
	returned := inst.release()
	t.mu.Unlock()

	if !returned {
		t.logger.Debug("permit release on full rule ignored", "rule", index, "pattern", inst.rule.Pattern)
	}
	if t.metrics != nil {
		t.metrics.RecordRelease(t.name, index, returned)
		t.recordAvailable(inst)
	}
	return nil
}

// Retire marks t as replaced by successor, which may be nil. A retired table
// keeps accepting releases for the permits it granted, but stops writing
// the available gauge. Gauge series of rules the successor does not have
// are removed.
func (t *Table) Retire(successor *Table) {
	if !t.retired.CompareAndSwap(false, true) || t.metrics == nil {
		return
	}
	keep := 0
	if successor != nil && successor.name == t.name && successor.metrics == t.metrics {
		keep = successor.Len()
	}
	for i := keep; i < len(t.instances); i++ {
		t.metrics.DeleteAvailable(t.name, i)
	}
	// Releases on t may have landed after successor published its values.
	if keep > 0 {
		for _, inst := range successor.instances {
			successor.recordAvailable(inst)
		}
	}
}

// Retired reports whether Retire has been called.
func (t *Table) Retired() bool {
	return t.retired.Load()
}

func (t *Table) recordAvailable(inst *limitInstance) {
	if t.metrics == nil || t.retired.Load() {
		return
	}
	t.metrics.RecordAvailable(t.name, inst.index, inst.permits.Available())
}

// Snapshot returns the current state of every rule in evaluation order.
func (t *Table) Snapshot() []RuleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	statuses := make([]RuleStatus, len(t.instances))
	for i, inst := range t.instances {
		statuses[i] = inst.status()
	}
	return statuses
}

func (t *Table) rejection(d Decision) *RejectedError {
	err := &RejectedError{Rule: d.Rule, RetryAfter: d.RetryAfter}
	if d.Rule >= 0 && d.Rule < len(t.instances) {
		err.Pattern = t.instances[d.Rule].rule.Pattern
	}
	return err
}

// Permit is a held admission that can be returned exactly once.
// A nil *Permit is valid and releasing it does nothing.
type Permit struct {
	table    *Table
	rule     int
	once     sync.Once
	released atomic.Bool
}

// Rule returns the index of the rule the permit was taken from.
func (p *Permit) Rule() int {
	if p == nil {
		return NoRule
	}
	return p.rule
}

// Release returns the permit to its rule. Calls after the first are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		// Index came from this table, so Release cannot fail.
		_ = p.table.Release(p.rule)
		p.released.Store(true)
	})
}

// Released reports whether Release has run.
func (p *Permit) Released() bool {
	if p == nil {
		return false
	}
	return p.released.Load()
}
