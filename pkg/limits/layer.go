package limits

import (
	"context"
)

// Service is one stage of a request pipeline.
type Service[In, Out any] interface {
	Handle(ctx context.Context, in In) (Out, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// Handle calls f(ctx, in).
func (f ServiceFunc[In, Out]) Handle(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// Text is the set of request types that can be matched directly.
type Text interface {
	~string | ~[]byte
}

// LimitLayer holds compiled rules and builds limited services from them.
//
// Every Wrap call gets its own Table, so two services wrapped by the same
// layer keep separate budgets. Copies of one *Limit share their table.
type LimitLayer struct {
	rules []compiledRule
	opts  Options
}

// NewLayer compiles rules up front. It fails with a *ConfigError on the
// first pattern that does not compile.
func NewLayer(rules []Rule, opts Options) (*LimitLayer, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return &LimitLayer{rules: compiled, opts: opts.withDefaults()}, nil
}

// Rules returns the layer's rules in evaluation order.
func (l *LimitLayer) Rules() []Rule {
	rules := make([]Rule, len(l.rules))
	for i, cr := range l.rules {
		rules[i] = cr.rule
	}
	return rules
}

// Options returns the options the layer was built with, defaults applied.
func (l *LimitLayer) Options() Options {
	return l.opts
}

// NewTable builds a fresh table from the layer's rules.
func (l *LimitLayer) NewTable() *Table {
	return newTable(l.rules, l.opts)
}

// Result is what a limited service returns on success.
type Result[Out any] struct {
	// Rule is the index of the rule the request was charged to, or NoRule.
	// Unless the layer auto-releases, the caller must pass it to Release
	// once the request is finished.
	Rule int

	// Output is the wrapped service's output.
	Output Out

	// Released reports that the permit was already returned.
	Released bool

	// Decision is the admission decision for the request. It is set on
	// every return path, including rejections and downstream failures.
	Decision Decision
}

// Limit is a Service wrapped with admission control.
type Limit[In, Out any] struct {
	table       *Table
	inner       Service[In, Out]
	textOf      func(In) string
	autoRelease bool
}

// Wrap limits a service whose input is its own match text.
func Wrap[In Text, Out any](layer *LimitLayer, inner Service[In, Out]) *Limit[In, Out] {
	return WrapFunc(layer, inner, func(in In) string { return string(in) })
}

// WrapFunc limits a service, using textOf to derive the text that rules are
// matched against.
func WrapFunc[In, Out any](layer *LimitLayer, inner Service[In, Out], textOf func(In) string) *Limit[In, Out] {
	return &Limit[In, Out]{
		table:       layer.NewTable(),
		inner:       inner,
		textOf:      textOf,
		autoRelease: layer.opts.AutoRelease,
	}
}

// Handle evaluates the request and, if admitted, calls the wrapped service.
//
// A rejection returns a *RejectedError and the wrapped service is not
// called. A failure of the wrapped service returns a *DownstreamError and
// no rule index; without AutoRelease the permit taken for that request is
// not returned until the window expires.
func (l *Limit[In, Out]) Handle(ctx context.Context, in In) (res Result[Out], err error) {
	d, permit := l.table.Admit(l.textOf(in))
	if !d.Allowed {
		return Result[Out]{Rule: NoRule, Decision: d}, l.table.rejection(d)
	}

	if l.autoRelease && permit != nil {
		defer func() {
			permit.Release()
			res.Released = true
		}()
	}

	out, err := l.inner.Handle(ctx, in)
	if err != nil {
		return Result[Out]{Rule: NoRule, Decision: d}, &DownstreamError{Err: err}
	}
	return Result[Out]{Rule: d.Rule, Output: out, Decision: d}, nil
}

// Release returns one permit to the rule at index. See Table.Release.
func (l *Limit[In, Out]) Release(index int) error {
	return l.table.Release(index)
}

// Table returns the table shared by this service and its clones.
func (l *Limit[In, Out]) Table() *Table {
	return l.table
}

// Clone returns a copy that shares the same rule table.
func (l *Limit[In, Out]) Clone() *Limit[In, Out] {
	c := *l
	return &c
}

// WithService returns a limited service wrapping inner that shares this
// service's rule table.
func (l *Limit[In, Out]) WithService(inner Service[In, Out]) *Limit[In, Out] {
	c := *l
	c.inner = inner
	return &c
}

// AutoRelease reports whether permits are returned when Handle finishes.
func (l *Limit[In, Out]) AutoRelease() bool {
	return l.autoRelease
}
