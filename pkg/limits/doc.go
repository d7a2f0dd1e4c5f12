// Package limits provides pattern-matched admission control for request
// pipelines.
//
// # Overview
//
// A Table holds an ordered list of rules. Each rule pairs a regular
// expression with a permit budget and a fixed time window. For every request
// the table finds the first rule whose pattern matches the request text and
// asks it for a permit:
//
//   - No rule matches: the request is admitted and charged to nothing.
//   - The rule's window is not open: the window opens now and a permit is
//     taken if one is available.
//   - The window is open and still current: a permit is taken if available,
//     otherwise the request is rejected.
//   - The window has elapsed: the rule is reset to full capacity. Under
//     ExpiryFreePass the request is admitted without a rule index; under
//     ExpiryStrict a new window opens and the request is charged to it.
//
// Permits are never returned by the passage of time alone. Admitted requests
// hold their permit until Release is called with the rule index, or until
// the next window reset.
//
// # Usage
//
//	layer, err := limits.NewLayer([]limits.Rule{
//	    {Pattern: `^GET /reports`, Capacity: 3, Window: 50 * time.Second},
//	}, limits.Options{Name: "gateway"})
//	if err != nil {
//	    return err // *limits.ConfigError
//	}
//
//	svc := limits.Wrap(layer, limits.ServiceFunc[string, string](handle))
//
//	res, err := svc.Handle(ctx, "GET /reports/42")
//	switch {
//	case limits.IsRejected(err):
//	    // respond 429
//	case err != nil:
//	    // downstream failure
//	default:
//	    defer svc.Release(res.Rule)
//	}
//
// # Thread Safety
//
// A Table is safe for concurrent use. One mutex serializes the whole scan
// and decision for a request; the wrapped service always runs outside it.
package limits
