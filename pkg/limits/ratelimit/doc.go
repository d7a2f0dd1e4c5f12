// Package ratelimit provides the permit counter used by limit rules.
//
// # Overview
//
// A Permits value is a bounded counting semaphore. It starts full, is drawn
// down with TryAcquire and refilled with Release. Acquisition never blocks:
// when the counter is empty the caller is told so immediately and decides
// what to do with the request.
//
//	p := ratelimit.NewPermits(3)
//	if p.TryAcquire() {
//	    defer p.Release()
//	    // Process request
//	} else {
//	    // Budget exhausted
//	}
//
// # Thread Safety
//
// Permits is lock-free. All operations use atomic compare-and-swap, so the
// counter can be read for metrics without holding the rule table lock.
package ratelimit
