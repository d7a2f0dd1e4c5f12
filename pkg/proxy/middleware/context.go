package middleware

import (
	"context"

	"mercator-hq/limitgate/pkg/limits"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// requestInfoKey stores the *RequestInfo of a request.
const requestInfoKey contextKey = "request_info"

// RequestInfo collects per-request facts for the logging middleware.
// Only the goroutine serving the request writes to it.
type RequestInfo struct {
	// Outcome is the admission outcome, empty when no table evaluated the
	// request.
	Outcome string

	// Rule is the rule index the request was charged to or rejected by.
	Rule int

	// Table is the name of the rule table.
	Table string
}

func withRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	info := &RequestInfo{Rule: limits.NoRule}
	return context.WithValue(ctx, requestInfoKey, info), info
}

// GetRequestInfo returns the request's info, or nil outside the logging
// middleware.
func GetRequestInfo(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey).(*RequestInfo)
	return info
}
