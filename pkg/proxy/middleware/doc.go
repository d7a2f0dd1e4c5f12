// Package middleware provides the HTTP middleware of the limitgate gateway.
//
// # Middleware Chain
//
// The server assembles the chain outermost first:
//
//	handler = Recovery(Tracing(Logging(RequestID(Limits(proxy)))))
//
//  1. Recovery: converts panics to a 500 JSON error
//  2. Tracing: opens the server span, sets X-Trace-ID when sampled
//  3. Logging: logs one line per request and records HTTP metrics
//  4. RequestID: reads or generates X-Request-ID
//  5. Limits: admission control; rejected requests never reach the proxy
//
// # Request ID
//
// RequestIDMiddleware keeps a client supplied X-Request-ID and otherwise
// generates a UUID v4:
//
//	X-Request-ID: 550e8400-e29b-41d4-a716-446655440000
//
// # Admission
//
// Limits derives a match text from each request (the request line
// "GET /reports?id=7" by default) and runs the request through a
// limits.Limit. A rejected request gets the configured status, 429 by
// default, with Retry-After and X-RateLimit-Rule headers and a JSON body:
//
//	{"error":{"message":"limit rejected: rule 0 (^GET /reports) exhausted, retry after 41.5s","type":"rate_limit_exceeded","rule":0}}
//
// Admitted requests return their permit when the upstream answers with a
// status below 500. An upstream failure keeps the permit until the rule's
// window resets, unless the table was built with AutoRelease. The decision
// is also recorded on the request span.
//
// # Request Info
//
// Logging places a *RequestInfo in the context. Inner middleware fill it in
// so that the completion log line and the request metrics carry the
// admission outcome and rule index.
package middleware
