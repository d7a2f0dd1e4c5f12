package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/limitgate/pkg/limits"
	"mercator-hq/limitgate/pkg/limits/stats"
	"mercator-hq/limitgate/pkg/telemetry/tracing"
)

// Match text sources.
const (
	MatchRequestLine = "request_line"
	MatchPath        = "path"
	MatchHeader      = "header"
)

// Exchange is the unit of work a gateway Limit admits: one request and the
// handler that would serve it.
type Exchange struct {
	Request *http.Request

	w    *responseWriter
	next http.Handler
}

// UpstreamError reports a response the gateway treats as a failure of the
// protected service.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.Status, http.StatusText(e.Status))
}

// Limiter is the admission-controlled form of the gateway's forward step.
type Limiter = limits.Limit[*Exchange, int]

// serveExchange forwards the exchange and classifies its status: 5xx
// responses count as downstream failures.
func serveExchange(ctx context.Context, ex *Exchange) (int, error) {
	ex.next.ServeHTTP(ex.w, ex.Request.WithContext(ctx))
	if ex.w.statusCode >= 500 {
		return ex.w.statusCode, &UpstreamError{Status: ex.w.statusCode}
	}
	return ex.w.statusCode, nil
}

// NewLimiter wraps the forward step with the layer's rules. Each call
// builds a separate rule table.
func NewLimiter(layer *limits.LimitLayer, matchOn, keyHeader string) (*Limiter, error) {
	textOf, err := MatchText(matchOn, keyHeader)
	if err != nil {
		return nil, err
	}
	return limits.WrapFunc(layer, limits.ServiceFunc[*Exchange, int](serveExchange), func(ex *Exchange) string {
		return textOf(ex.Request)
	}), nil
}

// MatchText returns the function deriving a request's match text.
func MatchText(matchOn, keyHeader string) (func(*http.Request) string, error) {
	switch matchOn {
	case MatchRequestLine, "":
		return func(r *http.Request) string {
			return r.Method + " " + r.URL.RequestURI()
		}, nil
	case MatchPath:
		return func(r *http.Request) string { return r.URL.Path }, nil
	case MatchHeader:
		if keyHeader == "" {
			return nil, errors.New("match_on header requires a key header")
		}
		return func(r *http.Request) string { return r.Header.Get(keyHeader) }, nil
	default:
		return nil, fmt.Errorf("unknown match source %q", matchOn)
	}
}

// LimitsOptions configures LimitsMiddleware.
type LimitsOptions struct {
	// RejectStatus is the status written for rejected requests. Default: 429.
	RejectStatus int

	// Stats receives one event per decision. Optional.
	Stats stats.Store

	// Logger. Default: slog.Default().
	Logger *slog.Logger
}

// LimitsMiddleware admits requests through the Limiter returned by current.
// current is called once per request so that a reloaded rule table takes
// effect for the next request; a nil Limiter forwards everything.
func LimitsMiddleware(current func() *Limiter, opts LimitsOptions) func(http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	statsWarn := rate.NewLimiter(rate.Every(30*time.Second), 1)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := current()
			if lim == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ex := &Exchange{Request: r, w: newResponseWriter(w), next: next}
			res, err := lim.Handle(ctx, ex)

			d := res.Decision
			table := lim.Table().Name()
			if info := GetRequestInfo(ctx); info != nil {
				info.Table = table
				info.Outcome = d.Outcome()
				info.Rule = d.Rule
			}
			tracing.RecordDecision(ctx, table, d)

			if opts.Stats != nil {
				ev := stats.NewEvent(table, d, r.Method, r.URL.Path, time.Now())
				if serr := opts.Stats.Record(ctx, ev); serr != nil && statsWarn.Allow() {
					opts.Logger.WarnContext(ctx, "failed to record admission stats", "error", serr)
				}
			}

			var rejected *limits.RejectedError
			var downstream *limits.DownstreamError
			switch {
			case errors.As(err, &rejected):
				writeRejection(ex.w, rejected, opts.RejectStatus)

			case errors.As(err, &downstream):
				if !res.Released && d.Rule != limits.NoRule {
					opts.Logger.WarnContext(ctx, "upstream failed, permit held until window resets",
						"table", table,
						"rule", d.Rule,
						"error", downstream.Err,
					)
				}

			case err != nil:
				opts.Logger.ErrorContext(ctx, "admission failed", "error", err)

			case !res.Released && res.Rule != limits.NoRule:
				if rerr := lim.Release(res.Rule); rerr != nil {
					opts.Logger.ErrorContext(ctx, "failed to release permit", "rule", res.Rule, "error", rerr)
				}
			}
		})
	}
}

func writeRejection(w http.ResponseWriter, rej *limits.RejectedError, status int) {
	rule := rej.Rule
	w.Header().Set("X-RateLimit-Rule", strconv.Itoa(rule))
	if rej.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(rej.RetryAfter.Seconds())), 10))
	}

	writeError(w, status, errorBody{
		Message: rej.Error(),
		Type:    "rate_limit_exceeded",
		Rule:    &rule,
	})
}
