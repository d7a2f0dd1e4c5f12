package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/limitgate/pkg/telemetry/logging"
	"mercator-hq/limitgate/pkg/telemetry/metrics"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush lets streamed upstream responses through.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		if !rw.written {
			rw.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs one line per request and records request metrics.
// rm may be nil.
//
// Log format (JSON):
//
//	{
//	  "level": "INFO",
//	  "msg": "request completed",
//	  "method": "GET",
//	  "uri": "/reports?token=***",
//	  "status": 200,
//	  "latency_ms": 12,
//	  "outcome": "allowed",
//	  "rule": 0,
//	  "request_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "client": "192.168.1.100:54321"
//	}
//
// Rejections log at warn, 5xx responses at error.
func LoggingMiddleware(logger *slog.Logger, rm *metrics.RequestMetrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if rm != nil {
				defer rm.Start()()
			}

			ctx := logging.WithClient(r.Context(), r.RemoteAddr)
			ctx, info := withRequestInfo(ctx)
			rw := newResponseWriter(w)

			uri := logging.RedactRequestURI(r.URL.RequestURI())
			logger.DebugContext(ctx, "request started", "method", r.Method, "uri", uri)

			next.ServeHTTP(rw, r.WithContext(ctx))

			latency := time.Since(start)
			if rm != nil {
				rm.RecordRequest(r.Method, rw.statusCode, info.Outcome, latency)
			}

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = slog.LevelError
			case info.Outcome == "rejected" || rw.statusCode >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"uri", uri,
				"status", rw.statusCode,
				"latency_ms", latency.Milliseconds(),
				"user_agent", r.UserAgent(),
			}
			if info.Outcome != "" {
				attrs = append(attrs, "table", info.Table, "outcome", info.Outcome, "rule", info.Rule)
			}
			logger.Log(ctx, level, "request completed", attrs...)
		})
	}
}
