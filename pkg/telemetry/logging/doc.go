// Package logging builds the gateway's structured logger.
//
// # Overview
//
// New returns a *slog.Logger configured from telemetry.logging:
//   - JSON, text, and console output formats
//   - Configurable minimum level (debug, info, warn, error)
//   - Request-scoped fields taken from the context (request_id, client)
//   - Redaction of attributes whose key names a credential
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "request admitted", "rule", 0)
//	// {"level":"INFO","msg":"request admitted","request_id":"req-123","rule":0}
//
// # Redaction
//
// Attributes named like password, token, secret or authorization are
// masked. Request lines are matched by admission rules with their query
// string intact, so RedactQuery masks credential-like query parameters
// before a request line is logged.
package logging
