package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

const redacted = "***"

var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"auth", "authorization",
	"private_key", "privatekey",
}

// IsSensitiveKey reports whether a field or parameter name indicates a
// credential.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// RedactValue masks a sensitive value, keeping a short prefix for
// correlation.
func RedactValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return redacted
	}
	return v[:4] + redacted
}

// RedactQuery masks sensitive parameters in a raw query string. The
// parameter order is preserved; an unparseable query is returned whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	parts := strings.Split(rawQuery, "&")
	changed := false
	for i, part := range parts {
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key, err := url.QueryUnescape(name)
		if err != nil {
			return rawQuery
		}
		if IsSensitiveKey(key) && value != "" {
			parts[i] = name + "=" + redacted
			changed = true
		}
	}
	if !changed {
		return rawQuery
	}
	return strings.Join(parts, "&")
}

// RedactRequestURI masks sensitive query parameters in a request URI.
func RedactRequestURI(uri string) string {
	path, query, found := strings.Cut(uri, "?")
	if !found {
		return uri
	}
	return path + "?" + RedactQuery(query)
}

// redactAttr is the slog ReplaceAttr hook.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString && IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactValue(a.Value.String()))
	}
	return a
}
