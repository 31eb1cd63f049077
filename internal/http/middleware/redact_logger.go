// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the relay's only access logger, and
// the Redact helper other packages use before logging upstream text.
//
// What gets scrubbed:
//   - Bot API tokens ("123456:AA...") anywhere in the path, query or headers;
//     register requests and Bot API errors are the usual carriers
//   - email addresses
//   - Authorization, Cookie and Set-Cookie, plus any header named in
//     RedactOptions.MaskHeaders (the router adds the Telegram webhook secret)
//
// Behaviour:
//   - Bodies are never logged; sizes are (bytes_in, bytes_out).
//   - Query strings are truncated to maxQueryLogLength after redaction.
//   - The level follows the outcome: info below 400, warn for 4xx, error for
//     5xx or when handlers attached errors to the context.
//   - A request-scoped logger (request_id, method, path, remote_ip) is stored
//     under the "logger" key for LoggerFrom, so handler logs correlate with
//     the access line.
//
// Usage:
//
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Telegram-Bot-Api-Secret-Token"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// maxQueryLogLength caps the logged query string, in bytes.
const maxQueryLogLength = 2048

var (
	botTokenRE = regexp.MustCompile(`\b\d{5,}:[A-Za-z0-9_-]{30,}\b`)
	emailRE    = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are fully replaced with "[REDACTED]", case-insensitive, in
	// addition to Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
}

// Redact scrubs bot tokens and email addresses from s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = botTokenRE.ReplaceAllString(s, "[REDACTED:token]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// RedactingLogger logs one line per request at info, warn (4xx) or error
// (5xx or gin errors) with route, scrubbed query and headers, status,
// sizes and latency.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", route).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &l)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := mask[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = Redact(strings.Join(vv, ", "))
		}
		query := Redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		}
		ev.
			Str("query", query).
			Str("principal", Principal(c)).
			Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// truncate caps s at max bytes with an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
