// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders and NoStore. The relay answers JSON to
// publishers and operators and optionally serves the Swagger UI, so the
// header set targets API clients rather than browsers rendering pages.
//
// Headers set on every response:
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Referrer-Policy: no-referrer
//   - Permissions-Policy and X-Permitted-Cross-Domain-Policies: none, when
//     EnablePolicy is set
//   - Strict-Transport-Security, only when EnableHSTS is set and the request
//     arrived over TLS or with X-Forwarded-Proto: https
//
// Notes:
//   - No Content-Security-Policy here; the Swagger UI ships inline scripts.
//   - NoStore is mounted on the authenticated groups so bot listings and
//     delivery failures are never cached by intermediaries.
//   - X-Request-ID is appended to Access-Control-Expose-Headers so browser
//     clients can report it.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	EnablePolicy bool          // Permissions-Policy and cross-domain policy
}

// SecurityHeaders sets nosniff, frame denial and no-referrer on every
// response, the feature policies when enabled, HSTS on HTTPS requests when
// enabled, and exposes X-Request-ID to browser clients.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			const hdr = "Access-Control-Expose-Headers"
			switch cur := h.Get(hdr); {
			case cur == "":
				h.Set(hdr, requestIDHeader)
			case !strings.Contains(cur, requestIDHeader):
				h.Set(hdr, cur+", "+requestIDHeader)
			}
		}
		c.Next()
	}
}

// NoStore marks responses as uncacheable. Mounted on the authenticated
// groups, whose bodies carry bot identities and delivery failures.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		c.Next()
	}
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
