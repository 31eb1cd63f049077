// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication for the administrative
// endpoints (bot registry, delivery reports).
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxKeyPrincipal = "auth.principal"

// AdminPrincipal is the principal recorded for requests carrying the admin token.
const AdminPrincipal = "admin"

// BearerAuth requires "Authorization: Bearer <token>" matching token. The
// comparison is constant-time over the token hashes. An empty token rejects
// every request, so an unconfigured deployment never exposes the admin API.
func BearerAuth(token string) gin.HandlerFunc {
	want := sha256.Sum256([]byte(token))
	configured := token != ""

	return func(c *gin.Context) {
		got, found := bearer(c.GetHeader("Authorization"))
		if !configured || !found {
			deny(c)
			return
		}
		sum := sha256.Sum256([]byte(got))
		if subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
			deny(c)
			return
		}
		c.Set(ctxKeyPrincipal, AdminPrincipal)
		c.Next()
	}
}

// Principal returns the identity set by BearerAuth, or "".
func Principal(c *gin.Context) string {
	v, _ := c.Get(ctxKeyPrincipal)
	s, _ := v.(string)
	return s
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func deny(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="signal-relay"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    "missing or invalid bearer token",
	})
}
