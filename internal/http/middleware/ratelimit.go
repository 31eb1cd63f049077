// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a process-local token-bucket rate limiter. The router
// mounts one instance per route group rather than globally, so the key
// function sees whatever identity the group has established by then.
//
// Features:
//   - Per-key buckets from golang.org/x/time/rate, created on first use
//   - Keys from KeyByPrincipalOrIP: "principal:<name>" after BearerAuth,
//     "ip:<addr>" for publishers, which carry no identity of their own
//   - A Retry-After header rounded up to whole seconds on 429
//   - Replays flagged by IdempotencyValidator skip the bucket entirely
//   - Idle buckets are swept every gcEvery calls to bound memory
//
// Notes:
//   - RATE_RPS <= 0 disables the limiter; Handler then only calls Next.
//   - Buckets live in one process. Several relay replicas each enforce their
//     own limit, which is acceptable for publisher abuse control but is not a
//     global quota.
//   - /health, /metrics and /swagger are mounted outside any limited group.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByPrincipalOrIP prefers the principal set by BearerAuth and falls back
// to the client IP. Keys are prefixed so the namespaces never collide.
func KeyByPrincipalOrIP() keyFunc {
	return func(c *gin.Context) string {
		if p := Principal(c); p != "" {
			return "principal:" + p
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use. Idle buckets are evicted every
// gcEvery lookups.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	gcEvery  uint64
	cleanupN uint64
	now      func() time.Time
}

// NewRateLimiter constructs a limiter refilling rps tokens per second with
// the given burst (coerced to at least 1). rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByPrincipalOrIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		gcEvery:  5000,
		now:      time.Now,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Eviction
// runs before the lookup so a stale bucket for key is replaced, not revived.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= rl.gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Rejected requests get 429 with a Retry-After
// header rounded up to whole seconds:
//
//	{"request_id": "<uuid>", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rps <= 0 || IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.getVisitor(rl.keyFn(c))
		res := lim.ReserveN(rl.now(), 1)
		delay := res.DelayFrom(rl.now())
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.Cancel()

		secs := int(math.Ceil(delay.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
