// Package httpapi wires the Gin transport to the relay handlers and the
// cross-cutting middleware: tracing, correlation IDs, redacting access logs,
// panic recovery, metrics, idempotency, rate limiting, CORS, security headers
// and bearer auth on the administrative routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/signal-relay/internal/config"
	"github.com/tbourn/signal-relay/internal/http/handlers"
	"github.com/tbourn/signal-relay/internal/http/middleware"
)

// maxBodyBytes caps request bodies. Holding reports for large desks are the
// biggest payloads the publisher sends.
const maxBodyBytes = 4 << 20

// RegisterRoutes attaches middleware and endpoints to r. lookup lets the
// idempotency middleware consult the dedup gate; it may be nil.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: access logs with token and header scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. CORS and Security headers
//
// The rate limiter is mounted per group, after BearerAuth on the admin
// routes, so admin calls are bucketed per principal and everything else per
// client IP. /health, /metrics and /swagger are not limited.
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, lookup middleware.IdempotencyLookup, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Telegram-Bot-Api-Secret-Token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Publisher surface. Legacy paths are fixed by existing publishers.
	public := r.Group("", rl.Handler())
	for path, kind := range handlers.LegacyRoutes {
		public.POST(path, h.EventAlias(kind))
	}
	public.GET("/api/get_member_count", h.GetMemberCount)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.POST("/events/:kind", rl.Handler(), h.PostEvent)

	admin := api.Group("", middleware.BearerAuth(cfg.Telegram.AdminToken), rl.Handler(), middleware.NoStore())
	{
		admin.POST("/bots/register", h.RegisterBot)
		admin.POST("/bots/stop", h.StopBot)

		listing := admin.Group("", gzip.Gzip(gzip.DefaultCompression))
		listing.GET("/bots/list", h.ListBots)
		listing.GET("/events/reports", h.ListReports)
		listing.GET("/events/reports/totals", h.ReportTotals)
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the listed ones. Credentials are never allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}

// limitBody caps the request body at maxBytes; reads past it fail with
// *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
