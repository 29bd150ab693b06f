// Package httpapi wires the HTTP transport (Gin) to the streak engine,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// @title       Streak Engine API
// @version     1.0
// @description Per-user engagement streaks: claims, shields, pauses and recoveries.
// @BasePath    /api/v1
package httpapi

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/docs"
	"github.com/tbourn/go-streak-engine/internal/config"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/http/handlers"
	"github.com/tbourn/go-streak-engine/internal/http/middleware"
	"github.com/tbourn/go-streak-engine/internal/jobs"
	"github.com/tbourn/go-streak-engine/internal/repo"
	"github.com/tbourn/go-streak-engine/internal/services"
)

// idempotencyShim adapts the repository free functions to
// handlers.IdempotencyStore.
type idempotencyShim struct {
	db  *gorm.DB
	ttl time.Duration
}

// Remember proxies repo.CreateIdempotency.
func (s idempotencyShim) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	return err
}

// lookup proxies repo.GetIdempotency.
func (s idempotencyShim) lookup(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
}

var corsHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderUserID, middleware.HeaderTimezone,
	middleware.HeaderIdempotencyKey, "If-None-Match",
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. runner may be nil; the internal job route is mounted only when a
// runner and a cron secret are both present.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: caller id for logs and rate-limit keys
//  4. Logger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter and gzip
//  7. Metrics
//  8. Idempotency validator on claim submission (before the rate limiter
//     so a replay can bypass it)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc *services.StreakService, runner *jobs.Runner, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.Logger(middleware.LogOptions{
		Redact:    middleware.RedactOptions{MaskHeaders: []string{handlers.HeaderCronSecret}},
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())

	// Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	idem := idempotencyShim{db: db, ttl: cfg.IdempotencyTTL}
	claimsPath := path.Join(apiBase, "/streak/claims")
	validate := middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: handlers.ClaimScope}, idem.lookup)
	r.Use(func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.FullPath() == claimsPath {
			validate(c)
			return
		}
		c.Next()
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotent-Replay", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotent-Replay", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		CacheControl: "private, no-cache",
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc, svc, idem)
	if runner != nil && cfg.Jobs.CronSecret != "" {
		h.WithJobs(runner, cfg.Jobs.CronSecret)
		r.POST("/internal/jobs/:name", h.RunJob)
	}

	api := groupWithPrefix(r, apiBase)
	{
		api.GET("/streak", h.GetStreak)
		api.GET("/streak/can-claim", h.CanClaim)
		api.POST("/streak/claims", h.PostClaim)
		api.GET("/streak/claims", h.ListClaims)
		api.POST("/streak/freezes", h.ActivateFreeze)
		api.POST("/streak/pause", h.PauseStreak)
		api.POST("/streak/resume", h.ResumeStreak)

		api.POST("/recoveries", h.StartRecovery)
		api.GET("/recoveries/current", h.CurrentRecovery)
		api.POST("/recoveries/:id/actions", h.RecordAction)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
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
