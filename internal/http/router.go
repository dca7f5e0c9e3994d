// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Machine callers (scheduler, gateways) authenticated before body parsing
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/confirmation"
	"github.com/risetaid/prima-sub012/internal/config"
	"github.com/risetaid/prima-sub012/internal/delivery"
	"github.com/risetaid/prima-sub012/internal/dispatch"
	"github.com/risetaid/prima-sub012/internal/http/handlers"
	"github.com/risetaid/prima-sub012/internal/http/middleware"
	"github.com/risetaid/prima-sub012/internal/idempotency"
	"github.com/risetaid/prima-sub012/internal/repo"
	"github.com/risetaid/prima-sub012/internal/schedule"
	"github.com/risetaid/prima-sub012/internal/verification"
	"github.com/risetaid/prima-sub012/internal/webhook"
)

// complianceTTL bounds staleness of the cached per-patient statistics when an
// invalidation is lost (crash between commit and cache write).
const complianceTTL = 15 * time.Minute

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and
// rate limiting, CORS and security headers, health and metrics endpoints, and
// then mounts the trigger, webhook, and staff API routes.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per IP / per gateway, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, sender *delivery.FallbackProvider, fence idempotency.Store, rdb *redis.Client, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (every inbound payload carries a
	// patient phone number)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; gateway callbacks are small)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, idempotency.Key("api", scope, key), now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderWebhookToken, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
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
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderWebhookToken, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
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

	// Dependency injection: services ← repo/db/gateways
	compliance := cache.NewCompliance(rdb, complianceTTL)
	consent := verification.NewStateMachine(db, sender, compliance)
	confirm := confirmation.NewMatcher(db, sender, compliance, time.Duration(cfg.ConfirmLookbackHrs)*time.Hour)
	manual := confirmation.NewManualService(db, compliance)
	dispatcher := &dispatch.Dispatcher{
		DB:          db,
		Matcher:     schedule.NewMatcher(cfg.TZOffsetHours, cfg.DueWindowMinutes),
		Consent:     consent,
		Sender:      sender,
		Compliance:  compliance,
		Workers:     cfg.Workers(),
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.JobBackoffBase,
		SendTimeout: cfg.GatewayTimeout,
	}
	ingest := &webhook.Ingestor{
		DB:         db,
		Fence:      fence,
		FenceTTL:   cfg.IdempotencyTTL,
		Consent:    consent,
		Confirm:    confirm,
		Compliance: compliance,
	}

	h := handlers.New(
		db, dispatcher, consent, manual, ingest, compliance,
		time.Duration(cfg.VerifyExpiryHours)*time.Hour,
		time.Duration(cfg.DeadLetterRetentionDays)*24*time.Hour,
		cfg.IdempotencyTTL,
		cfg.JobStaleAfter,
		cfg.JobMaxAttempts,
	)

	// Periodic trigger (external scheduler, shared secret)
	r.POST("/cron", middleware.SharedSecret(cfg.CronSecret), h.RunCron)

	// Gateway webhooks (shared secret, per-gateway rate buckets: one
	// misbehaving gateway must not exhaust the budget of the other)
	hookRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByProviderOrIP())
	hooks := r.Group("/webhooks/:provider", middleware.SharedSecret(cfg.WebhookSecret), hookRL.Handler())
	{
		hooks.POST("/message-status", h.MessageStatus)
		hooks.POST("/incoming", h.IncomingMessage)
	}

	// Staff API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		// Reminders
		api.POST("/reminders/:id/confirmation", h.RecordConfirmation)

		// Patients
		api.POST("/patients/:id/verification", h.SendVerification)
		api.POST("/patients/:id/reactivate", h.ReactivatePatient)
		api.GET("/patients/:id/compliance", h.ComplianceStats)

		// Dispatch introspection
		api.GET("/dispatch/dead-letters", h.ListDeadLetters)
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
