// Package httpapi wires the operator API: Gin transport over the session,
// listing, and automation-rule services, with the cross-cutting middleware
// stack (tracing, correlation IDs, redacting logs, recovery, metrics,
// idempotency, rate limiting, CORS, security headers).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/config"
	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/http/handlers"
	"github.com/vintaloop/go-listing-backend/internal/http/middleware"
	"github.com/vintaloop/go-listing-backend/internal/kv"
)

// Deps carries everything the router needs. Sessions and Listings are the
// service implementations; Store backs the idempotency replay probe.
type Deps struct {
	DB       *gorm.DB
	Store    kv.Store
	Sessions handlers.SessionAPI
	Listings handlers.ListingAPI
}

// RegisterRoutes attaches the middleware stack and all endpoints to the Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs, cookies and tokens scrubbed
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter so replays bypass it)
//  8. Rate limiter per owner/IP
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, ownerID, key string) (bool, error) {
			var prior domain.Outcome
			return kv.GetJSON(ctx, deps.Store, "idem:"+ownerID+":"+key, &prior)
		},
	))

	rl := middleware.NewRateLimiter(cfg.HTTP.RateRPS, cfg.HTTP.RateBurst, middleware.KeyByOwnerOrIP())
	r.Use(rl.Handler())

	if len(cfg.HTTP.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderOwnerID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.HTTP.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderOwnerID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.HTTP.EnableHSTS,
		HSTSMaxAge:   cfg.HTTP.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Sessions, deps.Listings, deps.DB)

	api := groupWithPrefix(r, cfg.HTTP.BasePath)
	{
		// Session lifecycle
		api.PUT("/session", h.SaveSession)
		api.GET("/session", h.CheckSession)
		api.DELETE("/session", h.InvalidateSession)

		// Prepare/publish workflow
		api.POST("/listings/prepare", h.PrepareListing)
		api.POST("/listings/publish", h.PublishListing)
		api.POST("/listings/suggest", h.SuggestCopy)
		api.GET("/listings", h.ListPublished)

		// Automation rules
		api.POST("/rules", h.CreateRule)
		api.GET("/rules", h.ListRules)
		api.GET("/rules/:id", h.GetRule)
		api.GET("/rules/:id/runs", h.ListRuleRuns)
		api.PATCH("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeleteRule)
	}
}

// limitBody caps request body size via http.MaxBytesReader; oversized bodies
// error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
