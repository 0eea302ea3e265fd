// Package middleware contains the Gin middleware shared by the operator API:
// correlation IDs, redacting access logs, panic recovery, Prometheus
// instrumentation, idempotency-key validation, rate limiting, and security
// headers.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vintaloop/go-listing-backend/internal/sysutil"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// HeaderOwnerID carries the acting owner's identity. Authentication is
	// the gateway's job; this service trusts the header it injects.
	HeaderOwnerID = "X-Owner-ID"
)

// RequestID reuses an incoming X-Request-ID or generates a UUID, stores it in
// the Gin context, and echoes it on the response. Install first so every
// later middleware and handler can correlate.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Recovery converts panics into a JSON 500 with the correlation ID, logging
// the stack trace. Install after the access logger so the panic request is
// still logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := c.GetString(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", rid).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// OwnerID returns the acting owner for the request: the X-Owner-ID header, or
// "demo-owner" when absent so local development works without a gateway.
func OwnerID(c *gin.Context) string {
	return sysutil.FirstNonEmpty(c.GetHeader(HeaderOwnerID), "demo-owner")
}

// LoggerFrom returns the request-scoped logger attached by RedactingLogger,
// or the global logger when none is present. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}
