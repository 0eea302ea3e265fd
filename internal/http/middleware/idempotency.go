package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey conveys the caller's idempotency key on publish
// requests. The key must be stable across retries of the same semantic
// operation so replays return the original outcome.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by
// IdempotencyValidator. Handlers should use this instead of reading the
// header directly.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored outcome already exists for this request's
// (owner, key) pair. Replays bypass the rate limiter: serving a stored record
// costs no browser action.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation. MaxLen <= 0 defaults to
// 200; a nil Pattern uses a conservative token charset.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a completed outcome exists for
// (ownerID, key). Lookup failures must not block processing; return an error
// only for diagnostics.
type IdempotencyLookup func(ctx context.Context, ownerID, key string) (bool, error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes the normalized key, and marks replays so the rate limiter can skip
// them. Requests without the header pass through untouched; the publish
// handler enforces key presence itself.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if exists, _ := lookup(c.Request.Context(), OwnerID(c), key); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}
