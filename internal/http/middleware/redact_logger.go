package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions adds extra header names (case-insensitive) whose values are
// fully masked, merged with the built-in set (Authorization, Cookie,
// Set-Cookie, X-Session-Cookie).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger logs one structured line per request with sensitive values
// scrubbed: session cookies and confirm tokens must never reach the logs, so
// long hex blobs, UUIDs, emails, and phone numbers are replaced before
// emission. Bodies are never logged. The request-scoped logger is stashed in
// the context under "logger" for handlers to enrich.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	// Confirm tokens and session blobs are long hex strings.
	hexRE := regexp.MustCompile(`(?i)\b[0-9a-f]{32,}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	// Order matters: the looser phone pattern runs last so it cannot eat
	// pieces of UUIDs or hex blobs.
	redact := func(s string) string {
		if s == "" {
			return s
		}
		s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		s = hexRE.ReplaceAllString(s, "[REDACTED:token]")
		s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
		return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	}

	maskHeaders := map[string]struct{}{
		"authorization":    {},
		"cookie":           {},
		"set-cookie":       {},
		"x-session-cookie": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, masked := maskHeaders[strings.ToLower(k)]; masked {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		rid := c.GetString(requestIDKey)
		l := log.With().
			Str("request_id", rid).
			Str("owner_id", OwnerID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set("logger", &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		ev.
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
