package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_AllowsWithinBurstThen429(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2, KeyByOwnerOrIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderOwnerID, "u1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", codes[2])
	}
}

func TestRateLimiter_OwnersGetSeparateBuckets(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, KeyByOwnerOrIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, owner := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderOwnerID, owner)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("owner %s first request = %d, want 200", owner, w.Code)
		}
	}
}

func TestRateLimiter_ReplayBypasses(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, KeyByOwnerOrIP())
	r := gin.New()
	// Simulate the idempotency middleware having flagged a replay.
	r.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true) })
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderOwnerID, "u1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("replay %d = %d, want 200", i, w.Code)
		}
	}
}
