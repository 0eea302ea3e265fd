package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func idemRouter(lookup IdempotencyLookup, probe func(c *gin.Context)) *gin.Engine {
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 40}, lookup))
	r.POST("/", func(c *gin.Context) {
		if probe != nil {
			probe(c)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestIdempotencyValidator_NoHeaderPassesThrough(t *testing.T) {
	var sawKey bool
	r := idemRouter(nil, func(c *gin.Context) { _, sawKey = GetIdempotencyKey(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if sawKey {
		t.Error("no key should be stashed without the header")
	}
}

func TestIdempotencyValidator_RejectsMalformedKey(t *testing.T) {
	r := idemRouter(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "bad key with spaces")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestIdempotencyValidator_RejectsOversizedKey(t *testing.T) {
	r := idemRouter(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	key := make([]byte, 41)
	for i := range key {
		key[i] = 'a'
	}
	req.Header.Set(HeaderIdempotencyKey, string(key))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestIdempotencyValidator_MarksReplay(t *testing.T) {
	lookup := func(_ context.Context, ownerID, key string) (bool, error) {
		return ownerID == "u1" && key == "pub-1", nil
	}
	var replay, bypass bool
	r := idemRouter(lookup, func(c *gin.Context) {
		replay = IsReplay(c)
		bypass = IsRateBypass(c)
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderOwnerID, "u1")
	req.Header.Set(HeaderIdempotencyKey, "pub-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if !replay || !bypass {
		t.Errorf("replay = %v bypass = %v, want both true", replay, bypass)
	}
}

func TestIdempotencyValidator_FreshKeyNotReplay(t *testing.T) {
	lookup := func(context.Context, string, string) (bool, error) { return false, nil }
	var replay bool
	r := idemRouter(lookup, func(c *gin.Context) { replay = IsReplay(c) })

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "pub-2")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if replay {
		t.Error("fresh key must not be marked as replay")
	}
}
