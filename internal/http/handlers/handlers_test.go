package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/genai"
	"github.com/vintaloop/go-listing-backend/internal/http/middleware"
	"github.com/vintaloop/go-listing-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSessions records calls and plays back scripted results.
type fakeSessions struct {
	saved       map[string][2]string
	identity    string
	authed      bool
	checkErr    error
	invalidated []string
}

func (f *fakeSessions) Save(_ context.Context, ownerID, cookie, userAgent string) error {
	if f.saved == nil {
		f.saved = make(map[string][2]string)
	}
	f.saved[ownerID] = [2]string{cookie, userAgent}
	return nil
}

func (f *fakeSessions) Check(context.Context, string) (string, bool, error) {
	return f.identity, f.authed, f.checkErr
}

func (f *fakeSessions) Invalidate(_ context.Context, ownerID string) error {
	f.invalidated = append(f.invalidated, ownerID)
	return nil
}

// fakeListings plays back scripted workflow results and records the publish
// arguments it was called with.
type fakeListings struct {
	prepareRes *services.PrepareResult
	prepareErr error
	publishOut *domain.Outcome
	publishErr error
	suggestion *genai.Suggestion
	suggestErr error

	gotToken  string
	gotKey    string
	gotDryRun bool
}

func (f *fakeListings) Prepare(context.Context, string, domain.DraftContext) (*services.PrepareResult, error) {
	return f.prepareRes, f.prepareErr
}

func (f *fakeListings) Publish(_ context.Context, _, token, key string, dryRun bool) (*domain.Outcome, error) {
	f.gotToken, f.gotKey, f.gotDryRun = token, key, dryRun
	return f.publishOut, f.publishErr
}

func (f *fakeListings) SuggestCopy(context.Context, string, domain.DraftContext) (*genai.Suggestion, error) {
	return f.suggestion, f.suggestErr
}

// newHandlerDB opens a throwaway sqlite database with the rule tables
// migrated.
func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.AutomationRule{}, &domain.AutomationRun{}, &domain.PublishedListing{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testRouter registers the API routes with the request id middleware and the
// idempotency validator, skipping the rest of the production stack.
func testRouter(t *testing.T, sessions SessionAPI, listings ListingAPI) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newHandlerDB(t)
	h := New(sessions, listings, db)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.PUT("/session", h.SaveSession)
	r.GET("/session", h.CheckSession)
	r.DELETE("/session", h.InvalidateSession)
	r.POST("/listings/prepare", h.PrepareListing)
	r.POST("/listings/publish", h.PublishListing)
	r.POST("/listings/suggest", h.SuggestCopy)
	r.GET("/listings", h.ListPublished)
	r.POST("/rules", h.CreateRule)
	r.GET("/rules", h.ListRules)
	r.GET("/rules/:id", h.GetRule)
	r.GET("/rules/:id/runs", h.ListRuleRuns)
	r.PATCH("/rules/:id", h.UpdateRule)
	r.DELETE("/rules/:id", h.DeleteRule)
	return r, db
}

// doJSON performs a request with an owner header and optional JSON body.
func doJSON(r *gin.Engine, method, path, owner, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set(middleware.HeaderOwnerID, owner)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
