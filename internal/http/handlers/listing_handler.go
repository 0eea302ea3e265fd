package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/genai"
	"github.com/vintaloop/go-listing-backend/internal/http/middleware"
	"github.com/vintaloop/go-listing-backend/internal/lock"
	"github.com/vintaloop/go-listing-backend/internal/quota"
	"github.com/vintaloop/go-listing-backend/internal/repo"
	"github.com/vintaloop/go-listing-backend/internal/services"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// ListingAPI is the prepare/publish workflow consumed by HTTP handlers.
// Implemented by services.ListingService.
type ListingAPI interface {
	Prepare(ctx context.Context, ownerID string, draft domain.DraftContext) (*services.PrepareResult, error)
	Publish(ctx context.Context, ownerID, token, idempotencyKey string, dryRun bool) (*domain.Outcome, error)
	SuggestCopy(ctx context.Context, ownerID string, draft domain.DraftContext) (*genai.Suggestion, error)
}

// Handlers groups the operator API endpoints. Rule and listing reads go
// straight to the repo layer; everything touching a browser goes through the
// services.
type Handlers struct {
	sessions SessionAPI
	listings ListingAPI
	db       *gorm.DB
}

// New constructs a Handlers bound to the given collaborators.
func New(sessions SessionAPI, listings ListingAPI, db *gorm.DB) *Handlers {
	return &Handlers{sessions: sessions, listings: listings, db: db}
}

// PrepareRequest carries the draft snapshot to stage on the marketplace form.
type PrepareRequest struct {
	Draft domain.DraftContext `json:"draft" binding:"required"`
}

// PrepareResponse returns the sealed confirm token and the preview evidence
// captured after the form was filled. Nothing has been submitted yet.
type PrepareResponse struct {
	ConfirmToken string            `json:"confirm_token"`
	TokenID      string            `json:"token_id"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Preview      []byte            `json:"preview,omitempty"`
	FieldEcho    map[string]string `json:"field_echo,omitempty"`
	PageURL      string            `json:"page_url,omitempty"`
}

// PublishRequest redeems a confirm token. The Idempotency-Key header is
// mandatory. dry_run defaults to true; a publish only commits when the
// caller explicitly sends dry_run=false.
type PublishRequest struct {
	ConfirmToken string `json:"confirm_token" binding:"required"`
	DryRun       *bool  `json:"dry_run"`
}

// SuggestRequest carries the partial draft the suggester builds copy from.
type SuggestRequest struct {
	Draft domain.DraftContext `json:"draft" binding:"required"`
}

// PrepareListing stages a draft on the live form and mints a confirm token.
// POST /listings/prepare
func (h *Handlers) PrepareListing(c *gin.Context) {
	var req PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.listings.Prepare(c.Request.Context(), middleware.OwnerID(c), req.Draft)
	if err != nil {
		failListing(c, err)
		return
	}

	echo := make(map[string]string, len(res.FieldEcho))
	for f, v := range res.FieldEcho {
		echo[string(f)] = v
	}
	ok(c, http.StatusOK, PrepareResponse{
		ConfirmToken: res.Token,
		TokenID:      res.TokenID,
		ExpiresAt:    res.ExpiresAt,
		Preview:      res.Preview,
		FieldEcho:    echo,
		PageURL:      res.PageURL,
	})
}

// PublishListing redeems a confirm token and submits the staged listing.
// Replayed idempotency keys return the original outcome verbatim.
// POST /listings/publish
func (h *Handlers) PublishListing(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	outcome, err := h.listings.Publish(c.Request.Context(), middleware.OwnerID(c), req.ConfirmToken, key, dryRun)
	if err != nil {
		failListing(c, err)
		return
	}
	ok(c, http.StatusOK, outcome)
}

// SuggestCopy asks the generation service for listing copy based on the
// draft's facts. Charged against the AI quota.
// POST /listings/suggest
func (h *Handlers) SuggestCopy(c *gin.Context) {
	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	s, err := h.listings.SuggestCopy(c.Request.Context(), middleware.OwnerID(c), req.Draft)
	if err != nil {
		failListing(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// ListPublished returns the owner's published listings, newest first.
// GET /listings
func (h *Handlers) ListPublished(c *gin.Context) {
	limit := clampLimit(c, 50, 200)
	items, err := repo.ListPublishedByOwner(h.db, middleware.OwnerID(c), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list published listings")
		return
	}
	ok(c, http.StatusOK, gin.H{"listings": items})
}

// failListing maps the publish workflow error taxonomy onto HTTP. Statuses
// mirror the semantics: expired tokens are gone, consumed tokens and busy
// locks are conflicts, quota denials are 429.
func failListing(c *gin.Context, err error) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, services.ErrIdempotencyKeyRequired):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Idempotency-Key header required")
	case errors.Is(err, services.ErrTokenInvalid):
		fail(c, http.StatusBadRequest, ErrCodeTokenInvalid, "confirm token is not valid for this owner")
	case errors.Is(err, services.ErrTokenExpired):
		fail(c, http.StatusGone, ErrCodeTokenExpired, "confirm token expired; prepare again")
	case errors.Is(err, services.ErrTokenConsumed):
		fail(c, http.StatusConflict, ErrCodeTokenConsumed, "confirm token already redeemed")
	case errors.Is(err, vault.ErrUnauthenticated):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "no valid session; save a session first")
	case errors.Is(err, quota.ErrExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, "daily allowance exhausted")
	case errors.Is(err, lock.ErrBusy):
		fail(c, http.StatusConflict, ErrCodeBusy, "another operation for this owner is in progress")
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, verr.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
