package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vintaloop/go-listing-backend/internal/http/middleware"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// SessionAPI is the session lifecycle consumed by HTTP handlers. Implemented
// by services.SessionService.
type SessionAPI interface {
	Save(ctx context.Context, ownerID, cookie, userAgent string) error
	Check(ctx context.Context, ownerID string) (identity string, ok bool, err error)
	Invalidate(ctx context.Context, ownerID string) error
}

// SaveSessionRequest carries the freshly captured browser session. The cookie
// value is encrypted at rest and never logged.
type SaveSessionRequest struct {
	Cookie    string `json:"cookie" binding:"required"`
	UserAgent string `json:"user_agent" binding:"required"`
}

// CheckSessionResponse reports whether the saved session still signs in, and
// under which marketplace identity.
type CheckSessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
}

// SaveSession replaces the owner's stored session.
// PUT /session
func (h *Handlers) SaveSession(c *gin.Context) {
	var req SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cookie and user_agent required")
		return
	}
	if strings.TrimSpace(req.Cookie) == "" || strings.TrimSpace(req.UserAgent) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cookie and user_agent must not be blank")
		return
	}

	if err := h.sessions.Save(c.Request.Context(), middleware.OwnerID(c), req.Cookie, req.UserAgent); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to save session")
		return
	}
	noContent(c)
}

// CheckSession verifies the stored session against the live marketplace. A
// dead session is invalidated server-side and reported as unauthenticated.
// GET /session
func (h *Handlers) CheckSession(c *gin.Context) {
	identity, authenticated, err := h.sessions.Check(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		if errors.Is(err, vault.ErrUnauthenticated) {
			ok(c, http.StatusOK, CheckSessionResponse{Authenticated: false})
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "session check failed")
		return
	}
	ok(c, http.StatusOK, CheckSessionResponse{Authenticated: authenticated, Identity: identity})
}

// InvalidateSession drops the stored session.
// DELETE /session
func (h *Handlers) InvalidateSession(c *gin.Context) {
	if err := h.sessions.Invalidate(c.Request.Context(), middleware.OwnerID(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to invalidate session")
		return
	}
	noContent(c)
}
