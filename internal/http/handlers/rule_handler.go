package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/http/middleware"
	"github.com/vintaloop/go-listing-backend/internal/repo"
	"github.com/vintaloop/go-listing-backend/internal/utils"
)

// CreateRuleRequest describes a new automation rule. Cooldown is a Go
// duration string ("2h", "30m"); zero means no per-target cooldown.
type CreateRuleRequest struct {
	Kind            string   `json:"kind" binding:"required,oneof=bump follow message"`
	TargetIDs       []string `json:"target_ids" binding:"required,min=1"`
	Strategy        string   `json:"strategy"`
	ScheduleWindow  string   `json:"schedule_window"`
	DailyCap        int      `json:"daily_cap" binding:"omitempty,min=1"`
	Cooldown        string   `json:"cooldown"`
	MessageTemplate string   `json:"message_template"`
}

// UpdateRuleRequest toggles a rule. A pointer distinguishes "absent" from
// "false".
type UpdateRuleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// clampLimit bounds the "limit" query parameter into [1, max].
func clampLimit(c *gin.Context, def, max int) int {
	n := utils.AtoiDefault(c.Query("limit"), def)
	if n < 1 {
		n = 1
	}
	if n > max {
		n = max
	}
	return n
}

// CreateRule registers an automation rule for the owner.
// POST /rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid rule payload")
		return
	}

	var cooldown time.Duration
	if strings.TrimSpace(req.Cooldown) != "" {
		d, err := time.ParseDuration(req.Cooldown)
		if err != nil || d < 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cooldown must be a non-negative duration string")
			return
		}
		cooldown = d
	}
	if req.Kind == domain.RuleMessage && strings.TrimSpace(req.MessageTemplate) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message rules require a message_template")
		return
	}

	rule := &domain.AutomationRule{
		OwnerID:         middleware.OwnerID(c),
		Kind:            req.Kind,
		TargetIDs:       req.TargetIDs,
		Strategy:        req.Strategy,
		ScheduleWindow:  req.ScheduleWindow,
		DailyCap:        req.DailyCap,
		Cooldown:        cooldown,
		MessageTemplate: req.MessageTemplate,
		Enabled:         true,
	}
	if rule.Strategy == "" {
		rule.Strategy = "oldest_first"
	}
	if rule.ScheduleWindow == "" {
		rule.ScheduleWindow = domain.WindowContinuous
	}
	if rule.DailyCap == 0 {
		rule.DailyCap = 10
	}

	created, err := repo.CreateRule(h.db, rule)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to create rule")
		return
	}
	ok(c, http.StatusCreated, created)
}

// ListRules returns the owner's rules.
// GET /rules
func (h *Handlers) ListRules(c *gin.Context) {
	rules, err := repo.ListRulesByOwner(h.db, middleware.OwnerID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list rules")
		return
	}
	ok(c, http.StatusOK, gin.H{"rules": rules})
}

// GetRule returns one rule. Rules belonging to other owners read as missing.
// GET /rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	rule, found := h.ownedRule(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, rule)
}

// ListRuleRuns returns the newest evaluation records for a rule.
// GET /rules/:id/runs
func (h *Handlers) ListRuleRuns(c *gin.Context) {
	rule, found := h.ownedRule(c)
	if !found {
		return
	}
	runs, err := repo.ListRunsForRule(h.db, rule.ID, clampLimit(c, 20, 100))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list runs")
		return
	}
	ok(c, http.StatusOK, gin.H{"runs": runs})
}

// UpdateRule enables or disables a rule.
// PATCH /rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	rule, found := h.ownedRule(c)
	if !found {
		return
	}
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled required")
		return
	}
	if err := repo.SetRuleEnabled(h.db, rule.ID, *req.Enabled); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to update rule")
		return
	}
	noContent(c)
}

// DeleteRule removes a rule permanently.
// DELETE /rules/:id
func (h *Handlers) DeleteRule(c *gin.Context) {
	rule, found := h.ownedRule(c)
	if !found {
		return
	}
	if err := repo.DeleteRule(h.db, rule.ID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to delete rule")
		return
	}
	noContent(c)
}

// ownedRule loads the :id rule and enforces ownership, writing the error
// response itself when the rule cannot be served.
func (h *Handlers) ownedRule(c *gin.Context) (*domain.AutomationRule, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return nil, false
	}
	rule, err := repo.GetRule(h.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "rule not found")
		} else {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load rule")
		}
		return nil, false
	}
	if rule.OwnerID != middleware.OwnerID(c) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "rule not found")
		return nil, false
	}
	return rule, true
}
